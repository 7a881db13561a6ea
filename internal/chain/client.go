// Package chain talks to the primary chain node: block ranges for the
// indexer, content lookups for the edit reconciler, and the follow graph
// for lazy refresh.
package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/steemit/enginemind/pkg/config"
	"github.com/steemit/enginemind/pkg/logging"
	"github.com/steemit/enginemind/pkg/telemetry"
)

// Client wraps the primary chain RPC client
type Client struct {
	rpc      *RPCClient
	maxBatch int
	logger   *zap.Logger
}

// New creates a new chain client
func New(cfg *config.ChainConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("chain_url is required")
	}

	logger := logging.GetLogger().With(zap.String("component", "chain-client"))

	client := &Client{
		rpc:      NewRPCClient(cfg.URL, logger),
		maxBatch: cfg.MaxBatch,
		logger:   logger,
	}

	logger.Info("Chain client initialized", zap.String("url", cfg.URL))

	return client, nil
}

// GetBlock fetches a single block by number. A nil block means the node has
// not produced that height yet.
func (c *Client) GetBlock(ctx context.Context, num int64) (*Block, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.get_block")
	defer span.End()

	result, err := c.rpc.Call(ctx, "block_api", "get_block", []interface{}{
		map[string]interface{}{
			"block_num": num,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", num, err)
	}

	var response struct {
		Block *Block `json:"block"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block response: %w", err)
	}

	return response.Block, nil
}

// GetBlocksRange fetches blocks [from, to] with one batch request.
// Heights past the node's head come back as nil entries.
func (c *Client) GetBlocksRange(ctx context.Context, from, to int64) ([]*Block, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.get_blocks_range")
	defer span.End()

	if to < from {
		return nil, fmt.Errorf("invalid range: to (%d) < from (%d)", to, from)
	}

	count := to - from + 1
	if count > int64(c.maxBatch) {
		return nil, fmt.Errorf("range too large: %d blocks (max: %d)", count, c.maxBatch)
	}

	requests := make([]RPCRequest, 0, count)
	for i := from; i <= to; i++ {
		requests = append(requests, RPCRequest{
			JSONRPC: "2.0",
			ID:      int(i - from + 1),
			Method:  "block_api.get_block",
			Params: []interface{}{
				map[string]interface{}{
					"block_num": i,
				},
			},
		})
	}

	responses, err := c.rpc.CallBatch(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("failed to get blocks range %d-%d: %w", from, to, err)
	}

	blocks := make([]*Block, 0, len(responses))
	for _, resp := range responses {
		if resp.Error != nil {
			return nil, fmt.Errorf("RPC error in batch: %s", resp.Error.Message)
		}

		var blockResp struct {
			Block *Block `json:"block"`
		}
		if err := json.Unmarshal(resp.Result, &blockResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block: %w", err)
		}

		blocks = append(blocks, blockResp.Block)
	}

	return blocks, nil
}

// GetDynamicGlobalProperties fetches dynamic global properties
func (c *Client) GetDynamicGlobalProperties(ctx context.Context) (map[string]interface{}, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.get_dynamic_global_properties")
	defer span.End()

	result, err := c.rpc.Call(ctx, "database_api", "get_dynamic_global_properties", []interface{}{})
	if err != nil {
		return nil, fmt.Errorf("failed to get dynamic global properties: %w", err)
	}

	var props map[string]interface{}
	if err := json.Unmarshal(result, &props); err != nil {
		return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
	}

	return props, nil
}

// HeadBlock returns the current head block number
func (c *Client) HeadBlock(ctx context.Context) (int64, error) {
	props, err := c.GetDynamicGlobalProperties(ctx)
	if err != nil {
		return 0, err
	}

	headBlockNum, ok := props["head_block_number"]
	if !ok {
		return 0, fmt.Errorf("head_block_number not found in properties")
	}

	switch v := headBlockNum.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected type for head_block_number: %T", v)
	}
}

// GetContent fetches a post's current state via condenser_api.
// A content with an empty author means the node does not know the post.
func (c *Client) GetContent(ctx context.Context, author, permlink string) (*Content, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.get_content")
	defer span.End()

	result, err := c.rpc.Call(ctx, "condenser_api", "get_content", []interface{}{author, permlink})
	if err != nil {
		return nil, fmt.Errorf("failed to get content: %w", err)
	}

	var content Content
	if err := json.Unmarshal(result, &content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content: %w", err)
	}

	return &content, nil
}

// GetContentAlt fetches a post's current state via database_api. The
// reconciler alternates this with GetContent so one misbehaving API does
// not burn the whole fetch budget.
func (c *Client) GetContentAlt(ctx context.Context, author, permlink string) (*Content, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.find_comments")
	defer span.End()

	result, err := c.rpc.Call(ctx, "database_api", "find_comments", map[string]interface{}{
		"comments": [][]string{{author, permlink}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find comment: %w", err)
	}

	var response struct {
		Comments []Content `json:"comments"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal comments: %w", err)
	}
	if len(response.Comments) == 0 {
		return &Content{}, nil
	}

	return &response.Comments[0], nil
}

// GetContentReplies fetches the direct replies to a post
func (c *Client) GetContentReplies(ctx context.Context, author, permlink string) ([]Content, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.get_content_replies")
	defer span.End()

	result, err := c.rpc.Call(ctx, "condenser_api", "get_content_replies", []interface{}{author, permlink})
	if err != nil {
		return nil, fmt.Errorf("failed to get content replies: %w", err)
	}

	var replies []Content
	if err := json.Unmarshal(result, &replies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content replies: %w", err)
	}

	return replies, nil
}

// GetFollowing fetches the full set of accounts someone follows with the
// blog relation, paging through the node API.
func (c *Client) GetFollowing(ctx context.Context, account string) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.get_following")
	defer span.End()

	const pageSize = 1000

	var following []string
	start := ""
	for {
		result, err := c.rpc.Call(ctx, "condenser_api", "get_following",
			[]interface{}{account, start, "blog", pageSize})
		if err != nil {
			return nil, fmt.Errorf("failed to get following for %s: %w", account, err)
		}

		var page []struct {
			Following string `json:"following"`
		}
		if err := json.Unmarshal(result, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal following: %w", err)
		}

		for _, entry := range page {
			if entry.Following == start {
				continue
			}
			following = append(following, entry.Following)
		}

		if len(page) < pageSize {
			break
		}
		start = page[len(page)-1].Following
	}

	return following, nil
}
