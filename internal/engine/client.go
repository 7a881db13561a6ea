// Package engine talks to the token sidechain node: block info for the
// sidechain indexer and contract table lookups for token configuration.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/enginemind/pkg/config"
	"github.com/steemit/enginemind/pkg/logging"
	"github.com/steemit/enginemind/pkg/retry"
	"github.com/steemit/enginemind/pkg/telemetry"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Client wraps the sidechain node's blockchain and contracts endpoints
type Client struct {
	blockchainURL string
	contractsURL  string
	http          *http.Client
	retry         retry.Policy
	logger        *zap.Logger
}

// New creates a new sidechain client
func New(cfg *config.EngineConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("engine_url is required")
	}

	logger := logging.GetLogger().With(zap.String("component", "engine-client"))

	base := strings.TrimRight(cfg.URL, "/")
	client := &Client{
		blockchainURL: base + "/blockchain",
		contractsURL:  base + "/contracts",
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry:  retry.Policy{MaxAttempts: 5, Backoff: time.Second},
		logger: logger,
	}

	logger.Info("Engine client initialized", zap.String("url", cfg.URL))

	return client, nil
}

func (c *Client) call(ctx context.Context, url, method string, params interface{}) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("RPC request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("RPC request returned status %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read RPC response: %w", err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal RPC response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	return resp.Result, nil
}

// GetLatestBlockInfo fetches the sidechain head block
func (c *Client) GetLatestBlockInfo(ctx context.Context) (*Block, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.get_latest_block_info")
	defer span.End()

	result, err := c.call(ctx, c.blockchainURL, "getLatestBlockInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block info: %w", err)
	}

	var block Block
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block info: %w", err)
	}

	return &block, nil
}

// GetBlockInfo fetches one sidechain block. A nil block means the height
// has not been produced yet.
func (c *Client) GetBlockInfo(ctx context.Context, num int64) (*Block, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.get_block_info")
	defer span.End()

	result, err := c.call(ctx, c.blockchainURL, "getBlockInfo", map[string]interface{}{
		"blockNumber": num,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get block info %d: %w", num, err)
	}
	if string(result) == "null" || len(result) == 0 {
		return nil, nil
	}

	var block Block
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block info: %w", err)
	}

	return &block, nil
}

// GetBlockRangeInfo fetches count blocks starting at start. Transient node
// failures are retried; an exhausted budget degrades to an empty slice so
// bulk sync can fall back to single block fetches.
func (c *Client) GetBlockRangeInfo(ctx context.Context, start int64, count int) ([]*Block, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.get_block_range_info")
	defer span.End()

	var blocks []*Block
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		result, err := c.call(ctx, c.blockchainURL, "getBlockRangeInfo", map[string]interface{}{
			"startBlockNumber": start,
			"count":            count,
		})
		if err != nil {
			return err
		}
		blocks = blocks[:0]
		return json.Unmarshal(result, &blocks)
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			c.logger.Warn("Block range fetch exhausted, falling back",
				zap.Int64("start", start),
				zap.Int("count", count),
				zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get block range %d+%d: %w", start, count, err)
	}

	return blocks, nil
}

// Find queries a contract table for a page of rows
func (c *Client) Find(ctx context.Context, contract, table string, query map[string]interface{}, limit, offset int) (json.RawMessage, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.find")
	defer span.End()

	result, err := c.call(ctx, c.contractsURL, "find", map[string]interface{}{
		"contract": contract,
		"table":    table,
		"query":    query,
		"limit":    limit,
		"offset":   offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s.%s: %w", contract, table, err)
	}
	if string(result) == "null" {
		return nil, nil
	}

	return result, nil
}

// FindOne queries a contract table for a single row
func (c *Client) FindOne(ctx context.Context, contract, table string, query map[string]interface{}) (json.RawMessage, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.find_one")
	defer span.End()

	result, err := c.call(ctx, c.contractsURL, "findOne", map[string]interface{}{
		"contract": contract,
		"table":    table,
		"query":    query,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s.%s: %w", contract, table, err)
	}
	if string(result) == "null" {
		return nil, nil
	}

	return result, nil
}

// RewardPool is the comments contract's per-token pool row
type RewardPool struct {
	ID     int64  `json:"_id"`
	Symbol string `json:"symbol"`
}

// FindOneRewardPool resolves the reward pool tracking a token symbol, or
// nil when the comments contract has no pool for it.
func (c *Client) FindOneRewardPool(ctx context.Context, symbol string) (*RewardPool, error) {
	result, err := c.FindOne(ctx, "comments", "rewardPools", map[string]interface{}{
		"symbol": symbol,
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	var pool RewardPool
	if err := json.Unmarshal(result, &pool); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reward pool: %w", err)
	}

	return &pool, nil
}
