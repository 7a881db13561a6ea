package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RPCRequest is a single JSON-RPC 2.0 request
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// RPCError is a JSON-RPC 2.0 error object
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RPCResponse is a single JSON-RPC 2.0 response
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCClient posts JSON-RPC requests to a node endpoint
type RPCClient struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// NewRPCClient creates a new RPC client
func NewRPCClient(url string, logger *zap.Logger) *RPCClient {
	return &RPCClient{
		url: url,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Call performs a single api.method call and returns the raw result
func (c *RPCClient) Call(ctx context.Context, api, method string, params interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  fmt.Sprintf("%s.%s", api, method),
		Params:  params,
	}

	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp RPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal RPC response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	return resp.Result, nil
}

// CallBatch performs a batch of requests and returns responses in request order
func (c *RPCClient) CallBatch(ctx context.Context, requests []RPCRequest) ([]RPCResponse, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	body, err := c.post(ctx, requests)
	if err != nil {
		return nil, err
	}

	var responses []RPCResponse
	if err := json.Unmarshal(body, &responses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch response: %w", err)
	}
	if len(responses) != len(requests) {
		return nil, fmt.Errorf("batch size mismatch: sent %d, got %d", len(requests), len(responses))
	}

	// Nodes may reorder batch responses; restore request order by id.
	byID := make(map[int]RPCResponse, len(responses))
	for _, resp := range responses {
		byID[resp.ID] = resp
	}
	ordered := make([]RPCResponse, 0, len(requests))
	for _, req := range requests {
		resp, ok := byID[req.ID]
		if !ok {
			return nil, fmt.Errorf("batch response missing id %d", req.ID)
		}
		ordered = append(ordered, resp)
	}

	return ordered, nil
}

func (c *RPCClient) post(ctx context.Context, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
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

	return body, nil
}
