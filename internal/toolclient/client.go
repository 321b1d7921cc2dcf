// Package toolclient implements the client half of spec.md §6's
// "JSON-RPC-like" tool protocol: each tool server exposes list_tools and
// call_tool(name, args), responding with {content, is_error?}.
//
// Grounded on agents_v2/mcp.go's stdioMCP request/response envelope
// (rpcReq/rpcResp/rpcError shapes, sequence-numbered IDs) and
// mcp/server.go's ToolDesc schema shape, carried over from stdio framing
// to a plain HTTP POST since C1-resolved endpoints in this spec are
// network services, not subprocesses (see DESIGN.md's note on the
// dropped mcp/ package).
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Result  map[string]any `json:"result,omitempty"`
	Error   *rpcError      `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Descriptor mirrors a tool's schema as reported by list_tools.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// CallResult is call_tool's response envelope from spec.md §6.
type CallResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Client talks the tool protocol to one resolved endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	seq        int64
}

// New constructs a Client bound to a single resolved endpoint (the caller
// re-resolves through internal/registry on each stage entry, per spec.md
// §9's "no sticky session").
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{endpoint: endpoint, httpClient: &http.Client{Timeout: timeout}}
}

// ListTools calls the endpoint's list_tools method.
func (c *Client) ListTools(ctx context.Context) ([]Descriptor, error) {
	res, err := c.send(ctx, "list_tools", nil)
	if err != nil {
		return nil, err
	}
	raw, ok := res["tools"]
	if !ok {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal tools field: %w", err)
	}
	var tools []Descriptor
	if err := json.Unmarshal(b, &tools); err != nil {
		return nil, fmt.Errorf("unmarshal tools field: %w", err)
	}
	return tools, nil
}

// CallTool invokes name with args on the endpoint's call_tool method.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	res, err := c.send(ctx, "call_tool", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return CallResult{}, err
	}
	var out CallResult
	b, err := json.Marshal(res)
	if err != nil {
		return CallResult{}, fmt.Errorf("marshal call_tool result: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return CallResult{}, fmt.Errorf("unmarshal call_tool result: %w", err)
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	id := atomic.AddInt64(&c.seq, 1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
