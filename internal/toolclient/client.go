// Package toolclient calls tools on the tool server over MCP JSON-RPC 2.0.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/credbroker/broker/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ExecutionError covers every way a tool call can fail: transport, timeout,
// non-2xx status, JSON-RPC error or an isError result.
type ExecutionError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Result is a successful tools/call result.
type Result struct {
	models.MCPToolResult
}

// ToPlainValue prefers structured content, then a JSON text item, then the
// raw content list.
func (r *Result) ToPlainValue() any {
	if r.StructuredContent != nil {
		return r.StructuredContent
	}
	if len(r.Content) == 1 && r.Content[0].Type == "text" {
		var decoded any
		if err := json.Unmarshal([]byte(r.Content[0].Text), &decoded); err == nil {
			return decoded
		}
		return r.Content[0].Text
	}
	items := make([]any, len(r.Content))
	for i, c := range r.Content {
		items[i] = map[string]any{"type": c.Type, "text": c.Text}
	}
	return map[string]any{"content": items}
}

// Client posts JSON-RPC requests to one MCP endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

func New(endpoint string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{endpoint: endpoint, http: hc}
}

// CallTool invokes name with args. bearer, when set, is also sent as the
// Authorization header.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, bearer string) (*Result, error) {
	params := models.MCPToolCallParams{Name: name, Arguments: args}
	raw, err := c.rpc(ctx, "tools/call", params, bearer)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Reason: err.Error()}
	}

	var res Result
	if err := json.Unmarshal(raw, &res.MCPToolResult); err != nil {
		return nil, &ExecutionError{Tool: name, Reason: "decode tool result", Err: err}
	}
	if res.IsError {
		return nil, &ExecutionError{Tool: name, Reason: errorText(res.Content)}
	}
	return &res, nil
}

// ListTools returns the tools advertised by the server.
func (c *Client) ListTools(ctx context.Context) ([]models.MCPToolInfo, error) {
	raw, err := c.rpc(ctx, "tools/list", nil, "")
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []models.MCPToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode tools/list: %w", err)
	}
	return out.Tools, nil
}

// rpc sends one request and returns the raw result member.
func (c *Client) rpc(ctx context.Context, method string, params any, bearer string) (json.RawMessage, error) {
	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		rawParams = b
	}
	body, err := json.Marshal(models.MCPRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  rawParams,
		ID:      uuid.New().String(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tool request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	log.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("tool server call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tool server returned status %d: %s", resp.StatusCode, truncate(string(respBody), 512))
	}

	var envelope struct {
		Result json.RawMessage  `json:"result"`
		Error  *models.MCPError `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("tool server error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	return envelope.Result, nil
}

func errorText(content []models.MCPContent) string {
	for _, c := range content {
		if c.Type == "text" && c.Text != "" {
			return c.Text
		}
	}
	return "tool returned an error"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
