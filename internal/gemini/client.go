// Package gemini is a thin client for the Generative Language
// generateContent endpoint, with function-calling support.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/credbroker/broker/pkg/models"
	"github.com/rs/zerolog/log"
)

// continuationPlaceholder stands in for a missing thoughtSignature so the API
// accepts a replayed function-call part.
const continuationPlaceholder = "skip_thought_signature_validator"

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls generateContent for one API key and model.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	http    *http.Client
}

// New creates a client. A missing API key is not an error here: every call
// then returns a failure result instead.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   normalizeModel(cfg.Model),
		timeout: timeout,
		http:    hc,
	}
}

// WithAPIKey returns a copy of the client using key.
func (c *Client) WithAPIKey(key string) *Client {
	cp := *c
	cp.apiKey = key
	return &cp
}

// WithModel returns a copy of the client using model. Empty keeps the current model.
func (c *Client) WithModel(model string) *Client {
	if model == "" {
		return c
	}
	cp := *c
	cp.model = normalizeModel(model)
	return &cp
}

// ContinuationPlaceholder is the token to insert when a function call
// arrives without one.
func (c *Client) ContinuationPlaceholder() string { return continuationPlaceholder }

// ── Wire types ───────────────────────────────────────────────

type content struct {
	Role  string           `json:"role"`
	Parts []map[string]any `json:"parts"`
}

type tool struct {
	FunctionDeclarations []models.ToolDeclaration `json:"functionDeclarations"`
}

type request struct {
	Contents []content `json:"contents"`
	Tools    []tool    `json:"tools,omitempty"`
}

// ── Operations ───────────────────────────────────────────────

// Generate asks for plain text.
func (c *Client) Generate(ctx context.Context, prompt string) Result {
	return c.do(ctx, request{Contents: userPrompt(prompt)})
}

// GenerateWithTools offers the declarations and may return a tool call.
// An empty declaration list sends no tools at all.
func (c *Client) GenerateWithTools(ctx context.Context, prompt string, decls []models.ToolDeclaration) Result {
	return c.do(ctx, request{Contents: userPrompt(prompt), Tools: toolsFor(decls)})
}

// GenerateWithFunctionResult replays the call and feeds the tool response
// back for a follow-up answer.
func (c *Client) GenerateWithFunctionResult(ctx context.Context, prompt string, call models.FunctionCall, response map[string]any, decls []models.ToolDeclaration) Result {
	callPart := map[string]any{
		"functionCall": map[string]any{"name": call.Name, "args": nonNilArgs(call.Args)},
	}
	if call.ContinuationToken != "" {
		callPart["thoughtSignature"] = call.ContinuationToken
	}
	contents := append(userPrompt(prompt),
		content{Role: "model", Parts: []map[string]any{callPart}},
		content{Role: "user", Parts: []map[string]any{{
			"functionResponse": map[string]any{"name": call.Name, "response": response},
		}}},
	)
	return c.do(ctx, request{Contents: contents, Tools: toolsFor(decls)})
}

func (c *Client) do(ctx context.Context, body request) Result {
	if c.apiKey == "" {
		return failure("GEMINI_API_KEY not set", "")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return failure("gemini request failed", err.Error())
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return failure("gemini request failed", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return failure("gemini request failed", redact(err.Error(), c.apiKey))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure("gemini request failed", err.Error())
	}

	log.Debug().
		Str("model", c.model).
		Int("status", resp.StatusCode).
		Int("tools", countDecls(body.Tools)).
		Dur("duration", time.Since(start)).
		Msg("gemini generateContent")

	if resp.StatusCode >= 400 {
		return failure("gemini request failed", string(raw))
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return failure("gemini request failed", "invalid JSON response: "+err.Error())
	}
	return parseResponse(decoded)
}

// parseResponse extracts the first text part and the first function-call part.
func parseResponse(decoded map[string]any) Result {
	res := Result{Kind: KindText, Raw: decoded}
	for _, part := range firstCandidateParts(decoded) {
		if res.Text == "" {
			if thought, _ := part["thought"].(bool); !thought {
				if text, ok := part["text"].(string); ok {
					res.Text = text
				}
			}
		}
		if res.Call != nil {
			continue
		}
		fc, ok := part["functionCall"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fc["name"].(string)
		args, _ := fc["args"].(map[string]any)
		sig, _ := part["thoughtSignature"].(string)
		res.Call = &models.FunctionCall{Name: name, Args: args, ContinuationToken: sig}
		res.Kind = KindToolCall
	}
	return res
}

func firstCandidateParts(decoded map[string]any) []map[string]any {
	cands, _ := decoded["candidates"].([]any)
	if len(cands) == 0 {
		return nil
	}
	cand, _ := cands[0].(map[string]any)
	cont, _ := cand["content"].(map[string]any)
	rawParts, _ := cont["parts"].([]any)
	parts := make([]map[string]any, 0, len(rawParts))
	for _, p := range rawParts {
		if m, ok := p.(map[string]any); ok {
			parts = append(parts, m)
		}
	}
	return parts
}

func userPrompt(prompt string) []content {
	return []content{{Role: "user", Parts: []map[string]any{{"text": prompt}}}}
}

func toolsFor(decls []models.ToolDeclaration) []tool {
	if len(decls) == 0 {
		return nil
	}
	return []tool{{FunctionDeclarations: decls}}
}

func countDecls(tools []tool) int {
	n := 0
	for _, t := range tools {
		n += len(t.FunctionDeclarations)
	}
	return n
}

func nonNilArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func normalizeModel(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// redact keeps the API key out of transport errors, which embed the URL.
func redact(s, key string) string {
	if key == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(key), "REDACTED")
	return strings.ReplaceAll(s, key, "REDACTED")
}
