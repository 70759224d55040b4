// Package toolserver is the MCP tool server. It speaks JSON-RPC 2.0 over
// HTTP and turns each tools/call into a JWT-authenticated request against
// the app server's provider API.
//
// The server holds no provider credentials of its own: every call carries
// the caller's short-lived bearer token, either as the bearer_token argument
// or in the Authorization header.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/credbroker/broker/internal/catalog"
	"github.com/credbroker/broker/pkg/models"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "broker-tool-server"
)

// Server serves the tool set over MCP.
type Server struct {
	app     *AppClient
	version string
	tools   []tool
	byName  map[string]tool
}

func New(app *AppClient, version string) *Server {
	tools := defaultTools()
	byName := make(map[string]tool, len(tools))
	for _, t := range tools {
		byName[t.info.Name] = t
	}
	return &Server{app: app, version: version, tools: tools, byName: byName}
}

type bearerKey struct{}

// HandleJSONRPC processes one request. A nil response means the request was a
// notification.
func (s *Server) HandleJSONRPC(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	switch req.Method {
	case "initialize":
		return result(req, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]bool{"listChanged": false},
			},
			"serverInfo": map[string]string{
				"name":    serverName,
				"version": s.version,
			},
		})

	case "tools/list":
		infos := make([]models.MCPToolInfo, len(s.tools))
		for i, t := range s.tools {
			infos[i] = t.info
		}
		return result(req, map[string]any{"tools": infos})

	case "tools/call":
		return s.handleToolsCall(ctx, req)

	case "ping":
		return result(req, map[string]any{})

	default:
		if strings.HasPrefix(req.Method, "notifications/") {
			log.Debug().Str("method", req.Method).Msg("MCP notification")
			return nil
		}
		return rpcError(req, -32601, "Method not found", fmt.Sprintf("Method '%s' is not supported by the tool server", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	var params models.MCPToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req, -32602, "Invalid params", err.Error())
	}
	t, ok := s.byName[params.Name]
	if !ok {
		return rpcError(req, -32602, "Unknown tool", fmt.Sprintf("Tool '%s' is not served here", params.Name))
	}

	start := time.Now()
	out, err := s.call(ctx, t, arguments(params.Arguments))
	logEvent := log.Info()
	if err != nil {
		logEvent = log.Warn().Err(err)
	}
	logEvent.Str("tool", params.Name).Dur("duration", time.Since(start)).Msg("Tool call")

	if err != nil {
		return result(req, models.MCPToolResult{
			Content: []models.MCPContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
	}
	return result(req, toolResult(out))
}

func (s *Server) call(ctx context.Context, t tool, args arguments) (any, error) {
	if args == nil {
		args = arguments{}
	}
	bearer := args.str(catalog.ArgBearerToken)
	if bearer == "" {
		bearer, _ = ctx.Value(bearerKey{}).(string)
	}
	if bearer == "" {
		return nil, errMissingJWT
	}
	if err := args.require(t.required...); err != nil {
		return nil, err
	}
	return t.run(ctx, s.app, bearer, args)
}

// toolResult returns out as structured content plus its JSON text form.
func toolResult(out any) models.MCPToolResult {
	structured := out
	if _, ok := out.(map[string]any); !ok {
		structured = map[string]any{"result": out}
	}
	text, err := json.Marshal(out)
	if err != nil {
		text = []byte(fmt.Sprint(out))
	}
	return models.MCPToolResult{
		Content:           []models.MCPContent{{Type: "text", Text: string(text)}},
		StructuredContent: structured,
	}
}

func result(req *models.MCPRequest, v any) *models.MCPResponse {
	return &models.MCPResponse{Jsonrpc: "2.0", Result: v, ID: req.ID}
}

func rpcError(req *models.MCPRequest, code int, msg string, data any) *models.MCPResponse {
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Error:   &models.MCPError{Code: code, Message: msg, Data: data},
		ID:      req.ID,
	}
}

// Routes mounts /mcp, /health and /version.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.version})
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": s.version, "service": serverName})
	})
	r.Post("/mcp", s.serveMCP)
	return r
}

func (s *Server) serveMCP(w http.ResponseWriter, r *http.Request) {
	var req models.MCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, models.MCPResponse{
			Jsonrpc: "2.0",
			Error:   &models.MCPError{Code: -32700, Message: "Parse error", Data: err.Error()},
		})
		return
	}

	ctx := r.Context()
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		ctx = context.WithValue(ctx, bearerKey{}, strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
	}

	log.Debug().Str("method", req.Method).Msg("MCP request received")
	resp := s.HandleJSONRPC(ctx, &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
