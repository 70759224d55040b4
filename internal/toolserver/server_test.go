package toolserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/credbroker/broker/internal/catalog"
	"github.com/credbroker/broker/internal/toolclient"
	"github.com/credbroker/broker/internal/toolserver"
	"github.com/credbroker/broker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  map[string]string
	auth   string
	body   map[string]any
}

// fakeApp stands in for the app server and records the last request.
func fakeApp(t *testing.T, status int, reply string) (*httptest.Server, *recorded) {
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		rec.query = map[string]string{}
		for k := range r.URL.Query() {
			rec.query[k] = r.URL.Query().Get(k)
		}
		rec.body = nil
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			json.Unmarshal(raw, &rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newToolServer(t *testing.T, appURL string) (*toolserver.Server, *toolclient.Client) {
	ts := toolserver.New(toolserver.NewAppClient(appURL, nil), "test")
	srv := httptest.NewServer(ts.Routes())
	t.Cleanup(srv.Close)
	return ts, toolclient.New(srv.URL+"/mcp", nil)
}

func TestToolsList(t *testing.T) {
	app, _ := fakeApp(t, http.StatusOK, `{}`)
	_, client := newToolServer(t, app.URL)

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Equal(t, []string{
		"gcal.list_calendars", "gcal.list_events", "gcal.get_event", "gcal.create_event",
		"gcal.update_event", "gcal.delete_event", "gcal.availability", "gemini.generate",
	}, names)
	assert.Contains(t, tools[0].InputSchema["required"], "bearer_token")

	// Every calendar tool the model can be offered is served, with the same description.
	served := make(map[string]models.MCPToolInfo, len(tools))
	for _, tool := range tools {
		served[tool.Name] = tool
	}
	for _, name := range catalog.Names(catalog.Build([]string{models.ProviderGoogleCalendar})) {
		decl, ok := catalog.Lookup(name)
		require.True(t, ok, name)
		if assert.Contains(t, served, name) {
			assert.Equal(t, decl.Description, served[name].Description, name)
		}
	}
	assert.NotEmpty(t, served["gemini.generate"].Description)
}

func TestListEventsForwardsQuery(t *testing.T) {
	app, rec := fakeApp(t, http.StatusOK, `{"items":[{"id":"e1"}]}`)
	_, client := newToolServer(t, app.URL)

	res, err := client.CallTool(context.Background(), "gcal.list_events", map[string]any{
		"credential_id": "cred 1",
		"calendar_id":   "primary",
		"max_results":   10,
		"single_events": true,
		"order_by":      "startTime",
		"bearer_token":  "jwt-abc",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "/api/google_calendar/cred 1/list_events", rec.path)
	assert.Equal(t, "Bearer jwt-abc", rec.auth)
	assert.Equal(t, map[string]string{
		"calendar_id": "primary", "max_results": "10", "single_events": "true", "order_by": "startTime",
	}, rec.query)
	assert.Equal(t, map[string]any{"items": []any{map[string]any{"id": "e1"}}}, res.ToPlainValue())
}

func TestCreateEventPostsPayload(t *testing.T) {
	app, rec := fakeApp(t, http.StatusOK, `{"id":"new"}`)
	_, client := newToolServer(t, app.URL)

	payload := map[string]any{"calendar_id": "primary", "event": map[string]any{"summary": "x"}}
	_, err := client.CallTool(context.Background(), "gcal.create_event", map[string]any{
		"credential_id": "cred1", "payload": payload, "bearer_token": "jwt",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/google_calendar/cred1/create_event", rec.path)
	assert.Equal(t, payload, rec.body)
}

func TestUpdateEventWrapsPayload(t *testing.T) {
	app, rec := fakeApp(t, http.StatusOK, `{"id":"e1"}`)
	_, client := newToolServer(t, app.URL)

	_, err := client.CallTool(context.Background(), "gcal.update_event", map[string]any{
		"credential_id": "cred1", "calendar_id": "primary", "event_id": "e1",
		"payload": map[string]any{"summary": "moved"}, "bearer_token": "jwt",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"calendar_id": "primary", "event_id": "e1", "payload": map[string]any{"summary": "moved"},
	}, rec.body)
}

func TestGeminiGenerate(t *testing.T) {
	app, rec := fakeApp(t, http.StatusOK, `{"text":"hi"}`)
	_, client := newToolServer(t, app.URL)

	_, err := client.CallTool(context.Background(), "gemini.generate", map[string]any{
		"credential_id": "g1", "prompt": "hello", "bearer_token": "jwt",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "/api/gemini/g1/generate", rec.path)
	assert.Equal(t, map[string]any{"prompt": "hello"}, rec.body)
}

func TestBearerFromHeader(t *testing.T) {
	app, rec := fakeApp(t, http.StatusOK, `{}`)
	_, client := newToolServer(t, app.URL)

	_, err := client.CallTool(context.Background(), "gcal.list_calendars", map[string]any{"credential_id": "c"}, "header-jwt")
	require.NoError(t, err)
	assert.Equal(t, "Bearer header-jwt", rec.auth)
}

func TestToolErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		reply   string
		tool    string
		args    map[string]any
		message string
	}{
		{"missing jwt", http.StatusOK, `{}`, "gcal.list_calendars", map[string]any{"credential_id": "c"}, "missing jwt"},
		{"missing argument", http.StatusOK, `{}`, "gcal.get_event", map[string]any{"credential_id": "c", "bearer_token": "t"}, `missing required argument "calendar_id"`},
		{"upstream 404", http.StatusNotFound, `{"error":"token not found"}`, "gcal.list_calendars", map[string]any{"credential_id": "c", "bearer_token": "t"}, "app server returned status 404"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app, _ := fakeApp(t, tc.status, tc.reply)
			_, client := newToolServer(t, app.URL)
			_, err := client.CallTool(context.Background(), tc.tool, tc.args, "")
			var execErr *toolclient.ExecutionError
			require.True(t, errors.As(err, &execErr), "got %v", err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestHandleJSONRPCMethods(t *testing.T) {
	ts := toolserver.New(toolserver.NewAppClient("http://unused", nil), "1.2.3")
	ctx := context.Background()

	resp := ts.HandleJSONRPC(ctx, &models.MCPRequest{Jsonrpc: "2.0", Method: "initialize", ID: 1})
	require.NotNil(t, resp)
	info := resp.Result.(map[string]any)
	assert.Equal(t, "2024-11-05", info["protocolVersion"])

	resp = ts.HandleJSONRPC(ctx, &models.MCPRequest{Jsonrpc: "2.0", Method: "ping", ID: 2})
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)

	assert.Nil(t, ts.HandleJSONRPC(ctx, &models.MCPRequest{Jsonrpc: "2.0", Method: "notifications/initialized"}))

	resp = ts.HandleJSONRPC(ctx, &models.MCPRequest{Jsonrpc: "2.0", Method: "resources/list", ID: 3})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)

	resp = ts.HandleJSONRPC(ctx, &models.MCPRequest{Jsonrpc: "2.0", Method: "tools/call", Params: json.RawMessage(`{"name":"nope"}`), ID: 4})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}
