package toolserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/credbroker/broker/internal/catalog"
	"github.com/credbroker/broker/pkg/models"
)

var errMissingJWT = errors.New("missing jwt")

// arguments are the decoded tools/call arguments.
type arguments map[string]any

func (a arguments) str(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a arguments) object(key string) map[string]any {
	m, _ := a[key].(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (a arguments) require(keys ...string) error {
	for _, k := range keys {
		if v, ok := a[k]; !ok || v == nil || v == "" {
			return fmt.Errorf("missing required argument %q", k)
		}
	}
	return nil
}

// query renders the non-nil keys as URL query parameters.
func (a arguments) query(keys ...string) url.Values {
	q := url.Values{}
	for _, k := range keys {
		v, ok := a[k]
		if !ok || v == nil {
			continue
		}
		q.Set(k, queryValue(v))
	}
	return q
}

func queryValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// runFunc executes one tool against the app server. bearer is never empty.
type runFunc func(ctx context.Context, app *AppClient, bearer string, a arguments) (any, error)

type tool struct {
	info     models.MCPToolInfo
	required []string
	run      runFunc
}

func calendarPath(a arguments, op string) string {
	return "/api/google_calendar/" + url.PathEscape(a.str(catalog.ArgCredentialID)) + "/" + op
}

// defineTool builds a served tool. An empty description is taken from the
// model-facing catalog entry of the same name.
func defineTool(name, description string, params []catalog.Param, run runFunc) tool {
	if description == "" {
		if d, ok := catalog.Lookup(name); ok {
			description = d.Description
		}
	}
	all := append([]catalog.Param{{Name: catalog.ArgCredentialID, Type: "string", Required: true}}, params...)
	all = append(all, catalog.Param{Name: catalog.ArgBearerToken, Type: "string", Required: true})

	var required []string
	for _, p := range all {
		if p.Required && p.Name != catalog.ArgBearerToken {
			required = append(required, p.Name)
		}
	}
	return tool{
		info: models.MCPToolInfo{
			Name:        name,
			Description: description,
			InputSchema: catalog.Schema(all...),
		},
		required: required,
		run:      run,
	}
}

func str(name string, required bool) catalog.Param {
	return catalog.Param{Name: name, Type: "string", Required: required}
}

// defaultTools is the tool set served at /mcp, in listing order.
func defaultTools() []tool {
	return []tool{
		defineTool("gcal.list_calendars", "", []catalog.Param{
			{Name: "max_results", Type: "integer"},
			str("page_token", false),
			str("min_access_role", false),
			str("fields", false),
		}, func(ctx context.Context, app *AppClient, bearer string, a arguments) (any, error) {
			return app.Get(ctx, calendarPath(a, "list_calendars"), bearer,
				a.query("max_results", "page_token", "min_access_role", "fields"))
		}),

		defineTool("gcal.list_events", "", []catalog.Param{
			str("calendar_id", true),
			{Name: "max_results", Type: "integer"},
			str("page_token", false),
			str("time_min", false),
			str("time_max", false),
			str("order_by", false),
			{Name: "single_events", Type: "boolean"},
			str("q", false),
			{Name: "show_deleted", Type: "boolean"},
			str("time_zone", false),
			str("fields", false),
		}, func(ctx context.Context, app *AppClient, bearer string, a arguments) (any, error) {
			return app.Get(ctx, calendarPath(a, "list_events"), bearer,
				a.query("calendar_id", "max_results", "page_token", "time_min", "time_max",
					"order_by", "single_events", "q", "show_deleted", "time_zone", "fields"))
		}),

		defineTool("gcal.get_event", "", []catalog.Param{
			str("calendar_id", true),
			str("event_id", true),
			str("fields", false),
		}, func(ctx context.Context, app *AppClient, bearer string, a arguments) (any, error) {
			return app.Get(ctx, calendarPath(a, "get_event"), bearer,
				a.query("calendar_id", "event_id", "fields"))
		}),

		defineTool("gcal.create_event", "", []catalog.Param{
			{Name: "payload", Type: "object", Required: true},
		}, func(ctx context.Context, app *AppClient, bearer string, a arguments) (any, error) {
			return app.Post(ctx, calendarPath(a, "create_event"), bearer, a.object("payload"))
		}),

		defineTool("gcal.update_event", "", []catalog.Param{
			str("calendar_id", true),
			str("event_id", true),
			{Name: "payload", Type: "object", Required: true},
		}, func(ctx context.Context, app *AppClient, bearer string, a arguments) (any, error) {
			return app.Post(ctx, calendarPath(a, "update_event"), bearer, map[string]any{
				"calendar_id": a.str("calendar_id"),
				"event_id":    a.str("event_id"),
				"payload":     a.object("payload"),
			})
		}),

		defineTool("gcal.delete_event", "", []catalog.Param{
			str("calendar_id", true),
			str("event_id", true),
		}, func(ctx context.Context, app *AppClient, bearer string, a arguments) (any, error) {
			return app.Post(ctx, calendarPath(a, "delete_event"), bearer, map[string]any{
				"calendar_id": a.str("calendar_id"),
				"event_id":    a.str("event_id"),
			})
		}),

		defineTool("gcal.availability", "", []catalog.Param{
			str("calendar_id", true),
			str("time_min", true),
			str("time_max", true),
			str("time_zone", false),
		}, func(ctx context.Context, app *AppClient, bearer string, a arguments) (any, error) {
			body := map[string]any{
				"calendar_id": a.str("calendar_id"),
				"time_min":    a.str("time_min"),
				"time_max":    a.str("time_max"),
			}
			if tz := a.str("time_zone"); tz != "" {
				body["time_zone"] = tz
			}
			return app.Post(ctx, calendarPath(a, "availability"), bearer, body)
		}),

		defineTool("gemini.generate", "Generate text with a stored Gemini credential", []catalog.Param{
			str("prompt", true),
		}, func(ctx context.Context, app *AppClient, bearer string, a arguments) (any, error) {
			path := "/api/gemini/" + url.PathEscape(a.str(catalog.ArgCredentialID)) + "/generate"
			return app.Post(ctx, path, bearer, map[string]any{"prompt": a.str("prompt")})
		}),
	}
}
