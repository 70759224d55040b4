// Package policy rewrites model-supplied tool arguments before they reach the
// tool server: the owning provider's credential and the per-turn bearer token
// are injected, defaults are filled and some tools are reshaped.
package policy

import (
	"strings"

	"github.com/credbroker/broker/internal/catalog"
	"github.com/credbroker/broker/pkg/models"
)

// Error reports a tool call the policy refuses, such as one whose provider
// has no credential attached to the conversation.
type Error struct {
	Tool    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// RewriteFunc transforms already credential-tagged arguments for one tool.
type RewriteFunc func(args map[string]any) map[string]any

// ownerPrefixes maps a tool-name prefix to the provider owning those tools.
var ownerPrefixes = map[string]string{
	"gcal.": models.ProviderGoogleCalendar,
}

var rewrites = map[string]RewriteFunc{
	"gcal.list_events":  listEventsDefaults,
	"gcal.create_event": reshapeCreateEvent,
	"gcal.update_event": reshapeUpdateEvent,
}

// Owner returns the provider owning a tool, if any.
func Owner(toolName string) (string, bool) {
	for prefix, provider := range ownerPrefixes {
		if strings.HasPrefix(toolName, prefix) {
			return provider, true
		}
	}
	return "", false
}

// Rewrite produces the outgoing arguments for toolName. rawArgs is never
// modified. The bearer token always overrides any model-supplied value.
func Rewrite(toolName string, rawArgs map[string]any, credentials map[string]string, bearerToken string) (map[string]any, error) {
	args := make(map[string]any, len(rawArgs)+2)
	for k, v := range rawArgs {
		args[k] = v
	}

	if provider, ok := Owner(toolName); ok {
		credID := credentials[provider]
		if credID == "" {
			return nil, &Error{Tool: toolName, Message: provider + " credential not set for this room"}
		}
		args[catalog.ArgCredentialID] = credID
	}

	if fn, ok := rewrites[toolName]; ok {
		args = fn(args)
	}

	args[catalog.ArgBearerToken] = bearerToken
	return args, nil
}

func listEventsDefaults(args map[string]any) map[string]any {
	setDefault(args, "max_results", 10)
	setDefault(args, "order_by", "startTime")
	setDefault(args, "single_events", true)
	return args
}

func reshapeCreateEvent(args map[string]any) map[string]any {
	event := args["event"]
	if event == nil {
		event = map[string]any{}
	}
	return map[string]any{
		catalog.ArgCredentialID: args[catalog.ArgCredentialID],
		"payload": map[string]any{
			"calendar_id": args["calendar_id"],
			"event":       event,
		},
	}
}

func reshapeUpdateEvent(args map[string]any) map[string]any {
	payload := args["payload"]
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		catalog.ArgCredentialID: args[catalog.ArgCredentialID],
		"calendar_id":           args["calendar_id"],
		"event_id":              args["event_id"],
		"payload":               payload,
	}
}

func setDefault(args map[string]any, key string, value any) {
	if _, ok := args[key]; !ok {
		args[key] = value
	}
}
