// Package catalog builds the tool declarations offered to the model for the
// providers attached to a conversation.
package catalog

import (
	"encoding/json"

	"github.com/credbroker/broker/pkg/models"
	jsonschema "github.com/swaggest/jsonschema-go"
)

// Argument names injected by the rewrite policy. Every declaration requires them.
const (
	ArgCredentialID = "credential_id"
	ArgBearerToken  = "bearer_token"
)

// Param is one property of a tool's argument object.
type Param struct {
	Name     string
	Type     string
	Required bool
}

type toolSpec struct {
	name        string
	description string
	params      []Param
}

// providerTools is the fixed declaration table per provider.
var providerTools = map[string][]toolSpec{
	models.ProviderGoogleCalendar: {
		{"gcal.list_calendars", "List calendars for the user", []Param{
			{"max_results", "integer", false},
			{"page_token", "string", false},
			{"min_access_role", "string", false},
			{"fields", "string", false},
		}},
		{"gcal.list_events", "List events in a calendar", []Param{
			{"calendar_id", "string", true},
			{"max_results", "integer", false},
			{"page_token", "string", false},
			{"time_min", "string", false},
			{"time_max", "string", false},
			{"order_by", "string", false},
			{"single_events", "boolean", false},
			{"q", "string", false},
			{"show_deleted", "boolean", false},
			{"time_zone", "string", false},
			{"fields", "string", false},
		}},
		{"gcal.get_event", "Get a single event", []Param{
			{"calendar_id", "string", true},
			{"event_id", "string", true},
			{"fields", "string", false},
		}},
		{"gcal.create_event", "Create an event", []Param{
			{"calendar_id", "string", true},
			{"event", "object", true},
		}},
		{"gcal.update_event", "Update an event", []Param{
			{"calendar_id", "string", true},
			{"event_id", "string", true},
			{"payload", "object", true},
		}},
		{"gcal.delete_event", "Delete an event", []Param{
			{"calendar_id", "string", true},
			{"event_id", "string", true},
		}},
		{"gcal.availability", "Check free/busy for a time range", []Param{
			{"calendar_id", "string", true},
			{"time_min", "string", true},
			{"time_max", "string", true},
			{"time_zone", "string", false},
		}},
	},
}

// Build returns the declarations for the attached providers, in attachment
// order. Unknown providers contribute nothing; an empty result means the
// model is called in plain-text mode.
func Build(attached []string) []models.ToolDeclaration {
	var out []models.ToolDeclaration
	seen := make(map[string]bool, len(attached))
	for _, p := range attached {
		if seen[p] {
			continue
		}
		seen[p] = true
		for _, ts := range providerTools[p] {
			out = append(out, ts.declaration())
		}
	}
	return out
}

// Names lists the tool names in a catalog.
func Names(decls []models.ToolDeclaration) []string {
	names := make([]string, len(decls))
	for i, d := range decls {
		names[i] = d.Name
	}
	return names
}

// Lookup returns the declaration with the given tool name across all providers.
func Lookup(name string) (models.ToolDeclaration, bool) {
	for _, specs := range providerTools {
		for _, ts := range specs {
			if ts.name == name {
				return ts.declaration(), true
			}
		}
	}
	return models.ToolDeclaration{}, false
}

func (s toolSpec) declaration() models.ToolDeclaration {
	params := make([]Param, 0, len(s.params)+2)
	params = append(params, Param{ArgCredentialID, "string", true})
	params = append(params, s.params...)
	params = append(params, Param{ArgBearerToken, "string", true})
	return models.ToolDeclaration{
		Name:        s.name,
		Description: s.description,
		Parameters:  Schema(params...),
	}
}

// Schema builds the JSON schema of an object with the given properties.
func Schema(params ...Param) map[string]any {
	props := make(map[string]*jsonschema.Schema, len(params))
	var required []string
	for _, p := range params {
		props[p.Name] = typed(p.Type)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return toMap(objectSchema(props, required))
}

func typed(t string) *jsonschema.Schema {
	st := jsonschema.SimpleType(t)
	return &jsonschema.Schema{Type: &jsonschema.Type{SimpleTypes: &st}}
}

func objectSchema(properties map[string]*jsonschema.Schema, required []string) *jsonschema.Schema {
	schemaProps := make(map[string]jsonschema.SchemaOrBool, len(properties))
	for name, prop := range properties {
		schemaProps[name] = jsonschema.SchemaOrBool{TypeObject: prop}
	}
	obj := typed("object")
	obj.Properties = schemaProps
	obj.Required = required
	return obj
}

// toMap flattens a schema into the generic form sent on the wire.
func toMap(s *jsonschema.Schema) map[string]any {
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}
