package catalog_test

import (
	"testing"

	"github.com/credbroker/broker/internal/catalog"
	"github.com/credbroker/broker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEmpty(t *testing.T) {
	assert.Empty(t, catalog.Build(nil))
	assert.Empty(t, catalog.Build([]string{"unknown"}))
}

func TestBuildGoogleCalendar(t *testing.T) {
	decls := catalog.Build([]string{models.ProviderGoogleCalendar, models.ProviderGoogleCalendar})
	assert.Equal(t, []string{
		"gcal.list_calendars",
		"gcal.list_events",
		"gcal.get_event",
		"gcal.create_event",
		"gcal.update_event",
		"gcal.delete_event",
		"gcal.availability",
	}, catalog.Names(decls))

	for _, d := range decls {
		assert.Equal(t, "object", d.Parameters["type"], d.Name)
		props, ok := d.Parameters["properties"].(map[string]any)
		require.True(t, ok, d.Name)
		assert.Contains(t, props, catalog.ArgCredentialID, d.Name)
		assert.Contains(t, props, catalog.ArgBearerToken, d.Name)
		assert.Subset(t, d.Parameters["required"], []any{catalog.ArgCredentialID, catalog.ArgBearerToken}, d.Name)
	}
}

func TestListEventsSchema(t *testing.T) {
	d, ok := catalog.Lookup("gcal.list_events")
	require.True(t, ok)
	props := d.Parameters["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "integer"}, props["max_results"])
	assert.Equal(t, map[string]any{"type": "boolean"}, props["single_events"])
	assert.Contains(t, d.Parameters["required"], "calendar_id")

	_, ok = catalog.Lookup("gcal.nope")
	assert.False(t, ok)
}
