package jsonsafe_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/credbroker/broker/internal/jsonsafe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plain struct{ v string }

func (p plain) ToPlainValue() any { return map[string]any{"wrapped": p.v} }

type event struct {
	Summary string `json:"summary"`
	Hidden  string `json:"-"`
}

func TestConvertPrimitivesAndContainers(t *testing.T) {
	in := map[string]any{
		"s":     "x",
		"n":     3,
		"f":     1.5,
		"b":     true,
		"nil":   nil,
		"list":  []int{1, 2},
		"inner": map[int]string{7: "seven"},
	}
	got := jsonsafe.Convert(in)
	assert.Equal(t, map[string]any{
		"s":     "x",
		"n":     int64(3),
		"f":     1.5,
		"b":     true,
		"nil":   nil,
		"list":  []any{int64(1), int64(2)},
		"inner": map[string]any{"7": "seven"},
	}, got)
}

func TestConvertPlainValuer(t *testing.T) {
	got := jsonsafe.Convert([]any{plain{v: "a"}})
	assert.Equal(t, []any{map[string]any{"wrapped": "a"}}, got)
}

func TestConvertStructUsesJSONTags(t *testing.T) {
	got := jsonsafe.Convert(&event{Summary: "standup", Hidden: "secret"})
	assert.Equal(t, map[string]any{"summary": "standup"}, got)
}

func TestConvertStringifiesUnencodable(t *testing.T) {
	ch := make(chan int)
	in := map[string]any{
		"chan": ch,
		"func": func() {},
		"nan":  math.NaN(),
		"err":  errors.New("boom"),
	}
	got := jsonsafe.Convert(in).(map[string]any)

	assert.IsType(t, "", got["chan"])
	assert.IsType(t, "", got["func"])
	assert.Equal(t, "NaN", got["nan"])
	assert.Equal(t, "boom", got["err"])

	_, err := json.Marshal(got)
	require.NoError(t, err)
}

func TestConvertRawMessage(t *testing.T) {
	got := jsonsafe.Convert(json.RawMessage(`{"a":[1,"b"]}`))
	assert.Equal(t, map[string]any{"a": []any{1.0, "b"}}, got)
}

type withPlain struct {
	Inner plain
	Name  string `json:"name"`
}

func TestConvertStructConvertsNestedPlainValuer(t *testing.T) {
	got := jsonsafe.Convert(withPlain{Inner: plain{v: "a"}, Name: "n"})
	assert.Equal(t, map[string]any{
		"Inner": map[string]any{"wrapped": "a"},
		"name":  "n",
	}, got)
}

type withChan struct {
	Summary string   `json:"summary"`
	Updates chan int `json:"updates"`
	Note    string   `json:"note,omitempty"`
}

func TestConvertStructStringifiesOnlyBadField(t *testing.T) {
	got, ok := jsonsafe.Convert(withChan{Summary: "standup", Updates: make(chan int)}).(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "standup", got["summary"])
	assert.IsType(t, "", got["updates"])
	assert.NotContains(t, got, "note")

	_, err := json.Marshal(got)
	require.NoError(t, err)
}

type base struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type derived struct {
	base
	Kind string `json:"kind"`
}

func TestConvertStructPromotesEmbeddedFields(t *testing.T) {
	got := jsonsafe.Convert(derived{base: base{ID: "e1", Kind: "inner"}, Kind: "outer"})
	assert.Equal(t, map[string]any{"id": "e1", "kind": "outer"}, got)
}

func TestConvertJSONNumber(t *testing.T) {
	assert.Equal(t, json.Number("42"), jsonsafe.Convert(json.Number("42")))

	got := jsonsafe.Convert(map[string]any{"n": json.Number("not-a-number")})
	assert.Equal(t, map[string]any{"n": "not-a-number"}, got)
	_, err := json.Marshal(got)
	require.NoError(t, err)
}
