package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChange_Add(t *testing.T) {
	c, err := ParseChange(map[string]any{
		"op":        "add",
		"fieldname": "email",
		"value":     "a@example.com",
	})
	require.NoError(t, err)

	add, ok := c.(Add)
	require.True(t, ok, "expected Add, got %T", c)
	assert.Equal(t, "email", add.FieldName)
	assert.Equal(t, "a@example.com", add.Value)
}

func TestParseChange_UnknownOp(t *testing.T) {
	_, err := ParseChange(map[string]any{"op": "merge", "fieldname": "email", "value": "x"})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeInvalidOperation))
}

func TestParseChange_MissingOp(t *testing.T) {
	_, err := ParseChange(map[string]any{"fieldname": "email", "value": "x"})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeInvalidOperation))
}

func TestParseChange_UnknownFieldRejected(t *testing.T) {
	_, err := ParseChange(map[string]any{
		"op":        "add",
		"fieldname": "email",
		"value":     "x",
		"color":     "red",
	})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeInvalidField))
}

func TestParseChange_AddWithGUIDRejected(t *testing.T) {
	_, err := ParseChange(map[string]any{
		"op":        "add",
		"guid":      "g-1",
		"fieldname": "email",
		"value":     "x",
	})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeInvalidOperation))
}

func TestParseChange_RangeFiltersOnlyForRemove(t *testing.T) {
	// remove accepts the range filters...
	c, err := ParseChange(map[string]any{
		"op":            "remove",
		"lastUsedStart": int64(100),
		"lastUsedEnd":   int64(200),
	})
	require.NoError(t, err)
	rm := c.(Remove)
	require.NotNil(t, rm.LastUsedStart)
	require.NotNil(t, rm.LastUsedEnd)
	assert.Equal(t, int64(100), *rm.LastUsedStart)
	assert.Equal(t, int64(200), *rm.LastUsedEnd)

	// ...but update does not.
	_, err = ParseChange(map[string]any{
		"op":            "update",
		"guid":          "g-1",
		"lastUsedStart": int64(100),
	})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeInvalidField))
}

func TestParseChange_NumericCoercion(t *testing.T) {
	// JSON decoding produces float64 for numbers.
	c, err := ParseChange(map[string]any{
		"op":        "add",
		"fieldname": "email",
		"value":     "x",
		"timesUsed": float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.(Add).TimesUsed)

	_, err = ParseChange(map[string]any{
		"op":        "add",
		"fieldname": "email",
		"value":     "x",
		"timesUsed": 3.5,
	})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeInvalidOperation))
}

func TestUpdate_IdentifierExclusivity(t *testing.T) {
	tests := []struct {
		name    string
		change  Change
		wantErr bool
	}{
		{"guid only", Update{GUID: "g-1", TimesUsed: 2}, false},
		{"pair only", Update{FieldName: "email", Value: "x", TimesUsed: 2}, false},
		{"both", Update{GUID: "g-1", FieldName: "email", Value: "x"}, true},
		{"neither", Update{TimesUsed: 2}, true},
		{"fieldname without value", Update{FieldName: "email"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.change.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, HasCode(err, CodeAmbiguousIdentifier))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBump_IdentifierExclusivity(t *testing.T) {
	assert.NoError(t, Bump{GUID: "g-1"}.Validate())
	assert.NoError(t, Bump{FieldName: "email", Value: "x"}.Validate())

	err := Bump{GUID: "g-1", FieldName: "email", Value: "x"}.Validate()
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeAmbiguousIdentifier))

	err = Bump{}.Validate()
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeAmbiguousIdentifier))
}

func TestRemove_PredicateShape(t *testing.T) {
	start := int64(5)
	rm := Remove{FieldName: "email", FirstUsedStart: &start}
	p := rm.Predicate()
	assert.Equal(t, map[string]any{
		"fieldname":      "email",
		"firstUsedStart": int64(5),
	}, p)

	assert.Empty(t, Remove{}.Predicate(), "empty remove must yield an empty predicate")
}

func TestValidateSearch(t *testing.T) {
	require.NoError(t, ValidateSearch("search", map[string]any{
		"fieldname":     "email",
		"lastUsedStart": int64(1),
	}))

	err := ValidateSearch("search", map[string]any{"shape": "round"})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeInvalidField))
}

func TestParseChanges_ReportsRequestIndex(t *testing.T) {
	_, err := ParseChanges([]map[string]any{
		{"op": "add", "fieldname": "a", "value": "1"},
		{"op": "nope"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request 1")
}
