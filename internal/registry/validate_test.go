package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolstream/internal/registry"
	"toolstream/internal/toolerr"
)

func TestValidate(t *testing.T) {
	desc := registry.Descriptor{
		Name: "mixed",
		Params: []registry.Param{
			{Name: "id", Type: registry.TypeInteger, Required: true},
			{Name: "ratio", Type: registry.TypeNumber},
			{Name: "label", Type: registry.TypeString},
			{Name: "dry_run", Type: registry.TypeBoolean},
			{Name: "overrides", Type: registry.TypeObject},
			{Name: "horizons", Type: registry.TypeArray},
		},
	}

	cases := []struct {
		name  string
		args  map[string]any
		field string
	}{
		{name: "minimal", args: map[string]any{"id": float64(3)}},
		{name: "all types", args: map[string]any{
			"id": 3, "ratio": 0.5, "label": "x", "dry_run": true,
			"overrides": map[string]any{"a": 1}, "horizons": []any{30, 60},
		}},
		{name: "extra args pass", args: map[string]any{"id": 1, "unknown": "ok"}},
		{name: "null optional", args: map[string]any{"id": 1, "label": nil}},
		{name: "missing required", args: map[string]any{}, field: "id"},
		{name: "null required", args: map[string]any{"id": nil}, field: "id"},
		{name: "fractional integer", args: map[string]any{"id": 1.5}, field: "id"},
		{name: "string for integer", args: map[string]any{"id": "7"}, field: "id"},
		{name: "number for string", args: map[string]any{"id": 1, "label": 5.0}, field: "label"},
		{name: "string for boolean", args: map[string]any{"id": 1, "dry_run": "true"}, field: "dry_run"},
		{name: "array for object", args: map[string]any{"id": 1, "overrides": []any{}}, field: "overrides"},
		{name: "object for array", args: map[string]any{"id": 1, "horizons": map[string]any{}}, field: "horizons"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := registry.Validate(desc, tc.args)
			if tc.field == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, toolerr.ErrInvalidArguments)
			assert.Equal(t, tc.field, toolerr.As(err).Field)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	desc := forecastTool().Descriptor
	args := map[string]any{"dataset_id": 4}

	got := registry.ApplyDefaults(desc, args)
	assert.Equal(t, map[string]any{"dataset_id": 4, "horizon": 30}, got)
	assert.NotContains(t, args, "horizon")

	got = registry.ApplyDefaults(desc, map[string]any{"dataset_id": 4, "horizon": 90})
	assert.Equal(t, 90, got["horizon"])
}

func TestApplyDefaults_CopiesCompositeDefaults(t *testing.T) {
	desc := registry.Descriptor{
		Name: "report",
		Params: []registry.Param{
			{Name: "filters", Type: registry.TypeObject, Default: map[string]any{"region": "eu", "tags": []any{"a"}}},
			{Name: "columns", Type: registry.TypeArray, Default: []any{"id", "ts"}},
		},
	}

	got := registry.ApplyDefaults(desc, map[string]any{})
	filters := got["filters"].(map[string]any)
	filters["region"] = "us"
	filters["tags"].([]any)[0] = "z"
	got["columns"].([]any)[0] = "changed"

	assert.Equal(t, map[string]any{"region": "eu", "tags": []any{"a"}}, desc.Params[0].Default)
	assert.Equal(t, []any{"id", "ts"}, desc.Params[1].Default)

	again := registry.ApplyDefaults(desc, nil)
	assert.Equal(t, "eu", again["filters"].(map[string]any)["region"])
	assert.Equal(t, []any{"id", "ts"}, again["columns"])
}
