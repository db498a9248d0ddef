package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolstream/internal/catalog"
	"toolstream/internal/config"
	"toolstream/internal/registry"
	"toolstream/internal/toolerr"
)

func TestNewRegistry_BuiltinsThenConfigured(t *testing.T) {
	reg, err := catalog.NewRegistry([]config.ToolConfig{{
		Name:  "detect_drift",
		Route: "drift/detect",
		Params: []config.ParamConfig{
			{Name: "dataset_id", Type: "integer", Required: true},
			{Name: "window", Type: "integer", Default: "14"},
			{Name: "strict", Type: "boolean", Default: "true"},
		},
	}})
	require.NoError(t, err)

	var names []string
	for _, d := range reg.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"echo", "explain_chart", "run_forecast", "run_backtest", "get_executive_summary",
		"list_features", "schedule_job", "connect_source", "detect_drift",
	}, names)

	drift, err := reg.Lookup("detect_drift")
	require.NoError(t, err)
	assert.False(t, drift.Local())
	assert.Equal(t, "drift/detect", drift.BackendRoute())
	assert.Equal(t, int64(14), drift.Params[1].Default)
	assert.Equal(t, true, drift.Params[2].Default)
}

func TestNewRegistry_ConfiguredToolCannotShadowBuiltin(t *testing.T) {
	_, err := catalog.NewRegistry([]config.ToolConfig{{Name: "echo"}})
	assert.ErrorIs(t, err, toolerr.ErrDuplicateTool)
}

func TestFromConfig_BadDefault(t *testing.T) {
	_, err := catalog.FromConfig([]config.ToolConfig{{
		Name:   "x",
		Params: []config.ParamConfig{{Name: "n", Type: "integer", Default: "many"}},
	}})
	assert.Error(t, err)
}

func TestBuiltinHandlers(t *testing.T) {
	reg, err := catalog.NewRegistry(nil)
	require.NoError(t, err)

	echo, err := reg.Lookup("echo")
	require.NoError(t, err)
	out, err := echo.Handler(context.Background(), map[string]any{"x": 5})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 5}, out)

	explain, err := reg.Lookup("explain_chart")
	require.NoError(t, err)
	out, err = explain.Handler(context.Background(), map[string]any{"chart_context": " revenue by week "})
	require.NoError(t, err)
	assert.Equal(t, "Explanation for revenue by week: Trend is upwards with high confidence.", out)

	forecast, err := reg.Lookup("run_forecast")
	require.NoError(t, err)
	assert.False(t, forecast.Local())
	assert.Equal(t, map[string]any{"dataset_id": 1, "horizon": 30},
		registry.ApplyDefaults(forecast.Descriptor, map[string]any{"dataset_id": 1}))
}
