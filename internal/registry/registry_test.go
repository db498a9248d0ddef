package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolstream/internal/registry"
	"toolstream/internal/toolerr"
)

func forecastTool() registry.Tool {
	return registry.Tool{
		Descriptor: registry.Descriptor{
			Name:        "run_forecast",
			Description: "Run a forecast for a given dataset",
			Params: []registry.Param{
				{Name: "dataset_id", Type: registry.TypeInteger, Required: true},
				{Name: "horizon", Type: registry.TypeInteger, Default: 30},
				{Name: "overrides", Type: registry.TypeObject},
			},
		},
	}
}

func echoTool() registry.Tool {
	return registry.Tool{
		Descriptor: registry.Descriptor{Name: "echo", Description: "Echo arguments"},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	}
}

func TestRegistry_LookupReturnsRegisteredDescriptor(t *testing.T) {
	reg := registry.New()
	tool := forecastTool()
	require.NoError(t, reg.Register(tool))

	got, err := reg.Lookup("run_forecast")
	require.NoError(t, err)
	assert.Equal(t, tool.Descriptor, got.Descriptor)
	assert.False(t, got.Local())
	assert.Equal(t, "run_forecast", got.BackendRoute())
}

func TestRegistry_DuplicateTool(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(echoTool()))

	err := reg.Register(echoTool())
	assert.ErrorIs(t, err, toolerr.ErrDuplicateTool)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_UnknownTool(t *testing.T) {
	_, err := registry.New().Lookup("missing_tool")
	assert.ErrorIs(t, err, toolerr.ErrUnknownTool)
}

func TestRegistry_ListKeepsRegistrationOrder(t *testing.T) {
	reg := registry.New()
	names := []string{"zeta", "alpha", "mid"}
	for _, n := range names {
		require.NoError(t, reg.Register(registry.Tool{Descriptor: registry.Descriptor{Name: n}}))
	}

	var got []string
	for _, d := range reg.List() {
		got = append(got, d.Name)
	}
	assert.Equal(t, names, got)
}

func TestRegistry_RejectsBadDescriptors(t *testing.T) {
	reg := registry.New()

	err := reg.Register(registry.Tool{})
	assert.ErrorIs(t, err, toolerr.ErrInvalidArguments)

	err = reg.Register(registry.Tool{Descriptor: registry.Descriptor{
		Name:   "bad",
		Params: []registry.Param{{Name: "x", Type: "date"}},
	}})
	assert.ErrorIs(t, err, toolerr.ErrInvalidArguments)

	err = reg.Register(registry.Tool{Descriptor: registry.Descriptor{
		Name:   "twice",
		Params: []registry.Param{{Name: "x", Type: registry.TypeString}, {Name: "x", Type: registry.TypeString}},
	}})
	assert.ErrorIs(t, err, toolerr.ErrInvalidArguments)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_ListIsACopy(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(forecastTool()))

	list := reg.List()
	list[0].Params[0].Name = "mutated"

	got, err := reg.Lookup("run_forecast")
	require.NoError(t, err)
	assert.Equal(t, "dataset_id", got.Params[0].Name)
}
