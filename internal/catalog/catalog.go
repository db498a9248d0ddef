// Package catalog assembles the tools served by a toolstream process: the
// built-in set plus backend tools declared in configuration.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"toolstream/internal/config"
	"toolstream/internal/registry"
)

// Builtin returns the default tools. Local tools run in-process; the rest are
// forwarded to the backend route of the same name.
func Builtin() []registry.Tool {
	return []registry.Tool{
		{
			Descriptor: registry.Descriptor{
				Name:        "echo",
				Description: "Return the arguments unchanged",
			},
			Handler: echo,
		},
		{
			Descriptor: registry.Descriptor{
				Name:        "explain_chart",
				Description: "Explain a chart based on context",
				Params: []registry.Param{
					{Name: "chart_context", Type: registry.TypeString, Required: true, Description: "Context or data summary of the chart"},
				},
			},
			Handler: explainChart,
		},
		{
			Descriptor: registry.Descriptor{
				Name:        "run_forecast",
				Description: "Run a forecast for a given dataset",
				Params: []registry.Param{
					{Name: "dataset_id", Type: registry.TypeInteger, Required: true, Description: "The ID of the dataset to forecast"},
					{Name: "horizon", Type: registry.TypeInteger, Description: "Number of days to forecast", Default: 30},
					{Name: "overrides", Type: registry.TypeObject, Description: "Scenario overrides applied to drivers"},
				},
			},
		},
		{
			Descriptor: registry.Descriptor{
				Name:        "run_backtest",
				Description: "Run a rolling-window backtest and return error metrics",
				Params: []registry.Param{
					{Name: "dataset_id", Type: registry.TypeInteger, Required: true},
					{Name: "horizons", Type: registry.TypeArray, Description: "Forecast horizons in days"},
				},
			},
		},
		{
			Descriptor: registry.Descriptor{
				Name:        "get_executive_summary",
				Description: "Summarize a forecast run",
				Params: []registry.Param{
					{Name: "run_id", Type: registry.TypeInteger, Required: true},
				},
			},
		},
		{
			Descriptor: registry.Descriptor{
				Name:        "list_features",
				Description: "List available features from the feature store",
			},
		},
		{
			Descriptor: registry.Descriptor{
				Name:        "schedule_job",
				Description: "Schedule a recurring job",
				Params: []registry.Param{
					{Name: "job_type", Type: registry.TypeString, Required: true},
					{Name: "schedule", Type: registry.TypeString, Required: true, Description: "Cron expression"},
				},
			},
		},
		{
			Descriptor: registry.Descriptor{
				Name:        "connect_source",
				Description: "Connect a data source and start ingestion",
				Params: []registry.Param{
					{Name: "source", Type: registry.TypeString, Required: true},
				},
			},
		},
	}
}

func echo(_ context.Context, args map[string]any) (any, error) {
	return args, nil
}

func explainChart(_ context.Context, args map[string]any) (any, error) {
	chartContext := strings.TrimSpace(cast.ToString(args["chart_context"]))
	return fmt.Sprintf("Explanation for %s: Trend is upwards with high confidence.", chartContext), nil
}

// FromConfig converts configured tool declarations into backend tools.
func FromConfig(tools []config.ToolConfig) ([]registry.Tool, error) {
	out := make([]registry.Tool, 0, len(tools))
	for _, tc := range tools {
		tool := registry.Tool{
			Descriptor: registry.Descriptor{Name: tc.Name, Description: tc.Description},
			Route:      tc.Route,
		}
		for _, pc := range tc.Params {
			typ := registry.ParamType(pc.Type)
			def, err := coerceDefault(typ, pc.Default)
			if err != nil {
				return nil, fmt.Errorf("tool %s: param %s: %w", tc.Name, pc.Name, err)
			}
			tool.Params = append(tool.Params, registry.Param{
				Name:        pc.Name,
				Type:        typ,
				Required:    pc.Required,
				Description: pc.Description,
				Default:     def,
			})
		}
		out = append(out, tool)
	}
	return out, nil
}

// coerceDefault normalizes YAML/env scalars to the declared parameter type.
func coerceDefault(typ registry.ParamType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case registry.TypeString:
		return cast.ToStringE(v)
	case registry.TypeInteger:
		return cast.ToInt64E(v)
	case registry.TypeNumber:
		return cast.ToFloat64E(v)
	case registry.TypeBoolean:
		return cast.ToBoolE(v)
	case registry.TypeObject:
		return cast.ToStringMapE(v)
	case registry.TypeArray:
		return cast.ToSliceE(v)
	}
	return v, nil
}

// NewRegistry registers the built-ins followed by the configured tools.
func NewRegistry(tools []config.ToolConfig) (*registry.Registry, error) {
	reg := registry.New()
	extra, err := FromConfig(tools)
	if err != nil {
		return nil, err
	}
	for _, tool := range append(Builtin(), extra...) {
		if err := reg.Register(tool); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
