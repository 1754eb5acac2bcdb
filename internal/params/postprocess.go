package params

import (
	"context"
	"fmt"
)

// Deferred value strategies.
const (
	StrategyPredictiveLevels = "predictive_levels"
	StrategyOnlyFrom         = "only_from"
)

const (
	referenceMetricKey = "__reference_metric__"
	directionKey       = "__direction__"
)

// Direction selects which side of the prediction the levels apply to.
type Direction string

const (
	DirectionUpper Direction = "upper" // 上限
	DirectionLower Direction = "lower" // 下限
)

// ValidationError reports a malformed deferred value.
type ValidationError struct {
	Strategy string // 解析策略
	Reason   string // 失败原因
	Payload  any    // 原始内容
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s: %v", e.Strategy, e.Reason, e.Payload)
}

// Bounds are resolved warn/crit levels.
type Bounds struct {
	Warn float64 `json:"warn"`
	Crit float64 `json:"crit"`
}

// PredictiveLookup resolves predictive levels from historical data.
// A nil value and nil bounds mean no prediction is available yet.
type PredictiveLookup interface {
	LookupPredictiveLevels(
		ctx context.Context,
		metric string,
		direction Direction,
		p PredictionParameters,
		injected InjectedParameters,
	) (*float64, *Bounds, error)
}

// InjectedParameters is the evaluation context handed to deferred values.
type InjectedParameters struct {
	HostName             string           // 主机名
	ServiceDescription   string           // 服务描述
	MetaFilePathTemplate string           // 预测元数据文件路径模板
	Lookup               PredictiveLookup // 预测后端（可为空）
}

// Dump renders the serializable part for the legacy __injected__ key.
func (p InjectedParameters) Dump() Value {
	return NewMap(map[string]Value{
		"meta_file_path_template": Str(p.MetaFilePathTemplate),
	})
}

// NeedsPostprocessing reports whether v contains a deferred value or the legacy
// injected key at any depth.
func NeedsPostprocessing(v Value) bool {
	switch t := v.(type) {
	case Deferred:
		return true
	case List:
		for _, item := range t.Items {
			if NeedsPostprocessing(item) {
				return true
			}
		}
	case Map:
		if _, ok := t.Entries[InjectedKey]; ok {
			return true
		}
		for _, item := range t.Entries {
			if NeedsPostprocessing(item) {
				return true
			}
		}
	}
	return false
}

// PostProcess resolves all deferred values in v. Structure is preserved and
// values without markers pass through unchanged.
func PostProcess(ctx context.Context, v Value, injected InjectedParameters, onlyFrom Value) (Value, error) {
	switch t := v.(type) {
	case Deferred:
		switch t.Strategy {
		case StrategyPredictiveLevels:
			return postprocessPredictiveLevels(ctx, t.Payload, injected)
		case StrategyOnlyFrom:
			if onlyFrom == nil {
				return Null, nil
			}
			return onlyFrom, nil
		default:
			return nil, &ValidationError{Strategy: t.Strategy, Reason: "unknown strategy", Payload: ToAny(t.Payload)}
		}
	case List:
		items := make([]Value, len(t.Items))
		for i, item := range t.Items {
			resolved, err := PostProcess(ctx, item, injected, onlyFrom)
			if err != nil {
				return nil, err
			}
			items[i] = resolved
		}
		return List{Items: items, Tuple: t.Tuple}, nil
	case Map:
		entries := make(map[string]Value, len(t.Entries))
		for k, item := range t.Entries {
			if k == InjectedKey {
				entries[k] = injected.Dump()
				continue
			}
			resolved, err := PostProcess(ctx, item, injected, onlyFrom)
			if err != nil {
				return nil, err
			}
			entries[k] = resolved
		}
		return Map{Entries: entries}, nil
	}
	return v, nil
}

// postprocessPredictiveLevels resolves to ("predictive", (metric, value, bounds)).
func postprocessPredictiveLevels(ctx context.Context, payload Value, injected InjectedParameters) (Value, error) {
	invalid := func(reason string) error {
		return &ValidationError{Strategy: StrategyPredictiveLevels, Reason: reason, Payload: ToAny(payload)}
	}

	m, ok := payload.(Map)
	if !ok {
		return nil, invalid("payload is not a mapping")
	}
	metric, ok := scalarString(m, referenceMetricKey)
	if !ok {
		return nil, invalid("missing " + referenceMetricKey)
	}
	rawDirection, _ := scalarString(m, directionKey)
	direction := Direction(rawDirection)
	if direction != DirectionUpper && direction != DirectionLower {
		return nil, invalid(fmt.Sprintf("invalid %s %q", directionKey, rawDirection))
	}

	rest := make(map[string]Value, len(m.Entries))
	for k, val := range m.Entries {
		if k != referenceMetricKey && k != directionKey {
			rest[k] = val
		}
	}
	predParams, err := ParsePredictionParameters(Map{Entries: rest})
	if err != nil {
		return nil, invalid(err.Error())
	}

	var (
		value  *float64
		bounds *Bounds
	)
	if injected.Lookup != nil {
		value, bounds, err = injected.Lookup.LookupPredictiveLevels(ctx, metric, direction, predParams, injected)
		if err != nil {
			return nil, fmt.Errorf("failed to look up predictive levels for %s: %w", metric, err)
		}
	}

	resolvedValue := Value(Null)
	if value != nil {
		resolvedValue = Float(*value)
	}
	resolvedBounds := Value(Null)
	if bounds != nil {
		resolvedBounds = Tuple(Float(bounds.Warn), Float(bounds.Crit))
	}
	return Tuple(Str("predictive"), Tuple(Str(metric), resolvedValue, resolvedBounds)), nil
}

func scalarString(m Map, key string) (string, bool) {
	v, ok := m.Entries[key]
	if !ok {
		return "", false
	}
	s, ok := v.(Scalar)
	if !ok {
		return "", false
	}
	return s.String()
}
