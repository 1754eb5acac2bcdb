package params

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLookup returns fixed predictive levels and counts calls.
type stubLookup struct {
	calls     int
	value     *float64
	bounds    *Bounds
	err       error
	direction Direction
	params    PredictionParameters
}

func (s *stubLookup) LookupPredictiveLevels(
	_ context.Context,
	_ string,
	direction Direction,
	p PredictionParameters,
	_ InjectedParameters,
) (*float64, *Bounds, error) {
	s.calls++
	s.direction = direction
	s.params = p
	return s.value, s.bounds, s.err
}

func predictivePayload() map[string]any {
	return map[string]any{
		"__reference_metric__": "load15",
		"__direction__":        "upper",
		"period":               "wday",
		"horizon":              90,
		"levels":               []any{"relative", []any{10.0, 20.0}},
		"bound":                nil,
	}
}

func TestNeedsPostprocessing(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{"scalar", 42, false},
		{"plain list", []any{1, "a", nil}, false},
		{"plain map", map[string]any{"levels": []any{1.0, 2.0}, "x": map[string]any{"y": "z"}}, false},
		{"top level marker", []any{PostprocessedTag, "only_from", nil}, true},
		{"nested marker", map[string]any{"a": []any{map[string]any{"b": []any{PostprocessedTag, "predictive_levels", predictivePayload()}}}}, true},
		{"legacy injected key", map[string]any{"x": map[string]any{InjectedKey: nil}}, true},
		{"marker lookalike with non string strategy", []any{PostprocessedTag, 1, nil}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsPostprocessing(FromAny(tt.in)))
		})
	}
}

func TestPostProcess_PredictiveLevels(t *testing.T) {
	ref := 4.2
	lookup := &stubLookup{value: &ref, bounds: &Bounds{Warn: 4.62, Crit: 5.04}}
	in := FromAny(map[string]any{
		"levels_upper": []any{PostprocessedTag, "predictive_levels", predictivePayload()},
		"other":        "keep",
	})

	out, err := PostProcess(context.Background(), in, InjectedParameters{Lookup: lookup}, nil)
	require.NoError(t, err)

	want := map[string]any{
		"levels_upper": []any{"predictive", []any{"load15", 4.2, []any{4.62, 5.04}}},
		"other":        "keep",
	}
	if diff := cmp.Diff(want, ToAny(out)); diff != "" {
		t.Errorf("PostProcess() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, lookup.calls)
	assert.Equal(t, DirectionUpper, lookup.direction)
	assert.Equal(t, PeriodWeekday, lookup.params.Period)
	assert.Equal(t, 90, lookup.params.Horizon)
	assert.Equal(t, Levels{Type: LevelsRelative, Warn: 10, Crit: 20}, lookup.params.Levels)
	assert.Nil(t, lookup.params.Bound)
}

func TestPostProcess_PredictiveLevelsWithoutPrediction(t *testing.T) {
	lookup := &stubLookup{}
	in := FromAny([]any{PostprocessedTag, "predictive_levels", predictivePayload()})

	out, err := PostProcess(context.Background(), in, InjectedParameters{Lookup: lookup}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"predictive", []any{"load15", nil, nil}}, ToAny(out))
}

func TestPostProcess_InvalidPredictiveLevels(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing reference metric", func(m map[string]any) { delete(m, "__reference_metric__") }},
		{"reference metric not a string", func(m map[string]any) { m["__reference_metric__"] = 3 }},
		{"missing direction", func(m map[string]any) { delete(m, "__direction__") }},
		{"invalid direction", func(m map[string]any) { m["__direction__"] = "sideways" }},
		{"invalid period", func(m map[string]any) { m["period"] = "fortnight" }},
		{"invalid levels", func(m map[string]any) { m["levels"] = "high" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := predictivePayload()
			tt.mutate(payload)
			lookup := &stubLookup{}

			out, err := PostProcess(
				context.Background(),
				FromAny([]any{PostprocessedTag, "predictive_levels", payload}),
				InjectedParameters{Lookup: lookup},
				nil,
			)

			require.Error(t, err)
			assert.Nil(t, out)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "expected *ValidationError, got %T", err)
			assert.Zero(t, lookup.calls, "lookup must not run for invalid payloads")
		})
	}
}

func TestPostProcess_LookupFailure(t *testing.T) {
	lookup := &stubLookup{err: errors.New("backend down")}
	_, err := PostProcess(
		context.Background(),
		FromAny([]any{PostprocessedTag, "predictive_levels", predictivePayload()}),
		InjectedParameters{Lookup: lookup},
		nil,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestPostProcess_OnlyFrom(t *testing.T) {
	in := FromAny(map[string]any{"allowed": []any{PostprocessedTag, "only_from", nil}})
	onlyFrom := FromAny([]any{"10.0.0.1", "10.0.0.2"})

	out, err := PostProcess(context.Background(), in, InjectedParameters{}, onlyFrom)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"allowed": []any{"10.0.0.1", "10.0.0.2"}}, ToAny(out))

	out, err = PostProcess(context.Background(), in, InjectedParameters{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"allowed": nil}, ToAny(out))
}

func TestPostProcess_LegacyInjectedKey(t *testing.T) {
	in := FromAny(map[string]any{
		"levels":    []any{1.0, 2.0},
		InjectedKey: nil,
	})
	injected := InjectedParameters{MetaFilePathTemplate: "/var/predictions/h/svc/{metric}.meta"}

	out, err := PostProcess(context.Background(), in, injected, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"levels":    []any{1.0, 2.0},
		InjectedKey: map[string]any{"meta_file_path_template": "/var/predictions/h/svc/{metric}.meta"},
	}, ToAny(out))
}

func TestPostProcess_UnknownStrategy(t *testing.T) {
	_, err := PostProcess(
		context.Background(),
		FromAny([]any{PostprocessedTag, "teleport", nil}),
		InjectedParameters{},
		nil,
	)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "teleport", verr.Strategy)
}

func TestPostProcess_IdempotentOnResolvedData(t *testing.T) {
	inputs := []any{
		map[string]any{"levels": []any{80.0, 90.0}, "name": "x", "nested": map[string]any{"a": []any{1, 2}}},
		[]any{"predictive", []any{"load15", 1.5, []any{2.0, 3.0}}},
		"plain",
		nil,
	}

	for _, in := range inputs {
		v := FromAny(in)
		once, err := PostProcess(context.Background(), v, InjectedParameters{}, nil)
		require.NoError(t, err)
		twice, err := PostProcess(context.Background(), once, InjectedParameters{}, nil)
		require.NoError(t, err)

		assert.Equal(t, ToAny(once), ToAny(twice))
		assert.Equal(t, ToAny(v), ToAny(once))
	}
}

func TestPostProcess_ResolvedOutputNeedsNoFurtherWork(t *testing.T) {
	ref := 1.0
	lookup := &stubLookup{value: &ref, bounds: &Bounds{Warn: 2, Crit: 3}}
	out, err := PostProcess(
		context.Background(),
		FromAny(map[string]any{"l": []any{PostprocessedTag, "predictive_levels", predictivePayload()}}),
		InjectedParameters{Lookup: lookup},
		nil,
	)
	require.NoError(t, err)
	assert.False(t, NeedsPostprocessing(out))
}
