// Package api is the versioned contract check plugins are written against.
// The engine adapts it through internal/plugin and never hands plugins engine types.
package api

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// Version of the plugin contract.
const Version = "v1"

// State is the plugin facing monitoring state.
type State int

const (
	StateOK      State = 0
	StateWarn    State = 1
	StateCrit    State = 2
	StateUnknown State = 3
)

// WorstState returns the numerically highest state, or OK if none is given.
func WorstState(states ...State) State {
	worst := StateOK
	for _, s := range states {
		if s > worst {
			worst = s
		}
	}
	return worst
}

// Outcome is one item yielded by a check function: Ignore, MetricPoint or Verdict.
type Outcome interface {
	isOutcome()
}

// Ignore asks the engine to not submit the result of this sub-check.
type Ignore struct {
	Reason string
}

// MetricPoint is a performance metric with optional levels and boundaries.
type MetricPoint struct {
	Name  string
	Value float64
	Warn  *float64
	Crit  *float64
	Min   *float64
	Max   *float64
}

// Verdict is a state with summary and details text.
type Verdict struct {
	State   State
	Summary string
	Details string
}

func (Ignore) isOutcome()      {}
func (MetricPoint) isOutcome() {}
func (Verdict) isOutcome()     {}

// NewVerdict creates a verdict whose details default to the summary.
func NewVerdict(state State, summary string) Verdict {
	return Verdict{State: state, Summary: summary, Details: summary}
}

// Notice creates a verdict that only shows up in the details.
func Notice(state State, text string) Verdict {
	return Verdict{State: state, Details: text}
}

// Metric creates a metric point.
func Metric(name string, value float64) MetricPoint {
	return MetricPoint{Name: name, Value: value}
}

// WithLevels returns a copy of m carrying warn and crit levels.
func (m MetricPoint) WithLevels(warn, crit float64) MetricPoint {
	m.Warn, m.Crit = &warn, &crit
	return m
}

// WithBoundaries returns a copy of m carrying min and max boundaries.
func (m MetricPoint) WithBoundaries(minValue, maxValue float64) MetricPoint {
	m.Min, m.Max = &minValue, &maxValue
	return m
}

// IgnoreResultsError aborts a check function and turns its output into an ignore result.
type IgnoreResultsError struct {
	Reason string
}

// Error implements the error interface.
func (e *IgnoreResultsError) Error() string {
	return e.Reason
}

// IgnoreResults creates an IgnoreResultsError.
func IgnoreResults(format string, args ...any) error {
	return &IgnoreResultsError{Reason: fmt.Sprintf(format, args...)}
}

// ErrTimeout is the cooperative timeout signal. Plugins return it (or wrap it) when
// they observe their deadline; the engine passes it to its caller unchanged.
var ErrTimeout = errors.New("check timed out")

// CheckResult is the lazy, single-use sequence a check function produces.
type CheckResult = iter.Seq2[Outcome, error]

// Results builds a CheckResult from a fixed list of outcomes.
func Results(outcomes ...Outcome) CheckResult {
	return func(yield func(Outcome, error) bool) {
		for _, o := range outcomes {
			if !yield(o, nil) {
				return
			}
		}
	}
}

// Fail builds a CheckResult that yields the given outcomes and then err.
func Fail(err error, outcomes ...Outcome) CheckResult {
	return func(yield func(Outcome, error) bool) {
		for _, o := range outcomes {
			if !yield(o, nil) {
				return
			}
		}
		yield(nil, err)
	}
}

// RenderPercent formats a percentage the way plugins usually show it.
func RenderPercent(v float64) string {
	return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%.2f", v), "0"), ".0") + "%"
}
