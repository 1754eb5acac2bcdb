// Package model provides data models for the check engine.
package model

import (
	"fmt"
	"math"
	"strings"
)

const (
	itemNotFoundOutput   = "Item not found in monitoring data"
	receivedNoDataOutput = "Check plug-in received no monitoring data"
	notImplementedOutput = "Check plug-in not implemented"
)

// MetricTuple is one performance metric: name, value and optional levels and boundaries.
type MetricTuple struct {
	Name  string   `json:"name"`
	Value float64  `json:"value"`
	Warn  *float64 `json:"warn,omitempty"`
	Crit  *float64 `json:"crit,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// String renders the metric in performance data notation.
func (m MetricTuple) String() string {
	parts := []string{formatFloat(m.Value)}
	for _, v := range []*float64{m.Warn, m.Crit, m.Min, m.Max} {
		if v == nil {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, formatFloat(*v))
	}
	return m.Name + "=" + strings.TrimRight(strings.Join(parts, ";"), ";")
}

func formatFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// ServiceCheckResult is the canonical evaluator output.
// Unsubmittable results are informational and may be suppressed by the caller.
type ServiceCheckResult struct {
	State       ServiceState  `json:"state"`
	Output      string        `json:"output"`
	Metrics     []MetricTuple `json:"metrics,omitempty"`
	Submittable bool          `json:"submittable"`
}

// NewSubmittableResult creates a result that should be reported.
func NewSubmittableResult(state ServiceState, output string, metrics []MetricTuple) ServiceCheckResult {
	return ServiceCheckResult{State: state, Output: output, Metrics: metrics, Submittable: true}
}

// NewUnsubmittableResult creates an informational result.
func NewUnsubmittableResult(state ServiceState, output string, metrics []MetricTuple) ServiceCheckResult {
	return ServiceCheckResult{State: state, Output: output, Metrics: metrics, Submittable: false}
}

// ItemNotFound is the result when a plugin yields nothing at all.
func ItemNotFound() ServiceCheckResult {
	return NewUnsubmittableResult(StateUnknown, itemNotFoundOutput, nil)
}

// ReceivedNoData is the result when none of the plugin's sections is available.
func ReceivedNoData() ServiceCheckResult {
	return NewUnsubmittableResult(StateUnknown, receivedNoDataOutput, nil)
}

// ClusterReceivedNoData is the cluster variant of ReceivedNoData listing the nodes considered.
func ClusterReceivedNoData(nodes []HostName) ServiceCheckResult {
	nodeInfo := "(no nodes configured)"
	if len(nodes) > 0 {
		nodeInfo = "(configured nodes: " + strings.Join(nodes, ", ") + ")"
	}
	return NewUnsubmittableResult(
		StateUnknown,
		"Clustered service received no monitoring data "+nodeInfo,
		nil,
	)
}

// CheckPluginMissing is the result for a service whose plugin is not registered.
func CheckPluginMissing() ServiceCheckResult {
	return NewUnsubmittableResult(StateUnknown, notImplementedOutput, nil)
}

// IsItemNotFound reports whether r is the canonical item-not-found result.
func (r ServiceCheckResult) IsItemNotFound() bool {
	return !r.Submittable && r.State == StateUnknown && r.Output == itemNotFoundOutput
}

// Summary returns the first line of the output.
func (r ServiceCheckResult) Summary() string {
	summary, _, _ := strings.Cut(r.Output, "\n")
	return summary
}

// AggregatedResult wraps a check result with data availability and cache freshness.
type AggregatedResult struct {
	Service      ConfiguredService  `json:"service"`
	DataReceived bool               `json:"data_received"`
	Result       ServiceCheckResult `json:"result"`
	CacheInfo    *CacheInfo         `json:"cache_info,omitempty"`
}

// ActiveCheckResult is the summarizer output for one data source.
type ActiveCheckResult struct {
	State   ServiceState `json:"state"`
	Summary string       `json:"summary"`
	Details []string     `json:"details,omitempty"`
	Metrics []string     `json:"metrics,omitempty"`
}

// ActiveCheckResultFromSubresults folds sub-results: worst state, comma-joined summaries,
// concatenated details and metrics.
func ActiveCheckResultFromSubresults(subresults ...ActiveCheckResult) ActiveCheckResult {
	var (
		states    []ServiceState
		summaries []string
		details   []string
		metrics   []string
	)
	for _, s := range subresults {
		states = append(states, s.State)
		if s.Summary != "" {
			summaries = append(summaries, s.Summary)
		}
		details = append(details, s.Details...)
		metrics = append(metrics, s.Metrics...)
	}
	return ActiveCheckResult{
		State:   WorstState(states...),
		Summary: strings.Join(summaries, ", "),
		Details: details,
		Metrics: metrics,
	}
}

// Output renders the result as monitoring plugin output.
func (r ActiveCheckResult) Output() string {
	var sb strings.Builder
	sb.WriteString(r.Summary)
	if len(r.Metrics) > 0 {
		sb.WriteString(" | ")
		sb.WriteString(strings.Join(r.Metrics, " "))
	}
	for _, d := range r.Details {
		sb.WriteString("\n")
		sb.WriteString(d)
	}
	return sb.String()
}
