package checking

import (
	"errors"
	"fmt"
	"strings"

	"checkengine/internal/model"
	"checkengine/internal/plugin/api"
)

// consumed holds the outcomes of one check function run, split by kind.
type consumed struct {
	ignores []string
	metrics []model.MetricTuple
	results []api.Verdict
}

// consume drains a check result. An IgnoreResultsError replaces every ignore seen
// so far and keeps the metrics and verdicts collected before it; any other error is
// returned unchanged.
func consume(res api.CheckResult) (consumed, error) {
	var c consumed
	if res == nil {
		return c, nil
	}
	for outcome, err := range res {
		if err != nil {
			var ignore *api.IgnoreResultsError
			if errors.As(err, &ignore) {
				c.ignores = []string{ignore.Reason}
				return c, nil
			}
			return c, err
		}
		switch o := outcome.(type) {
		case api.Ignore:
			c.ignores = append(c.ignores, o.Reason)
		case api.MetricPoint:
			c.metrics = append(c.metrics, model.MetricTuple{
				Name:  o.Name,
				Value: o.Value,
				Warn:  o.Warn,
				Crit:  o.Crit,
				Min:   o.Min,
				Max:   o.Max,
			})
		case api.Verdict:
			if !model.ServiceState(o.State).Valid() {
				return c, fmt.Errorf("check function yielded invalid state %d", o.State)
			}
			if o.Details == "" {
				o.Details = o.Summary
			}
			c.results = append(c.results, o)
		default:
			return c, fmt.Errorf("check function yielded unexpected %T", outcome)
		}
	}
	return c, nil
}

// aggregate merges consumed outcomes into exactly one service check result.
func aggregate(c consumed) model.ServiceCheckResult {
	if len(c.ignores) == 0 && len(c.results) == 0 {
		return model.ItemNotFound()
	}

	states := make([]model.ServiceState, len(c.results))
	for i, r := range c.results {
		states[i] = model.ServiceState(r.State)
	}
	state := model.WorstState(states...)
	output := aggregateTexts(c.ignores, c.results)

	if len(c.ignores) > 0 {
		return model.NewUnsubmittableResult(state, output, c.metrics)
	}
	return model.NewSubmittableResult(state, output, c.metrics)
}

// aggregateTexts builds the output: comma-joined summaries on the first line, one
// details line per result after it. State markers are added when there is more than
// one result.
func aggregateTexts(ignores []string, results []api.Verdict) string {
	var summaries []string
	for _, text := range ignores {
		if text != "" {
			summaries = append(summaries, text)
		}
	}

	needsMarker := len(results) > 1
	details := make([]string, 0, len(results))
	for _, r := range results {
		marker := ""
		if needsMarker {
			marker = model.ServiceState(r.State).Marker()
		}
		if r.Summary != "" {
			summaries = append(summaries, addStateMarker(r.Summary, marker))
		}
		details = append(details, addStateMarker(r.Details, marker))
	}

	if len(summaries) == 0 {
		suffix := "s"
		if len(details) == 1 {
			suffix = ""
		}
		summaries = append(summaries, fmt.Sprintf("Everything looks OK - %d detail%s available", len(details), suffix))
	}
	return strings.Join(append([]string{strings.Join(summaries, ", ")}, details...), "\n")
}

func addStateMarker(text, marker string) string {
	if strings.Contains(text, marker) {
		return text
	}
	return text + marker
}
