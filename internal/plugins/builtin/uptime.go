package builtin

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"checkengine/internal/plugin/api"
)

// uptime is the parsed uptime section.
type uptime struct {
	Seconds float64
}

func parseUptime(rows [][]string) (any, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty uptime section")
	}
	seconds, err := strconv.ParseFloat(rows[0][0], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid uptime %q: %w", rows[0][0], err)
	}
	return uptime{Seconds: seconds}, nil
}

func uptimeSection() api.SectionPlugin {
	return api.SectionPlugin{Name: "uptime", ParseFunction: parseUptime}
}

func uptimeCheck() api.CheckPlugin {
	return api.CheckPlugin{
		Name:                   "uptime",
		ServiceName:            "Uptime",
		DiscoveryFunction:      singleService,
		CheckFunction:          checkUptime,
		CheckDefaultParameters: api.Parameters{},
		CheckRulesetName:       "uptime",
	}
}

// checkUptime reports the time since boot. Optional "min" levels catch recent
// reboots, "max" levels overdue ones.
func checkUptime(_ context.Context, req api.CheckRequest) api.CheckResult {
	section, ok := req.Sections["section"].(uptime)
	if !ok {
		return api.Results()
	}
	minLevels, err := parseLevels(req.Params["min"])
	if err != nil {
		return api.Fail(err)
	}
	maxLevels, err := parseLevels(req.Params["max"])
	if err != nil {
		return api.Fail(err)
	}

	state := api.WorstState(minLevels.lower(section.Seconds), maxLevels.upper(section.Seconds))
	text := "Up since " + now().Add(-time.Duration(section.Seconds*float64(time.Second))).Format(time.DateTime) +
		", uptime: " + renderTimespan(section.Seconds)
	switch {
	case minLevels.lower(section.Seconds) != api.StateOK:
		text += minLevels.describe(state, renderTimespan)
	case maxLevels.upper(section.Seconds) != api.StateOK:
		text += maxLevels.describe(state, renderTimespan)
	}

	return api.Results(
		api.NewVerdict(state, text),
		api.Metric("uptime", section.Seconds),
	)
}

// renderTimespan renders seconds as "3 days 04:05:06".
func renderTimespan(seconds float64) string {
	total := int64(seconds)
	days := total / 86400
	clock := fmt.Sprintf("%02d:%02d:%02d", total%86400/3600, total%3600/60, total%60)
	switch days {
	case 0:
		return clock
	case 1:
		return "1 day " + clock
	}
	return fmt.Sprintf("%d days %s", days, clock)
}
