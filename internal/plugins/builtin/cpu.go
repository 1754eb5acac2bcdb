package builtin

import (
	"context"
	"fmt"
	"strconv"

	"checkengine/internal/plugin/api"
)

// cpuLoad is the parsed cpu section: "load1 load5 load15 running/total lastpid [cpus]".
type cpuLoad struct {
	Load1, Load5, Load15 float64
	NumCPUs              int // 0 表示未知
}

func parseCPU(rows [][]string) (any, error) {
	if len(rows) == 0 || len(rows[0]) < 3 {
		return nil, fmt.Errorf("cpu section needs at least three load averages")
	}
	row := rows[0]
	var (
		load [3]float64
		err  error
	)
	for i := range load {
		if load[i], err = strconv.ParseFloat(row[i], 64); err != nil {
			return nil, fmt.Errorf("invalid load average %q: %w", row[i], err)
		}
	}
	section := cpuLoad{Load1: load[0], Load5: load[1], Load15: load[2]}
	if len(row) >= 6 {
		section.NumCPUs, _ = strconv.Atoi(row[5])
	}
	return section, nil
}

func cpuSection() api.SectionPlugin {
	return api.SectionPlugin{Name: "cpu", ParseFunction: parseCPU}
}

func cpuLoadsCheck() api.CheckPlugin {
	return api.CheckPlugin{
		Name:              "cpu_loads",
		Sections:          []string{"cpu"},
		ServiceName:       "CPU load",
		DiscoveryFunction: singleService,
		CheckFunction:     checkCPULoads,
		CheckDefaultParameters: api.Parameters{
			"levels": []any{5.0, 10.0},
		},
		CheckRulesetName: "cpu_load",
	}
}

// checkCPULoads checks the 15 minute load average. Fixed levels are per core;
// predictive levels are absolute.
func checkCPULoads(_ context.Context, req api.CheckRequest) api.CheckResult {
	section, ok := req.Sections["section"].(cpuLoad)
	if !ok {
		return api.Results()
	}
	lv, err := parseLevels(req.Params["levels"])
	if err != nil {
		return api.Fail(err)
	}
	cores := max(section.NumCPUs, 1)
	lv = lv.scaled(float64(cores))

	render := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	state := lv.upper(section.Load15)
	load15 := api.Metric("load15", section.Load15)
	if lv.warn != nil {
		load15 = load15.WithLevels(*lv.warn, *lv.crit)
	}

	outcomes := []api.Outcome{
		api.NewVerdict(state, "15 min load: "+render(section.Load15)+lv.describe(state, render)),
		load15,
		api.Metric("load1", section.Load1),
		api.Metric("load5", section.Load5),
	}
	if lv.predictive && lv.reference != nil {
		outcomes = append(outcomes, api.Metric("predict_load15", *lv.reference))
	}
	if section.NumCPUs > 0 {
		outcomes = append(outcomes, api.Notice(api.StateOK,
			fmt.Sprintf("15 min load per core: %s (%d cores)", render(section.Load15/float64(cores)), section.NumCPUs)))
	}
	return api.Results(outcomes...)
}
