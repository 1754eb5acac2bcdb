//go:build ignore
// +build ignore

// This script generates a sample check report in every format for manual verification.
// Run with: go run scripts/verify_excel.go
package main

import (
	"fmt"
	"os"
	"time"

	"checkengine/internal/model"
	"checkengine/internal/report"
)

func main() {
	tz, _ := time.LoadLocation("Asia/Shanghai")
	run := createSampleRun(tz)

	reg := report.NewRegistry(tz, "")
	paths, err := reg.WriteAll(run, ".", "sample_check_report", []string{"excel", "html"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}
	for _, p := range paths {
		fmt.Printf("✅ Report generated: %s\n", p)
	}

	fmt.Println("\nReport contents:")
	fmt.Println("  - 检查概览: Summary statistics")
	fmt.Println("  - 主机状态: One row per host")
	fmt.Println("  - 服务详情: Submittable service results with metrics")
	fmt.Println("  - 问题汇总: Non-OK services sorted by state")
	fmt.Println("  - 数据源: Data source states and fetch durations")
	fmt.Println("\nPlease open the files to verify:")
	fmt.Println("  - Time is in Asia/Shanghai timezone")
	fmt.Println("  - Warning cells have yellow background")
	fmt.Println("  - Critical cells have red background")
	fmt.Println("  - Problems are sorted (critical first)")
}

func createSampleRun(tz *time.Location) *model.CheckRun {
	started := time.Now().In(tz)
	run := model.NewCheckRun(started)
	run.Version = "1.0.0-dev"

	run.AddHost(createHost("web-server-01", "192.168.1.10", started,
		service("cpu_loads", "", "CPU load", model.StateOK, "15 min load: 0.52", metric("load15", 0.52, 16, 32)),
		service("df", "/", "Filesystem /", model.StateOK, "Used: 52% - 26 GiB of 50 GiB", metric("fs_used_percent", 52, 80, 90)),
		service("uptime", "", "Uptime", model.StateOK, "Up since 2024-01-01 08:00:00, uptime: 100 days 02:00:00"),
	))
	run.AddHost(createHost("db-server-01", "192.168.1.20", started,
		service("df", "/data", "Filesystem /data", model.StateWarn, "Used: 85% (warn/crit at 80%/90%)(!)", metric("fs_used_percent", 85, 80, 90)),
		service("cpu_loads", "", "CPU load", model.StateOK, "15 min load: 3.10"),
	))
	run.AddHost(createHost("app-server-01", "192.168.1.30", started,
		service("df", "/", "Filesystem /", model.StateCrit, "Used: 97% (warn/crit at 80%/90%)(!!)\nGrowth: +1.2 GiB/day", metric("fs_used_percent", 97, 80, 90)),
		service("cpu_loads", "", "CPU load", model.StateWarn, "15 min load: 18.20 (warn/crit at 16.00/32.00)(!)"),
	))

	failed := model.NewHostResult("monitor-01", started)
	failed.IP = "192.168.1.40"
	failed.Error = "check of monitor-01 aborted: context deadline exceeded"
	failed.Finalize(started.Add(60 * time.Second))
	run.AddHost(failed)

	run.Finalize(started.Add(3*time.Second + 500*time.Millisecond))
	return run
}

func createHost(hostname, ip string, started time.Time, services ...model.AggregatedResult) *model.HostResult {
	host := model.NewHostResult(hostname, started)
	host.IP = ip
	for _, svc := range services {
		host.AddService(svc)
	}
	host.AddSource(model.SourceResult{
		Source: model.SourceInfo{HostName: hostname, IPAddress: ip, Ident: "agent", FetcherType: model.FetcherTypeAgent},
		Result: model.ActiveCheckResult{State: model.StateOK, Summary: "[agent] Success"},
		Timing: model.Snapshot{Wall: 85 * time.Millisecond},
	})
	host.Finalize(started.Add(time.Second))
	return host
}

func service(plugin, item, description string, state model.ServiceState, output string, metrics ...model.MetricTuple) model.AggregatedResult {
	return model.AggregatedResult{
		Service:      model.ConfiguredService{CheckPluginName: model.CheckPluginName(plugin), Item: item, Description: description},
		DataReceived: true,
		Result:       model.NewSubmittableResult(state, output, metrics),
	}
}

func metric(name string, value, warn, crit float64) model.MetricTuple {
	return model.MetricTuple{Name: name, Value: value, Warn: &warn, Crit: &crit}
}
