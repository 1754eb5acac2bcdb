package html

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"checkengine/internal/model"
)

func createTestRun() *model.CheckRun {
	started := time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)
	run := model.NewCheckRun(started)

	web := model.NewHostResult("web01", started)
	web.IP = "10.0.0.1"
	web.AddService(model.AggregatedResult{
		Service:      model.ConfiguredService{CheckPluginName: "df", Item: "/", Description: "Filesystem /"},
		DataReceived: true,
		Result: model.NewSubmittableResult(model.StateCrit, "Used: 95%\nGrowth: +10 KiB/day", []model.MetricTuple{
			{Name: "fs_used_percent", Value: 95},
		}),
	})
	web.AddService(model.AggregatedResult{
		Service: model.ConfiguredService{CheckPluginName: "hidden", Description: "Hidden service"},
		Result:  model.ItemNotFound(),
	})
	web.AddSource(model.SourceResult{
		Source: model.SourceInfo{HostName: "web01", Ident: "agent", FetcherType: model.FetcherTypeAgent},
		Result: model.ActiveCheckResult{State: model.StateOK, Summary: "Success"},
	})
	web.Finalize(started.Add(time.Second))

	run.AddHost(web)
	run.Finalize(started.Add(time.Second))
	return run
}

func TestNewWriter(t *testing.T) {
	w := NewWriter(nil, "")
	if w.timezone.String() != "Asia/Shanghai" {
		t.Errorf("timezone = %v, want Asia/Shanghai", w.timezone)
	}
	if w.Format() != "html" {
		t.Errorf("Format() = %v, want html", w.Format())
	}
}

func TestWriter_Write_NilRun(t *testing.T) {
	if err := NewWriter(nil, "").Write(nil, "x.html"); err == nil {
		t.Error("Write() with nil run should return error")
	}
}

func TestWriter_Write_EmbeddedTemplate(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "report")
	w := NewWriter(time.UTC, "")
	w.now = func() time.Time { return time.Date(2024, 3, 10, 2, 5, 0, 0, time.UTC) }

	if err := w.Write(createTestRun(), outputPath); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	content, err := os.ReadFile(outputPath + ".html")
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	html := string(content)

	for _, want := range []string{
		"服务检查报告",
		"2024-03-10 02:00:00",
		"web01",
		"Filesystem /",
		"Used: 95%",
		"Growth: &#43;10 KiB/day", // html/template escapes "+"
		"fs_used_percent=95",
		`class="status-critical">CRIT`,
		"生成时间: 2024-03-10 02:05:00",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("report does not contain %q", want)
		}
	}
	if strings.Contains(html, "Hidden service") {
		t.Error("unsubmittable results should not be rendered")
	}
}

func TestWriter_Write_UserTemplate(t *testing.T) {
	dir := t.TempDir()
	tmplPath := filepath.Join(dir, "custom.html")
	if err := os.WriteFile(tmplPath, []byte(`{{.Title}}|{{len .Hosts}}|{{len .Problems}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	outputPath := filepath.Join(dir, "out.html")
	if err := NewWriter(time.UTC, tmplPath).Write(createTestRun(), outputPath); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	content, _ := os.ReadFile(outputPath)
	if got := string(content); got != "服务检查报告|1|1" {
		t.Errorf("content = %q", got)
	}
}

func TestWriter_Write_MissingUserTemplateFallsBack(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "out.html")
	if err := NewWriter(time.UTC, "/does/not/exist.html").Write(createTestRun(), outputPath); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	content, _ := os.ReadFile(outputPath)
	if !strings.Contains(string(content), "<!DOCTYPE html>") {
		t.Error("expected embedded template output")
	}
}

func TestConvertHost_Details(t *testing.T) {
	w := NewWriter(time.UTC, "")
	host := w.convertHost(createTestRun().Hosts[0])

	if len(host.Services) != 1 {
		t.Fatalf("services = %d, want 1", len(host.Services))
	}
	svc := host.Services[0]
	if svc.Summary != "Used: 95%" {
		t.Errorf("Summary = %q", svc.Summary)
	}
	if len(svc.Details) != 1 || svc.Details[0] != "Growth: +10 KiB/day" {
		t.Errorf("Details = %v", svc.Details)
	}
	if host.StatusClass != "status-critical" {
		t.Errorf("StatusClass = %q", host.StatusClass)
	}
}
