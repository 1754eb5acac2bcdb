// Package html provides HTML report generation for check runs.
package html

import (
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"checkengine/internal/model"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

// Writer implements report.Writer for HTML format.
type Writer struct {
	timezone     *time.Location
	templatePath string // 用户自定义模板路径（可选）
	now          func() time.Time
}

// TemplateData holds all data passed to the HTML template.
type TemplateData struct {
	Title       string
	CheckedAt   string
	Duration    string
	Summary     *model.RunSummary
	Hosts       []*HostData
	Problems    []*ProblemData
	Version     string
	GeneratedAt string
}

// HostData represents a host formatted for template rendering.
type HostData struct {
	Hostname    string
	IP          string
	IsCluster   bool
	Status      string
	StatusClass string
	Duration    string
	Error       string
	Services    []*ServiceData
	Sources     []*SourceData
}

// ServiceData represents one service result formatted for template rendering.
type ServiceData struct {
	Description string
	Plugin      string
	State       string
	StateClass  string
	Summary     string
	Details     []string
	Metrics     string
}

// SourceData represents the state of one data source.
type SourceData struct {
	Ident      string
	Fetcher    string
	State      string
	StateClass string
	Summary    string
	Duration   string
}

// ProblemData represents a non-OK service.
type ProblemData struct {
	Hostname    string
	Description string
	Plugin      string
	State       string
	StateClass  string
	Summary     string
}

// NewWriter creates a new HTML report writer.
// If timezone is nil, it defaults to Asia/Shanghai.
// If templatePath is empty, the embedded default template will be used.
func NewWriter(timezone *time.Location, templatePath string) *Writer {
	if timezone == nil {
		timezone, _ = time.LoadLocation("Asia/Shanghai")
	}
	return &Writer{
		timezone:     timezone,
		templatePath: templatePath,
		now:          time.Now,
	}
}

// Format returns the format identifier for this writer.
func (w *Writer) Format() string {
	return "html"
}

// Write generates an HTML report from the check run.
func (w *Writer) Write(run *model.CheckRun, outputPath string) error {
	if run == nil {
		return fmt.Errorf("check run is nil")
	}

	if !strings.HasSuffix(strings.ToLower(outputPath), ".html") {
		outputPath = outputPath + ".html"
	}

	tmpl, err := w.loadTemplate()
	if err != nil {
		return fmt.Errorf("failed to load template: %w", err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := tmpl.Execute(file, w.prepareTemplateData(run)); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// loadTemplate loads the user-defined template if it exists, else the embedded default.
func (w *Writer) loadTemplate() (*template.Template, error) {
	funcMap := template.FuncMap{
		"stateClass":  stateClass,
		"statusClass": statusClass,
	}

	if w.templatePath != "" {
		if _, err := os.Stat(w.templatePath); err == nil {
			tmpl, err := template.New(filepath.Base(w.templatePath)).Funcs(funcMap).ParseFiles(w.templatePath)
			if err != nil {
				return nil, fmt.Errorf("failed to parse user template: %w", err)
			}
			return tmpl, nil
		}
	}

	tmpl, err := template.New("default.html").Funcs(funcMap).ParseFS(embeddedTemplates, "templates/default.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded template: %w", err)
	}
	return tmpl, nil
}

// prepareTemplateData converts a CheckRun to TemplateData.
func (w *Writer) prepareTemplateData(run *model.CheckRun) *TemplateData {
	summary := run.Summary
	if summary == nil {
		summary = model.NewRunSummary(run.Hosts)
	}

	hosts := make([]*HostData, 0, len(run.Hosts))
	for _, host := range run.Hosts {
		hosts = append(hosts, w.convertHost(host))
	}

	problems := make([]*ProblemData, 0, len(run.Problems))
	for _, p := range run.Problems {
		problems = append(problems, &ProblemData{
			Hostname:    p.Hostname,
			Description: p.Description,
			Plugin:      p.Plugin,
			State:       p.State.String(),
			StateClass:  stateClass(p.State),
			Summary:     p.Summary,
		})
	}

	return &TemplateData{
		Title:       "服务检查报告",
		CheckedAt:   run.StartedAt.In(w.timezone).Format("2006-01-02 15:04:05"),
		Duration:    formatDuration(run.Duration),
		Summary:     summary,
		Hosts:       hosts,
		Problems:    problems,
		Version:     run.Version,
		GeneratedAt: w.now().In(w.timezone).Format("2006-01-02 15:04:05"),
	}
}

// convertHost converts a HostResult; unsubmittable service results are left out.
func (w *Writer) convertHost(host *model.HostResult) *HostData {
	data := &HostData{
		Hostname:    host.Hostname,
		IP:          host.IP,
		IsCluster:   host.IsCluster,
		Status:      statusText(host.Status),
		StatusClass: statusClass(host.Status),
		Duration:    formatDuration(host.Duration),
		Error:       host.Error,
	}
	for _, svc := range host.Services {
		if !svc.Result.Submittable {
			continue
		}
		_, details, _ := strings.Cut(svc.Result.Output, "\n")
		var lines []string
		if details != "" {
			lines = strings.Split(details, "\n")
		}
		metrics := make([]string, 0, len(svc.Result.Metrics))
		for _, m := range svc.Result.Metrics {
			metrics = append(metrics, m.String())
		}
		data.Services = append(data.Services, &ServiceData{
			Description: svc.Service.Description,
			Plugin:      string(svc.Service.CheckPluginName),
			State:       svc.Result.State.String(),
			StateClass:  stateClass(svc.Result.State),
			Summary:     svc.Result.Summary(),
			Details:     lines,
			Metrics:     strings.Join(metrics, " "),
		})
	}
	for _, src := range host.Sources {
		data.Sources = append(data.Sources, &SourceData{
			Ident:      src.Source.Ident,
			Fetcher:    string(src.Source.FetcherType),
			State:      src.Result.State.String(),
			StateClass: stateClass(src.Result.State),
			Summary:    src.Result.Summary,
			Duration:   formatDuration(src.Timing.Wall),
		})
	}
	return data
}

// Helper functions

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1f秒", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1f分钟", d.Minutes())
	}
	return fmt.Sprintf("%.1f小时", d.Hours())
}

// statusText converts host status to Chinese text.
func statusText(status model.HostStatus) string {
	switch status {
	case model.HostStatusNormal:
		return "正常"
	case model.HostStatusWarning:
		return "警告"
	case model.HostStatusCritical:
		return "严重"
	case model.HostStatusFailed:
		return "失败"
	default:
		return "未知"
	}
}

// statusClass returns the CSS class for a host status.
func statusClass(status model.HostStatus) string {
	switch status {
	case model.HostStatusNormal:
		return "status-normal"
	case model.HostStatusWarning:
		return "status-warning"
	case model.HostStatusCritical, model.HostStatusFailed:
		return "status-critical"
	default:
		return "status-unknown"
	}
}

// stateClass returns the CSS class for a service state.
func stateClass(state model.ServiceState) string {
	switch state {
	case model.StateOK:
		return "status-normal"
	case model.StateWarn:
		return "status-warning"
	case model.StateCrit:
		return "status-critical"
	default:
		return "status-unknown"
	}
}
