package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"checkengine/internal/model"
	"checkengine/internal/report/excel"
	"checkengine/internal/report/html"
)

// DefaultFilenameTemplate is used when no filename template is configured.
const DefaultFilenameTemplate = "check_report_{{.Date}}"

// Registry manages report writers by format name.
type Registry struct {
	writers  map[string]Writer
	timezone *time.Location
}

// NewRegistry creates a registry with the Excel and HTML writers.
// If timezone is nil, defaults to Asia/Shanghai. htmlTemplatePath is optional;
// the embedded template is used when it is empty.
func NewRegistry(timezone *time.Location, htmlTemplatePath string) *Registry {
	if timezone == nil {
		timezone, _ = time.LoadLocation("Asia/Shanghai")
	}

	r := &Registry{
		writers:  make(map[string]Writer),
		timezone: timezone,
	}
	for _, w := range []Writer{excel.NewWriter(timezone), html.NewWriter(timezone, htmlTemplatePath)} {
		r.writers[w.Format()] = w
	}
	return r
}

// Get returns the writer for format. Format names are case-insensitive.
func (r *Registry) Get(format string) (Writer, error) {
	writer, ok := r.writers[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return nil, fmt.Errorf("unsupported report format %q, supported formats: %s",
			format, strings.Join(r.GetAll(), ", "))
	}
	return writer, nil
}

// GetAll returns all supported format names in sorted order.
func (r *Registry) GetAll() []string {
	formats := make([]string, 0, len(r.writers))
	for format := range r.writers {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}

// Has checks if the format is supported.
func (r *Registry) Has(format string) bool {
	_, ok := r.writers[strings.ToLower(strings.TrimSpace(format))]
	return ok
}

// WriteAll renders run in every requested format into dir and returns the written paths.
// All formats are attempted; the first error is returned.
func (r *Registry) WriteAll(run *model.CheckRun, dir, filenameTemplate string, formats []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	base := filepath.Join(dir, Filename(filenameTemplate, run.StartedAt.In(r.timezone)))

	var (
		paths    []string
		firstErr error
	)
	for _, format := range formats {
		writer, err := r.Get(format)
		if err == nil {
			path := base + extension(writer.Format())
			if err = writer.Write(run, path); err == nil {
				paths = append(paths, path)
				continue
			}
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("%s report: %w", format, err)
		}
	}
	return paths, firstErr
}

// Filename expands the {{.Date}} and {{.Time}} placeholders of template.
func Filename(template string, at time.Time) string {
	if template == "" {
		template = DefaultFilenameTemplate
	}
	replacer := strings.NewReplacer(
		"{{.Date}}", at.Format("2006-01-02"),
		"{{ .Date }}", at.Format("2006-01-02"),
		"{{.Time}}", at.Format("150405"),
		"{{ .Time }}", at.Format("150405"),
	)
	return replacer.Replace(template)
}

func extension(format string) string {
	switch format {
	case "excel":
		return ".xlsx"
	case "html":
		return ".html"
	}
	return "." + format
}
