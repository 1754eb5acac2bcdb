package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"checkengine/internal/model"
)

func TestNewRegistry(t *testing.T) {
	t.Run("with nil timezone uses default", func(t *testing.T) {
		r := NewRegistry(nil, "")

		if len(r.writers) != 2 {
			t.Errorf("expected 2 writers, got %d", len(r.writers))
		}
		if _, ok := r.writers["excel"]; !ok {
			t.Error("expected excel writer to be registered")
		}
		if _, ok := r.writers["html"]; !ok {
			t.Error("expected html writer to be registered")
		}
		if r.timezone.String() != "Asia/Shanghai" {
			t.Errorf("timezone = %v", r.timezone)
		}
	})

	t.Run("with custom timezone", func(t *testing.T) {
		r := NewRegistry(time.UTC, "/custom/template.html")
		if r.timezone != time.UTC {
			t.Errorf("timezone = %v", r.timezone)
		}
	})
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(nil, "")

	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{format: "excel", want: "excel"},
		{format: "HTML", want: "html"},
		{format: "  Excel ", want: "excel"},
		{format: "pdf", wantErr: true},
		{format: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			writer, err := r.Get(tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), "excel, html") {
					t.Errorf("error should list supported formats: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if writer.Format() != tt.want {
				t.Errorf("Format() = %q, want %q", writer.Format(), tt.want)
			}
		})
	}
}

func TestRegistry_GetAllAndHas(t *testing.T) {
	r := NewRegistry(nil, "")
	if got := strings.Join(r.GetAll(), ","); got != "excel,html" {
		t.Errorf("GetAll() = %q", got)
	}
	if !r.Has("Excel") || r.Has("pdf") {
		t.Error("Has() returned wrong result")
	}
}

func TestRegistry_WriteAll(t *testing.T) {
	started := time.Date(2024, 3, 10, 2, 3, 4, 0, time.UTC)
	run := model.NewCheckRun(started)
	host := model.NewHostResult("web01", started)
	host.Finalize(started)
	run.AddHost(host)
	run.Finalize(started)

	dir := filepath.Join(t.TempDir(), "reports")
	r := NewRegistry(time.UTC, "")

	paths, err := r.WriteAll(run, dir, "", []string{"excel", "html"})
	if err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	want := []string{
		filepath.Join(dir, "check_report_2024-03-10.xlsx"),
		filepath.Join(dir, "check_report_2024-03-10.html"),
	}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i, p := range want {
		if paths[i] != p {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], p)
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("report %s not written: %v", p, err)
		}
	}

	// an unknown format does not stop the others
	paths, err = r.WriteAll(run, dir, "run_{{.Time}}", []string{"pdf", "html"})
	if err == nil {
		t.Error("expected error for unknown format")
	}
	if len(paths) != 1 || paths[0] != filepath.Join(dir, "run_020304.html") {
		t.Errorf("paths = %v", paths)
	}
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 3, 10, 2, 3, 4, 0, time.UTC)
	tests := []struct {
		template string
		want     string
	}{
		{"", "check_report_2024-03-10"},
		{"daily_{{ .Date }}", "daily_2024-03-10"},
		{"{{.Date}}_{{.Time}}", "2024-03-10_020304"},
		{"static", "static"},
	}
	for _, tt := range tests {
		if got := Filename(tt.template, at); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}
