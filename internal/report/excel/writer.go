// Package excel provides Excel report generation for check runs.
// The workbook holds an overview, the host states, every service result,
// the problems and the state of each data source.
package excel

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"checkengine/internal/model"
)

const (
	// Sheet names
	sheetSummary  = "检查概览"
	sheetHosts    = "主机状态"
	sheetServices = "服务详情"
	sheetProblems = "问题汇总"
	sheetSources  = "数据源"

	// Default sheet to remove
	defaultSheet = "Sheet1"

	// Colors for conditional formatting (RGB without #)
	colorWarningBg  = "FFEB9C" // Yellow background for warning
	colorWarningFg  = "9C6500" // Dark yellow text for warning
	colorCriticalBg = "FFC7CE" // Red background for critical
	colorCriticalFg = "9C0006" // Dark red text for critical
	colorUnknownBg  = "E7E6E6" // Grey background for unknown
	colorUnknownFg  = "3A3838" // Dark grey text for unknown
	colorHeaderBg   = "4472C4" // Blue background for header
	colorHeaderFg   = "FFFFFF" // White text for header
	colorNormalBg   = "C6EFCE" // Green background for normal
	colorNormalFg   = "006100" // Dark green text for normal
)

// Writer implements report.Writer for Excel format.
type Writer struct {
	timezone *time.Location
}

// NewWriter creates a new Excel report writer.
// If timezone is nil, it defaults to Asia/Shanghai.
func NewWriter(timezone *time.Location) *Writer {
	if timezone == nil {
		timezone, _ = time.LoadLocation("Asia/Shanghai")
	}
	return &Writer{
		timezone: timezone,
	}
}

// Format returns the format identifier for this writer.
func (w *Writer) Format() string {
	return "excel"
}

// Write generates an Excel report from the check run.
func (w *Writer) Write(run *model.CheckRun, outputPath string) error {
	if run == nil {
		return fmt.Errorf("check run is nil")
	}
	if run.Summary == nil {
		run.Summary = model.NewRunSummary(run.Hosts)
	}

	if !strings.HasSuffix(strings.ToLower(outputPath), ".xlsx") {
		outputPath = outputPath + ".xlsx"
	}

	f := excelize.NewFile()
	defer f.Close()

	st, err := newStyles(f)
	if err != nil {
		return fmt.Errorf("failed to create styles: %w", err)
	}

	if err := w.createSummarySheet(f, run, st); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if err := w.createHostsSheet(f, run, st); err != nil {
		return fmt.Errorf("failed to create hosts sheet: %w", err)
	}
	if err := w.createServicesSheet(f, run, st); err != nil {
		return fmt.Errorf("failed to create services sheet: %w", err)
	}
	if err := w.createProblemsSheet(f, run, st); err != nil {
		return fmt.Errorf("failed to create problems sheet: %w", err)
	}
	if err := w.createSourcesSheet(f, run, st); err != nil {
		return fmt.Errorf("failed to create sources sheet: %w", err)
	}

	// Sheet1 only exists in a fresh workbook
	_ = f.DeleteSheet(defaultSheet)

	idx, _ := f.GetSheetIndex(sheetSummary)
	f.SetActiveSheet(idx)

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}

// createSummarySheet creates the run overview worksheet.
func (w *Writer) createSummarySheet(f *excelize.File, run *model.CheckRun, st styles) error {
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return err
	}

	f.SetColWidth(sheetSummary, "A", "A", 20)
	f.SetColWidth(sheetSummary, "B", "B", 30)

	f.MergeCell(sheetSummary, "A1", "B1")
	f.SetCellValue(sheetSummary, "A1", "服务检查报告")
	f.SetCellStyle(sheetSummary, "A1", "B1", st.title)
	f.SetRowHeight(sheetSummary, 1, 30)

	summaryData := []struct {
		label string
		value any
	}{
		{"检查时间", run.StartedAt.In(w.timezone).Format("2006-01-02 15:04:05")},
		{"检查耗时", formatDuration(run.Duration)},
		{"主机总数", run.Summary.TotalHosts},
		{"正常主机", run.Summary.NormalHosts},
		{"警告主机", run.Summary.WarningHosts},
		{"严重主机", run.Summary.CriticalHosts},
		{"未知主机", run.Summary.UnknownHosts},
		{"失败主机", run.Summary.FailedHosts},
		{"服务总数", run.Summary.TotalServices},
		{"问题服务", run.Summary.Problems},
	}
	if run.Version != "" {
		summaryData = append(summaryData, struct {
			label string
			value any
		}{"引擎版本", run.Version})
	}

	for i, item := range summaryData {
		row := i + 3 // Start from row 3
		a, b := fmt.Sprintf("A%d", row), fmt.Sprintf("B%d", row)
		f.SetCellValue(sheetSummary, a, item.label)
		f.SetCellValue(sheetSummary, b, item.value)
		f.SetCellStyle(sheetSummary, a, a, st.header)
		f.SetCellStyle(sheetSummary, b, b, st.value)
		f.SetRowHeight(sheetSummary, row, 22)
	}
	return nil
}

// createHostsSheet lists one row per host with its overall status.
func (w *Writer) createHostsSheet(f *excelize.File, run *model.CheckRun, st styles) error {
	headers := []string{"主机名", "IP地址", "集群", "状态", "服务数", "问题数", "检查时间", "耗时", "错误信息"}
	if err := w.newTableSheet(f, sheetHosts, headers, []float64{20, 15, 8, 10, 10, 10, 20, 12, 40}, st); err != nil {
		return err
	}

	for i, host := range run.Hosts {
		row := fmt.Sprintf("%d", i+2)
		f.SetCellValue(sheetHosts, "A"+row, host.Hostname)
		f.SetCellValue(sheetHosts, "B"+row, host.IP)
		f.SetCellValue(sheetHosts, "C"+row, boolToText(host.IsCluster))
		f.SetCellValue(sheetHosts, "D"+row, statusText(host.Status))
		f.SetCellValue(sheetHosts, "E"+row, len(host.Services))
		f.SetCellValue(sheetHosts, "F"+row, len(host.Problems))
		f.SetCellValue(sheetHosts, "G"+row, host.CheckedAt.In(w.timezone).Format("2006-01-02 15:04:05"))
		f.SetCellValue(sheetHosts, "H"+row, formatDuration(host.Duration))
		f.SetCellValue(sheetHosts, "I"+row, host.Error)

		if style := st.forStatus(host.Status); style > 0 {
			f.SetCellStyle(sheetHosts, "D"+row, "D"+row, style)
		}
	}
	return nil
}

// createServicesSheet lists every submittable service result.
func (w *Writer) createServicesSheet(f *excelize.File, run *model.CheckRun, st styles) error {
	headers := []string{"主机名", "服务", "检查插件", "状态", "摘要", "性能数据", "数据缓存时间"}
	if err := w.newTableSheet(f, sheetServices, headers, []float64{20, 30, 15, 10, 50, 40, 20}, st); err != nil {
		return err
	}

	row := 2
	for _, host := range run.Hosts {
		for _, svc := range host.Services {
			if !svc.Result.Submittable {
				continue
			}
			r := fmt.Sprintf("%d", row)
			f.SetCellValue(sheetServices, "A"+r, host.Hostname)
			f.SetCellValue(sheetServices, "B"+r, svc.Service.Description)
			f.SetCellValue(sheetServices, "C"+r, string(svc.Service.CheckPluginName))
			f.SetCellValue(sheetServices, "D"+r, stateText(svc.Result.State))
			f.SetCellValue(sheetServices, "E"+r, svc.Result.Summary())
			f.SetCellValue(sheetServices, "F"+r, formatMetrics(svc.Result.Metrics))
			if svc.CacheInfo != nil {
				f.SetCellValue(sheetServices, "G"+r, svc.CacheInfo.CachedAt.In(w.timezone).Format("2006-01-02 15:04:05"))
			}
			if style := st.forState(svc.Result.State); style > 0 {
				f.SetCellStyle(sheetServices, "D"+r, "D"+r, style)
			}
			row++
		}
	}
	return nil
}

// createProblemsSheet lists the non-OK services, most severe first.
func (w *Writer) createProblemsSheet(f *excelize.File, run *model.CheckRun, st styles) error {
	headers := []string{"主机名", "状态", "服务", "检查插件", "摘要"}
	if err := w.newTableSheet(f, sheetProblems, headers, []float64{20, 10, 30, 15, 60}, st); err != nil {
		return err
	}

	for i, p := range run.Problems {
		row := fmt.Sprintf("%d", i+2)
		f.SetCellValue(sheetProblems, "A"+row, p.Hostname)
		f.SetCellValue(sheetProblems, "B"+row, stateText(p.State))
		f.SetCellValue(sheetProblems, "C"+row, p.Description)
		f.SetCellValue(sheetProblems, "D"+row, p.Plugin)
		f.SetCellValue(sheetProblems, "E"+row, p.Summary)
		if style := st.forState(p.State); style > 0 {
			f.SetCellStyle(sheetProblems, "B"+row, "B"+row, style)
		}
	}
	return nil
}

// createSourcesSheet lists the summarized state of every data source.
func (w *Writer) createSourcesSheet(f *excelize.File, run *model.CheckRun, st styles) error {
	headers := []string{"主机名", "数据源", "采集器", "状态", "摘要", "采集耗时"}
	if err := w.newTableSheet(f, sheetSources, headers, []float64{20, 15, 12, 10, 60, 12}, st); err != nil {
		return err
	}

	row := 2
	for _, host := range run.Hosts {
		for _, src := range host.Sources {
			r := fmt.Sprintf("%d", row)
			f.SetCellValue(sheetSources, "A"+r, host.Hostname)
			f.SetCellValue(sheetSources, "B"+r, src.Source.Ident)
			f.SetCellValue(sheetSources, "C"+r, string(src.Source.FetcherType))
			f.SetCellValue(sheetSources, "D"+r, stateText(src.Result.State))
			f.SetCellValue(sheetSources, "E"+r, src.Result.Summary)
			f.SetCellValue(sheetSources, "F"+r, formatDuration(src.Timing.Wall))
			if style := st.forState(src.Result.State); style > 0 {
				f.SetCellStyle(sheetSources, "D"+r, "D"+r, style)
			}
			row++
		}
	}
	return nil
}

// newTableSheet creates a sheet with a styled, frozen header row.
func (w *Writer) newTableSheet(f *excelize.File, sheet string, headers []string, widths []float64, st styles) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	for i, width := range widths {
		col := columnName(i + 1)
		f.SetColWidth(sheet, col, col, width)
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%s1", columnName(i+1))
		f.SetCellValue(sheet, cell, header)
		f.SetCellStyle(sheet, cell, cell, st.header)
	}
	f.SetRowHeight(sheet, 1, 25)

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// =============================================================================
// Styles
// =============================================================================

type styles struct {
	title, header, value               int
	normal, warning, critical, unknown int
}

func newStyles(f *excelize.File) (styles, error) {
	var (
		st  styles
		err error
	)
	center := &excelize.Alignment{Horizontal: "center", Vertical: "center"}

	if st.title, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 18},
		Alignment: center,
	}); err != nil {
		return st, err
	}
	if st.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: colorHeaderFg},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{colorHeaderBg}, Pattern: 1},
		Alignment: center,
	}); err != nil {
		return st, err
	}
	if st.value, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Size: 12},
		Alignment: center,
	}); err != nil {
		return st, err
	}

	for _, c := range []struct {
		dst    *int
		fg, bg string
	}{
		{&st.normal, colorNormalFg, colorNormalBg},
		{&st.warning, colorWarningFg, colorWarningBg},
		{&st.critical, colorCriticalFg, colorCriticalBg},
		{&st.unknown, colorUnknownFg, colorUnknownBg},
	} {
		if *c.dst, err = f.NewStyle(&excelize.Style{
			Font:      &excelize.Font{Color: c.fg},
			Fill:      excelize.Fill{Type: "pattern", Color: []string{c.bg}, Pattern: 1},
			Alignment: center,
		}); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (st styles) forState(state model.ServiceState) int {
	switch state {
	case model.StateOK:
		return st.normal
	case model.StateWarn:
		return st.warning
	case model.StateCrit:
		return st.critical
	default:
		return st.unknown
	}
}

func (st styles) forStatus(status model.HostStatus) int {
	switch status {
	case model.HostStatusNormal:
		return st.normal
	case model.HostStatusWarning:
		return st.warning
	case model.HostStatusCritical, model.HostStatusFailed:
		return st.critical
	default:
		return st.unknown
	}
}

// =============================================================================
// Helper functions
// =============================================================================

// columnName converts a 1-based column index to Excel column name (A, B, ..., Z, AA, AB, ...).
func columnName(index int) string {
	result := ""
	for index > 0 {
		index--
		result = string(rune('A'+index%26)) + result
		index /= 26
	}
	return result
}

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

// stateText converts a service state to Chinese text.
func stateText(state model.ServiceState) string {
	switch state {
	case model.StateOK:
		return "正常"
	case model.StateWarn:
		return "警告"
	case model.StateCrit:
		return "严重"
	default:
		return "未知"
	}
}

func boolToText(b bool) string {
	if b {
		return "是"
	}
	return "否"
}

func formatMetrics(metrics []model.MetricTuple) string {
	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, " ")
}
