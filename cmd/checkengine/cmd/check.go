package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"checkengine/internal/config"
	"checkengine/internal/model"
	"checkengine/internal/report"
)

// Command flags
var (
	outputDir     string   // Output directory for reports
	formats       []string // Output formats (excel, html)
	noReport      bool     // Skip report generation
	jsonOutput    bool     // Print the check run as JSON
	sectionNames  []string // Restrict parsing to these sections
	forceSNMP     bool     // Refresh SNMP caches
	overrideState string   // Replace non-OK source states
	htmlTemplate  string   // Custom HTML template
)

// checkCmd represents the check command.
var checkCmd = &cobra.Command{
	Use:   "check [host...]",
	Short: "执行服务检查",
	Long: `对指定主机（不指定则为清单中的全部主机）执行一次完整的检查周期：
1. 从 agent、SNMP、数据源程序和搭载数据采集原始数据
2. 解析为数据段
3. 调用检查插件评估每个强制服务和自动发现的服务
4. 汇总每个数据源的状态
5. 生成 Excel 和 HTML 格式的检查报告

退出码: 0 全部正常，1 存在警告，2 存在严重或失败的主机

示例:
  # 检查全部主机
  checkengine check -c config.yaml

  # 检查单台主机，仅解析 cpu 和 df 段
  checkengine check web01 --sections cpu,df

  # 以 JSON 输出结果，不生成报告
  checkengine check web01 --json --no-report

  # 指定输出格式和目录
  checkengine check -f excel,html -o ./reports`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringSliceVarP(&formats, "format", "f", nil, "输出格式 (excel,html)，可用逗号分隔多个")
	checkCmd.Flags().StringVarP(&outputDir, "output", "o", "", "输出目录")
	checkCmd.Flags().BoolVar(&noReport, "no-report", false, "不生成报告")
	checkCmd.Flags().BoolVar(&jsonOutput, "json", false, "以 JSON 格式输出检查结果")
	checkCmd.Flags().StringSliceVar(&sectionNames, "sections", nil, "仅解析指定的数据段")
	checkCmd.Flags().BoolVar(&forceSNMP, "force-snmp", false, "强制刷新 SNMP 缓存")
	checkCmd.Flags().StringVar(&overrideState, "override-state", "", "将数据源的非 OK 状态替换为指定状态 (OK, WARN, CRIT, UNKNOWN)")
	checkCmd.Flags().StringVar(&htmlTemplate, "html-template", "", "HTML 报告模板路径（默认使用内置模板）")
}

// runCheck executes one check cycle.
func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !jsonOutput {
		printBanner(out)
		fmt.Fprintf(out, "📋 加载配置文件: %s\n", cfgFile)
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	opts := checkerOptions{forceSNMP: forceSNMP}
	for _, name := range sectionNames {
		opts.sections = append(opts.sections, model.SectionName(name))
	}
	if overrideState != "" {
		state, ok := model.ParseServiceState(overrideState)
		if !ok {
			return fmt.Errorf("--override-state: 无效的状态 %q", overrideState)
		}
		opts.overrideNonOK = &state
	}

	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	hosts, err := e.loadHosts()
	if err != nil {
		return fmt.Errorf("加载主机清单失败: %w", err)
	}
	if err := checkHostNames(hosts, args); err != nil {
		return err
	}
	checker, err := e.newChecker(hosts, opts)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	startTime := time.Now()
	run, err := checker.Run(ctx, args)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return fmt.Errorf("failed to encode check run: %w", err)
		}
	} else {
		fmt.Fprintf(out, "\n📊 服务检查完成！\n")
		printSummary(out, run)
		fmt.Fprintf(out, "\n⏱️  总耗时 %.1fs\n", time.Since(startTime).Seconds())
	}

	if !noReport {
		if err := writeReports(out, cfg, run); err != nil {
			logger.Error().Err(err).Msg("failed to generate reports")
		}
	}

	return runExitCode(run)
}

// checkHostNames reports hosts that are not in the inventory.
func checkHostNames(hosts *config.Hosts, names []string) error {
	for _, name := range names {
		if !hosts.Has(name) {
			return fmt.Errorf("主机 %s 不在主机清单中", name)
		}
	}
	return nil
}

// writeReports renders run in every requested format.
func writeReports(out io.Writer, cfg *config.Config, run *model.CheckRun) error {
	tz, _ := time.LoadLocation(cfg.Report.Timezone) // validated on load

	fmt.Fprintln(out, "\n📄 生成报告:")
	paths, err := newReportRegistry(tz).WriteAll(run, resolveOutputDir(cfg), cfg.Report.FilenameTemplate, resolveFormats(cfg))
	for _, p := range paths {
		fmt.Fprintf(out, "   ✅ %s\n", p)
	}
	if err != nil {
		fmt.Fprintf(out, "   ❌ 报告生成失败: %v\n", err)
	}
	return err
}

func newReportRegistry(tz *time.Location) *report.Registry {
	return report.NewRegistry(tz, htmlTemplate)
}

// resolveFormats determines the output formats to use.
// Command line flags take precedence over config file.
func resolveFormats(cfg *config.Config) []string {
	if len(formats) > 0 {
		return formats
	}
	if len(cfg.Report.Formats) > 0 {
		return cfg.Report.Formats
	}
	return []string{"excel", "html"} // default
}

// resolveOutputDir determines the output directory to use.
// Command line flags take precedence over config file.
func resolveOutputDir(cfg *config.Config) string {
	if outputDir != "" {
		return outputDir
	}
	if cfg.Report.OutputDir != "" {
		return cfg.Report.OutputDir
	}
	return "./reports" // default
}

// runExitCode maps the worst host status to the process exit code.
func runExitCode(run *model.CheckRun) error {
	s := run.Summary
	switch {
	case s == nil:
		return nil
	case s.CriticalHosts > 0 || s.FailedHosts > 0:
		return &exitError{code: 2}
	case s.WarningHosts > 0 || s.UnknownHosts > 0:
		return &exitError{code: 1}
	}
	return nil
}

func printBanner(out io.Writer) {
	fmt.Fprintf(out, "🔍 服务检查引擎 %s\n", Version)
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// printSummary prints the host and problem counts of run.
func printSummary(out io.Writer, run *model.CheckRun) {
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if s := run.Summary; s != nil {
		fmt.Fprintf(out, "   主机总数: %d\n", s.TotalHosts)
		fmt.Fprintf(out, "   正常主机: %d\n", s.NormalHosts)
		fmt.Fprintf(out, "   警告主机: %d\n", s.WarningHosts)
		fmt.Fprintf(out, "   严重主机: %d\n", s.CriticalHosts)
		fmt.Fprintf(out, "   未知主机: %d\n", s.UnknownHosts)
		fmt.Fprintf(out, "   失败主机: %d\n", s.FailedHosts)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "   服务总数: %d\n", s.TotalServices)
		fmt.Fprintf(out, "   问题服务: %d\n", s.Problems)
	}
	for _, p := range run.Problems {
		fmt.Fprintf(out, "   [%s] %s / %s: %s\n", p.State, p.Hostname, p.Description, p.Summary)
	}
}

// signalContext is shared by long running commands.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
