// Package cmd provides CLI commands for the check engine.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"checkengine/internal/plugin/api"
)

// Version information, set by main.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Global flags
var (
	cfgFile  string // Config file path
	logLevel string // Log level
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "checkengine",
	Short: "服务检查引擎 - 采集、解析、评估、汇总",
	Long: `服务检查引擎从 agent、SNMP、数据源程序和搭载数据采集原始数据，
解析为数据段，调用检查插件评估每个服务，并汇总每个数据源的状态。

数据流: 数据源 → 采集 → 解析 → 插件评估 → 汇总 → Excel/HTML 报告

主要功能:
  - 按主机清单检查所有强制服务和自动发现的服务
  - 服务发现与资产清单采集
  - 支持集群（native/worst/best/failover 模式）与预测阈值
  - 定时检查，暴露 Prometheus 指标`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// SetVersionInfo sets the build information reported by the version command.
func SetVersionInfo(version, buildTime, gitCommit string) {
	Version, BuildTime, GitCommit = version, buildTime, gitCommit
	rootCmd.Version = version
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	os.Exit(3)
}

// exitError carries a non-zero exit code of a command that otherwise succeeded.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (debug, info, warn, error)，覆盖配置文件")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// GetVersionInfo returns formatted version information.
func GetVersionInfo() string {
	return Version + "\n" +
		"Build Time: " + BuildTime + "\n" +
		"Git Commit: " + GitCommit + "\n" +
		"Plugin API: " + api.Version + "\n" +
		"Go Version: " + runtime.Version() + "\n" +
		"OS/Arch: " + runtime.GOOS + "/" + runtime.GOARCH
}

// setupLogger creates a zerolog logger with the specified level and format.
// "auto" writes console output to terminals and JSON otherwise.
func setupLogger(level, format string, out *os.File) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	tz, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		tz = time.Local
	}
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().In(tz)
	}

	console := format == "console"
	if format == "auto" || format == "" {
		console = isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	}

	var output io.Writer = out
	if console {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

// effectiveLogLevel lets --log-level override the configured level.
func effectiveLogLevel(configured string) string {
	if logLevel != "" {
		return logLevel
	}
	return configured
}
