package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"checkengine/internal/model"
	"checkengine/internal/service"
)

const reloadDebounce = 500 * time.Millisecond

var scheduleReports bool // Write reports after every cycle

// scheduleCmd represents the schedule command.
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "按计划周期性执行服务检查",
	Long: `按 schedule.cron 配置的计划周期性检查清单中的全部主机。

主机清单文件变化时自动重新加载；上一次检查未结束时跳过本次执行。
在 schedule.listen_addr 上提供:
  /metrics   Prometheus 指标
  /healthz   健康检查
  /api/v1/run  最近一次检查结果（JSON）`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().BoolVar(&scheduleReports, "report", false, "每次检查后生成报告")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	s := newScheduler(e)
	if err := s.reload(); err != nil {
		return fmt.Errorf("加载主机清单失败: %w", err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	if _, err := c.AddFunc(cfg.Schedule.Cron, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule.Cron, err)
	}

	server := &http.Server{
		Addr:              cfg.Schedule.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()
	go func() {
		if err := s.watch(ctx, cfg.Inventory.HostsFile); err != nil {
			errCh <- err
		}
	}()

	c.Start()
	s.logger.Info().
		Str("schedule", cfg.Schedule.Cron).
		Str("listen_addr", cfg.Schedule.ListenAddr).
		Msg("scheduler started")

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down gracefully")
	case err = <-errCh:
	}

	<-c.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		s.logger.Error().Err(shutdownErr).Msg("http server shutdown failed")
	}
	return err
}

// =============================================================================
// Scheduler
// =============================================================================

// scheduler runs check cycles with the current checker and keeps the last run.
type scheduler struct {
	engine  *engine
	checker atomic.Pointer[service.Checker]
	lastRun atomic.Pointer[model.CheckRun]
	logger  zerolog.Logger
}

func newScheduler(e *engine) *scheduler {
	return &scheduler{
		engine: e,
		logger: e.logger.With().Str("component", "scheduler").Logger(),
	}
}

// reload rebuilds the checker from the hosts file. On failure the previous checker stays.
func (s *scheduler) reload() error {
	hosts, err := s.engine.loadHosts()
	if err != nil {
		return err
	}
	checker, err := s.engine.newChecker(hosts, checkerOptions{})
	if err != nil {
		return err
	}
	s.checker.Store(checker)
	s.logger.Info().Int("hosts", len(hosts.HostNames())).Msg("host inventory loaded")
	return nil
}

// runOnce checks all hosts once.
func (s *scheduler) runOnce(ctx context.Context) {
	checker := s.checker.Load()
	if checker == nil {
		return
	}
	run, err := checker.Run(ctx, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("check run failed")
		return
	}
	s.lastRun.Store(run)

	if !scheduleReports {
		return
	}
	cfg := s.engine.cfg
	tz, _ := time.LoadLocation(cfg.Report.Timezone)
	paths, err := newReportRegistry(tz).WriteAll(run, resolveOutputDir(cfg), cfg.Report.FilenameTemplate, resolveFormats(cfg))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate reports")
	}
	if len(paths) > 0 {
		s.logger.Info().Strs("paths", paths).Msg("reports generated")
	}
}

// watch reloads the checker when the hosts file changes. Editors often replace the
// file, so the directory is watched and events are filtered by name.
func (s *scheduler) watch(ctx context.Context, hostsFile string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(hostsFile)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", hostsFile, err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				if err := s.reload(); err != nil {
					s.logger.Error().Err(err).Str("path", hostsFile).Msg("failed to reload host inventory, keeping previous")
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

// router serves metrics, health and the last check run.
func (s *scheduler) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.engine.promReg, promhttp.HandlerOpts{}))
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/v1/run", s.handleLastRun)
	return r
}

func (s *scheduler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "version": Version}
	code := http.StatusOK
	if s.checker.Load() == nil {
		status["status"] = "starting"
		code = http.StatusServiceUnavailable
	}
	if run := s.lastRun.Load(); run != nil {
		status["last_run"] = run.StartedAt
	}
	writeJSON(w, code, status)
}

func (s *scheduler) handleLastRun(w http.ResponseWriter, r *http.Request) {
	run := s.lastRun.Load()
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no check run yet"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
