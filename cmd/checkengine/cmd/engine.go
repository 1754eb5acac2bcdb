package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"checkengine/internal/checking"
	"checkengine/internal/client/agent"
	"checkengine/internal/client/vm"
	"checkengine/internal/config"
	"checkengine/internal/crash"
	"checkengine/internal/fetcher"
	"checkengine/internal/model"
	"checkengine/internal/parser"
	"checkengine/internal/piggyback"
	"checkengine/internal/plugin/api"
	"checkengine/internal/plugins/builtin"
	"checkengine/internal/prediction"
	"checkengine/internal/service"
	"checkengine/internal/summarize"
	"checkengine/internal/telemetry"
	"checkengine/internal/valuestore"
)

// engine holds the components that live for the whole process. Checkers are
// rebuilt from it whenever the host inventory changes.
type engine struct {
	cfg        *config.Config
	logger     zerolog.Logger
	registry   *api.Registry
	promReg    *prometheus.Registry
	metrics    *telemetry.Metrics
	agent      *agent.Client
	piggyback  *piggyback.Store
	cache      *fetcher.FileCache
	persisted  *parser.PersistedStore
	values     *valuestore.Manager
	crashSink  crash.Sink
	predictor  *prediction.Service
	autochecks *service.AutochecksStore
	closers    []func() error
}

// loadConfig loads the engine configuration and builds the root logger from it.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, setupLogger("error", "console", os.Stderr), err
	}
	logger := setupLogger(effectiveLogLevel(cfg.Logging.Level), cfg.Logging.Format, os.Stderr)
	logger.Debug().
		Str("config_path", cfgFile).
		Str("log_format", cfg.Logging.Format).
		Msg("configuration loaded successfully")
	return cfg, logger, nil
}

// newEngine wires the long-lived components described by cfg.
func newEngine(cfg *config.Config, logger zerolog.Logger) (*engine, error) {
	e := &engine{
		cfg:        cfg,
		logger:     logger,
		registry:   api.NewRegistry(),
		promReg:    prometheus.NewRegistry(),
		piggyback:  piggyback.NewStore(cfg.Fetch.PiggybackDir),
		persisted:  parser.NewPersistedStore(cfg.Fetch.PersistedSectionsDir),
		autochecks: service.NewAutochecksStore(cfg.Inventory.AutochecksDir),
		cache: fetcher.NewFileCache(cfg.Fetch.CacheDir, fetcher.MaxAge{
			Checking:  cfg.Fetch.MaxAge.Checking,
			Discovery: cfg.Fetch.MaxAge.Discovery,
			Inventory: cfg.Fetch.MaxAge.Inventory,
		}, fetcher.CacheDisabled(cfg.Fetch.DisableCache), fetcher.CacheOnly(cfg.Fetch.UseOnlyCache)),
	}

	if err := builtin.Register(e.registry); err != nil {
		return nil, err
	}

	e.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.New(e.promReg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	e.metrics = metrics

	e.agent = agent.NewClient(&cfg.Agent, &cfg.HTTP.Retry, logger)

	if err := e.setupValueStore(); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.setupCrashSink(); err != nil {
		e.Close()
		return nil, err
	}
	e.setupPrediction()

	return e, nil
}

func (e *engine) setupValueStore() error {
	var backend valuestore.Backend
	switch e.cfg.ValueStore.Backend {
	case "memory":
		backend = valuestore.NewMemoryBackend()
	case "sqlite":
		b, err := valuestore.NewSQLiteBackend(e.cfg.ValueStore.Path)
		if err != nil {
			return fmt.Errorf("failed to open value store: %w", err)
		}
		e.closers = append(e.closers, b.Close)
		backend = b
	default:
		backend = valuestore.NewFileBackend(e.cfg.ValueStore.Path)
	}
	e.values = valuestore.NewManager(backend, e.logger)
	return nil
}

func (e *engine) setupCrashSink() error {
	sinks := []crash.Sink{crash.NewDirSink(e.cfg.Crash.Dir, e.logger)}
	if obj := e.cfg.Crash.Object; obj.Enabled {
		sink, err := crash.NewObjectSink(crash.ObjectConfig{
			Endpoint:        obj.Endpoint,
			AccessKeyID:     obj.AccessKeyID,
			SecretAccessKey: obj.SecretAccessKey,
			BucketName:      obj.Bucket,
			Region:          obj.Region,
			UseSSL:          obj.UseSSL,
			Prefix:          "crashes/",
		}, e.logger)
		if err != nil {
			return fmt.Errorf("failed to create crash object sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	e.crashSink = crash.NewTee(e.logger, sinks...)
	return nil
}

func (e *engine) setupPrediction() {
	pc := e.cfg.Prediction
	if !pc.Enabled || e.cfg.Datasources.VictoriaMetrics.Endpoint == "" {
		return
	}

	var cache prediction.Cache = prediction.NewMemoryCache()
	if pc.Cache == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     pc.Redis.Addr,
			Password: pc.Redis.Password,
			DB:       pc.Redis.DB,
		})
		e.closers = append(e.closers, client.Close)
		cache = prediction.NewRedisCache(client)
	}

	querier := vm.NewClient(&e.cfg.Datasources.VictoriaMetrics, &e.cfg.HTTP.Retry, e.logger)
	e.predictor = prediction.NewService(querier, e.logger,
		prediction.WithCache(cache, pc.CacheTTL),
		prediction.WithQueryTemplate(pc.QueryTemplate),
		prediction.WithMetaDir(pc.Dir),
	)
}

// loadHosts reads the host inventory together with the password store.
func (e *engine) loadHosts() (*config.Hosts, error) {
	passwords, err := config.LoadPasswords(e.cfg.Inventory.PasswordStore)
	if err != nil {
		return nil, err
	}
	return config.LoadHosts(e.cfg.Inventory.HostsFile, config.WithPasswords(passwords))
}

// checkerOptions are per-invocation settings of a checker.
type checkerOptions struct {
	sections      []model.SectionName
	forceSNMP     bool
	overrideNonOK *model.ServiceState
}

// newChecker builds the fetch/parse/evaluate/summarize pipeline over hosts.
func (e *engine) newChecker(hosts *config.Hosts, opts checkerOptions) (*service.Checker, error) {
	cfg := e.cfg

	f := fetcher.New(hosts, e.logger,
		fetcher.WithAgent(e.agent),
		fetcher.WithSNMPBackend(fetcher.StoredWalks{Dir: cfg.Fetch.SNMPWalksDir}),
		fetcher.WithPiggybackStore(e.piggyback),
		fetcher.WithCache(e.cache),
		fetcher.WithConcurrency(cfg.Fetch.Concurrency),
		fetcher.WithProgramTimeout(cfg.Fetch.ProgramTimeout),
		fetcher.WithPiggybackMaxAge(cfg.Fetch.PiggybackMaxAge),
		fetcher.WithForceSNMPCacheRefresh(opts.forceSNMP),
		fetcher.WithMetrics(e.metrics),
	)

	p := parser.New(e.logger,
		parser.WithPersistedStore(e.persisted),
		parser.WithPiggybackStore(e.piggyback),
		parser.WithKeepOutdated(cfg.Engine.KeepOutdated),
	)

	summarizerOpts := []summarize.Option{summarize.WithPiggyback(e.piggyback, cfg.Fetch.PiggybackMaxAge)}
	if opts.overrideNonOK != nil {
		summarizerOpts = append(summarizerOpts, summarize.WithOverrideNonOKState(*opts.overrideNonOK))
	}
	s := summarize.New(hosts, e.logger, summarizerOpts...)

	evalOpts := []checking.Option{
		checking.WithDebug(cfg.Engine.Debug),
		checking.WithCrashSink(e.crashSink),
		checking.WithValueStore(e.values),
		checking.WithMetrics(e.metrics),
		checking.WithServiceTimeout(cfg.Engine.ServiceTimeout),
	}
	if e.predictor != nil {
		evalOpts = append(evalOpts, checking.WithPredictor(e.predictor))
	}
	evaluator := checking.New(hosts, e.logger, evalOpts...)

	tz, err := service.LoadTimezone(cfg.Report.Timezone)
	if err != nil {
		return nil, err
	}

	return service.NewChecker(hosts, f, p, s, service.NewPlugins(e.registry, evaluator, hosts), e.logger,
		service.WithAutochecks(e.autochecks),
		service.WithMetrics(e.metrics),
		service.WithSections(opts.sections...),
		service.WithConcurrency(cfg.Engine.Concurrency),
		service.WithHostConcurrency(cfg.Fetch.Concurrency),
		service.WithHostTimeout(cfg.Engine.HostTimeout),
		service.WithDebug(cfg.Engine.Debug),
		service.WithVersion(Version),
		service.WithTimezone(tz),
	), nil
}

// Close releases database and cache connections.
func (e *engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
