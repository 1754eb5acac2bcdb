// Package service runs the check pipeline of hosts: fetch, parse, evaluate every
// service and summarize the data sources.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"checkengine/internal/checking"
	"checkengine/internal/fetcher"
	"checkengine/internal/model"
	"checkengine/internal/params"
	"checkengine/internal/parser"
	"checkengine/internal/plugin"
	"checkengine/internal/plugin/api"
	"checkengine/internal/sections"
	"checkengine/internal/telemetry"
)

const defaultTimezone = "Asia/Shanghai"

// HostsConfig is the host inventory the checker needs.
type HostsConfig interface {
	api.RulesetMatcher
	HostNames() []string
	IsCluster(name string) bool
	Services(name string) []model.ConfiguredService
}

// Fetcher queries the data sources of a host.
type Fetcher interface {
	Fetch(ctx context.Context, host model.HostName, mode fetcher.Mode) []model.FetchResult
}

// Parser turns fetched raw data into sections.
type Parser interface {
	Parse(fetched []model.FetchResult, selection parser.Selection) []model.ParseResult
}

// Summarizer turns parse results into per-source results.
type Summarizer interface {
	Summarize(results []model.ParseResult) []model.ActiveCheckResult
}

// Plugins bundles the adapters over one plugin registry.
type Plugins struct {
	Sections   sections.SectionPlugins
	Checks     plugin.Registry[model.CheckPluginName, plugin.CheckPlugin]
	Discovery  plugin.Registry[model.CheckPluginName, plugin.DiscoveryPlugin]
	HostLabels plugin.Registry[string, plugin.HostLabelPlugin]
	Inventory  plugin.Registry[string, plugin.InventoryPlugin]
}

// NewPlugins builds all adapters over registry. Check functions evaluate through evaluator.
func NewPlugins(registry *api.Registry, evaluator plugin.ServiceEvaluator, matcher api.RulesetMatcher) Plugins {
	return Plugins{
		Sections:   plugin.NewSectionAdapter(registry),
		Checks:     plugin.NewCheckAdapter(registry, evaluator),
		Discovery:  plugin.NewDiscoveryAdapter(registry, matcher),
		HostLabels: plugin.NewHostLabelAdapter(registry, matcher),
		Inventory:  plugin.NewInventoryAdapter(registry),
	}
}

// Checker orchestrates check cycles of hosts.
type Checker struct {
	config          HostsConfig
	fetcher         Fetcher
	parser          Parser
	summarizer      Summarizer
	plugins         Plugins
	autochecks      *AutochecksStore
	metrics         *telemetry.Metrics
	selection       parser.Selection
	concurrency     int
	hostConcurrency int
	hostTimeout     time.Duration
	debug           bool
	timezone        *time.Location
	version         string
	logger          zerolog.Logger
}

// Option is a functional option for configuring a Checker.
type Option func(*Checker)

// WithAutochecks makes discovered services part of every check cycle.
func WithAutochecks(s *AutochecksStore) Option {
	return func(c *Checker) { c.autochecks = s }
}

// WithMetrics records host run states.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Checker) { c.metrics = m }
}

// WithSections restricts parsing of non-cluster hosts to the named raw sections.
func WithSections(names ...model.SectionName) Option {
	return func(c *Checker) {
		if len(names) > 0 {
			c.selection = parser.Select(names...)
		}
	}
}

// WithConcurrency limits the number of services evaluated at the same time per host.
func WithConcurrency(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithHostConcurrency limits the number of hosts checked at the same time.
func WithHostConcurrency(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.hostConcurrency = n
		}
	}
}

// WithHostTimeout bounds a whole check cycle of one host.
func WithHostTimeout(d time.Duration) Option {
	return func(c *Checker) { c.hostTimeout = d }
}

// WithDebug makes plugin failures abort the host instead of being reported.
func WithDebug(enabled bool) Option {
	return func(c *Checker) { c.debug = enabled }
}

// WithVersion sets the version recorded in check runs.
func WithVersion(version string) Option {
	return func(c *Checker) { c.version = version }
}

// WithTimezone sets the timezone of the recorded timestamps.
func WithTimezone(loc *time.Location) Option {
	return func(c *Checker) {
		if loc != nil {
			c.timezone = loc
		}
	}
}

// LoadTimezone returns the named location, or the default one for an empty name.
func LoadTimezone(name string) (*time.Location, error) {
	if name == "" {
		name = defaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", name, err)
	}
	return loc, nil
}

// NewChecker creates a checker.
func NewChecker(
	config HostsConfig,
	f Fetcher,
	p Parser,
	summarizer Summarizer,
	plugins Plugins,
	logger zerolog.Logger,
	opts ...Option,
) *Checker {
	c := &Checker{
		config:          config,
		fetcher:         f,
		parser:          p,
		summarizer:      summarizer,
		plugins:         plugins,
		concurrency:     10,
		hostConcurrency: 5,
		timezone:        time.Local,
		version:         "dev",
		logger:          logger.With().Str("component", "checker").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// Checking
// =============================================================================

// Run checks hosts and aggregates the results. Without hosts every configured host
// is checked. A failing host is recorded as failed and does not abort the run.
func (c *Checker) Run(ctx context.Context, hosts []model.HostName) (*model.CheckRun, error) {
	if len(hosts) == 0 {
		hosts = c.config.HostNames()
	}
	startTime := time.Now().In(c.timezone)
	c.logger.Info().
		Int("hosts", len(hosts)).
		Time("start_time", startTime).
		Msg("starting check run")

	run := model.NewCheckRun(startTime)
	run.Version = c.version

	results := make([]*model.HostResult, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.hostConcurrency)
	for i, host := range hosts {
		g.Go(func() error {
			res, err := c.CheckHost(gctx, host)
			if err != nil {
				c.logger.Error().Err(err).Str("host", host).Msg("host check failed")
				res = model.NewHostResult(host, time.Now().In(c.timezone))
				res.Error = err.Error()
				res.Finalize(time.Now().In(c.timezone))
				c.metrics.ObserveHostRun(string(res.Status))
			}
			results[i] = res
			return nil // Single host failure does not abort
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("check run aborted: %w", err)
	}

	for _, res := range results {
		run.AddHost(res)
	}
	endTime := time.Now().In(c.timezone)
	run.Finalize(endTime)
	c.metrics.SetLastRun(endTime)

	c.logger.Info().
		Int("total_hosts", run.Summary.TotalHosts).
		Int("normal_hosts", run.Summary.NormalHosts).
		Int("warning_hosts", run.Summary.WarningHosts).
		Int("critical_hosts", run.Summary.CriticalHosts).
		Int("failed_hosts", run.Summary.FailedHosts).
		Int("problems", run.Summary.Problems).
		Dur("duration", run.Duration).
		Msg("check run completed")

	return run, nil
}

// CheckHost runs one check cycle of host. Timeouts and cancellation abort the cycle
// and are returned; everything else is reported inside the result.
func (c *Checker) CheckHost(ctx context.Context, host model.HostName) (*model.HostResult, error) {
	if c.hostTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.hostTimeout)
		defer cancel()
	}

	isCluster := c.config.IsCluster(host)
	logger := c.logger.With().Str("host", host).Bool("cluster", isCluster).Logger()
	result := model.NewHostResult(host, time.Now().In(c.timezone))
	result.IsCluster = isCluster

	// Step 1: Fetch and parse
	selection := c.selection
	if isCluster {
		selection = nil
	}
	fetched := c.fetcher.Fetch(ctx, host, fetcher.ModeChecking)
	parsed := c.parser.Parse(fetched, selection)
	providers := sections.MakeProviders(parsed, c.plugins.Sections, c.logger)
	for _, f := range fetched {
		if f.Source.HostName == host && f.Source.IPAddress != "" {
			result.IP = f.Source.IPAddress
			break
		}
	}

	// Step 2: Evaluate services
	services, err := c.Services(host)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load discovered services")
	}
	logger.Debug().Int("services", len(services)).Int("sources", len(fetched)).Msg("evaluating services")

	evaluated := make([]model.AggregatedResult, len(services))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, svc := range services {
		g.Go(func() error {
			res, err := c.checkService(gctx, host, svc, providers)
			if err != nil {
				return err
			}
			evaluated[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("check of %s aborted: %w", host, err)
	}
	for _, res := range evaluated {
		result.AddService(res)
	}

	// Step 3: Summarize data sources
	for i, summary := range c.summarizer.Summarize(parsed) {
		sr := model.SourceResult{Source: parsed[i].Source, Result: summary}
		if i < len(fetched) {
			sr.Timing = fetched[i].Timing
		}
		result.AddSource(sr)
	}

	result.Finalize(time.Now().In(c.timezone))
	c.metrics.ObserveHostRun(string(result.Status))
	logger.Info().
		Str("status", string(result.Status)).
		Int("services", len(result.Services)).
		Int("problems", len(result.Problems)).
		Dur("duration", result.Duration).
		Msg("host checked")
	return result, nil
}

// checkService evaluates one service. Unknown plugins and failed evaluations become
// state 3 results; timeouts and cancellation are returned.
func (c *Checker) checkService(
	ctx context.Context,
	host model.HostName,
	svc model.ConfiguredService,
	providers sections.Providers,
) (model.AggregatedResult, error) {
	p, ok := c.plugins.Checks.Get(svc.CheckPluginName)
	if !ok {
		return model.AggregatedResult{Service: svc, Result: model.CheckPluginMissing()}, nil
	}
	res, err := p.CheckFunction(ctx, host, svc, providers)
	if err == nil {
		return res, nil
	}
	if checking.IsTimeout(err) || errors.Is(err, context.Canceled) || c.debug {
		return model.AggregatedResult{}, err
	}
	c.logger.Warn().Err(err).Str("host", host).Str("service", svc.Description).Msg("service evaluation failed")
	return model.AggregatedResult{
		Service:      svc,
		DataReceived: true,
		Result:       model.NewSubmittableResult(model.StateUnknown, err.Error(), nil),
	}, nil
}

// Services returns the enforced services of host followed by its discovered services.
// A discovered service with the ID of an enforced one is dropped. Plugin defaults and
// matching rules are appended to the parameters of every service.
func (c *Checker) Services(host model.HostName) ([]model.ConfiguredService, error) {
	configured := c.config.Services(host)
	seen := make(map[model.ServiceID]bool, len(configured))
	services := make([]model.ConfiguredService, 0, len(configured))
	for _, svc := range configured {
		seen[svc.ID()] = true
		if svc.Description == "" {
			svc.Description = c.serviceDescription(svc.CheckPluginName, svc.Item)
		}
		svc.Parameters = c.withPluginParameters(host, svc.CheckPluginName, svc.Parameters.Sets, nil)
		services = append(services, svc)
	}

	if c.autochecks == nil {
		return services, nil
	}
	entries, err := c.autochecks.Load(host)
	if err != nil {
		return services, err
	}
	for _, entry := range entries {
		if seen[entry.ID()] {
			continue
		}
		seen[entry.ID()] = true
		services = append(services, c.autocheckService(host, entry))
	}
	return services, nil
}

// serviceDescription renders the service name template of the plugin, or falls back
// to the plugin name followed by the item.
func (c *Checker) serviceDescription(name model.CheckPluginName, item string) string {
	if dp, ok := c.plugins.Discovery.Get(name); ok && dp.ServiceName != "" {
		return plugin.ServiceDescription(dp.ServiceName, item)
	}
	description := string(name)
	if item != "" {
		description += " " + item
	}
	return description
}

func (c *Checker) autocheckService(host model.HostName, entry model.AutocheckEntry) model.ConfiguredService {
	description := c.serviceDescription(entry.CheckPluginName, entry.Item)

	var discovered []params.TimespecificParameterSet
	var raw map[string]any
	if entry.Parameters != nil {
		discovered = []params.TimespecificParameterSet{{Default: params.FromAny(entry.Parameters)}}
		raw, _ = entry.Parameters.(map[string]any)
	}
	return model.ConfiguredService{
		CheckPluginName: entry.CheckPluginName,
		Item:            entry.Item,
		Description:     description,
		Labels:          entry.ServiceLabels,
		Parameters:      c.withPluginParameters(host, entry.CheckPluginName, nil, discovered),
		Discovered:      raw,
	}
}

// withPluginParameters orders parameter sets by precedence: configured sets, matching
// rules, discovered sets, plugin defaults. Plugins without defaults take no parameters.
func (c *Checker) withPluginParameters(
	host model.HostName,
	name model.CheckPluginName,
	configured, discovered []params.TimespecificParameterSet,
) params.TimespecificParameters {
	sets := append([]params.TimespecificParameterSet(nil), configured...)
	p, ok := c.plugins.Checks.Get(name)
	if !ok || p.DefaultParameters == nil {
		return params.TimespecificParameters{Sets: append(sets, discovered...)}
	}
	if rules := api.PluginParameters(host, c.config, api.Parameters{}, p.RulesetName); len(rules) > 0 {
		sets = append(sets, params.TimespecificParameterSet{Default: params.FromAny(map[string]any(rules))})
	}
	sets = append(sets, discovered...)
	sets = append(sets, params.TimespecificParameterSet{Default: params.FromAny(map[string]any(p.DefaultParameters))})
	return params.TimespecificParameters{Sets: sets}
}
