// Package fetcher retrieves raw data from the data sources of a host.
//
// Every configured source is queried concurrently and yields exactly one
// model.FetchResult. Failures, including panics, are captured as values; results
// keep the order in which the sources are declared.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"checkengine/internal/model"
	"checkengine/internal/piggyback"
	"checkengine/internal/telemetry"
)

// ConfigProvider is the host configuration the fetcher needs.
type ConfigProvider interface {
	IsCluster(name string) bool
	Nodes(name string) []string
	ResolveIP(ctx context.Context, name string) (string, error)
	Sources(name string) []model.SourceSpec
	Password(id string) (string, bool)
	PiggybackMaxAge(name string) time.Duration
}

// Fetcher builds and queries the sources of hosts.
type Fetcher struct {
	config           ConfigProvider
	agent            AgentTransport
	snmp             SNMPBackend
	piggyback        *piggyback.Store
	cache            *FileCache
	concurrency      int
	programTimeout   time.Duration
	piggybackMaxAge  time.Duration
	forceSNMPRefresh bool
	tracker          *CPUTracker
	metrics          *telemetry.Metrics
	logger           zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithAgent sets the transport of agent sources.
func WithAgent(t AgentTransport) Option {
	return func(f *Fetcher) { f.agent = t }
}

// WithSNMPBackend sets the backend of SNMP sources.
func WithSNMPBackend(b SNMPBackend) Option {
	return func(f *Fetcher) { f.snmp = b }
}

// WithPiggybackStore sets where piggyback sources read from.
func WithPiggybackStore(s *piggyback.Store) Option {
	return func(f *Fetcher) { f.piggyback = s }
}

// WithCache enables the raw data file cache.
func WithCache(c *FileCache) Option {
	return func(f *Fetcher) { f.cache = c }
}

// WithConcurrency limits the number of sources queried at the same time.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithProgramTimeout limits the runtime of data source programs.
func WithProgramTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.programTimeout = d }
}

// WithPiggybackMaxAge sets the default max age of piggyback data.
func WithPiggybackMaxAge(d time.Duration) Option {
	return func(f *Fetcher) { f.piggybackMaxAge = d }
}

// WithForceSNMPCacheRefresh bypasses cached SNMP data of non-cluster hosts.
func WithForceSNMPCacheRefresh(force bool) Option {
	return func(f *Fetcher) { f.forceSNMPRefresh = force }
}

// WithMetrics records fetch durations and failures.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// New creates a fetcher.
func New(config ConfigProvider, logger zerolog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		config:      config,
		concurrency: 10,
		tracker:     NewCPUTracker(),
		logger:      logger.With().Str("component", "fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch queries every source of host. For a cluster the sources of all its nodes
// are queried instead; forced SNMP cache refresh does not apply to them.
func (f *Fetcher) Fetch(ctx context.Context, host model.HostName, mode Mode) []model.FetchResult {
	var (
		sources      []Source
		forceRefresh = f.forceSNMPRefresh
	)
	if f.config.IsCluster(host) {
		forceRefresh = false
		for _, node := range f.config.Nodes(host) {
			sources = append(sources, f.Sources(ctx, node)...)
		}
	} else {
		sources = f.Sources(ctx, host)
	}

	f.logger.Debug().
		Str("host", host).
		Int("sources", len(sources)).
		Str("mode", mode.String()).
		Msg("fetching host data")
	return f.fetchAll(ctx, sources, mode, forceRefresh)
}

// FetchAll queries the given sources.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source, mode Mode) []model.FetchResult {
	return f.fetchAll(ctx, sources, mode, f.forceSNMPRefresh)
}

// Sources builds the sources of a single (non-cluster) host. Sources that need an
// address fail when the address cannot be resolved; the others are unaffected.
func (f *Fetcher) Sources(ctx context.Context, host model.HostName) []Source {
	specs := f.config.Sources(host)

	var (
		ip    string
		ipErr error
	)
	needsIP := false
	for _, spec := range specs {
		needsIP = needsIP || spec.FetcherType != model.FetcherTypePiggyback
	}
	if needsIP {
		ip, ipErr = f.config.ResolveIP(ctx, host)
		if ipErr != nil {
			f.logger.Warn().Err(ipErr).Str("host", host).Msg("failed to resolve host address")
		}
	}

	sources := make([]Source, 0, len(specs))
	for _, spec := range specs {
		info := model.SourceInfo{
			HostName:    host,
			IPAddress:   ip,
			Ident:       spec.Ident,
			FetcherType: spec.FetcherType,
			SourceType:  spec.SourceType,
		}
		if spec.Address != "" {
			info.IPAddress = spec.Address
		}
		if spec.NeedsIP() && ipErr != nil {
			sources = append(sources, &failedSource{info: info, err: ipErr})
			continue
		}
		sources = append(sources, f.source(info, spec))
	}
	return sources
}

func (f *Fetcher) source(info model.SourceInfo, spec model.SourceSpec) Source {
	switch spec.FetcherType {
	case model.FetcherTypeAgent:
		if f.agent == nil {
			return &failedSource{info: info, err: errors.New("no agent transport configured")}
		}
		return &agentSource{info: info, transport: f.agent}
	case model.FetcherTypeProgram, model.FetcherTypeSpecialAgent, model.FetcherTypeIPMI:
		if spec.Command == "" {
			return &failedSource{info: info, err: fmt.Errorf("no command configured for %s", info.Ident)}
		}
		return &programSource{info: info, command: spec.Command, timeout: f.programTimeout, passwords: f.config.Password}
	case model.FetcherTypePiggyback:
		if f.piggyback == nil {
			return &failedSource{info: info, err: errors.New("no piggyback store configured")}
		}
		maxAge := f.config.PiggybackMaxAge(info.HostName)
		if maxAge <= 0 {
			maxAge = f.piggybackMaxAge
		}
		return &piggybackSource{info: info, store: f.piggyback, maxAge: maxAge}
	case model.FetcherTypeSNMP:
		return &snmpSource{info: info, backend: f.snmp}
	}
	return &failedSource{info: info, err: fmt.Errorf("unsupported fetcher type %q", spec.FetcherType)}
}

func (f *Fetcher) fetchAll(ctx context.Context, sources []Source, mode Mode, forceSNMPRefresh bool) []model.FetchResult {
	results := make([]model.FetchResult, len(sources))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			results[i] = f.fetchOne(ctx, src, mode, forceSNMPRefresh)
			return nil // Single source failure does not abort
		})
	}
	_ = g.Wait()
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source, mode Mode, forceSNMPRefresh bool) model.FetchResult {
	info := src.Info()
	result := model.FetchResult{Source: info}

	result.Timing = f.tracker.Track(func() {
		result.Raw = f.fetchRaw(ctx, src, mode, forceSNMPRefresh)
	})

	f.metrics.ObserveFetch(string(info.FetcherType), result.Timing.Wall, result.Raw.Err)
	if result.Raw.Err != nil {
		f.logger.Warn().Err(result.Raw.Err).Str("source", info.String()).Msg("fetch failed")
	} else {
		f.logger.Debug().
			Str("source", info.String()).
			Int("bytes", len(result.Raw.Data)).
			Dur("duration", result.Timing.Wall).
			Msg("fetched source")
	}
	return result
}

func (f *Fetcher) fetchRaw(ctx context.Context, src Source, mode Mode, forceSNMPRefresh bool) (raw model.RawResult) {
	defer func() {
		if r := recover(); r != nil {
			raw = model.ErrRaw(fmt.Errorf("fetcher panicked: %v", r))
		}
	}()

	info := src.Info()
	if _, failed := src.(*failedSource); failed {
		_, err := src.Fetch(ctx)
		return model.ErrRaw(err)
	}

	cacheable := info.FetcherType != model.FetcherTypePiggyback
	skipCache := forceSNMPRefresh && info.FetcherType == model.FetcherTypeSNMP
	if cacheable && !skipCache {
		data, ok, err := f.cache.Get(info, mode)
		if err != nil {
			f.logger.Warn().Err(err).Str("source", info.String()).Msg("ignoring unreadable cache file")
		}
		if ok {
			return model.OkRaw(data)
		}
	}
	if cacheable && f.cache.UseOnly() {
		return model.ErrRaw(fmt.Errorf("no cached data for %s", info.Ident))
	}

	data, err := src.Fetch(ctx)
	if err != nil {
		return model.ErrRaw(err)
	}
	if cacheable {
		if err := f.cache.Put(info, data); err != nil {
			f.logger.Warn().Err(err).Str("source", info.String()).Msg("failed to cache source data")
		}
	}
	return model.OkRaw(data)
}
