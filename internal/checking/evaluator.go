// Package checking evaluates a single configured service against the parsed
// sections of a check cycle.
//
// Evaluation runs in fixed stages: section resolution, parameter resolution,
// function selection, isolated invocation, output normalization and cache info
// aggregation. Plugin defects are contained and turned into crash results; timeouts
// and parameter validation errors are returned to the caller.
package checking

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"checkengine/internal/crash"
	"checkengine/internal/model"
	"checkengine/internal/params"
	"checkengine/internal/plugin/api"
	"checkengine/internal/sections"
	"checkengine/internal/telemetry"
	"checkengine/internal/valuestore"
)

// ErrTimeout is the cooperative timeout signal of check plugins.
var ErrTimeout = api.ErrTimeout

// HostConfig is the host configuration the evaluator needs.
type HostConfig interface {
	IsCluster(name string) bool
	Nodes(name string) []string
	EffectiveHost(node, description string) string
	ClusterMode(cluster, description string) model.ClusterMode
	OnlyFrom(name string) []string
	TimeperiodActive(name string) bool
}

// Predictor resolves predictive levels and knows where their metadata is stored.
type Predictor interface {
	params.PredictiveLookup
	MetaFilePathTemplate(host, description string) string
}

// PanicError is a panic raised by a check function.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("check function panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// IsTimeout reports whether err is a timeout that must reach the caller unchanged.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Evaluator evaluates single services.
type Evaluator struct {
	config         HostConfig
	values         *valuestore.Manager
	crashes        crash.Sink
	predictor      Predictor
	metrics        *telemetry.Metrics
	debug          bool
	serviceTimeout time.Duration
	logger         zerolog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithDebug lets plugin failures propagate instead of turning them into crash results.
func WithDebug(enabled bool) Option {
	return func(e *Evaluator) { e.debug = enabled }
}

// WithCrashSink sets where crash reports are stored.
func WithCrashSink(s crash.Sink) Option {
	return func(e *Evaluator) { e.crashes = s }
}

// WithPredictor enables predictive levels.
func WithPredictor(p Predictor) Option {
	return func(e *Evaluator) { e.predictor = p }
}

// WithValueStore sets the value store manager. Without one values only live for a
// single process.
func WithValueStore(m *valuestore.Manager) Option {
	return func(e *Evaluator) { e.values = m }
}

// WithMetrics records check durations, states and crashes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithServiceTimeout sets the deadline of a single service evaluation.
func WithServiceTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.serviceTimeout = d }
}

// New creates an evaluator.
func New(config HostConfig, logger zerolog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		config: config,
		logger: logger.With().Str("component", "checking").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.values == nil {
		e.values = valuestore.NewManager(valuestore.NewMemoryBackend(), logger)
	}
	return e
}

// Evaluate runs plugin for service on host. It implements plugin.ServiceEvaluator.
func (e *Evaluator) Evaluate(
	ctx context.Context,
	host model.HostName,
	service model.ConfiguredService,
	plugin api.CheckPlugin,
	providers sections.Providers,
) (model.AggregatedResult, error) {
	start := time.Now()
	logger := e.logger.With().
		Str("host", host).
		Str("service", service.Description).
		Str("plugin", plugin.Name).
		Logger()

	if e.serviceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.serviceTimeout)
		defer cancel()
	}

	// 1. Section resolution
	var (
		isCluster = e.config.IsCluster(host)
		source    = service.CheckPluginName.SourceType()
		nodes     []model.HostName
		kwargs    api.Sections
		nodeKw    map[string]map[string]any
	)
	if isCluster {
		nodeKeys := e.clusteredNodeKeys(host, source, service.Description)
		nodes = make([]model.HostName, len(nodeKeys))
		for i, k := range nodeKeys {
			nodes[i] = k.HostName
		}
		nodeKw = sections.GetSectionClusterKwargs(providers, nodeKeys, plugin.Sections)
		if len(nodeKw) == 0 {
			logger.Debug().Strs("nodes", nodes).Msg("cluster received no data")
			return model.AggregatedResult{Service: service, Result: model.ClusterReceivedNoData(nodes)}, nil
		}
	} else {
		kwargs = sections.GetSectionKwargs(providers, model.HostKey{HostName: host, SourceType: source}, plugin.Sections)
		if len(kwargs) == 0 {
			logger.Debug().Msg("received no data")
			return model.AggregatedResult{Service: service, Result: model.ReceivedNoData()}, nil
		}
	}

	// 2. Parameter resolution
	var checkParams api.Parameters
	if plugin.CheckDefaultParameters != nil {
		p, err := e.finalParameters(ctx, host, service)
		if err != nil {
			return model.AggregatedResult{}, fmt.Errorf("failed to resolve parameters of %s on %s: %w", service.Description, host, err)
		}
		checkParams = p
	}

	// 3. + 4. Function selection and isolated invocation
	ns, release, err := e.values.Acquire(ctx, host, service.ID())
	if err != nil {
		return model.AggregatedResult{}, fmt.Errorf("failed to acquire value store of %s on %s: %w", service.Description, host, err)
	}
	defer release()

	svcCtx := api.ServiceContext{HostName: host, PluginName: plugin.Name, Description: service.Description}
	var run func() api.CheckResult
	if isCluster {
		mode := e.config.ClusterMode(host, service.Description)
		fn, err := clusterCheckFunction(mode, plugin, nodes, func(node model.HostName) api.ValueStore {
			return ns.Sub(node)
		})
		if err != nil {
			return model.AggregatedResult{}, err
		}
		req := api.ClusterCheckRequest{Item: service.Item, Params: checkParams, NodeSections: nodeKw, Store: ns, Service: svcCtx}
		run = func() api.CheckResult { return fn(ctx, req) }
	} else {
		req := api.CheckRequest{Item: service.Item, Params: checkParams, Sections: kwargs, Store: ns, Service: svcCtx}
		run = func() api.CheckResult { return plugin.CheckFunction(ctx, req) }
	}

	// 5. Output normalization
	result, err := invoke(run)
	if err != nil {
		if IsTimeout(err) || errors.Is(err, context.Canceled) {
			return model.AggregatedResult{}, err
		}
		if e.debug {
			return model.AggregatedResult{}, fmt.Errorf("check of %s on %s failed: %w", service.Description, host, err)
		}
		logger.Error().Err(err).Msg("check plugin crashed")
		result = e.crashResult(ctx, host, service, plugin, checkParams, kwargs, nodeKw, err)
	}

	e.metrics.ObserveCheck(plugin.Name, result.State.String(), time.Since(start))
	logger.Debug().
		Str("state", result.State.String()).
		Bool("submittable", result.Submittable).
		Msg("service evaluated")

	// 6. Cache info aggregation
	return model.AggregatedResult{
		Service:      service,
		DataReceived: true,
		Result:       result,
		CacheInfo:    model.MergeCacheInfo(sections.CacheInfos(providers, plugin.Sections)),
	}, nil
}

// clusteredNodeKeys returns the keys of the nodes whose service is assigned to
// cluster. If no node is assigned all nodes are used.
func (e *Evaluator) clusteredNodeKeys(cluster model.HostName, source model.SourceType, description string) []model.HostKey {
	all := e.config.Nodes(cluster)
	var used []model.HostName
	for _, node := range all {
		if e.config.EffectiveHost(node, description) == cluster {
			used = append(used, node)
		}
	}
	if len(used) == 0 {
		used = all
	}
	keys := make([]model.HostKey, len(used))
	for i, node := range used {
		keys[i] = model.HostKey{HostName: node, SourceType: source}
	}
	return keys
}

// finalParameters evaluates time specific parameters, resolves deferred values and
// wraps the result into the plugin facing shape.
func (e *Evaluator) finalParameters(ctx context.Context, host model.HostName, service model.ConfiguredService) (api.Parameters, error) {
	value := service.Parameters.Evaluate(e.config.TimeperiodActive)
	if params.NeedsPostprocessing(value) {
		injected := params.InjectedParameters{HostName: host, ServiceDescription: service.Description}
		if e.predictor != nil {
			injected.Lookup = e.predictor
			injected.MetaFilePathTemplate = e.predictor.MetaFilePathTemplate(host, service.Description)
		}
		var onlyFrom params.Value
		if addrs := e.config.OnlyFrom(host); len(addrs) > 0 {
			onlyFrom = params.FromAny(addrs)
		}
		resolved, err := params.PostProcess(ctx, value, injected, onlyFrom)
		if err != nil {
			return nil, err
		}
		value = resolved
	}
	return api.WrapParameters(params.ToAny(value)), nil
}

// invoke runs a check function and merges its outcomes. Panics become *PanicError,
// except timeouts, which are returned as raised.
func invoke(run func() api.CheckResult) (result model.ServiceCheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok && IsTimeout(rerr) {
				err = rerr
				return
			}
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	c, err := consume(run())
	if err != nil {
		return model.ServiceCheckResult{}, err
	}
	return aggregate(c), nil
}

// crashResult stores a crash report and returns the state 3 result pointing to it.
func (e *Evaluator) crashResult(
	ctx context.Context,
	host model.HostName,
	service model.ConfiguredService,
	plugin api.CheckPlugin,
	checkParams api.Parameters,
	kwargs api.Sections,
	nodeKw map[string]map[string]any,
	cause error,
) model.ServiceCheckResult {
	e.metrics.IncCrash(plugin.Name)

	if e.crashes == nil {
		return model.NewSubmittableResult(model.StateUnknown, "check failed - "+cause.Error(), nil)
	}

	report := crash.Report{
		Host:     host,
		Service:  service.Description,
		Plugin:   plugin.Name,
		Item:     service.Item,
		Params:   map[string]any(checkParams),
		Sections: make(map[string]string),
		Error:    cause.Error(),
		Env: map[string]string{
			"is_cluster":  fmt.Sprint(nodeKw != nil),
			"is_enforced": fmt.Sprint(service.IsEnforced),
		},
	}
	var pe *PanicError
	if errors.As(cause, &pe) {
		report.Stack = string(pe.Stack)
	}
	for key, v := range kwargs {
		report.Sections[key] = fmt.Sprintf("%v", v)
	}
	for key, byNode := range nodeKw {
		report.Sections[key] = fmt.Sprintf("%v", byNode)
	}
	for key := range report.Sections {
		report.SectionKeys = append(report.SectionKeys, key)
	}
	sort.Strings(report.SectionKeys)

	id, err := e.crashes.Report(context.WithoutCancel(ctx), report)
	if err != nil {
		e.logger.Error().Err(err).Str("host", host).Str("service", service.Description).Msg("failed to store crash report")
		return model.NewSubmittableResult(model.StateUnknown, crash.FailedOutput(err), nil)
	}
	return model.NewSubmittableResult(model.StateUnknown, crash.Output(id), nil)
}
