package checking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkengine/internal/crash"
	"checkengine/internal/model"
	"checkengine/internal/params"
	"checkengine/internal/plugin/api"
	"checkengine/internal/sections"
	"checkengine/internal/valuestore"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeHosts struct {
	clusters map[string][]string
	assigned map[string]string            // node -> cluster owning its services
	modes    map[string]model.ClusterMode // service description -> mode
	onlyFrom []string
}

func (h *fakeHosts) IsCluster(name string) bool { _, ok := h.clusters[name]; return ok }
func (h *fakeHosts) Nodes(name string) []string { return h.clusters[name] }
func (h *fakeHosts) OnlyFrom(string) []string   { return h.onlyFrom }
func (h *fakeHosts) TimeperiodActive(string) bool {
	return false
}

func (h *fakeHosts) EffectiveHost(node, _ string) string {
	if c, ok := h.assigned[node]; ok {
		return c
	}
	return node
}

func (h *fakeHosts) ClusterMode(_, description string) model.ClusterMode {
	if m, ok := h.modes[description]; ok {
		return m
	}
	return model.ClusterModeNative
}

type noPlugins struct{}

func (noPlugins) Get(string) (sections.SectionPlugin, bool) { return sections.SectionPlugin{}, false }

type recordingSink struct {
	reports []crash.Report
	err     error
}

func (s *recordingSink) Report(_ context.Context, r crash.Report) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.reports = append(s.reports, r)
	return "crash-1", nil
}

type fakePredictor struct {
	calls atomic.Int32
}

func (p *fakePredictor) LookupPredictiveLevels(
	_ context.Context,
	metric string,
	_ params.Direction,
	_ params.PredictionParameters,
	injected params.InjectedParameters,
) (*float64, *params.Bounds, error) {
	p.calls.Add(1)
	ref := 2.0
	return &ref, &params.Bounds{Warn: 4, Crit: 6}, nil
}

func (p *fakePredictor) MetaFilePathTemplate(host, description string) string {
	return "/tmp/" + host + "/" + description + "/{metric}.json"
}

// providersOf builds providers from host -> section -> rows.
func providersOf(data map[string]map[string]model.SectionRows, cached ...string) sections.Providers {
	providers := make(sections.Providers)
	for host, secs := range data {
		hs := model.NewHostSections()
		for name, rows := range secs {
			hs.AddRows(name, rows)
		}
		for _, name := range cached {
			if _, ok := secs[name]; ok {
				hs.CacheInfo[name] = model.CacheInfo{
					CachedAt: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
					Interval: time.Minute,
				}
			}
		}
		key := model.HostKey{HostName: host, SourceType: model.SourceTypeHost}
		providers[key] = sections.NewProvider(key, hs, noPlugins{}, zerolog.Nop())
	}
	return providers
}

func uptimePlugin(calls *atomic.Int32) api.CheckPlugin {
	return api.CheckPlugin{
		Name:     "uptime",
		Sections: []string{"uptime"},
		CheckFunction: func(_ context.Context, req api.CheckRequest) api.CheckResult {
			if calls != nil {
				calls.Add(1)
			}
			rows := req.Sections["section"].([][]string)
			return api.Results(
				api.NewVerdict(api.StateOK, "Up since "+rows[0][0]),
				api.Metric("uptime", 1),
			)
		},
	}
}

func service(plugin, description string) model.ConfiguredService {
	return model.ConfiguredService{CheckPluginName: model.CheckPluginName(plugin), Description: description}
}

// =============================================================================
// Single host
// =============================================================================

func TestEvaluate_NoData(t *testing.T) {
	var calls atomic.Int32
	e := New(&fakeHosts{}, zerolog.Nop())
	providers := providersOf(map[string]map[string]model.SectionRows{
		"web01": {"df": {{"/", "10"}}},
	})

	got, err := e.Evaluate(context.Background(), "web01", service("uptime", "Uptime"), uptimePlugin(&calls), providers)
	require.NoError(t, err)

	assert.False(t, got.DataReceived)
	assert.Equal(t, model.ReceivedNoData(), got.Result)
	assert.Nil(t, got.CacheInfo)
	assert.Equal(t, int32(0), calls.Load(), "plugin must not be invoked without data")
}

func TestEvaluate_Success(t *testing.T) {
	var calls atomic.Int32
	e := New(&fakeHosts{}, zerolog.Nop())
	providers := providersOf(map[string]map[string]model.SectionRows{
		"web01": {"uptime": {{"1234"}}},
	}, "uptime")

	got, err := e.Evaluate(context.Background(), "web01", service("uptime", "Uptime"), uptimePlugin(&calls), providers)
	require.NoError(t, err)

	assert.True(t, got.DataReceived)
	assert.Equal(t, model.StateOK, got.Result.State)
	assert.Equal(t, "Up since 1234\nUp since 1234", got.Result.Output)
	assert.True(t, got.Result.Submittable)
	require.Len(t, got.Result.Metrics, 1)
	require.NotNil(t, got.CacheInfo)
	assert.Equal(t, time.Minute, got.CacheInfo.Interval)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEvaluate_ManagementBoard(t *testing.T) {
	e := New(&fakeHosts{}, zerolog.Nop())
	hs := model.NewHostSections()
	hs.AddRows("mgmt_uptime", model.SectionRows{{"99"}})
	key := model.HostKey{HostName: "web01", SourceType: model.SourceTypeManagement}
	providers := sections.Providers{key: sections.NewProvider(key, hs, noPlugins{}, zerolog.Nop())}

	plugin := uptimePlugin(nil)
	plugin.Name = "mgmt_uptime"
	plugin.Sections = []string{"mgmt_uptime"}

	got, err := e.Evaluate(context.Background(), "web01", service("mgmt_uptime", "Management Uptime"), plugin, providers)
	require.NoError(t, err)
	assert.True(t, got.DataReceived)
	assert.Contains(t, got.Result.Output, "Up since 99")
}

func TestEvaluate_Parameters(t *testing.T) {
	var seen api.Parameters
	plugin := api.CheckPlugin{
		Name:                   "cpu_loads",
		Sections:               []string{"cpu"},
		CheckDefaultParameters: api.Parameters{"levels": []any{5.0, 10.0}},
		CheckFunction: func(_ context.Context, req api.CheckRequest) api.CheckResult {
			seen = req.Params
			return api.Results(api.NewVerdict(api.StateOK, "fine"))
		},
	}
	providers := providersOf(map[string]map[string]model.SectionRows{"web01": {"cpu": {{"0.5"}}}})

	t.Run("predictive_levels", func(t *testing.T) {
		predictor := &fakePredictor{}
		e := New(&fakeHosts{}, zerolog.Nop(), WithPredictor(predictor))
		svc := service("cpu_loads", "CPU load")
		svc.Parameters = params.Static(params.FromAny(map[string]any{
			"levels": []any{params.PostprocessedTag, params.StrategyPredictiveLevels, map[string]any{
				"__reference_metric__": "load15",
				"__direction__":        "upper",
				"period":               "wday",
				"horizon":              90,
				"levels":               []any{"absolute", []any{2.0, 4.0}},
			}},
		}))

		_, err := e.Evaluate(context.Background(), "web01", svc, plugin, providers)
		require.NoError(t, err)
		assert.Equal(t, int32(1), predictor.calls.Load())
		assert.Equal(t, []any{"predictive", []any{"load15", 2.0, []any{4.0, 6.0}}}, seen["levels"])
	})

	t.Run("only_from", func(t *testing.T) {
		e := New(&fakeHosts{onlyFrom: []string{"10.0.0.1"}}, zerolog.Nop())
		svc := service("cpu_loads", "Agent access")
		svc.Parameters = params.Static(params.FromAny(map[string]any{
			"allowed": []any{params.PostprocessedTag, params.StrategyOnlyFrom, nil},
		}))

		_, err := e.Evaluate(context.Background(), "web01", svc, plugin, providers)
		require.NoError(t, err)
		assert.Equal(t, []any{"10.0.0.1"}, seen["allowed"])
	})

	t.Run("non_mapping_is_wrapped", func(t *testing.T) {
		e := New(&fakeHosts{}, zerolog.Nop())
		svc := service("cpu_loads", "CPU load")
		svc.Parameters = params.Static(params.FromAny([]any{5.0, 10.0}))

		_, err := e.Evaluate(context.Background(), "web01", svc, plugin, providers)
		require.NoError(t, err)
		assert.Equal(t, []any{5.0, 10.0}, api.UnwrapParameters(seen))
	})

	t.Run("validation_error", func(t *testing.T) {
		e := New(&fakeHosts{}, zerolog.Nop())
		svc := service("cpu_loads", "CPU load")
		svc.Parameters = params.Static(params.FromAny(map[string]any{
			"levels": []any{params.PostprocessedTag, params.StrategyPredictiveLevels, map[string]any{
				"__direction__": "upper",
			}},
		}))

		_, err := e.Evaluate(context.Background(), "web01", svc, plugin, providers)
		var verr *params.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("no_defaults_no_parameters", func(t *testing.T) {
		e := New(&fakeHosts{}, zerolog.Nop())
		noParams := plugin
		noParams.CheckDefaultParameters = nil
		svc := service("cpu_loads", "CPU load")
		svc.Parameters = params.Static(params.FromAny(map[string]any{"levels": 1.0}))

		seen = api.Parameters{"stale": true}
		_, err := e.Evaluate(context.Background(), "web01", svc, noParams, providers)
		require.NoError(t, err)
		assert.Nil(t, seen)
	})
}

func TestEvaluate_Crash(t *testing.T) {
	providers := providersOf(map[string]map[string]model.SectionRows{"web01": {"uptime": {{"1"}}}})
	panicking := api.CheckPlugin{
		Name:     "uptime",
		Sections: []string{"uptime"},
		CheckFunction: func(context.Context, api.CheckRequest) api.CheckResult {
			panic("index out of range")
		},
	}

	t.Run("crash_report", func(t *testing.T) {
		sink := &recordingSink{}
		e := New(&fakeHosts{}, zerolog.Nop(), WithCrashSink(sink))

		got, err := e.Evaluate(context.Background(), "web01", service("uptime", "Uptime"), panicking, providers)
		require.NoError(t, err)

		assert.True(t, got.DataReceived)
		assert.Equal(t, model.StateUnknown, got.Result.State)
		assert.True(t, got.Result.Submittable)
		assert.Equal(t, crash.Output("crash-1"), got.Result.Output)
		require.Len(t, sink.reports, 1)
		assert.Equal(t, "Uptime", sink.reports[0].Service)
		assert.Equal(t, []string{"section"}, sink.reports[0].SectionKeys)
		assert.Contains(t, sink.reports[0].Error, "index out of range")
		assert.NotEmpty(t, sink.reports[0].Stack)
	})

	t.Run("sink_failure", func(t *testing.T) {
		e := New(&fakeHosts{}, zerolog.Nop(), WithCrashSink(&recordingSink{err: errors.New("disk full")}))

		got, err := e.Evaluate(context.Background(), "web01", service("uptime", "Uptime"), panicking, providers)
		require.NoError(t, err)
		assert.Equal(t, model.StateUnknown, got.Result.State)
		assert.Contains(t, got.Result.Output, "disk full")
	})

	t.Run("error_yielded", func(t *testing.T) {
		failing := panicking
		failing.CheckFunction = func(context.Context, api.CheckRequest) api.CheckResult {
			return api.Fail(errors.New("unexpected agent output"))
		}
		sink := &recordingSink{}
		e := New(&fakeHosts{}, zerolog.Nop(), WithCrashSink(sink))

		got, err := e.Evaluate(context.Background(), "web01", service("uptime", "Uptime"), failing, providers)
		require.NoError(t, err)
		assert.Equal(t, model.StateUnknown, got.Result.State)
		require.Len(t, sink.reports, 1)
		assert.Empty(t, sink.reports[0].Stack)
	})

	t.Run("debug_propagates", func(t *testing.T) {
		e := New(&fakeHosts{}, zerolog.Nop(), WithDebug(true))

		_, err := e.Evaluate(context.Background(), "web01", service("uptime", "Uptime"), panicking, providers)
		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "index out of range", pe.Value)
	})
}

func TestEvaluate_Timeout(t *testing.T) {
	providers := providersOf(map[string]map[string]model.SectionRows{"web01": {"uptime": {{"1"}}}})
	sink := &recordingSink{}
	e := New(&fakeHosts{}, zerolog.Nop(), WithCrashSink(sink))

	t.Run("plugin_signal", func(t *testing.T) {
		plugin := api.CheckPlugin{
			Name:     "uptime",
			Sections: []string{"uptime"},
			CheckFunction: func(context.Context, api.CheckRequest) api.CheckResult {
				return api.Fail(ErrTimeout)
			},
		}
		_, err := e.Evaluate(context.Background(), "web01", service("uptime", "Uptime"), plugin, providers)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.True(t, IsTimeout(err))
	})

	t.Run("panic_with_signal", func(t *testing.T) {
		plugin := api.CheckPlugin{
			Name:     "uptime",
			Sections: []string{"uptime"},
			CheckFunction: func(context.Context, api.CheckRequest) api.CheckResult {
				panic(fmt.Errorf("reading counters: %w", ErrTimeout))
			},
		}
		got, err := e.Evaluate(context.Background(), "web01", service("uptime", "Uptime"), plugin, providers)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
		var panicErr *PanicError
		assert.False(t, errors.As(err, &panicErr), "timeouts are returned as raised")
		assert.Empty(t, got.Result.Output)
	})

	t.Run("service_deadline", func(t *testing.T) {
		slow := New(&fakeHosts{}, zerolog.Nop(), WithCrashSink(sink), WithServiceTimeout(10*time.Millisecond))
		plugin := api.CheckPlugin{
			Name:     "uptime",
			Sections: []string{"uptime"},
			CheckFunction: func(ctx context.Context, _ api.CheckRequest) api.CheckResult {
				<-ctx.Done()
				return api.Fail(ctx.Err())
			},
		}
		_, err := slow.Evaluate(context.Background(), "web01", service("uptime", "Uptime"), plugin, providers)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	assert.Empty(t, sink.reports, "timeouts never produce crash reports")
}

func TestEvaluate_ValueStore(t *testing.T) {
	backend := valuestore.NewMemoryBackend()
	e := New(&fakeHosts{}, zerolog.Nop(), WithValueStore(valuestore.NewManager(backend, zerolog.Nop())))
	providers := providersOf(map[string]map[string]model.SectionRows{"web01": {"counter": {{"1"}}}})

	plugin := api.CheckPlugin{
		Name:     "counter",
		Sections: []string{"counter"},
		CheckFunction: func(_ context.Context, req api.CheckRequest) api.CheckResult {
			runs := 0.0
			if v, ok := req.Store.Get("runs"); ok {
				runs = v.(float64)
			}
			runs++
			req.Store.Set("runs", runs)
			if runs == 1 {
				return api.Results(api.Ignore{Reason: "Initialized counter"})
			}
			return api.Results(api.NewVerdict(api.StateOK, "counted"))
		},
	}
	svc := service("counter", "Counter")

	first, err := e.Evaluate(context.Background(), "web01", svc, plugin, providers)
	require.NoError(t, err)
	assert.False(t, first.Result.Submittable)

	second, err := e.Evaluate(context.Background(), "web01", svc, plugin, providers)
	require.NoError(t, err)
	assert.True(t, second.Result.Submittable)

	stored, err := backend.Load(context.Background(), "web01", svc.ID().String())
	require.NoError(t, err)
	assert.Equal(t, 2.0, stored["runs"])
}

// =============================================================================
// Clusters
// =============================================================================

func clusterProviders() sections.Providers {
	return providersOf(map[string]map[string]model.SectionRows{
		"db01": {"mysql": {{"WARN", "replication lag"}}},
		"db02": {"mysql": {{"OK", "primary"}}},
	})
}

func mysqlPlugin() api.CheckPlugin {
	return api.CheckPlugin{
		Name:     "mysql",
		Sections: []string{"mysql"},
		CheckFunction: func(_ context.Context, req api.CheckRequest) api.CheckResult {
			row := req.Sections["section"].([][]string)[0]
			state := api.StateOK
			if row[0] == "WARN" {
				state = api.StateWarn
			}
			return api.Results(api.NewVerdict(state, row[1]))
		},
	}
}

func clusterHosts(mode model.ClusterMode) *fakeHosts {
	return &fakeHosts{
		clusters: map[string][]string{"dbcluster": {"db01", "db02"}},
		assigned: map[string]string{"db01": "dbcluster", "db02": "dbcluster"},
		modes:    map[string]model.ClusterMode{"MySQL": mode},
	}
}

func TestEvaluate_ClusterModes(t *testing.T) {
	tests := []struct {
		mode    model.ClusterMode
		state   model.ServiceState
		summary string
	}{
		{model.ClusterModeWorst, model.StateWarn, "Worst: [db01], replication lag(!)"},
		{model.ClusterModeBest, model.StateOK, "Best: [db02], primary"},
		{model.ClusterModeFailover, model.StateWarn, "Active: [db01], Unexpected active nodes: db01, db02(!), replication lag(!)"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			e := New(clusterHosts(tt.mode), zerolog.Nop())

			got, err := e.Evaluate(context.Background(), "dbcluster", service("mysql", "MySQL"), mysqlPlugin(), clusterProviders())
			require.NoError(t, err)

			assert.True(t, got.DataReceived)
			assert.Equal(t, tt.state, got.Result.State)
			assert.Equal(t, tt.summary, got.Result.Summary())
		})
	}
}

func TestEvaluate_ClusterOtherNodesAsNotice(t *testing.T) {
	e := New(clusterHosts(model.ClusterModeWorst), zerolog.Nop())

	got, err := e.Evaluate(context.Background(), "dbcluster", service("mysql", "MySQL"), mysqlPlugin(), clusterProviders())
	require.NoError(t, err)
	assert.Contains(t, got.Result.Output, "\n[db02]: primary")
}

func TestEvaluate_ClusterNative(t *testing.T) {
	t.Run("cluster_function", func(t *testing.T) {
		plugin := mysqlPlugin()
		plugin.ClusterCheckFunction = func(_ context.Context, req api.ClusterCheckRequest) api.CheckResult {
			return api.Results(api.NewVerdict(api.StateOK, strings.Join(sortedNodes(req.NodeSections["section"]), "+")))
		}
		e := New(clusterHosts(model.ClusterModeNative), zerolog.Nop())

		got, err := e.Evaluate(context.Background(), "dbcluster", service("mysql", "MySQL"), plugin, clusterProviders())
		require.NoError(t, err)
		assert.Equal(t, "db01+db02", got.Result.Summary())
	})

	t.Run("not_implemented", func(t *testing.T) {
		e := New(clusterHosts(model.ClusterModeNative), zerolog.Nop())

		got, err := e.Evaluate(context.Background(), "dbcluster", service("mysql", "MySQL"), mysqlPlugin(), clusterProviders())
		require.NoError(t, err)
		assert.Equal(t, model.StateUnknown, got.Result.State)
		assert.Contains(t, got.Result.Output, "does not implement a native cluster mode")
	})
}

func TestEvaluate_ClusterNoData(t *testing.T) {
	e := New(clusterHosts(model.ClusterModeWorst), zerolog.Nop())
	providers := providersOf(map[string]map[string]model.SectionRows{"db01": {"df": {{"/"}}}})

	got, err := e.Evaluate(context.Background(), "dbcluster", service("mysql", "MySQL"), mysqlPlugin(), providers)
	require.NoError(t, err)
	assert.False(t, got.DataReceived)
	assert.Equal(t, model.ClusterReceivedNoData([]string{"db01", "db02"}), got.Result)
}

// The node keys fall back to every node when no node assigns the service to the
// cluster. This keeps compatibility with existing configurations.
func TestEvaluate_ClusterFallsBackToAllNodes(t *testing.T) {
	hosts := clusterHosts(model.ClusterModeWorst)
	hosts.assigned = nil
	e := New(hosts, zerolog.Nop())

	keys := e.clusteredNodeKeys("dbcluster", model.SourceTypeHost, "MySQL")
	require.Len(t, keys, 2)
	assert.Equal(t, "db01", keys[0].HostName)
	assert.Equal(t, "db02", keys[1].HostName)

	got, err := e.Evaluate(context.Background(), "dbcluster", service("mysql", "MySQL"), mysqlPlugin(), clusterProviders())
	require.NoError(t, err)
	assert.True(t, got.DataReceived)
	assert.Equal(t, model.StateWarn, got.Result.State)
}

func TestEvaluate_ClusterOnlyAssignedNodes(t *testing.T) {
	hosts := clusterHosts(model.ClusterModeWorst)
	hosts.assigned = map[string]string{"db02": "dbcluster"}
	e := New(hosts, zerolog.Nop())

	got, err := e.Evaluate(context.Background(), "dbcluster", service("mysql", "MySQL"), mysqlPlugin(), clusterProviders())
	require.NoError(t, err)
	assert.Equal(t, model.StateOK, got.Result.State)
	assert.Equal(t, "Worst: [db02], primary", got.Result.Summary())
}

func TestEvaluate_ClusterNodeValueStores(t *testing.T) {
	backend := valuestore.NewMemoryBackend()
	e := New(clusterHosts(model.ClusterModeBest), zerolog.Nop(), WithValueStore(valuestore.NewManager(backend, zerolog.Nop())))

	plugin := mysqlPlugin()
	inner := plugin.CheckFunction
	plugin.CheckFunction = func(ctx context.Context, req api.CheckRequest) api.CheckResult {
		req.Store.Set("seen", true)
		return inner(ctx, req)
	}
	svc := service("mysql", "MySQL")
	_, err := e.Evaluate(context.Background(), "dbcluster", svc, plugin, clusterProviders())
	require.NoError(t, err)

	stored, err := backend.Load(context.Background(), "dbcluster", svc.ID().String())
	require.NoError(t, err)
	assert.Contains(t, stored, "node:db01")
	assert.Contains(t, stored, "node:db02")
}

func sortedNodes(byNode map[string]any) []string {
	var nodes []string
	for node, v := range byNode {
		if v != nil {
			nodes = append(nodes, node)
		}
	}
	if len(nodes) == 2 && nodes[0] > nodes[1] {
		nodes[0], nodes[1] = nodes[1], nodes[0]
	}
	return nodes
}
