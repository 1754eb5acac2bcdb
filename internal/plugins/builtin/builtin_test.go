package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkengine/internal/plugin/api"
)

type mapStore map[string]any

func (s mapStore) Get(key string) (any, bool) { v, ok := s[key]; return v, ok }
func (s mapStore) Set(key string, value any)  { s[key] = value }
func (s mapStore) Delete(key string)          { delete(s, key) }
func (s mapStore) Keys() []string             { return nil }

func collect(t *testing.T, result api.CheckResult) ([]api.Verdict, map[string]api.MetricPoint) {
	t.Helper()
	var verdicts []api.Verdict
	metrics := make(map[string]api.MetricPoint)
	for outcome, err := range result {
		require.NoError(t, err)
		switch o := outcome.(type) {
		case api.Verdict:
			verdicts = append(verdicts, o)
		case api.MetricPoint:
			metrics[o.Name] = o
		}
	}
	return verdicts, metrics
}

func fixNow(t *testing.T, ts time.Time) {
	t.Helper()
	orig := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = orig })
}

func TestRegister(t *testing.T) {
	reg := api.NewRegistry()
	require.NoError(t, Register(reg))

	assert.Equal(t, []string{"check_mk", "cpu", "df", "uptime"}, reg.SectionNames())
	assert.Equal(t, []string{"cpu_loads", "df", "uptime"}, reg.CheckNames())
	assert.Equal(t, []string{"check_mk"}, reg.InventoryNames())

	// registering twice reports the duplicates
	assert.Error(t, Register(reg))
}

func TestParseLevels(t *testing.T) {
	tests := []struct {
		name       string
		input      any
		wantWarn   *float64
		wantCrit   *float64
		predictive bool
		reference  *float64
		wantErr    bool
	}{
		{name: "nil", input: nil},
		{name: "fixed", input: []any{80.0, 90}, wantWarn: ptr(80), wantCrit: ptr(90)},
		{
			name:       "predictive",
			input:      []any{"predictive", []any{"load15", 2.5, []any{3.0, 4.0}}},
			wantWarn:   ptr(3),
			wantCrit:   ptr(4),
			predictive: true,
			reference:  ptr(2.5),
		},
		{name: "predictive_without_reference", input: []any{"predictive", []any{"load15", nil, nil}}, predictive: true},
		{name: "wrong_length", input: []any{1.0}, wantErr: true},
		{name: "unknown_tag", input: []any{"fancy", []any{"a", nil, nil}}, wantErr: true},
		{name: "not_a_tuple", input: "80", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := parseLevels(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantWarn, l.warn)
			assert.Equal(t, tt.wantCrit, l.crit)
			assert.Equal(t, tt.predictive, l.predictive)
			assert.Equal(t, tt.reference, l.reference)
		})
	}
}

func ptr(v float64) *float64 { return &v }

func TestUptime(t *testing.T) {
	fixNow(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	section, err := parseUptime([][]string{{"93784.5", "1000.0"}})
	require.NoError(t, err)

	t.Run("no_levels", func(t *testing.T) {
		verdicts, metrics := collect(t, checkUptime(context.Background(), api.CheckRequest{
			Params:   api.Parameters{},
			Sections: api.Sections{"section": section},
		}))
		require.Len(t, verdicts, 1)
		assert.Equal(t, api.StateOK, verdicts[0].State)
		assert.Equal(t, "Up since 2024-03-09 09:56:55, uptime: 1 day 02:03:04", verdicts[0].Summary)
		assert.InDelta(t, 93784.5, metrics["uptime"].Value, 0.001)
	})

	t.Run("recent_reboot", func(t *testing.T) {
		verdicts, _ := collect(t, checkUptime(context.Background(), api.CheckRequest{
			Params:   api.Parameters{"min": []any{200000.0, 100000.0}},
			Sections: api.Sections{"section": section},
		}))
		require.Len(t, verdicts, 1)
		assert.Equal(t, api.StateCrit, verdicts[0].State)
		assert.Contains(t, verdicts[0].Summary, "(warn/crit at 2 days 07:33:20/1 day 03:46:40)")
	})

	t.Run("invalid_params", func(t *testing.T) {
		var gotErr error
		for _, err := range checkUptime(context.Background(), api.CheckRequest{
			Params:   api.Parameters{"max": "soon"},
			Sections: api.Sections{"section": section},
		}) {
			gotErr = err
		}
		assert.Error(t, gotErr)
	})
}

func TestRenderTimespan(t *testing.T) {
	assert.Equal(t, "00:00:59", renderTimespan(59))
	assert.Equal(t, "1 day 00:00:00", renderTimespan(86400))
	assert.Equal(t, "3 days 04:05:06", renderTimespan(3*86400+4*3600+5*60+6))
}

func TestCPULoads(t *testing.T) {
	section, err := parseCPU([][]string{{"0.26", "0.47", "12.50", "1/424", "3315", "2"}})
	require.NoError(t, err)
	assert.Equal(t, cpuLoad{Load1: 0.26, Load5: 0.47, Load15: 12.5, NumCPUs: 2}, section)

	t.Run("fixed_levels_per_core", func(t *testing.T) {
		verdicts, metrics := collect(t, checkCPULoads(context.Background(), api.CheckRequest{
			Params:   api.Parameters{"levels": []any{5.0, 10.0}},
			Sections: api.Sections{"section": section},
		}))
		require.Len(t, verdicts, 2)
		assert.Equal(t, api.StateWarn, verdicts[0].State)
		assert.Equal(t, "15 min load: 12.50 (warn/crit at 10.00/20.00)", verdicts[0].Summary)
		assert.Equal(t, "15 min load per core: 6.25 (2 cores)", verdicts[1].Details)
		assert.Equal(t, ptr(10), metrics["load15"].Warn)
		assert.Equal(t, ptr(20), metrics["load15"].Crit)
	})

	t.Run("predictive_levels", func(t *testing.T) {
		verdicts, metrics := collect(t, checkCPULoads(context.Background(), api.CheckRequest{
			Params: api.Parameters{
				"levels": []any{"predictive", []any{"load15", 4.0, []any{10.0, 14.0}}},
			},
			Sections: api.Sections{"section": section},
		}))
		assert.Equal(t, api.StateWarn, verdicts[0].State)
		assert.Equal(t, "15 min load: 12.50 (prediction: 4.00) (warn/crit at 10.00/14.00)", verdicts[0].Summary)
		assert.InDelta(t, 4.0, metrics["predict_load15"].Value, 0.001)
	})

	t.Run("prediction_pending", func(t *testing.T) {
		verdicts, _ := collect(t, checkCPULoads(context.Background(), api.CheckRequest{
			Params:   api.Parameters{"levels": []any{"predictive", []any{"load15", nil, nil}}},
			Sections: api.Sections{"section": section},
		}))
		assert.Equal(t, api.StateOK, verdicts[0].State)
		assert.Equal(t, "15 min load: 12.50 (no reference for prediction yet)", verdicts[0].Summary)
	})

	_, err = parseCPU([][]string{{"x", "1", "2"}})
	assert.Error(t, err)
}

var dfRows = [][]string{
	{"/dev/sda1", "ext4", "100", "85", "15", "85%", "/"},
	{"tmpfs", "tmpfs", "1000", "1", "999", "1%", "/run"},
	{"/dev/sdb1", "xfs", "2048", "1024", "1024", "50%", "/mnt/my", "data"},
	{"broken"},
}

func TestDFDiscovery(t *testing.T) {
	section, err := parseDF(dfRows)
	require.NoError(t, err)

	var items []string
	for svc, err := range discoverDF(api.DiscoveryRequest{
		Params:   dfCheck().DiscoveryDefaultParameters,
		Sections: api.Sections{"section": section},
	}) {
		require.NoError(t, err)
		items = append(items, svc.Item)
	}
	assert.Equal(t, []string{"/", "/mnt/my data"}, items)
}

func TestDFCheck(t *testing.T) {
	section, err := parseDF(dfRows)
	require.NoError(t, err)
	store := mapStore{}
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	fixNow(t, start)
	verdicts, metrics := collect(t, checkDF(context.Background(), api.CheckRequest{
		Item:     "/",
		Params:   api.Parameters{"levels": []any{80.0, 90.0}},
		Sections: api.Sections{"section": section},
		Store:    store,
	}))
	require.Len(t, verdicts, 1)
	assert.Equal(t, api.StateWarn, verdicts[0].State)
	assert.Equal(t, "Used: 85% (warn/crit at 80%/90%) - 85 KiB of 100 KiB", verdicts[0].Summary)
	assert.InDelta(t, 85.0, metrics["fs_used_percent"].Value, 0.001)
	assert.Equal(t, ptr(80), metrics["fs_used_percent"].Warn)
	assert.NotContains(t, metrics, "fs_growth")

	// one day later with 10 KiB more
	fixNow(t, start.Add(24*time.Hour))
	grown, err := parseDF([][]string{{"/dev/sda1", "ext4", "100", "95", "5", "95%", "/"}})
	require.NoError(t, err)
	verdicts, metrics = collect(t, checkDF(context.Background(), api.CheckRequest{
		Item:     "/",
		Params:   api.Parameters{"levels": []any{80.0, 90.0}},
		Sections: api.Sections{"section": grown},
		Store:    store,
	}))
	require.Len(t, verdicts, 2)
	assert.Equal(t, api.StateCrit, verdicts[0].State)
	assert.Equal(t, "Growth: +10 KiB/day", verdicts[1].Details)
	assert.InDelta(t, 10240.0, metrics["fs_growth"].Value, 0.001)

	// vanished items yield nothing
	verdicts, _ = collect(t, checkDF(context.Background(), api.CheckRequest{
		Item:     "/gone",
		Params:   api.Parameters{"levels": []any{80.0, 90.0}},
		Sections: api.Sections{"section": section},
	}))
	assert.Empty(t, verdicts)
}

func TestAgentSection(t *testing.T) {
	info, err := parseAgentInfo([][]string{
		{"Version:", "2.2.0p1"},
		{"AgentOS:", "Linux"},
		{"Hostname:", "web01"},
		{"garbage"},
	})
	require.NoError(t, err)

	var labels []api.ServiceLabel
	for l := range agentHostLabels(api.HostLabelRequest{Section: info}) {
		labels = append(labels, l)
	}
	assert.Equal(t, []api.ServiceLabel{
		{Name: "cmk/os_family", Value: "linux"},
		{Name: "cmk/agent_version", Value: "2.2.0p1"},
	}, labels)

	var items []api.InventoryItem
	for item, err := range agentInventory().InventoryFunction(api.InventoryRequest{Sections: api.Sections{"section": info}}) {
		require.NoError(t, err)
		items = append(items, item)
	}
	require.Len(t, items, 1)
	assert.Equal(t, map[string]any{"version": "2.2.0p1", "os": "Linux", "hostname": "web01"}, items[0].Attributes)
}
