package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkengine/internal/model"
	"checkengine/internal/params"
)

const testHostsYAML = `
timeperiods:
  night:
    ranges: ["22:00-06:00"]
  workdays:
    days: [mon, tue, wed, thu, fri]
    ranges: ["08:00-18:00"]
hosts:
  - name: web01
    address: 10.0.0.1
    labels: {env: prod}
    only_from: [10.0.0.100]
    sources:
      - type: agent
      - type: special_agent
        ident: aws
        command: "agent_aws --secret $$PASSWORD:aws$"
    management:
      protocol: snmp
      address: 10.0.1.1
    exit_spec:
      timeout: WARN
    services:
      - plugin: cpu_loads
        description: CPU load
        parameters: {levels: [5.0, 10.0]}
        timespecific:
          - default: {levels: [4.0, 8.0]}
            timeperiods:
              - timeperiod: night
                value: {levels: [20.0, 40.0]}
  - name: db01
    address: ${DB01_ADDRESS}
  - name: db02
    sources:
      - type: piggyback
clusters:
  - name: dbcluster
    nodes: [db01, db02]
    clustered_services: ["Filesystem /data", "MySQL"]
    mode: worst
    service_modes:
      "MySQL": failover
rulesets:
  filesystem:
    - hosts: ["~web"]
      value: {levels: [85.0, 95.0]}
    - labels: {env: prod}
      value: {levels: [80.0, 90.0], magic: 0.8}
    - value: {levels: [90.0, 95.0]}
`

func loadTestHosts(t *testing.T, opts ...HostsOption) *Hosts {
	t.Helper()
	t.Setenv("DB01_ADDRESS", "10.0.0.2")
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testHostsYAML), 0o600))
	hosts, err := LoadHosts(path, opts...)
	require.NoError(t, err)
	return hosts
}

func TestLoadHosts(t *testing.T) {
	hosts := loadTestHosts(t)

	assert.Equal(t, []string{"db01", "db02", "dbcluster", "web01"}, hosts.HostNames())
	assert.True(t, hosts.IsCluster("dbcluster"))
	assert.False(t, hosts.IsCluster("db01"))
	assert.Equal(t, []string{"db01", "db02"}, hosts.Nodes("dbcluster"))
	assert.Nil(t, hosts.Nodes("web01"))
	assert.Equal(t, []string{"10.0.0.100"}, hosts.OnlyFrom("web01"))
}

func TestHosts_ResolveIP(t *testing.T) {
	resolver := func(_ context.Context, host string) ([]string, error) {
		if host == "db02" {
			return []string{"10.0.0.3"}, nil
		}
		return nil, errors.New("no such host")
	}
	hosts := loadTestHosts(t, WithResolver(resolver))

	t.Run("literal_address", func(t *testing.T) {
		ip, err := hosts.ResolveIP(context.Background(), "web01")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1", ip)
	})

	t.Run("env_substituted_address", func(t *testing.T) {
		ip, err := hosts.ResolveIP(context.Background(), "db01")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.2", ip)
	})

	t.Run("dns_lookup", func(t *testing.T) {
		ip, err := hosts.ResolveIP(context.Background(), "db02")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.3", ip)
	})

	t.Run("lookup_failure", func(t *testing.T) {
		_, err := hosts.ResolveIP(context.Background(), "unknown")
		assert.Error(t, err)
	})
}

func TestHosts_Sources(t *testing.T) {
	hosts := loadTestHosts(t)

	specs := hosts.Sources("web01")
	require.Len(t, specs, 3)
	assert.Equal(t, model.SourceSpec{Ident: "agent", FetcherType: model.FetcherTypeAgent, SourceType: model.SourceTypeHost}, specs[0])
	assert.Equal(t, "special_aws", specs[1].Ident)
	assert.Equal(t, model.FetcherTypeSpecialAgent, specs[1].FetcherType)
	assert.Equal(t, "agent_aws --secret $PASSWORD:aws$", specs[1].Command)
	assert.Equal(t, model.SourceTypeManagement, specs[2].SourceType)
	assert.Equal(t, "10.0.1.1", specs[2].Address)

	// db01 has no sources configured and falls back to the agent.
	assert.Equal(t, model.FetcherTypeAgent, hosts.Sources("db01")[0].FetcherType)

	assert.True(t, hosts.IsPiggybackTarget("db02"))
	assert.False(t, hosts.IsPiggybackTarget("web01"))
}

func TestHosts_ExitSpec(t *testing.T) {
	hosts := loadTestHosts(t)

	spec := hosts.ExitSpec("web01")
	assert.Equal(t, model.StateWarn, spec.Timeout)
	assert.Equal(t, model.StateCrit, spec.Connection)
	assert.Equal(t, model.DefaultExitSpec(), hosts.ExitSpec("db01"))
}

func TestHosts_EffectiveHostAndClusterMode(t *testing.T) {
	hosts := loadTestHosts(t)

	assert.Equal(t, "dbcluster", hosts.EffectiveHost("db01", "MySQL"))
	assert.Equal(t, "dbcluster", hosts.EffectiveHost("db02", "Filesystem /data"))
	assert.Equal(t, "db01", hosts.EffectiveHost("db01", "CPU load"))
	assert.Equal(t, "web01", hosts.EffectiveHost("web01", "MySQL"))

	assert.Equal(t, model.ClusterModeFailover, hosts.ClusterMode("dbcluster", "MySQL"))
	assert.Equal(t, model.ClusterModeWorst, hosts.ClusterMode("dbcluster", "Filesystem /data"))
	assert.Equal(t, model.ClusterModeNative, hosts.ClusterMode("web01", "CPU load"))
}

func TestHosts_RulesFor(t *testing.T) {
	hosts := loadTestHosts(t)

	rules := hosts.RulesFor("web01", "filesystem")
	require.Len(t, rules, 3)
	assert.Equal(t, []any{85.0, 95.0}, rules[0]["levels"])
	assert.Equal(t, 0.8, rules[1]["magic"])

	rules = hosts.RulesFor("db01", "filesystem")
	require.Len(t, rules, 1)
	assert.Equal(t, []any{90.0, 95.0}, rules[0]["levels"])

	assert.Empty(t, hosts.RulesFor("db01", "unknown"))
}

func TestHosts_Services(t *testing.T) {
	night := time.Date(2026, 3, 4, 23, 30, 0, 0, time.Local)
	noon := time.Date(2026, 3, 4, 12, 0, 0, 0, time.Local)
	now := night
	hosts := loadTestHosts(t, WithClock(func() time.Time { return now }))

	services := hosts.Services("web01")
	require.Len(t, services, 1)
	svc := services[0]
	assert.Equal(t, model.CheckPluginName("cpu_loads"), svc.CheckPluginName)
	assert.True(t, svc.IsEnforced)

	levels := func() any {
		m := svc.Parameters.Evaluate(hosts.TimeperiodActive).(params.Map)
		return params.ToAny(m.Entries["levels"])
	}
	assert.Equal(t, []any{20.0, 40.0}, levels())

	now = noon
	assert.Equal(t, []any{4.0, 8.0}, levels())
}

func TestHosts_TimeperiodActive(t *testing.T) {
	tests := []struct {
		name string
		tp   string
		at   time.Time
		want bool
	}{
		{"night before midnight", "night", time.Date(2026, 3, 4, 22, 0, 0, 0, time.Local), true},
		{"night after midnight", "night", time.Date(2026, 3, 5, 5, 59, 0, 0, time.Local), true},
		{"night ends", "night", time.Date(2026, 3, 5, 6, 0, 0, 0, time.Local), false},
		{"workday office hours", "workdays", time.Date(2026, 3, 4, 9, 0, 0, 0, time.Local), true},
		{"saturday", "workdays", time.Date(2026, 3, 7, 9, 0, 0, 0, time.Local), false},
		{"unknown period", "holidays", time.Date(2026, 3, 4, 9, 0, 0, 0, time.Local), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := tt.at
			hosts := loadTestHosts(t, WithClock(func() time.Time { return at }))
			assert.Equal(t, tt.want, hosts.TimeperiodActive(tt.tp))
		})
	}
}

func TestNewHosts_Invalid(t *testing.T) {
	tests := []struct {
		name string
		file HostsFile
	}{
		{"unnamed host", HostsFile{Hosts: []HostConfig{{}}}},
		{"duplicate host", HostsFile{Hosts: []HostConfig{{Name: "a"}, {Name: "a"}}}},
		{"unknown source", HostsFile{Hosts: []HostConfig{{Name: "a", Sources: []SourceConfig{{Type: "telnet"}}}}}},
		{"program without command", HostsFile{Hosts: []HostConfig{{Name: "a", Sources: []SourceConfig{{Type: "program"}}}}}},
		{"unknown node", HostsFile{Clusters: []ClusterConfig{{Name: "c", Nodes: []string{"x"}}}}},
		{"invalid cluster mode", HostsFile{Clusters: []ClusterConfig{{Name: "c", Mode: "random"}}}},
		{"invalid exit spec", HostsFile{Hosts: []HostConfig{{Name: "a", ExitSpec: map[string]string{"timeout": "BAD"}}}}},
		{"unknown timeperiod", HostsFile{Hosts: []HostConfig{{Name: "a", Services: []ServiceConfig{{
			Plugin:       "p",
			Timespecific: []TimespecificConfig{{Timeperiods: []TimeperiodOverrideConfig{{Timeperiod: "never"}}}},
		}}}}}},
		{"invalid range", HostsFile{Timeperiods: map[string]TimeperiodConfig{"x": {Ranges: []string{"8-9"}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHosts(tt.file)
			assert.Error(t, err)
		})
	}
}

func TestLoadPasswords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwords")
	require.NoError(t, os.WriteFile(path, []byte("# comment\naws:s3cr:et\n\ndb:pw\n"), 0o600))

	store, err := LoadPasswords(path)
	require.NoError(t, err)

	secret, ok := store.Lookup("aws")
	assert.True(t, ok)
	assert.Equal(t, "s3cr:et", secret)
	_, ok = store.Lookup("missing")
	assert.False(t, ok)

	empty, err := LoadPasswords("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, os.WriteFile(path, []byte("broken line\n"), 0o600))
	_, err = LoadPasswords(path)
	assert.Error(t, err)
}
