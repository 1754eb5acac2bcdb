package sections

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkengine/internal/model"
)

type pluginMap map[string]SectionPlugin

func (m pluginMap) Get(name string) (SectionPlugin, bool) {
	p, ok := m[name]
	return p, ok
}

func hostKey(host string) model.HostKey {
	return model.HostKey{HostName: host, SourceType: model.SourceTypeHost}
}

func sectionsOf(data map[string]model.SectionRows) model.HostSections {
	hs := model.NewHostSections()
	for name, rows := range data {
		hs.AddRows(name, rows)
	}
	return hs
}

func firstCell(rows [][]string) (any, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0][0], nil
}

func TestProvider_ResolveTrivialSection(t *testing.T) {
	p := NewProvider(hostKey("h1"), sectionsOf(map[string]model.SectionRows{
		"uptime": {{"1234.5"}},
	}), pluginMap{}, zerolog.Nop())

	r, ok := p.Resolve("uptime")
	require.True(t, ok)
	assert.Equal(t, "uptime", r.Producer)
	assert.Equal(t, [][]string{{"1234.5"}}, r.ParsedData)
	assert.Nil(t, r.CacheInfo)

	_, ok = p.Resolve("missing")
	assert.False(t, ok)
}

func TestProvider_ParsesLazilyAndOnce(t *testing.T) {
	calls := 0
	plugins := pluginMap{
		"mem": {Name: "mem", ParsedSectionName: "mem", ParseFunction: func(rows [][]string) (any, error) {
			calls++
			return len(rows), nil
		}},
	}
	p := NewProvider(hostKey("h1"), sectionsOf(map[string]model.SectionRows{"mem": {{"a"}, {"b"}}}), plugins, zerolog.Nop())
	assert.Zero(t, calls)

	for range 3 {
		r, ok := p.Resolve("mem")
		require.True(t, ok)
		assert.Equal(t, 2, r.ParsedData)
	}
	assert.Equal(t, 1, calls)
}

func TestProvider_Supersedes(t *testing.T) {
	plugins := pluginMap{
		"cpu_old": {Name: "cpu_old", ParsedSectionName: "cpu", ParseFunction: firstCell},
		"cpu_new": {Name: "cpu_new", ParsedSectionName: "cpu_v2", ParseFunction: firstCell, Supersedes: []string{"cpu_old"}},
	}

	t.Run("superseding_section_present", func(t *testing.T) {
		p := NewProvider(hostKey("h1"), sectionsOf(map[string]model.SectionRows{
			"cpu_old": {{"old"}},
			"cpu_new": {{"new"}},
		}), plugins, zerolog.Nop())

		_, ok := p.Resolve("cpu")
		assert.False(t, ok)
		r, ok := p.Resolve("cpu_v2")
		require.True(t, ok)
		assert.Equal(t, "new", r.ParsedData)
	})

	t.Run("superseding_section_parses_to_nothing", func(t *testing.T) {
		p := NewProvider(hostKey("h1"), sectionsOf(map[string]model.SectionRows{
			"cpu_old": {{"old"}},
			"cpu_new": {},
		}), plugins, zerolog.Nop())

		r, ok := p.Resolve("cpu")
		require.True(t, ok)
		assert.Equal(t, "old", r.ParsedData)
	})
}

func TestProvider_ParseErrorsAreRecorded(t *testing.T) {
	plugins := pluginMap{
		"broken": {Name: "broken", ParsedSectionName: "broken", ParseFunction: func([][]string) (any, error) {
			return nil, errors.New("bad row")
		}},
		"panics": {Name: "panics", ParsedSectionName: "panics", ParseFunction: func(rows [][]string) (any, error) {
			return rows[5], nil
		}},
	}
	p := NewProvider(hostKey("h1"), sectionsOf(map[string]model.SectionRows{
		"broken": {{"x"}},
		"panics": {{"x"}},
	}), plugins, zerolog.Nop())

	_, ok := p.Resolve("broken")
	assert.False(t, ok)
	_, ok = p.Resolve("panics")
	assert.False(t, ok)

	errs := p.ParsingErrors()
	require.Len(t, errs, 2)
	assert.Equal(t, "broken", errs[0].Section)
	assert.Contains(t, errs[1].Error(), "panicked")
}

func TestGetSectionKwargs(t *testing.T) {
	providers := Providers{
		hostKey("h1"): NewProvider(hostKey("h1"), sectionsOf(map[string]model.SectionRows{
			"df":    {{"/", "10"}},
			"mount": {{"/"}},
		}), pluginMap{}, zerolog.Nop()),
	}

	t.Run("single_section", func(t *testing.T) {
		got := GetSectionKwargs(providers, hostKey("h1"), []string{"df"})
		assert.Equal(t, [][]string{{"/", "10"}}, got["section"])
	})

	t.Run("multiple_sections", func(t *testing.T) {
		got := GetSectionKwargs(providers, hostKey("h1"), []string{"df", "mount", "nfs"})
		assert.Len(t, got, 3)
		assert.NotNil(t, got["section_df"])
		assert.NotNil(t, got["section_mount"])
		assert.Nil(t, got["section_nfs"])
	})

	t.Run("nothing_available", func(t *testing.T) {
		assert.Empty(t, GetSectionKwargs(providers, hostKey("h1"), []string{"nfs"}))
		assert.Empty(t, GetSectionKwargs(providers, hostKey("unknown"), []string{"df"}))
	})

	t.Run("deterministic", func(t *testing.T) {
		a := GetSectionKwargs(providers, hostKey("h1"), []string{"df", "mount"})
		b := GetSectionKwargs(providers, hostKey("h1"), []string{"df", "mount"})
		assert.Equal(t, a, b)
	})
}

func TestGetSectionClusterKwargs_OnlyNodesWithData(t *testing.T) {
	providers := Providers{
		hostKey("node-a"): NewProvider(hostKey("node-a"), sectionsOf(map[string]model.SectionRows{
			"uptime": {{"100"}},
		}), pluginMap{}, zerolog.Nop()),
		hostKey("node-b"): NewProvider(hostKey("node-b"), sectionsOf(map[string]model.SectionRows{
			"df": {{"/"}},
		}), pluginMap{}, zerolog.Nop()),
	}

	got := GetSectionClusterKwargs(providers, []model.HostKey{hostKey("node-a"), hostKey("node-b")}, []string{"uptime"})
	assert.Equal(t, map[string]map[string]any{
		"section": {"node-a": [][]string{{"100"}}},
	}, got)

	assert.Empty(t, GetSectionClusterKwargs(providers, []model.HostKey{hostKey("node-b")}, []string{"uptime"}))

	node := NodeSections(got, "node-a")
	assert.Equal(t, [][]string{{"100"}}, node["section"])
	assert.Empty(t, NodeSections(got, "node-b"))
}

func TestCacheInfos(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hs := sectionsOf(map[string]model.SectionRows{"uptime": {{"1"}}, "df": {{"/"}}})
	hs.CacheInfo["uptime"] = model.CacheInfo{CachedAt: at, Interval: time.Minute}
	providers := Providers{hostKey("h1"): NewProvider(hostKey("h1"), hs, pluginMap{}, zerolog.Nop())}

	infos := CacheInfos(providers, []string{"uptime", "df"})
	require.Len(t, infos, 1)
	assert.Equal(t, at, infos[0].CachedAt)
}

func TestMakeProviders_ExtendsRowsPerHostKey(t *testing.T) {
	src := func(ident string) model.SourceInfo {
		return model.SourceInfo{HostName: "h1", Ident: ident, FetcherType: model.FetcherTypeSpecialAgent, SourceType: model.SourceTypeHost}
	}
	results := []model.ParseResult{
		{Source: src("agent_a"), Sections: sectionsOf(map[string]model.SectionRows{"users": {{"alice"}}})},
		{Source: src("agent_b"), Sections: sectionsOf(map[string]model.SectionRows{"users": {{"bob"}}})},
		{Source: src("agent_c"), Err: errors.New("malformed")},
	}

	providers := MakeProviders(results, pluginMap{}, zerolog.Nop())
	require.Len(t, providers, 1)
	r, ok := providers[hostKey("h1")].Resolve("users")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"alice"}, {"bob"}}, r.ParsedData)
}
