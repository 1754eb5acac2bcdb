// Package sections resolves parsed sections for check plugins.
//
// A Provider is a read-only view over the sections of one host (or cluster node) and
// source type. It is built fresh per check cycle and parses raw sections lazily.
package sections

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"checkengine/internal/model"
	"checkengine/internal/plugin/api"
)

// SectionPlugin is the stable shape of a section plugin the resolver works with.
type SectionPlugin struct {
	Name              model.SectionName       // 原始段名
	ParsedSectionName model.ParsedSectionName // 解析后的段名
	ParseFunction     api.ParseFunction       // 解析函数
	Supersedes        []model.SectionName     // 被本段替代的段
}

// SectionPlugins looks up section plugins by raw section name.
type SectionPlugins interface {
	Get(name string) (SectionPlugin, bool)
}

// TrivialSectionPlugin is used for raw sections without a registered plugin: it hands
// the rows to check plugins unchanged.
func TrivialSectionPlugin(name model.SectionName) SectionPlugin {
	return SectionPlugin{
		Name:              name,
		ParsedSectionName: name,
		ParseFunction: func(rows [][]string) (any, error) {
			return rows, nil
		},
	}
}

// ResolvedResult is the content of a parsed section together with its producer.
type ResolvedResult struct {
	Producer   model.SectionName // 产生该数据的原始段
	ParsedData any               // 解析后的数据
	CacheInfo  *model.CacheInfo  // 缓存信息（可能为空）
}

// ParsingError records a parse function failure.
type ParsingError struct {
	HostKey model.HostKey
	Section model.SectionName
	Err     error
}

// Error implements the error interface.
func (e *ParsingError) Error() string {
	return fmt.Sprintf("parsing of section %s failed for %s: %v", e.Section, e.HostKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParsingError) Unwrap() error {
	return e.Err
}

type parsedEntry struct {
	data any
	ok   bool
}

// Provider resolves parsed sections of one host key.
type Provider struct {
	key      model.HostKey
	sections model.HostSections
	plugins  map[model.SectionName]SectionPlugin

	mu       sync.Mutex
	parsed   map[model.SectionName]parsedEntry
	resolved map[model.ParsedSectionName]*ResolvedResult
	errors   []*ParsingError
	logger   zerolog.Logger
}

// NewProvider creates a provider over the given host sections.
func NewProvider(key model.HostKey, hs model.HostSections, plugins SectionPlugins, logger zerolog.Logger) *Provider {
	resolvedPlugins := make(map[model.SectionName]SectionPlugin, len(hs.Sections))
	for _, name := range hs.SectionNames() {
		p, ok := plugins.Get(name)
		if !ok {
			p = TrivialSectionPlugin(name)
		}
		resolvedPlugins[name] = p
	}
	return &Provider{
		key:      key,
		sections: hs,
		plugins:  resolvedPlugins,
		parsed:   make(map[model.SectionName]parsedEntry),
		resolved: make(map[model.ParsedSectionName]*ResolvedResult),
		logger:   logger.With().Str("component", "section-provider").Str("host_key", key.String()).Logger(),
	}
}

// HostKey returns the key this provider serves.
func (p *Provider) HostKey() model.HostKey {
	return p.key
}

// Resolve returns the content of a parsed section. The second return value is false
// if no raw section produces it or every producer failed to parse.
func (p *Provider) Resolve(name model.ParsedSectionName) (ResolvedResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r, done := p.resolved[name]; done {
		if r == nil {
			return ResolvedResult{}, false
		}
		return *r, true
	}

	var result *ResolvedResult
	for _, producer := range p.producers(name) {
		data, ok := p.parse(producer)
		if !ok {
			continue
		}
		result = &ResolvedResult{Producer: producer, ParsedData: data}
		if ci, has := p.sections.CacheInfo[producer]; has {
			result.CacheInfo = &ci
		}
		break
	}
	p.resolved[name] = result
	if result == nil {
		return ResolvedResult{}, false
	}
	return *result, true
}

// producers returns the raw sections yielding name that are not superseded by another
// available raw section, in sorted order.
func (p *Provider) producers(name model.ParsedSectionName) []model.SectionName {
	var candidates []model.SectionName
	for _, raw := range p.sections.SectionNames() {
		if p.plugins[raw].ParsedSectionName == name {
			candidates = append(candidates, raw)
		}
	}

	producers := candidates[:0]
	for _, raw := range candidates {
		if !p.isSuperseded(raw) {
			producers = append(producers, raw)
		}
	}
	sort.Strings(producers)
	return producers
}

func (p *Provider) isSuperseded(raw model.SectionName) bool {
	for other, plugin := range p.plugins {
		if other == raw {
			continue
		}
		for _, s := range plugin.Supersedes {
			if s != raw {
				continue
			}
			if _, ok := p.parse(other); ok {
				return true
			}
		}
	}
	return false
}

// parse runs the parse function of a raw section once. Must be called with mu held.
func (p *Provider) parse(raw model.SectionName) (any, bool) {
	if e, done := p.parsed[raw]; done {
		return e.data, e.ok
	}

	plugin := p.plugins[raw]
	data, err := safeParse(plugin.ParseFunction, p.sections.Sections[raw])
	if err != nil {
		p.errors = append(p.errors, &ParsingError{HostKey: p.key, Section: raw, Err: err})
		p.logger.Warn().Err(err).Str("section", raw).Msg("section parse failed")
		p.parsed[raw] = parsedEntry{}
		return nil, false
	}
	entry := parsedEntry{data: data, ok: data != nil}
	p.parsed[raw] = entry
	return entry.data, entry.ok
}

func safeParse(fn api.ParseFunction, rows model.SectionRows) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse function panicked: %v", r)
		}
	}()
	return fn([][]string(rows))
}

// ParsingErrors returns the parse failures seen so far.
func (p *Provider) ParsingErrors() []*ParsingError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*ParsingError(nil), p.errors...)
}

// Providers maps host keys to their providers.
type Providers map[model.HostKey]*Provider

// MakeProviders merges the successful parse results per host key and builds one
// provider per key. Failed results are skipped; the summarizer reports them.
func MakeProviders(results []model.ParseResult, plugins SectionPlugins, logger zerolog.Logger) Providers {
	merged := make(map[model.HostKey]*model.HostSections)
	var order []model.HostKey
	for _, r := range results {
		if !r.IsOk() {
			continue
		}
		key := r.Source.HostKey()
		hs, ok := merged[key]
		if !ok {
			fresh := model.NewHostSections()
			hs = &fresh
			merged[key] = hs
			order = append(order, key)
		}
		hs.Extend(r.Sections)
	}

	providers := make(Providers, len(merged))
	for _, key := range order {
		providers[key] = NewProvider(key, *merged[key], plugins, logger)
	}
	return providers
}
