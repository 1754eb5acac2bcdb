// Package parser turns raw source data into host sections.
package parser

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"checkengine/internal/model"
	"checkengine/internal/piggyback"
)

// Selection restricts parsing to the named sections. A nil selection keeps all.
type Selection map[model.SectionName]struct{}

// NoSelection keeps every section.
var NoSelection Selection

// Select creates a selection of the given section names.
func Select(names ...model.SectionName) Selection {
	s := make(Selection, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Includes reports whether name is selected.
func (s Selection) Includes(name model.SectionName) bool {
	if s == nil {
		return true
	}
	_, ok := s[name]
	return ok
}

// Parser parses fetched data. It is safe for concurrent use.
type Parser struct {
	persisted    *PersistedStore
	piggyback    *piggyback.Store
	keepOutdated bool
	now          func() time.Time
	logger       zerolog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithPersistedStore enables persisted sections.
func WithPersistedStore(s *PersistedStore) Option {
	return func(p *Parser) {
		p.persisted = s
	}
}

// WithPiggybackStore enables storing piggyback data for other hosts.
func WithPiggybackStore(s *piggyback.Store) Option {
	return func(p *Parser) {
		p.piggyback = s
	}
}

// WithKeepOutdated keeps persisted sections after they expired.
func WithKeepOutdated(keep bool) Option {
	return func(p *Parser) {
		p.keepOutdated = keep
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// New creates a parser.
func New(logger zerolog.Logger, opts ...Option) *Parser {
	p := &Parser{
		now:    time.Now,
		logger: logger.With().Str("component", "parser").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses every fetch result. The output has the same order as the input;
// failures of one source never affect another.
func (p *Parser) Parse(fetched []model.FetchResult, selection Selection) []model.ParseResult {
	results := make([]model.ParseResult, len(fetched))
	for i, f := range fetched {
		results[i] = p.ParseOne(f, selection)
	}
	return results
}

// ParseOne parses the result of a single source.
func (p *Parser) ParseOne(f model.FetchResult, selection Selection) model.ParseResult {
	result := model.ParseResult{Source: f.Source}
	if !f.Raw.IsOk() {
		result.Err = f.Raw.Err
		return result
	}

	var (
		hs  model.HostSections
		err error
	)
	switch {
	case f.Source.FetcherType == model.FetcherTypeSNMP:
		hs, err = parseSNMP(f.Raw.Data)
	case f.Source.FetcherType.IsAgentLike():
		hs, err = p.parseAgent(f.Source, f.Raw.Data)
	default:
		hs = model.NewHostSections()
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("source", f.Source.String()).Msg("failed to parse source data")
		result.Err = fmt.Errorf("failed to parse data of %s: %w", f.Source.Ident, err)
		return result
	}

	for name := range hs.Sections {
		if !selection.Includes(name) {
			delete(hs.Sections, name)
			delete(hs.CacheInfo, name)
		}
	}
	result.Sections = hs
	p.logger.Debug().
		Str("source", f.Source.String()).
		Int("sections", len(hs.Sections)).
		Msg("parsed source data")
	return result
}

func (p *Parser) parseAgent(source model.SourceInfo, data []byte) (model.HostSections, error) {
	now := p.now()
	out, err := parseAgentOutput(data, now)
	if err != nil {
		return model.HostSections{}, err
	}
	hs := out.sections

	if p.persisted != nil {
		stored, err := p.persisted.Update(source, out.persisted, now, p.keepOutdated)
		if err != nil {
			p.logger.Warn().Err(err).Str("source", source.String()).Msg("failed to update persisted sections")
		}
		for _, name := range sortedNames(stored) {
			if _, fresh := hs.Sections[name]; fresh {
				continue
			}
			sec := stored[name]
			hs.AddRows(name, sec.Rows)
			hs.CacheInfo[name] = model.CacheInfo{CachedAt: sec.CachedAt, Interval: sec.Until.Sub(sec.CachedAt)}
		}
	}

	if p.piggyback != nil && len(hs.Piggyback) > 0 && source.FetcherType != model.FetcherTypePiggyback {
		if err := p.piggyback.Replace(source.HostName, hs.Piggyback); err != nil {
			p.logger.Warn().Err(err).Str("source", source.String()).Msg("failed to store piggyback data")
		}
	}
	return hs, nil
}

// parseSNMP decodes the JSON table format: section name -> rows of columns.
func parseSNMP(data []byte) (model.HostSections, error) {
	var tables map[model.SectionName]model.SectionRows
	if err := json.Unmarshal(data, &tables); err != nil {
		return model.HostSections{}, fmt.Errorf("invalid SNMP data: %w", err)
	}
	hs := model.NewHostSections()
	for name, rows := range tables {
		hs.AddRows(name, rows)
	}
	return hs, nil
}
