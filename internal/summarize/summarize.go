// Package summarize turns the per-source fetch and parse outcomes of a host into
// source health results.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"checkengine/internal/fetcher"
	"checkengine/internal/model"
	"checkengine/internal/plugin/api"
)

// Config is the host configuration the summarizer needs.
type Config interface {
	ExitSpec(name string) model.ExitSpec
	IsPiggybackTarget(name string) bool
	PiggybackMaxAge(name string) time.Duration
	RequiredSections(name string) []string
}

// PiggybackMetas lists the piggyback data stored for a host. Implemented by
// *piggyback.Store.
type PiggybackMetas interface {
	Meta(target model.HostName, maxAge time.Duration) ([]model.PiggybackMeta, error)
}

// Summarizer builds one ActiveCheckResult per data source.
type Summarizer struct {
	config        Config
	piggyback     PiggybackMetas
	defaultMaxAge time.Duration
	override      *model.ServiceState
	logger        zerolog.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithOverrideNonOKState reports every non-OK source state as state.
func WithOverrideNonOKState(state model.ServiceState) Option {
	return func(s *Summarizer) { s.override = &state }
}

// WithPiggyback sets where piggyback metadata is read from and its default max age.
func WithPiggyback(metas PiggybackMetas, defaultMaxAge time.Duration) Option {
	return func(s *Summarizer) {
		s.piggyback = metas
		s.defaultMaxAge = defaultMaxAge
	}
}

// New creates a summarizer.
func New(config Config, logger zerolog.Logger, opts ...Option) *Summarizer {
	s := &Summarizer{
		config: config,
		logger: logger.With().Str("component", "summarizer").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize returns one result per parse result, in the same order.
func (s *Summarizer) Summarize(results []model.ParseResult) []model.ActiveCheckResult {
	out := make([]model.ActiveCheckResult, len(results))
	for i, r := range results {
		out[i] = s.summarizeSource(r)
	}
	return out
}

func (s *Summarizer) summarizeSource(r model.ParseResult) model.ActiveCheckResult {
	subresults := s.subresults(r)
	for i := range subresults {
		if subresults[i].State != model.StateOK && s.override != nil {
			subresults[i].State = *s.override
		}
		if i == 0 {
			subresults[i].Summary = fmt.Sprintf("[%s] %s", r.Source.Ident, subresults[i].Summary)
		}
	}
	return model.ActiveCheckResultFromSubresults(subresults...)
}

func (s *Summarizer) subresults(r model.ParseResult) []model.ActiveCheckResult {
	host := r.Source.HostName
	spec := s.config.ExitSpec(host)

	if r.Err != nil {
		s.logger.Debug().Err(r.Err).Str("source", r.Source.String()).Msg("source failed")
		return []model.ActiveCheckResult{summarizeFailure(r.Err, spec)}
	}
	if r.Source.FetcherType == model.FetcherTypePiggyback {
		return s.summarizePiggyback(host)
	}

	results := []model.ActiveCheckResult{{State: model.StateOK, Summary: "Success"}}
	if r.Source.FetcherType == model.FetcherTypeAgent {
		if missing := missingSections(r.Sections, s.config.RequiredSections(host)); len(missing) > 0 {
			results = append(results, model.ActiveCheckResult{
				State:   spec.MissingSections,
				Summary: "Missing monitoring data for sections: " + strings.Join(missing, ", "),
			})
		}
	}
	return results
}

// ErrorClass is the exit spec category of a data source failure.
type ErrorClass string

const (
	ClassTimeout     ErrorClass = "timeout"
	ClassConnection  ErrorClass = "connection"
	ClassEmptyOutput ErrorClass = "empty_output"
	ClassException   ErrorClass = "exception"
)

// Classify returns the exit spec category of err.
func Classify(err error) ErrorClass {
	var (
		netErr net.Error
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	switch {
	case errors.Is(err, fetcher.ErrEmptyOutput):
		return ClassEmptyOutput
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, api.ErrTimeout):
		return ClassTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ClassTimeout
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EHOSTUNREACH):
		return ClassConnection
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return ClassConnection
	}
	return ClassException
}

func summarizeFailure(err error, spec model.ExitSpec) model.ActiveCheckResult {
	switch Classify(err) {
	case ClassEmptyOutput:
		return model.ActiveCheckResult{State: spec.EmptyOutput, Summary: "Got no information from host"}
	case ClassTimeout:
		return model.ActiveCheckResult{State: spec.Timeout, Summary: err.Error()}
	case ClassConnection:
		return model.ActiveCheckResult{State: spec.Connection, Summary: err.Error()}
	}
	return model.ActiveCheckResult{State: spec.Exception, Summary: err.Error()}
}

func (s *Summarizer) summarizePiggyback(host model.HostName) []model.ActiveCheckResult {
	maxAge := s.config.PiggybackMaxAge(host)
	if maxAge <= 0 {
		maxAge = s.defaultMaxAge
	}

	var metas []model.PiggybackMeta
	if s.piggyback != nil {
		var err error
		metas, err = s.piggyback.Meta(host, maxAge)
		if err != nil {
			return []model.ActiveCheckResult{{State: model.StateUnknown, Summary: err.Error()}}
		}
	}

	var (
		results []model.ActiveCheckResult
		valid   bool
	)
	for _, m := range metas {
		if m.Valid {
			valid = true
			results = append(results, model.ActiveCheckResult{
				State:   model.StateOK,
				Summary: fmt.Sprintf("Successfully processed from source '%s'", m.Source),
			})
			continue
		}
		results = append(results, model.ActiveCheckResult{
			State:   model.StateOK,
			Summary: fmt.Sprintf("Piggyback data outdated from source '%s' (age: %s, allowed: %s)",
				m.Source, m.Age.Truncate(time.Second), maxAge),
		})
	}
	if valid {
		return results
	}

	if s.config.IsPiggybackTarget(host) {
		return append([]model.ActiveCheckResult{{State: model.StateWarn, Summary: "Missing data"}}, results...)
	}
	return append([]model.ActiveCheckResult{{State: model.StateOK, Summary: "Success (but no data found for this host)"}}, results...)
}

func missingSections(hs model.HostSections, required []string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := hs.Sections[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
