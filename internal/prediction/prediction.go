// Package prediction derives predictive levels from the history of a metric.
//
// History is read from VictoriaMetrics (or any Prometheus compatible API) with a range
// query covering the configured horizon. Only the samples that fall into the same slot
// of the period as "now" (same weekday and hour, same hour of day, same minute of hour
// or same second bucket of the minute) contribute to the reference value.
package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"checkengine/internal/client/vm"
	"checkengine/internal/params"
)

// DefaultQueryTemplate selects the metric of the host by its host label.
const DefaultQueryTemplate = `$METRIC${host="$HOST$"}`

// maxPoints keeps range queries below the point limit of Prometheus compatible APIs.
const maxPoints = 10000

// metricPlaceholder is replaced by the metric name in meta file path templates.
const metricPlaceholder = "{metric}"

var _ params.PredictiveLookup = (*Service)(nil)

// SeriesQuerier reads historical series. Implemented by *vm.Client.
type SeriesQuerier interface {
	QuerySeries(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]vm.Series, error)
}

// Prediction is the reference value of one metric for one slot.
type Prediction struct {
	Reference *float64  `json:"reference"` // 参考值，无历史数据时为空
	Stdev     float64   `json:"stdev"`     // 标准差
	Samples   int       `json:"samples"`   // 参与计算的样本数
	Slot      int       `json:"slot"`      // 周期内的时间槽
	ValidTo   time.Time `json:"valid_to"`  // 所在时间槽结束时间
}

// Service implements params.PredictiveLookup.
type Service struct {
	querier  SeriesQuerier
	cache    Cache
	ttl      time.Duration
	template string
	metaDir  string
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache sets the cache predictions are kept in.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithQueryTemplate sets the PromQL template. $METRIC$ and $HOST$ are substituted;
// without $HOST$ a host label matcher is injected into every selector.
func WithQueryTemplate(tmpl string) Option {
	return func(s *Service) {
		if tmpl != "" {
			s.template = tmpl
		}
	}
}

// WithMetaDir enables writing prediction meta files below dir.
func WithMetaDir(dir string) Option {
	return func(s *Service) {
		s.metaDir = dir
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a prediction service reading history through querier.
func NewService(querier SeriesQuerier, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		querier:  querier,
		template: DefaultQueryTemplate,
		now:      time.Now,
		logger:   logger.With().Str("component", "prediction").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MetaFilePathTemplate returns the template of the meta file paths of one service.
// It is empty if meta files are disabled.
func (s *Service) MetaFilePathTemplate(host, description string) string {
	if s.metaDir == "" {
		return ""
	}
	return filepath.Join(s.metaDir, host, PnpCleanup(description), metricPlaceholder+".json")
}

// LookupPredictiveLevels implements params.PredictiveLookup.
func (s *Service) LookupPredictiveLevels(
	ctx context.Context,
	metric string,
	direction params.Direction,
	p params.PredictionParameters,
	injected params.InjectedParameters,
) (*float64, *params.Bounds, error) {
	now := s.now()
	slot := slotOf(p.Period, now)
	key := strings.Join([]string{
		injected.HostName, injected.ServiceDescription, metric, p.Period,
		fmt.Sprint(p.Horizon), fmt.Sprint(slot),
	}, "|")

	pred, err := s.cached(ctx, key, func() (Prediction, error) {
		return s.predict(ctx, injected.HostName, metric, p, now)
	})
	if err != nil {
		return nil, nil, err
	}

	if injected.MetaFilePathTemplate != "" {
		s.writeMeta(injected.MetaFilePathTemplate, metric, p, pred)
	}

	if pred.Reference == nil {
		return nil, nil, nil
	}
	bounds := Levels(*pred.Reference, pred.Stdev, direction, p)
	return pred.Reference, &bounds, nil
}

func (s *Service) cached(ctx context.Context, key string, compute func() (Prediction, error)) (Prediction, error) {
	if s.cache == nil {
		return compute()
	}
	if pred, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("prediction cache lookup failed")
	} else if ok {
		return pred, nil
	}

	pred, err := compute()
	if err != nil {
		return pred, err
	}
	ttl := s.ttl
	if until := pred.ValidTo.Sub(s.now()); ttl <= 0 || (until > 0 && until < ttl) {
		ttl = until
	}
	if ttl > 0 {
		if err := s.cache.Set(ctx, key, pred, ttl); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to cache prediction")
		}
	}
	return pred, nil
}

func (s *Service) predict(ctx context.Context, host, metric string, p params.PredictionParameters, now time.Time) (Prediction, error) {
	query := s.query(host, metric)
	end := now
	start := end.Add(-time.Duration(p.Horizon) * 24 * time.Hour)
	step := stepFor(p.Period, end.Sub(start))

	s.logger.Debug().
		Str("host", host).
		Str("metric", metric).
		Str("period", p.Period).
		Int("horizon", p.Horizon).
		Dur("step", step).
		Msg("computing prediction")

	series, err := s.querier.QuerySeries(ctx, query, start, end, step)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to query history of %s: %w", metric, err)
	}

	slot := slotOf(p.Period, now)
	var values []float64
	for _, sr := range series {
		for _, pt := range sr.Points {
			if slotOf(p.Period, pt.Time.In(now.Location())) == slot {
				values = append(values, pt.Value)
			}
		}
	}

	pred := Prediction{Samples: len(values), Slot: slot, ValidTo: slotEnd(p.Period, now)}
	if len(values) == 0 {
		return pred, nil
	}
	mean, stdev := meanStdev(values)
	pred.Reference = &mean
	pred.Stdev = stdev
	return pred, nil
}

func (s *Service) query(host, metric string) string {
	q := strings.ReplaceAll(s.template, "$METRIC$", metric)
	if strings.Contains(q, "$HOST$") {
		return strings.ReplaceAll(q, "$HOST$", strings.ReplaceAll(host, `"`, `\"`))
	}
	filter := &vm.LabelFilter{Equal: map[string]string{"host": host}}
	return filter.Apply(q)
}

type metaFile struct {
	Metric     string                      `json:"metric"`
	Parameters params.PredictionParameters `json:"parameters"`
	Prediction Prediction                  `json:"prediction"`
}

func (s *Service) writeMeta(template, metric string, p params.PredictionParameters, pred Prediction) {
	path := strings.ReplaceAll(template, metricPlaceholder, PnpCleanup(metric))
	data, err := json.MarshalIndent(metaFile{Metric: metric, Parameters: p, Prediction: pred}, "", "  ")
	if err == nil {
		err = os.MkdirAll(filepath.Dir(path), 0o750)
	}
	if err == nil {
		err = os.WriteFile(path, data, 0o640)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to write prediction meta file")
	}
}

// Levels applies the level parameters to a reference value.
func Levels(reference, stdev float64, direction params.Direction, p params.PredictionParameters) params.Bounds {
	offset := func(v float64) float64 {
		switch p.Levels.Type {
		case params.LevelsRelative:
			return math.Abs(reference) * v / 100
		case params.LevelsStdev:
			return stdev * v
		default:
			return v
		}
	}

	b := params.Bounds{Warn: reference + offset(p.Levels.Warn), Crit: reference + offset(p.Levels.Crit)}
	if direction == params.DirectionLower {
		b = params.Bounds{Warn: reference - offset(p.Levels.Warn), Crit: reference - offset(p.Levels.Crit)}
	}

	if p.Bound != nil {
		if direction == params.DirectionLower {
			b.Warn = math.Min(b.Warn, p.Bound.Warn)
			b.Crit = math.Min(b.Crit, p.Bound.Crit)
		} else {
			b.Warn = math.Max(b.Warn, p.Bound.Warn)
			b.Crit = math.Max(b.Crit, p.Bound.Crit)
		}
	}
	return b
}

// slotOf returns the slot of t within the period.
func slotOf(period string, t time.Time) int {
	switch period {
	case params.PeriodWeekday:
		return int(t.Weekday())*24 + t.Hour()
	case params.PeriodDay:
		return t.Hour()
	case params.PeriodHour:
		return t.Minute()
	default:
		return t.Second() / 5
	}
}

// slotEnd returns the time the slot containing t ends, on the wall clock of t's location.
func slotEnd(period string, t time.Time) time.Time {
	y, m, d := t.Date()
	h, mi, sec := t.Clock()
	switch period {
	case params.PeriodWeekday, params.PeriodDay:
		return time.Date(y, m, d, h+1, 0, 0, 0, t.Location())
	case params.PeriodHour:
		return time.Date(y, m, d, h, mi+1, 0, 0, t.Location())
	default:
		return time.Date(y, m, d, h, mi, sec/5*5+5, 0, t.Location())
	}
}

// stepFor picks a query resolution that resolves the slots of the period and stays
// below maxPoints.
func stepFor(period string, span time.Duration) time.Duration {
	var step time.Duration
	switch period {
	case params.PeriodWeekday, params.PeriodDay:
		step = 5 * time.Minute
	case params.PeriodHour:
		step = 30 * time.Second
	default:
		step = 5 * time.Second
	}
	if minStep := (span / maxPoints).Truncate(time.Second) + time.Second; minStep > step {
		step = minStep
	}
	return step
}

func meanStdev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

var pnpReplacer = strings.NewReplacer(" ", "_", ":", "_", "/", "_", "\\", "_")

// PnpCleanup makes a service description or metric name usable as a path element.
func PnpCleanup(s string) string {
	return pnpReplacer.Replace(s)
}
