package params

import (
	"errors"
	"fmt"
)

// Prediction periods.
const (
	PeriodWeekday = "wday"
	PeriodDay     = "day"
	PeriodHour    = "hour"
	PeriodMinute  = "minute"
)

// Level types.
const (
	LevelsAbsolute = "absolute"
	LevelsRelative = "relative"
	LevelsStdev    = "stdev"
)

// PredictionParameters configure how predictive levels are derived.
type PredictionParameters struct {
	Period  string  `json:"period"`          // 周期：wday/day/hour/minute
	Horizon int     `json:"horizon"`         // 回溯天数
	Levels  Levels  `json:"levels"`          // 相对预测值的偏移
	Bound   *Bounds `json:"bound,omitempty"` // 上限方向时阈值不低于该值，下限方向时不高于该值
}

// Levels is the offset from the predicted reference value.
type Levels struct {
	Type string  `json:"type"`
	Warn float64 `json:"warn"`
	Crit float64 `json:"crit"`
}

// ParsePredictionParameters validates the prediction parameter mapping.
func ParsePredictionParameters(m Map) (PredictionParameters, error) {
	var p PredictionParameters

	period, _ := scalarString(m, "period")
	switch period {
	case PeriodWeekday, PeriodDay, PeriodHour, PeriodMinute:
		p.Period = period
	default:
		return p, fmt.Errorf("invalid period %q", period)
	}

	horizon, ok := scalarNumber(m.Entries["horizon"])
	if !ok || horizon < 1 {
		return p, errors.New("horizon must be a positive number of days")
	}
	p.Horizon = int(horizon)

	levels, ok := m.Entries["levels"].(List)
	if !ok || len(levels.Items) != 2 {
		return p, errors.New("levels must be a (type, (warn, crit)) pair")
	}
	levelType, _ := levels.Items[0].(Scalar)
	p.Levels.Type, _ = levelType.String()
	switch p.Levels.Type {
	case LevelsAbsolute, LevelsRelative, LevelsStdev:
	default:
		return p, fmt.Errorf("invalid levels type %q", p.Levels.Type)
	}
	warn, crit, ok := numberPair(levels.Items[1])
	if !ok {
		return p, errors.New("levels must contain numeric (warn, crit)")
	}
	p.Levels.Warn, p.Levels.Crit = warn, crit

	if bound, present := m.Entries["bound"]; present {
		if s, isScalar := bound.(Scalar); !isScalar || s.V != nil {
			warn, crit, ok := numberPair(bound)
			if !ok {
				return p, errors.New("bound must be numeric (warn, crit) or null")
			}
			p.Bound = &Bounds{Warn: warn, Crit: crit}
		}
	}
	return p, nil
}

func numberPair(v Value) (float64, float64, bool) {
	l, ok := v.(List)
	if !ok || len(l.Items) != 2 {
		return 0, 0, false
	}
	a, okA := scalarNumber(l.Items[0])
	b, okB := scalarNumber(l.Items[1])
	return a, b, okA && okB
}

func scalarNumber(v Value) (float64, bool) {
	s, ok := v.(Scalar)
	if !ok {
		return 0, false
	}
	switch n := s.V.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
