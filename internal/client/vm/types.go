package vm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// QueryResponse is the envelope of the Prometheus compatible query API.
type QueryResponse struct {
	Status    string    `json:"status"`              // success 或 error
	Data      QueryData `json:"data"`                // 查询数据
	ErrorType string    `json:"errorType,omitempty"` // 错误类型
	Error     string    `json:"error,omitempty"`     // 错误信息
	Warnings  []string  `json:"warnings,omitempty"`  // 警告信息
}

// IsSuccess returns true if the query was successful.
func (r *QueryResponse) IsSuccess() bool {
	return r.Status == "success"
}

// QueryData holds the series of a range query. Instant vectors decode with empty values.
type QueryData struct {
	ResultType string        `json:"resultType"` // vector, matrix, scalar, string
	Result     []RangeSeries `json:"result"`
}

// RangeSeries is one series of a matrix result as sent on the wire.
type RangeSeries struct {
	Metric Metric  `json:"metric"`
	Values []Point `json:"values"`
}

// Metric is the label set of a series.
type Metric map[string]string

// Name returns the __name__ label.
func (m Metric) Name() string {
	return m["__name__"]
}

// Point is one [unix_seconds, "value"] sample.
type Point struct {
	Time  time.Time // 采样时间
	Value float64   // 采样值，可能为 NaN 或 ±Inf
}

// UnmarshalJSON decodes the two element array form.
func (p *Point) UnmarshalJSON(b []byte) error {
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("invalid sample: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("invalid sample: %d elements", len(raw))
	}
	ts, ok := raw[0].(float64)
	if !ok {
		return fmt.Errorf("invalid sample timestamp %v", raw[0])
	}
	p.Time = time.UnixMilli(int64(math.Round(ts * 1000)))

	switch v := raw[1].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid sample value %q: %w", v, err)
		}
		p.Value = f
	case float64:
		p.Value = v
	default:
		return fmt.Errorf("unexpected sample value type %T", raw[1])
	}
	return nil
}

// MarshalJSON encodes p the way the query API does.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{
		float64(p.Time.UnixMilli()) / 1000,
		strconv.FormatFloat(p.Value, 'f', -1, 64),
	})
}

func (p Point) valid() bool {
	return !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0)
}

// Series is one time series with its NaN and Inf samples removed.
type Series struct {
	Labels Metric  // 标签
	Points []Point // 按时间排序的采样点
}

// ParseSeries converts a matrix QueryResponse into series.
func ParseSeries(resp *QueryResponse) ([]Series, error) {
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("query failed: %s - %s", resp.ErrorType, resp.Error)
	}
	if resp.Data.ResultType != "matrix" {
		return nil, fmt.Errorf("unexpected result type: %s (expected matrix)", resp.Data.ResultType)
	}

	series := make([]Series, 0, len(resp.Data.Result))
	for _, rs := range resp.Data.Result {
		points := make([]Point, 0, len(rs.Values))
		for _, p := range rs.Values {
			if p.valid() {
				points = append(points, p)
			}
		}
		series = append(series, Series{Labels: rs.Metric, Points: points})
	}
	return series, nil
}
