package vm

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestPoint_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantTime  time.Time
		wantValue float64
		wantErr   bool
	}{
		{"string value", `[1702451234.567, "75.5"]`, time.UnixMilli(1702451234567), 75.5, false},
		{"number value", `[1702451234, 42.5]`, time.Unix(1702451234, 0), 42.5, false},
		{"negative value", `[1702451234, "-15.5"]`, time.Unix(1702451234, 0), -15.5, false},
		{"empty sample", `[]`, time.Time{}, 0, true},
		{"invalid value", `[1702451234, "invalid"]`, time.Time{}, 0, true},
		{"invalid timestamp", `["now", "1"]`, time.Time{}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Point
			err := json.Unmarshal([]byte(tt.input), &p)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Unmarshal(%s) expected error, got %+v", tt.input, p)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%s) unexpected error: %v", tt.input, err)
			}
			if !p.Time.Equal(tt.wantTime) || p.Value != tt.wantValue {
				t.Errorf("Unmarshal(%s) = %v/%v, want %v/%v", tt.input, p.Time, p.Value, tt.wantTime, tt.wantValue)
			}
		})
	}
}

func TestPoint_SpecialValues(t *testing.T) {
	var points []Point
	if err := json.Unmarshal([]byte(`[[1, "NaN"], [2, "+Inf"], [3, "1"]]`), &points); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !math.IsNaN(points[0].Value) || !math.IsInf(points[1].Value, 1) {
		t.Errorf("special values not decoded: %+v", points)
	}
	if points[0].valid() || points[1].valid() || !points[2].valid() {
		t.Error("only finite samples are valid")
	}
}

func TestPoint_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Point{Time: time.UnixMilli(1700000015500), Value: 0.25})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `[1700000015.5,"0.25"]` {
		t.Errorf("Marshal() = %s", b)
	}
}

func TestParseSeries(t *testing.T) {
	t.Run("matrix", func(t *testing.T) {
		body := `{
			"status": "success",
			"data": {
				"resultType": "matrix",
				"result": [
					{"metric": {"__name__": "load1", "host": "web01"},
					 "values": [[1700000000, "1.5"], [1700000060, "NaN"], [1700000120, "2.5"]]}
				]
			}
		}`
		var resp QueryResponse
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}

		series, err := ParseSeries(&resp)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(series) != 1 {
			t.Fatalf("expected 1 series, got %d", len(series))
		}
		if series[0].Labels.Name() != "load1" {
			t.Errorf("expected metric name load1, got %s", series[0].Labels.Name())
		}
		if len(series[0].Points) != 2 {
			t.Fatalf("expected 2 points (NaN skipped), got %d", len(series[0].Points))
		}
		if series[0].Points[1].Value != 2.5 {
			t.Errorf("expected second value 2.5, got %v", series[0].Points[1].Value)
		}
		if !series[0].Points[0].Time.Equal(time.Unix(1700000000, 0)) {
			t.Errorf("unexpected first timestamp %v", series[0].Points[0].Time)
		}
	})

	t.Run("vector_is_rejected", func(t *testing.T) {
		_, err := ParseSeries(&QueryResponse{Status: "success", Data: QueryData{ResultType: "vector"}})
		if err == nil {
			t.Error("expected error for vector result")
		}
	})

	t.Run("failed_response", func(t *testing.T) {
		_, err := ParseSeries(&QueryResponse{Status: "error", ErrorType: "bad_data", Error: "parse error"})
		if err == nil {
			t.Error("expected error for failed response")
		}
	})
}
