package search

import (
	"math"
	"testing"
	"time"
)

func TestMinMaxNormalize(t *testing.T) {
	out := MinMaxNormalize(map[string]float64{"a": 2, "b": 4, "c": 6})
	if out["a"] != 0 || out["c"] != 1 {
		t.Errorf("out = %v, want a=0 c=1", out)
	}
	if math.Abs(out["b"]-0.5) > 1e-9 {
		t.Errorf("b = %v, want 0.5", out["b"])
	}
}

func TestMinMaxNormalizeAllEqual(t *testing.T) {
	out := MinMaxNormalize(map[string]float64{"a": 3, "b": 3})
	if out["a"] != 1 || out["b"] != 1 {
		t.Errorf("out = %v, want all 1.0", out)
	}
}

func TestMinMaxNormalizeEmpty(t *testing.T) {
	if out := MinMaxNormalize(nil); len(out) != 0 {
		t.Errorf("out = %v, want empty", out)
	}
}

func TestRecencyBoost(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

	// Today gets the full weight.
	if got := RecencyBoost("2024-06-30", now, 30, 0.15); math.Abs(got-0.15) > 1e-9 {
		t.Errorf("today boost = %v, want 0.15", got)
	}
	// One half-life away halves the weight.
	if got := RecencyBoost("2024-05-31", now, 30, 0.15); math.Abs(got-0.075) > 1e-9 {
		t.Errorf("half-life boost = %v, want 0.075", got)
	}
	// Future dates clamp to age zero.
	if got := RecencyBoost("2024-07-15", now, 30, 0.15); math.Abs(got-0.15) > 1e-9 {
		t.Errorf("future boost = %v, want 0.15", got)
	}
}

func TestRecencyBoostDegenerate(t *testing.T) {
	now := time.Now()
	if got := RecencyBoost("not-a-date", now, 30, 0.15); got != 0 {
		t.Errorf("unparseable date boost = %v, want 0", got)
	}
	if got := RecencyBoost("2024-01-01", now, 0, 0.15); got != 0 {
		t.Errorf("zero half-life boost = %v, want 0", got)
	}
	if got := RecencyBoost("2024-01-01", now, 30, 0); got != 0 {
		t.Errorf("zero weight boost = %v, want 0", got)
	}
}
