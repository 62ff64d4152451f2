package queue

import (
	"math"
	"testing"
)

func TestLatencyRingEmpty(t *testing.T) {
	r := NewLatencyRing(10)

	if r.Count() != 0 {
		t.Errorf("Expected count 0, got %d", r.Count())
	}
	if r.Average() != 0 {
		t.Errorf("Expected average 0, got %f", r.Average())
	}
	if r.Max() != 0 {
		t.Errorf("Expected max 0, got %f", r.Max())
	}
}

func TestLatencyRingAverageAndMax(t *testing.T) {
	r := NewLatencyRing(10)

	r.Add(1.0)
	r.Add(2.0)
	r.Add(6.0)

	if r.Count() != 3 {
		t.Errorf("Expected count 3, got %d", r.Count())
	}
	if math.Abs(r.Average()-3.0) > 1e-9 {
		t.Errorf("Expected average 3.0, got %f", r.Average())
	}
	if r.Max() != 6.0 {
		t.Errorf("Expected max 6.0, got %f", r.Max())
	}
}

func TestLatencyRingOverwritesOldest(t *testing.T) {
	r := NewLatencyRing(3)

	r.Add(100.0)
	r.Add(1.0)
	r.Add(2.0)
	r.Add(3.0) // evicts 100.0

	if r.Count() != 3 {
		t.Errorf("Expected count capped at 3, got %d", r.Count())
	}
	if math.Abs(r.Average()-2.0) > 1e-9 {
		t.Errorf("Expected average 2.0 after eviction, got %f", r.Average())
	}
	if r.Max() != 3.0 {
		t.Errorf("Expected max 3.0 after eviction, got %f", r.Max())
	}
}

func TestLatencyRingMinimumCapacity(t *testing.T) {
	r := NewLatencyRing(0)

	r.Add(5.0)
	r.Add(7.0)

	if r.Count() != 1 {
		t.Errorf("Expected capacity clamped to 1, got count %d", r.Count())
	}
	if r.Average() != 7.0 {
		t.Errorf("Expected only latest sample retained, got average %f", r.Average())
	}
}
