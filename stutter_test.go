package streamreplay

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestStutterTrackerNoGapsReportsZero(t *testing.T) {
	s := NewStutterTracker()
	s.observeAt(0.0)
	s.observeAt(0.016)
	s.observeAt(0.032)
	if got := s.Stuttering(); got != 0 {
		t.Fatalf("evenly spaced arrivals at the frame budget should report zero stuttering, got %f", got)
	}
}

func TestStutterTrackerLargeGapContributes(t *testing.T) {
	s := NewStutterTracker()
	s.observeAt(0.0)
	// a 0.1s gap: diff = 0.1 - 0.016 = 0.084, which exceeds 0.016, so it
	// contributes diff to the numerator.
	s.observeAt(0.1)
	s.observeAt(0.116)

	want := 0.084 / 0.116
	if got := s.Stuttering(); !almostEqual(got, want) {
		t.Fatalf("Stuttering() = %f, want %f", got, want)
	}
}

func TestStutterTrackerSingleObservationReportsZero(t *testing.T) {
	s := NewStutterTracker()
	s.observeAt(1.0)
	if got := s.Stuttering(); got != 0 {
		t.Fatalf("a single observation has no gap to integrate, got %f", got)
	}
}

func TestThroughput(t *testing.T) {
	type testcase struct {
		name       string
		dataLen    uint64
		rxDuration float64
		want       float64
	}
	var testcases = []testcase{
		{"zero duration reports zero", 1000, 0, 0},
		{"1MB over 1s is 8Mbps", 1_000_000, 1.0, 8.0},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Throughput(tc.dataLen, tc.rxDuration); !almostEqual(got, tc.want) {
				t.Fatalf("Throughput(%d, %f) = %f, want %f", tc.dataLen, tc.rxDuration, got, tc.want)
			}
		})
	}
}
