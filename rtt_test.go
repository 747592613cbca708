package streamreplay

import "testing"

func TestRTTRingCompletesOnSingleLinkFinalAck(t *testing.T) {
	ring := NewRTTRing(2, 0.1)
	completed := ring.Update(1, 0, 0.05, true)
	if !completed {
		t.Fatal("a final (SLFL/SLSL) ack must complete the burst regardless of other channels")
	}
}

func TestRTTRingCompletesOnlyWhenBothChannelsReport(t *testing.T) {
	ring := NewRTTRing(2, 0.1)
	if ring.Update(5, 0, 0.02, false) {
		t.Fatal("burst should not be complete after only one of two channels reported")
	}
	if !ring.Update(5, 1, 0.03, false) {
		t.Fatal("burst should complete once both channels have reported")
	}
}

func TestRTTRingStatisticsOutageRate(t *testing.T) {
	ring := NewRTTRing(1, 0.05)
	// 3 samples under target, 1 over => outage_rate 1/4.
	ring.Update(1, 0, 0.01, true)
	ring.Update(2, 0, 0.02, true)
	ring.Update(3, 0, 0.03, true)
	ring.Update(4, 0, 0.2, true)

	stats := ring.Statistics()
	if stats.OutageRate != 0.25 {
		t.Fatalf("OutageRate = %f, want 0.25", stats.OutageRate)
	}
}

func TestRTTRingStatisticsDedupAcrossCalls(t *testing.T) {
	ring := NewRTTRing(1, 1.0)
	ring.Update(1, 0, 0.01, true)
	first := ring.Statistics()
	second := ring.Statistics()
	if first.RTT != second.RTT {
		t.Fatalf("repeated Statistics() calls must not double count a sample: %f vs %f", first.RTT, second.RTT)
	}
}

func TestTrimmedMeanDropsOutliers(t *testing.T) {
	// a single large outlier should be trimmed out of a 10-90 percentile
	// mean; without trimming the mean would be pulled far above 0.02.
	samples := []float64{0.01, 0.02, 0.02, 0.02, 0.02, 0.02, 0.02, 0.02, 0.02, 5.0}
	mean := trimmedMean(samples)
	if mean > 0.1 {
		t.Fatalf("trimmedMean(%v) = %f, expected the 5.0 outlier to be trimmed away", samples, mean)
	}
}

func TestTrimmedMeanEmptyIsZero(t *testing.T) {
	if got := trimmedMean(nil); got != 0 {
		t.Fatalf("trimmedMean(nil) = %f, want 0", got)
	}
}
