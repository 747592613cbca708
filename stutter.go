package streamreplay

//
// RX stutter & throughput: inter-ACK gap integration plus a simple
// bytes/time throughput ratio. Ported verbatim from
// rx/statistic/stuttering.rs's Stutter::get_stuttering. See
// SPEC_FULL.md §4.8 and §9(b).
//

import "sync"

// StutterFrameBudget is the original's bare 0.016 literal, surfaced as a
// named constant per spec.md §9(b)'s open question: its exact provenance
// (62.5Hz capture pacing? a rounded 60Hz budget?) is not documented
// upstream and is not resolved further here — it is carried unchanged,
// not made configurable from the manifest.
const StutterFrameBudget = 16 * 1e-3 // seconds

// StutterTracker accumulates inbound-datagram arrival times for one
// stream and computes the stuttering metric from them. Single-writer
// (the reassembler goroutine), read concurrently by the IPC statistics
// path, hence the mutex.
type StutterTracker struct {
	mu        sync.Mutex
	startTime float64
	endTime   float64
	ackTimes  []float64
}

// NewStutterTracker constructs an empty tracker.
func NewStutterTracker() *StutterTracker {
	return &StutterTracker{}
}

// Observe records one inbound-datagram arrival at the current wall-clock
// time (seconds), matching Stutter::update.
func (s *StutterTracker) Observe() {
	s.observeAt(nowSeconds())
}

// observeAt is Observe with an explicit timestamp, split out so tests can
// drive the tracker deterministically.
func (s *StutterTracker) observeAt(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ackTimes) == 0 {
		s.startTime = t
	} else {
		s.endTime = t
	}
	s.ackTimes = append(s.ackTimes, t)
}

// Stuttering returns Σ (gap - StutterFrameBudget) over every inter-arrival
// gap that exceeds 2×StutterFrameBudget, divided by the observed span —
// the original's get_stuttering, unchanged.
func (s *StutterTracker) Stuttering() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ackTimes) < 2 {
		return 0.0
	}
	var stuttering float64
	for i := 1; i < len(s.ackTimes); i++ {
		diff := s.ackTimes[i] - s.ackTimes[i-1] - StutterFrameBudget
		if diff > StutterFrameBudget {
			stuttering += diff
		}
	}
	if stuttering == 0.0 {
		return 0.0
	}
	span := s.endTime - s.startTime
	if span == 0 {
		return 0.0
	}
	return stuttering / span
}

// Throughput computes 8 * dataLen / rxDuration / 1e6 Mbps, spec.md §4.8.
func Throughput(dataLen uint64, rxDuration float64) float64 {
	if rxDuration <= 0 {
		return 0
	}
	return 8.0 * float64(dataLen) / rxDuration / 1e6
}
