package streamreplay

//
// Source engine: the replay loop. Ported from source.rs's source_thread
// (trace-driven) and stream_thread (buffer-pipe-driven, kept here as
// RunFromBuffers for a future live-feed input). See SPEC_FULL.md §4.4.
//

import (
	"context"
	"runtime"
	"time"
)

// RTTReporter receives a burst's seq number at the moment it is enqueued,
// so the RTT recorder can stamp a send-time for later ACK matching.
type RTTReporter interface {
	ReportSeq(seq uint32)
}

// spinThreshold is the point at which spinSleepUntil switches from
// coarse time.Sleep to a tight Gosched loop, matching spin_sleep's
// SpinStrategy::YieldThread (original uses a 100µs native-spin
// threshold; source.rs configures SpinSleeper::new(100_000)).
const spinThreshold = 100 * time.Microsecond

// spinSleepUntil blocks until deadline with sub-millisecond precision:
// coarse sleep down to spinThreshold remaining, then a yielding spin for
// the last stretch. A negative or already-passed deadline returns
// immediately.
func spinSleepUntil(deadline time.Time) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if remaining > spinThreshold {
			time.Sleep(remaining - spinThreshold)
			continue
		}
		runtime.Gosched()
	}
}

// SourceEngine drives one stream's replay loop: trace iteration,
// fragmentation, per-burst scheduling and deadline-based pacing.
type SourceEngine struct {
	name string
	port uint16

	trace       []TraceRow
	idx         uint64
	loops       uint64
	maxLoops    uint64
	startOffset uint64
	seq         uint32

	throttler  *RateThrottler
	split      *SplitController
	dispatcher *LinkDispatcher
	peerIPs    []string

	rtt     RTTReporter // nil when calc_rtt is false
	blocked func() bool // true if any configured link is currently back-pressured

	logger Logger
}

// NewSourceEngine constructs the engine for one stream. peerIPs must be
// ordered the same as the stream's links (conf.go's LinkPair.RxIPAddr).
func NewSourceEngine(
	name string, port uint16,
	trace []TraceRow, startOffset, maxLoops uint64,
	throttler *RateThrottler, split *SplitController, dispatcher *LinkDispatcher,
	peerIPs []string, rtt RTTReporter, logger Logger,
) *SourceEngine {
	return &SourceEngine{
		name: name, port: port,
		trace: trace, idx: startOffset % uint64(len(trace)), startOffset: startOffset, maxLoops: maxLoops,
		throttler: throttler, split: split, dispatcher: dispatcher, peerIPs: peerIPs,
		rtt: rtt, logger: logger,
		blocked: func() bool { return dispatcher.Blocked(0) || dispatcher.Blocked(1) },
	}
}

// fragment splits payload into num = ceil(len(payload)/MaxPayload) packets,
// obtaining each offset's indicator tag(s) from split and emitting one
// Packet per tag (1 or 2 when the offset falls in the redundancy region).
func fragment(port uint16, seq uint32, payload []byte, split *SplitController) []Packet {
	size := len(payload)
	if size == 0 {
		return nil
	}
	num := size / MaxPayload
	remainder := size % MaxPayload
	if remainder > 0 {
		num++
	}

	tagsPerOffset := split.PacketTagsForBurst(num)
	var packets []Packet
	for offset := 0; offset < num; offset++ {
		length := MaxPayload
		if offset == num-1 && remainder > 0 {
			length = remainder
		}
		start := offset * MaxPayload
		frag := payload[start : start+length]
		for _, tag := range tagsPerOffset[offset] {
			packets = append(packets, Packet{
				Seq:       seq,
				Offset:    uint16(offset),
				Length:    uint16(length),
				Port:      port,
				Indicator: tag,
				Payload:   frag,
			})
		}
	}
	return packets
}

// Run executes the trace-driven replay loop until ctx is cancelled or
// wall-clock passes stopTime. startDelay is the spec.md §4.4 step-1 wait
// ("duration[0] has elapsed") applied once before the first burst.
func (s *SourceEngine) Run(ctx context.Context, startDelay time.Duration, stopTime time.Time) {
	spinSleepUntil(time.Now().Add(startDelay))

	var loopCount uint64
	for time.Now().Before(stopTime) || time.Now().Equal(stopTime) {
		select {
		case <-ctx.Done():
			s.throttler.Reset()
			return
		default:
		}

		loopCount++
		var deadline time.Time
		if loopCount < s.maxLoops {
			s.idx = (s.idx + 1) % uint64(len(s.trace))
			row := s.trace[s.idx]
			if row.SizeBytes != 0 {
				s.seq++
				packets := fragment(s.port, s.seq, zeroPayload(int(row.SizeBytes)), s.split)
				s.throttler.Prepare(packets)
				if s.rtt != nil {
					s.rtt.ReportSeq(s.seq)
				}
			}
			deadline = time.Now().Add(time.Duration(row.IntervalNs))
		} else {
			deadline = stopTime
		}

		s.drainUntil(ctx, deadline)
		spinSleepUntil(deadline)
	}

	s.throttler.Reset()
}

// zeroPayload stands in for the trace's actual application payload bytes:
// the trace format (§6) records only (interval_ns, size_bytes), so the
// bytes themselves are synthesized here rather than sourced from
// anywhere — this matches source.rs, which also only ever fragments
// trace-declared sizes, never real application data, for the npy-driven
// path (real payload bytes only exist on the buffer-pipe path, see
// RunFromBuffers).
func zeroPayload(size int) []byte {
	if size > MaxPayload*64 {
		// defensive cap: a corrupt trace row should not allocate
		// unbounded memory for a synthetic payload nobody inspects.
		size = MaxPayload * 64
	}
	return make([]byte, size)
}

// drainUntil repeatedly tries to consume buffered packets through the
// throttler and onto the dispatcher until deadline, honoring the
// blocked-signal back-pressure the dispatcher exposes.
func (s *SourceEngine) drainUntil(ctx context.Context, deadline time.Time) {
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if s.blocked != nil && s.blocked() {
			continue
		}
		result := s.throttler.TryConsume(func(p Packet) bool {
			p.Timestamp = float64(time.Now().UnixNano()) / 1e9
			s.dispatcher.Dispatch(s.split, s.peerIPs, p)
			return true
		})
		if result == ConsumeEmpty {
			return
		}
	}
}

// RunFromBuffers is the live-feed variant of Run: instead of iterating a
// pre-recorded trace, each burst's payload arrives directly on buffers
// (ported from stream_thread). Still governed by the same throttler,
// split controller and dispatcher. No scheduled inter-arrival delay is
// applied between bursts: the producer's send cadence on buffers IS the
// pacing, matching stream_thread's blocking dest.recv().
func (s *SourceEngine) RunFromBuffers(ctx context.Context, buffers <-chan []byte, stopTime time.Time) {
	for time.Now().Before(stopTime) {
		select {
		case <-ctx.Done():
			s.throttler.Reset()
			return
		case payload, ok := <-buffers:
			if !ok {
				s.throttler.Reset()
				return
			}
			s.seq++
			packets := fragment(s.port, s.seq, payload, s.split)
			s.throttler.Prepare(packets)
			if s.rtt != nil {
				s.rtt.ReportSeq(s.seq)
			}
			s.drainUntil(ctx, stopTime)
		}
	}
	s.throttler.Reset()
}
