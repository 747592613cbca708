package streamreplay

//
// Rate throttler: a sliding-window Mbps estimator sitting in front of a
// bounded drop-tail packet buffer, between the source engine (producer)
// and the link dispatcher (consumer).
//
// Ported from throttle.rs's RateThrottler/CycledVecDequeue. See
// SPEC_FULL.md §4.3.
//

import (
	"math"
	"sync/atomic"
	"time"
)

// MaxErrRatio and CycledRatio are the original's MAX_ERR_RATIO and
// CYCLED_RATIO constants, unchanged.
const (
	MaxErrRatio = 0.02
	CycledRatio = 100
)

// windowEntry is one (time, size) sample in the sliding window.
type windowEntry struct {
	when time.Time
	size int
}

// timeWindow is a fixed-capacity ring buffer of windowEntry, the Go
// equivalent of throttle.rs's CycledVecDequeue<(TIME, SIZE)>.
type timeWindow struct {
	entries []windowEntry
	head    int // index of oldest entry
	count   int
}

func newTimeWindow(capacity int) *timeWindow {
	return &timeWindow{entries: make([]windowEntry, capacity)}
}

// push appends an entry, evicting and returning the oldest one if the
// window was already full.
func (w *timeWindow) push(e windowEntry) (evicted windowEntry, ok bool) {
	if len(w.entries) == 0 {
		return windowEntry{}, false
	}
	idx := (w.head + w.count) % len(w.entries)
	if w.count == len(w.entries) {
		evicted = w.entries[w.head]
		ok = true
		w.head = (w.head + 1) % len(w.entries)
		w.entries[idx] = e
		return evicted, ok
	}
	w.entries[idx] = e
	w.count++
	return windowEntry{}, false
}

func (w *timeWindow) front() (windowEntry, bool) {
	if w.count == 0 {
		return windowEntry{}, false
	}
	return w.entries[w.head], true
}

func (w *timeWindow) len() int { return w.count }

func (w *timeWindow) reset() {
	w.head, w.count = 0, 0
}

// packetRing is the bounded drop-tail FIFO of pending packets between
// RateThrottler.Prepare and TryConsume/Consume. A zero capacity means
// unbounded (spec.md §4.3: "unbounded (cap=0) when infinite" loops).
type packetRing struct {
	items    []Packet
	head     int
	count    int
	capacity int // 0 == unbounded
}

func newPacketRing(capacity int) *packetRing {
	pr := &packetRing{capacity: capacity}
	if capacity > 0 {
		pr.items = make([]Packet, capacity)
	}
	return pr
}

// tryPush appends p, returning false (silently dropping p) if the ring is
// at capacity. An unbounded ring (capacity == 0) always succeeds.
func (pr *packetRing) tryPush(p Packet) bool {
	if pr.capacity == 0 {
		pr.items = append(pr.items, p)
		pr.count++
		return true
	}
	if pr.count == pr.capacity {
		return false
	}
	idx := (pr.head + pr.count) % pr.capacity
	pr.items[idx] = p
	pr.count++
	return true
}

func (pr *packetRing) front() (*Packet, bool) {
	if pr.count == 0 {
		return nil, false
	}
	if pr.capacity == 0 {
		return &pr.items[pr.head], true
	}
	return &pr.items[pr.head], true
}

func (pr *packetRing) popFront() (Packet, bool) {
	if pr.count == 0 {
		return Packet{}, false
	}
	var p Packet
	if pr.capacity == 0 {
		p = pr.items[pr.head]
		pr.items = pr.items[1:]
		pr.count--
		return p, true
	}
	p = pr.items[pr.head]
	pr.head = (pr.head + 1) % pr.capacity
	pr.count--
	return p, true
}

func (pr *packetRing) len() int { return pr.count }

func (pr *packetRing) reset() {
	pr.head, pr.count = 0, 0
	if pr.capacity == 0 {
		pr.items = nil
	}
}

// TelemetrySink receives one throttle-state line per Prepare/Consume call.
// The concrete gzip-backed implementation lives in logsink.go; tests and
// no_logging streams use a nil sink (RateThrottler checks for nil).
type TelemetrySink interface {
	WriteThrottleSample(timestamp float64, bufferDepth int, rateMbps float64)
	Close() error
}

// RateThrottler enforces an optional Mbps ceiling via a sliding window of
// recent emissions, and buffers packets between the source engine and the
// dispatcher. Per spec.md §5, the window/buffer state is exclusively
// owned by the stream's source goroutine; Throttle and LastRateMbps are
// the two fields touched from other goroutines (IPC, statistics reader)
// and are kept behind atomics for that reason alone.
type RateThrottler struct {
	Name string

	window *timeWindow
	buffer *packetRing

	throttleBits atomic.Uint64 // float64 bits, Mbps ceiling; 0 == unlimited
	lastRateBits atomic.Uint64 // float64 bits, cached Mbps

	sumBytes int
	accError int
	maxError int

	sink TelemetrySink
}

// NewRateThrottler constructs a throttler. finiteLoops selects the
// bounded-vs-unbounded buffer capacity per spec.md §4.3.
func NewRateThrottler(name string, throttle float64, windowSize int, finiteLoops bool, sink TelemetrySink) *RateThrottler {
	capacity := 0
	if finiteLoops {
		capacity = CycledRatio * windowSize
	}
	rt := &RateThrottler{
		Name:     name,
		window:   newTimeWindow(windowSize),
		buffer:   newPacketRing(capacity),
		maxError: int(MaxErrRatio*float64(windowSize)) * MaxPayload,
		sink:     sink,
	}
	rt.throttleBits.Store(math.Float64bits(throttle))
	return rt
}

// SetThrottle updates the Mbps ceiling. Safe to call from any goroutine
// (the IPC Throttle command does so).
func (rt *RateThrottler) SetThrottle(mbps float64) {
	rt.throttleBits.Store(math.Float64bits(mbps))
}

// Throttle returns the current Mbps ceiling (0 == unlimited).
func (rt *RateThrottler) Throttle() float64 {
	return math.Float64frombits(rt.throttleBits.Load())
}

// LastRateMbps returns the most recently cached average rate, safe to
// call from the IPC statistics reader concurrently with the source
// goroutine.
func (rt *RateThrottler) LastRateMbps() float64 {
	return math.Float64frombits(rt.lastRateBits.Load())
}

// currentRateMbps recomputes the cached rate only once accError exceeds
// maxError (the performance contract in spec.md §4.3: no allocation or
// lock on every packet). extraBytes lets ExceedsWith predict the rate
// that a not-yet-admitted packet would produce.
func (rt *RateThrottler) currentRateMbps(extraBytes int) float64 {
	if rt.accError < rt.maxError {
		return rt.LastRateMbps()
	}
	rt.accError = 0

	front, ok := rt.window.front()
	if !ok {
		return 0
	}
	accSize := rt.sumBytes + extraBytes
	accTimeNs := time.Since(front.when).Nanoseconds()
	if accTimeNs <= 0 {
		return rt.LastRateMbps()
	}
	rate := 8.0 * (float64(accSize) / 1e6) / (float64(accTimeNs) * 1e-9)
	rt.lastRateBits.Store(math.Float64bits(rate))
	return rate
}

// admit records size bytes as newly sent, evicting the oldest window
// sample if the window is full.
func (rt *RateThrottler) admit(size int) {
	rt.sumBytes += size
	if evicted, ok := rt.window.push(windowEntry{when: time.Now(), size: size}); ok {
		rt.sumBytes -= evicted.size
		rt.accError += evicted.size
	}
}

// ExceedsWith reports whether admitting a packet of sizeBytes would push
// the predicted rate above the throttle ceiling. When there is no
// ceiling, or the window is still empty, the packet is admitted
// immediately and this returns false (spec.md §4.3).
func (rt *RateThrottler) ExceedsWith(sizeBytes int) bool {
	throttle := rt.Throttle()
	if throttle == 0 || rt.window.len() == 0 {
		rt.admit(sizeBytes)
		return false
	}
	rt.accError += sizeBytes
	if rt.currentRateMbps(sizeBytes) < throttle {
		rt.admit(sizeBytes)
		return false
	}
	return true
}

// Prepare enqueues freshly fragmented packets into the buffer, logging a
// telemetry sample first (matching the original's "log then append"
// ordering). Packets beyond capacity are silently dropped (drop-tail,
// spec.md §7).
func (rt *RateThrottler) Prepare(packets []Packet) {
	rt.logSample()
	for _, p := range packets {
		rt.buffer.tryPush(p)
	}
}

func (rt *RateThrottler) logSample() {
	if rt.sink == nil {
		return
	}
	ts := float64(time.Now().UnixNano()) / 1e9
	rt.sink.WriteThrottleSample(ts, rt.buffer.len(), rt.LastRateMbps())
}

// ConsumeResult is the outcome of TryConsume.
type ConsumeResult int

const (
	// ConsumeEmpty means the buffer had nothing to offer.
	ConsumeEmpty ConsumeResult = iota
	// ConsumeBusy means the front packet would exceed the throttle; the
	// caller should back off briefly (spec.md suggests ~100µs) and retry.
	ConsumeBusy
	// ConsumeDone means callback was invoked and returned true, so the
	// front packet was popped.
	ConsumeDone
)

// TryConsume peeks the front packet; if sending it would exceed the
// throttle it sleeps ~100µs and returns ConsumeBusy without popping.
// Otherwise it invokes fn with a copy of the packet; if fn returns true
// the packet is popped and ConsumeDone is returned, else the packet stays
// at the front and ConsumeBusy is returned (the original returns false in
// both the "would block" and the "callback declined" cases — we surface
// them both as Busy since the caller's retry loop treats them the same).
func (rt *RateThrottler) TryConsume(fn func(Packet) bool) ConsumeResult {
	front, ok := rt.buffer.front()
	if !ok {
		return ConsumeEmpty
	}
	if rt.ExceedsWith(int(front.Length)) {
		time.Sleep(100 * time.Microsecond)
		return ConsumeBusy
	}
	if fn(*front) {
		rt.consume()
		return ConsumeDone
	}
	return ConsumeBusy
}

// consume pops the front packet, logging a telemetry sample first.
func (rt *RateThrottler) consume() {
	rt.logSample()
	rt.buffer.popFront()
}

// Reset zeroes window, buffer and cached rate. Invoked at source-goroutine
// exit so the next activation of this stream starts clean (spec.md §4.3).
func (rt *RateThrottler) Reset() {
	rt.window.reset()
	rt.buffer.reset()
	rt.sumBytes = 0
	rt.accError = 0
	rt.lastRateBits.Store(0)
}
