package streamreplay

import "testing"

func TestRateThrottlerUnlimitedAdmitsImmediately(t *testing.T) {
	rt := NewRateThrottler("test", 0, 200, true, nil)
	if rt.ExceedsWith(1000) {
		t.Fatal("an unthrottled (0 Mbps ceiling) throttler must never report ExceedsWith")
	}
}

func TestRateThrottlerPrepareAndConsume(t *testing.T) {
	rt := NewRateThrottler("test", 0, 200, true, nil)
	packets := []Packet{
		{Seq: 1, Offset: 0, Length: 100, Payload: make([]byte, 100)},
		{Seq: 1, Offset: 1, Length: 100, Payload: make([]byte, 100)},
	}
	rt.Prepare(packets)

	var consumed []Packet
	for {
		result := rt.TryConsume(func(p Packet) bool {
			consumed = append(consumed, p)
			return true
		})
		if result == ConsumeEmpty {
			break
		}
	}
	if len(consumed) != 2 {
		t.Fatalf("consumed %d packets, want 2", len(consumed))
	}
	if consumed[0].Offset != 0 || consumed[1].Offset != 1 {
		t.Fatalf("packets consumed out of FIFO order: %+v", consumed)
	}
}

func TestRateThrottlerBoundedBufferDropsTail(t *testing.T) {
	// windowSize=1 => capacity = CycledRatio*1 = 100 when finiteLoops is true.
	rt := NewRateThrottler("test", 0, 1, true, nil)
	for i := 0; i < 200; i++ {
		rt.Prepare([]Packet{{Seq: uint32(i), Length: 10, Payload: make([]byte, 10)}})
	}
	if rt.buffer.len() > 100 {
		t.Fatalf("bounded buffer grew past its capacity: %d", rt.buffer.len())
	}
}

func TestRateThrottlerUnboundedWhenInfiniteLoops(t *testing.T) {
	rt := NewRateThrottler("test", 0, 1, false, nil)
	for i := 0; i < 500; i++ {
		rt.Prepare([]Packet{{Seq: uint32(i), Length: 10, Payload: make([]byte, 10)}})
	}
	if rt.buffer.len() != 500 {
		t.Fatalf("unbounded buffer len = %d, want 500", rt.buffer.len())
	}
}

func TestRateThrottlerResetClearsState(t *testing.T) {
	rt := NewRateThrottler("test", 5, 200, true, nil)
	rt.Prepare([]Packet{{Seq: 1, Length: 10, Payload: make([]byte, 10)}})
	rt.Reset()
	if rt.buffer.len() != 0 {
		t.Fatalf("buffer not cleared by Reset: len=%d", rt.buffer.len())
	}
	if rt.LastRateMbps() != 0 {
		t.Fatalf("cached rate not cleared by Reset: %f", rt.LastRateMbps())
	}
}

func TestTimeWindowEviction(t *testing.T) {
	w := newTimeWindow(2)
	w.push(windowEntry{size: 1})
	w.push(windowEntry{size: 2})
	evicted, ok := w.push(windowEntry{size: 3})
	if !ok || evicted.size != 1 {
		t.Fatalf("expected eviction of the oldest (size=1) entry, got %+v ok=%v", evicted, ok)
	}
	if w.len() != 2 {
		t.Fatalf("window len = %d, want 2", w.len())
	}
}
