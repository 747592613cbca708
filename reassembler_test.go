package streamreplay

import "testing"

// fakeAckSender records every ACK it is asked to send, for assertions.
type fakeAckSender struct {
	sent []Packet
}

func (f *fakeAckSender) SendAck(dstIP string, port int, p Packet) error {
	f.sent = append(f.sent, p)
	return nil
}

func TestReassemblerSingleLinkBurstCompletesAndAcks(t *testing.T) {
	ack := &fakeAckSender{}
	re := NewReassembler(true, false, ack, nil, &internalNullLogger{})

	re.Ingest(Packet{Seq: 1, Offset: 0, Length: 10, Indicator: IndicatorSNL, Payload: make([]byte, 10)}, "10.0.0.1", 9000)
	_, delivered := re.Ingest(Packet{Seq: 1, Offset: 1, Length: 10, Indicator: IndicatorSL, Payload: make([]byte, 10)}, "10.0.0.1", 9000)
	if delivered {
		t.Fatal("rx_mode is false, Ingest must never report delivered")
	}

	stats := re.Snapshot()
	if stats.Received != 1 {
		t.Fatalf("received = %d, want 1", stats.Received)
	}
	if len(ack.sent) != 1 {
		t.Fatalf("expected exactly one ACK for a single-link burst, got %d", len(ack.sent))
	}
	if ack.sent[0].Indicator != IndicatorSLFL {
		t.Fatalf("single-link burst ACK indicator = %s, want SLFL (whole burst complete)", ack.sent[0].Indicator)
	}
}

func TestReassemblerDualLinkEmitsTwoHalfAcks(t *testing.T) {
	ack := &fakeAckSender{}
	re := NewReassembler(true, false, ack, nil, &internalNullLogger{})

	// channel 0 half completes first...
	re.Ingest(Packet{Seq: 7, Offset: 0, Length: 10, Indicator: IndicatorDFL, Payload: make([]byte, 10)}, "10.0.0.1", 9000)
	if len(ack.sent) != 1 || ack.sent[0].Indicator != IndicatorDFL {
		t.Fatalf("first-half ack = %+v, want a single DFL ack (second half still pending)", ack.sent)
	}

	// ...then channel 1's only fragment, which is also the overall last.
	re.Ingest(Packet{Seq: 7, Offset: 1, Length: 10, Indicator: IndicatorDSS, Payload: make([]byte, 10)}, "10.0.0.2", 9000)
	if len(ack.sent) != 2 {
		t.Fatalf("expected two acks total after both halves complete, got %d", len(ack.sent))
	}
	if ack.sent[1].Indicator != IndicatorSLSL {
		t.Fatalf("second-half ack indicator = %s, want SLSL (burst now fully complete)", ack.sent[1].Indicator)
	}
}

func TestReassemblerAckSentOnceEachHalf(t *testing.T) {
	ack := &fakeAckSender{}
	re := NewReassembler(true, false, ack, nil, &internalNullLogger{})

	p := Packet{Seq: 3, Offset: 0, Length: 10, Indicator: IndicatorSL, Payload: make([]byte, 10)}
	re.Ingest(p, "10.0.0.1", 9000)
	// a duplicate/retransmitted delivery of the same completing fragment
	// must not emit a second ACK.
	re.Ingest(p, "10.0.0.1", 9000)
	if len(ack.sent) != 1 {
		t.Fatalf("expected exactly one ack despite duplicate delivery, got %d", len(ack.sent))
	}
}

func TestReassemblerLossRate(t *testing.T) {
	s := Stats{LastSeq: 0, Received: 0}
	if s.LossRate() != 0 {
		t.Fatalf("LossRate with LastSeq=0 = %f, want 0 (avoid divide by zero)", s.LossRate())
	}
	s = Stats{LastSeq: 10, Received: 8}
	if got, want := s.LossRate(), 0.2; got != want {
		t.Fatalf("LossRate = %f, want %f", got, want)
	}
}

// internalNullLogger is a minimal no-op Logger for tests that need one but
// don't want to depend on the cmd-side adapters.
type internalNullLogger struct{}

func (internalNullLogger) Debug(string)          {}
func (internalNullLogger) Debugf(string, ...any) {}
func (internalNullLogger) Info(string)           {}
func (internalNullLogger) Infof(string, ...any)  {}
func (internalNullLogger) Warn(string)           {}
func (internalNullLogger) Warnf(string, ...any)  {}
func (internalNullLogger) Error(string)          {}
func (internalNullLogger) Errorf(string, ...any) {}
