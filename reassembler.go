package streamreplay

//
// Receiver reassembler: tracks per-seq fragment sets, detects early
// per-channel completion, and emits ACKs back toward whichever sender IP
// delivered the triggering fragment. Ported field-for-field from
// rx/record.rs's RecvRecord and rx/destination.rs's handle_rtt. See
// SPEC_FULL.md §4.6.
//

import (
	"net"
	"sync"
)

// recvOffsets mirrors rx/record.rs's RecvOffsets: the last-seen offset
// for each role this burst has reported, nil meaning "not yet seen".
type recvOffsets struct {
	sl, dfl, dsf, dsl *uint16
}

// recvComplete mirrors RecvComplete.
type recvComplete struct {
	slComplete, ch1Complete, ch2Complete bool
}

// recvRecord is the reassembly state for one burst (one seq), owned
// exclusively by the reassembler goroutine.
type recvRecord struct {
	fragments map[uint16]Packet
	ackSent   [2]bool // index 0: first-link half, index 1: second-link half
	offsets   recvOffsets
	complete  recvComplete
}

func newRecvRecord() *recvRecord {
	return &recvRecord{fragments: make(map[uint16]Packet)}
}

// record ingests one fragment, updating role offsets and recomputing
// completion, matching RecvRecord::record.
func (r *recvRecord) record(p Packet) {
	offset := p.Offset
	switch p.Indicator {
	case IndicatorSL:
		r.offsets.sl = &offset
	case IndicatorDFL:
		r.offsets.dfl = &offset
	case IndicatorDSF:
		r.offsets.dsf = &offset
	case IndicatorDSL:
		r.offsets.dsl = &offset
	case IndicatorDSS:
		r.offsets.dsf = &offset
		r.offsets.dsl = &offset
	}
	r.fragments[p.Offset] = p
	r.complete = r.determineComplete()
}

// isRangeComplete reports whether fragments holds every offset in
// [lo, hi] inclusive.
func isRangeComplete(fragments map[uint16]Packet, lo, hi uint16) bool {
	if lo > hi {
		return false
	}
	for i := lo; ; i++ {
		if _, ok := fragments[i]; !ok {
			return false
		}
		if i == hi {
			return true
		}
	}
}

// determineComplete mirrors RecvRecord::determine_complete exactly.
func (r *recvRecord) determineComplete() recvComplete {
	if r.offsets.sl != nil && isRangeComplete(r.fragments, 0, *r.offsets.sl) {
		return recvComplete{slComplete: true}
	}
	ch1 := r.offsets.dfl != nil && isRangeComplete(r.fragments, 0, *r.offsets.dfl)
	ch2 := false
	if r.offsets.dsf != nil && r.offsets.dsl != nil {
		ch2 = isRangeComplete(r.fragments, *r.offsets.dsl, *r.offsets.dsf)
	}
	return recvComplete{ch1Complete: ch1, ch2Complete: ch2}
}

// isComplete mirrors RecvRecord::is_complete.
func (r *recvRecord) isComplete() bool {
	return r.complete.slComplete || (r.complete.ch1Complete && r.complete.ch2Complete)
}

// isFirstAck mirrors RecvRecord::is_fst_ack.
func (r *recvRecord) isFirstAck() bool {
	return !r.ackSent[0] && (r.complete.slComplete || r.complete.ch1Complete)
}

// isSecondAck mirrors RecvRecord::is_scd_ack.
func (r *recvRecord) isSecondAck() bool {
	return !r.ackSent[1] && r.complete.ch2Complete
}

// gather reassembles the burst's payload in offset order. Only used when
// the reassembler is asked to deliver payloads upstream (rx_mode in the
// original); most statistics-only runs never call this.
func (r *recvRecord) gather() []byte {
	var data []byte
	for i := uint16(0); i < uint16(len(r.fragments)); i++ {
		p, ok := r.fragments[i]
		if !ok {
			break
		}
		data = append(data, p.Payload[:p.Length]...)
	}
	return data
}

// AckSender sends an ACK packet toward dstIP:port. Implemented by a
// *net.UDPConn wrapper in cmd/rx; kept as an interface so the reassembler
// is independently testable.
type AckSender interface {
	SendAck(dstIP string, port int, p Packet) error
}

// udpAckSender is a package-internal AckSender over a single UDP socket
// shared by every ACK send, addressed fresh per call since the peer IP
// varies by which link delivered the fragment. cmd/rx cannot reach this
// unexported type and wires its own equivalent, exportedAckSender.
type udpAckSender struct {
	conn *net.UDPConn
}

func newUDPAckSender(conn *net.UDPConn) *udpAckSender {
	return &udpAckSender{conn: conn}
}

func (s *udpAckSender) SendAck(dstIP string, port int, p Packet) error {
	buf, err := Encode(&p)
	if err != nil {
		return err
	}
	addr := &net.UDPAddr{IP: net.ParseIP(dstIP), Port: port}
	_, err = s.conn.WriteTo(buf, addr)
	return err
}

// ackPortOffset is PONG_PORT_INC in the original: ACKs are echoed back
// to the sender's original port plus this offset.
const ackPortOffset = 1024

// Reassembler owns the per-seq recvRecord map for one RX stream and the
// statistics counters spec.md §4.6/§4.8 read off it. Single-writer: only
// the receive goroutine calls Ingest.
type Reassembler struct {
	mu       sync.Mutex // guards the counters IPC/statistics reads concurrently
	records  map[uint32]*recvRecord
	lastSeq  uint32
	received uint32
	dataLen  uint64

	calcRTT bool
	rxMode  bool
	ack     AckSender

	stutter *StutterTracker
	logger  Logger
}

// NewReassembler constructs a reassembler. ack may be nil when calcRTT is
// false (no ACKs are ever emitted in that mode).
func NewReassembler(calcRTT, rxMode bool, ack AckSender, stutter *StutterTracker, logger Logger) *Reassembler {
	return &Reassembler{
		records: make(map[uint32]*recvRecord),
		calcRTT: calcRTT,
		rxMode:  rxMode,
		ack:     ack,
		stutter: stutter,
		logger:  logger,
	}
}

// Ingest processes one inbound datagram already decoded into p, arriving
// from srcIP on the data socket, and whose declared port (echoed in the
// packet) is the stream's base port.
func (re *Reassembler) Ingest(p Packet, srcIP string, basePort int) (payload []byte, delivered bool) {
	re.mu.Lock()
	if p.Seq > re.lastSeq {
		re.lastSeq = p.Seq
	}
	re.dataLen += uint64(HeaderLength) + uint64(p.Length)
	re.mu.Unlock()

	if re.stutter != nil {
		re.stutter.Observe()
	}

	if !re.calcRTT {
		return nil, false
	}

	re.mu.Lock()
	record, ok := re.records[p.Seq]
	if !ok {
		record = newRecvRecord()
		re.records[p.Seq] = record
	}
	record.record(p)
	fstAck, scdAck := record.isFirstAck(), record.isSecondAck()
	complete := record.isComplete()
	re.mu.Unlock()

	if fstAck || scdAck {
		re.sendAck(record, p, srcIP, basePort, fstAck)
	}

	if complete {
		re.mu.Lock()
		if re.rxMode {
			payload = record.gather()
			delivered = true
		}
		delete(re.records, p.Seq)
		re.received++
		re.mu.Unlock()
	}

	return payload, delivered
}

// sendAck marks the appropriate ack_sent slot and emits the ACK datagram,
// rewriting the indicator byte per spec.md §4.6/§6: DFL (or SLFL when the
// whole burst is already complete) for the first-link half, DSL/SLSL for
// the second.
func (re *Reassembler) sendAck(record *recvRecord, p Packet, srcIP string, basePort int, firstHalf bool) {
	var tag Indicator
	if firstHalf {
		record.ackSent[0] = true
		if record.isComplete() {
			tag = IndicatorSLFL
		} else {
			tag = IndicatorDFL
		}
	} else {
		record.ackSent[1] = true
		if record.isComplete() {
			tag = IndicatorSLSL
		} else {
			tag = IndicatorDSL
		}
	}

	ack := p
	ack.Indicator = tag
	if re.ack == nil {
		return
	}
	if err := re.ack.SendAck(srcIP, basePort+ackPortOffset, ack); err != nil && !isWouldBlock(err) {
		re.logger.Warnf("streamreplay: ack send to %s: %s", srcIP, err.Error())
	}
}

// Stats is a consistent snapshot of the reassembler's counters, read by
// the IPC Statistics command.
type Stats struct {
	LastSeq  uint32
	Received uint32
	DataLen  uint64
}

// Snapshot returns the current counters.
func (re *Reassembler) Snapshot() Stats {
	re.mu.Lock()
	defer re.mu.Unlock()
	return Stats{LastSeq: re.lastSeq, Received: re.received, DataLen: re.dataLen}
}

// LossRate computes (last_seq - received) / last_seq, spec.md §4.8. A
// last_seq of 0 (no bursts yet observed) reports zero loss rather than
// dividing by zero.
func (s Stats) LossRate() float64 {
	if s.LastSeq == 0 {
		return 0
	}
	return float64(s.LastSeq-s.Received) / float64(s.LastSeq)
}
