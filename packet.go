package streamreplay

//
// Application-layer packet codec.
//
// Ported from the original implementation's packet.rs / core packet
// module: a fixed 19-byte header followed by an opaque payload, packed
// little-endian on the wire. See SPEC_FULL.md §3 and §4.1.
//

import (
	"encoding/binary"
	"errors"
	"math"
)

// MaxPayload is the largest payload a single fragment may carry. The
// original computed this as 1500 (Ethernet MTU) - 20 (IPv4) - 10 (extra
// headroom) - 10 (UDP-ish bookkeeping); we keep the same constant.
const MaxPayload = 1500 - 20 - 10 - 10

// HeaderLength is the size in bytes of the on-wire packet header.
const HeaderLength = 4 + 2 + 2 + 2 + 1 + 8

// Indicator is the 1-byte role tag carried by every packet. It encodes
// both which channel (physical link) a fragment travels on and its role
// within the burst (first, middle, last-on-link, overall-last).
type Indicator uint8

// Indicator taxonomy, spec.md §3. SLFL and SLSL only ever appear on ACKs
// (the receiver overwrites the indicator byte before echoing it back),
// never on a data-plane packet produced by the split controller.
const (
	IndicatorSNL Indicator = iota // single-link, not-last
	IndicatorSL                   // single-link, last fragment
	IndicatorDFN                  // dual-link / first-link, not-last
	IndicatorDFL                  // dual-link / first-link, last-on-this-link
	IndicatorDSS                  // dual-link / second-link, only fragment AND last of burst
	IndicatorDSF                  // dual-link / second-link, first (in tx order) and overall last
	IndicatorDSM                  // dual-link / second-link, middle
	IndicatorDSL                  // dual-link / second-link, last-on-this-link
	IndicatorSLFL                 // ACK: first-link half complete (or whole burst complete)
	IndicatorSLSL                 // ACK: second-link half complete (or whole burst complete)
)

// String returns the taxonomy name, used in log lines.
func (t Indicator) String() string {
	switch t {
	case IndicatorSNL:
		return "SNL"
	case IndicatorSL:
		return "SL"
	case IndicatorDFN:
		return "DFN"
	case IndicatorDFL:
		return "DFL"
	case IndicatorDSS:
		return "DSS"
	case IndicatorDSF:
		return "DSF"
	case IndicatorDSM:
		return "DSM"
	case IndicatorDSL:
		return "DSL"
	case IndicatorSLFL:
		return "SLFL"
	case IndicatorSLSL:
		return "SLSL"
	default:
		return "INVALID"
	}
}

// IndicatorOf and TagOf are the identity mapping between the taxonomy
// value and its on-wire byte: the wire byte IS the enum ordinal. They
// exist (rather than just casting) so that the round-trip invariant in
// spec.md §8.3 has a named pair of functions to test, and so a future
// wire-layout change only needs to touch this function pair.
func IndicatorOf(t Indicator) uint8 { return uint8(t) }

// TagOf decodes a wire byte into an Indicator. It returns ErrInvalidIndicator
// for any byte outside the known taxonomy — spec.md §7 calls this "fatal,
// a protocol-level bug", so callers are expected to panic on this error
// rather than silently drop the packet.
func TagOf(b uint8) (Indicator, error) {
	if b > uint8(IndicatorSLSL) {
		return 0, ErrInvalidIndicator
	}
	return Indicator(b), nil
}

// ChannelOf returns which physical link (0 or 1) an indicator belongs to.
// Single-link tags and first-link ACK tags are channel 0; second-link
// (DSx) tags and their ACK counterpart are channel 1.
func ChannelOf(t Indicator) int {
	switch t {
	case IndicatorDSS, IndicatorDSF, IndicatorDSM, IndicatorDSL, IndicatorSLSL:
		return 1
	default:
		return 0
	}
}

// IsOverallLast reports whether a data-plane indicator marks the last
// fragment of the whole burst (SL, DSS, or DSF per spec.md §3).
func IsOverallLast(t Indicator) bool {
	switch t {
	case IndicatorSL, IndicatorDSS, IndicatorDSF:
		return true
	default:
		return false
	}
}

// Errors returned by the codec. ErrInvalidIndicator is fatal per spec.md §7;
// the others are the "ignore and keep serving" malformed-datagram case.
var (
	ErrInvalidIndicator = errors.New("streamreplay: invalid indicator byte")
	ErrShortPacket       = errors.New("streamreplay: datagram shorter than header")
	ErrTruncatedPayload  = errors.New("streamreplay: declared length exceeds datagram size")
	ErrPayloadTooLarge   = errors.New("streamreplay: payload exceeds MaxPayload")
)

// Packet is the decoded, in-memory representation of one UDP datagram.
type Packet struct {
	Seq       uint32
	Offset    uint16
	Length    uint16
	Port      uint16
	Indicator Indicator
	Timestamp float64 // sender wall-clock seconds, opaque to the codec
	Payload   []byte  // length == Length, never more
}

// Encode serializes p into a freshly allocated byte slice of exactly
// HeaderLength+p.Length bytes, little-endian throughout.
func Encode(p *Packet) ([]byte, error) {
	if int(p.Length) > MaxPayload || len(p.Payload) < int(p.Length) {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderLength+int(p.Length))
	binary.LittleEndian.PutUint32(buf[0:4], p.Seq)
	binary.LittleEndian.PutUint16(buf[4:6], p.Offset)
	binary.LittleEndian.PutUint16(buf[6:8], p.Length)
	binary.LittleEndian.PutUint16(buf[8:10], p.Port)
	buf[10] = uint8(p.Indicator)
	binary.LittleEndian.PutUint64(buf[11:19], math.Float64bits(p.Timestamp))
	copy(buf[19:], p.Payload[:p.Length])
	return buf, nil
}

// Decode parses buf into a Packet. It is endianness-explicit and
// size-checked: a datagram shorter than the header, or one that declares
// a length longer than what actually arrived, is a decode error that the
// caller should treat as "ignore this datagram, keep serving" (spec.md §7).
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < HeaderLength {
		return nil, ErrShortPacket
	}
	length := binary.LittleEndian.Uint16(buf[6:8])
	if len(buf) < HeaderLength+int(length) {
		return nil, ErrTruncatedPayload
	}
	tag, err := TagOf(buf[10])
	if err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	copy(payload, buf[19:19+int(length)])
	return &Packet{
		Seq:       binary.LittleEndian.Uint32(buf[0:4]),
		Offset:    binary.LittleEndian.Uint16(buf[4:6]),
		Length:    length,
		Port:      binary.LittleEndian.Uint16(buf[8:10]),
		Indicator: tag,
		Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(buf[11:19])),
		Payload:   payload,
	}, nil
}
