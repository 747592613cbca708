package streamreplay

//
// Manifest (JSON) loading and validation. Ported from conf.rs's
// ConnParams/StreamParam/Manifest. See SPEC_FULL.md §6.
//

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/netreplay/streamreplay/internal/optional"
)

// infiniteDuration stands in for spec.md's [0.0, +inf] default stop time.
// A plain float64 +Inf would survive arithmetic fine but cannot round-trip
// through encoding/json, and StreamParam.MarshalJSON writes Duration back
// out; a very large but finite sentinel compares correctly against
// wall-clock durations and marshals cleanly. ~31 years comfortably exceeds
// any replay run.
const infiniteDuration = 1e9

// infiniteLoops stands in for the original's usize::MAX "run forever"
// sentinel.
const infiniteLoops = ^uint64(0)

// LinkPair is one physical link: the local (TX) interface address paired
// with the peer (RX) address it talks to.
type LinkPair struct {
	TxIPAddr string
	RxIPAddr string
}

// UnmarshalJSON accepts the manifest's ["tx_ip", "rx_ip"] two-element
// array form (spec.md §3's "Links are pairs (tx_local_ip, rx_peer_ip)").
func (lp *LinkPair) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("streamreplay: link pair must be a 2-element array: %w", err)
	}
	lp.TxIPAddr, lp.RxIPAddr = pair[0], pair[1]
	return nil
}

// MarshalJSON writes the pair back out as a 2-element array.
func (lp LinkPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{lp.TxIPAddr, lp.RxIPAddr})
}

// StreamParam is one entry of the manifest's "streams" array. It mirrors
// conf.rs's ConnParams plus the TCP/UDP type tag that original_source's
// StreamParam enum carries as a Rust sum type; here it is a plain string
// field since the wire JSON is flat (spec.md §6), not a tagged union.
type StreamParam struct {
	Type        string                     `json:"type"`
	NpyFile     string                     `json:"npy_file"`
	Port        uint16                     `json:"port"`
	Duration    [2]float64                 `json:"duration"`
	StartOffset uint64                     `json:"start_offset"`
	Loops       uint64                     `json:"loops"`
	TOS         uint8                      `json:"tos"`
	Throttle    float64                    `json:"throttle"`
	Priority    string                     `json:"priority"`
	CalcRTT     bool                       `json:"calc_rtt"`
	NoLogging   bool                       `json:"no_logging"`
	TargetRTT   optional.Value[float64]    `json:"-"`
	Links       []LinkPair                 `json:"links"`
	TxParts     []float64                  `json:"tx_parts"`
}

// streamParamWire is the wire shape used only for (un)marshaling, letting
// fields that need defaulting or optional-distinction be detected as
// "present in the JSON" vs "absent".
type streamParamWire struct {
	Type        string      `json:"type"`
	NpyFile     string      `json:"npy_file"`
	Port        *uint16     `json:"port"`
	Duration    *[2]float64 `json:"duration"`
	StartOffset *uint64     `json:"start_offset"`
	Loops       *uint64     `json:"loops"`
	TOS         uint8       `json:"tos"`
	Throttle    float64     `json:"throttle"`
	Priority    string      `json:"priority"`
	CalcRTT     bool        `json:"calc_rtt"`
	NoLogging   bool        `json:"no_logging"`
	TargetRTT   *float64    `json:"target_rtt"`
	Links       []LinkPair  `json:"links"`
	TxParts     []float64   `json:"tx_parts"`
}

// UnmarshalJSON applies conf.rs's #[serde(default = ...)] field defaults:
// a random port/start_offset when absent, [0, infiniteDuration] for
// duration, infiniteLoops for loops.
func (sp *StreamParam) UnmarshalJSON(data []byte) error {
	var wire streamParamWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	sp.Type = wire.Type
	sp.NpyFile = wire.NpyFile
	sp.TOS = wire.TOS
	sp.Throttle = wire.Throttle
	sp.Priority = wire.Priority
	sp.CalcRTT = wire.CalcRTT
	sp.NoLogging = wire.NoLogging
	sp.Links = wire.Links
	sp.TxParts = wire.TxParts

	if wire.Port != nil {
		sp.Port = *wire.Port
	} else {
		sp.Port = uint16(rand.Intn(1 << 16))
	}
	if wire.Duration != nil {
		sp.Duration = *wire.Duration
	} else {
		sp.Duration = [2]float64{0.0, infiniteDuration}
	}
	if wire.StartOffset != nil {
		sp.StartOffset = *wire.StartOffset
	} else {
		sp.StartOffset = uint64(rand.Int63())
	}
	if wire.Loops != nil {
		sp.Loops = *wire.Loops
	} else {
		sp.Loops = infiniteLoops
	}
	if wire.TargetRTT != nil {
		sp.TargetRTT = optional.Some(*wire.TargetRTT)
	} else {
		sp.TargetRTT = optional.None[float64]()
	}
	return nil
}

// MarshalJSON writes TargetRTT back out only when present.
func (sp StreamParam) MarshalJSON() ([]byte, error) {
	wire := streamParamWire{
		Type: sp.Type, NpyFile: sp.NpyFile, TOS: sp.TOS, Throttle: sp.Throttle,
		Priority: sp.Priority, CalcRTT: sp.CalcRTT, NoLogging: sp.NoLogging,
		Links: sp.Links, TxParts: sp.TxParts,
		Port: &sp.Port, Duration: &sp.Duration, StartOffset: &sp.StartOffset, Loops: &sp.Loops,
	}
	if !sp.TargetRTT.Empty() {
		v := sp.TargetRTT.Unwrap()
		wire.TargetRTT = &v
	}
	return json.Marshal(wire)
}

// Name returns the stream's identity used as its map key, log prefix and
// metric label, matching conf.rs's StreamParam::name ("{port}@{tos}").
func (sp *StreamParam) Name() string {
	return fmt.Sprintf("%d@%d", sp.Port, sp.TOS)
}

// DurationWindow returns the stream's [start, stop] offsets as durations
// relative to run start.
func (sp *StreamParam) DurationWindow() (time.Duration, time.Duration) {
	return time.Duration(sp.Duration[0] * float64(time.Second)),
		time.Duration(sp.Duration[1] * float64(time.Second))
}

// Validate clamps the stream's stop time to the run's overall duration and
// rejects the TCP variant, which spec.md §9's redesign note says is a
// future extension not implemented by this core. It also rejects a
// tx_parts/links length mismatch and more than two links. It returns
// nil, false when the stream should be dropped from the run entirely.
func (sp *StreamParam) Validate(runDuration float64) (*StreamParam, bool) {
	if sp.Type == "TCP" {
		return nil, false
	}
	if len(sp.TxParts) != len(sp.Links) {
		return nil, false
	}
	if len(sp.Links) > 2 {
		return nil, false
	}
	if sp.Duration[1] > runDuration {
		sp.Duration[1] = runDuration
	}
	return sp, true
}

// Manifest is the top-level JSON document describing every stream to
// replay, spec.md §6.
type Manifest struct {
	WindowSize   int           `json:"window_size"`
	Orchestrator string        `json:"orchestrator,omitempty"`
	Streams      []StreamParam `json:"streams"`
}

// LoadManifest reads and parses a manifest file, applying Validate to each
// stream and dropping any that fail (spec.md §7: "a trace load failure
// [or invalid config]: stream not started (filtered out of stream set)").
func LoadManifest(data []byte, runDuration float64) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("streamreplay: parsing manifest: %w", err)
	}
	kept := m.Streams[:0]
	for i := range m.Streams {
		if _, ok := m.Streams[i].Validate(runDuration); ok {
			kept = append(kept, m.Streams[i])
		}
	}
	m.Streams = kept
	return &m, nil
}
