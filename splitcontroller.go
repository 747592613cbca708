package streamreplay

//
// Split/redundancy controller: maps (offset, num) within a burst to the
// set of indicator tags that burst's fragment should carry, and maps an
// indicator back to the destination link IP address.
//
// Ported from tx_part_ctl.rs's TxPartCtler, generalized from the
// original's hard requirement of exactly two tx_ipaddrs to this repo's
// configured link list, capped at two links per spec.md §4.2 (a
// SplitController built with more than two links is rejected at
// validation time, see conf.go). The dual-channel offset boundaries use
// spec.md §4.2's strict inequalities, not tx_part_ctl.rs's inclusive
// ones: the two disagree at the split boundary, and spec.md §8's worked
// examples (num=10 and num=4, tx_parts=[0.5,0.5]) settle it in favor of
// the spec.
//

import (
	"fmt"
	"sync"
)

// SplitController decides, for each fragment of a burst, which of the
// (at most two) configured links it should be sent on, and with which
// Indicator. It is exclusively owned by one stream's source goroutine but
// its tx_parts may be updated concurrently by the IPC goroutine, hence the
// mutex — per spec.md §4.2, updates must only take effect between bursts,
// which the source goroutine guarantees by reading tx_parts only once per
// burst (through PacketTagsForBurst), before fragmenting it.
type SplitController struct {
	mu      sync.RWMutex
	txParts []float64
	links   []string // tx_ipaddr per link index, same order as tx_parts
}

// NewSplitController builds a controller for the given tx_parts/links
// pair. len(txParts) must equal len(links); the caller (conf.go's
// validation) is responsible for enforcing this before construction since
// a stream descriptor with mismatched lengths never reaches here.
func NewSplitController(txParts []float64, links []string) *SplitController {
	sc := &SplitController{
		txParts: append([]float64(nil), txParts...),
		links:   append([]string(nil), links...),
	}
	return sc
}

// ErrTxPartsLengthMismatch is returned by SetTxParts when the replacement
// slice's length does not match the configured link count.
type ErrTxPartsLengthMismatch struct {
	Got, Want int
}

func (e *ErrTxPartsLengthMismatch) Error() string {
	return fmt.Sprintf("streamreplay: tx_parts length mismatch: got %d, want %d", e.Got, e.Want)
}

// SetTxParts reconfigures the split ratios. It rejects a length mismatch,
// preserving the prior configuration (spec.md §4.2, §7). Callers (the IPC
// goroutine) may call this at any time; the contract that the change only
// becomes visible between bursts is upheld because the source goroutine
// only calls TxParts/PacketTagsForBurst once at the start of each burst.
func (sc *SplitController) SetTxParts(txParts []float64) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(txParts) != len(sc.links) {
		return &ErrTxPartsLengthMismatch{Got: len(txParts), Want: len(sc.links)}
	}
	sc.txParts = append([]float64(nil), txParts...)
	return nil
}

// TxParts returns a snapshot of the current split ratios.
func (sc *SplitController) TxParts() []float64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return append([]float64(nil), sc.txParts...)
}

// singleChannel implements spec.md §4.2's single_channel predicate.
func singleChannel(txParts []float64, num int) bool {
	if len(txParts) < 2 {
		return true
	}
	if txParts[1]*float64(num) <= 0 {
		return true
	}
	if float64(num-1) < txParts[0]*float64(num) {
		return true
	}
	return false
}

// tagsFor computes the 1 or 2 indicator tags for one offset against an
// already-captured tx_parts snapshot. Two tags means the fragment lands in
// the redundancy region and is sent on both links.
func tagsFor(txParts []float64, offset uint16, num int) []Indicator {
	if singleChannel(txParts, num) {
		if int(offset) == num-1 {
			return []Indicator{IndicatorSL}
		}
		return []Indicator{IndicatorSNL}
	}

	txPartCh0 := txParts[0] * float64(num)
	txPartCh1 := txParts[1] * float64(num)
	o := float64(offset)

	isCh0 := o < txPartCh0
	isCh1 := o >= txPartCh1
	isLastCh0 := o >= txPartCh0-1.0
	isFirstCh1 := o == float64(num)-1.0
	isLastCh1 := o < txPartCh1+1.0

	var tags []Indicator
	if isCh0 {
		if isLastCh0 {
			tags = append(tags, IndicatorDFL)
		} else {
			tags = append(tags, IndicatorDFN)
		}
	}
	if isCh1 {
		switch {
		case isLastCh1 && isFirstCh1:
			tags = append(tags, IndicatorDSS)
		case isFirstCh1:
			tags = append(tags, IndicatorDSF)
		case isLastCh1:
			tags = append(tags, IndicatorDSL)
		default:
			tags = append(tags, IndicatorDSM)
		}
	}
	return tags
}

// PacketTags returns the indicator tags for a single fragment. See tagsFor.
func (sc *SplitController) PacketTags(offset uint16, num int) []Indicator {
	sc.mu.RLock()
	txParts := sc.txParts
	sc.mu.RUnlock()
	return tagsFor(txParts, offset, num)
}

// PacketTagsForBurst returns PacketTags for every offset 0..num-1, computed
// against a single snapshot of tx_parts so a concurrent SetTxParts call
// cannot produce an inconsistent tagging within one burst.
func (sc *SplitController) PacketTagsForBurst(num int) [][]Indicator {
	sc.mu.RLock()
	txParts := append([]float64(nil), sc.txParts...)
	sc.mu.RUnlock()

	results := make([][]Indicator, num)
	for offset := 0; offset < num; offset++ {
		results[offset] = tagsFor(txParts, uint16(offset), num)
	}
	return results
}

// LinkAddr returns the tx_ipaddr that a packet carrying the given
// indicator should be sent from/through. tx_parts[0] <= 0 forces every
// packet onto link index 1 regardless of its computed channel — preserved
// from the original implementation, flagged non-obvious per spec.md §9(c).
func (sc *SplitController) LinkAddr(ind Indicator) string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	channel := ChannelOf(ind)
	if len(sc.txParts) >= 2 && sc.txParts[0] <= 0 {
		channel = 1
	}
	if channel >= len(sc.links) {
		channel = len(sc.links) - 1
	}
	return sc.links[channel]
}

// LinkIndex is like LinkAddr but returns the configured link's index
// rather than its address; used by the dispatcher to pick a worker queue.
func (sc *SplitController) LinkIndex(ind Indicator) int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	channel := ChannelOf(ind)
	if len(sc.txParts) >= 2 && sc.txParts[0] <= 0 {
		channel = 1
	}
	if channel >= len(sc.links) {
		channel = len(sc.links) - 1
	}
	return channel
}
