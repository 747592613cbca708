package streamreplay

//
// Stream manager: the lifecycle of one logical stream, wiring together
// its split controller, throttler, RTT recorder, link dispatcher and
// source engine, and exposing the StreamHandle surface the control plane
// drives. Ported from source.rs's SourceManager. See SPEC_FULL.md §4,
// §9's "global mutable state -> single engine handle" note.
//

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StreamManager owns every per-stream resource and tears all of it down
// deterministically on Close, matching spec.md §9's resource-scoping
// note.
type StreamManager struct {
	name   string
	params StreamParam

	split      *SplitController
	throttler  *RateThrottler
	dispatcher *LinkDispatcher
	rtt        *RTTRecorder // nil when params.CalcRTT is false
	source     *SourceEngine

	startTimestamp time.Time
	stopTimestamp  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger Logger
}

// NewStreamManager constructs every resource a stream needs but does not
// start its goroutines; call Run for that.
func NewStreamManager(params StreamParam, windowSize int, sink TelemetrySink, logger Logger) (*StreamManager, error) {
	name := params.Name()

	trace, err := LoadTrace(params.NpyFile)
	if err != nil {
		return nil, fmt.Errorf("streamreplay: stream %s: loading trace: %w", name, err)
	}

	txAddrs := make([]string, len(params.Links))
	peerAddrs := make([]string, len(params.Links))
	for i, lp := range params.Links {
		txAddrs[i] = lp.TxIPAddr
		peerAddrs[i] = lp.RxIPAddr
	}

	split := NewSplitController(params.TxParts, txAddrs)
	throttler := NewRateThrottler(name, params.Throttle, windowSize, params.Loops != infiniteLoops, sink)

	dispatcher, err := NewLinkDispatcher(params.Links, params.TOS, logger)
	if err != nil {
		return nil, fmt.Errorf("streamreplay: stream %s: %w", name, err)
	}

	var rtt *RTTRecorder
	if params.CalcRTT && len(params.Links) > 0 {
		targetRTT := params.TargetRTT.UnwrapOr(targetRTTUnset)
		rtt, err = NewRTTRecorder(name, params.Port, len(params.Links), targetRTT, params.Links[0].TxIPAddr, logger)
		if err != nil {
			dispatcher.Close()
			return nil, fmt.Errorf("streamreplay: stream %s: %w", name, err)
		}
	}

	var reporter RTTReporter
	if rtt != nil {
		reporter = rtt
	}
	source := NewSourceEngine(name, params.Port, trace, params.StartOffset, params.Loops, throttler, split, dispatcher, peerAddrs, reporter, logger)

	return &StreamManager{
		name: name, params: params,
		split: split, throttler: throttler, dispatcher: dispatcher, rtt: rtt, source: source,
		logger: logger,
	}, nil
}

// targetRTTUnset stands in for "no target_rtt configured": every RTT
// sample is then below threshold, so outage_rate reports 0 rather than
// dividing against an arbitrary default.
const targetRTTUnset = 1 << 30 // seconds; unreachable in practice

// Run starts the stream's goroutines (RTT worker pair, source engine) and
// blocks only long enough to record the run's [start, stop) window; the
// goroutines themselves continue until ctx is cancelled or the stream's
// own duration elapses.
func (sm *StreamManager) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	sm.cancel = cancel

	startDelay, stopDelay := sm.params.DurationWindow()
	sm.startTimestamp = time.Now().Add(startDelay)
	sm.stopTimestamp = time.Now().Add(stopDelay)

	if sm.rtt != nil {
		sm.rtt.Start()
	}

	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		sm.source.Run(runCtx, startDelay, sm.stopTimestamp)
	}()
}

// SetThrottle implements StreamHandle.
func (sm *StreamManager) SetThrottle(mbps float64) {
	sm.throttler.SetThrottle(mbps)
	if sm.rtt != nil {
		// the original resets every stream's RTT records on any Throttle
		// command; here that only makes sense scoped to this stream.
		sm.rtt.ResetSamples()
	}
}

// SetTxParts implements StreamHandle.
func (sm *StreamManager) SetTxParts(parts []float64) error {
	return sm.split.SetTxParts(parts)
}

// Active implements StreamHandle: spec.md §4.9 restricts Statistics
// replies to streams currently inside [start, stop].
func (sm *StreamManager) Active(now time.Time) bool {
	return !now.Before(sm.startTimestamp) && !now.After(sm.stopTimestamp)
}

// Statistics implements StreamHandle.
func (sm *StreamManager) Statistics() StreamStatistics {
	stats := StreamStatistics{
		Throughput: sm.throttler.LastRateMbps(),
		TxParts:    sm.split.TxParts(),
	}
	if sm.rtt != nil {
		r := sm.rtt.Statistics()
		stats.RTT = r.RTT
		stats.ChannelRTTs = r.ChannelRTTs
		stats.OutageRate = r.OutageRate
		stats.ChOutageRates = r.ChOutageRate
	}
	return stats
}

// Close tears down the stream's resources in dependency order: source
// goroutine first (it is the only producer into throttler/dispatcher),
// then the RTT worker pair, then the link sockets.
func (sm *StreamManager) Close() error {
	if sm.cancel != nil {
		sm.cancel()
	}
	sm.wg.Wait()
	if sm.rtt != nil {
		sm.rtt.Close()
	}
	return sm.dispatcher.Close()
}
