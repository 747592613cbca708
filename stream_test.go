package streamreplay

import (
	"context"
	"encoding/binary"
	"os"
	"testing"
	"time"
)

// writeTestTrace writes a bare little-endian uint64-pair trace file (no
// .npy header), the same format tracefile.go falls back to.
func writeTestTrace(t *testing.T, rows []TraceRow) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "trace-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()
	for _, r := range rows {
		if err := binary.Write(f, binary.LittleEndian, r.IntervalNs); err != nil {
			t.Fatalf("writing interval: %v", err)
		}
		if err := binary.Write(f, binary.LittleEndian, r.SizeBytes); err != nil {
			t.Fatalf("writing size: %v", err)
		}
	}
	return f.Name()
}

func TestStreamManagerLifecycle(t *testing.T) {
	tracePath := writeTestTrace(t, []TraceRow{
		{IntervalNs: 1_000_000, SizeBytes: 64},
		{IntervalNs: 1_000_000, SizeBytes: 128},
	})

	params := StreamParam{
		Type:      "UDP",
		NpyFile:   tracePath,
		Port:      0,
		Duration:  [2]float64{0, 5},
		Loops:     2,
		Throttle:  0,
		TOS:       0,
		NoLogging: true,
		Links:     []LinkPair{{TxIPAddr: "127.0.0.1", RxIPAddr: "127.0.0.1"}},
		TxParts:   []float64{1.0},
	}

	sm, err := NewStreamManager(params, 50, nil, &internalNullLogger{})
	if err != nil {
		t.Fatalf("NewStreamManager: %v", err)
	}
	defer sm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sm.Run(ctx)

	now := time.Now()
	if sm.Active(now.Add(-time.Hour)) {
		t.Fatal("stream reported active before its start offset")
	}

	time.Sleep(50 * time.Millisecond)
	stats := sm.Statistics()
	if len(stats.TxParts) != 1 || stats.TxParts[0] != 1.0 {
		t.Fatalf("Statistics().TxParts = %v, want [1.0]", stats.TxParts)
	}

	if err := sm.SetTxParts([]float64{0.5, 0.5}); err == nil {
		t.Fatal("SetTxParts with a mismatched length against a single configured link should fail")
	}
}

func TestStreamParamValidateRejectsMismatchedTxParts(t *testing.T) {
	tracePath := writeTestTrace(t, []TraceRow{{IntervalNs: 1, SizeBytes: 10}})
	params := StreamParam{
		Type:     "UDP",
		NpyFile:  tracePath,
		Duration: [2]float64{0, 1},
		Loops:    1,
		Links:    []LinkPair{{TxIPAddr: "127.0.0.1", RxIPAddr: "127.0.0.1"}},
		TxParts:  []float64{0.5, 0.5}, // mismatched against a single link
	}
	if _, ok := params.Validate(10); ok {
		t.Fatal("Validate should reject a tx_parts/links length mismatch")
	}
}
