package streamreplay

import "testing"

func TestSplitControllerSingleChannel(t *testing.T) {
	sc := NewSplitController([]float64{1.0}, []string{"10.0.0.1"})
	tags := sc.PacketTagsForBurst(4)
	want := []Indicator{IndicatorSNL, IndicatorSNL, IndicatorSNL, IndicatorSL}
	for i, tag := range tags {
		if len(tag) != 1 || tag[0] != want[i] {
			t.Fatalf("offset %d: got %v, want [%s]", i, tag, want[i])
		}
	}
}

func TestSplitControllerDualChannel(t *testing.T) {
	sc := NewSplitController([]float64{0.5, 0.5}, []string{"10.0.0.1", "10.0.0.2"})
	tags := sc.PacketTagsForBurst(4)

	for offset, tag := range tags {
		if len(tag) == 0 {
			t.Fatalf("offset %d: expected at least one tag, got none", offset)
		}
	}
	last := tags[len(tags)-1]
	foundOverallLast := false
	for _, tag := range last {
		if IsOverallLast(tag) {
			foundOverallLast = true
		}
	}
	if !foundOverallLast {
		t.Fatalf("last offset %v should carry an overall-last tag", last)
	}
}

// TestSplitControllerDualChannelOffsetPartition pins the exact per-offset
// link assignment from spec.md §8's worked examples: num=10 splits 5/5
// (link0={0..4}, link1={5..9}) and E2's num=4 splits 2/2 (link0={0,1},
// link1={2,3}). tagsFor's boundary comparisons must use the spec's
// strict inequalities to produce these splits; the original's inclusive
// ones shift a boundary offset onto the wrong link.
func TestSplitControllerDualChannelOffsetPartition(t *testing.T) {
	type testcase struct {
		name        string
		num         int
		wantChannel []int // per-offset expected ChannelOf(tags[offset][0])
	}
	var testcases = []testcase{
		{"num=10 splits 5/5", 10, []int{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}},
		{"E2 num=4 splits 2/2", 4, []int{0, 0, 1, 1}},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			sc := NewSplitController([]float64{0.5, 0.5}, []string{"10.0.0.1", "10.0.0.2"})
			tags := sc.PacketTagsForBurst(tc.num)
			for offset, want := range tc.wantChannel {
				if len(tags[offset]) == 0 {
					t.Fatalf("offset %d: expected at least one tag, got none", offset)
				}
				if got := ChannelOf(tags[offset][0]); got != want {
					t.Fatalf("offset %d: ChannelOf(%v) = %d, want link %d", offset, tags[offset][0], got, want)
				}
			}
		})
	}
}

func TestSplitControllerZeroFirstPartForcesChannel1(t *testing.T) {
	sc := NewSplitController([]float64{0, 1.0}, []string{"10.0.0.1", "10.0.0.2"})
	if got := sc.LinkAddr(IndicatorSNL); got != "10.0.0.2" {
		t.Fatalf("LinkAddr with tx_parts[0]<=0 = %q, want forced link 1 (10.0.0.2)", got)
	}
	if got := sc.LinkIndex(IndicatorSNL); got != 1 {
		t.Fatalf("LinkIndex with tx_parts[0]<=0 = %d, want 1", got)
	}
}

func TestSplitControllerSetTxPartsLengthMismatch(t *testing.T) {
	sc := NewSplitController([]float64{0.5, 0.5}, []string{"10.0.0.1", "10.0.0.2"})
	err := sc.SetTxParts([]float64{1.0})
	if err == nil {
		t.Fatal("expected an error on length mismatch")
	}
	if _, ok := err.(*ErrTxPartsLengthMismatch); !ok {
		t.Fatalf("expected *ErrTxPartsLengthMismatch, got %T", err)
	}
	// prior configuration must be preserved
	got := sc.TxParts()
	if len(got) != 2 || got[0] != 0.5 || got[1] != 0.5 {
		t.Fatalf("tx_parts mutated after rejected SetTxParts: %v", got)
	}
}

func TestSplitControllerSetTxPartsAccepted(t *testing.T) {
	sc := NewSplitController([]float64{0.5, 0.5}, []string{"10.0.0.1", "10.0.0.2"})
	if err := sc.SetTxParts([]float64{0.25, 0.75}); err != nil {
		t.Fatalf("SetTxParts: %v", err)
	}
	got := sc.TxParts()
	if got[0] != 0.25 || got[1] != 0.75 {
		t.Fatalf("tx_parts = %v, want [0.25 0.75]", got)
	}
}

func TestSplitControllerLinkAddrClampsToConfiguredLinks(t *testing.T) {
	sc := NewSplitController([]float64{1.0}, []string{"10.0.0.1"})
	// a DSx-tagged packet would normally mean channel 1, but only one link
	// is configured, so LinkAddr/LinkIndex must clamp rather than index
	// out of range.
	if got := sc.LinkAddr(IndicatorDSM); got != "10.0.0.1" {
		t.Fatalf("LinkAddr = %q, want clamp to the only configured link", got)
	}
	if got := sc.LinkIndex(IndicatorDSM); got != 0 {
		t.Fatalf("LinkIndex = %d, want 0", got)
	}
}
