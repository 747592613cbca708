package streamreplay

import (
	"testing"
	"time"
)

func TestClassifyTOS(t *testing.T) {
	type testcase struct {
		name string
		bits uint8 // top 3 bits, 0-7
		want AccessCategory
	}
	var testcases = []testcase{
		{"0b000 is best effort", 0b000, AccessCategoryBE},
		{"0b011 is best effort", 0b011, AccessCategoryBE},
		{"0b001 is background", 0b001, AccessCategoryBK},
		{"0b010 is background", 0b010, AccessCategoryBK},
		{"0b100 is video", 0b100, AccessCategoryVI},
		{"0b101 is video", 0b101, AccessCategoryVI},
		{"0b110 is voice", 0b110, AccessCategoryVO},
		{"0b111 is voice", 0b111, AccessCategoryVO},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			tos := tc.bits << 5
			if got := ClassifyTOS(tos); got != tc.want {
				t.Fatalf("ClassifyTOS(%08b) = %v, want %v", tos, got, tc.want)
			}
		})
	}
}

func TestBrokerSweepsHighestPriorityFirst(t *testing.T) {
	b := NewBroker()
	out := make(chan Packet, 16)

	bkIn := b.Add(AccessCategoryBK, out)
	voIn := b.Add(AccessCategoryVO, out)

	// enqueue the low-priority app's packets first, then the high-priority
	// app's, so any ordering seen on out reflects sweep priority, not
	// arrival order.
	bkIn <- Packet{Seq: 1}
	bkIn <- Packet{Seq: 2}
	voIn <- Packet{Seq: 100}

	b.Run()
	defer b.Close()

	var got []uint32
	timeout := time.After(time.Second)
	for len(got) < 3 {
		select {
		case p := <-out:
			got = append(got, p.Seq)
		case <-timeout:
			t.Fatalf("timed out waiting for forwarded packets, got %v so far", got)
		}
	}

	if got[0] != 100 {
		t.Fatalf("first forwarded packet seq = %d, want the AC_VO packet (100) forwarded before AC_BK", got[0])
	}
}

func TestBrokerDropsAppWhenOutChannelCloses(t *testing.T) {
	b := NewBroker()
	out := make(chan Packet)
	close(out)

	in := b.Add(AccessCategoryBE, out)
	b.Run()
	defer b.Close()

	in <- Packet{Seq: 1}
	// drainClass should observe the closed channel via forward's recover
	// and remove the app rather than panicking the sweep goroutine; give
	// it time to do so, then confirm the broker is still alive by adding
	// a working app afterward.
	time.Sleep(50 * time.Millisecond)

	out2 := make(chan Packet, 1)
	in2 := b.Add(AccessCategoryBE, out2)
	in2 <- Packet{Seq: 2}

	select {
	case p := <-out2:
		if p.Seq != 2 {
			t.Fatalf("forwarded packet seq = %d, want 2", p.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("broker sweep goroutine appears to have died after a closed-channel app")
	}
}
