package streamreplay

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	type testcase struct {
		name string
		pkt  Packet
	}

	var testcases = []testcase{{
		name: "empty payload",
		pkt: Packet{
			Seq: 1, Offset: 0, Length: 0, Port: 9000,
			Indicator: IndicatorSNL, Timestamp: 1.5,
			Payload: []byte{},
		},
	}, {
		name: "full payload with dual-link tag",
		pkt: Packet{
			Seq: 42, Offset: 3, Length: 5, Port: 9001,
			Indicator: IndicatorDSM, Timestamp: 123456.789,
			Payload: []byte("hello"),
		},
	}}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := Encode(&tc.pkt)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(tc.pkt, *got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeShortPacket(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	if err != ErrShortPacket {
		t.Fatalf("expected ErrShortPacket, got %v", err)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	pkt := Packet{Seq: 1, Offset: 0, Length: 10, Port: 1, Indicator: IndicatorSL, Payload: make([]byte, 10)}
	buf, err := Encode(&pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = Decode(buf[:len(buf)-5])
	if err != ErrTruncatedPayload {
		t.Fatalf("expected ErrTruncatedPayload, got %v", err)
	}
}

func TestDecodeInvalidIndicator(t *testing.T) {
	pkt := Packet{Seq: 1, Port: 1, Indicator: IndicatorSL, Payload: []byte{}}
	buf, err := Encode(&pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[10] = 0xFF
	_, err = Decode(buf)
	if err != ErrInvalidIndicator {
		t.Fatalf("expected ErrInvalidIndicator, got %v", err)
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	pkt := Packet{Length: MaxPayload + 1, Payload: make([]byte, MaxPayload+1)}
	_, err := Encode(&pkt)
	if err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestChannelOf(t *testing.T) {
	type testcase struct {
		name string
		tag  Indicator
		want int
	}
	var testcases = []testcase{
		{"SNL is channel 0", IndicatorSNL, 0},
		{"DFL is channel 0", IndicatorDFL, 0},
		{"SLFL is channel 0", IndicatorSLFL, 0},
		{"DSS is channel 1", IndicatorDSS, 1},
		{"DSM is channel 1", IndicatorDSM, 1},
		{"SLSL is channel 1", IndicatorSLSL, 1},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ChannelOf(tc.tag); got != tc.want {
				t.Fatalf("ChannelOf(%s) = %d, want %d", tc.tag, got, tc.want)
			}
		})
	}
}

func TestIsOverallLast(t *testing.T) {
	for _, tag := range []Indicator{IndicatorSL, IndicatorDSS, IndicatorDSF} {
		if !IsOverallLast(tag) {
			t.Errorf("IsOverallLast(%s) = false, want true", tag)
		}
	}
	for _, tag := range []Indicator{IndicatorSNL, IndicatorDFN, IndicatorDFL, IndicatorDSM, IndicatorDSL} {
		if IsOverallLast(tag) {
			t.Errorf("IsOverallLast(%s) = true, want false", tag)
		}
	}
}
