package mpegts

import (
	"testing"

	"github.com/zsiec/tsdemux/test/tools/tsutil"
)

func TestDecodeTimestamp_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value uint64
	}{
		{name: "zero", value: 0},
		{name: "one second", value: 90000},
		{name: "low bits", value: 0x7F},
		{name: "bit 15 boundary", value: 1 << 15},
		{name: "bit 30 boundary", value: 1 << 30},
		{name: "above 32 bits", value: 1<<32 + 12345},
		{name: "max 33-bit", value: maxTimestamp},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			for _, prefix := range []byte{0x01, 0x02, 0x03} {
				got := decodeTimestamp(tsutil.EncodeTimestamp(prefix, tc.value))
				if got != tc.value {
					t.Errorf("decodeTimestamp(prefix %d) = %d, want %d", prefix, got, tc.value)
				}
			}
		})
	}
}

func TestDecodeTimestamp_IgnoresMarkerBits(t *testing.T) {
	t.Parallel()
	bs := tsutil.EncodeTimestamp(0x02, 2790000)
	bs[0] ^= 0x01
	bs[2] ^= 0x01
	bs[4] ^= 0x01
	if got := decodeTimestamp(bs); got != 2790000 {
		t.Errorf("decodeTimestamp = %d, want 2790000", got)
	}
}

func FuzzDecodeTimestamp(f *testing.F) {
	f.Add(uint64(0))
	f.Add(uint64(90000))
	f.Add(uint64(maxTimestamp))

	f.Fuzz(func(t *testing.T, v uint64) {
		v &= maxTimestamp
		if got := decodeTimestamp(tsutil.EncodeTimestamp(0x02, v)); got != v {
			t.Fatalf("decodeTimestamp = %d, want %d", got, v)
		}
	})
}
