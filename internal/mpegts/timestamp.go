package mpegts

// maxTimestamp is the largest 33-bit PTS/DTS value.
const maxTimestamp = 1<<33 - 1

// decodeTimestamp extracts a 33-bit PTS or DTS from the 5-byte field at
// the start of bs. The marker bits are discarded.
func decodeTimestamp(bs []byte) uint64 {
	_ = bs[4]
	return uint64(bs[0]&0x0E)<<29 |
		uint64(bs[1])<<22 |
		uint64(bs[2]&0xFE)<<14 |
		uint64(bs[3])<<7 |
		uint64(bs[4]&0xFE)>>1
}
