// Package tsutil builds synthetic MPEG-TS streams for tests and the tools
// under test/tools, and offers an independent PES collector to cross-check
// demuxer output.
package tsutil

// TSPacketSize is the fixed size of an MPEG-TS packet.
const TSPacketSize = 188

// maxPayload is the payload capacity of a packet without adaptation field.
const maxPayload = TSPacketSize - 4

// Well-known stream types and PES stream ids.
const (
	StreamTypeH264 = 0x1B
	StreamTypeAAC  = 0x0F
	StreamTypeAC3  = 0x81

	StreamIDVideo = 0xE0
	StreamIDAudio = 0xC0
)

// Packet builds one 188-byte TS packet. Payloads shorter than 184 bytes are
// padded with an adaptation field so the payload ends the packet; longer
// payloads are truncated.
func Packet(pid uint16, cc byte, pusi bool, payload []byte) []byte {
	pkt := make([]byte, TSPacketSize)
	pkt[0] = 0x47
	pkt[1] = byte(pid>>8) & 0x1F
	pkt[2] = byte(pid)
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[3] = 0x10 | (cc & 0x0F)

	if len(payload) >= maxPayload {
		copy(pkt[4:], payload[:maxPayload])
		return pkt
	}

	stuffLen := maxPayload - len(payload)
	pkt[3] |= 0x20
	pkt[4] = byte(stuffLen - 1)
	if stuffLen > 1 {
		pkt[5] = 0
		for i := 6; i < 4+stuffLen; i++ {
			pkt[i] = 0xFF
		}
	}
	copy(pkt[4+stuffLen:], payload)
	return pkt
}

// Packetize splits payload into TS packets on pid, setting the payload unit
// start indicator on the first one and advancing cc between packets.
func Packetize(payload []byte, pid uint16, cc *byte) []byte {
	var result []byte
	first := true
	for offset := 0; first || offset < len(payload); {
		end := min(offset+maxPayload, len(payload))
		result = append(result, Packet(pid, *cc, first, payload[offset:end])...)
		*cc = (*cc + 1) & 0x0F
		offset = end
		first = false
	}
	return result
}

// EncodeTimestamp encodes a 33-bit PTS/DTS value into the 5-byte PES
// layout with the given 4-bit prefix and marker bits.
func EncodeTimestamp(prefix byte, value uint64) []byte {
	bs := make([]byte, 5)
	bs[0] = prefix<<4 | byte((value>>29)&0x0E) | 0x01
	bs[1] = byte(value >> 22)
	bs[2] = byte((value>>14)&0xFE) | 0x01
	bs[3] = byte(value >> 7)
	bs[4] = byte((value<<1)&0xFE) | 0x01
	return bs
}

// Timing selects the timestamps written into a PES header.
type Timing struct {
	PTS    uint64
	DTS    uint64
	HasPTS bool
	HasDTS bool
}

// PTS returns a Timing carrying only a PTS.
func PTS(pts uint64) Timing {
	return Timing{PTS: pts, HasPTS: true}
}

// PTSDTS returns a Timing carrying both a PTS and a DTS.
func PTSDTS(pts, dts uint64) Timing {
	return Timing{PTS: pts, DTS: dts, HasPTS: true, HasDTS: true}
}

// BuildPES builds a PES packet with the optional header. Video stream ids
// get an unbounded packet length, as encoders write them.
func BuildPES(streamID byte, t Timing, data []byte) []byte {
	var optHeader []byte
	ptsDTSIndicator := byte(0)
	switch {
	case t.HasPTS && t.HasDTS:
		ptsDTSIndicator = 3
		optHeader = append(optHeader, EncodeTimestamp(0x03, t.PTS)...)
		optHeader = append(optHeader, EncodeTimestamp(0x01, t.DTS)...)
	case t.HasPTS:
		ptsDTSIndicator = 2
		optHeader = append(optHeader, EncodeTimestamp(0x02, t.PTS)...)
	}

	packetLength := 3 + len(optHeader) + len(data)
	if streamID&0xF0 == 0xE0 || packetLength > 0xFFFF {
		packetLength = 0
	}

	buf := make([]byte, 0, 9+len(optHeader)+len(data))
	buf = append(buf, 0x00, 0x00, 0x01, streamID)
	buf = append(buf, byte(packetLength>>8), byte(packetLength))
	buf = append(buf, 0x80, ptsDTSIndicator<<6, byte(len(optHeader)))
	buf = append(buf, optHeader...)
	buf = append(buf, data...)
	return buf
}

// PESPacket holds one reassembled PES packet and the TS-packet offsets it
// came from.
type PESPacket struct {
	ESData    []byte
	PESHdr    []byte
	TSOffsets []int
}

// CollectPESPackets walks tsData looking for PES packets on pid and returns
// them reassembled, including the last one which may be incomplete.
func CollectPESPackets(tsData []byte, pid uint16) []PESPacket {
	var packets []PESPacket
	var current *PESPacket

	for off := 0; off+TSPacketSize <= len(tsData); off += TSPacketSize {
		pkt := tsData[off : off+TSPacketSize]
		if pkt[0] != 0x47 {
			continue
		}
		if (uint16(pkt[1]&0x1F)<<8)|uint16(pkt[2]) != pid {
			continue
		}

		payloadStart := pkt[1]&0x40 != 0
		headerLen := 4
		if pkt[3]&0x20 != 0 {
			headerLen = 5 + int(pkt[4])
		}
		if headerLen >= TSPacketSize {
			if current != nil {
				current.TSOffsets = append(current.TSOffsets, off)
			}
			continue
		}
		payload := pkt[headerLen:]

		if payloadStart {
			if current != nil {
				packets = append(packets, *current)
			}
			if len(payload) < 9 || payload[0] != 0 || payload[1] != 0 || payload[2] != 1 {
				current = nil
				continue
			}
			pesHdrEnd := 9 + int(payload[8])
			if pesHdrEnd > len(payload) {
				current = nil
				continue
			}
			current = &PESPacket{
				PESHdr:    append([]byte(nil), payload[:pesHdrEnd]...),
				ESData:    append([]byte(nil), payload[pesHdrEnd:]...),
				TSOffsets: []int{off},
			}
		} else if current != nil {
			current.ESData = append(current.ESData, payload...)
			current.TSOffsets = append(current.TSOffsets, off)
		}
	}
	if current != nil {
		packets = append(packets, *current)
	}
	return packets
}
