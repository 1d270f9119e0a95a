package mpegts

const (
	packetSize = 188
	syncByte   = 0x47

	pidPAT  = 0x0000
	pidNull = 0x1FFF
	pidMask = 0x1FFF

	codeOK Code = 0
)

// packetHeader contains the fields of the 4-byte transport packet header.
type packetHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	ScramblingControl         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
}

func parseHeader(buf []byte) packetHeader {
	return packetHeader{
		TransportErrorIndicator:   buf[1]&0x80 != 0,
		PayloadUnitStartIndicator: buf[1]&0x40 != 0,
		PID:                       uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		ScramblingControl:         buf[3] >> 6,
		HasAdaptationField:        buf[3]&0x20 != 0,
		HasPayload:                buf[3]&0x10 != 0,
		ContinuityCounter:         buf[3] & 0x0F,
	}
}

// demuxPacket validates one transport packet and routes its payload to the
// PAT, PMT or PES decoder depending on what the registry knows about its PID.
func (d *Demuxer) demuxPacket(buf []byte) (uint16, Code) {
	if len(buf) != packetSize {
		return 0, CodeInvalidPacketLength
	}
	if buf[0] != syncByte {
		return 0, CodeInvalidSyncByte
	}

	h := parseHeader(buf)
	if h.TransportErrorIndicator {
		return h.PID, CodeTransportError
	}
	if h.ScramblingControl != 0 {
		return h.PID, CodeScrambled
	}
	if h.PID == pidNull || !h.HasPayload {
		return h.PID, codeOK
	}

	payload := buf[4:]
	if h.HasAdaptationField {
		n := int(payload[0]) + 1
		if n > len(payload) {
			return h.PID, CodeMalformedAdaptationField
		}
		payload = payload[n:]
	}

	if h.PID == pidPAT {
		return h.PID, d.decodePAT(payload, h.PayloadUnitStartIndicator)
	}

	s := d.stream(h.PID)
	switch {
	case !s.hasProgram:
		return h.PID, codeOK
	case !s.hasType:
		return h.PID, d.decodePMT(payload, h.PayloadUnitStartIndicator, s)
	}
	return h.PID, d.decodePES(payload, h.PayloadUnitStartIndicator, s)
}
