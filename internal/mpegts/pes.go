package mpegts

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasPESExtension reports whether PES packets with this stream id carry
// the optional header: private_stream_1/padding/private_stream_2, audio,
// video and the 0xFA-0xFE range.
func hasPESExtension(streamID uint8) bool {
	switch {
	case streamID >= 0xBD && streamID <= 0xBF,
		streamID >= 0xC0 && streamID <= 0xDF,
		streamID >= 0xE0 && streamID <= 0xEF,
		streamID >= 0xFA && streamID <= 0xFE:
		return true
	}
	return false
}

// decodePES parses the PES header at a payload unit start and feeds the
// elementary stream bytes into the stream's accumulator.
func (d *Demuxer) decodePES(payload []byte, pstart bool, s *stream) Code {
	if pstart {
		if len(payload) < 6 {
			return CodeTruncatedPESHeader
		}
		if !isPESPayload(payload) {
			return codeOK
		}
		streamID := payload[3]
		payload = payload[6:]

		if hasPESExtension(streamID) {
			// payload[0]: marker(2) + scrambling(2) + priority(1) + alignment(1) + copyright(1) + original(1)
			// payload[1]: PTS_DTS_indicator(2) + ESCR(1) + ES_rate(1) + DSM_trick(1) + additional_copy(1) + CRC(1) + extension(1)
			// payload[2]: PES_header_data_length
			if len(payload) < 3 {
				return CodeTruncatedExtension
			}
			headerLength := int(payload[2]) + 3
			if len(payload) < headerLength {
				return CodeTruncatedExtension
			}

			switch payload[1] & 0xC0 {
			case 0x80: // PTS only
				if headerLength >= 8 {
					pts := decodeTimestamp(payload[3:8])
					s.observe(pts, pts)
				}
			case 0xC0: // PTS + DTS
				if headerLength >= 13 {
					pts := decodeTimestamp(payload[3:8])
					dts := decodeTimestamp(payload[8:13])
					s.observe(pts, dts)
				}
			}

			payload = payload[headerLength:]
			s.streamID = streamID
			s.frameNum++
		} else {
			s.streamID = 0
		}
	}

	if s.streamID != 0 && s.content != ContentUnknown {
		s.write(payload, pstart, d.input)
	}
	return codeOK
}
