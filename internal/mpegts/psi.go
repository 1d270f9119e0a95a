package mpegts

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02

	crcSize = 4

	// maxSectionLength bounds a reassembled PMT section, header included.
	maxSectionLength = 512
)

// sectionBuffer reassembles one PMT section spanning several packets.
// Writes are only accepted while it is waiting for bytes. started records
// that a payload unit start reached the PMT decoder at least once.
type sectionBuffer struct {
	buf     [maxSectionLength]byte
	length  int
	offset  int
	waiting bool
	started bool
}

func (b *sectionBuffer) reset(length int) {
	b.length = length
	b.offset = 0
	b.waiting = true
}

// write copies as much of p as the section still needs and reports
// whether the section is complete.
func (b *sectionBuffer) write(p []byte) bool {
	b.offset += copy(b.buf[b.offset:b.length], p)
	if b.offset < b.length {
		return false
	}
	b.waiting = false
	return true
}

func (b *sectionBuffer) bytes() []byte {
	return b.buf[:b.length]
}

// skipPointerField drops the pointer field that precedes a section in the
// first packet of a PSI payload unit.
func skipPointerField(payload []byte) ([]byte, bool) {
	if len(payload) < 1 {
		return nil, false
	}
	n := 1 + int(payload[0])
	if n > len(payload) {
		return nil, false
	}
	return payload[n:], true
}

// decodePAT registers the PMT PID of every program. The PAT must fit in
// the payload of a single packet.
func (d *Demuxer) decodePAT(payload []byte, pstart bool) Code {
	if pstart {
		var ok bool
		if payload, ok = skipPointerField(payload); !ok {
			return CodeTruncatedSection
		}
	}
	if len(payload) < 1 {
		return CodeTruncatedSection
	}
	if payload[0] != tableIDPAT {
		return codeOK
	}

	// [0]    table_id
	// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]  transport_stream_id
	// [5]    reserved(2) + version(5) + current_next(1)
	// [6]    section_number
	// [7]    last_section_number
	// [8..]  program entries (4 bytes each), CRC32
	if len(payload) < 8 {
		return CodeShortSection
	}
	if payload[1]&0xB0 != 0xB0 {
		return CodeMalformedSectionLength
	}
	sectionLength := int(payload[1]&0x0F)<<8 | int(payload[2])
	if sectionLength > len(payload)-3 {
		return CodeSectionTooLarge
	}

	entries := sectionLength - 5 - crcSize
	if entries < 0 || entries%4 != 0 {
		return CodeMisalignedProgramEntry
	}

	for off := 8; off < 8+entries; off += 4 {
		program := uint16(payload[off])<<8 | uint16(payload[off+1])
		if payload[off+2]&0xE0 != 0xE0 {
			return CodeMalformedPID
		}
		pid := uint16(payload[off+2]&0x1F)<<8 | uint16(payload[off+3])

		s := d.stream(pid)
		s.setProgram(program)
		s.hasType = false
	}
	return codeOK
}

// decodePMT reassembles a PMT section for the program whose PMT PID is
// pmt and classifies the elementary streams it lists.
func (d *Demuxer) decodePMT(payload []byte, pstart bool, pmt *stream) Code {
	if pstart {
		var ok bool
		if payload, ok = skipPointerField(payload); !ok {
			return CodeTruncatedSection
		}
		if len(payload) < 1 {
			return CodeTruncatedSection
		}
		// A new unit abandons any section in progress. Continuations of a
		// foreign table are then ignored along with it.
		d.section.started = true
		d.section.waiting = false
		if payload[0] != tableIDPMT {
			return codeOK
		}
		if len(payload) < 12 {
			return CodeShortSection
		}
		if payload[1]&0x30 != 0x30 {
			return CodeMalformedSectionLength
		}
		total := 3 + (int(payload[1]&0x0F)<<8 | int(payload[2]))
		if total > maxSectionLength {
			return CodeSectionTooLarge
		}
		d.section.reset(total)
		if !d.section.write(payload) {
			return codeOK
		}
	} else {
		switch {
		case !d.section.started:
			return CodeUnexpectedContinuation
		case !d.section.waiting:
			return codeOK
		}
		if !d.section.write(payload) {
			return codeOK
		}
	}
	return d.parsePMTSection(d.section.bytes(), pmt)
}

func (d *Demuxer) parsePMTSection(section []byte, pmt *stream) Code {
	// [0]     table_id
	// [1-2]   section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]   program_number
	// [5]     reserved(2) + version(5) + current_next(1)
	// [6]     section_number
	// [7]     last_section_number
	// [8-9]   reserved(3) + PCR_PID(13)
	// [10-11] reserved(4) + program_info_length(12)
	// [...]   program descriptors, elementary stream entries, CRC32
	if len(section) < 12 {
		return CodeShortSection
	}
	offset := 12 + (int(section[10]&0x0F)<<8 | int(section[11]))
	end := len(section) - crcSize
	if offset > end {
		return CodeMalformedProgramInfo
	}

	for offset < end {
		if end-offset < 5 {
			return CodeTruncatedDescriptor
		}
		streamType := StreamType(section[offset])
		if section[offset+1]&0xE0 != 0xE0 {
			return CodeMalformedPID
		}
		pid := uint16(section[offset+1]&0x1F)<<8 | uint16(section[offset+2])
		n := 5 + (int(section[offset+3]&0x0F)<<8 | int(section[offset+4]))
		if n > end-offset {
			return CodeMalformedDescriptorLength
		}
		offset += n

		es := d.stream(pid)
		if !es.hasProgram || es.program != pmt.program || !es.hasType || es.streamType != streamType {
			es.setProgram(pmt.program)
			es.setType(streamType)
			pmt.nextIndex++
			es.index = pmt.nextIndex
		}
	}
	return codeOK
}
