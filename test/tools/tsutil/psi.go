package tsutil

import "encoding/binary"

// MPEG-2 CRC32 with polynomial 0x04C11DB7.
var crc32Table [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crc32Table[i] = crc
	}
}

// CRC32 computes the MPEG-2 CRC of data. A section followed by its CRC
// checksums to zero.
func CRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crc32Table[byte(crc>>24)^b]
	}
	return crc
}

// ElementaryStream is one entry of a PMT.
type ElementaryStream struct {
	StreamType  uint8
	PID         uint16
	Descriptors []byte
}

// Program describes a program announced in the PAT and its PMT.
type Program struct {
	Number  uint16
	PMTPID  uint16
	PCRPID  uint16
	Streams []ElementaryStream
}

// BuildPAT constructs a PAT section, CRC included.
func BuildPAT(tsID uint16, programs ...Program) []byte {
	sectionLength := 5 + 4*len(programs) + 4

	data := make([]byte, 3+sectionLength)
	data[0] = 0x00
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	data[3] = byte(tsID >> 8)
	data[4] = byte(tsID)
	data[5] = 0xC1 // reserved(2) + version(0) + current_next(1)

	offset := 8
	for _, p := range programs {
		data[offset] = byte(p.Number >> 8)
		data[offset+1] = byte(p.Number)
		data[offset+2] = 0xE0 | byte(p.PMTPID>>8)&0x1F
		data[offset+3] = byte(p.PMTPID)
		offset += 4
	}

	binary.BigEndian.PutUint32(data[offset:], CRC32(data[:offset]))
	return data
}

// BuildPMT constructs a PMT section for p, CRC included.
func BuildPMT(p Program) []byte {
	esLen := 0
	for _, s := range p.Streams {
		esLen += 5 + len(s.Descriptors)
	}
	sectionLength := 9 + esLen + 4

	data := make([]byte, 3+sectionLength)
	data[0] = 0x02
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	data[3] = byte(p.Number >> 8)
	data[4] = byte(p.Number)
	data[5] = 0xC1
	data[8] = 0xE0 | byte(p.PCRPID>>8)&0x1F
	data[9] = byte(p.PCRPID)
	data[10] = 0xF0 // reserved(4) + program_info_length(12) = 0

	offset := 12
	for _, s := range p.Streams {
		data[offset] = s.StreamType
		data[offset+1] = 0xE0 | byte(s.PID>>8)&0x1F
		data[offset+2] = byte(s.PID)
		data[offset+3] = 0xF0 | byte(len(s.Descriptors)>>8)&0x0F
		data[offset+4] = byte(len(s.Descriptors))
		offset += 5
		offset += copy(data[offset:], s.Descriptors)
	}

	binary.BigEndian.PutUint32(data[offset:], CRC32(data[:offset]))
	return data
}

// WithPointerField prefixes a section with a zero pointer field, as it
// appears in the first packet of a PSI payload unit.
func WithPointerField(section []byte) []byte {
	return append([]byte{0x00}, section...)
}
