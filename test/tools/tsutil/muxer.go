package tsutil

// Muxer assembles a synthetic transport stream in memory, tracking one
// continuity counter per PID.
type Muxer struct {
	buf []byte
	cc  map[uint16]byte
}

// NewMuxer returns an empty Muxer.
func NewMuxer() *Muxer {
	return &Muxer{cc: make(map[uint16]byte)}
}

// WritePAT writes a PAT announcing programs.
func (m *Muxer) WritePAT(programs ...Program) {
	m.WritePayload(0x0000, WithPointerField(BuildPAT(1, programs...)))
}

// WritePMT writes the PMT of p on its PMT PID.
func (m *Muxer) WritePMT(p Program) {
	m.WritePayload(p.PMTPID, WithPointerField(BuildPMT(p)))
}

// WritePES writes one PES packet on pid.
func (m *Muxer) WritePES(pid uint16, streamID byte, t Timing, data []byte) {
	m.WritePayload(pid, BuildPES(streamID, t, data))
}

// WritePayload packetizes a payload unit on pid.
func (m *Muxer) WritePayload(pid uint16, payload []byte) {
	cc := m.cc[pid]
	m.buf = append(m.buf, Packetize(payload, pid, &cc)...)
	m.cc[pid] = cc
}

// WritePacket appends one raw packet built with Packet.
func (m *Muxer) WritePacket(pid uint16, pusi bool, payload []byte) {
	cc := m.cc[pid]
	m.buf = append(m.buf, Packet(pid, cc, pusi, payload)...)
	m.cc[pid] = (cc + 1) & 0x0F
}

// Len returns the number of bytes written so far.
func (m *Muxer) Len() int {
	return len(m.buf)
}

// Bytes returns the stream written so far.
func (m *Muxer) Bytes() []byte {
	return m.buf
}
