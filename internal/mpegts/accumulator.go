package mpegts

// stream is the per-PID state of one pass. Program and stream type are
// optional: a PID without a program carries nothing the demuxer wants, and
// a PID with a program but no type is a PMT PID.
type stream struct {
	pid uint16

	program    uint16
	hasProgram bool
	streamType StreamType
	hasType    bool
	content    Content

	// nextIndex numbers the elementary streams announced by this PID's PMT.
	nextIndex int
	index     int

	dts         uint64
	firstPTS    uint64
	hasFirstPTS bool
	lastPTS     uint64
	frameTicks  uint64
	frameNum    int
	streamID    uint8

	packets    []*Packet
	byteLength int
	payload    *payloadAccumulator
}

func (s *stream) setProgram(program uint16) {
	s.program = program
	s.hasProgram = true
}

func (s *stream) setType(t StreamType) {
	s.streamType = t
	s.hasType = true
	s.content = t.Content()
}

// firstFrame is the frame counter value at which the first PTS is taken.
// The first video access unit is commonly a reference frame that is never
// presented, so video starts counting from the second one. This is a
// heuristic, not something the transport stream guarantees.
func (s *stream) firstFrame() int {
	if s.content == ContentVideo {
		return 1
	}
	return 0
}

// observe applies the timestamps of a new PES header. cursor is the value
// that advances the decode cursor: the PTS for PTS-only headers and the DTS
// otherwise, and it is also what the first timestamp records. Values at or
// below the cursor leave the cursor and frame duration untouched.
func (s *stream) observe(pts, cursor uint64) {
	if s.dts == 0 || cursor > s.dts {
		if s.dts > 0 {
			s.frameTicks = cursor - s.dts
		}
		s.dts = cursor
	}
	if pts > s.lastPTS {
		s.lastPTS = pts
	}
	if !s.hasFirstPTS && s.frameNum == s.firstFrame() {
		s.firstPTS = cursor
		s.hasFirstPTS = true
	}
}

// write appends a payload fragment. A payload unit start, or the first
// fragment ever, finalizes the accumulator in progress and opens a new one
// that snapshots the stream's current timing.
func (s *stream) write(data []byte, pstart bool, input []byte) {
	if pstart || s.payload == nil {
		if s.payload != nil {
			s.packets = append(s.packets, s.payload.packet())
		}
		s.payload = &payloadAccumulator{
			fragments:  [][]byte{data},
			size:       len(data),
			input:      input,
			pts:        s.lastPTS,
			dts:        s.dts,
			frameTicks: s.frameTicks,
		}
	} else {
		s.payload.fragments = append(s.payload.fragments, data)
		s.payload.size += len(data)
	}
	s.byteLength += len(data)
}

func (s *stream) output() *StreamOutput {
	out := &StreamOutput{
		Type:       s.streamType,
		Packets:    s.packets,
		ByteLength: s.byteLength,
		PID:        s.pid,
		Program:    s.program,
		Index:      s.index,
		Content:    s.content,
		FrameTicks: s.frameTicks,
		FirstPTS:   s.firstPTS,
		LastPTS:    s.lastPTS,
	}
	out.Length = float64(int64(s.lastPTS+s.frameTicks)-int64(s.firstPTS)) / TimestampRate
	return out
}

// payloadAccumulator collects the fragments of one PES payload. Fragments
// alias the buffer being demuxed.
type payloadAccumulator struct {
	fragments [][]byte
	size      int
	input     []byte

	pts        uint64
	dts        uint64
	frameTicks uint64
}

// packet finalizes the accumulator. A single fragment is used as is; more
// fragments are concatenated into a fresh buffer.
func (a *payloadAccumulator) packet() *Packet {
	p := &Packet{
		PTS:        a.pts,
		DTS:        a.dts,
		FrameTicks: a.frameTicks,
	}
	if len(a.fragments) == 1 {
		p.Data = a.fragments[0]
		p.backing = a.input
		return p
	}
	p.Data = make([]byte, 0, a.size)
	for _, f := range a.fragments {
		p.Data = append(p.Data, f...)
	}
	p.backing = p.Data
	return p
}
