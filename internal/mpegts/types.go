// Package mpegts implements MPEG-TS demuxing of whole in-memory buffers.
// A pass discovers programs through the PAT and PMT, reassembles PES
// payloads into access-unit packets and infers per-stream timing from the
// PTS/DTS values carried in PES headers.
package mpegts

// TimestampRate is the MPEG system clock rate for PTS/DTS values.
const TimestampRate = 90000

// StreamType is the stream_type code announced for a PID in the PMT.
type StreamType uint8

// Stream type codes recognized by the demuxer.
const (
	StreamTypeMPEG1Video StreamType = 0x01
	StreamTypeMPEG2Video StreamType = 0x02
	StreamTypeMPEG1Audio StreamType = 0x03
	StreamTypeMPEG2Audio StreamType = 0x04
	StreamTypePrivate    StreamType = 0x06
	StreamTypeAAC        StreamType = 0x0F
	StreamTypeH264       StreamType = 0x1B
	StreamTypeDCII       StreamType = 0x80
	StreamTypeAC3        StreamType = 0x81
	StreamTypeVC1        StreamType = 0xEA
)

// Codec returns a short codec name for the stream type, or "data" when
// the type does not carry audio or video the demuxer knows about.
func (t StreamType) Codec() string {
	switch t {
	case StreamTypeMPEG1Video, StreamTypeMPEG2Video, StreamTypeDCII:
		return "mpeg2video"
	case StreamTypeH264:
		return "h264"
	case StreamTypeVC1:
		return "vc1"
	case StreamTypeAC3, StreamTypePrivate:
		return "ac3"
	case StreamTypeMPEG1Audio, StreamTypeMPEG2Audio:
		return "mp2"
	case StreamTypeAAC:
		return "aac"
	}
	return "data"
}

// Content classifies the payload of an elementary stream.
type Content uint8

// Content classes.
const (
	ContentUnknown Content = iota
	ContentAudio
	ContentVideo
)

func (c Content) String() string {
	switch c {
	case ContentAudio:
		return "audio"
	case ContentVideo:
		return "video"
	}
	return "unknown"
}

// Content returns the content class for the stream type.
func (t StreamType) Content() Content {
	switch t {
	case StreamTypeMPEG1Video, StreamTypeMPEG2Video, StreamTypeDCII,
		StreamTypeH264, StreamTypeVC1:
		return ContentVideo
	case StreamTypeAC3, StreamTypePrivate,
		StreamTypeMPEG1Audio, StreamTypeMPEG2Audio, StreamTypeAAC:
		return ContentAudio
	}
	return ContentUnknown
}

// Packet is one reassembled PES payload together with the timing that was
// current when its first fragment arrived. PTS, DTS and FrameTicks are in
// 90 kHz ticks.
type Packet struct {
	PTS        uint64
	DTS        uint64
	FrameTicks uint64
	Data       []byte

	// backing is the buffer Data points into.
	backing []byte
}

// StreamOutput is the demuxed content of one elementary stream.
type StreamOutput struct {
	Type       StreamType
	Packets    []*Packet
	ByteLength int
	// Length is the stream duration in seconds.
	Length float64

	PID        uint16
	Program    uint16
	Index      int
	Content    Content
	FrameTicks uint64
	FirstPTS   uint64
	LastPTS    uint64
}

// FPS returns the frame rate implied by the inferred frame duration, or 0
// when no duration could be inferred.
func (s *StreamOutput) FPS() float64 {
	if s.FrameTicks == 0 {
		return 0
	}
	return TimestampRate / float64(s.FrameTicks)
}

// Result is the output of a successful pass, keyed by PES stream id.
// Buffers lists every distinct backing buffer referenced by the packets.
type Result struct {
	Streams map[uint8]*StreamOutput
	Buffers [][]byte
}
