package tsutil

import "math"

// Default PIDs of generated streams.
const (
	GeneratedPMTPID   = 0x1000
	GeneratedVideoPID = 0x0100
	GeneratedAudioPID = 0x0101
)

// audioFrameTicks is the duration of a 1024-sample AAC frame at 48 kHz in
// 90 kHz ticks.
const audioFrameTicks = 1920

// GenerateConfig describes a synthetic H.264 + AAC program.
type GenerateConfig struct {
	// Seconds of content. Defaults to 10.
	Seconds float64
	// FrameRate of the video stream. Defaults to 25.
	FrameRate float64
	// StartPTS is the first decode timestamp. Defaults to 90000.
	StartPTS uint64
	// VideoFrameSize and AudioFrameSize are payload sizes in bytes.
	// Default to 4000 and 300.
	VideoFrameSize int
	AudioFrameSize int
	NoAudio        bool
	// PSIInterval repeats PAT and PMT every that many video frames.
	// Defaults to one second of frames.
	PSIInterval int
}

func (c *GenerateConfig) defaults() {
	if c.Seconds <= 0 {
		c.Seconds = 10
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 25
	}
	if c.StartPTS == 0 {
		c.StartPTS = 90000
	}
	if c.VideoFrameSize <= 0 {
		c.VideoFrameSize = 4000
	}
	if c.AudioFrameSize <= 0 {
		c.AudioFrameSize = 300
	}
	if c.PSIInterval <= 0 {
		c.PSIInterval = max(int(math.Round(c.FrameRate)), 1)
	}
}

// GeneratedProgram returns the program Generate writes.
func GeneratedProgram(noAudio bool) Program {
	p := Program{
		Number: 1,
		PMTPID: GeneratedPMTPID,
		PCRPID: GeneratedVideoPID,
		Streams: []ElementaryStream{
			{StreamType: StreamTypeH264, PID: GeneratedVideoPID},
		},
	}
	if !noAudio {
		p.Streams = append(p.Streams, ElementaryStream{StreamType: StreamTypeAAC, PID: GeneratedAudioPID})
	}
	return p
}

// Generate builds a transport stream with one program: H.264 video with
// DTS/PTS one frame apart and, unless disabled, AAC audio with PTS only.
// Audio frames are interleaved in timestamp order and PSI is repeated
// periodically so any PSI-aligned cut demuxes on its own.
func Generate(cfg GenerateConfig) []byte {
	cfg.defaults()
	prog := GeneratedProgram(cfg.NoAudio)

	videoTicks := uint64(math.Round(90000 / cfg.FrameRate))
	videoFrames := int(math.Round(cfg.Seconds * cfg.FrameRate))
	audioFrames := int(math.Ceil(cfg.Seconds * 90000 / audioFrameTicks))
	if cfg.NoAudio {
		audioFrames = 0
	}

	m := NewMuxer()
	audio := 0
	for v := 0; v < videoFrames; v++ {
		dts := cfg.StartPTS + uint64(v)*videoTicks
		if v%cfg.PSIInterval == 0 {
			m.WritePAT(prog)
			m.WritePMT(prog)
		}
		for ; audio < audioFrames; audio++ {
			pts := cfg.StartPTS + uint64(audio)*audioFrameTicks
			if pts > dts {
				break
			}
			m.WritePES(GeneratedAudioPID, StreamIDAudio, PTS(pts), audioFrame(cfg.AudioFrameSize))
		}
		m.WritePES(GeneratedVideoPID, StreamIDVideo, PTSDTS(dts+videoTicks, dts), videoFrame(cfg.VideoFrameSize, v))
	}
	for ; audio < audioFrames; audio++ {
		pts := cfg.StartPTS + uint64(audio)*audioFrameTicks
		m.WritePES(GeneratedAudioPID, StreamIDAudio, PTS(pts), audioFrame(cfg.AudioFrameSize))
	}
	return m.Bytes()
}

// videoFrame returns an access unit delimiter followed by filler bytes
// tagged with the frame number.
func videoFrame(size, n int) []byte {
	f := make([]byte, max(size, 6))
	copy(f, []byte{0x00, 0x00, 0x00, 0x01, 0x09, 0xF0})
	for i := 6; i < len(f); i++ {
		f[i] = byte(n)
	}
	return f
}

// audioFrame returns an ADTS sync word followed by zero bytes.
func audioFrame(size int) []byte {
	f := make([]byte, max(size, 2))
	f[0], f[1] = 0xFF, 0xF1
	return f
}
