package mpegts

import (
	"bytes"
	"testing"

	"github.com/zsiec/tsdemux/test/tools/tsutil"
)

func newTypedStream(d *Demuxer, pid uint16, t StreamType) *stream {
	s := d.stream(pid)
	s.setProgram(1)
	s.setType(t)
	return s
}

func TestDecodePES_FrameTicks(t *testing.T) {
	t.Parallel()
	d := NewDemuxer()
	s := newTypedStream(d, testVideoPID, StreamTypeH264)

	for _, dts := range []uint64{90000, 93003, 96006} {
		pes := tsutil.BuildPES(tsutil.StreamIDVideo, tsutil.PTSDTS(dts+3003, dts), []byte{0x09, 0xF0})
		if code := d.decodePES(pes, true, s); code != codeOK {
			t.Fatalf("dts %d: code = %d", dts, code)
		}
	}
	if s.frameTicks != 3003 {
		t.Errorf("frameTicks = %d, want 3003", s.frameTicks)
	}
	if s.dts != 96006 {
		t.Errorf("dts = %d, want 96006", s.dts)
	}

	// A decode timestamp behind the cursor leaves the cursor and duration alone.
	pes := tsutil.BuildPES(tsutil.StreamIDVideo, tsutil.PTSDTS(94000, 91000), []byte{0x09, 0xF0})
	if code := d.decodePES(pes, true, s); code != codeOK {
		t.Fatalf("code = %d", code)
	}
	if s.frameTicks != 3003 || s.dts != 96006 {
		t.Errorf("out-of-order DTS: frameTicks = %d dts = %d, want 3003 96006", s.frameTicks, s.dts)
	}
	if s.lastPTS != 99009 {
		t.Errorf("lastPTS = %d, want 99009", s.lastPTS)
	}
}

func TestDecodePES_PTSOnlyAdvancesCursor(t *testing.T) {
	t.Parallel()
	d := NewDemuxer()
	s := newTypedStream(d, testAudioPID, StreamTypeAAC)

	for _, pts := range []uint64{90000, 91920, 93840} {
		pes := tsutil.BuildPES(tsutil.StreamIDAudio, tsutil.PTS(pts), []byte{0xFF, 0xF1})
		if code := d.decodePES(pes, true, s); code != codeOK {
			t.Fatalf("pts %d: code = %d", pts, code)
		}
	}
	if s.frameTicks != 1920 {
		t.Errorf("frameTicks = %d, want 1920", s.frameTicks)
	}
	if s.lastPTS != 93840 || s.dts != 93840 {
		t.Errorf("lastPTS = %d dts = %d, want 93840", s.lastPTS, s.dts)
	}
}

func TestDecodePES_FirstPTSGating(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		st        StreamType
		streamID  byte
		wantFirst uint64
	}{
		// Video skips the first access unit.
		{name: "video", st: StreamTypeH264, streamID: tsutil.StreamIDVideo, wantFirst: 93003},
		{name: "audio", st: StreamTypeAAC, streamID: tsutil.StreamIDAudio, wantFirst: 90000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := NewDemuxer()
			s := newTypedStream(d, 0x100, tc.st)
			for _, ts := range []uint64{90000, 93003, 96006} {
				pes := tsutil.BuildPES(tc.streamID, tsutil.PTS(ts), []byte{0x00})
				if code := d.decodePES(pes, true, s); code != codeOK {
					t.Fatalf("code = %d", code)
				}
			}
			if !s.hasFirstPTS || s.firstPTS != tc.wantFirst {
				t.Errorf("firstPTS = %d (set %v), want %d", s.firstPTS, s.hasFirstPTS, tc.wantFirst)
			}
			if s.frameNum != 3 {
				t.Errorf("frameNum = %d, want 3", s.frameNum)
			}
		})
	}
}

func TestDecodePES_Truncated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
		want    Code
	}{
		{name: "short header", payload: []byte{0x00, 0x00, 0x01, 0xE0, 0x00}, want: CodeTruncatedPESHeader},
		{name: "empty", payload: nil, want: CodeTruncatedPESHeader},
		{name: "missing extension", payload: []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00, 0x80}, want: CodeTruncatedExtension},
		{name: "header data past end", payload: []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00, 0x80, 0x80, 0x0A, 0x21, 0x00}, want: CodeTruncatedExtension},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := NewDemuxer()
			s := newTypedStream(d, testVideoPID, StreamTypeH264)
			if code := d.decodePES(tc.payload, true, s); code != tc.want {
				t.Errorf("code = %d, want %d", code, tc.want)
			}
		})
	}
}

func TestDecodePES_TimestampFlagWithShortHeader(t *testing.T) {
	t.Parallel()
	d := NewDemuxer()
	s := newTypedStream(d, testVideoPID, StreamTypeH264)

	// PTS flagged but no header data: the flag is ignored.
	pes := []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00, 0x80, 0x80, 0x00, 0xAB, 0xCD}
	if code := d.decodePES(pes, true, s); code != codeOK {
		t.Fatalf("code = %d", code)
	}
	if s.dts != 0 || s.lastPTS != 0 {
		t.Errorf("timestamps applied: dts = %d lastPTS = %d", s.dts, s.lastPTS)
	}
	if s.byteLength != 2 || s.frameNum != 1 {
		t.Errorf("byteLength = %d frameNum = %d, want 2 1", s.byteLength, s.frameNum)
	}
}

func TestDecodePES_NotAPESStart(t *testing.T) {
	t.Parallel()
	d := NewDemuxer()
	s := newTypedStream(d, testVideoPID, StreamTypeH264)

	if code := d.decodePES([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, true, s); code != codeOK {
		t.Fatalf("code = %d", code)
	}
	if s.byteLength != 0 || s.frameNum != 0 || s.payload != nil {
		t.Errorf("non-PES start was accumulated: %+v", s)
	}
}

func TestDecodePES_StreamIDWithoutExtension(t *testing.T) {
	t.Parallel()
	d := NewDemuxer()
	s := newTypedStream(d, testVideoPID, StreamTypeH264)

	// program_stream_map carries no optional header.
	pes := []byte{0x00, 0x00, 0x01, 0xBC, 0x00, 0x04, 0x01, 0x02, 0x03, 0x04}
	if code := d.decodePES(pes, true, s); code != codeOK {
		t.Fatalf("code = %d", code)
	}
	if code := d.decodePES([]byte{0x05, 0x06}, false, s); code != codeOK {
		t.Fatalf("continuation: code = %d", code)
	}
	if s.streamID != 0 || s.byteLength != 0 {
		t.Errorf("streamID = 0x%X byteLength = %d, want 0 0", s.streamID, s.byteLength)
	}
}

func TestDecodePES_UnknownContentNotAccumulated(t *testing.T) {
	t.Parallel()
	d := NewDemuxer()
	s := newTypedStream(d, 0x1F4, 0x86)

	pes := tsutil.BuildPES(0xBD, tsutil.PTS(90000), []byte{0xFC, 0x30})
	if code := d.decodePES(pes, true, s); code != codeOK {
		t.Fatalf("code = %d", code)
	}
	if s.streamID != 0xBD {
		t.Errorf("streamID = 0x%X, want 0xBD", s.streamID)
	}
	if s.byteLength != 0 || s.payload != nil {
		t.Error("data stream payload was accumulated")
	}
}

func TestDecodePES_FragmentsConcatenated(t *testing.T) {
	t.Parallel()
	d := NewDemuxer()
	s := newTypedStream(d, testVideoPID, StreamTypeH264)

	first := tsutil.BuildPES(tsutil.StreamIDVideo, tsutil.PTSDTS(93003, 90000), []byte{1, 2, 3})
	steps := []struct {
		payload []byte
		pstart  bool
	}{
		{first, true},
		{[]byte{4, 5}, false},
		{[]byte{6}, false},
		{tsutil.BuildPES(tsutil.StreamIDVideo, tsutil.PTSDTS(96006, 93003), []byte{7}), true},
	}
	for i, st := range steps {
		if code := d.decodePES(st.payload, st.pstart, s); code != codeOK {
			t.Fatalf("step %d: code = %d", i, code)
		}
	}

	if len(s.packets) != 1 {
		t.Fatalf("packets = %d, want 1", len(s.packets))
	}
	p := s.packets[0]
	if !bytes.Equal(p.Data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("data = %v", p.Data)
	}
	if &p.backing[0] != &p.Data[0] {
		t.Error("concatenated packet should own its backing buffer")
	}
	if p.PTS != 93003 || p.DTS != 90000 || p.FrameTicks != 0 {
		t.Errorf("timing = %d/%d/%d, want 93003/90000/0", p.PTS, p.DTS, p.FrameTicks)
	}

	// The open accumulator snapshots the timing of the header that opened it.
	if s.payload == nil || s.payload.pts != 96006 || s.payload.dts != 93003 || s.payload.frameTicks != 3003 {
		t.Errorf("open accumulator = %+v", s.payload)
	}
	if s.byteLength != 7 {
		t.Errorf("byteLength = %d, want 7", s.byteLength)
	}
}

func TestPayloadAccumulator_SingleFragmentAliasesInput(t *testing.T) {
	t.Parallel()
	input := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	a := &payloadAccumulator{fragments: [][]byte{input[1:3]}, size: 2, input: input}

	p := a.packet()
	if &p.Data[0] != &input[1] {
		t.Error("single fragment was copied")
	}
	if &p.backing[0] != &input[0] {
		t.Error("backing should be the input buffer")
	}
}

func TestDecodePES_TimestampWrapHoldsCursor(t *testing.T) {
	t.Parallel()
	d := NewDemuxer()
	s := newTypedStream(d, testAudioPID, StreamTypeAAC)

	// The 33-bit clock wraps between the second and third frame.
	for _, pts := range []uint64{maxTimestamp - 3839, maxTimestamp - 1919, 1, 1921} {
		pes := tsutil.BuildPES(tsutil.StreamIDAudio, tsutil.PTS(pts), []byte{0xFF, 0xF1})
		if code := d.decodePES(pes, true, s); code != codeOK {
			t.Fatalf("pts %d: code = %d", pts, code)
		}
	}
	if s.dts != maxTimestamp-1919 || s.lastPTS != maxTimestamp-1919 {
		t.Errorf("dts = %d lastPTS = %d, want %d", s.dts, s.lastPTS, uint64(maxTimestamp-1919))
	}
	if s.frameTicks != 1920 {
		t.Errorf("frameTicks = %d, want 1920", s.frameTicks)
	}
	if s.frameNum != 4 {
		t.Errorf("frameNum = %d, want 4", s.frameNum)
	}
}
