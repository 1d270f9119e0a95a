package jobs

import (
	"maps"
	"slices"

	"github.com/zsiec/tsdemux/internal/mpegts"
)

// StreamSummary describes one demuxed stream without its payload, for
// logs, the API and the CLI.
type StreamSummary struct {
	StreamID   uint8   `json:"streamId"`
	PID        uint16  `json:"pid"`
	Program    uint16  `json:"program"`
	Index      int     `json:"index"`
	StreamType uint8   `json:"streamType"`
	Codec      string  `json:"codec"`
	Content    string  `json:"content"`
	Packets    int     `json:"packets"`
	Bytes      int     `json:"bytes"`
	Seconds    float64 `json:"seconds"`
	FrameTicks uint64  `json:"frameTicks"`
	FPS        float64 `json:"fps"`
	FirstPTS   uint64  `json:"firstPts"`
	LastPTS    uint64  `json:"lastPts"`
}

// Summarize returns one summary per stream of res, ordered by stream id.
func Summarize(res *mpegts.Result) []StreamSummary {
	if res == nil {
		return nil
	}
	out := make([]StreamSummary, 0, len(res.Streams))
	for _, id := range slices.Sorted(maps.Keys(res.Streams)) {
		s := res.Streams[id]
		out = append(out, StreamSummary{
			StreamID:   id,
			PID:        s.PID,
			Program:    s.Program,
			Index:      s.Index,
			StreamType: uint8(s.Type),
			Codec:      s.Type.Codec(),
			Content:    s.Content.String(),
			Packets:    len(s.Packets),
			Bytes:      s.ByteLength,
			Seconds:    s.Length,
			FrameTicks: s.FrameTicks,
			FPS:        s.FPS(),
			FirstPTS:   s.FirstPTS,
			LastPTS:    s.LastPTS,
		})
	}
	return out
}
