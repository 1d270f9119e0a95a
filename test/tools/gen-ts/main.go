// Command gen-ts writes a synthetic H.264 + AAC transport stream for
// exercising the demuxer without external encoders.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/zsiec/tsdemux/test/tools/tsutil"
)

func main() {
	out := flag.String("o", "synthetic.ts", "Output file")
	seconds := flag.Float64("seconds", 10, "Duration in seconds")
	fps := flag.Float64("fps", 25, "Video frame rate")
	videoSize := flag.Int("video-size", 4000, "Video frame payload size in bytes")
	audioSize := flag.Int("audio-size", 300, "Audio frame payload size in bytes")
	noAudio := flag.Bool("no-audio", false, "Omit the audio stream")
	psi := flag.Int("psi-interval", 0, "Repeat PAT/PMT every N video frames (default: one second)")
	flag.Parse()

	data := tsutil.Generate(tsutil.GenerateConfig{
		Seconds:        *seconds,
		FrameRate:      *fps,
		VideoFrameSize: *videoSize,
		AudioFrameSize: *audioSize,
		NoAudio:        *noAudio,
		PSIInterval:    *psi,
	})
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s (%d packets, %.1fs at %.2f fps)\n", *out, len(data)/tsutil.TSPacketSize, *seconds, *fps)
}
