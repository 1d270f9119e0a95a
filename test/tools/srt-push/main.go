// Command srt-push streams a transport stream file to an SRT listener in
// real time, for exercising tsdemux serve.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/tsdemux/internal/mpegts"
	"github.com/zsiec/tsdemux/test/tools/tsutil"
)

func main() {
	fileFlag := flag.String("file", "", "TS file to push")
	keyFlag := flag.String("key", "", "Stream key (default: filename without extension)")
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	durationFlag := flag.Float64("duration", 0, "Known duration in seconds (skips detection)")
	loopFlag := flag.Bool("loop", false, "Restart from the beginning at end of file")
	flag.Parse()

	filePath := *fileFlag
	if filePath == "" && flag.NArg() > 0 {
		filePath = flag.Arg(0)
	}
	if filePath == "" {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  srt-push --file stream.ts [--key mykey] [--addr host:port] [--loop]\n")
		os.Exit(1)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
		os.Exit(1)
	}
	if len(data)%tsutil.TSPacketSize != 0 {
		fmt.Fprintf(os.Stderr, "Warning: file size not a multiple of %d\n", tsutil.TSPacketSize)
	}

	key := *keyFlag
	if key == "" {
		base := filepath.Base(filePath)
		key = base[:len(base)-len(filepath.Ext(base))]
	}

	duration := selectDuration(*durationFlag, probeDuration(data))
	bytesPerSec := float64(len(data)) / duration
	fmt.Printf("File: %s (%d packets, %.1fs, %.0f bytes/sec)\n",
		filePath, len(data)/tsutil.TSPacketSize, duration, bytesPerSec)

	if err := push(*addrFlag, "live/"+key, data, bytesPerSec, *loopFlag); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] %v\n", key, err)
		os.Exit(1)
	}
}

// probeDuration demuxes data and returns the longest stream duration in
// seconds, or 0 when nothing could be measured.
func probeDuration(data []byte) float64 {
	n := len(data) - len(data)%tsutil.TSPacketSize
	res, err := mpegts.Demux(data, 0, n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Duration probe failed: %v\n", err)
		return 0
	}
	var longest float64
	for _, s := range res.Streams {
		longest = max(longest, s.Length)
	}
	return longest
}

// selectDuration prefers an explicit override, then the probed duration,
// and falls back to 60 seconds.
func selectDuration(override, probed float64) float64 {
	switch {
	case override > 0:
		return override
	case probed > 0:
		return probed
	}
	return 60.0
}

func push(addr, streamID string, data []byte, bytesPerSec float64, loop bool) error {
	fmt.Printf("[%s] Connecting to SRT %s...\n", streamID, addr)

	cfg := srt.DefaultConfig()
	cfg.StreamID = streamID

	conn, err := srt.Dial(addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT connect failed: %w", err)
	}
	defer conn.Close()

	fmt.Printf("[%s] Connected\n", streamID)
	return streamLoop(conn, data, bytesPerSec, streamID, loop)
}

func streamLoop(conn *srt.Conn, data []byte, bytesPerSec float64, streamID string, loop bool) error {
	const chunkSize = tsutil.TSPacketSize * 7

	start := time.Now()
	var sent int64
	for pass := 1; ; pass++ {
		for i := 0; i < len(data); i += chunkSize {
			end := min(i+chunkSize, len(data))
			if _, err := conn.Write(data[i:end]); err != nil {
				return err
			}
			sent += int64(end - i)

			// Pace against the global clock so timing is continuous across
			// loop boundaries.
			expected := float64(sent) / bytesPerSec
			if elapsed := time.Since(start).Seconds(); expected > elapsed {
				time.Sleep(time.Duration((expected - elapsed) * float64(time.Second)))
			}
		}
		fmt.Printf("[%s] Pass %d complete (total sent: %.1f MB, elapsed: %s)\n",
			streamID, pass, float64(sent)/(1024*1024), time.Since(start).Truncate(time.Second))
		if !loop {
			return nil
		}
	}
}
