package main

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"

	"github.com/zsiec/tsdemux/internal/api"
	"github.com/zsiec/tsdemux/internal/ingest"
)

// config holds the serve-mode settings read from the environment.
type config struct {
	APIAddr      string
	H3Addr       string
	SRTAddr      string
	Workers      int
	QueueSize    int
	SegmentSize  int
	MaxBodyBytes int64
}

func loadConfig() config {
	return config{
		APIAddr:      envOr("API_ADDR", ":4444"),
		H3Addr:       envOr("H3_ADDR", ":4445"),
		SRTAddr:      envOr("SRT_ADDR", ":6000"),
		Workers:      envInt("WORKERS", runtime.NumCPU()),
		QueueSize:    envInt("QUEUE_SIZE", 64),
		SegmentSize:  envInt("SEGMENT_SIZE", ingest.DefaultSegmentSize),
		MaxBodyBytes: int64(envInt("MAX_BODY_BYTES", api.DefaultMaxBodyBytes)),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt reads a positive integer, falling back on absent or invalid
// values.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring invalid setting", "key", key, "value", v)
		return fallback
	}
	return n
}
