package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tsdemux/internal/api"
	"github.com/zsiec/tsdemux/internal/certs"
	"github.com/zsiec/tsdemux/internal/ingest"
	srtingest "github.com/zsiec/tsdemux/internal/ingest/srt"
	"github.com/zsiec/tsdemux/internal/jobs"
	"github.com/zsiec/tsdemux/internal/mpegts"
)

var version = "dev"

var logLevel = new(slog.LevelVar)

func main() {
	if os.Getenv("DEBUG") != "" {
		logLevel.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if len(os.Args) > 1 && os.Args[1] == "serve" {
		if err := serve(loadConfig()); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}
	os.Exit(runFiles(os.Args[1:], os.Stdout))
}

// runFiles demuxes every file named in args as one job and prints a line
// per stream. It returns the process exit code.
func runFiles(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("tsdemux", flag.ContinueOnError)
	workers := fs.Int("workers", runtime.NumCPU(), "Number of files demuxed concurrently")
	verbose := fs.Bool("v", false, "Debug logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n")
		fmt.Fprintf(fs.Output(), "  tsdemux [-workers N] [-v] file.ts...   Demux files and print their streams\n")
		fmt.Fprintf(fs.Output(), "  tsdemux serve                         Run the SRT ingest and HTTP API server\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	if *verbose {
		logLevel.Set(slog.LevelDebug)
	}

	pool := jobs.NewPool(jobs.PoolConfig{Workers: *workers, QueueSize: fs.NArg()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var g errgroup.Group
	g.Go(func() error { return pool.Run(ctx) })

	type fileJob struct {
		name string
		job  *jobs.Job
		err  error
	}
	files := make([]fileJob, 0, fs.NArg())
	for _, name := range fs.Args() {
		data, err := os.ReadFile(name)
		if err != nil {
			files = append(files, fileJob{name: name, err: err})
			continue
		}
		files = append(files, fileJob{name: name, job: pool.Submit(data, 0, len(data))})
	}
	pool.Close()

	code := 0
	for _, f := range files {
		if f.err != nil {
			slog.Error("read failed", "file", f.name, "error", f.err)
			code = 1
			continue
		}
		res, err := f.job.Wait(ctx)
		if err != nil {
			slog.Error("demux failed", "file", f.name, "code", int(mpegts.CodeOf(err)), "error", err)
			code = 1
			continue
		}
		printStreams(stdout, f.name, res)
	}

	if err := g.Wait(); err != nil {
		slog.Error("worker pool", "error", err)
		return 1
	}
	return code
}

func printStreams(w io.Writer, name string, res *mpegts.Result) {
	sums := jobs.Summarize(res)
	if len(sums) == 0 {
		fmt.Fprintf(w, "%s: no streams\n", name)
		return
	}
	for _, s := range sums {
		fmt.Fprintf(w, "%s: stream 0x%02X pid 0x%04X %-10s %-7s packets=%d bytes=%d seconds=%.3f fps=%.2f\n",
			name, s.StreamID, s.PID, s.Codec, s.Content, s.Packets, s.Bytes, s.Seconds, s.FPS)
	}
}

func serve(cfg config) error {
	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(certs.MaxValidity)
	if err != nil {
		return fmt.Errorf("generate cert: %w", err)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("tsdemux starting",
		"version", version,
		"srt", cfg.SRTAddr,
		"api", cfg.APIAddr,
		"h3", cfg.H3Addr,
		"workers", cfg.Workers,
		"segment_size", cfg.SegmentSize,
	)

	g, ctx := errgroup.WithContext(ctx)

	pool := jobs.NewPool(jobs.PoolConfig{Workers: cfg.Workers, QueueSize: cfg.QueueSize})
	registry := ingest.NewRegistry(pool, cfg.SegmentSize, nil)
	// The caller is created after the errgroup so pulls capture the
	// errgroup-derived context and stop when any component fails.
	caller := srtingest.NewCaller(registry, nil)

	apiSrv, err := api.NewServer(api.Config{
		Addr:   cfg.H3Addr,
		Cert:   cert,
		Jobs:   pool,
		Ingest: registry,
		SRTPull: func(req srtingest.PullRequest) error {
			return caller.Pull(ctx, req)
		},
		SRTStop:      caller.Stop,
		SRTList:      caller.ActivePulls,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srtSrv := srtingest.NewServer(cfg.SRTAddr, registry, nil)

	httpsSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           apiSrv.Handler(),
		TLSConfig:         cert.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		return pool.Run(ctx)
	})

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	g.Go(func() error {
		slog.Info("HTTPS API server listening", "addr", cfg.APIAddr)
		if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpsSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	return g.Wait()
}
