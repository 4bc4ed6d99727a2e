// Command gponcollector is the main GPON Collector binary.
//
// It loads YAML device configuration from directories specified by
// environment variables (or command-line flags), builds the full pipeline,
// and runs until interrupted (SIGINT / SIGTERM).
//
// Usage:
//
//	gponcollector [flags]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opengpon/gpon_collector/pkg/gponcollector/app"
	"github.com/opengpon/gpon_collector/pkg/gponcollector/config"
	filetransport "github.com/opengpon/gpon_collector/transport/file"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gponcollector: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ── Flags ────────────────────────────────────────────────────────────
	var (
		logLevel string
		logFmt   string
		collID   string
		pretty   bool
		workers  int
		bufSize  int
		noRates  bool

		// Split-file transport
		splitFile        bool
		snapshotFilePath string
		failureFilePath  string
		fileMaxBytes     int64
		fileMaxBackups   int

		// HTTP API and snapshot archive
		httpAddr   string
		sqlitePath string

		// Config path overrides (defaults read from env).
		cfgDevices  string
		cfgDefaults string
	)

	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "json", "Log format: json, text")
	flag.StringVar(&collID, "collector.id", "", "Collector instance ID (default: hostname)")
	flag.BoolVar(&pretty, "format.pretty", false, "Pretty-print JSON output")
	flag.IntVar(&workers, "poller.workers", 4, "Number of concurrent poller workers")
	flag.IntVar(&bufSize, "pipeline.buffer.size", 256, "Inter-stage channel buffer size")
	flag.BoolVar(&noRates, "producer.rates.disable", false, "Disable derived byte-rate metrics")

	flag.BoolVar(&splitFile, "transport.file.split", false, "Split output: snapshots and poll failures to separate files")
	flag.StringVar(&snapshotFilePath, "transport.file.snapshots", "gpon_snapshots.json", "Output file for telemetry snapshots")
	flag.StringVar(&failureFilePath, "transport.file.failures", "gpon_failures.json", "Output file for poll failure records")
	flag.Int64Var(&fileMaxBytes, "transport.file.max.bytes", 0, "Max file size in bytes before rotation (0=disabled)")
	flag.IntVar(&fileMaxBackups, "transport.file.max.backups", 5, "Max rotated backup files to keep (0=unlimited)")

	flag.StringVar(&httpAddr, "http.listen", "", "Read-API listen address, e.g. :8080 (empty=disabled)")
	flag.StringVar(&sqlitePath, "store.sqlite.path", "", "SQLite snapshot archive path (empty=disabled)")

	flag.StringVar(&cfgDevices, "config.devices", "", "Override INPUT_GPON_DEVICE_DEFINITIONS_DIRECTORY_PATH")
	flag.StringVar(&cfgDefaults, "config.defaults", "", "Override INPUT_GPON_DEFAULTS_DIRECTORY_PATH")

	flag.Parse()

	// ── Logger ───────────────────────────────────────────────────────────
	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		return err
	}

	// ── Config paths ─────────────────────────────────────────────────────
	paths := config.PathsFromEnv()
	if cfgDevices != "" {
		paths.Devices = cfgDevices
	}
	if cfgDefaults != "" {
		paths.Defaults = cfgDefaults
	}

	// ── Transport ────────────────────────────────────────────────────────
	transport, err := buildTransport(splitFile, snapshotFilePath, failureFilePath,
		fileMaxBytes, fileMaxBackups, logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	// ── Build App ────────────────────────────────────────────────────────
	cfg := app.Config{
		ConfigPaths:   paths,
		CollectorID:   collID,
		PollerWorkers: workers,
		BufferSize:    bufSize,
		RateDisabled:  noRates,
		PrettyPrint:   pretty,
		Transport:     transport,
		HTTPAddr:      httpAddr,
		SQLitePath:    sqlitePath,
	}

	application := app.New(cfg, logger)

	// ── Start ────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	logger.Info("gponcollector: running — press Ctrl-C to stop")

	// Block until signal.
	<-ctx.Done()
	logger.Info("gponcollector: received shutdown signal")

	application.Stop()
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}

	return slog.New(handler), nil
}

// buildTransport assembles the output sink from the transport flags.
//
//   - split off:         JSONL to stdout
//   - split on:          snapshots and failures to separate files
//   - max bytes set:     files wrapped in size-based rotation
func buildTransport(split bool, snapshotPath, failurePath string,
	maxBytes int64, maxBackups int, logger *slog.Logger) (filetransport.Transport, error) {

	if !split {
		return filetransport.New(filetransport.Config{}, logger), nil
	}

	snapW, err := openOutput(snapshotPath, maxBytes, maxBackups, logger)
	if err != nil {
		return nil, err
	}
	failW, err := openOutput(failurePath, maxBytes, maxBackups, logger)
	if err != nil {
		return nil, err
	}

	return filetransport.NewSplit(filetransport.SplitConfig{
		SnapshotWriter: snapW,
		FailureWriter:  failW,
	}, logger), nil
}

// openOutput opens path as a rotating file when rotation is enabled, plain
// append-only otherwise.
func openOutput(path string, maxBytes int64, maxBackups int, logger *slog.Logger) (io.Writer, error) {
	if maxBytes > 0 {
		return filetransport.NewRotatingFile(filetransport.RotateConfig{
			FilePath:   path,
			MaxBytes:   maxBytes,
			MaxBackups: maxBackups,
		}, logger)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
