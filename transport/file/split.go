// Package file — split.go provides a Transport that writes telemetry
// snapshots and poll failure records to separate destinations (files).
//
// Routing logic:
//   - JSON payloads containing a "poll_error" key → failure writer
//   - Everything else (snapshots) → snapshot writer
//
// Both writers can be plain io.Writers (os.Stdout, *os.File) or RotatingFile
// instances for automatic size-based rotation.
package file

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// ─────────────────────────────────────────────────────────────────────────────
// SplitConfig
// ─────────────────────────────────────────────────────────────────────────────

// SplitConfig controls SplitWriterTransport behaviour.
type SplitConfig struct {
	// SnapshotWriter receives telemetry snapshot payloads.
	// nil defaults to os.Stdout.
	SnapshotWriter io.Writer

	// FailureWriter receives poll failure records.
	// nil defaults to os.Stderr.
	FailureWriter io.Writer

	// Newline appended after each record.  Default "\n".
	Newline string
}

// ─────────────────────────────────────────────────────────────────────────────
// SplitWriterTransport
// ─────────────────────────────────────────────────────────────────────────────

// SplitWriterTransport implements Transport by routing each JSON record to one
// of two io.Writers based on its content type.  It is safe for concurrent use.
//
// Detection: a fast bytes.Contains check for the `"poll_error"` key is used
// instead of full JSON unmarshalling to keep the hot path allocation-free.
type SplitWriterTransport struct {
	snapMu  sync.Mutex
	failMu  sync.Mutex
	snapW   io.Writer
	failW   io.Writer
	nl      []byte
	closers []io.Closer
	logger  *slog.Logger
}

// failureMarker is the byte sequence used to identify poll failure records.
// Every PollFailure JSON object contains this key.
var failureMarker = []byte(`"poll_error"`)

// NewSplit constructs a SplitWriterTransport.
//
//   - cfg.SnapshotWriter defaults to os.Stdout when nil.
//   - cfg.FailureWriter defaults to os.Stderr when nil.
//   - cfg.Newline defaults to "\n" when empty.
//   - logger defaults to a no-op logger when nil.
func NewSplit(cfg SplitConfig, logger *slog.Logger) *SplitWriterTransport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	sw := cfg.SnapshotWriter
	if sw == nil {
		sw = os.Stdout
	}
	fw := cfg.FailureWriter
	if fw == nil {
		fw = os.Stderr
	}
	nl := cfg.Newline
	if nl == "" {
		nl = "\n"
	}

	st := &SplitWriterTransport{
		snapW:  sw,
		failW:  fw,
		nl:     []byte(nl),
		logger: logger,
	}

	// Track io.Closers so Close() can clean up RotatingFile instances.
	if c, ok := sw.(io.Closer); ok && sw != os.Stdout && sw != os.Stderr {
		st.closers = append(st.closers, c)
	}
	if c, ok := fw.(io.Closer); ok && fw != os.Stdout && fw != os.Stderr {
		st.closers = append(st.closers, c)
	}

	return st
}

// Send inspects data for the failure marker and routes to the matching writer.
func (st *SplitWriterTransport) Send(data []byte) error {
	if bytes.Contains(data, failureMarker) {
		return st.writeFailure(data)
	}
	return st.writeSnapshot(data)
}

// Close flushes and closes any io.Closer writers (e.g. RotatingFile).
// Plain os.Stdout / os.Stderr are never closed.
func (st *SplitWriterTransport) Close() error {
	var firstErr error
	for _, c := range st.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (st *SplitWriterTransport) writeSnapshot(data []byte) error {
	st.snapMu.Lock()
	defer st.snapMu.Unlock()

	if _, err := st.snapW.Write(data); err != nil {
		st.logger.Error("transport/file: snapshot write failed",
			"error", err.Error(), "bytes", len(data),
		)
		return fmt.Errorf("transport/file: snapshot write: %w", err)
	}
	if _, err := st.snapW.Write(st.nl); err != nil {
		st.logger.Error("transport/file: snapshot newline write failed",
			"error", err.Error(),
		)
		return fmt.Errorf("transport/file: snapshot write newline: %w", err)
	}

	st.logger.Debug("transport/file: sent snapshot record", "bytes", len(data))
	return nil
}

func (st *SplitWriterTransport) writeFailure(data []byte) error {
	st.failMu.Lock()
	defer st.failMu.Unlock()

	if _, err := st.failW.Write(data); err != nil {
		st.logger.Error("transport/file: failure write failed",
			"error", err.Error(), "bytes", len(data),
		)
		return fmt.Errorf("transport/file: failure write: %w", err)
	}
	if _, err := st.failW.Write(st.nl); err != nil {
		st.logger.Error("transport/file: failure newline write failed",
			"error", err.Error(),
		)
		return fmt.Errorf("transport/file: failure write newline: %w", err)
	}

	st.logger.Debug("transport/file: sent failure record", "bytes", len(data))
	return nil
}
