package poller

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/opengpon/gpon_collector/shell/parser"
)

// ─────────────────────────────────────────────────────────────────────────────
// Timing
// ─────────────────────────────────────────────────────────────────────────────

// Timing holds the settle-and-drain heuristics that substitute for a
// machine-readable command boundary: the device's interactive shell produces
// multi-screen output with no reliable end-of-output marker, so the runner
// waits a fixed settle period after each command and then drains whatever is
// buffered within a bounded capture window.
//
// The defaults are the empirically chosen constants of the reference
// deployment. They are tunable per device, and a prompt pattern allows the
// capture to end early when the shell prompt reappears, trading none of the
// worst-case robustness for lower steady-state latency.
type Timing struct {
	// BannerSettle is the wait after connect before the banner drain.
	// Default 1s.
	BannerSettle time.Duration

	// BannerRead is the timeout for the best-effort banner drain read.
	// Default 500ms.
	BannerRead time.Duration

	// CommandSettle is the wait after sending a command before capturing.
	// Default 2.5s.
	CommandSettle time.Duration

	// CaptureWindow is the maximum time spent draining one command's output.
	// Default 4s.
	CaptureWindow time.Duration

	// MaxCaptureBytes caps one command's capture. Default 1 MiB.
	MaxCaptureBytes int

	// Prompt, when non-nil, ends a capture early once the trailing captured
	// text matches it. nil disables early exit and the full CaptureWindow
	// always elapses.
	Prompt *regexp.Regexp
}

const (
	defaultBannerSettle    = time.Second
	defaultBannerRead      = 500 * time.Millisecond
	defaultCommandSettle   = 2500 * time.Millisecond
	defaultCaptureWindow   = 4 * time.Second
	defaultMaxCaptureBytes = 1 << 20

	// bannerReadLimit bounds the banner drain; the real banner is well under
	// this.
	bannerReadLimit = 64 << 10

	// captureSlice is the granularity of the capture loop, small enough that
	// prompt detection reacts quickly without busy-polling.
	captureSlice = 250 * time.Millisecond

	// promptTail is how many trailing bytes are matched against Prompt.
	promptTail = 64
)

func (t *Timing) defaults() {
	if t.BannerSettle <= 0 {
		t.BannerSettle = defaultBannerSettle
	}
	if t.BannerRead <= 0 {
		t.BannerRead = defaultBannerRead
	}
	if t.CommandSettle <= 0 {
		t.CommandSettle = defaultCommandSettle
	}
	if t.CaptureWindow <= 0 {
		t.CaptureWindow = defaultCaptureWindow
	}
	if t.MaxCaptureBytes <= 0 {
		t.MaxCaptureBytes = defaultMaxCaptureBytes
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SessionRunner
// ─────────────────────────────────────────────────────────────────────────────

// SessionRunner drives one Conn through an ordered command sequence and
// collects each command's output in isolation.
//
// State machine: Idle → Draining(banner) → {Send → Settle → Capture}* →
// Closing. There is no retry state — any connection-level error aborts the
// remaining sequence and propagates wrapped in ErrSession; the next poll
// starts from scratch on a fresh connection.
type SessionRunner struct {
	timing Timing
	logger *slog.Logger
}

// NewRunner constructs a SessionRunner. Zero-valued Timing fields fall back
// to the reference-deployment defaults.
func NewRunner(timing Timing, logger *slog.Logger) *SessionRunner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	timing.defaults()
	return &SessionRunner{timing: timing, logger: logger}
}

// Run executes commands in order over conn and returns the per-command
// captures. Guarantees:
//
//   - A command appears in the result as long as its write succeeded, even
//     when its capture timed out empty; one command's timeout never aborts
//     the sequence.
//   - On a connection-level error no partial result is returned.
//
// Run always closes conn before returning; close-phase failures are logged,
// never propagated, since the sequence has already completed by then.
func (r *SessionRunner) Run(ctx context.Context, conn Conn, commands []string) ([]parser.CommandOutput, error) {
	defer func() {
		if err := conn.Close(); err != nil {
			r.logger.Warn("runner: close failed", "error", err.Error())
		}
	}()

	// Discard unsolicited banner and initial prompt bytes. Best-effort: a
	// banner that straggles past this window merely ends up ignored at the
	// head of the first command's capture.
	if err := sleepCtx(ctx, r.timing.BannerSettle); err != nil {
		return nil, err
	}
	if _, err := conn.ReadAvailable(bannerReadLimit, r.timing.BannerRead); err != nil {
		return nil, fmt.Errorf("%w: banner drain: %v", ErrSession, err)
	}

	outputs := make([]parser.CommandOutput, 0, len(commands))
	for _, cmd := range commands {
		if err := conn.Write([]byte(cmd + "\n")); err != nil {
			return nil, fmt.Errorf("%w: write %q: %v", ErrSession, cmd, err)
		}
		if err := sleepCtx(ctx, r.timing.CommandSettle); err != nil {
			return nil, err
		}

		text, err := r.capture(ctx, conn)
		if err != nil {
			return nil, fmt.Errorf("%w: capture %q: %v", ErrSession, cmd, err)
		}
		if len(text) == 0 {
			r.logger.Warn("runner: empty capture", "command", cmd)
		}
		outputs = append(outputs, parser.CommandOutput{Command: cmd, Output: text})

		r.logger.Debug("runner: command captured",
			"command", cmd,
			"bytes", len(text),
		)
	}

	// Exit directive; the device closes the channel on its own afterwards.
	if err := conn.Write([]byte("exit\n")); err != nil {
		r.logger.Debug("runner: exit write failed", "error", err.Error())
	}

	return outputs, nil
}

// capture drains conn in small slices until the window closes, the byte cap
// is reached, or the shell prompt reappears at the tail of the captured text.
func (r *SessionRunner) capture(ctx context.Context, conn Conn) (string, error) {
	deadline := time.Now().Add(r.timing.CaptureWindow)

	var b strings.Builder
	for b.Len() < r.timing.MaxCaptureBytes {
		if err := ctx.Err(); err != nil {
			return b.String(), err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		slice := captureSlice
		if r.timing.Prompt == nil || remaining < slice {
			// Without prompt detection there is nothing to check between
			// slices; drain the whole remaining window in one read.
			slice = remaining
		}

		chunk, err := conn.ReadAvailable(r.timing.MaxCaptureBytes-b.Len(), slice)
		b.Write(chunk)
		if err != nil {
			return b.String(), err
		}
		if r.timing.Prompt != nil && len(chunk) > 0 && r.promptSeen(b.String()) {
			break
		}
	}
	return b.String(), nil
}

// promptSeen reports whether the trailing bytes of text match the configured
// prompt pattern.
func (r *SessionRunner) promptSeen(text string) bool {
	tail := text
	if len(tail) > promptTail {
		tail = tail[len(tail)-promptTail:]
	}
	return r.timing.Prompt.MatchString(tail)
}

// sleepCtx waits d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
