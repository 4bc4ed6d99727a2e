package parser

import (
	"log/slog"
	"time"

	"github.com/opengpon/gpon_collector/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Command set
// ─────────────────────────────────────────────────────────────────────────────

// The gateway's diagnostic command surface. These are the only commands the
// collector ever issues; the device offers no structured API beyond them.
const (
	CommandLANStats   = "showlanstats"
	CommandWANStats   = "showwanstats"
	CommandLaserCheck = "lasercheck"
	CommandIdentity   = "sys atsh"
)

// PollCommands returns the ordered command list for one telemetry session.
// Identity is not part of the poll cycle — it is fetched once at startup.
func PollCommands() []string {
	return []string{CommandLANStats, CommandWANStats, CommandLaserCheck}
}

// ─────────────────────────────────────────────────────────────────────────────
// Channel message types
// ─────────────────────────────────────────────────────────────────────────────

// CommandOutput is one (command, captured text) pair from a session. Capture
// may be empty when the read window expired before the device produced output.
type CommandOutput struct {
	Command string
	Output  string
}

// RawSessionResult is the message placed on the raw-data channel by the Poller
// after a completed shell session. It is the sole input type consumed by the
// session parser.
type RawSessionResult struct {
	// Device carries identifying context about the polled gateway.
	Device models.Device

	// Outputs holds the per-command captures in the order the commands were
	// issued. Raw output is consumed synchronously and never cached.
	Outputs []CommandOutput

	// PollStartedAt is the wall-clock time at which the session was opened.
	PollStartedAt time.Time

	// CollectedAt is the wall-clock time at which the last capture finished.
	CollectedAt time.Time
}

// ParsedSession is the flat metric mapping extracted from one session,
// consumed by the producer stage.
type ParsedSession struct {
	Device         models.Device
	Metrics        map[string]models.Value
	CollectedAt    time.Time
	PollDurationMs int64
}

// ─────────────────────────────────────────────────────────────────────────────
// SessionParser
// ─────────────────────────────────────────────────────────────────────────────

// SessionParser maps raw per-command captures to metric values. It is
// stateless once constructed and safe for concurrent calls to Parse.
type SessionParser struct {
	logger *slog.Logger
}

// NewSessionParser constructs a SessionParser. A nil logger is replaced with
// a no-op logger.
func NewSessionParser(logger *slog.Logger) *SessionParser {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &SessionParser{logger: logger}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// Parse runs the extractor matching each captured command and merges the
// results into one flat mapping. Unknown commands and unmatched text are
// skipped; Parse never fails.
func (p *SessionParser) Parse(raw RawSessionResult) ParsedSession {
	merged := make(map[string]models.Value)

	for _, out := range raw.Outputs {
		var data map[string]models.Value
		switch out.Command {
		case CommandLANStats:
			data = ParseLANStats(out.Output)
		case CommandWANStats:
			data = ParseWANStats(out.Output)
		case CommandLaserCheck:
			data = ParseLaserStats(out.Output)
		default:
			p.logger.Debug("parser: no extractor for command", "command", out.Command)
			continue
		}

		p.logger.Debug("parser: extracted metrics",
			"command", out.Command,
			"keys", len(data),
			"capture_bytes", len(out.Output),
		)
		for k, v := range data {
			merged[k] = v
		}
	}

	collected := raw.CollectedAt
	if collected.IsZero() {
		collected = time.Now()
	}

	return ParsedSession{
		Device:         raw.Device,
		Metrics:        merged,
		CollectedAt:    collected,
		PollDurationMs: collected.Sub(raw.PollStartedAt).Milliseconds(),
	}
}
