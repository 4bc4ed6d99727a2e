package poller

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/opengpon/gpon_collector/models"
	"github.com/opengpon/gpon_collector/pkg/gponcollector/config"
	"github.com/opengpon/gpon_collector/shell/parser"
)

// ─────────────────────────────────────────────────────────────────────────────
// PollJob — unit of work
// ─────────────────────────────────────────────────────────────────────────────

// PollJob describes one full telemetry session against one device.
type PollJob struct {
	// Hostname is the key into LoadedConfig.Devices that identifies the target.
	Hostname string

	// Device carries the models.Device fields copied into RawSessionResult.
	Device models.Device

	// DeviceConfig is the resolved configuration for the device.
	DeviceConfig config.DeviceConfig

	// Done, when non-nil, is invoked exactly once after the poll finishes,
	// with the poll error (nil on success). The scheduler uses it to enforce
	// the one-in-flight-poll-per-device invariant.
	Done func(error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Poller interface
// ─────────────────────────────────────────────────────────────────────────────

// Poller executes a single poll job and returns the raw per-command captures.
type Poller interface {
	Poll(ctx context.Context, job PollJob) (parser.RawSessionResult, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// ShellPoller — production implementation
// ─────────────────────────────────────────────────────────────────────────────

// DialFunc opens a Conn for a device. Production uses NewSession; tests
// substitute a scripted connection.
type DialFunc func(config.DeviceConfig) (Conn, error)

// Options configures a ShellPoller.
type Options struct {
	// Dial defaults to NewSession when nil.
	Dial DialFunc
}

func (o *Options) defaults() {
	if o.Dial == nil {
		o.Dial = func(cfg config.DeviceConfig) (Conn, error) {
			return NewSession(cfg)
		}
	}
}

// ShellPoller is the production Poller. Every poll opens a brand-new
// connection and discards it afterwards: there is no session reuse across
// polls by design, which keeps failure recovery trivial at the cost of
// per-poll connection overhead.
type ShellPoller struct {
	opts   Options
	logger *slog.Logger
}

// NewShellPoller creates a poller that dials devices with opts.Dial.
func NewShellPoller(opts Options, logger *slog.Logger) *ShellPoller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	opts.defaults()
	return &ShellPoller{opts: opts, logger: logger}
}

// Poll runs the fixed telemetry command sequence against the device and
// returns the raw captures. Errors wrap the package taxonomy sentinels.
func (p *ShellPoller) Poll(ctx context.Context, job PollJob) (parser.RawSessionResult, error) {
	outputs, started, err := p.runCommands(ctx, job.DeviceConfig, parser.PollCommands())
	result := parser.RawSessionResult{
		Device:        job.Device,
		Outputs:       outputs,
		PollStartedAt: started,
		CollectedAt:   time.Now(),
	}
	if err != nil {
		return result, fmt.Errorf("poll %s: %w", job.Hostname, err)
	}

	p.logger.Debug("poll completed",
		"device", job.Hostname,
		"commands", len(outputs),
		"duration_ms", result.CollectedAt.Sub(started).Milliseconds(),
	)
	return result, nil
}

// FetchIdentity runs the identity command and extracts the device-identity
// block. Called once at startup; each identity field is independently
// optional, so a sparse result is not an error as long as the session itself
// succeeded.
func (p *ShellPoller) FetchIdentity(ctx context.Context, cfg config.DeviceConfig) (models.Identity, error) {
	outputs, _, err := p.runCommands(ctx, cfg, []string{parser.CommandIdentity})
	if err != nil {
		return models.Identity{}, fmt.Errorf("fetch identity: %w", err)
	}
	if len(outputs) == 0 {
		return models.Identity{}, nil
	}
	return parser.ParseIdentity(outputs[0].Output), nil
}

// TestConnection validates credentials and timing against a live device by
// running lasercheck and looking for its signature line. Used by onboarding
// flows; a false return carries no diagnostics beyond the error.
func (p *ShellPoller) TestConnection(ctx context.Context, cfg config.DeviceConfig) (bool, error) {
	outputs, _, err := p.runCommands(ctx, cfg, []string{parser.CommandLaserCheck})
	if err != nil {
		return false, err
	}
	if len(outputs) == 0 {
		return false, nil
	}
	return strings.Contains(outputs[0].Output, "Rx Optical Power"), nil
}

// runCommands opens a fresh session, drives commands through a runner, and
// returns the captures plus the session start time.
func (p *ShellPoller) runCommands(ctx context.Context, cfg config.DeviceConfig, commands []string) ([]parser.CommandOutput, time.Time, error) {
	started := time.Now()

	conn, err := p.opts.Dial(cfg)
	if err != nil {
		return nil, started, err
	}

	runner := NewRunner(timingFor(cfg), p.logger)
	outputs, err := runner.Run(ctx, conn, commands)
	if err != nil {
		return nil, started, err
	}
	return outputs, started, nil
}

// timingFor builds runner timing from a resolved device configuration. The
// prompt pattern was validated at config load time; a pattern that fails to
// compile here silently falls back to pure fixed-delay capture.
func timingFor(cfg config.DeviceConfig) Timing {
	t := Timing{
		BannerSettle:    cfg.BannerSettle(),
		BannerRead:      cfg.BannerRead(),
		CommandSettle:   cfg.CommandSettle(),
		CaptureWindow:   cfg.CaptureWindow(),
		MaxCaptureBytes: cfg.MaxCaptureBytes,
	}
	if cfg.PromptPattern != config.PromptDisabled {
		if re, err := regexp.Compile(cfg.PromptPattern); err == nil {
			t.Prompt = re
		}
	}
	return t
}
