// Package metrics implements Stage 3 of the processing pipeline.
// It assembles parser.ParsedSession values into models.Snapshot values,
// attaching collection metadata and deriving per-second byte rates from the
// retained rate cursors.
package metrics

import (
	"log/slog"
	"strings"

	"github.com/opengpon/gpon_collector/models"
	"github.com/opengpon/gpon_collector/shell/parser"
)

// ─────────────────────────────────────────────────────────────────────────────
// Producer interface
// ─────────────────────────────────────────────────────────────────────────────

// Producer converts a parser.ParsedSession into a models.Snapshot ready for
// the formatter stage. Implementations must be safe for concurrent use — the
// pipeline shares one instance between all poll workers.
type Producer interface {
	Produce(parsed parser.ParsedSession) (models.Snapshot, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// rateSourceSuffix selects the rate-tracked key set: every absolute byte
// counter in the snapshot feeds one derived rate metric.
const (
	rateSourceSuffix  = "_total_bytes"
	rateDerivedSuffix = "_speed"
)

// Config holds constructor options for SnapshotProducer.
type Config struct {
	// CollectorID is a stable identifier for this collector instance, written
	// into every PollMetadata struct. Typically the hostname or pod name.
	CollectorID string

	// RateEnabled controls byte-rate derivation. When false, no *_speed keys
	// are emitted and no cursor state is kept.
	RateEnabled bool

	// Rates, when non-nil, supplies the cursor set to use. When nil and
	// RateEnabled is true, a fresh RateState is created.
	Rates *RateState
}

// ─────────────────────────────────────────────────────────────────────────────
// SnapshotProducer
// ─────────────────────────────────────────────────────────────────────────────

// SnapshotProducer is the production Producer. The RateState it owns is the
// only state that survives across poll cycles; everything else is derived
// fresh from the input.
type SnapshotProducer struct {
	cfg    Config
	rates  *RateState
	logger *slog.Logger
}

// New constructs a SnapshotProducer.
func New(cfg Config, logger *slog.Logger) *SnapshotProducer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	rates := cfg.Rates
	if rates == nil && cfg.RateEnabled {
		rates = NewRateState()
	}
	return &SnapshotProducer{
		cfg:    cfg,
		rates:  rates,
		logger: logger,
	}
}

// Produce assembles the snapshot for one successful poll. For every key
// ending in _total_bytes a companion {key}_speed metric is derived from the
// cursor state (bytes per second, two decimal places). The first observation
// of a key always reports 0.
//
// A failed poll never reaches Produce, so cursors are untouched by failures
// and the next successful poll still computes its delta against the last good
// observation.
func (p *SnapshotProducer) Produce(parsed parser.ParsedSession) (models.Snapshot, error) {
	out := make(map[string]models.Value, len(parsed.Metrics)+8)
	for k, v := range parsed.Metrics {
		out[k] = v
	}

	if p.cfg.RateEnabled && p.rates != nil {
		for k, v := range parsed.Metrics {
			if !strings.HasSuffix(k, rateSourceSuffix) {
				continue
			}
			f, ok := v.Float64()
			if !ok {
				continue
			}
			rate := p.rates.Observe(p.rateKey(parsed.Device.Hostname, k), f, parsed.CollectedAt)
			out[k+rateDerivedSuffix] = models.FloatValue(rate)
		}
	}

	snap := models.Snapshot{
		Timestamp: parsed.CollectedAt,
		Device:    parsed.Device,
		Metrics:   out,
		Metadata: models.PollMetadata{
			CollectorID:    p.cfg.CollectorID,
			PollDurationMs: parsed.PollDurationMs,
			PollStatus:     "success",
		},
	}

	p.logger.Debug("producer: snapshot assembled",
		"device", parsed.Device.Hostname,
		"metrics", len(out),
		"poll_duration_ms", parsed.PollDurationMs,
	)
	return snap, nil
}

// rateKey isolates cursor state per device so two gateways with the same
// interface names never share a cursor.
func (p *SnapshotProducer) rateKey(hostname, metricKey string) string {
	return hostname + "/" + metricKey
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
