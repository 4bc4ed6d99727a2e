// Package json implements the JSON output formatter for the GPON Collector
// pipeline. It is the primary (and currently only) serialisation format.
//
// Pipeline position:
//
//	producer/metrics [Stage 3] → format/json [Stage 4] → transport/file [Stage 5]
//
// The formatter converts a models.Snapshot into a JSON byte slice. All json
// struct tags are declared on the model types themselves, so serialisation is
// a single json.Marshal call with optional indentation.
package json

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opengpon/gpon_collector/models"
)

// Formatter serialises a models.Snapshot into a byte slice. Alternative
// formatters (line protocol, Prometheus exposition …) can be added by
// implementing this interface without touching any other package.
type Formatter interface {
	Format(snap *models.Snapshot) ([]byte, error)
}

// Config controls JSONFormatter behaviour.
type Config struct {
	// PrettyPrint emits indented, human-readable JSON when true.
	PrettyPrint bool

	// Indent is the indent string used when PrettyPrint=true.
	// Defaults to two spaces when empty and PrettyPrint=true.
	Indent string
}

// JSONFormatter implements Formatter using encoding/json. It is safe for
// concurrent use by multiple goroutines; all fields are immutable after
// construction.
type JSONFormatter struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a JSONFormatter. If logger is nil, a no-op logger is
// substituted.
func New(cfg Config, logger *slog.Logger) *JSONFormatter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.PrettyPrint && cfg.Indent == "" {
		cfg.Indent = "  "
	}
	return &JSONFormatter{cfg: cfg, logger: logger}
}

// Format serialises snap to JSON. It returns a non-nil error only when
// json.Marshal itself fails. The returned byte slice is always non-nil on
// success.
func (f *JSONFormatter) Format(snap *models.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("format/json: snapshot must not be nil")
	}

	var (
		data []byte
		err  error
	)
	if f.cfg.PrettyPrint {
		data, err = json.MarshalIndent(snap, "", f.cfg.Indent)
	} else {
		data, err = json.Marshal(snap)
	}
	if err != nil {
		f.logger.Error("format/json: marshal failed",
			"device", snap.Device.Hostname,
			"error", err.Error(),
		)
		return nil, fmt.Errorf("format/json: marshal: %w", err)
	}

	f.logger.Debug("format/json: formatted snapshot",
		"device", snap.Device.Hostname,
		"metric_count", len(snap.Metrics),
		"bytes", len(data),
	)
	return data, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
