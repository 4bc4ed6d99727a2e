// Package sqlite persists telemetry snapshots to an embedded SQLite database.
//
// Each snapshot becomes one row in the snapshots table plus one row per
// metric in metric_values. The store keeps history; LatestSnapshot
// reconstructs the most recent snapshot for a device from those rows.
//
// The driver is the pure-Go modernc.org/sqlite build, so no cgo is required.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opengpon/gpon_collector/models"
)

// ErrNotFound is returned when no snapshot exists for the requested device.
var ErrNotFound = errors.New("storage/sqlite: snapshot not found")

// schema is applied on every Open; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname         TEXT    NOT NULL,
	ip_address       TEXT    NOT NULL,
	taken_at         TIMESTAMP NOT NULL,
	poll_duration_ms INTEGER NOT NULL,
	poll_status      TEXT    NOT NULL,
	collector_id     TEXT    NOT NULL,
	firmware         TEXT,
	bootloader       TEXT,
	manufacturer     TEXT,
	model            TEXT,
	serial_number    TEXT
);
CREATE INDEX IF NOT EXISTS idx_snapshots_host_time
	ON snapshots (hostname, taken_at DESC);

CREATE TABLE IF NOT EXISTS metric_values (
	snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	key         TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	value       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metric_values_snapshot
	ON metric_values (snapshot_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// Store
// ─────────────────────────────────────────────────────────────────────────────

// Store is a snapshot archive backed by a SQLite file.  It is safe for
// concurrent use; database/sql serialises access to the single writer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
// logger may be nil.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: open %s: %w", path, err)
	}
	// SQLite allows a single writer; more connections just queue on locks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage/sqlite: apply schema: %w", err)
	}

	logger.Info("storage/sqlite: opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// SaveSnapshot persists one snapshot and all its metric values in a single
// transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage/sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots
			(hostname, ip_address, taken_at, poll_duration_ms, poll_status,
			 collector_id, firmware, bootloader, manufacturer, model, serial_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Device.Hostname,
		snap.Device.IPAddress,
		snap.Timestamp.UTC(),
		snap.Metadata.PollDurationMs,
		snap.Metadata.PollStatus,
		snap.Metadata.CollectorID,
		snap.Device.Identity.Firmware,
		snap.Device.Identity.Bootloader,
		snap.Device.Identity.Manufacturer,
		snap.Device.Identity.Model,
		snap.Device.Identity.SerialNumber,
	)
	if err != nil {
		return fmt.Errorf("storage/sqlite: insert snapshot: %w", err)
	}
	snapID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("storage/sqlite: last insert id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metric_values (snapshot_id, key, kind, value)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage/sqlite: prepare metric insert: %w", err)
	}
	defer stmt.Close()

	for key, val := range snap.Metrics {
		kind, text := encodeValue(val)
		if _, err := stmt.ExecContext(ctx, snapID, key, kind, text); err != nil {
			return fmt.Errorf("storage/sqlite: insert metric %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage/sqlite: commit: %w", err)
	}

	s.logger.Debug("storage/sqlite: snapshot saved",
		"hostname", snap.Device.Hostname, "metrics", len(snap.Metrics),
	)
	return nil
}

// LatestSnapshot reconstructs the most recent snapshot for hostname.
// Returns ErrNotFound when the device has no stored snapshots.
func (s *Store) LatestSnapshot(ctx context.Context, hostname string) (*models.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hostname, ip_address, taken_at, poll_duration_ms, poll_status,
		       collector_id, firmware, bootloader, manufacturer, model, serial_number
		FROM snapshots
		WHERE hostname = ?
		ORDER BY taken_at DESC, id DESC
		LIMIT 1`, hostname)

	var (
		snapID  int64
		snap    models.Snapshot
		takenAt time.Time
	)
	err := row.Scan(
		&snapID,
		&snap.Device.Hostname,
		&snap.Device.IPAddress,
		&takenAt,
		&snap.Metadata.PollDurationMs,
		&snap.Metadata.PollStatus,
		&snap.Metadata.CollectorID,
		&snap.Device.Identity.Firmware,
		&snap.Device.Identity.Bootloader,
		&snap.Device.Identity.Manufacturer,
		&snap.Device.Identity.Model,
		&snap.Device.Identity.SerialNumber,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: query snapshot: %w", err)
	}
	snap.Timestamp = takenAt

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, kind, value FROM metric_values WHERE snapshot_id = ?`, snapID)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: query metrics: %w", err)
	}
	defer rows.Close()

	snap.Metrics = make(map[string]models.Value)
	for rows.Next() {
		var key, kind, text string
		if err := rows.Scan(&key, &kind, &text); err != nil {
			return nil, fmt.Errorf("storage/sqlite: scan metric: %w", err)
		}
		val, err := decodeValue(kind, text)
		if err != nil {
			s.logger.Warn("storage/sqlite: skipping undecodable metric",
				"key", key, "kind", kind, "error", err.Error(),
			)
			continue
		}
		snap.Metrics[key] = val
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage/sqlite: iterate metrics: %w", err)
	}

	return &snap, nil
}

// Hostnames returns the distinct device hostnames with stored snapshots.
func (s *Store) Hostnames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT hostname FROM snapshots ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: query hostnames: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("storage/sqlite: scan hostname: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Prune deletes snapshots (and their metric rows) older than cutoff.
// Returns the number of snapshots removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM metric_values WHERE snapshot_id IN
			(SELECT id FROM snapshots WHERE taken_at < ?)`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("storage/sqlite: prune metrics: %w", err)
	}
	_ = res

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE taken_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("storage/sqlite: prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("storage/sqlite: pruned snapshots", "count", n)
	}
	return n, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Value encoding
// ─────────────────────────────────────────────────────────────────────────────

// encodeValue flattens a Value to a (kind, text) pair for storage.
func encodeValue(v models.Value) (string, string) {
	switch v.Kind() {
	case models.KindInt:
		i, _ := v.AsInt()
		return "int", strconv.FormatInt(i, 10)
	case models.KindFloat:
		f, _ := v.AsFloat()
		return "float", strconv.FormatFloat(f, 'g', -1, 64)
	default:
		s, _ := v.AsString()
		return "string", s
	}
}

// decodeValue is the inverse of encodeValue.
func decodeValue(kind, text string) (models.Value, error) {
	switch kind {
	case "int":
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return models.Value{}, err
		}
		return models.IntValue(i), nil
	case "float":
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return models.Value{}, err
		}
		return models.FloatValue(f), nil
	case "string":
		return models.StringValue(text), nil
	default:
		return models.Value{}, fmt.Errorf("unknown value kind %q", kind)
	}
}

// noopWriter discards all log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
