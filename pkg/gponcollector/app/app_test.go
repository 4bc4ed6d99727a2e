package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opengpon/gpon_collector/models"
	"github.com/opengpon/gpon_collector/pkg/gponcollector/config"
	"github.com/opengpon/gpon_collector/pkg/gponcollector/poller"
	"github.com/opengpon/gpon_collector/shell/parser"
	filetransport "github.com/opengpon/gpon_collector/transport/file"
)

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// safeBuffer is a mutex-guarded bytes.Buffer usable as a transport writer.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// writeTestConfig creates a device tree with one unreachable gateway whose
// session timing is tightened so tests never wait on real-device settles.
func writeTestConfig(t *testing.T) config.Paths {
	t.Helper()
	base := t.TempDir()

	devDir := filepath.Join(base, "devices")
	defDir := filepath.Join(base, "defaults")
	for _, d := range []string{devDir, defDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	writeYAML(t, filepath.Join(devDir, "dev1.yml"), `
testgw:
  host: 127.0.0.250
  username: admin
  password: secret
  poll_interval: 1
  connect_timeout_ms: 200
  banner_settle_ms: 1
  banner_read_ms: 1
  command_settle_ms: 1
  capture_window_ms: 20
`)

	return config.Paths{Devices: devDir, Defaults: defDir}
}

func writeYAML(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_defaults(t *testing.T) {
	a := New(Config{}, nil)

	if a.cfg.PollerWorkers != 4 {
		t.Errorf("PollerWorkers = %d, want 4", a.cfg.PollerWorkers)
	}
	if a.cfg.BufferSize != 256 {
		t.Errorf("BufferSize = %d, want 256", a.cfg.BufferSize)
	}
	if a.cfg.CollectorID == "" {
		t.Error("CollectorID should default to hostname, got empty")
	}
	if a.logger == nil {
		t.Error("logger should never be nil")
	}
}

func TestStartStop_emptyConfig(t *testing.T) {
	// The config loader silently skips nonexistent directories. An empty
	// config is valid — the scheduler simply has zero entries.
	a := New(Config{
		ConfigPaths:   config.Paths{Devices: "/nonexistent", Defaults: "/nonexistent"},
		PollerWorkers: 1,
		BufferSize:    10,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start with empty config: %v", err)
	}

	cancel()
	a.Stop()
}

func TestStartStop_lifecycle(t *testing.T) {
	paths := writeTestConfig(t)
	var buf safeBuffer

	a := New(Config{
		ConfigPaths:   paths,
		PollerWorkers: 2,
		BufferSize:    100,
		Transport:     filetransport.New(filetransport.Config{Writer: &buf}, nil),
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The device (127.0.0.250) will fail to connect — that's fine. We're
	// testing that the pipeline starts and stops cleanly, and that the
	// failed poll produces a failure record rather than a snapshot.
	time.Sleep(500 * time.Millisecond)

	cancel()
	a.Stop()

	out := buf.String()
	if out != "" && !strings.Contains(out, `"poll_error"`) {
		t.Errorf("transport output has no failure record: %s", out)
	}
}

func TestReload(t *testing.T) {
	paths := writeTestConfig(t)

	a := New(Config{
		ConfigPaths:   paths,
		PollerWorkers: 1,
		BufferSize:    10,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	if err := a.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
}

func TestPipelineIntegration_snapshotFlowsToTransport(t *testing.T) {
	// Bypasses the poller and injects a raw session result directly into the
	// pipeline to verify parse → produce → format → transport.
	var buf safeBuffer

	a := New(Config{
		ConfigPaths:   config.Paths{Devices: "/nonexistent", Defaults: "/nonexistent"},
		CollectorID:   "test",
		PollerWorkers: 1,
		BufferSize:    100,
		Transport:     filetransport.New(filetransport.Config{Writer: &buf}, nil),
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.rawCh <- parser.RawSessionResult{
		Device: models.Device{Hostname: "testgw", IPAddress: "127.0.0.250"},
		Outputs: []parser.CommandOutput{
			{Command: parser.CommandLaserCheck, Output: "Rx Optical Power        = -20.41 dBm\n"},
		},
		PollStartedAt: started,
		CollectedAt:   started.Add(9 * time.Second),
	}

	waitForOutput(t, &buf)

	cancel()
	a.Stop()

	var snap models.Snapshot
	line := strings.SplitN(strings.TrimSpace(buf.String()), "\n", 2)[0]
	if err := json.Unmarshal([]byte(line), &snap); err != nil {
		t.Fatalf("output is not a snapshot: %v\n%s", err, line)
	}
	if snap.Device.Hostname != "testgw" {
		t.Errorf("hostname = %q", snap.Device.Hostname)
	}
	if v, _ := snap.Metrics["laser_rx_power"].AsFloat(); v != -20.41 {
		t.Errorf("laser_rx_power = %v", v)
	}
	if snap.Metadata.CollectorID != "test" || snap.Metadata.PollStatus != "success" {
		t.Errorf("metadata = %+v", snap.Metadata)
	}

	// The API state saw the same snapshot.
	ds, ok := a.State().Device("testgw")
	if !ok || ds.Snapshot == nil {
		t.Fatal("state has no snapshot for testgw")
	}
	if ds.Stale() {
		t.Error("fresh snapshot reported stale")
	}
}

func TestPipelineIntegration_failureRecordFlowsToTransport(t *testing.T) {
	var buf safeBuffer

	a := New(Config{
		ConfigPaths:   config.Paths{Devices: "/nonexistent", Defaults: "/nonexistent"},
		CollectorID:   "test",
		PollerWorkers: 1,
		BufferSize:    100,
		Transport:     filetransport.New(filetransport.Config{Writer: &buf}, nil),
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	a.onPollDone("testgw", fmt.Errorf("poll testgw: %w", poller.ErrConnectTimeout))
	waitForOutput(t, &buf)

	cancel()
	a.Stop()

	var record models.PollFailure
	line := strings.SplitN(strings.TrimSpace(buf.String()), "\n", 2)[0]
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("output is not a failure record: %v\n%s", err, line)
	}
	if record.Hostname != "testgw" {
		t.Errorf("hostname = %q", record.Hostname)
	}
	if record.ErrorKind != "connect_timeout" {
		t.Errorf("error kind = %q", record.ErrorKind)
	}
	if !strings.Contains(record.PollError, "connect timeout") {
		t.Errorf("poll error = %q", record.PollError)
	}

	// Failures surface in the API state too.
	ds, ok := a.State().Device("testgw")
	if !ok || ds.LastError == "" {
		t.Fatal("state has no failure for testgw")
	}
}

// waitForOutput blocks until the transport buffer is non-empty.
func waitForOutput(t *testing.T, buf *safeBuffer) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if buf.String() != "" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("transport never produced output")
}
