// Package app wires the GPON Collector pipeline stages together and manages
// their lifecycle.
//
// Poll path:
//
//	Scheduler → WorkerPool → [rawCh] → SessionParser → [parsedCh] →
//	Producer → [snapCh] → Formatter → [formattedCh] → Transport
//
// Failure path (parallel):
//
//	Scheduler poll-done callback → [failureCh] → JSON marshal →
//	[formattedCh] → Transport
//
// Both paths converge on a shared formattedCh so that a single transport
// goroutine writes all output. Successful snapshots additionally update the
// HTTP API state and, when configured, the SQLite archive.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	jsonformat "github.com/opengpon/gpon_collector/format/json"
	"github.com/opengpon/gpon_collector/models"
	"github.com/opengpon/gpon_collector/pkg/gponcollector/config"
	"github.com/opengpon/gpon_collector/pkg/gponcollector/poller"
	"github.com/opengpon/gpon_collector/pkg/gponcollector/scheduler"
	"github.com/opengpon/gpon_collector/producer/metrics"
	"github.com/opengpon/gpon_collector/shell/parser"
	sqlitestore "github.com/opengpon/gpon_collector/storage/sqlite"
	filetransport "github.com/opengpon/gpon_collector/transport/file"
	"github.com/opengpon/gpon_collector/transport/httpapi"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the top-level settings for the collector application.
// Zero-value fields fall back to documented defaults.
type Config struct {
	// ConfigPaths are the directories for YAML configuration files.
	// Use config.PathsFromEnv() to populate from environment variables.
	ConfigPaths config.Paths

	// CollectorID identifies this collector instance in output metadata.
	// Typically the hostname or pod name.
	CollectorID string

	// PollerWorkers is the number of concurrent poller goroutines.
	// Default: 4. A poll ties its worker up for the whole session, so this
	// bounds how many gateways are talked to at once.
	PollerWorkers int

	// BufferSize is the capacity of each inter-stage channel.
	// Default: 256.
	BufferSize int

	// RateDisabled turns off derived byte-rate metrics.
	RateDisabled bool

	// PrettyPrint enables indented JSON output.
	PrettyPrint bool

	// Transport is the output sink. nil = plain stdout JSONL transport.
	Transport filetransport.Transport

	// HTTPAddr is the listen address for the read API. Empty disables it.
	HTTPAddr string

	// SQLitePath is the snapshot archive location. Empty disables archiving.
	SQLitePath string
}

func (c *Config) withDefaults() {
	if c.CollectorID == "" {
		name, _ := os.Hostname()
		if name == "" {
			name = "gponcollector"
		}
		c.CollectorID = name
	}
	if c.PollerWorkers <= 0 {
		c.PollerWorkers = 4
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// App
// ─────────────────────────────────────────────────────────────────────────────

// pollOutcome is the failure-path message from the scheduler's poll-done
// callback to the failure formatter stage.
type pollOutcome struct {
	hostname string
	err      error
	at       time.Time
}

// App orchestrates the full collector pipeline. Create one with New, start it
// with Start, and stop it with Stop (or cancel the context).
type App struct {
	cfg    Config
	logger *slog.Logger

	// Loaded configuration (populated in Start).
	loadedCfg *config.LoadedConfig

	// Pipeline components.
	shellPoller *poller.ShellPoller
	workerPool  *poller.WorkerPool
	sched       *scheduler.Scheduler
	sessParser  *parser.SessionParser
	prod        *metrics.SnapshotProducer
	formatter   *jsonformat.JSONFormatter
	transport   filetransport.Transport
	state       *httpapi.State
	httpServer  *httpapi.Server
	store       *sqlitestore.Store

	// Device identities, fetched once at startup.
	identityMu sync.RWMutex
	identities map[string]models.Identity

	// Inter-stage channels.
	rawCh       chan parser.RawSessionResult
	parsedCh    chan parser.ParsedSession
	snapCh      chan models.Snapshot
	failureCh   chan pollOutcome
	formattedCh chan []byte

	// Lifecycle.
	cancel   context.CancelFunc
	wg       sync.WaitGroup // tracks pipeline goroutines
	formatWg sync.WaitGroup // tracks formatters feeding formattedCh
}

// New constructs an App. It does not start anything — call Start for that.
func New(cfg Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	cfg.withDefaults()
	return &App{
		cfg:        cfg,
		logger:     logger,
		identities: make(map[string]models.Identity),
	}
}

// Start loads configuration, constructs all pipeline stages, and launches the
// goroutines that connect them. It returns an error if configuration loading
// or the snapshot archive fails.
//
// The caller must eventually call Stop (or cancel the passed-in context's
// parent) to release resources.
func (a *App) Start(ctx context.Context) error {
	// ── 1. Load configuration ───────────────────────────────────────────
	a.logger.Info("app: loading configuration")
	loadedCfg, err := config.Load(a.cfg.ConfigPaths, a.logger)
	if err != nil {
		return fmt.Errorf("app: load config: %w", err)
	}
	a.loadedCfg = loadedCfg
	a.logger.Info("app: configuration loaded", "devices", len(loadedCfg.Devices))

	// ── 2. Create inter-stage channels ──────────────────────────────────
	a.rawCh = make(chan parser.RawSessionResult, a.cfg.BufferSize)
	a.parsedCh = make(chan parser.ParsedSession, a.cfg.BufferSize)
	a.snapCh = make(chan models.Snapshot, a.cfg.BufferSize)
	a.failureCh = make(chan pollOutcome, a.cfg.BufferSize)
	a.formattedCh = make(chan []byte, a.cfg.BufferSize)

	// ── 3. Build pipeline components (reverse order: transport → parser) ──
	a.transport = a.cfg.Transport
	if a.transport == nil {
		a.transport = filetransport.New(filetransport.Config{}, a.logger)
	}

	a.formatter = jsonformat.New(jsonformat.Config{
		PrettyPrint: a.cfg.PrettyPrint,
	}, a.logger)

	a.prod = metrics.New(metrics.Config{
		CollectorID: a.cfg.CollectorID,
		RateEnabled: !a.cfg.RateDisabled,
	}, a.logger)

	a.sessParser = parser.NewSessionParser(a.logger)

	a.shellPoller = poller.NewShellPoller(poller.Options{}, a.logger)
	a.workerPool = poller.NewWorkerPool(a.cfg.PollerWorkers, a.shellPoller, a.rawCh, a.logger)

	a.sched = scheduler.New(loadedCfg, a.workerPool, a.logger)
	a.sched.OnPollDone(a.onPollDone)

	a.state = httpapi.NewState()
	if a.cfg.HTTPAddr != "" {
		a.httpServer = httpapi.New(httpapi.Config{Addr: a.cfg.HTTPAddr}, a.state, a.logger)
	}

	if a.cfg.SQLitePath != "" {
		store, err := sqlitestore.Open(a.cfg.SQLitePath, a.logger)
		if err != nil {
			return fmt.Errorf("app: open snapshot archive: %w", err)
		}
		a.store = store
	}

	// ── 4. Create a cancellable context for all goroutines ──────────────
	pipeCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// ── 5. Pre-count formatter goroutines BEFORE starting the transport ──
	// formatWg gates the close of formattedCh. All Add() calls must happen
	// before the transport stage launches its formatWg.Wait() goroutine,
	// otherwise Wait() can return while the count is still 0 and close
	// formattedCh before the formatters have started.
	a.formatWg.Add(2) // snapshot formatter + failure formatter

	// ── 6. Start pipeline goroutines (transport first, sources last) ─────
	a.startTransportStage(pipeCtx)
	a.startFormatStage(pipeCtx)
	a.startFailureStage(pipeCtx)
	a.startProduceStage(pipeCtx)
	a.startParseStage(pipeCtx)

	// ── 7. Fetch device identities in the background ────────────────────
	a.fetchIdentities(pipeCtx)

	// ── 8. Start poller path ────────────────────────────────────────────
	a.workerPool.Start(pipeCtx)

	// Scheduler blocks in its own goroutine.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sched.Start(pipeCtx)
	}()
	a.logger.Info("app: scheduler started", "entries", a.sched.Entries())

	if a.httpServer != nil {
		a.httpServer.Start()
	}

	a.logger.Info("app: pipeline running",
		"poller_workers", a.cfg.PollerWorkers,
		"buffer_size", a.cfg.BufferSize,
		"http_addr", a.cfg.HTTPAddr,
	)
	return nil
}

// Stop performs a graceful shutdown.
//
// Shutdown order:
//  1. Cancel the pipeline context (stops scheduler + worker pool producers).
//  2. Wait for the scheduler goroutine to exit.
//  3. Drain the worker pool (waits for in-flight polls; their Done callbacks
//     may still emit onto failureCh).
//  4. Close rawCh and failureCh → parser and failure formatter drain →
//     producer drains → snapshot formatter drains.
//  5. Close formattedCh → transport goroutine drains → exits.
//  6. Close transport, HTTP server and snapshot archive.
func (a *App) Stop() {
	a.logger.Info("app: shutting down")

	// 1. Signal all goroutines to stop.
	if a.cancel != nil {
		a.cancel()
	}

	// 2. Wait for the scheduler to return.
	if a.sched != nil {
		a.sched.Stop()
	}

	// 3. Drain the worker pool (waits for in-flight polls).
	if a.workerPool != nil {
		a.workerPool.Stop()
	}

	// 4. Close the source channels to cascade closes through the pipeline.
	// All Done callbacks have run by now, so failureCh has no writers left.
	if a.rawCh != nil {
		close(a.rawCh)
	}
	if a.failureCh != nil {
		close(a.failureCh)
	}

	// 5. Wait for all pipeline goroutines to drain.
	a.wg.Wait()

	// 6. Release resources.
	if a.httpServer != nil {
		a.httpServer.Stop()
	}
	if a.transport != nil {
		if err := a.transport.Close(); err != nil {
			a.logger.Error("app: transport close error", "error", err.Error())
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("app: archive close error", "error", err.Error())
		}
	}

	a.logger.Info("app: shutdown complete")
}

// Reload atomically replaces the running configuration. New devices are
// polled immediately; removed devices stop; changed intervals take effect on
// the next cycle. Returns an error if the new configuration fails to load.
func (a *App) Reload() error {
	a.logger.Info("app: reloading configuration")
	newCfg, err := config.Load(a.cfg.ConfigPaths, a.logger)
	if err != nil {
		return fmt.Errorf("app: reload config: %w", err)
	}

	a.sched.Reload(newCfg)
	a.loadedCfg = newCfg

	a.logger.Info("app: configuration reloaded", "devices", len(newCfg.Devices))
	return nil
}

// State exposes the latest-observation view, mainly for embedding callers.
func (a *App) State() *httpapi.State { return a.state }

// ─────────────────────────────────────────────────────────────────────────────
// Failure path
// ─────────────────────────────────────────────────────────────────────────────

// onPollDone runs in a worker goroutine after every poll. Successful polls
// flow through the main pipeline; failures are handed to the failure stage.
func (a *App) onPollDone(hostname string, err error) {
	if err == nil {
		return
	}
	a.failureCh <- pollOutcome{hostname: hostname, err: err, at: time.Now()}
}

// ─────────────────────────────────────────────────────────────────────────────
// Identity bootstrap
// ─────────────────────────────────────────────────────────────────────────────

// fetchIdentities queries each device's identity block once, in parallel, at
// startup. A failed fetch is logged and left empty — identity is cosmetic
// metadata and must never block telemetry.
func (a *App) fetchIdentities(ctx context.Context) {
	for hostname, devCfg := range a.loadedCfg.Devices {
		a.wg.Add(1)
		go func(hostname string, devCfg config.DeviceConfig) {
			defer a.wg.Done()

			identity, err := a.shellPoller.FetchIdentity(ctx, devCfg)
			if err != nil {
				a.logger.Warn("app: identity fetch failed",
					"device", hostname, "error", err.Error(),
				)
				return
			}
			if identity.Empty() {
				a.logger.Debug("app: identity empty", "device", hostname)
				return
			}

			a.identityMu.Lock()
			a.identities[hostname] = identity
			a.identityMu.Unlock()

			a.logger.Info("app: identity collected",
				"device", hostname,
				"model", identity.Model,
				"firmware", identity.Firmware,
			)
		}(hostname, devCfg)
	}
}

// identityFor returns the cached identity for hostname, if any.
func (a *App) identityFor(hostname string) models.Identity {
	a.identityMu.RLock()
	defer a.identityMu.RUnlock()
	return a.identities[hostname]
}

// ─────────────────────────────────────────────────────────────────────────────
// Pipeline stage goroutines
// ─────────────────────────────────────────────────────────────────────────────

// startParseStage reads RawSessionResult from rawCh, extracts metric values,
// and sends the ParsedSession to parsedCh. When rawCh is closed (shutdown) it
// closes parsedCh to cascade the shutdown downstream.
func (a *App) startParseStage(_ context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(a.parsedCh)

		for raw := range a.rawCh {
			parsed := a.sessParser.Parse(raw)
			parsed.Device.Identity = a.identityFor(parsed.Device.Hostname)
			if len(parsed.Metrics) == 0 {
				a.logger.Warn("app: session yielded no metrics",
					"device", raw.Device.Hostname,
				)
			}
			a.parsedCh <- parsed
		}
	}()
}

// startProduceStage reads ParsedSession from parsedCh, produces a Snapshot,
// records it in the API state and archive, and sends it to snapCh. Closes
// snapCh when done.
func (a *App) startProduceStage(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(a.snapCh)

		for parsed := range a.parsedCh {
			snap, err := a.prod.Produce(parsed)
			if err != nil {
				a.logger.Warn("app: produce error",
					"device", parsed.Device.Hostname,
					"error", err.Error(),
				)
				continue
			}

			a.state.RecordSnapshot(&snap)
			if a.store != nil {
				if err := a.store.SaveSnapshot(ctx, &snap); err != nil {
					a.logger.Error("app: archive save error",
						"device", snap.Device.Hostname,
						"error", err.Error(),
					)
				}
			}

			a.snapCh <- snap
		}
	}()
}

// startFormatStage reads Snapshot from snapCh, formats to JSON, and sends to
// formattedCh. formatWg must already be incremented by the caller before this
// is called.
func (a *App) startFormatStage(_ context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.formatWg.Done()

		for snap := range a.snapCh {
			data, err := a.formatter.Format(&snap)
			if err != nil {
				a.logger.Warn("app: format error",
					"device", snap.Device.Hostname,
					"error", err.Error(),
				)
				continue
			}
			a.formattedCh <- data
		}
	}()
}

// startFailureStage reads poll outcomes from failureCh, records them in the
// API state, and emits a PollFailure record onto the shared formattedCh.
// formatWg must already be incremented by the caller before this is called.
func (a *App) startFailureStage(_ context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.formatWg.Done()

		for outcome := range a.failureCh {
			a.state.RecordFailure(outcome.hostname, outcome.err, outcome.at)

			record := models.PollFailure{
				Timestamp:   outcome.at,
				Hostname:    outcome.hostname,
				PollError:   outcome.err.Error(),
				ErrorKind:   poller.ErrorKind(outcome.err),
				CollectorID: a.cfg.CollectorID,
			}
			data, err := json.Marshal(&record)
			if err != nil {
				a.logger.Warn("app: failure record marshal error",
					"device", outcome.hostname,
					"error", err.Error(),
				)
				continue
			}
			a.formattedCh <- data
		}
	}()
}

// startTransportStage reads formatted bytes from formattedCh and writes them
// via the transport. It also owns the goroutine that closes formattedCh after
// all formatter goroutines finish.
func (a *App) startTransportStage(_ context.Context) {
	// Close formattedCh once all formatters are done.
	go func() {
		a.formatWg.Wait()
		close(a.formattedCh)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		for data := range a.formattedCh {
			if err := a.transport.Send(data); err != nil {
				a.logger.Error("app: transport send error",
					"error", err.Error(),
					"bytes", len(data),
				)
			}
		}
	}()
}

// ─────────────────────────────────────────────────────────────────────────────
// Utilities
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
