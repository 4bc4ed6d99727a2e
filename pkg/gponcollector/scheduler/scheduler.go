// Package scheduler dispatches poll jobs at each device's configured
// interval. It guarantees that at most one poll per device is in flight at a
// time: a tick that fires while the previous poll is still running is skipped
// rather than queued, so a slow or hung session can never stack sessions on
// the same gateway.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opengpon/gpon_collector/models"
	"github.com/opengpon/gpon_collector/pkg/gponcollector/config"
	"github.com/opengpon/gpon_collector/pkg/gponcollector/poller"
)

// ─────────────────────────────────────────────────────────────────────────────
// JobSubmitter — interface for dependency injection
// ─────────────────────────────────────────────────────────────────────────────

// JobSubmitter is the subset of poller.WorkerPool consumed by the scheduler.
// Using an interface lets tests inject a mock without importing the full pool.
type JobSubmitter interface {
	Submit(poller.PollJob)
	TrySubmit(poller.PollJob) bool
}

// ─────────────────────────────────────────────────────────────────────────────
// Scheduler
// ─────────────────────────────────────────────────────────────────────────────

// entry tracks the next-fire time and in-flight state for a single device.
type entry struct {
	hostname string
	interval time.Duration
	nextRun  time.Time
	job      poller.PollJob
	inFlight bool
}

// Scheduler dispatches PollJob values into a JobSubmitter at each device's
// configured PollInterval.
type Scheduler struct {
	pool   JobSubmitter
	logger *slog.Logger

	// onDone, when non-nil, is called after every poll with its error
	// (nil on success). Set it before Start.
	onDone func(hostname string, err error)

	mu      sync.Mutex
	entries []*entry

	done chan struct{}
}

// New creates a Scheduler. The scheduler does NOT start automatically — call
// Start to begin dispatching.
func New(cfg *config.LoadedConfig, pool JobSubmitter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	s := &Scheduler{
		pool:   pool,
		logger: logger,
		done:   make(chan struct{}),
	}
	s.entries = s.buildEntries(cfg)
	return s
}

// OnPollDone registers a completion callback invoked after every poll, in the
// worker goroutine. Must be called before Start.
func (s *Scheduler) OnPollDone(fn func(hostname string, err error)) {
	s.onDone = fn
}

// Entries returns the number of scheduled devices.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs the scheduling loop. It blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		if len(s.entries) == 0 {
			s.mu.Unlock()
			// Nothing to schedule — wait for context cancellation or a Reload.
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
				continue
			}
		}

		// Sort by next run time.
		sort.Slice(s.entries, func(i, j int) bool {
			return s.entries[i].nextRun.Before(s.entries[j].nextRun)
		})
		next := s.entries[0].nextRun
		s.mu.Unlock()

		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now := time.Now()
		s.mu.Lock()
		for _, e := range s.entries {
			if e.nextRun.After(now) {
				break
			}
			s.fireEntry(e)
			e.nextRun = now.Add(e.interval)
		}
		s.mu.Unlock()
	}
}

// Stop waits for the scheduling loop to exit. The caller must cancel the
// context passed to Start before calling Stop.
func (s *Scheduler) Stop() {
	<-s.done
}

// Reload atomically replaces the running config. New devices are polled
// immediately; removed devices stop; changed intervals take effect on the
// next cycle.
func (s *Scheduler) Reload(cfg *config.LoadedConfig) {
	newEntries := s.buildEntries(cfg)
	s.mu.Lock()
	s.entries = newEntries
	s.mu.Unlock()
	s.logger.Info("scheduler: config reloaded", "devices", len(newEntries))
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal
// ─────────────────────────────────────────────────────────────────────────────

// fireEntry submits the entry's job unless a previous poll for the device is
// still outstanding. Called with s.mu held.
func (s *Scheduler) fireEntry(e *entry) {
	if e.inFlight {
		s.logger.Warn("scheduler: previous poll still running — skipping tick",
			"device", e.hostname,
		)
		return
	}
	e.inFlight = true

	job := e.job
	job.Done = func(err error) {
		s.mu.Lock()
		e.inFlight = false
		s.mu.Unlock()
		if s.onDone != nil {
			s.onDone(e.hostname, err)
		}
	}

	if !s.pool.TrySubmit(job) {
		// A saturated pool means polls are already backed up; dropping the
		// tick is safer than blocking the scheduling loop. The next interval
		// retries.
		e.inFlight = false
		s.logger.Warn("scheduler: worker pool saturated — dropping tick",
			"device", e.hostname,
		)
	}
}

// buildEntries converts loaded config into schedule entries. All devices
// start due immediately so the first snapshot appears without waiting a full
// interval.
func (s *Scheduler) buildEntries(cfg *config.LoadedConfig) []*entry {
	if cfg == nil {
		return nil
	}
	now := time.Now()
	entries := make([]*entry, 0, len(cfg.Devices))
	for hostname, dev := range cfg.Devices {
		entries = append(entries, &entry{
			hostname: hostname,
			interval: dev.Interval(),
			nextRun:  now,
			job: poller.PollJob{
				Hostname: hostname,
				Device: models.Device{
					Hostname:  hostname,
					IPAddress: dev.Host,
				},
				DeviceConfig: dev,
			},
		})
	}
	return entries
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
