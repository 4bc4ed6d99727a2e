package poller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opengpon/gpon_collector/shell/parser"
)

// ─────────────────────────────────────────────────────────────────────────────
// WorkerPool — fan-out dispatcher for PollJobs
// ─────────────────────────────────────────────────────────────────────────────

// WorkerPool fans poll jobs out to N worker goroutines and collects results
// into a shared output channel. Commands within one job remain strictly
// sequential; the pool only parallelises across devices.
type WorkerPool struct {
	numWorkers int
	poller     Poller
	output     chan<- parser.RawSessionResult
	logger     *slog.Logger

	jobs chan PollJob
	wg   sync.WaitGroup
}

// NewWorkerPool creates a pool of numWorkers goroutines that execute poll jobs
// using the supplied Poller and send successful results to output.
func NewWorkerPool(numWorkers int, poller Poller, output chan<- parser.RawSessionResult, logger *slog.Logger) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &WorkerPool{
		numWorkers: numWorkers,
		poller:     poller,
		output:     output,
		logger:     logger,
		jobs:       make(chan PollJob, numWorkers*2),
	}
}

// Start launches the worker goroutines. They run until ctx is cancelled or
// Stop is called.
func (w *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < w.numWorkers; i++ {
		w.wg.Add(1)
		go w.worker(ctx)
	}
}

// Submit enqueues a poll job. It blocks if the internal job channel is full.
func (w *WorkerPool) Submit(job PollJob) {
	w.jobs <- job
}

// TrySubmit enqueues a poll job without blocking. Returns false if the channel
// is full, allowing the caller to drop or defer the job.
func (w *WorkerPool) TrySubmit(job PollJob) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

// Stop closes the job channel and waits for all workers to drain.
func (w *WorkerPool) Stop() {
	close(w.jobs)
	w.wg.Wait()
}

// worker is the per-goroutine loop. A failed poll yields no output message —
// the failure is reported through job.Done and the previous snapshot stays
// current downstream.
func (w *WorkerPool) worker(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			result, err := w.poller.Poll(ctx, job)
			if job.Done != nil {
				job.Done(err)
			}
			if err != nil {
				w.logger.Warn("poll failed",
					"device", job.Hostname,
					"error", err.Error(),
				)
				continue
			}
			select {
			case w.output <- result:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
