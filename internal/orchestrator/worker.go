package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-ingestor/internal/queue"
	"github.com/tendant/simple-ingestor/internal/store"
)

const DefaultLeaseTTL = 10 * time.Minute

// Runner processes one job to completion.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// WorkerPool runs a fixed number of goroutines that pop queued jobs and run
// them while holding the job lease.
type WorkerPool struct {
	queue        queue.Queue
	store        *store.JobStore
	runner       Runner
	workers      int
	holder       string
	leaseTTL     time.Duration
	notify       chan struct{}
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewWorkerPool creates a pool with the given number of workers. holder
// identifies this instance in lease values.
func NewWorkerPool(q queue.Queue, s *store.JobStore, runner Runner, workers int, holder string, leaseTTL time.Duration, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		queue:        q,
		store:        s,
		runner:       runner,
		workers:      workers,
		holder:       holder,
		leaseTTL:     leaseTTL,
		notify:       make(chan struct{}, 1),
		pollInterval: 5 * time.Second,
		logger:       logger,
	}
}

// Notify wakes idle workers to check the queue. Non-blocking.
func (wp *WorkerPool) Notify() {
	select {
	case wp.notify <- struct{}{}:
	default:
	}
}

// Run starts worker goroutines and blocks until ctx is cancelled and all
// workers have drained.
func (wp *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range wp.workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			wp.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (wp *WorkerPool) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		wp.drain(ctx, id)

		select {
		case <-ctx.Done():
			return
		case <-wp.notify:
		case <-ticker.C:
		}
	}
}

func (wp *WorkerPool) drain(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		item, ok, err := wp.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wp.logger.Error("worker: dequeue", "worker", id, "err", err)
			return
		}
		if !ok {
			return
		}

		// More work may be waiting; let an idle sibling look too.
		wp.Notify()
		wp.runLeased(ctx, id, item)
	}
}

func (wp *WorkerPool) runLeased(ctx context.Context, id int, item queue.Item) {
	holder := fmt.Sprintf("%s/%d", wp.holder, id)
	lease, err := wp.store.AcquireLease(ctx, item.JobID, holder, wp.leaseTTL)
	if err != nil {
		wp.logger.Error("worker: acquire lease", "worker", id, "job_id", item.JobID, "err", err)
		return
	}
	if lease == nil {
		wp.logger.Debug("worker: job already leased", "worker", id, "job_id", item.JobID)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		wp.renew(jobCtx, cancel, lease, item.JobID)
	}()

	wp.logger.Info("worker: processing job", "worker", id, "job_id", item.JobID, "priority", item.Priority)
	if err := wp.runner.Run(jobCtx, item.JobID); err != nil {
		wp.logger.Error("worker: run job", "worker", id, "job_id", item.JobID, "err", err)
	}

	cancel()
	<-renewDone

	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer rcancel()
	if err := lease.Release(rctx); err != nil {
		wp.logger.Warn("worker: release lease", "job_id", item.JobID, "err", err)
	}
}

// renew keeps the lease alive until ctx ends. Losing the lease cancels the
// job so two workers never write the same job.
func (wp *WorkerPool) renew(ctx context.Context, cancel context.CancelFunc, lease *store.Lease, jobID string) {
	ticker := time.NewTicker(lease.TTL() / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := lease.Renew(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				wp.logger.Warn("worker: renew lease", "job_id", jobID, "err", err)
				continue
			}
			if !ok {
				wp.logger.Error("worker: lease lost, stopping job", "job_id", jobID)
				cancel()
				return
			}
		}
	}
}
