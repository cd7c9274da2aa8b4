package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Pool executes runs in the background with bounded concurrency. Submission
// never blocks the caller: the trigger interface accepts the run and returns
// immediately while the pool works it off.
type Pool struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
	sem          *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool running at most maxConcurrent runs at once.
func NewPool(orchestrator *Orchestrator, maxConcurrent int64, logger *slog.Logger) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		orchestrator: orchestrator,
		logger:       logger,
		sem:          semaphore.NewWeighted(maxConcurrent),
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

// Schedule queues a run for background execution. Returns an error only
// when the pool is already shut down.
func (p *Pool) Schedule(runID uuid.UUID) error {
	if p.baseCtx.Err() != nil {
		return fmt.Errorf("engine: pool is shut down")
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.baseCtx, 1); err != nil {
			p.logger.Warn("run never started, pool shutting down", "run_id", runID)
			return
		}
		defer p.sem.Release(1)

		if err := p.orchestrator.Execute(p.baseCtx, runID); err != nil {
			p.logger.Error("run execution error", "run_id", runID, "error", err)
		}
	}()
	return nil
}

// Shutdown cancels in-flight runs at their next state boundary and waits
// for them to persist their terminal state.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: pool shutdown timed out: %w", ctx.Err())
	}
}
