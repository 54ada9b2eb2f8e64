package crawler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RunWorkers starts n workers over the shared frontier and blocks until all of them exit.
// If nothing has been seen yet, the seed path is queued so the first dequeue acts as the seed.
// Returns the context error if the run was cancelled, nil once the frontier drained.
func (e *Engine) RunWorkers(ctx context.Context, n int) error {
	if n <= 0 {
		n = 1
	}
	if seen, _, _, _ := e.frontier.Counts(); seen == 0 {
		if e.frontier.Offer(e.seedPath) {
			e.markSeen(e.seedPath)
			e.log.Infof("No seed run yet, queued %s for the first worker", e.seedPath)
		}
	}

	e.log.Infof("Starting %d workers (idle retry delay %v)...", n, e.idleRetryDelay)
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= n; i++ {
		workerLog := e.log.WithField("worker_id", i)
		g.Go(func() error {
			return e.worker(gctx, i, workerLog)
		})
	}
	return g.Wait()
}

// worker drains the frontier. When the queue is empty it waits one idle interval and tries once more,
// exiting only if that retry also finds nothing.
func (e *Engine) worker(ctx context.Context, id int, workerLog *logrus.Entry) error {
	processed := 0
	defer func() {
		workerLog.WithField("processed", processed).Debug("Worker finished")
	}()

	idle := time.NewTimer(e.idleRetryDelay)
	idle.Stop()
	defer idle.Stop()

	for {
		if err := ctx.Err(); err != nil {
			workerLog.Warnf("Worker shutting down due to context cancellation: %v", err)
			return err
		}

		path, ok := e.frontier.TryDequeue()
		delayed := false
		if !ok {
			idle.Reset(e.idleRetryDelay)
			select {
			case <-idle.C:
			case <-ctx.Done():
				workerLog.Warnf("Worker shutting down due to context cancellation: %v", ctx.Err())
				return ctx.Err()
			}

			path, ok = e.frontier.TryDequeue()
			if !ok {
				workerLog.Info("Worker exited due to lack of work")
				return nil
			}
			delayed = true
		}

		if err := e.processOne(ctx, path, workerLog, id); err == nil {
			pathLog := workerLog.WithField("path", path)
			if delayed {
				pathLog.Info("Worker delayed but processed")
			} else {
				pathLog.Info("Worker processed")
			}
		}
		processed++
	}
}
