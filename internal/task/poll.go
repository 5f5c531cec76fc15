package task

import (
	"errors"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"time"
	"txdesk/internal/api"
)

var errTaskPending = errors.New("task is not finished yet")

// poll requests task status every poll interval until a terminal status is observed
// or the batch is canceled. The first request is sent one interval after start.
// Transport failures are terminal for the task, pending answers are retried without bound.
func (c *Coordinator) poll(b *Batch, t api.TaskDescriptor) {
	defer c.wg.Done()

	ctx := b.ctx
	logger := b.logger.With(zap.String("task_id", t.TaskID), zap.String("filename", t.Filename))
	logger.Debug("polling task")

	timer := time.NewTimer(c.pollInterval)
	select {
	case <-ctx.Done():
		timer.Stop()
		logger.Debug("polling is canceled before first request")
		return
	case <-timer.C:
	}

	var outcome Outcome
	operation := func() error {
		status, err := c.backend.TaskStatus(ctx, t.TaskID)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logger.Warn("failed to read task status", zap.Error(err))
			outcome = failed(t, err.Error())
			return nil
		}

		switch status.State {
		case api.TaskSucceeded:
			outcome = succeeded(t, status.Result)
			return nil
		case api.TaskFailed:
			outcome = failed(t, status.Error)
			return nil
		default:
			return errTaskPending
		}
	}

	schedule := backoff.WithContext(backoff.NewConstantBackOff(c.pollInterval), ctx)
	err := backoff.RetryNotify(operation, schedule, func(err error, next time.Duration) {
		logger.Debug("task is pending", zap.Duration("next_poll_in", next))
	})
	if err != nil {
		logger.Debug("polling is canceled", zap.Error(err))
		return
	}

	logger.Info("task is terminal", zap.Stringer("state", outcome.State))
	b.record(outcome)
}
