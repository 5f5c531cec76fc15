package task

import (
	"context"
	"github.com/rs/xid"
	"go.uber.org/zap"
	"sync"
	"time"
	"txdesk/internal/api"
)

// Batch aggregates all tasks issued from one upload submission.
// It is owned by the Submit call that created it and by its poll goroutines.
type Batch struct {
	id     xid.ID
	logger *zap.Logger
	ctx    context.Context
	stop   context.CancelFunc
	hooks  *hooks

	// events serializes state transitions together with listener calls,
	// so listeners observe them in the order they were recorded
	events sync.Mutex

	rw         sync.RWMutex
	state      BatchState
	stats      Stats
	tasks      []api.TaskDescriptor
	outcomes   []Outcome
	startedAt  time.Time
	finishedAt time.Time

	done chan struct{}
}

func newBatch(ctx context.Context, logger *zap.Logger, h *hooks) *Batch {
	id := xid.New()
	ctx, stop := context.WithCancel(ctx)

	return &Batch{
		id:        id,
		logger:    logger.With(zap.String("batch_id", id.String())),
		ctx:       ctx,
		stop:      stop,
		hooks:     h,
		state:     Processing,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns batch identifier
func (b *Batch) ID() xid.ID {
	return b.id
}

// Wait blocks until the batch is retired or ctx is done
func (b *Batch) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-b.done:
		return b.Snapshot(), nil
	case <-ctx.Done():
		return b.Snapshot(), ctx.Err()
	}
}

// Snapshot returns a copy of current batch state
func (b *Batch) Snapshot() Snapshot {
	b.rw.RLock()
	defer b.rw.RUnlock()

	return Snapshot{
		ID:         b.id,
		State:      b.state,
		Stats:      b.stats,
		Tasks:      append([]api.TaskDescriptor(nil), b.tasks...),
		Outcomes:   append([]Outcome(nil), b.outcomes...),
		StartedAt:  b.startedAt,
		FinishedAt: b.finishedAt,
	}
}

// start sets tasks to be polled. An empty task list completes the batch at once.
// A batch retired before its upload returned keeps its final snapshot.
func (b *Batch) start(tasks []api.TaskDescriptor) {
	b.events.Lock()
	defer b.events.Unlock()

	b.rw.Lock()
	if b.state != Processing {
		b.rw.Unlock()
		return
	}
	b.tasks = tasks
	b.stats.TotalTasks = len(tasks)
	empty := len(tasks) == 0
	if empty {
		b.retire(Completed)
	}
	b.rw.Unlock()

	if empty {
		b.finish()
	}
}

// record applies one terminal transition. Transitions arriving after the batch
// was retired are dropped.
func (b *Batch) record(o Outcome) {
	b.events.Lock()
	defer b.events.Unlock()

	b.rw.Lock()
	if b.state != Processing {
		b.rw.Unlock()
		b.logger.Debug("dropping outcome of retired batch", zap.String("task_id", o.Task.TaskID))
		return
	}

	b.outcomes = append(b.outcomes, o)
	b.stats.CompletedTasks++
	if o.State == api.TaskSucceeded {
		b.stats.merge(o.Result)
	}

	last := b.stats.CompletedTasks == b.stats.TotalTasks
	if last {
		b.retire(Completed)
	}
	b.rw.Unlock()

	if o.State == api.TaskFailed {
		b.hooks.listener.TaskFailed(b.id, o)
	}

	if last {
		b.finish()
	}
}

// cancel stops poll goroutines and retires the batch unless it is already retired
func (b *Batch) cancel() {
	b.stop()

	b.events.Lock()
	defer b.events.Unlock()

	b.rw.Lock()
	canceled := b.state == Processing
	if canceled {
		b.retire(Canceled)
	}
	b.rw.Unlock()

	if canceled {
		b.finish()
	}
}

// retire must be called with rw held
func (b *Batch) retire(state BatchState) {
	b.state = state
	b.finishedAt = time.Now()
}

// finish must be called with events held, exactly once per batch
func (b *Batch) finish() {
	snapshot := b.Snapshot()

	b.logger.Info("batch is retired",
		zap.Stringer("state", snapshot.State),
		zap.Int("completed_tasks", snapshot.Stats.CompletedTasks),
		zap.Int("total_tasks", snapshot.Stats.TotalTasks),
	)

	if b.hooks.recorder != nil {
		err := b.hooks.recorder.Save(context.Background(), snapshot)
		if err != nil {
			b.logger.Error("failed to save batch to journal", zap.Error(err))
		}
	}

	if snapshot.State == Completed {
		b.hooks.listener.BatchCompleted(snapshot)
	}

	b.stop()
	close(b.done)
}
