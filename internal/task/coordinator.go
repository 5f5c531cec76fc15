package task

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/xid"
	"go.uber.org/zap"
	"sync"
	"time"
	"txdesk/internal/api"
)

var (
	ErrNoFiles    = errors.New("please select at least one file")
	ErrBadBatchID = errors.New("no such batch")
	ErrClosed     = errors.New("coordinator is closed")
)

// retired batches above this number are forgotten, oldest first
const maxKeptBatches = 100

// DefaultPollInterval is the cadence of task status requests
const DefaultPollInterval = time.Second

// UploadError is returned by Submit when the upload request itself failed
// and no task is polled
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return "upload failed: " + e.Err.Error()
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Backend is the part of api.Client used by Coordinator
type Backend interface {
	Upload(ctx context.Context, files []api.File) ([]api.TaskDescriptor, error)
	TaskStatus(ctx context.Context, taskID string) (api.TaskStatus, error)
}

// Listener is notified about batch events. Calls for one batch never overlap
// and come in the order the events were recorded.
type Listener interface {
	TaskFailed(batchID xid.ID, o Outcome)
	BatchCompleted(s Snapshot)
}

// Recorder persists retired batches
type Recorder interface {
	Save(ctx context.Context, s Snapshot) error
}

type nopListener struct{}

func (nopListener) TaskFailed(xid.ID, Outcome) {}
func (nopListener) BatchCompleted(Snapshot)    {}

type hooks struct {
	listener Listener
	recorder Recorder
}

type store struct {
	rw      sync.RWMutex
	batches map[xid.ID]*Batch
	order   []xid.ID
}

func (s *store) put(b *Batch) {
	s.rw.Lock()
	defer s.rw.Unlock()

	s.batches[b.id] = b
	s.order = append(s.order, b.id)

	for len(s.order) > maxKeptBatches {
		oldest := s.batches[s.order[0]]
		select {
		case <-oldest.done:
		default:
			return
		}
		delete(s.batches, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *store) get(id xid.ID) (*Batch, bool) {
	s.rw.RLock()
	defer s.rw.RUnlock()
	b, ok := s.batches[id]
	return b, ok
}

// Coordinator uploads file sets and polls their tasks until every task is terminal.
// Only one batch is active at a time: Submit cancels the previous one.
type Coordinator struct {
	logger       *zap.Logger
	backend      Backend
	pollInterval time.Duration
	hooks        *hooks
	batches      *store

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	current *Batch
	closed  bool
}

// Option type represents function to modify Coordinator on construction
type Option func(c *Coordinator)

// WithPollInterval overrides DefaultPollInterval
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.pollInterval = d
	}
}

// WithListener sets batch event listener
func WithListener(l Listener) Option {
	return func(c *Coordinator) {
		c.hooks.listener = l
	}
}

// WithRecorder sets storage for retired batches
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.hooks.recorder = r
	}
}

func NewCoordinator(logger *zap.Logger, backend Backend, options ...Option) (*Coordinator, error) {
	if logger == nil {
		return nil, errors.New("no logger provided")
	}

	if backend == nil {
		return nil, errors.New("no backend provided")
	}

	ctx, stop := context.WithCancel(context.Background())

	c := &Coordinator{
		logger:       logger,
		backend:      backend,
		pollInterval: DefaultPollInterval,
		hooks:        &hooks{listener: nopListener{}},
		batches: &store{
			batches: make(map[xid.ID]*Batch),
		},
		ctx:  ctx,
		stop: stop,
	}

	for _, opt := range options {
		opt(c)
	}

	if c.pollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", c.pollInterval)
	}

	if c.hooks.listener == nil {
		c.hooks.listener = nopListener{}
	}

	return c, nil
}

// Submit uploads files as one batch and starts polling one task per accepted file.
// ctx bounds the upload request only, polling lasts until the batch is retired.
func (c *Coordinator) Submit(ctx context.Context, files []api.File) (*Batch, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	b, err := c.replaceCurrent()
	if err != nil {
		return nil, err
	}

	logger := b.logger
	logger.Info("uploading batch", zap.Int("files", len(files)))

	tasks, err := c.backend.Upload(ctx, files)
	if err != nil {
		logger.Warn("upload failed", zap.Error(err))
		c.forget(b)
		return nil, &UploadError{Err: err}
	}

	logger.Info("upload accepted", zap.Int("tasks", len(tasks)))

	c.mu.Lock()
	c.batches.put(b)
	if c.closed || c.current != b {
		// superseded by another Submit or canceled by Close while uploading
		c.mu.Unlock()
		return b, nil
	}
	c.wg.Add(len(tasks))
	c.mu.Unlock()

	// totals are set before any poll goroutine can record an outcome
	b.start(tasks)
	for _, t := range tasks {
		go c.poll(b, t)
	}

	return b, nil
}

// ReadBatch returns snapshot of a batch submitted by this Coordinator
func (c *Coordinator) ReadBatch(stringID string) (Snapshot, error) {
	id, err := xid.FromString(stringID)
	if err != nil {
		return Snapshot{}, ErrBadBatchID
	}

	b, ok := c.batches.get(id)
	if !ok {
		return Snapshot{}, ErrBadBatchID
	}

	return b.Snapshot(), nil
}

// Close cancels the active batch and waits for all poll goroutines to stop
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	current := c.current
	c.mu.Unlock()

	c.stop()
	if current != nil {
		current.cancel()
	}

	c.wg.Wait()
	c.logger.Info("coordinator is stopped")
}

func (c *Coordinator) replaceCurrent() (*Batch, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	previous := c.current
	b := newBatch(c.ctx, c.logger, c.hooks)
	c.current = b
	c.mu.Unlock()

	if previous != nil {
		select {
		case <-previous.done:
		default:
			c.logger.Info("canceling previous batch", zap.String("batch_id", previous.id.String()))
			previous.cancel()
		}
	}

	return b, nil
}

func (c *Coordinator) forget(b *Batch) {
	c.mu.Lock()
	if c.current == b {
		c.current = nil
	}
	c.mu.Unlock()
	b.stop()
}
