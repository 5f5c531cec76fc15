package task_test

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"txdesk/internal/api"
	"txdesk/internal/apitest"
	"txdesk/internal/task"
)

const testPollInterval = 5 * time.Millisecond

type recordingListener struct {
	mu        sync.Mutex
	failures  []task.Outcome
	completed []task.Snapshot
}

func (l *recordingListener) TaskFailed(_ xid.ID, o task.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, o)
}

func (l *recordingListener) BatchCompleted(s task.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, s)
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failures), len(l.completed)
}

type recordingRecorder struct {
	mu    sync.Mutex
	saved []task.Snapshot
}

func (r *recordingRecorder) Save(_ context.Context, s task.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, s)
	return nil
}

// stubBackend answers without HTTP so goroutine accounting only sees the coordinator
type stubBackend struct {
	mu        sync.Mutex
	tasks     []api.TaskDescriptor
	uploadErr error
	uploads   int
	status    func(taskID string, poll int) (api.TaskStatus, error)
	polls     map[string]int
}

func (s *stubBackend) Upload(_ context.Context, files []api.File) ([]api.TaskDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	return s.tasks, nil
}

func (s *stubBackend) TaskStatus(ctx context.Context, taskID string) (api.TaskStatus, error) {
	s.mu.Lock()
	if s.polls == nil {
		s.polls = make(map[string]int)
	}
	s.polls[taskID]++
	n := s.polls[taskID]
	status := s.status
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return api.TaskStatus{}, err
	}
	if status == nil {
		return api.TaskStatus{State: api.TaskPending}, nil
	}
	return status(taskID, n)
}

func (s *stubBackend) pollCount(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls[taskID]
}

// gatedBackend holds the first upload until release is closed
type gatedBackend struct {
	*stubBackend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) Upload(ctx context.Context, files []api.File) ([]api.TaskDescriptor, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.stubBackend.Upload(ctx, files)
}

func files(names ...string) []api.File {
	out := make([]api.File, 0, len(names))
	for _, n := range names {
		out = append(out, api.File{Name: n, Content: strings.NewReader("transaction_uti\n" + n + "\n")})
	}
	return out
}

func newCoordinator(t *testing.T, backend task.Backend, options ...task.Option) *task.Coordinator {
	t.Helper()
	options = append([]task.Option{task.WithPollInterval(testPollInterval)}, options...)
	c, err := task.NewCoordinator(zaptest.NewLogger(t), backend, options...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func waitRetired(t *testing.T, b *task.Batch) task.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := b.Wait(ctx)
	require.NoError(t, err)
	return s
}

func TestNewCoordinatorValidation(t *testing.T) {
	_, err := task.NewCoordinator(nil, &stubBackend{})
	require.Error(t, err)

	_, err = task.NewCoordinator(zaptest.NewLogger(t), nil)
	require.Error(t, err)

	_, err = task.NewCoordinator(zaptest.NewLogger(t), &stubBackend{}, task.WithPollInterval(0))
	require.Error(t, err)
}

func TestSubmitWithoutFilesSendsNothing(t *testing.T) {
	backend := apitest.New(t)
	client, err := api.NewClient(zaptest.NewLogger(t), backend.URL())
	require.NoError(t, err)
	c := newCoordinator(t, client)

	_, err = c.Submit(context.Background(), nil)
	require.ErrorIs(t, err, task.ErrNoFiles)
	require.Empty(t, backend.Uploads())
}

func TestSubmitMixedOutcomes(t *testing.T) {
	backend := apitest.New(t)
	backend.AcceptUpload(
		api.TaskDescriptor{TaskID: "a", Filename: "x.csv"},
		api.TaskDescriptor{TaskID: "b", Filename: "y.csv"},
	)
	backend.ScriptTask("a", apitest.Pending(), apitest.Succeeded(api.TaskResult{TotalRecords: 10, NewCount: 7, DuplicateCount: 3}))
	backend.ScriptTask("b", apitest.Failed("bad format"))

	client, err := api.NewClient(zaptest.NewLogger(t), backend.URL())
	require.NoError(t, err)
	listener := &recordingListener{}
	recorder := &recordingRecorder{}
	c := newCoordinator(t, client, task.WithListener(listener), task.WithRecorder(recorder))

	b, err := c.Submit(context.Background(), files("x.csv", "y.csv"))
	require.NoError(t, err)

	s := waitRetired(t, b)
	require.Equal(t, task.Completed, s.State)
	require.Equal(t, task.Stats{
		TotalRecords:     10,
		NewRecords:       7,
		DuplicateRecords: 3,
		CompletedTasks:   2,
		TotalTasks:       2,
	}, s.Stats)

	failures := s.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, "y.csv", failures[0].Task.Filename)
	require.Equal(t, "bad format", failures[0].Error)

	require.Len(t, listener.failures, 1)
	require.Equal(t, "y.csv", listener.failures[0].Task.Filename)
	require.Len(t, listener.completed, 1)
	require.Equal(t, s.Stats, listener.completed[0].Stats)

	require.Len(t, recorder.saved, 1)
	require.Equal(t, b.ID(), recorder.saved[0].ID)

	// terminal tasks are not polled anymore
	polls := backend.Polls("a") + backend.Polls("b")
	time.Sleep(10 * testPollInterval)
	require.Equal(t, polls, backend.Polls("a")+backend.Polls("b"))
	require.Equal(t, 2, backend.Polls("a"))
	require.Equal(t, 1, backend.Polls("b"))
}

func TestCompletionFiresOnceForAnyInterleaving(t *testing.T) {
	const n = 25

	var tasks []api.TaskDescriptor
	for i := 0; i < n; i++ {
		tasks = append(tasks, api.TaskDescriptor{TaskID: fmt.Sprintf("t%d", i), Filename: fmt.Sprintf("f%d.csv", i)})
	}

	backend := &stubBackend{
		tasks: tasks,
		status: func(taskID string, poll int) (api.TaskStatus, error) {
			var i int
			_, _ = fmt.Sscanf(taskID, "t%d", &i)
			if poll < 1+i%4 {
				return api.TaskStatus{State: api.TaskPending}, nil
			}
			if i%5 == 0 {
				return api.TaskStatus{State: api.TaskFailed, Error: "rejected " + taskID}, nil
			}
			return api.TaskStatus{State: api.TaskSucceeded, Result: api.TaskResult{TotalRecords: 3, NewCount: 2, DuplicateCount: 1}}, nil
		},
	}

	listener := &recordingListener{}
	c := newCoordinator(t, backend, task.WithListener(listener))

	b, err := c.Submit(context.Background(), files("batch.csv"))
	require.NoError(t, err)

	s := waitRetired(t, b)
	require.Equal(t, n, s.Stats.TotalTasks)
	require.Equal(t, n, s.Stats.CompletedTasks)
	require.Len(t, s.Outcomes, n)

	succeededTasks := int64(n - n/5)
	require.Equal(t, 3*succeededTasks, s.Stats.TotalRecords)
	require.Equal(t, 2*succeededTasks, s.Stats.NewRecords)
	require.Equal(t, 1*succeededTasks, s.Stats.DuplicateRecords)

	failures, completed := listener.counts()
	require.Equal(t, n/5, failures)
	require.Equal(t, 1, completed)
}

func TestUploadFailureStartsNoPolling(t *testing.T) {
	backend := apitest.New(t)
	backend.RejectUpload(http.StatusBadRequest, "File type not allowed: notes.txt")
	client, err := api.NewClient(zaptest.NewLogger(t), backend.URL())
	require.NoError(t, err)
	c := newCoordinator(t, client)

	_, err = c.Submit(context.Background(), files("notes.txt"))

	var uploadErr *task.UploadError
	require.True(t, errors.As(err, &uploadErr))
	require.Equal(t, "File type not allowed: notes.txt", uploadErr.Err.Error())

	var statusErr *api.StatusError
	require.True(t, errors.As(err, &statusErr))
}

func TestTransportFailureDuringPollIsTerminal(t *testing.T) {
	backend := &stubBackend{
		tasks: []api.TaskDescriptor{{TaskID: "a", Filename: "x.csv"}, {TaskID: "b", Filename: "y.csv"}},
		status: func(taskID string, _ int) (api.TaskStatus, error) {
			if taskID == "b" {
				return api.TaskStatus{}, errors.New("connection reset by peer")
			}
			return api.TaskStatus{State: api.TaskSucceeded, Result: api.TaskResult{TotalRecords: 4, NewCount: 4}}, nil
		},
	}
	listener := &recordingListener{}
	c := newCoordinator(t, backend, task.WithListener(listener))

	b, err := c.Submit(context.Background(), files("x.csv", "y.csv"))
	require.NoError(t, err)

	s := waitRetired(t, b)
	require.Equal(t, task.Completed, s.State)
	require.Equal(t, int64(4), s.Stats.TotalRecords)
	require.Equal(t, int64(0), s.Stats.DuplicateRecords)
	require.Len(t, s.Failures(), 1)
	require.Equal(t, "connection reset by peer", s.Failures()[0].Error)
	require.Equal(t, 1, backend.pollCount("b"))
}

func TestEmptyTaskListCompletesImmediately(t *testing.T) {
	listener := &recordingListener{}
	c := newCoordinator(t, &stubBackend{tasks: []api.TaskDescriptor{}}, task.WithListener(listener))

	b, err := c.Submit(context.Background(), files("x.csv"))
	require.NoError(t, err)

	s := waitRetired(t, b)
	require.Equal(t, task.Completed, s.State)
	require.Equal(t, task.Stats{}, s.Stats)
	_, completed := listener.counts()
	require.Equal(t, 1, completed)
}

func TestNewSubmitCancelsPreviousBatch(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	backend := &stubBackend{
		tasks: []api.TaskDescriptor{{TaskID: "slow", Filename: "slow.csv"}},
	}
	listener := &recordingListener{}
	recorder := &recordingRecorder{}
	c, err := task.NewCoordinator(zaptest.NewLogger(t), backend,
		task.WithPollInterval(testPollInterval), task.WithListener(listener), task.WithRecorder(recorder))
	require.NoError(t, err)

	first, err := c.Submit(context.Background(), files("slow.csv"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return backend.pollCount("slow") > 0 }, time.Second, testPollInterval)

	backend.mu.Lock()
	backend.tasks = []api.TaskDescriptor{{TaskID: "fast", Filename: "fast.csv"}}
	backend.status = func(taskID string, _ int) (api.TaskStatus, error) {
		if taskID == "slow" {
			return api.TaskStatus{State: api.TaskSucceeded, Result: api.TaskResult{TotalRecords: 100}}, nil
		}
		return api.TaskStatus{State: api.TaskSucceeded, Result: api.TaskResult{TotalRecords: 1, NewCount: 1}}, nil
	}
	backend.mu.Unlock()

	second, err := c.Submit(context.Background(), files("fast.csv"))
	require.NoError(t, err)

	s := waitRetired(t, first)
	require.Equal(t, task.Canceled, s.State)
	require.Zero(t, s.Stats.CompletedTasks)

	s = waitRetired(t, second)
	require.Equal(t, task.Completed, s.State)
	require.Equal(t, int64(1), s.Stats.TotalRecords)

	polls := backend.pollCount("slow")

	time.Sleep(10 * testPollInterval)
	require.Equal(t, polls, backend.pollCount("slow"))
	require.Equal(t, task.Canceled, first.Snapshot().State)

	_, completed := listener.counts()
	require.Equal(t, 1, completed)
	require.Len(t, recorder.saved, 2)

	c.Close()
}

func TestBatchSupersededDuringUpload(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	backend := &gatedBackend{
		stubBackend: &stubBackend{tasks: []api.TaskDescriptor{{TaskID: "a", Filename: "x.csv"}}},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	c, err := task.NewCoordinator(zaptest.NewLogger(t), backend, task.WithPollInterval(testPollInterval))
	require.NoError(t, err)

	type submitted struct {
		b   *task.Batch
		err error
	}
	firstDone := make(chan submitted, 1)
	go func() {
		b, err := c.Submit(context.Background(), files("x.csv"))
		firstDone <- submitted{b: b, err: err}
	}()
	<-backend.entered

	backend.mu.Lock()
	backend.tasks = []api.TaskDescriptor{}
	backend.mu.Unlock()

	second, err := c.Submit(context.Background(), files("y.csv"))
	require.NoError(t, err)
	require.Equal(t, task.Completed, waitRetired(t, second).State)

	backend.mu.Lock()
	backend.tasks = []api.TaskDescriptor{{TaskID: "a", Filename: "x.csv"}}
	backend.mu.Unlock()
	close(backend.release)

	first := <-firstDone
	require.NoError(t, first.err)

	s, err := c.ReadBatch(first.b.ID().String())
	require.NoError(t, err)
	require.Equal(t, task.Canceled, s.State)
	require.Zero(t, s.Stats.TotalTasks)
	require.Empty(t, s.Tasks)

	time.Sleep(5 * testPollInterval)
	require.Zero(t, backend.pollCount("a"))

	c.Close()
}

func TestCloseStopsPolling(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	backend := &stubBackend{tasks: []api.TaskDescriptor{{TaskID: "a", Filename: "x.csv"}, {TaskID: "b", Filename: "y.csv"}}}
	c, err := task.NewCoordinator(zaptest.NewLogger(t), backend, task.WithPollInterval(testPollInterval))
	require.NoError(t, err)

	b, err := c.Submit(context.Background(), files("x.csv", "y.csv"))
	require.NoError(t, err)

	c.Close()
	require.Equal(t, task.Canceled, waitRetired(t, b).State)

	_, err = c.Submit(context.Background(), files("x.csv"))
	require.ErrorIs(t, err, task.ErrClosed)
}

func TestReadBatch(t *testing.T) {
	backend := &stubBackend{
		tasks: []api.TaskDescriptor{{TaskID: "a", Filename: "x.csv"}},
		status: func(string, int) (api.TaskStatus, error) {
			return api.TaskStatus{State: api.TaskSucceeded, Result: api.TaskResult{TotalRecords: 2, DuplicateCount: 2}}, nil
		},
	}
	c := newCoordinator(t, backend)

	_, err := c.ReadBatch("not-an-xid")
	require.ErrorIs(t, err, task.ErrBadBatchID)

	_, err = c.ReadBatch(xid.New().String())
	require.ErrorIs(t, err, task.ErrBadBatchID)

	b, err := c.Submit(context.Background(), files("x.csv"))
	require.NoError(t, err)
	waitRetired(t, b)

	s, err := c.ReadBatch(b.ID().String())
	require.NoError(t, err)
	require.Equal(t, task.Completed, s.State)
	require.Equal(t, []api.TaskDescriptor{{TaskID: "a", Filename: "x.csv"}}, s.Tasks)
	require.Equal(t, int64(2), s.Stats.DuplicateRecords)
}
