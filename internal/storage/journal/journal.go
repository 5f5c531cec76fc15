package journal

import (
	"context"
	"errors"
	"fmt"
	"github.com/dgraph-io/badger/v3"
	"github.com/rs/xid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"time"
	"txdesk/internal/api"
	"txdesk/internal/task"
)

var ErrNotFound = errors.New("no such batch in journal")

var keyPrefix = []byte("batch/")

// Outcome defines stored form of task.Outcome
type Outcome struct {
	TaskID   string         `msgpack:"task_id"`
	Filename string         `msgpack:"filename"`
	State    string         `msgpack:"state"`
	Result   api.TaskResult `msgpack:"result"`
	Error    string         `msgpack:"error"`
}

// Record defines stored form of a retired batch
type Record struct {
	ID               string    `msgpack:"id"`
	State            string    `msgpack:"state"`
	StartedAt        time.Time `msgpack:"started_at"`
	FinishedAt       time.Time `msgpack:"finished_at"`
	TotalRecords     int64     `msgpack:"total_records"`
	NewRecords       int64     `msgpack:"new_records"`
	DuplicateRecords int64     `msgpack:"duplicate_records"`
	CompletedTasks   int       `msgpack:"completed_tasks"`
	TotalTasks       int       `msgpack:"total_tasks"`
	Outcomes         []Outcome `msgpack:"outcomes"`
}

// FromSnapshot converts batch snapshot into Record
func FromSnapshot(s task.Snapshot) Record {
	r := Record{
		ID:               s.ID.String(),
		State:            s.State.String(),
		StartedAt:        s.StartedAt,
		FinishedAt:       s.FinishedAt,
		TotalRecords:     s.Stats.TotalRecords,
		NewRecords:       s.Stats.NewRecords,
		DuplicateRecords: s.Stats.DuplicateRecords,
		CompletedTasks:   s.Stats.CompletedTasks,
		TotalTasks:       s.Stats.TotalTasks,
	}

	for _, o := range s.Outcomes {
		r.Outcomes = append(r.Outcomes, Outcome{
			TaskID:   o.Task.TaskID,
			Filename: o.Task.Filename,
			State:    o.State.String(),
			Result:   o.Result,
			Error:    o.Error,
		})
	}

	return r
}

// Journal keeps retired batches in badger, keyed by batch id so keys sort by creation time
type Journal struct {
	logger *zap.Logger
	db     *badger.DB
}

// Open opens journal stored in dir. Empty dir keeps journal in memory.
func Open(logger *zap.Logger, dir string) (*Journal, error) {
	if logger == nil {
		return nil, errors.New("no logger provided")
	}

	logger = logger.Named("journal")

	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{logger.Sugar()}).
		WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %q: %w", dir, err)
	}

	return &Journal{
		logger: logger,
		db:     db,
	}, nil
}

// Save stores snapshot of a retired batch, it satisfies task.Recorder
func (j *Journal) Save(ctx context.Context, s task.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := recordToBytes(FromSnapshot(s))
	if err != nil {
		return fmt.Errorf("failed to encode batch %s: %w", s.ID, err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(s.ID), value)
	})
	if err != nil {
		return fmt.Errorf("failed to store batch %s: %w", s.ID, err)
	}

	j.logger.Debug("batch is saved", zap.String("batch_id", s.ID.String()), zap.Stringer("state", s.State))
	return nil
}

// Get returns record of batch id
func (j *Journal) Get(stringID string) (Record, error) {
	id, err := xid.FromString(stringID)
	if err != nil {
		return Record{}, ErrNotFound
	}

	var r Record
	err = j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			r, err = bytesToRecord(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	return r, nil
}

// listParameters defines fields that affect List
type listParameters struct {
	limit int
	state string
}

// ListOption type represents function to modify listParameters struct
type ListOption func(p *listParameters)

// WithLimit caps number of returned records, zero means no cap
func WithLimit(n int) ListOption {
	return func(p *listParameters) {
		p.limit = n
	}
}

// WithState keeps only records in provided state
func WithState(s task.BatchState) ListOption {
	return func(p *listParameters) {
		p.state = s.String()
	}
}

// List returns records newest first
func (j *Journal) List(options ...ListOption) ([]Record, error) {
	parameters := &listParameters{}
	for _, opt := range options {
		opt(parameters)
	}

	var records []Record
	err := j.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = keyPrefix

		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// reverse iteration starts from the largest key with the prefix
		seek := append(append([]byte{}, keyPrefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(keyPrefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			r, err := bytesToRecord(val)
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}

			if parameters.state != "" && r.State != parameters.state {
				continue
			}

			records = append(records, r)
			if parameters.limit > 0 && len(records) == parameters.limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Close closes underlying badger database
func (j *Journal) Close() error {
	j.logger.Info("closing journal")
	return j.db.Close()
}

func key(id xid.ID) []byte {
	return append(append([]byte{}, keyPrefix...), id.String()...)
}

// recordToBytes returns byte slice representation of Record
func recordToBytes(r Record) ([]byte, error) {
	return msgpack.Marshal(r)
}

// bytesToRecord returns Record represented by its byte slice
func bytesToRecord(b []byte) (Record, error) {
	var r Record

	err := msgpack.Unmarshal(b, &r)
	if err != nil {
		return Record{}, err
	}

	return r, nil
}

// badgerLogger routes badger logs into zap
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
