package task

import (
	"fmt"
	"github.com/rs/xid"
	"time"
	"txdesk/internal/api"
)

// BatchState defines lifecycle of a batch created by one Submit call
type BatchState int

const (
	// Processing defines batch state right after upload succeeded and tasks are being polled
	Processing BatchState = iota
	// Completed defines batch state when every task reached a terminal status
	Completed
	// Canceled defines batch state when it was retired before completion,
	// e.g. by a newer upload or by shutting down
	Canceled
)

func (s BatchState) String() string {
	switch s {
	case Processing:
		return "processing"
	case Completed:
		return "completed"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("BatchState(%d)", int(s))
	}
}

// MarshalText makes BatchState readable in JSON snapshots
func (s BatchState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseBatchState is the inverse of BatchState.String
func ParseBatchState(s string) (BatchState, error) {
	switch s {
	case "processing":
		return Processing, nil
	case "completed":
		return Completed, nil
	case "canceled":
		return Canceled, nil
	default:
		return 0, fmt.Errorf("unknown batch state %q", s)
	}
}

// Stats defines running totals of a batch.
// CompletedTasks never exceeds TotalTasks, the batch is complete when they are equal.
type Stats struct {
	TotalRecords     int64 `json:"total_records"`
	NewRecords       int64 `json:"new_records"`
	DuplicateRecords int64 `json:"duplicate_records"`
	CompletedTasks   int   `json:"completed_tasks"`
	TotalTasks       int   `json:"total_tasks"`
}

func (s *Stats) merge(r api.TaskResult) {
	s.TotalRecords += r.TotalRecords
	s.NewRecords += r.NewCount
	s.DuplicateRecords += r.DuplicateCount
}

// Outcome is the terminal transition of one task.
// State is either api.TaskSucceeded or api.TaskFailed.
type Outcome struct {
	Task   api.TaskDescriptor `json:"task"`
	State  api.TaskState      `json:"state"`
	Result api.TaskResult     `json:"result"`
	Error  string             `json:"error,omitempty"`
}

func succeeded(t api.TaskDescriptor, r api.TaskResult) Outcome {
	return Outcome{Task: t, State: api.TaskSucceeded, Result: r}
}

func failed(t api.TaskDescriptor, reason string) Outcome {
	return Outcome{Task: t, State: api.TaskFailed, Error: reason}
}

// Snapshot is a point-in-time copy of a batch
type Snapshot struct {
	ID         xid.ID               `json:"id"`
	State      BatchState           `json:"state"`
	Stats      Stats                `json:"stats"`
	Tasks      []api.TaskDescriptor `json:"tasks"`
	Outcomes   []Outcome            `json:"outcomes"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

// Failures returns failed outcomes in the order they were recorded
func (s Snapshot) Failures() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.State == api.TaskFailed {
			out = append(out, o)
		}
	}
	return out
}
