package api

import (
	"errors"
	"fmt"
	"io"
)

const (
	statusSuccess = "success"
	statusFailed  = "error"
)

// File is one upload entry; Name is sent as multipart filename
type File struct {
	Name    string
	Content io.Reader
}

// TaskDescriptor identifies asynchronous processing of one uploaded file
type TaskDescriptor struct {
	TaskID   string `json:"task_id" msgpack:"task_id"`
	Filename string `json:"filename" msgpack:"filename"`
}

// TaskResult defines record counters reported by the backend for one processed file
type TaskResult struct {
	TotalRecords   int64 `json:"total_records" msgpack:"total_records"`
	NewCount       int64 `json:"new_count" msgpack:"new_count"`
	DuplicateCount int64 `json:"duplicate_count" msgpack:"duplicate_count"`
}

func (r TaskResult) validate() error {
	if r.TotalRecords < 0 || r.NewCount < 0 || r.DuplicateCount < 0 {
		return fmt.Errorf("task result has negative counters: %+v", r)
	}
	return nil
}

// TaskState describes what a single task status response means for the poller
type TaskState int

const (
	// TaskPending is any non-terminal answer: pending, processing or an unknown shape
	TaskPending TaskState = iota
	// TaskSucceeded is a terminal answer carrying TaskResult
	TaskSucceeded
	// TaskFailed is a terminal answer carrying an error message
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// MarshalText makes TaskState readable in JSON snapshots
func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TaskStatus is the validated form of /task_status response.
// Result is meaningful only for TaskSucceeded, Error only for TaskFailed.
type TaskStatus struct {
	State  TaskState
	Result TaskResult
	Error  string
}

type taskStatusResponse struct {
	Status string      `json:"status"`
	Result *TaskResult `json:"result"`
	Error  string      `json:"error"`
}

func (r taskStatusResponse) taskStatus() TaskStatus {
	switch {
	case r.Status == statusSuccess && r.Result != nil:
		if err := r.Result.validate(); err != nil {
			return TaskStatus{State: TaskFailed, Error: err.Error()}
		}
		return TaskStatus{State: TaskSucceeded, Result: *r.Result}
	case r.Status == statusFailed:
		return TaskStatus{State: TaskFailed, Error: r.Error}
	default:
		return TaskStatus{State: TaskPending}
	}
}

type uploadResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Tasks   []TaskDescriptor `json:"tasks"`
}

// Row maps column name to a decoded JSON value: string, json.Number, bool or nil
type Row map[string]interface{}

// Table is the validated form of /view_database and /search responses
type Table struct {
	TotalRecords int64
	Columns      []string
	Rows         []Row
}

type tableResponse struct {
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	TotalRecords int64    `json:"total_records"`
	Columns      []string `json:"columns"`
	Data         []Row    `json:"data"`
}

type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrMalformedTask is returned when upload response lists a task without id
var ErrMalformedTask = errors.New("upload response contains task without task_id")

// StatusError is returned when the backend answers with a non-success status
type StatusError struct {
	HTTPStatus int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend reported failure without message (HTTP %d)", e.HTTPStatus)
	}
	return e.Message
}

func statusError(httpStatus int, message string) error {
	return &StatusError{HTTPStatus: httpStatus, Message: message}
}
