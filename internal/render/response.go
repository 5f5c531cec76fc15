package render

import (
	"errors"
	"txdesk/internal/review"
	"txdesk/internal/task"
)

// Classes of the response region
const (
	ClassNone    = ""
	ClassError   = "error"
	ClassSuccess = "success"
)

// FileError is a per-file error block
type FileError struct {
	Filename string
	Message  string
}

// Response is the content of the response region: a plain message,
// or the progress of a batch with its per-file errors and final summary
type Response struct {
	Class      string
	Message    string
	Processing bool
	Failures   []FileError
	Summary    *task.Stats
}

// Message returns a response holding a single text line
func Message(class, text string) Response {
	return Response{Class: class, Message: text}
}

// NoFiles is shown when upload is requested without files
func NoFiles() Response {
	return Message(ClassError, "Please select at least one file")
}

// Failure maps an error of upload or review operation to its user-facing message
func Failure(err error) Response {
	if errors.Is(err, task.ErrNoFiles) {
		return NoFiles()
	}

	var uploadErr *task.UploadError
	if errors.As(err, &uploadErr) {
		return Message(ClassError, "Upload failed: "+uploadErr.Err.Error())
	}

	var reviewErr *review.Error
	if errors.As(err, &reviewErr) && reviewErr.Op == review.OpView {
		return Message(ClassError, "Error loading database content: "+reviewErr.Err.Error())
	}
	if reviewErr != nil {
		return Message(ClassError, "Error: "+reviewErr.Err.Error())
	}

	return Message(ClassError, "Error: "+err.Error())
}

// Batch returns progress of a batch. Failures are listed in the order they were recorded,
// the summary appears once the batch is completed.
func Batch(s task.Snapshot) Response {
	r := Response{Processing: s.State == task.Processing}

	for _, o := range s.Failures() {
		r.Failures = append(r.Failures, FileError{Filename: o.Task.Filename, Message: o.Error})
	}

	if s.State == task.Completed {
		stats := s.Stats
		r.Summary = &stats
	}

	if s.State == task.Canceled {
		r.Class = ClassError
		r.Message = "Processing was canceled"
	}

	return r
}
