// Package apitest provides a scripted in-process upload-and-review backend for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"github.com/go-chi/chi/v5"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"txdesk/internal/api"
)

// Response is a scripted answer of the fake backend
type Response struct {
	Code int
	Body string
}

func jsonResponse(code int, v interface{}) Response {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Response{Code: code, Body: string(b)}
}

// Pending answers a task status poll with a non-terminal status
func Pending() Response {
	return jsonResponse(http.StatusOK, map[string]string{"status": "processing"})
}

// Succeeded answers a task status poll with a terminal success
func Succeeded(r api.TaskResult) Response {
	return jsonResponse(http.StatusOK, map[string]interface{}{"status": "success", "result": r})
}

// Failed answers a task status poll with a terminal error
func Failed(message string) Response {
	return jsonResponse(http.StatusOK, map[string]interface{}{"status": "error", "error": message, "result": nil})
}

// Raw answers with arbitrary body
func Raw(code int, body string) Response {
	return Response{Code: code, Body: body}
}

// Backend is an httptest server speaking the backend contract.
// Task scripts are consumed one response per poll, the last response repeats.
type Backend struct {
	server *httptest.Server

	mu            sync.Mutex
	uploadScript  []Response
	uploads       [][]string
	tasks         map[string][]Response
	polls         map[string]int
	nextTaskID    int
	columns       []string
	rows          []map[string]interface{}
	tableFailure  string
	resetFailure  string
	resets        int
	views         int
	searchQueries []string
}

// New starts a Backend closed on test cleanup
func New(t testing.TB) *Backend {
	b := &Backend{
		tasks: make(map[string][]Response),
		polls: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Post("/upload", b.handleUpload)
	r.Get("/task_status/{taskID}", b.handleTaskStatus)
	r.Get("/view_database", b.handleView)
	r.Get("/search", b.handleSearch)
	r.Post("/reset_database", b.handleReset)

	b.server = httptest.NewServer(r)
	t.Cleanup(b.server.Close)

	return b
}

// URL returns base URL of the backend
func (b *Backend) URL() string {
	return b.server.URL
}

// Close stops the server, later requests fail at transport level
func (b *Backend) Close() {
	b.server.CloseClientConnections()
	b.server.Close()
}

// ScriptUpload sets answers for the next uploads. Without script uploads succeed
// with one generated task per file.
func (b *Backend) ScriptUpload(responses ...Response) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploadScript = append(b.uploadScript, responses...)
}

// AcceptUpload answers the next upload with provided tasks
func (b *Backend) AcceptUpload(tasks ...api.TaskDescriptor) {
	b.ScriptUpload(jsonResponse(http.StatusAccepted, map[string]interface{}{
		"status":  "success",
		"message": fmt.Sprintf("Started processing %d files", len(tasks)),
		"tasks":   tasks,
	}))
}

// RejectUpload answers the next upload with an error status
func (b *Backend) RejectUpload(code int, message string) {
	b.ScriptUpload(jsonResponse(code, map[string]string{"status": "error", "message": message}))
}

// ScriptTask sets answers for polls of taskID. Unscripted tasks stay pending.
func (b *Backend) ScriptTask(taskID string, responses ...Response) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[taskID] = append(b.tasks[taskID], responses...)
}

// SetTable replaces rows served by view and search
func (b *Backend) SetTable(columns []string, rows []map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.columns = columns
	b.rows = rows
	b.tableFailure = ""
}

// FailTable makes view and search answer with an error status
func (b *Backend) FailTable(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tableFailure = message
}

// FailReset makes reset answer with an error status
func (b *Backend) FailReset(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetFailure = message
}

// Uploads returns file names received by each upload request
func (b *Backend) Uploads() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]string, len(b.uploads))
	copy(out, b.uploads)
	return out
}

// Polls returns number of status requests received for taskID
func (b *Backend) Polls(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls[taskID]
}

// Resets returns number of reset requests received
func (b *Backend) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resets
}

// Views returns number of /view_database requests received
func (b *Backend) Views() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.views
}

// SearchQueries returns q values received by /search
func (b *Backend) SearchQueries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.searchQueries...)
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	err := r.ParseMultipartForm(16 << 20)
	if err != nil {
		write(w, jsonResponse(http.StatusBadRequest, map[string]string{"status": "error", "message": "No file part"}))
		return
	}

	var names []string
	for _, fh := range r.MultipartForm.File[api.FilesField] {
		names = append(names, fh.Filename)
	}

	b.mu.Lock()
	b.uploads = append(b.uploads, names)
	var resp Response
	if len(b.uploadScript) > 0 {
		resp = b.uploadScript[0]
		b.uploadScript = b.uploadScript[1:]
	} else {
		tasks := make([]api.TaskDescriptor, 0, len(names))
		for _, name := range names {
			b.nextTaskID++
			tasks = append(tasks, api.TaskDescriptor{TaskID: fmt.Sprintf("task-%d", b.nextTaskID), Filename: name})
		}
		resp = jsonResponse(http.StatusAccepted, map[string]interface{}{"status": "success", "tasks": tasks})
	}
	b.mu.Unlock()

	write(w, resp)
}

func (b *Backend) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	b.mu.Lock()
	b.polls[taskID]++
	script := b.tasks[taskID]
	resp := Pending()
	if len(script) > 0 {
		resp = script[0]
		if len(script) > 1 {
			b.tasks[taskID] = script[1:]
		}
	}
	b.mu.Unlock()

	write(w, resp)
}

func (b *Backend) handleView(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.views++

	if b.tableFailure != "" {
		write(w, jsonResponse(http.StatusInternalServerError, map[string]string{"status": "error", "message": b.tableFailure}))
		return
	}

	write(w, b.tableResponse(b.rows, int64(len(b.rows))))
}

func (b *Backend) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	b.mu.Lock()
	defer b.mu.Unlock()

	b.searchQueries = append(b.searchQueries, q)

	if b.tableFailure != "" {
		write(w, jsonResponse(http.StatusInternalServerError, map[string]string{"status": "error", "message": b.tableFailure}))
		return
	}

	var matched []map[string]interface{}
	for _, row := range b.rows {
		if q == "" || rowContains(row, q) {
			matched = append(matched, row)
		}
	}

	write(w, b.tableResponse(matched, int64(len(matched))))
}

func (b *Backend) handleReset(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resets++
	if b.resetFailure != "" {
		write(w, jsonResponse(http.StatusInternalServerError, map[string]string{"status": "error", "message": b.resetFailure}))
		return
	}

	b.rows = nil
	write(w, jsonResponse(http.StatusOK, map[string]string{"status": "success", "message": "Database reset successfully"}))
}

func (b *Backend) tableResponse(rows []map[string]interface{}, total int64) Response {
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"status":        "success",
		"total_records": total,
		"columns":       b.columns,
		"data":          rows,
	})
}

func rowContains(row map[string]interface{}, q string) bool {
	for _, v := range row {
		if s, ok := v.(string); ok && strings.Contains(s, q) {
			return true
		}
	}
	return false
}

func write(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	_, _ = io.WriteString(w, resp.Body)
}
