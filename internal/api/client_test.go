package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"txdesk/internal/api"
	"txdesk/internal/apitest"
)

func newClient(t *testing.T, baseURL string) *api.Client {
	t.Helper()
	c, err := api.NewClient(zaptest.NewLogger(t), baseURL)
	require.NoError(t, err)
	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := api.NewClient(nil, "http://localhost:5000")
	require.Error(t, err)

	_, err = api.NewClient(zaptest.NewLogger(t), "localhost")
	require.Error(t, err)
}

func TestUploadSendsAllFilesUnderSharedField(t *testing.T) {
	backend := apitest.New(t)
	c := newClient(t, backend.URL())

	tasks, err := c.Upload(context.Background(), []api.File{
		{Name: "x.csv", Content: strings.NewReader("transaction_uti,isin\n1,A\n")},
		{Name: "y.json", Content: strings.NewReader(`{"transactions":[]}`)},
	})
	require.NoError(t, err)
	require.Equal(t, []api.TaskDescriptor{
		{TaskID: "task-1", Filename: "x.csv"},
		{TaskID: "task-2", Filename: "y.json"},
	}, tasks)
	require.Equal(t, [][]string{{"x.csv", "y.json"}}, backend.Uploads())
}

func TestUploadRejected(t *testing.T) {
	backend := apitest.New(t)
	backend.RejectUpload(http.StatusBadRequest, "File type not allowed: notes.txt")
	c := newClient(t, backend.URL())

	_, err := c.Upload(context.Background(), []api.File{{Name: "notes.txt", Content: strings.NewReader("hi")}})

	var statusErr *api.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadRequest, statusErr.HTTPStatus)
	require.Equal(t, "File type not allowed: notes.txt", err.Error())
}

func TestUploadUnparseableBody(t *testing.T) {
	backend := apitest.New(t)
	backend.ScriptUpload(apitest.Raw(http.StatusRequestEntityTooLarge, "<html>Request Entity Too Large</html>"))
	c := newClient(t, backend.URL())

	_, err := c.Upload(context.Background(), []api.File{{Name: "big.csv", Content: strings.NewReader("a")}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 413")
}

func TestUploadRejectsTaskWithoutID(t *testing.T) {
	backend := apitest.New(t)
	backend.AcceptUpload(api.TaskDescriptor{Filename: "x.csv"})
	c := newClient(t, backend.URL())

	_, err := c.Upload(context.Background(), []api.File{{Name: "x.csv", Content: strings.NewReader("a")}})
	require.ErrorIs(t, err, api.ErrMalformedTask)
}

func TestTaskStatusVariants(t *testing.T) {
	tests := []struct {
		name     string
		response apitest.Response
		want     api.TaskStatus
	}{
		{
			name:     "success",
			response: apitest.Succeeded(api.TaskResult{TotalRecords: 10, NewCount: 7, DuplicateCount: 3}),
			want:     api.TaskStatus{State: api.TaskSucceeded, Result: api.TaskResult{TotalRecords: 10, NewCount: 7, DuplicateCount: 3}},
		},
		{
			name:     "error",
			response: apitest.Failed("bad format"),
			want:     api.TaskStatus{State: api.TaskFailed, Error: "bad format"},
		},
		{
			name:     "error without message",
			response: apitest.Raw(http.StatusOK, `{"status":"error"}`),
			want:     api.TaskStatus{State: api.TaskFailed},
		},
		{
			name:     "processing",
			response: apitest.Pending(),
			want:     api.TaskStatus{State: api.TaskPending},
		},
		{
			name:     "success without result",
			response: apitest.Raw(http.StatusOK, `{"status":"success","result":null}`),
			want:     api.TaskStatus{State: api.TaskPending},
		},
		{
			name:     "unknown status",
			response: apitest.Raw(http.StatusOK, `{"status":"RETRY"}`),
			want:     api.TaskStatus{State: api.TaskPending},
		},
		{
			name:     "negative counters",
			response: apitest.Raw(http.StatusOK, `{"status":"success","result":{"total_records":-1,"new_count":0,"duplicate_count":0}}`),
			want:     api.TaskStatus{State: api.TaskFailed, Error: "task result has negative counters: {TotalRecords:-1 NewCount:0 DuplicateCount:0}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := apitest.New(t)
			backend.ScriptTask("abc", tt.response)
			c := newClient(t, backend.URL())

			got, err := c.TaskStatus(context.Background(), "abc")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, 1, backend.Polls("abc"))
		})
	}
}

func TestTaskStatusEscapesID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"status":"processing"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/api/")
	_, err := c.TaskStatus(context.Background(), "a/b c")
	require.NoError(t, err)
	require.Equal(t, "/api/task_status/a%2Fb%20c", gotPath)
}

func TestTaskStatusTransportFailure(t *testing.T) {
	backend := apitest.New(t)
	c := newClient(t, backend.URL())
	backend.Close()

	_, err := c.TaskStatus(context.Background(), "abc")
	require.Error(t, err)
}

func TestViewDatabaseKeepsNumbersExact(t *testing.T) {
	backend := apitest.New(t)
	backend.SetTable([]string{"transaction_uti", "notional", "exchange_rate"}, []map[string]interface{}{
		{"transaction_uti": "UTI-1", "notional": 1234567.5, "exchange_rate": nil},
	})
	c := newClient(t, backend.URL())

	table, err := c.ViewDatabase(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, table.TotalRecords)
	require.Equal(t, []string{"transaction_uti", "notional", "exchange_rate"}, table.Columns)
	require.Len(t, table.Rows, 1)
	require.Equal(t, json.Number("1234567.5"), table.Rows[0]["notional"])
	require.Nil(t, table.Rows[0]["exchange_rate"])
}

func TestSearchSendsTerm(t *testing.T) {
	backend := apitest.New(t)
	backend.SetTable([]string{"transaction_uti", "isin"}, []map[string]interface{}{
		{"transaction_uti": "UTI-1", "isin": "FR0000120271"},
		{"transaction_uti": "UTI-2", "isin": "DE0007164600"},
	})
	c := newClient(t, backend.URL())

	table, err := c.Search(context.Background(), "FR00 & more")
	require.NoError(t, err)
	require.Empty(t, table.Rows)
	require.Equal(t, []string{"FR00 & more"}, backend.SearchQueries())

	table, err = c.Search(context.Background(), "DE00")
	require.NoError(t, err)
	require.EqualValues(t, 1, table.TotalRecords)
	require.Equal(t, "UTI-2", table.Rows[0]["transaction_uti"])
}

func TestViewDatabaseFailure(t *testing.T) {
	backend := apitest.New(t)
	backend.FailTable("database is locked")
	c := newClient(t, backend.URL())

	_, err := c.ViewDatabase(context.Background())
	require.EqualError(t, err, "database is locked")
}

func TestResetDatabase(t *testing.T) {
	backend := apitest.New(t)
	c := newClient(t, backend.URL())

	msg, err := c.ResetDatabase(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Database reset successfully", msg)
	require.Equal(t, 1, backend.Resets())

	backend.FailReset("disk I/O error")
	_, err = c.ResetDatabase(context.Background())
	require.EqualError(t, err, "disk I/O error")
}
