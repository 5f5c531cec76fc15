package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// numbers in table rows stay json.Number until they are rendered
var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// FilesField is the multipart field name shared by all uploaded files
const FilesField = "files"

// Route contains the HTTP path of a backend endpoint
type Route string

const (
	RouteUpload        Route = "/upload"
	RouteTaskStatus    Route = "/task_status/"
	RouteViewDatabase  Route = "/view_database"
	RouteSearch        Route = "/search"
	RouteResetDatabase Route = "/reset_database"
)

// Client talks to the upload-and-review backend
type Client struct {
	logger     *zap.Logger
	baseURL    *url.URL
	httpClient *http.Client
}

// Option type represents function to modify Client on construction
type Option func(c *Client)

// WithHTTPClient replaces http.DefaultClient
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient constructs a Client for backend located at baseURL
func NewClient(logger *zap.Logger, baseURL string, options ...Option) (*Client, error) {
	if logger == nil {
		return nil, errors.New("no logger provided")
	}

	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse backend URL: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend URL must be absolute, got %q", baseURL)
	}

	c := &Client{
		logger:     logger,
		baseURL:    u,
		httpClient: http.DefaultClient,
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// Upload sends all files in one multipart request and returns one TaskDescriptor per accepted file
func (c *Client) Upload(ctx context.Context, files []File) ([]TaskDescriptor, error) {
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)

	for _, f := range files {
		part, err := mw.CreateFormFile(FilesField, f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create multipart part for %s: %w", f.Name, err)
		}

		_, err = io.Copy(part, f.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
	}

	err := mw.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(RouteUpload, "", nil), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.logger.Debug("uploading files", zap.Int("files", len(files)), zap.Int("size_bytes", body.Len()))

	var resp uploadResponse
	code, err := c.do(req, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Status != statusSuccess {
		return nil, statusError(code, resp.Message)
	}

	for _, t := range resp.Tasks {
		if t.TaskID == "" {
			return nil, ErrMalformedTask
		}
	}

	return resp.Tasks, nil
}

// TaskStatus reads current status of the task. Only transport and decoding failures are returned as error.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(RouteTaskStatus, taskID, nil), nil)
	if err != nil {
		return TaskStatus{}, err
	}

	var resp taskStatusResponse
	_, err = c.do(req, &resp)
	if err != nil {
		return TaskStatus{}, err
	}

	return resp.taskStatus(), nil
}

// ViewDatabase returns the latest rows of the transactions table
func (c *Client) ViewDatabase(ctx context.Context) (Table, error) {
	return c.table(ctx, c.url(RouteViewDatabase, "", nil))
}

// Search returns rows matching term. The backend treats blank term as ViewDatabase.
func (c *Client) Search(ctx context.Context, term string) (Table, error) {
	return c.table(ctx, c.url(RouteSearch, "", url.Values{"q": []string{term}}))
}

// ResetDatabase deletes all records and returns the backend confirmation message
func (c *Client) ResetDatabase(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(RouteResetDatabase, "", nil), nil)
	if err != nil {
		return "", err
	}

	var resp messageResponse
	code, err := c.do(req, &resp)
	if err != nil {
		return "", err
	}

	if resp.Status != statusSuccess {
		return "", statusError(code, resp.Message)
	}

	return resp.Message, nil
}

func (c *Client) table(ctx context.Context, u string) (Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Table{}, err
	}

	var resp tableResponse
	code, err := c.do(req, &resp)
	if err != nil {
		return Table{}, err
	}

	if resp.Status != statusSuccess {
		return Table{}, statusError(code, resp.Message)
	}

	return Table{
		TotalRecords: resp.TotalRecords,
		Columns:      resp.Columns,
		Rows:         resp.Data,
	}, nil
}

// do sends req and decodes JSON body into v whatever the status code is,
// the backend reports failures as JSON with 4xx and 5xx codes.
func (c *Client) do(req *http.Request, v interface{}) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := resp.Body.Close()
		if err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	err = json.NewDecoder(resp.Body).Decode(v)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode %s %s response (HTTP %d): %w", req.Method, req.URL.Path, resp.StatusCode, err)
	}

	return resp.StatusCode, nil
}

func (c *Client) url(r Route, suffix string, q url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + string(r) + suffix
	u.RawPath = c.baseURL.EscapedPath() + string(r) + url.PathEscape(suffix)
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
