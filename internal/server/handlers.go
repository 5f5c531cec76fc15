package server

import (
	"bytes"
	"context"
	"errors"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
	"txdesk/internal/api"
	"txdesk/internal/render"
	"txdesk/internal/review"
	"txdesk/internal/task"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// uploads above this size are kept in temporary files while parsing
const maxUploadMemory = 32 << 20

type batchCoordinator interface {
	Submit(ctx context.Context, files []api.File) (*task.Batch, error)
	ReadBatch(id string) (task.Snapshot, error)
}

type databaseViewer interface {
	View(ctx context.Context) (review.Listing, error)
	Search(ctx context.Context, term string) (review.Listing, error)
	Reset(ctx context.Context, confirm func() bool) (string, error)
}

type handler struct {
	logger      *zap.Logger
	coordinator batchCoordinator
	viewer      databaseViewer
	refresh     time.Duration
}

func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := render.Page{}

	if batchID := r.URL.Query().Get("batch"); batchID != "" {
		s, err := h.coordinator.ReadBatch(batchID)
		if err != nil {
			h.logger.Warn("failed to read batch", zap.String("batch_id", batchID), zap.Error(err))
			page.Response = render.Message(render.ClassError, "Unknown batch "+batchID)
		} else {
			page.Response = render.Batch(s)
			if s.State == task.Processing {
				page.Refresh = h.refresh
			}
		}
	}

	h.withListing(r.Context(), &page, func(ctx context.Context) (review.Listing, error) {
		return h.viewer.View(ctx)
	})

	h.writePage(w, http.StatusOK, page)
}

func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(zap.String("remote_addr", r.RemoteAddr))
	logger.Info("upload handler invocation")

	err := r.ParseMultipartForm(maxUploadMemory)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		logger.Warn("failed to parse multipart form", zap.Error(err))
		h.writePage(w, http.StatusBadRequest, render.Page{Response: render.Message(render.ClassError, "Upload failed: malformed form")})
		return
	}

	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		defer func() {
			if err := r.MultipartForm.RemoveAll(); err != nil {
				logger.Error("failed to remove multipart files", zap.Error(err))
			}
		}()
		headers = r.MultipartForm.File[api.FilesField]
	}

	var files []api.File
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			logger.Error("failed to open multipart file", zap.String("filename", fh.Filename), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		defer func(name string) {
			if err := f.Close(); err != nil {
				logger.Error("failed to close multipart file", zap.String("filename", name), zap.Error(err))
			}
		}(fh.Filename)

		logger.Debug("file info", zap.String("name", fh.Filename), zap.Int64("size_bytes", fh.Size))
		files = append(files, api.File{Name: fh.Filename, Content: f})
	}

	b, err := h.coordinator.Submit(r.Context(), files)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, task.ErrNoFiles):
			status = http.StatusBadRequest
		case errors.Is(err, task.ErrClosed):
			status = http.StatusServiceUnavailable
		}

		page := render.Page{Response: render.Failure(err)}
		h.withListing(r.Context(), &page, func(ctx context.Context) (review.Listing, error) {
			return h.viewer.View(ctx)
		})
		h.writePage(w, status, page)
		return
	}

	location := url.URL{Path: "/", RawQuery: url.Values{"batch": {b.ID().String()}}.Encode()}
	http.Redirect(w, r, location.String(), http.StatusSeeOther)
}

func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")

	page := render.Page{SearchTerm: term}
	h.withListing(r.Context(), &page, func(ctx context.Context) (review.Listing, error) {
		return h.viewer.Search(ctx, term)
	})

	h.writePage(w, http.StatusOK, page)
}

func (h *handler) handleReset(w http.ResponseWriter, r *http.Request) {
	confirmed := r.FormValue("confirm") == "yes"

	page := render.Page{}

	msg, err := h.viewer.Reset(r.Context(), func() bool { return confirmed })
	switch {
	case errors.Is(err, review.ErrNotConfirmed):
	case err != nil:
		page.Response = render.Failure(err)
	default:
		page.Response = render.Message(render.ClassSuccess, msg)
	}

	h.withListing(r.Context(), &page, func(ctx context.Context) (review.Listing, error) {
		return h.viewer.View(ctx)
	})

	h.writePage(w, http.StatusOK, page)
}

func (h *handler) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := r.URL.Query().Get("id")
	if batchID == "" {
		http.Error(w, "Query value for id parameter can not be blank", http.StatusBadRequest)
		return
	}

	s, err := h.coordinator.ReadBatch(batchID)
	if err != nil {
		switch {
		case errors.Is(err, task.ErrBadBatchID):
			http.Error(w, "Bad batch id", http.StatusBadRequest)
			return
		default:
			h.logger.Error("failed to read batch", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}

	payload, err := json.Marshal(s)
	if err != nil {
		h.logger.Error("failed to encode batch", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// withListing loads the table region of page. A failure replaces the response region.
func (h *handler) withListing(ctx context.Context, page *render.Page, load func(context.Context) (review.Listing, error)) {
	l, err := load(ctx)
	if err != nil {
		page.Response = render.Failure(err)
		return
	}
	page.Listing = &l
}

func (h *handler) writePage(w http.ResponseWriter, status int, page render.Page) {
	var buf bytes.Buffer
	if err := render.WritePage(&buf, page); err != nil {
		h.logger.Error("failed to render page", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
