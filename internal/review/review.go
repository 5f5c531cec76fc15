package review

import (
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"txdesk/internal/api"
)

var ErrNotConfirmed = errors.New("reset is not confirmed")

// Op names the review operation that failed
type Op string

const (
	OpView   Op = "view"
	OpSearch Op = "search"
	OpReset  Op = "reset"
)

// Error is returned by Viewer when the backend request failed
type Error struct {
	Op  Op
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Backend is the part of api.Client used by Viewer
type Backend interface {
	ViewDatabase(ctx context.Context) (api.Table, error)
	Search(ctx context.Context, term string) (api.Table, error)
	ResetDatabase(ctx context.Context) (string, error)
}

// Listing is a table together with its caption
type Listing struct {
	Caption string
	Table   api.Table
}

// Empty reports whether there are no rows to show
func (l Listing) Empty() bool {
	return len(l.Table.Rows) == 0
}

func ViewCaption(total int64) string {
	return fmt.Sprintf("Total records in database: %d", total)
}

func SearchCaption(total int64) string {
	return fmt.Sprintf("Found %d matching records", total)
}

// Viewer reads, searches and resets the backend database
type Viewer struct {
	logger  *zap.Logger
	backend Backend
}

func NewViewer(logger *zap.Logger, backend Backend) (*Viewer, error) {
	if logger == nil {
		return nil, errors.New("no logger provided")
	}

	if backend == nil {
		return nil, errors.New("no backend provided")
	}

	return &Viewer{
		logger:  logger,
		backend: backend,
	}, nil
}

// View returns the whole database
func (v *Viewer) View(ctx context.Context) (Listing, error) {
	t, err := v.backend.ViewDatabase(ctx)
	if err != nil {
		v.logger.Warn("failed to load database content", zap.Error(err))
		return Listing{}, &Error{Op: OpView, Err: err}
	}

	v.logger.Debug("database content is loaded", zap.Int64("total_records", t.TotalRecords), zap.Int("rows", len(t.Rows)))
	return Listing{Caption: ViewCaption(t.TotalRecords), Table: t}, nil
}

// Search returns rows matching term. Empty term is the same as View.
func (v *Viewer) Search(ctx context.Context, term string) (Listing, error) {
	if term == "" {
		return v.View(ctx)
	}

	logger := v.logger.With(zap.String("term", term))

	t, err := v.backend.Search(ctx, term)
	if err != nil {
		logger.Warn("search failed", zap.Error(err))
		return Listing{}, &Error{Op: OpSearch, Err: err}
	}

	logger.Debug("search is done", zap.Int64("total_records", t.TotalRecords))
	return Listing{Caption: SearchCaption(t.TotalRecords), Table: t}, nil
}

// Reset deletes every record after confirm returns true and returns the backend message.
// Nothing is sent when confirm returns false.
func (v *Viewer) Reset(ctx context.Context, confirm func() bool) (string, error) {
	if confirm == nil || !confirm() {
		v.logger.Info("reset is declined")
		return "", ErrNotConfirmed
	}

	msg, err := v.backend.ResetDatabase(ctx)
	if err != nil {
		v.logger.Warn("reset failed", zap.Error(err))
		return "", &Error{Op: OpReset, Err: err}
	}

	v.logger.Info("database is reset", zap.String("message", msg))
	return msg, nil
}
