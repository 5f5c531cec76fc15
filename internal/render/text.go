package render

import (
	"fmt"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"io"
	"time"
	"txdesk/internal/api"
	"txdesk/internal/review"
	"txdesk/internal/storage/journal"
	"txdesk/internal/task"
)

// Text renders responses and listings for a terminal
type Text struct {
	w io.Writer
}

func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

// Response writes r the way the response region shows it
func (t *Text) Response(r Response) {
	if r.Message != "" {
		fmt.Fprintln(t.w, r.Message)
	}

	if r.Processing {
		fmt.Fprintln(t.w, "Processing files...")
		fmt.Fprintln(t.w, "Please wait while your files are being processed.")
	}

	for _, f := range r.Failures {
		t.FileError(f)
	}

	if s := r.Summary; s != nil {
		fmt.Fprintln(t.w, "Total Statistics")
		fmt.Fprintf(t.w, "  Total records processed: %d\n", s.TotalRecords)
		fmt.Fprintf(t.w, "  Total new records: %d\n", s.NewRecords)
		fmt.Fprintf(t.w, "  Total duplicate records: %d\n", s.DuplicateRecords)
	}
}

// FileError writes one per-file error block
func (t *Text) FileError(f FileError) {
	fmt.Fprintf(t.w, "File: %s\n", f.Filename)
	fmt.Fprintf(t.w, "  Error: %s\n", f.Message)
}

// Listing writes the caption followed by the table
func (t *Text) Listing(l review.Listing) {
	fmt.Fprintln(t.w, l.Caption)

	if l.Empty() {
		fmt.Fprintln(t.w, "No data available")
		return
	}

	table := tablewriter.NewWriter(t.w)
	table.SetHeader(l.Table.Columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	for _, row := range l.Table.Rows {
		table.Append(Cells(l.Table.Columns, row))
	}

	table.Render()
}

// Cells returns formatted values of row in column order
func Cells(columns []string, row api.Row) []string {
	return lo.Map(columns, func(column string, _ int) string {
		return FormatValue(row[column])
	})
}

// History writes one line per journal record
func (t *Text) History(records []journal.Record) {
	if len(records) == 0 {
		fmt.Fprintln(t.w, "No batches recorded")
		return
	}

	table := tablewriter.NewWriter(t.w)
	table.SetHeader([]string{"Batch", "State", "Started", "Files", "Failed", "Total", "New", "Duplicate"})
	table.SetAutoFormatHeaders(false)

	for _, r := range records {
		failed := lo.CountBy(r.Outcomes, func(o journal.Outcome) bool {
			return o.State == api.TaskFailed.String()
		})

		table.Append([]string{
			r.ID,
			r.State,
			r.StartedAt.Local().Format(time.DateTime),
			fmt.Sprintf("%d/%d", r.CompletedTasks, r.TotalTasks),
			fmt.Sprint(failed),
			FormatValue(r.TotalRecords),
			FormatValue(r.NewRecords),
			FormatValue(r.DuplicateRecords),
		})
	}

	table.Render()
}

// Record writes a journal record with its per-file outcomes
func (t *Text) Record(r journal.Record) {
	fmt.Fprintf(t.w, "Batch %s (%s)\n", r.ID, r.State)
	fmt.Fprintf(t.w, "Started: %s\n", r.StartedAt.Local().Format(time.DateTime))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(t.w, "Finished: %s\n", r.FinishedAt.Local().Format(time.DateTime))
	}

	for _, o := range r.Outcomes {
		if o.State == api.TaskFailed.String() {
			t.FileError(FileError{Filename: o.Filename, Message: o.Error})
		}
	}

	if r.State == task.Completed.String() {
		t.Response(Response{Summary: &task.Stats{
			TotalRecords:     r.TotalRecords,
			NewRecords:       r.NewRecords,
			DuplicateRecords: r.DuplicateRecords,
			CompletedTasks:   r.CompletedTasks,
			TotalTasks:       r.TotalTasks,
		}})
	}
}
