package export

import (
	"encoding/csv"
	"fmt"
	"github.com/jszwec/csvutil"
	"github.com/samber/lo"
	"io"
	"txdesk/internal/api"
	"txdesk/internal/task"
)

// ReportRow is one line of a batch report, one per uploaded file in upload order
type ReportRow struct {
	Filename         string `csv:"filename"`
	TaskID           string `csv:"task_id"`
	Status           string `csv:"status"`
	TotalRecords     int64  `csv:"total_records"`
	NewRecords       int64  `csv:"new_records"`
	DuplicateRecords int64  `csv:"duplicate_records"`
	Error            string `csv:"error,omitempty"`
}

// ReportRows lists outcomes of s in upload order.
// Tasks without outcome get the batch state as status.
func ReportRows(s task.Snapshot) []ReportRow {
	outcomes := lo.KeyBy(s.Outcomes, func(o task.Outcome) string {
		return o.Task.TaskID
	})

	return lo.Map(s.Tasks, func(t api.TaskDescriptor, _ int) ReportRow {
		row := ReportRow{
			Filename: t.Filename,
			TaskID:   t.TaskID,
			Status:   s.State.String(),
		}

		if o, ok := outcomes[t.TaskID]; ok {
			row.Status = o.State.String()
			row.TotalRecords = o.Result.TotalRecords
			row.NewRecords = o.Result.NewCount
			row.DuplicateRecords = o.Result.DuplicateCount
			row.Error = o.Error
		}

		return row
	})
}

// WriteReport writes per-file outcomes of s as CSV with a header line
func WriteReport(w io.Writer, s task.Snapshot) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if err := enc.EncodeHeader(ReportRow{}); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	for _, row := range ReportRows(s) {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to write report row for %q: %w", row.Filename, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
