package export

import (
	"encoding/json"
	"fmt"
	"github.com/tealeg/xlsx/v3"
	"io"
	"txdesk/internal/api"
)

// maximum sheet name length accepted by spreadsheet applications
const maxSheetName = 31

// WriteWorkbook writes t as a workbook with a single sheet.
// The first row holds column names. Numbers are stored as numeric cells,
// booleans as boolean cells, null and missing values as empty cells.
func WriteWorkbook(w io.Writer, sheetName string, t api.Table) error {
	if len(sheetName) > maxSheetName {
		sheetName = sheetName[:maxSheetName]
	}

	wb := xlsx.NewFile()
	sh, err := wb.AddSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to add sheet %q: %w", sheetName, err)
	}

	header := sh.AddRow()
	for _, column := range t.Columns {
		header.AddCell().SetString(column)
	}

	for i, r := range t.Rows {
		row := sh.AddRow()
		for _, column := range t.Columns {
			if err := setCell(row.AddCell(), r[column]); err != nil {
				return fmt.Errorf("row %d, column %q: %w", i+1, column, err)
			}
		}
	}

	return wb.Write(w)
}

func setCell(c *xlsx.Cell, v interface{}) error {
	switch v := v.(type) {
	case nil:
	case string:
		c.SetString(v)
	case bool:
		c.SetBool(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			c.SetInt64(i)
			return nil
		}
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("malformed number %q: %w", v, err)
		}
		c.SetFloat(f)
	case float64:
		c.SetFloat(v)
	case int64:
		c.SetInt64(v)
	case int:
		c.SetInt(v)
	default:
		c.SetString(fmt.Sprint(v))
	}
	return nil
}
