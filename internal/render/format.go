package render

import (
	"encoding/json"
	"fmt"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"strings"
)

// numbers are shown with en-US grouping and at most this many fraction digits
const fractionDigits = 3

var printer = message.NewPrinter(language.AmericanEnglish)

// FormatValue returns the text of a table cell.
// Missing values, null, empty strings and false are blank.
func FormatValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case bool:
		if !v {
			return ""
		}
		return "true"
	case string:
		return v
	case json.Number:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return string(v)
		}
		return FormatDecimal(d)
	case float64:
		return FormatDecimal(decimal.NewFromFloat(v))
	case int64:
		return FormatDecimal(decimal.NewFromInt(v))
	case int:
		return FormatDecimal(decimal.NewFromInt(int64(v)))
	default:
		return fmt.Sprint(v)
	}
}

// FormatDecimal rounds d half away from zero and groups integer digits
func FormatDecimal(d decimal.Decimal) string {
	d = d.Round(fractionDigits)
	if d.IsZero() {
		return "0"
	}

	abs := d.Abs()
	whole := abs.Truncate(0)

	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}

	if whole.LessThanOrEqual(decimal.NewFromInt(1<<62)) {
		b.WriteString(printer.Sprintf("%d", whole.IntPart()))
	} else {
		b.WriteString(whole.String())
	}

	// fraction keeps no trailing zeros, "0.25" becomes ".25"
	if frac := abs.Sub(whole); !frac.IsZero() {
		b.WriteString(strings.TrimPrefix(frac.String(), "0"))
	}

	return b.String()
}
