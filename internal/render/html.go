package render

import (
	"html/template"
	"io"
	"math"
	"time"
	"txdesk/internal/api"
	"txdesk/internal/review"
)

// Page is the data of the review console page
type Page struct {
	Response   Response
	Listing    *review.Listing
	SearchTerm string
	// Refresh reloads the page after this duration, zero disables reloading
	Refresh time.Duration
}

// RefreshSeconds rounds Refresh up to whole seconds
func (p Page) RefreshSeconds() int {
	if p.Refresh <= 0 {
		return 0
	}
	return int(math.Ceil(p.Refresh.Seconds()))
}

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"cell": func(row api.Row, column string) string {
		return FormatValue(row[column])
	},
}).Parse(layout))

// WritePage renders the whole console page
func WritePage(w io.Writer, p Page) error {
	return templates.ExecuteTemplate(w, "page", p)
}

// writeResponse renders the response region only
func writeResponse(w io.Writer, r Response) error {
	return templates.ExecuteTemplate(w, "response", r)
}

// writeListing renders the stats caption and the table region
func writeListing(w io.Writer, l *review.Listing) error {
	return templates.ExecuteTemplate(w, "listing", l)
}

const layout = `
{{- define "page" -}}
<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
{{- with .RefreshSeconds}}
<meta http-equiv="refresh" content="{{.}}">
{{- end}}
<title>Transaction Upload</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.error { color: #b00020; }
.success { color: #1b5e20; }
.file-error { border-left: 3px solid #b00020; padding-left: 1em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 8px; }
</style>
</head>
<body>
<h1>Transaction Upload</h1>
<form id="uploadForm" action="/upload" method="post" enctype="multipart/form-data">
<input type="file" id="files" name="files" multiple>
<button type="submit">Upload</button>
</form>
{{template "response" .Response}}
<form action="/search" method="get">
<input type="text" id="searchInput" name="q" value="{{.SearchTerm}}" placeholder="Search transactions">
<button type="submit">Search</button>
</form>
<form action="/reset" method="post">
<label><input type="checkbox" name="confirm" value="yes"> Delete all records</label>
<button type="submit">Reset Database</button>
</form>
{{template "listing" .Listing}}
</body>
</html>
{{end -}}

{{- define "response" -}}
<div id="response"{{with .Class}} class="{{.}}"{{end}}>
{{- with .Message}}{{.}}{{end}}
{{- if .Processing}}
<div class="processing">
<h3>Processing files...</h3>
<p>Please wait while your files are being processed.</p>
</div>
{{- end}}
{{- range .Failures}}
<div class="file-error">
<h3>File: {{.Filename}}</h3>
<p class="error-message">Error: {{.Message}}</p>
</div>
{{- end}}
{{- with .Summary}}
<div class="total-stats">
<h3>Total Statistics</h3>
<ul>
<li>Total records processed: {{.TotalRecords}}</li>
<li>Total new records: {{.NewRecords}}</li>
<li>Total duplicate records: {{.DuplicateRecords}}</li>
</ul>
</div>
{{- end -}}
</div>
{{- end -}}

{{- define "listing" -}}
<p id="stats">{{with .}}{{.Caption}}{{end}}</p>
<div id="tableContainer">
{{- with .}}
{{- if .Empty}}
<p>No data available</p>
{{- else}}
<table><thead><tr>
{{- range .Table.Columns}}<th>{{.}}</th>{{end -}}
</tr></thead><tbody>
{{- range $row := .Table.Rows}}
<tr>{{range $column := $.Table.Columns}}<td>{{cell $row $column}}</td>{{end}}</tr>
{{- end}}
</tbody></table>
{{- end}}
{{- end -}}
</div>
{{- end -}}
`
