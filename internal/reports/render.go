package reports

import (
	"bytes"
	"database/sql/driver"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/google/uuid"
)

type envelope struct {
	Report struct {
		Type           string    `json:"type"`
		Name           string    `json:"name"`
		Description    string    `json:"description"`
		OrganizationID string    `json:"organizationId"`
		GeneratedAt    time.Time `json:"generatedAt"`
		RecordCount    int       `json:"recordCount"`
	} `json:"report"`
	Data any `json:"data"`
}

func renderJSON(rt ReportType, orgID string, at time.Time, data any, rows []map[string]any) (string, error) {
	var env envelope
	env.Report.Type = rt.Name
	env.Report.Name = rt.Title
	env.Report.Description = rt.Description
	env.Report.OrganizationID = orgID
	env.Report.GeneratedAt = at
	env.Report.RecordCount = len(rows)
	env.Data = data
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	return string(b), nil
}

// table flattens rows and returns the header of the first flattened row
// (sorted) plus each row's cells in header order.
func table(rows []map[string]any) ([]string, [][]string) {
	if len(rows) == 0 {
		return nil, nil
	}
	first := FlattenObject(rows[0])
	header := make([]string, 0, len(first))
	for k := range first {
		header = append(header, k)
	}
	sort.Strings(header)

	cells := make([][]string, len(rows))
	for i, row := range rows {
		flat := first
		if i > 0 {
			flat = FlattenObject(row)
		}
		line := make([]string, len(header))
		for j, h := range header {
			line[j] = formatCell(flat[h])
		}
		cells[i] = line
	}
	return header, cells
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format(time.RFC3339)
	case [16]byte:
		return uuid.UUID(t).String()
	case fmt.Stringer:
		return t.String()
	case json.Marshaler:
		return marshaledCell(t)
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		if b, ok := dv.([]byte); ok {
			return string(b)
		}
		return formatCell(dv)
	case []any, []string, []map[string]any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

// marshaledCell renders database types such as pgtype.Numeric through their
// JSON form, unquoting strings and mapping null to an empty cell.
func marshaledCell(m json.Marshaler) string {
	b, err := m.MarshalJSON()
	if err != nil {
		return fmt.Sprint(m)
	}
	if string(b) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(b, &s) == nil {
		return s
	}
	return string(b)
}

// renderCSV quotes fields containing separators, quotes or newlines.
func renderCSV(rows []map[string]any) (string, error) {
	header, cells := table(rows)
	if header == nil {
		return "", nil
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", err
	}
	if err := w.WriteAll(cells); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 32px; color: #222; }
h1 { font-size: 20px; margin-bottom: 4px; }
p.meta { color: #666; font-size: 12px; }
table { border-collapse: collapse; width: 100%; font-size: 11px; }
th, td { border: 1px solid #ccc; padding: 4px 6px; text-align: left; }
th { background: #f2f2f2; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Description}}</p>
<p class="meta">Generated at {{.GeneratedAt}} &middot; {{len .Rows}} record(s)</p>
{{if .Header}}<table>
<thead><tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</tbody>
</table>{{else}}<p>No data.</p>{{end}}
</body>
</html>
`))

// renderHTML produces the source document for PDF rendering.
func renderHTML(rt ReportType, at time.Time, rows []map[string]any) (string, error) {
	header, cells := table(rows)
	var buf bytes.Buffer
	err := htmlReport.Execute(&buf, struct {
		Title       string
		Description string
		GeneratedAt string
		Header      []string
		Rows        [][]string
	}{rt.Title, rt.Description, at.Format("2006-01-02 15:04 MST"), header, cells})
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}
