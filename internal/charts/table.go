// Package charts holds the tabular output of the monthly aggregation and
// the sinks that persist it as CSV.
package charts

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Table is one chart's data: a name such as "month_sessions_by_day", a
// header, and rows of already-formatted cells.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

func New(name string, columns ...string) *Table {
	return &Table{Name: name, Columns: columns}
}

// AddRow formats and appends one row. It panics when the number of values
// does not match the header, which is always a programming error.
func (t *Table) AddRow(values ...any) {
	if len(values) != len(t.Columns) {
		panic(fmt.Sprintf("charts: table %s has %d columns, got %d values", t.Name, len(t.Columns), len(values)))
	}
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = Cell(v)
	}
	t.Rows = append(t.Rows, row)
}

// Column returns the index of the named column or -1.
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func (t *Table) MarshalCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ParseCSV(name string, data []byte) (*Table, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse table %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("table %s has no header", name)
	}
	return &Table{Name: name, Columns: records[0], Rows: records[1:]}, nil
}

// Cell renders a value the way the chart front end expects: integers
// plainly, floats always with a fractional part, dates as YYYY-MM-DD.
func Cell(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return FormatFloat(x)
	case time.Time:
		return x.Format("2006-01-02")
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	if abs := math.Abs(v); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}
