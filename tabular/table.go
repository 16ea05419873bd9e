// Package tabular reads, appends and writes header-first CSV tables.
package tabular

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Table is a header row plus string cells. Every row has len(Columns)
// cells; absent values are empty strings.
type Table struct {
	Columns []string
	Rows    [][]string
	index   map[string]int
}

// New creates an empty table with the given columns. A repeated name gets
// a ".N" suffix, so "x,x" becomes "x,x.1".
func New(columns ...string) *Table {
	t := &Table{
		Columns: make([]string, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	seen := make(map[string]int, len(columns))
	for i, c := range columns {
		name := c
		for n := seen[c]; t.Has(name); n++ {
			name = c + "." + strconv.Itoa(n+1)
			seen[c] = n + 1
		}
		t.Columns[i] = name
		t.index[name] = i
	}
	return t
}

// Read loads a CSV file whose first record is the header.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "tabular: opening %s", path)
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "tabular: reading %s", path)
	}
	return t, nil
}

// Decode parses CSV from r. Rows must have exactly as many fields as the
// header.
func Decode(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty input, no header row")
	}
	if err != nil {
		return nil, err
	}
	t := New(header...)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// Write stores the table as CSV, creating parent directories.
func (t *Table) Write(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "tabular: creating %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "tabular: creating %s", path)
	}
	if err := t.Encode(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "tabular: writing %s", path)
	}
	return errors.Wrapf(f.Close(), "tabular: closing %s", path)
}

// Encode writes the header and rows as CSV.
func (t *Table) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// Len is the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Has reports whether col is a column.
func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Col returns the position of col, or -1.
func (t *Table) Col(col string) int {
	if i, ok := t.index[col]; ok {
		return i
	}
	return -1
}

// Get returns the cell at row for col, or "" when the column is absent.
func (t *Table) Get(row int, col string) string {
	i, ok := t.index[col]
	if !ok {
		return ""
	}
	return t.Rows[row][i]
}

// AddColumn appends an empty column. Existing columns are left alone.
func (t *Table) AddColumn(col string) {
	if t.Has(col) {
		return
	}
	t.Columns = append(t.Columns, col)
	t.index[col] = len(t.Columns) - 1
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], "")
	}
}

// AppendRow adds one row given as column -> value; unknown columns are
// added to the table in sorted order.
func (t *Table) AppendRow(values map[string]string) {
	var missing []string
	for col := range values {
		if !t.Has(col) {
			missing = append(missing, col)
		}
	}
	sort.Strings(missing)
	for _, col := range missing {
		t.AddColumn(col)
	}
	row := make([]string, len(t.Columns))
	for col, v := range values {
		row[t.index[col]] = v
	}
	t.Rows = append(t.Rows, row)
}
