package tabular

import (
	"github.com/pkg/errors"
)

// Append returns a new table holding first's rows followed by second's.
// Columns are first's in order, then columns only second has; cells a
// table lacks are left empty. Rows are not matched or deduplicated.
func Append(first, second *Table) *Table {
	out := New(first.Columns...)
	for _, c := range second.Columns {
		out.AddColumn(c)
	}

	out.Rows = make([][]string, 0, first.Len()+second.Len())
	for _, src := range []*Table{first, second} {
		pos := make([]int, len(src.Columns))
		for i, c := range src.Columns {
			pos[i] = out.Col(c)
		}
		for _, rec := range src.Rows {
			row := make([]string, len(out.Columns))
			for i, v := range rec {
				row[pos[i]] = v
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Duplicate is one key value found on more than one row.
type Duplicate struct {
	Key  string
	Rows []int
}

// DuplicateKeys lists key values of col that occur more than once, in
// first-seen order.
func DuplicateKeys(t *Table, col string) ([]Duplicate, error) {
	i := t.Col(col)
	if i < 0 {
		return nil, errors.Errorf("tabular: no column %q", col)
	}
	first := make(map[string]int)
	at := make(map[string]int)
	var dups []Duplicate
	for r, rec := range t.Rows {
		k := rec[i]
		if d, ok := at[k]; ok {
			dups[d].Rows = append(dups[d].Rows, r)
			continue
		}
		if f, ok := first[k]; ok {
			at[k] = len(dups)
			dups = append(dups, Duplicate{Key: k, Rows: []int{f, r}})
			continue
		}
		first[k] = r
	}
	return dups, nil
}

// Concat reads two CSV files, appends the second to the first and writes
// the result to out. When key is set, duplicate key values in the result
// are returned for reporting; the rows are kept.
func Concat(firstPath, secondPath, out, key string) (*Table, []Duplicate, error) {
	first, err := Read(firstPath)
	if err != nil {
		return nil, nil, err
	}
	second, err := Read(secondPath)
	if err != nil {
		return nil, nil, err
	}

	merged := Append(first, second)

	var dups []Duplicate
	if key != "" {
		dups, err = DuplicateKeys(merged, key)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := merged.Write(out); err != nil {
		return nil, nil, err
	}
	return merged, dups, nil
}
