package tabular

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestDecodeEncode(t *testing.T) {
	in := "Subject ID,Group,Sex\nS1,AD,F\n\"S,2\",CN,M\n"
	tbl, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 2 || tbl.Get(1, "Subject ID") != "S,2" {
		t.Fatalf("rows = %v", tbl.Rows)
	}
	if tbl.Get(0, "AgeGroup") != "" || tbl.Has("AgeGroup") || tbl.Col("AgeGroup") != -1 {
		t.Error("absent column should read as empty")
	}

	var buf bytes.Buffer
	if err := tbl.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != in {
		t.Errorf("encoded:\n%s\nwant:\n%s", buf.String(), in)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(strings.NewReader("")); err == nil {
		t.Error("empty input should fail")
	}
	if _, err := Decode(strings.NewReader("a,b\n1,2,3\n")); err == nil {
		t.Error("ragged row should fail")
	}
	if _, err := Read(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestAppendRow(t *testing.T) {
	tbl := New("a")
	tbl.AppendRow(map[string]string{"a": "1", "z": "2", "m": "3"})
	if got := strings.Join(tbl.Columns, ","); got != "a,m,z" {
		t.Errorf("columns = %s", got)
	}
	tbl.AppendRow(map[string]string{"m": "4"})
	if got := strings.Join(tbl.Rows[1], "|"); got != "|4|" {
		t.Errorf("second row = %q", got)
	}
	tbl.AddColumn("a")
	if len(tbl.Columns) != 3 {
		t.Error("AddColumn duplicated an existing column")
	}
}

func TestRepeatedHeaderNames(t *testing.T) {
	tbl := mustDecode(t, "id,x,x,x.1,x\n1,a,b,c,d\n")
	if got := strings.Join(tbl.Columns, ","); got != "id,x,x.1,x.1.1,x.2" {
		t.Fatalf("columns = %s", got)
	}
	if tbl.Get(0, "x") != "a" || tbl.Get(0, "x.1") != "b" || tbl.Get(0, "x.2") != "d" {
		t.Errorf("row = %v", tbl.Rows[0])
	}
}

func TestWriteCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.csv")
	tbl := New("x", "y")
	tbl.AppendRow(map[string]string{"x": "1", "y": "2"})
	if err := tbl.Write(path); err != nil {
		t.Fatal(err)
	}
	back, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.Get(0, "y") != "2" {
		t.Errorf("rows = %v", back.Rows)
	}
}
