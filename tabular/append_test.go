package tabular

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustDecode(t *testing.T, s string) *Table {
	t.Helper()
	tbl, err := Decode(strings.NewReader(s))
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestAppend(t *testing.T) {
	first := mustDecode(t, "Subject ID,Group,Sex\nS1,AD,F\nS2,CN,M\n")
	second := mustDecode(t, "Group,Subject ID,AgeGroup\nCN,S3,old\nAD,S1,young\n")

	out := Append(first, second)
	if got := strings.Join(out.Columns, ","); got != "Subject ID,Group,Sex,AgeGroup" {
		t.Fatalf("columns = %s", got)
	}
	if out.Len() != first.Len()+second.Len() {
		t.Fatalf("%d rows, want %d", out.Len(), first.Len()+second.Len())
	}
	want := [][]string{
		{"S1", "AD", "F", ""},
		{"S2", "CN", "M", ""},
		{"S3", "CN", "", "old"},
		{"S1", "AD", "", "young"},
	}
	for i, row := range want {
		if strings.Join(out.Rows[i], "|") != strings.Join(row, "|") {
			t.Errorf("row %d = %v, want %v", i, out.Rows[i], row)
		}
	}
	if first.Len() != 2 || len(first.Columns) != 3 {
		t.Error("Append modified its input")
	}
}

func TestAppendKeepsRepeatedColumns(t *testing.T) {
	out := Append(mustDecode(t, "id,x,x\n1,a,b\n"), mustDecode(t, "id,x,x\n2,c,d\n"))
	var buf strings.Builder
	if err := out.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if want := "id,x,x.1\n1,a,b\n2,c,d\n"; buf.String() != want {
		t.Errorf("encoded %q, want %q", buf.String(), want)
	}
}

func TestAppendEmpty(t *testing.T) {
	first := New("a", "b")
	second := mustDecode(t, "b\n1\n")
	out := Append(first, second)
	if out.Len() != 1 || out.Get(0, "b") != "1" || out.Get(0, "a") != "" {
		t.Errorf("rows = %v", out.Rows)
	}
}

func TestDuplicateKeys(t *testing.T) {
	tbl := mustDecode(t, "id,v\nA,1\nB,2\nA,3\nC,4\nB,5\nA,6\n")
	dups, err := DuplicateKeys(tbl, "id")
	if err != nil {
		t.Fatal(err)
	}
	if len(dups) != 2 {
		t.Fatalf("dups = %+v", dups)
	}
	if dups[0].Key != "A" || len(dups[0].Rows) != 3 || dups[0].Rows[2] != 5 {
		t.Errorf("A = %+v", dups[0])
	}
	if dups[1].Key != "B" || dups[1].Rows[0] != 1 || dups[1].Rows[1] != 4 {
		t.Errorf("B = %+v", dups[1])
	}

	if _, err := DuplicateKeys(tbl, "missing"); err == nil {
		t.Error("expected an error for an unknown column")
	}
}

func TestConcat(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	out := filepath.Join(dir, "csvs", "overview_subjects2.csv")
	if err := os.WriteFile(a, []byte("Subject ID,Group\nS1,AD\nS2,CN\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("Subject ID,Group\nS2,CN\nS3,AD\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	merged, dups, err := Concat(a, b, out, "Subject ID")
	if err != nil {
		t.Fatal(err)
	}
	if merged.Len() != 4 {
		t.Errorf("merged %d rows, want 4", merged.Len())
	}
	if len(dups) != 1 || dups[0].Key != "S2" {
		t.Errorf("dups = %+v", dups)
	}

	written, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	want := "Subject ID,Group\nS1,AD\nS2,CN\nS2,CN\nS3,AD\n"
	if string(written) != want {
		t.Errorf("output:\n%s\nwant:\n%s", written, want)
	}

	if _, dups, err := Concat(a, b, out, ""); err != nil || dups != nil {
		t.Errorf("without key: dups %v err %v", dups, err)
	}
	if _, _, err := Concat(a, filepath.Join(dir, "nope.csv"), out, ""); err == nil {
		t.Error("missing input should fail")
	}
}
