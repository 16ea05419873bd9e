package adni

import "fmt"

// Split variables selecting the demographic the ratio applies to.
const (
	SplitSex      = 0
	SplitAgeGroup = 1
)

// SplitLabel is the column and file-name label of a split variable.
func SplitLabel(splitVar int) (string, error) {
	switch splitVar {
	case SplitSex:
		return "Sex", nil
	case SplitAgeGroup:
		return "AgeGroup", nil
	}
	return "", ErrInvalidSplitVar
}

// protectedValue is the column value marking the group whose share of the
// training set is controlled by the ratio.
func protectedValue(splitVar int) string {
	if splitVar == SplitAgeGroup {
		return "old"
	}
	return "F"
}

// SplitCSVs names the three subject lists of one run and fold.
type SplitCSVs struct {
	Train string
	Val   string
	Test  string
}

// SplitFiles resolves the split CSVs for a run:
// {dir}{label}-ratio={ratio:.2f}-run={run}-fold={fold}-{train|val|test}.csv
func SplitFiles(dir string, splitVar int, runIdx int, ratio float64, fold int) (SplitCSVs, error) {
	label, err := SplitLabel(splitVar)
	if err != nil {
		return SplitCSVs{}, err
	}
	base := fmt.Sprintf("%s%s-ratio=%.2f-run=%d-fold=%d", dir, label, ratio, runIdx, fold)
	return SplitCSVs{
		Train: base + "-train.csv",
		Val:   base + "-val.csv",
		Test:  base + "-test.csv",
	}, nil
}
