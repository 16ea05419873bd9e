package adni

import "fmt"

// CheckpointFile builds the checkpoint path for one run. dir is prefixed
// verbatim, so it normally ends with a separator.
//
//	CheckpointFile("./ck/", "CNN", 0, 0.5, 2, 1, false)
//	// "./ck/ADNI_tCNN_Sex-ratio=0.50-run=2-fold=1.ckpt"
func CheckpointFile(dir, cnnType string, splitVar int, ratio float64, runIdx, fold int, fake bool) string {
	path := dir
	if cnnType == "CNN" {
		path += "ADNI_tCNN"
	} else {
		path += "ADNI_3slice_CNN"
	}

	if splitVar == 0 {
		path += "_Sex"
	} else {
		path += "_AgeGroup"
	}

	path += fmt.Sprintf("-ratio=%.2f-run=%d-fold=%d", ratio, runIdx, fold)

	if fake {
		path += "_fake"
	}
	return path + ".ckpt"
}
