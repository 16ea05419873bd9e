package flow

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Metric computes evaluation metrics over one or more batches.
type Metric interface {
	reset()
	update(pred, target *tensor)
	result() float64
	name() string
}

// BinaryAccuracyMetric - accuracy of a single-logit (or probability) head
type BinaryAccuracyMetric struct {
	Threshold float64
	correct   int
	total     int
}

type BinaryAccuracyConfig struct {
	// Threshold is applied to the raw prediction: 0 for logits, 0.5 for
	// probabilities.
	Threshold float64
}

func BinaryAccuracy(config BinaryAccuracyConfig) Metric {
	return &BinaryAccuracyMetric{Threshold: config.Threshold}
}

func (a *BinaryAccuracyMetric) reset() {
	a.correct = 0
	a.total = 0
}

func (a *BinaryAccuracyMetric) update(pred, target *tensor) {
	for i, p := range pred.data {
		predPos := float64(p) >= a.Threshold
		actualPos := target.data[i] >= 0.5
		if predPos == actualPos {
			a.correct++
		}
		a.total++
	}
}

func (a *BinaryAccuracyMetric) result() float64 {
	if a.total == 0 {
		return math.NaN()
	}
	return float64(a.correct) / float64(a.total)
}

func (a *BinaryAccuracyMetric) name() string { return "acc" }

// ROCAUCMetric - area under the ROC curve. Scores are ranked, so logits and
// probabilities give the same value. Undefined (NaN) until both classes
// have been seen.
type ROCAUCMetric struct {
	scores []float64
	labels []bool
}

func ROCAUC() Metric { return &ROCAUCMetric{} }

func (r *ROCAUCMetric) reset() {
	r.scores = r.scores[:0]
	r.labels = r.labels[:0]
}

func (r *ROCAUCMetric) update(pred, target *tensor) {
	for i, p := range pred.data {
		r.scores = append(r.scores, float64(p))
		r.labels = append(r.labels, target.data[i] >= 0.5)
	}
}

func (r *ROCAUCMetric) result() float64 {
	return rocAUC(r.scores, r.labels)
}

func (r *ROCAUCMetric) name() string { return "auc" }

func rocAUC(scores []float64, labels []bool) float64 {
	for _, s := range scores {
		if math.IsNaN(s) {
			return math.NaN()
		}
	}
	var pos, neg int
	for _, l := range labels {
		if l {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return math.NaN()
	}

	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })
	y := make([]float64, len(idx))
	classes := make([]bool, len(idx))
	for i, j := range idx {
		y[i] = scores[j]
		classes[i] = labels[j]
	}

	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}
