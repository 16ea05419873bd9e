package adni

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"adnicnn/tabular"
)

// Column names of the split and metadata CSVs.
const (
	ColSubject  = "Subject ID"
	ColGroup    = "Group"
	ColSex      = "Sex"
	ColAgeGroup = "AgeGroup"
)

// MetadataFile is joined into split rows when a feature CSV dir is set.
const MetadataFile = "overview_subjects.csv"

// volumeExts are tried in order for every image directory.
var volumeExts = []string{".nii.gz", ".nii"}

const (
	maxShift     = 2
	intensityMin = 0.9
	intensityMax = 1.1
)

// Subject is one row of a split after metadata join and volume lookup.
type Subject struct {
	ID       string
	Group    string
	Sex      string
	AgeGroup string
	Label    float32
	Path     string
	// Blanked subjects are fed as all-zero volumes (fake-diff runs).
	Blanked bool
}

// DataConfig configures a DataModule - ALL fields required except
// ExportPath and FeatureCSVDir.
type DataConfig struct {
	ImageDirs     []string
	Splits        SplitCSVs
	Shape         []int // [D, H, W]
	IncreasedAug  bool
	FakeDiff      bool
	SplitVar      int
	ExportPath    string
	FeatureCSVDir string
	Seed          int64
}

// DataModule loads the subject lists of one run and exposes them as
// training, validation and test sources.
type DataModule struct {
	cfg   DataConfig
	Train *VolumeSource
	Val   *VolumeSource
	// Test is nil when the run has no test CSV.
	Test *VolumeSource
}

func NewDataModule(cfg DataConfig) *DataModule {
	return &DataModule{cfg: cfg}
}

// Setup reads the split CSVs, resolves every subject's volume file and
// writes the manifest when an export path is configured. Volumes are read
// lazily by the sources.
func (dm *DataModule) Setup(ctx context.Context) error {
	if len(dm.cfg.Shape) != 3 {
		return errors.Errorf("adni: volume shape must be [D, H, W], got %v", dm.cfg.Shape)
	}

	var meta map[string]map[string]string
	if dm.cfg.FeatureCSVDir != "" {
		var err error
		meta, err = loadMetadata(filepath.Join(dm.cfg.FeatureCSVDir, MetadataFile))
		if err != nil {
			return err
		}
	}

	parts := []struct {
		name     string
		path     string
		optional bool
		dst      **VolumeSource
		augment  bool
	}{
		{"train", dm.cfg.Splits.Train, false, &dm.Train, dm.cfg.IncreasedAug},
		{"val", dm.cfg.Splits.Val, false, &dm.Val, false},
		{"test", dm.cfg.Splits.Test, true, &dm.Test, false},
	}

	manifest := tabular.New("split", ColSubject, ColGroup, "label", "path")
	for i, p := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.optional {
			if _, err := os.Stat(p.path); os.IsNotExist(err) {
				continue
			}
		}
		subjects, err := dm.loadSplit(p.path, meta)
		if err != nil {
			return errors.Wrapf(err, "adni: %s split", p.name)
		}
		if len(subjects) == 0 && !p.optional {
			return errors.Errorf("adni: %s split %s has no subjects", p.name, p.path)
		}
		*p.dst = newVolumeSource(subjects, dm.cfg.Shape, p.augment, dm.cfg.Seed+int64(i))

		for _, s := range subjects {
			manifest.AppendRow(map[string]string{
				"split":    p.name,
				ColSubject: s.ID,
				ColGroup:   s.Group,
				"label":    strconv.Itoa(int(s.Label)),
				"path":     s.Path,
			})
		}
	}

	if dm.cfg.ExportPath != "" {
		if err := manifest.Write(dm.cfg.ExportPath); err != nil {
			return errors.Wrap(err, "adni: exporting manifest")
		}
	}
	return nil
}

func loadMetadata(path string) (map[string]map[string]string, error) {
	t, err := tabular.Read(path)
	if err != nil {
		return nil, errors.Wrap(err, "adni: subject metadata")
	}
	if !t.Has(ColSubject) {
		return nil, errors.Errorf("adni: metadata %s has no %q column", path, ColSubject)
	}
	meta := make(map[string]map[string]string, t.Len())
	for r := range t.Rows {
		id := t.Get(r, ColSubject)
		if _, seen := meta[id]; seen {
			continue
		}
		row := make(map[string]string, len(t.Columns))
		for _, c := range t.Columns {
			row[c] = t.Get(r, c)
		}
		meta[id] = row
	}
	return meta, nil
}

func (dm *DataModule) loadSplit(path string, meta map[string]map[string]string) ([]Subject, error) {
	t, err := tabular.Read(path)
	if err != nil {
		return nil, err
	}
	for _, col := range []string{ColSubject, ColGroup} {
		if !t.Has(col) {
			return nil, errors.Errorf("%s has no %q column", path, col)
		}
	}

	lookup := func(r int, id, col string) string {
		if v := t.Get(r, col); v != "" {
			return v
		}
		return meta[id][col]
	}

	protected := protectedValue(dm.cfg.SplitVar)
	splitCol := ColSex
	if dm.cfg.SplitVar == SplitAgeGroup {
		splitCol = ColAgeGroup
	}

	subjects := make([]Subject, 0, t.Len())
	for r := range t.Rows {
		id := t.Get(r, ColSubject)
		s := Subject{
			ID:       id,
			Group:    lookup(r, id, ColGroup),
			Sex:      lookup(r, id, ColSex),
			AgeGroup: lookup(r, id, ColAgeGroup),
		}
		switch s.Group {
		case "AD":
			s.Label = 1
		case "CN":
			s.Label = 0
		default:
			return nil, errors.Errorf("%s row %d: subject %s has group %q, want AD or CN", path, r+2, id, s.Group)
		}

		s.Path, err = resolveVolume(dm.cfg.ImageDirs, id)
		if err != nil {
			return nil, err
		}

		if dm.cfg.FakeDiff && s.Label == 1 {
			v := s.Sex
			if splitCol == ColAgeGroup {
				v = s.AgeGroup
			}
			s.Blanked = v == protected
		}
		subjects = append(subjects, s)
	}
	return subjects, nil
}

// resolveVolume returns the first {dir}/{id}{ext} that exists.
func resolveVolume(dirs []string, id string) (string, error) {
	for _, dir := range dirs {
		for _, ext := range volumeExts {
			p := filepath.Join(dir, id+ext)
			if st, err := os.Stat(p); err == nil && !st.IsDir() {
				return p, nil
			}
		}
	}
	return "", errors.Wrapf(ErrMissingVolume, "%s (searched %v)", id, dirs)
}

// VolumeSource serves preprocessed volumes to the training loop.
type VolumeSource struct {
	subjects []Subject
	shape    []int
	augment  bool
	rng      *rand.Rand
}

func newVolumeSource(subjects []Subject, shape []int, augment bool, seed int64) *VolumeSource {
	return &VolumeSource{
		subjects: subjects,
		shape:    append([]int(nil), shape...),
		augment:  augment,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (v *VolumeSource) Len() int { return len(v.subjects) }

// SampleShape is [D, H, W, 1].
func (v *VolumeSource) SampleShape() []int {
	return []int{v.shape[0], v.shape[1], v.shape[2], 1}
}

// Subjects returns the resolved subject list.
func (v *VolumeSource) Subjects() []Subject { return v.subjects }

func (v *VolumeSource) Load(ctx context.Context, indices []int, x []float32, y []float32) error {
	size := v.shape[0] * v.shape[1] * v.shape[2]
	for i, idx := range indices {
		if err := ctx.Err(); err != nil {
			return err
		}
		if idx < 0 || idx >= len(v.subjects) {
			return errors.Errorf("adni: sample index %d out of range [0, %d)", idx, len(v.subjects))
		}
		s := v.subjects[idx]
		dst := x[i*size : (i+1)*size]
		y[i] = s.Label

		if s.Blanked {
			for j := range dst {
				dst[j] = 0
			}
			continue
		}

		vol, err := ReadVolume(s.Path)
		if err != nil {
			return errors.Wrapf(err, "adni: subject %s", s.ID)
		}
		v.prepare(vol, dst)
	}
	return nil
}

// prepare center-crops or zero-pads vol into dst, z-scores it and applies
// training augmentation when enabled.
func (v *VolumeSource) prepare(vol *Volume, dst []float32) {
	var aug augmentation
	if v.augment {
		aug = randomAugmentation(v.rng)
	} else {
		aug.scale = 1
	}
	fitVolume(vol, v.shape, aug, dst)
	zscore(dst)
	if aug.scale != 1 {
		for i := range dst {
			dst[i] *= float32(aug.scale)
		}
	}
}

type augmentation struct {
	flip  bool   // mirror the left-right (x) axis
	shift [3]int // voxels along D, H, W
	scale float64
}

func randomAugmentation(rng *rand.Rand) augmentation {
	a := augmentation{flip: rng.Intn(2) == 1}
	for i := range a.shift {
		a.shift[i] = rng.Intn(2*maxShift+1) - maxShift
	}
	a.scale = intensityMin + rng.Float64()*(intensityMax-intensityMin)
	return a
}

// fitVolume copies the centered [D, H, W] window of vol into dst. The
// volume's z axis maps to D, y to H and x to W.
func fitVolume(vol *Volume, shape []int, aug augmentation, dst []float32) {
	nx, ny, nz := vol.Dims[0], vol.Dims[1], vol.Dims[2]
	D, H, W := shape[0], shape[1], shape[2]
	offZ := (nz-D)/2 - aug.shift[0]
	offY := (ny-H)/2 - aug.shift[1]
	offX := (nx-W)/2 - aug.shift[2]

	for d := 0; d < D; d++ {
		sz := d + offZ
		for h := 0; h < H; h++ {
			sy := h + offY
			row := dst[(d*H+h)*W : (d*H+h+1)*W]
			if sz < 0 || sz >= nz || sy < 0 || sy >= ny {
				for w := range row {
					row[w] = 0
				}
				continue
			}
			base := nx * (sy + ny*sz)
			for w := range row {
				sx := w + offX
				if aug.flip {
					sx = nx - 1 - sx
				}
				if sx < 0 || sx >= nx {
					row[w] = 0
					continue
				}
				row[w] = vol.Data[base+sx]
			}
		}
	}
}

// zscore normalizes data to zero mean and unit variance in place; a
// constant volume is only centered.
func zscore(data []float32) {
	vals := make([]float64, len(data))
	for i, v := range data {
		vals[i] = float64(v)
	}
	mean, std := stat.MeanStdDev(vals, nil)
	if math.IsNaN(std) || std == 0 {
		std = 1
	}
	for i, v := range vals {
		data[i] = float32((v - mean) / std)
	}
}
