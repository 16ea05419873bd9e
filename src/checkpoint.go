package flow

import (
	"compress/zlib"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// CheckpointFormat tags the on-disk layout.
const CheckpointFormat = "flow-ckpt/1"

// CheckpointMeta describes the run a checkpoint came from.
type CheckpointMeta struct {
	Model      string
	RunID      string
	Epoch      int
	GlobalStep int
	HParams    map[string]string
	Metrics    map[string]float64
}

// TensorState is one parameter tensor.
type TensorState struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Checkpoint is the decoded content of a checkpoint file.
type Checkpoint struct {
	Format     string             `json:"format"`
	Model      string             `json:"model"`
	RunID      string             `json:"run_id"`
	Created    time.Time          `json:"created"`
	Epoch      int                `json:"epoch"`
	GlobalStep int                `json:"global_step"`
	Layers     []string           `json:"layers"`
	HParams    map[string]string  `json:"hparams,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Tensors    []TensorState      `json:"tensors"`
}

// SaveCheckpoint writes the network's weights and meta as zlib-compressed
// JSON. The file appears at path only once fully written.
func (n *Network) SaveCheckpoint(path string, meta CheckpointMeta) error {
	if !n.built {
		return ErrNotBuilt
	}

	ck := Checkpoint{
		Format:     CheckpointFormat,
		Model:      meta.Model,
		RunID:      meta.RunID,
		Created:    time.Now().UTC(),
		Epoch:      meta.Epoch,
		GlobalStep: meta.GlobalStep,
		HParams:    meta.HParams,
		Metrics:    finiteOnly(meta.Metrics),
	}
	for _, layer := range n.layers {
		ck.Layers = append(ck.Layers, layer.name())
	}
	for _, p := range n.parameters() {
		ck.Tensors = append(ck.Tensors, TensorState{
			Shape: append([]int(nil), p.shape...),
			Data:  append([]float32(nil), p.data...),
		})
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "flow: creating checkpoint dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".ckpt-*")
	if err != nil {
		return errors.Wrapf(err, "flow: creating temp checkpoint in %s", dir)
	}
	defer os.Remove(tmp.Name())

	zw := zlib.NewWriter(tmp)
	if err := json.NewEncoder(zw).Encode(&ck); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "flow: encoding checkpoint %s", path)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "flow: compressing checkpoint %s", path)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "flow: setting mode of checkpoint %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "flow: writing checkpoint %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "flow: publishing checkpoint %s", path)
	}
	return nil
}

// LoadCheckpoint decodes a checkpoint file without touching any network.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "flow: opening checkpoint %s", path)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "flow: checkpoint %s is not zlib data", path)
	}
	defer zr.Close()

	var ck Checkpoint
	if err := json.NewDecoder(zr).Decode(&ck); err != nil {
		return nil, errors.Wrapf(err, "flow: decoding checkpoint %s", path)
	}
	if ck.Format != CheckpointFormat {
		return nil, errors.Errorf("flow: checkpoint %s has format %q, want %q", path, ck.Format, CheckpointFormat)
	}
	return &ck, nil
}

// Restore copies the checkpoint's weights into n. Layer kinds and every
// tensor shape must match.
func (n *Network) Restore(ck *Checkpoint) error {
	if !n.built {
		return ErrNotBuilt
	}
	if len(ck.Layers) != len(n.layers) {
		return errors.Errorf("flow: checkpoint has %d layers, network has %d", len(ck.Layers), len(n.layers))
	}
	for i, layer := range n.layers {
		if ck.Layers[i] != layer.name() {
			return errors.Errorf("flow: checkpoint layer %d is %s, network has %s", i, ck.Layers[i], layer.name())
		}
	}
	params := n.parameters()
	if len(ck.Tensors) != len(params) {
		return errors.Errorf("flow: weight count mismatch: checkpoint %d, network %d", len(ck.Tensors), len(params))
	}
	for i, p := range params {
		st := ck.Tensors[i]
		if !sameShape(st.Shape, p.shape) || len(st.Data) != len(p.data) {
			return &FlowError{
				Component:     "Checkpoint",
				ErrorType:     "shape mismatch",
				LayerIndex:    -1,
				Phase:         "restore",
				InputShape:    st.Shape,
				ExpectedShape: p.shape,
				Cause:         fmt.Sprintf("tensor %d does not fit the network", i),
			}
		}
	}
	for i, p := range params {
		copy(p.data, ck.Tensors[i].Data)
	}
	return nil
}
