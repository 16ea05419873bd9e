package adni

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func rampVolume(nx, ny, nz int) *Volume {
	v := &Volume{Dims: [3]int{nx, ny, nz}, PixDim: [3]float32{1, 1.5, 2}}
	v.Data = make([]float32, nx*ny*nz)
	for i := range v.Data {
		v.Data[i] = float32(i)
	}
	return v
}

func TestVolumeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := rampVolume(3, 4, 5)
	for _, name := range []string{"a.nii", "b.nii.gz"} {
		path := filepath.Join(dir, name)
		if err := WriteVolume(path, src); err != nil {
			t.Fatal(err)
		}
		got, err := ReadVolume(path)
		if err != nil {
			t.Fatal(err)
		}
		if got.Dims != src.Dims || got.PixDim != src.PixDim {
			t.Errorf("%s: dims %v pixdim %v", name, got.Dims, got.PixDim)
		}
		for i, v := range got.Data {
			if v != src.Data[i] {
				t.Fatalf("%s: voxel %d = %v, want %v", name, i, v, src.Data[i])
			}
		}
	}

	st, err := os.Stat(filepath.Join(dir, "a.nii"))
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(352 + 4*60); st.Size() != want {
		t.Errorf("file size = %d, want %d", st.Size(), want)
	}
}

// niftiBytes builds a single-file NIfTI-1 image by hand.
func niftiBytes(order binary.ByteOrder, dims [3]int, datatype, bitpix int16, slope, inter float32, magic string, voxels []byte) []byte {
	hdr := make([]byte, 352)
	order.PutUint32(hdr[0:4], 348)
	order.PutUint16(hdr[40:42], 3)
	for i, d := range dims {
		order.PutUint16(hdr[42+2*i:], uint16(d))
	}
	order.PutUint16(hdr[70:72], uint16(datatype))
	order.PutUint16(hdr[72:74], uint16(bitpix))
	order.PutUint32(hdr[108:112], math.Float32bits(352))
	order.PutUint32(hdr[112:116], math.Float32bits(slope))
	order.PutUint32(hdr[116:120], math.Float32bits(inter))
	copy(hdr[344:348], magic+"\x00")
	return append(hdr, voxels...)
}

func TestDecodeBigEndianInt16WithScaling(t *testing.T) {
	vox := make([]byte, 8)
	for i, v := range []int16{-2, 0, 3, 100} {
		binary.BigEndian.PutUint16(vox[2*i:], uint16(v))
	}
	raw := niftiBytes(binary.BigEndian, [3]int{2, 2, 1}, niftiInt16, 16, 2, 1, "n+1", vox)

	vol, err := decodeVolume(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{-3, 1, 7, 201}
	for i, v := range vol.Data {
		if v != want[i] {
			t.Errorf("voxel %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestDecodeUint8WithoutScaling(t *testing.T) {
	raw := niftiBytes(binary.LittleEndian, [3]int{3, 1, 1}, niftiUint8, 8, 0, 5, "n+1", []byte{0, 7, 255})
	vol, err := decodeVolume(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	// slope 0 disables scaling, so inter is ignored
	if vol.Data[0] != 0 || vol.Data[1] != 7 || vol.Data[2] != 255 {
		t.Errorf("data = %v", vol.Data)
	}
}

func TestDecodeRejects(t *testing.T) {
	le := binary.LittleEndian
	tests := []struct {
		name string
		raw  []byte
	}{
		{"two-file magic", niftiBytes(le, [3]int{1, 1, 1}, niftiUint8, 8, 0, 0, "ni1", []byte{1})},
		{"bad magic", niftiBytes(le, [3]int{1, 1, 1}, niftiUint8, 8, 0, 0, "abc", []byte{1})},
		{"bitpix mismatch", niftiBytes(le, [3]int{1, 1, 1}, niftiFloat32, 16, 0, 0, "n+1", make([]byte, 4))},
		{"unsupported datatype", niftiBytes(le, [3]int{1, 1, 1}, 128, 24, 0, 0, "n+1", make([]byte, 3))},
		{"truncated voxels", niftiBytes(le, [3]int{4, 4, 4}, niftiUint8, 8, 0, 0, "n+1", []byte{1, 2})},
		{"short header", make([]byte, 100)},
		{"not nifti", make([]byte, 400)},
	}
	for _, tt := range tests {
		if _, err := decodeVolume(bytes.NewReader(tt.raw)); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}
}

func TestWriteVolumeChecksSize(t *testing.T) {
	v := &Volume{Dims: [3]int{2, 2, 2}, Data: make([]float32, 7)}
	if err := WriteVolume(filepath.Join(t.TempDir(), "bad.nii"), v); err == nil {
		t.Error("expected an error for a data/dims mismatch")
	}
}
