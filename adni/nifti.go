package adni

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// NIfTI-1 datatype codes handled by ReadVolume.
const (
	niftiUint8   = 2
	niftiInt16   = 4
	niftiInt32   = 8
	niftiFloat32 = 16
	niftiFloat64 = 64
	niftiInt8    = 256
	niftiUint16  = 512
	niftiUint32  = 768
)

const niftiHeaderSize = 348

// Volume is a single-channel 3D image. Data is x-fastest, so index
// (x, y, z) lives at x + Dims[0]*(y + Dims[1]*z).
type Volume struct {
	Dims   [3]int
	PixDim [3]float32
	Data   []float32
}

// niftiHeader is the subset of the 348-byte NIfTI-1 header the reader needs.
type niftiHeader struct {
	dims      [3]int
	datatype  int16
	bitpix    int16
	pixdim    [3]float32
	voxOffset int64
	slope     float32
	inter     float32
}

// ReadVolume loads a NIfTI-1 single-file volume (.nii or .nii.gz).
// Only the first three dimensions are read; scl_slope/scl_inter are applied
// when the slope is non-zero.
func ReadVolume(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "adni: opening volume %s", path)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "adni: volume %s is not gzip data", path)
		}
		defer zr.Close()
		r = zr
	}

	vol, err := decodeVolume(r)
	if err != nil {
		return nil, errors.Wrapf(err, "adni: reading volume %s", path)
	}
	return vol, nil
}

func decodeVolume(r io.Reader) (*Volume, error) {
	raw := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "short header")
	}

	order, err := headerByteOrder(raw)
	if err != nil {
		return nil, err
	}
	hdr, err := parseHeader(raw, order)
	if err != nil {
		return nil, err
	}

	// skip extensions up to vox_offset
	if skip := hdr.voxOffset - niftiHeaderSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, errors.Wrap(err, "skipping header extension")
		}
	}

	n := hdr.dims[0] * hdr.dims[1] * hdr.dims[2]
	bytesPer := int(hdr.bitpix) / 8
	buf := make([]byte, n*bytesPer)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrapf(err, "voxel data (%d bytes expected)", len(buf))
	}

	data := make([]float32, n)
	for i := range data {
		b := buf[i*bytesPer : (i+1)*bytesPer]
		var v float64
		switch hdr.datatype {
		case niftiUint8:
			v = float64(b[0])
		case niftiInt8:
			v = float64(int8(b[0]))
		case niftiInt16:
			v = float64(int16(order.Uint16(b)))
		case niftiUint16:
			v = float64(order.Uint16(b))
		case niftiInt32:
			v = float64(int32(order.Uint32(b)))
		case niftiUint32:
			v = float64(order.Uint32(b))
		case niftiFloat32:
			v = float64(math.Float32frombits(order.Uint32(b)))
		case niftiFloat64:
			v = math.Float64frombits(order.Uint64(b))
		}
		if hdr.slope != 0 {
			v = v*float64(hdr.slope) + float64(hdr.inter)
		}
		data[i] = float32(v)
	}

	return &Volume{Dims: hdr.dims, PixDim: hdr.pixdim, Data: data}, nil
}

// headerByteOrder detects endianness from sizeof_hdr, which must read 348.
func headerByteOrder(raw []byte) (binary.ByteOrder, error) {
	if binary.LittleEndian.Uint32(raw[0:4]) == niftiHeaderSize {
		return binary.LittleEndian, nil
	}
	if binary.BigEndian.Uint32(raw[0:4]) == niftiHeaderSize {
		return binary.BigEndian, nil
	}
	return nil, errors.New("not a NIfTI-1 header (sizeof_hdr != 348)")
}

func parseHeader(raw []byte, order binary.ByteOrder) (*niftiHeader, error) {
	magic := string(raw[344:347])
	if magic != "n+1" && magic != "ni1" {
		return nil, errors.Errorf("bad magic %q", magic)
	}
	if magic == "ni1" {
		return nil, errors.New("two-file NIfTI (.hdr/.img) is not supported")
	}

	hdr := &niftiHeader{}
	ndim := int(int16(order.Uint16(raw[40:42])))
	if ndim < 1 || ndim > 7 {
		return nil, errors.Errorf("invalid dim[0] = %d", ndim)
	}
	for i := 0; i < 3; i++ {
		hdr.dims[i] = 1
		if i < ndim {
			hdr.dims[i] = int(int16(order.Uint16(raw[42+2*i : 44+2*i])))
		}
		if hdr.dims[i] <= 0 {
			return nil, errors.Errorf("invalid dim[%d] = %d", i+1, hdr.dims[i])
		}
	}
	for i := 3; i < ndim; i++ {
		if d := int(int16(order.Uint16(raw[42+2*i : 44+2*i]))); d > 1 {
			return nil, errors.Errorf("only 3D volumes are supported, dim[%d] = %d", i+1, d)
		}
	}

	hdr.datatype = int16(order.Uint16(raw[70:72]))
	hdr.bitpix = int16(order.Uint16(raw[72:74]))
	want := map[int16]int16{
		niftiUint8: 8, niftiInt8: 8,
		niftiInt16: 16, niftiUint16: 16,
		niftiInt32: 32, niftiUint32: 32, niftiFloat32: 32,
		niftiFloat64: 64,
	}
	bits, ok := want[hdr.datatype]
	if !ok {
		return nil, errors.Errorf("unsupported datatype %d", hdr.datatype)
	}
	if hdr.bitpix != bits {
		return nil, errors.Errorf("datatype %d has bitpix %d, want %d", hdr.datatype, hdr.bitpix, bits)
	}

	for i := 0; i < 3; i++ {
		hdr.pixdim[i] = math.Float32frombits(order.Uint32(raw[80+4*i : 84+4*i]))
	}
	off := math.Float32frombits(order.Uint32(raw[108:112]))
	hdr.voxOffset = int64(off)
	if hdr.voxOffset < niftiHeaderSize {
		hdr.voxOffset = 352
	}
	hdr.slope = math.Float32frombits(order.Uint32(raw[112:116]))
	hdr.inter = math.Float32frombits(order.Uint32(raw[116:120]))
	if math.IsNaN(float64(hdr.slope)) || math.IsInf(float64(hdr.slope), 0) {
		hdr.slope = 0
	}
	return hdr, nil
}

// WriteVolume stores v as an uncompressed little-endian float32 NIfTI-1
// file, or gzip-compressed when path ends in ".gz".
func WriteVolume(path string, v *Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "adni: creating volume %s", path)
	}

	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}

	err = encodeVolume(w, v)
	if zw != nil {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "adni: writing volume %s", path)
}

func encodeVolume(w io.Writer, v *Volume) error {
	if len(v.Data) != v.Dims[0]*v.Dims[1]*v.Dims[2] {
		return errors.Errorf("volume has %d values for dims %v", len(v.Data), v.Dims)
	}
	le := binary.LittleEndian
	hdr := make([]byte, 352)
	le.PutUint32(hdr[0:4], niftiHeaderSize)
	le.PutUint16(hdr[40:42], 3)
	for i := 0; i < 3; i++ {
		le.PutUint16(hdr[42+2*i:44+2*i], uint16(v.Dims[i]))
	}
	for i := 3; i < 7; i++ {
		le.PutUint16(hdr[42+2*i:44+2*i], 1)
	}
	le.PutUint16(hdr[70:72], niftiFloat32)
	le.PutUint16(hdr[72:74], 32)
	le.PutUint32(hdr[76:80], math.Float32bits(1))
	for i := 0; i < 3; i++ {
		pd := v.PixDim[i]
		if pd == 0 {
			pd = 1
		}
		le.PutUint32(hdr[80+4*i:84+4*i], math.Float32bits(pd))
	}
	le.PutUint32(hdr[108:112], math.Float32bits(352))
	copy(hdr[344:348], "n+1\x00")
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, 4*len(v.Data))
	for i, x := range v.Data {
		le.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	_, err := w.Write(buf)
	return err
}
