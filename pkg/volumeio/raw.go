package volumeio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"hetzcorr/internal/models"
)

// Data types stored in raw volumes
const (
	TypeUint16  = "uint16"
	TypeFloat32 = "float32"
)

// maxVoxels bounds the size of a volume read from disk
const maxVoxels = math.MaxInt32 * 4

// Compression schemes of raw volumes
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Header describes a raw volume file. It is stored next to the volume as
// <volume>.yaml. Voxels are little-endian, x fastest, then y, then z.
type Header struct {
	Width       int                `yaml:"width"`
	Height      int                `yaml:"height"`
	Depth       int                `yaml:"depth"`
	DataType    string             `yaml:"dataType"`
	Compression string             `yaml:"compression"`
	Calibration models.Calibration `yaml:"calibration"`
}

// HeaderPath returns the header location of a raw volume.
func HeaderPath(path string) string {
	return path + ".yaml"
}

// ReadHeader reads the header of the raw volume at path.
func ReadHeader(path string) (*Header, error) {
	data, err := os.ReadFile(HeaderPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read volume header: %w", err)
	}
	h := &Header{}
	if err := yaml.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("failed to parse volume header: %w", err)
	}
	if h.Width < 0 || h.Height < 0 || h.Depth < 0 {
		return nil, fmt.Errorf("invalid volume dimensions %dx%dx%d", h.Width, h.Height, h.Depth)
	}
	return h, nil
}

func writeHeader(path string, h *Header) error {
	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal volume header: %w", err)
	}
	if err := os.WriteFile(HeaderPath(path), data, 0644); err != nil {
		return fmt.Errorf("failed to write volume header: %w", err)
	}
	return nil
}

// writeRaw creates path, wraps it in a zstd encoder when requested and
// hands the writer to fn.
func writeRaw(path string, compress bool, fn func(w io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create volume file: %w", err)
	}
	defer file.Close()

	buf := bufio.NewWriter(file)
	var w io.Writer = buf
	var enc *zstd.Encoder
	if compress {
		enc, err = zstd.NewWriter(buf)
		if err != nil {
			return fmt.Errorf("zstd encode: %w", err)
		}
		w = enc
	}

	if err := fn(w); err != nil {
		if enc != nil {
			enc.Close()
		}
		return fmt.Errorf("failed to write binary data: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("zstd encode: %w", err)
		}
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	return file.Close()
}

// readRaw opens path and hands a reader (decompressing if needed) to fn.
func readRaw(path string, h *Header, fn func(r io.Reader) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open volume file: %w", err)
	}
	defer file.Close()

	var r io.Reader = bufio.NewReader(file)
	switch h.Compression {
	case "", CompressionNone:
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("zstd decode: %w", err)
		}
		defer dec.Close()
		r = dec
	default:
		return fmt.Errorf("unknown compression %q", h.Compression)
	}

	if err := fn(r); err != nil {
		return fmt.Errorf("failed to read binary data: %w", err)
	}
	return nil
}

func compression(compress bool) string {
	if compress {
		return CompressionZstd
	}
	return CompressionNone
}

// SaveRaw writes the correction volume as float32 voxels with its header.
// NaN fault markers are preserved.
func SaveRaw(path string, vol *models.CorrectionVolume, compress bool) error {
	h := &Header{
		Width:       vol.Width,
		Height:      vol.Height,
		Depth:       vol.Depth,
		DataType:    TypeFloat32,
		Compression: compression(compress),
		Calibration: vol.Calibration,
	}

	sliceSize := vol.Width * vol.Height
	err := writeRaw(path, compress, func(w io.Writer) error {
		slice := make([]float32, sliceSize)
		for z := 0; z < vol.Depth; z++ {
			for i, v := range vol.Data[z*sliceSize : (z+1)*sliceSize] {
				slice[i] = float32(v)
			}
			if err := binary.Write(w, binary.LittleEndian, slice); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return writeHeader(path, h)
}

// checkExtent rejects headers describing volumes too large to allocate.
func checkExtent(h *Header) error {
	if n := float64(h.Width) * float64(h.Height) * float64(h.Depth); n > maxVoxels {
		return fmt.Errorf("volume of %.0f voxels is too large", n)
	}
	return nil
}

// LoadRaw reads a correction volume written by SaveRaw.
func LoadRaw(path string) (*models.CorrectionVolume, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	if h.DataType != TypeFloat32 {
		return nil, fmt.Errorf("expected %s volume, got %q", TypeFloat32, h.DataType)
	}
	if err := checkExtent(h); err != nil {
		return nil, err
	}

	vol := models.NewCorrectionVolume(h.Width, h.Height, h.Depth)
	vol.Calibration = h.Calibration
	err = readRaw(path, h, func(r io.Reader) error {
		data := make([]float32, len(vol.Data))
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return err
		}
		for i, v := range data {
			vol.Data[i] = float64(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vol, nil
}

// SaveRawLabels writes a label volume as uint16 voxels with its header.
func SaveRawLabels(path string, vol *models.LabelVolume, compress bool) error {
	h := &Header{
		Width:       vol.Width,
		Height:      vol.Height,
		Depth:       vol.Depth,
		DataType:    TypeUint16,
		Compression: compression(compress),
		Calibration: vol.Calibration,
	}
	err := writeRaw(path, compress, func(w io.Writer) error {
		return binary.Write(w, binary.LittleEndian, vol.Data)
	})
	if err != nil {
		return err
	}
	return writeHeader(path, h)
}

// LoadRawLabels reads a label volume written by SaveRawLabels.
func LoadRawLabels(path string) (*models.LabelVolume, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	if h.DataType != TypeUint16 {
		return nil, fmt.Errorf("expected %s label volume, got %q", TypeUint16, h.DataType)
	}
	if err := checkExtent(h); err != nil {
		return nil, err
	}

	vol := models.NewLabelVolume(h.Width, h.Height, h.Depth)
	vol.Calibration = h.Calibration
	err = readRaw(path, h, func(r io.Reader) error {
		return binary.Read(r, binary.LittleEndian, vol.Data)
	})
	if err != nil {
		return nil, err
	}
	return vol, nil
}
