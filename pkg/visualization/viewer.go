// Package visualization exports planes of a correction volume as 16-bit
// grayscale images for inspection in external viewers.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"hetzcorr/internal/models"
)

// Viewer maps correction values linearly onto the 16-bit gray range.
// The range is fixed per volume so slices stay comparable with each other.
type Viewer struct {
	volume *models.CorrectionVolume

	// min and max are the finite value range of the volume
	min float64
	max float64
}

// NewViewer creates a viewer over vol.
func NewViewer(vol *models.CorrectionVolume) *Viewer {
	v := &Viewer{volume: vol, min: math.Inf(1), max: math.Inf(-1)}
	for _, value := range vol.Data {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		v.min = math.Min(v.min, value)
		v.max = math.Max(v.max, value)
	}
	return v
}

// Range returns the finite value range used for scaling.
func (v *Viewer) Range() (float64, float64) {
	return v.min, v.max
}

// gray scales a correction value. Fault markers are black.
func (v *Viewer) gray(value float64) color.Gray16 {
	if math.IsNaN(value) || math.IsInf(value, 0) || v.max <= v.min {
		return color.Gray16{}
	}
	n := (value - v.min) / (v.max - v.min)
	return color.Gray16{Y: uint16(math.Round(math.Max(0, math.Min(1, n)) * 65535))}
}

// ExtractSlice extracts a 2D plane of the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	vol := v.volume
	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane, depth runs horizontally
		if position >= vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray16(z, y, v.gray(vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane, depth runs vertically
		if position >= vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, z, v.gray(vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		if position >= vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, y, v.gray(vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as PNG or TIFF, chosen by format.
func (v *Viewer) SaveSlice(img image.Image, filename, format string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch format {
	case "", "png":
		err = png.Encode(file, img)
	case "tiff":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return fmt.Errorf("invalid slice format: %s (must be png or tiff)", format)
	}
	if err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis, outputDir, format string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Width
	case "y", "Y":
		maxPos = v.volume.Height
	case "z", "Z":
		maxPos = v.volume.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	ext := "png"
	if format == "tiff" {
		ext = "tif"
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", axis, pos, ext))
		if err := v.SaveSlice(img, filename, format); err != nil {
			return err
		}
	}

	return nil
}
