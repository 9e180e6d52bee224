// Package volumeio reads labeled stacks and writes correction volumes.
//
// Label stacks are read either from a directory of 2D slices (PNG, JPEG or
// TIFF, one file per depth position) or from a raw little-endian uint16
// volume with a YAML header. Correction volumes are written as raw float32
// with the same header format, optionally zstd-compressed.
package volumeio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/tiff"

	"hetzcorr/internal/models"
)

// sliceExtensions are the file types accepted in a slice directory
var sliceExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// Load reads a label volume from a slice directory or a raw volume file.
func Load(path string) (*models.LabelVolume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadSliceDir(path)
	}
	return LoadRawLabels(path)
}

// LoadSliceDir loads every slice image in dir, ordered by the number in the
// file name, and stacks them along depth. All slices must share the same size.
func LoadSliceDir(dir string) (*models.LabelVolume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var imageFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if sliceExtensions[ext] {
			imageFiles = append(imageFiles, entry.Name())
		}
	}

	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}

	// Depth order follows the slice number, not the lexical order
	sort.SliceStable(imageFiles, func(i, j int) bool {
		numI := extractNumber(imageFiles[i])
		numJ := extractNumber(imageFiles[j])
		if numI != numJ {
			return numI < numJ
		}
		return imageFiles[i] < imageFiles[j]
	})

	var vol *models.LabelVolume
	for z, filename := range imageFiles {
		img, err := loadImage(filepath.Join(dir, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", filename, err)
		}

		bounds := img.Bounds()
		if vol == nil {
			vol = models.NewLabelVolume(bounds.Dx(), bounds.Dy(), len(imageFiles))
		} else if bounds.Dx() != vol.Width || bounds.Dy() != vol.Height {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d",
				filename, bounds.Dx(), bounds.Dy(), vol.Width, vol.Height)
		}

		copy(vol.Data[z*vol.Width*vol.Height:(z+1)*vol.Width*vol.Height], imageToLabels(img))
	}

	return vol, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

// loadImage loads an image from a file
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}

	return img, nil
}

// imageToLabels converts a slice to 16-bit labels. Gray images keep their
// stored value, paletted images use the palette index and color images use
// their 16-bit luminance.
func imageToLabels(img image.Image) []uint16 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	result := make([]uint16, width*height)

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				result[y*width+x] = src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y
			}
		}
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				result[y*width+x] = uint16(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	case *image.Paletted:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				result[y*width+x] = uint16(src.ColorIndexAt(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				result[y*width+x] = g.Y
			}
		}
	}

	return result
}
