package visualization

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"hetzcorr/internal/models"
)

// createTestVolume returns a volume where every z slice holds the value 1 + z
func createTestVolume(width, height, depth int) *models.CorrectionVolume {
	vol := models.NewCorrectionVolume(width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Data[vol.Index(x, y, z)] = 1 + float64(z)
			}
		}
	}
	return vol
}

// TestNewViewer verifies the scaling range
func TestNewViewer(t *testing.T) {
	vol := createTestVolume(4, 3, 5)
	vol.Data[0] = math.NaN()

	viewer := NewViewer(vol)
	min, max := viewer.Range()
	if min != 1 || max != 5 {
		t.Errorf("Expected range [1, 5], got [%v, %v]", min, max)
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	vol := createTestVolume(width, height, depth)
	viewer := NewViewer(vol)

	// Test extracting Z slices
	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		gray16Img, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}

		// Values 1..5 map linearly onto 0..65535
		expectedValue := math.Round(float64(z) / float64(depth-1) * 65535)
		centerValue := gray16Img.Gray16At(width/2, height/2).Y
		if math.Abs(float64(centerValue)-expectedValue) > 1.0 {
			t.Errorf("Expected Z slice value ~%v at center, got %d", expectedValue, centerValue)
		}
	}

	// X slices have depth along the horizontal axis
	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	// Y slices have depth along the vertical axis
	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("x", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestExtractSliceFaults verifies that NaN markers and constant volumes render black
func TestExtractSliceFaults(t *testing.T) {
	vol := createTestVolume(2, 2, 2)
	vol.Data[vol.Index(1, 1, 1)] = math.NaN()

	img, err := NewViewer(vol).ExtractSlice("z", 1)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	gray := img.(*image.Gray16)
	if gray.Gray16At(1, 1).Y != 0 {
		t.Errorf("Expected NaN voxel to be black, got %d", gray.Gray16At(1, 1).Y)
	}
	if gray.Gray16At(0, 0).Y != 65535 {
		t.Errorf("Expected maximum voxel to be white, got %d", gray.Gray16At(0, 0).Y)
	}

	constant := models.NewCorrectionVolume(2, 2, 1)
	for i := range constant.Data {
		constant.Data[i] = 3
	}
	img, err = NewViewer(constant).ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if img.(*image.Gray16).Gray16At(0, 0).Y != 0 {
		t.Errorf("Expected constant volume to render black")
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved in both formats
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	width, height, depth := 5, 4, 3
	viewer := NewViewer(createTestVolume(width, height, depth))

	for _, format := range []string{"png", "tiff"} {
		outputDir := filepath.Join(t.TempDir(), "slices")
		if err := viewer.SaveSliceSequence("z", outputDir, format); err != nil {
			t.Fatalf("%s: failed to save slice sequence: %v", format, err)
		}

		ext := "png"
		if format == "tiff" {
			ext = "tif"
		}
		for z := 0; z < depth; z++ {
			filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.%s", z, ext))
			file, err := os.Open(filename)
			if err != nil {
				t.Errorf("Expected slice file does not exist: %s", filename)
				continue
			}

			var img image.Image
			if format == "tiff" {
				img, err = tiff.Decode(file)
			} else {
				img, err = png.Decode(file)
			}
			file.Close()
			if err != nil {
				t.Errorf("Failed to decode %s: %v", filename, err)
				continue
			}
			if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
				t.Errorf("%s: expected %dx%d, got %dx%d", filename, width, height, b.Dx(), b.Dy())
			}
		}

		if err := viewer.SaveSliceSequence("invalid", outputDir, format); err == nil {
			t.Error("Expected error for invalid axis, got nil")
		}
	}

	if err := viewer.SaveSliceSequence("z", t.TempDir(), "bmp"); err == nil {
		t.Error("Expected error for unknown format, got nil")
	}
}
