package models

// Calibration describes the physical voxel geometry of a stack.
// It is opaque to the correction itself and is copied from input to output.
type Calibration struct {
	// PixelWidth, PixelHeight and PixelDepth are the voxel sizes along x, y and z
	PixelWidth  float64 `yaml:"pixelWidth"`
	PixelHeight float64 `yaml:"pixelHeight"`
	PixelDepth  float64 `yaml:"pixelDepth"`

	// Unit is the length unit of the voxel sizes (e.g. "micron")
	Unit string `yaml:"unit"`
}

// LabelVolume represents a labeled 3D stack where every distinct
// pixel value identifies one region
type LabelVolume struct {
	// Data is the 3D label data as a 1D array in row-major order
	// (index = z*Width*Height + y*Width + x)
	Data []uint16

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the number of slices along the imaging axis
	Depth int

	// Calibration is the physical voxel geometry
	Calibration Calibration
}

// NewLabelVolume allocates a zeroed label volume.
func NewLabelVolume(width, height, depth int) *LabelVolume {
	return &LabelVolume{
		Data:   make([]uint16, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Index returns the position of voxel (x, y, z) in Data.
func (v *LabelVolume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the label at (x, y, z).
func (v *LabelVolume) At(x, y, z int) uint16 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores a label at (x, y, z).
func (v *LabelVolume) Set(x, y, z int, label uint16) {
	v.Data[v.Index(x, y, z)] = label
}

// Column copies the depth column at (x, y) into dst, growing it if needed.
func (v *LabelVolume) Column(x, y int, dst []uint16) []uint16 {
	if cap(dst) < v.Depth {
		dst = make([]uint16, v.Depth)
	}
	dst = dst[:v.Depth]
	stride := v.Width * v.Height
	idx := y*v.Width + x
	for z := 0; z < v.Depth; z++ {
		dst[z] = v.Data[idx]
		idx += stride
	}
	return dst
}

// Empty reports whether any dimension is zero.
func (v *LabelVolume) Empty() bool {
	return v.Width == 0 || v.Height == 0 || v.Depth == 0
}

// Valid reports whether the dimensions are non-negative and agree with the data length.
func (v *LabelVolume) Valid() bool {
	if v.Width < 0 || v.Height < 0 || v.Depth < 0 {
		return false
	}
	return len(v.Data) == v.Voxels()
}

// Voxels returns the number of voxels described by the dimensions.
func (v *LabelVolume) Voxels() int {
	return v.Width * v.Height * v.Depth
}

// CorrectionVolume is the floating point output of the depth correction,
// with the same extent as the label volume it was computed from
type CorrectionVolume struct {
	// Data holds one multiplicative correction per voxel, same layout as LabelVolume.
	// A NaN marks a voxel whose correction could not be evaluated.
	Data []float64

	// Width, Height, Depth are the dimensions of the volume
	Width, Height, Depth int

	// Calibration is copied unchanged from the input volume
	Calibration Calibration
}

// NewCorrectionVolume allocates a correction volume with the given extent.
func NewCorrectionVolume(width, height, depth int) *CorrectionVolume {
	return &CorrectionVolume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Index returns the position of voxel (x, y, z) in Data.
func (v *CorrectionVolume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the correction value at (x, y, z).
func (v *CorrectionVolume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Slice returns a copy of the XY plane at depth z.
func (v *CorrectionVolume) Slice(z int) []float64 {
	n := v.Width * v.Height
	out := make([]float64, n)
	copy(out, v.Data[z*n:(z+1)*n])
	return out
}
