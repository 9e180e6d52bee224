package engine

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"hetzcorr/internal/models"
	"hetzcorr/pkg/labels"
)

// LabelSummary describes the correction applied inside one region.
type LabelSummary struct {
	Label  uint16
	Voxels int
	Mean   float64
	StdDev float64
}

// Summary holds descriptive statistics of a correction volume.
// Statistics only cover finite voxels; NaN fault markers are counted apart.
type Summary struct {
	Voxels  int
	Finite  int
	Faulted int

	Min    float64
	Max    float64
	Mean   float64
	StdDev float64

	// Median, Q01 and Q99 are empirical quantiles of the finite values
	Median float64
	Q01    float64
	Q99    float64

	// PerLabel follows the label set order
	PerLabel []LabelSummary

	// DeepestSliceMean is the mean correction of the last slice along depth,
	// where attenuation is strongest
	DeepestSliceMean float64
}

// Summarize computes statistics of out. When in and set are given the
// values are also grouped by the label of the source voxel.
func Summarize(out *models.CorrectionVolume, in *models.LabelVolume, set *labels.Set) Summary {
	s := Summary{Voxels: len(out.Data)}

	finite := make([]float64, 0, len(out.Data))
	for _, v := range out.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s.Faulted++
			continue
		}
		finite = append(finite, v)
	}
	s.Finite = len(finite)
	if s.Finite == 0 {
		return s
	}

	s.Min = floats.Min(finite)
	s.Max = floats.Max(finite)
	s.Mean, s.StdDev = stat.MeanStdDev(finite, nil)
	if s.Finite == 1 {
		s.StdDev = 0
	}

	sorted := make([]float64, len(finite))
	copy(sorted, finite)
	sort.Float64s(sorted)
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.Q01 = stat.Quantile(0.01, stat.Empirical, sorted, nil)
	s.Q99 = stat.Quantile(0.99, stat.Empirical, sorted, nil)

	if out.Depth > 0 {
		deepest := out.Slice(out.Depth - 1)
		values := deepest[:0]
		for _, v := range deepest {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			s.DeepestSliceMean = stat.Mean(values, nil)
		}
	}

	if in != nil && set != nil && len(in.Data) == len(out.Data) {
		groups := make([][]float64, set.Len())
		for i, v := range out.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if li, ok := set.Index(in.Data[i]); ok {
				groups[li] = append(groups[li], v)
			}
		}
		s.PerLabel = make([]LabelSummary, set.Len())
		for i, g := range groups {
			ls := LabelSummary{Label: set.Value(i), Voxels: len(g)}
			if len(g) > 0 {
				ls.Mean, ls.StdDev = stat.MeanStdDev(g, nil)
				if len(g) == 1 {
					ls.StdDev = 0
				}
			}
			s.PerLabel[i] = ls
		}
	}

	return s
}
