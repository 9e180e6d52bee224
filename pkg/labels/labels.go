// Package labels extracts the distinct region labels of a labeled stack and
// provides the fixed label-to-index table used during correction.
package labels

import (
	"fmt"
	"runtime"
	"sync"

	"hetzcorr/internal/models"
)

// domain is the number of representable 16-bit label values
const domain = 1 << 16

// Set is an ordered collection of distinct labels. The position of a label
// in the set is its index into coefficient tables and OPL vectors; it never
// changes once the set is built.
type Set struct {
	values []uint16

	// lookup maps a label value to its index, -1 when absent
	lookup []int32

	// counts holds the number of voxels per label, when known
	counts []int
}

// NewSet builds a set from explicitly supplied labels, preserving their order.
// Duplicate labels are rejected.
func NewSet(values ...uint16) (*Set, error) {
	s := &Set{
		values: make([]uint16, 0, len(values)),
		lookup: newLookup(),
	}
	for _, v := range values {
		if s.lookup[v] >= 0 {
			return nil, fmt.Errorf("duplicate label %d", v)
		}
		s.lookup[v] = int32(len(s.values))
		s.values = append(s.values, v)
	}
	return s, nil
}

func newLookup() []int32 {
	lookup := make([]int32, domain)
	for i := range lookup {
		lookup[i] = -1
	}
	return lookup
}

// Len returns the number of labels.
func (s *Set) Len() int {
	return len(s.values)
}

// Values returns a copy of the labels in index order.
func (s *Set) Values() []uint16 {
	out := make([]uint16, len(s.values))
	copy(out, s.values)
	return out
}

// Value returns the label stored at index i.
func (s *Set) Value(i int) uint16 {
	return s.values[i]
}

// Index returns the index of a label and whether it is part of the set.
func (s *Set) Index(label uint16) (int, bool) {
	i := s.lookup[label]
	return int(i), i >= 0
}

// Counts returns the voxel count of every label in index order, or nil
// when the set was not built from a volume.
func (s *Set) Counts() []int {
	if s.counts == nil {
		return nil
	}
	out := make([]int, len(s.counts))
	copy(out, s.counts)
	return out
}

// Extract scans every voxel of the volume once and returns the set of
// distinct labels in ascending order. The scan is split by slices across
// numCores goroutines, each filling its own histogram.
// An empty volume yields an empty set, and so does a malformed one whose
// dimensions are negative or disagree with the data length.
func Extract(vol *models.LabelVolume, numCores int) *Set {
	if vol == nil || !vol.Valid() || vol.Empty() {
		return &Set{lookup: newLookup(), counts: []int{}}
	}

	if numCores < 1 {
		numCores = runtime.NumCPU()
	}
	if numCores > vol.Depth {
		numCores = vol.Depth
	}

	sliceSize := vol.Width * vol.Height
	slicesPerCore := (vol.Depth + numCores - 1) / numCores
	histograms := make([][]int, numCores)

	var wg sync.WaitGroup
	for c := 0; c < numCores; c++ {
		startSlice := c * slicesPerCore
		endSlice := (c + 1) * slicesPerCore
		if endSlice > vol.Depth {
			endSlice = vol.Depth
		}
		if startSlice >= endSlice {
			continue
		}

		wg.Add(1)
		go func(coreID, start, end int) {
			defer wg.Done()
			hist := make([]int, domain)
			for _, v := range vol.Data[start*sliceSize : end*sliceSize] {
				hist[v]++
			}
			histograms[coreID] = hist
		}(c, startSlice, endSlice)
	}
	wg.Wait()

	s := &Set{lookup: newLookup()}
	for v := 0; v < domain; v++ {
		n := 0
		for _, hist := range histograms {
			if hist != nil {
				n += hist[v]
			}
		}
		if n == 0 {
			continue
		}
		s.lookup[v] = int32(len(s.values))
		s.values = append(s.values, uint16(v))
		s.counts = append(s.counts, n)
	}
	return s
}
