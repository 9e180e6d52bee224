// Package opl tracks the optical path length (OPL) accumulated by the
// imaging beam inside each labeled region along one depth column.
//
// The OPL of a label grows by one for every voxel of that label the beam
// passes through. When the beam leaves the region the value is held, not
// reset: it measures the total material traversed so far, not the length
// of the current run.
package opl

import "hetzcorr/pkg/labels"

// Tracker holds the running OPL vector of one column. A tracker is owned by
// a single goroutine and reused for every column it processes.
type Tracker struct {
	set *labels.Set
	opl []int
}

// NewTracker returns a tracker with one counter per label of the set.
func NewTracker(set *labels.Set) *Tracker {
	return &Tracker{
		set: set,
		opl: make([]int, set.Len()),
	}
}

// Reset zeroes every counter. It must be called before the first depth
// position of each column.
func (t *Tracker) Reset() {
	for i := range t.opl {
		t.opl[i] = 0
	}
}

// Step advances the tracker by one depth position whose voxel holds label.
// The counter of that label is incremented; every other counter keeps its
// previous value. Labels outside the set advance nothing.
func (t *Tracker) Step(label uint16) {
	if i, ok := t.set.Index(label); ok {
		t.opl[i]++
	}
}

// OPL returns the current OPL vector. The slice is owned by the tracker and
// is overwritten by the next Step or Reset.
func (t *Tracker) OPL() []int {
	return t.opl
}

// Trace runs a fresh tracker over a whole column and returns the OPL vector
// reached at every depth position.
func Trace(set *labels.Set, column []uint16) [][]int {
	t := NewTracker(set)
	out := make([][]int, len(column))
	for z, label := range column {
		t.Step(label)
		state := make([]int, len(t.opl))
		copy(state, t.opl)
		out[z] = state
	}
	return out
}
