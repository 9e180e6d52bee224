// Package correction evaluates the rational attenuation model that turns an
// OPL vector into a multiplicative intensity correction.
//
// For label i with coefficients (a, b, c) and accumulated path length x the
// factor is (x + c) / (a*x + b). The correction of a voxel is the product of
// the factors of every label.
package correction

import (
	"errors"
	"fmt"
	"math"
)

// ErrLengthMismatch is returned when an OPL vector and a coefficient table
// do not have the same number of labels.
var ErrLengthMismatch = errors.New("coefficient table length does not match label count")

// Coefficients are the rational model parameters of one region.
type Coefficients struct {
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
	C float64 `yaml:"c"`
}

// Table holds one coefficient triple per label, in label set order.
type Table []Coefficients

// NumericFault reports a factor that could not be evaluated to a finite value.
type NumericFault struct {
	// Label is the index of the offending label, -1 when the product itself overflowed
	Label int

	// OPL is the path length the factor was evaluated at
	OPL int

	Coefficients Coefficients

	// X, Y, Z locate the voxel when the fault comes from a volume run
	X, Y, Z int
	located bool
}

func (f *NumericFault) Error() string {
	var msg string
	if f.Label < 0 {
		msg = "correction product is not finite"
	} else {
		msg = fmt.Sprintf("zero or non-finite factor for label index %d at OPL %d (a=%g, b=%g, c=%g)",
			f.Label, f.OPL, f.Coefficients.A, f.Coefficients.B, f.Coefficients.C)
	}
	if f.located {
		msg += fmt.Sprintf(" at voxel (%d, %d, %d)", f.X, f.Y, f.Z)
	}
	return msg
}

// At returns a copy of the fault located at voxel (x, y, z).
func (f *NumericFault) At(x, y, z int) *NumericFault {
	located := *f
	located.X, located.Y, located.Z = x, y, z
	located.located = true
	return &located
}

// Located reports whether the fault carries voxel coordinates.
func (f *NumericFault) Located() bool {
	return f.located
}

// Factor evaluates (opl + c) / (a*opl + b). A zero denominator or a
// non-finite quotient is reported as a NumericFault with Label 0; callers
// that know the label index should overwrite it.
func Factor(opl int, k Coefficients) (float64, error) {
	x := float64(opl)
	den := k.A*x + k.B
	if den == 0 {
		return 0, &NumericFault{OPL: opl, Coefficients: k}
	}
	v := (x + k.C) / den
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, &NumericFault{OPL: opl, Coefficients: k}
	}
	return v, nil
}

// Evaluate returns the product over all labels of Factor(opl[i], table[i]).
func Evaluate(opl []int, table Table) (float64, error) {
	if len(opl) != len(table) {
		return 0, fmt.Errorf("%w: %d labels, %d coefficient triples", ErrLengthMismatch, len(opl), len(table))
	}

	value := 1.0
	for i, x := range opl {
		f, err := Factor(x, table[i])
		if err != nil {
			var fault *NumericFault
			if errors.As(err, &fault) {
				fault.Label = i
			}
			return 0, err
		}
		value *= f
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, &NumericFault{Label: -1}
	}
	return value, nil
}
