package correction

import (
	"errors"
	"math"
)

// FactorTable caches Factor for every label and every OPL in [0, maxOPL].
// Within one column OPL never exceeds the column depth, so a table built
// for the volume depth covers every value a run can reach. Faulty entries
// are remembered and only reported when a voxel actually reaches them.
type FactorTable struct {
	table   Table
	stride  int
	factors []float64
	faults  []bool
}

// NewFactorTable precomputes the factors of every label up to maxOPL.
func NewFactorTable(table Table, maxOPL int) *FactorTable {
	if maxOPL < 0 {
		maxOPL = 0
	}
	stride := maxOPL + 1
	ft := &FactorTable{
		table:   table,
		stride:  stride,
		factors: make([]float64, len(table)*stride),
		faults:  make([]bool, len(table)*stride),
	}
	for i, k := range table {
		for x := 0; x <= maxOPL; x++ {
			f, err := Factor(x, k)
			if err != nil {
				ft.faults[i*stride+x] = true
				continue
			}
			ft.factors[i*stride+x] = f
		}
	}
	return ft
}

// Len returns the number of labels covered by the table.
func (ft *FactorTable) Len() int {
	return len(ft.table)
}

// MaxOPL returns the largest OPL the table covers.
func (ft *FactorTable) MaxOPL() int {
	return ft.stride - 1
}

// Evaluate multiplies the cached factors of an OPL vector in label order.
// It yields exactly the value Evaluate(opl, table) would. OPL values past
// MaxOPL fall back to direct evaluation.
func (ft *FactorTable) Evaluate(opl []int) (float64, error) {
	if len(opl) != len(ft.table) {
		return Evaluate(opl, ft.table)
	}

	value := 1.0
	for i, x := range opl {
		if x > ft.MaxOPL() {
			f, err := Factor(x, ft.table[i])
			if err != nil {
				var fault *NumericFault
				if errors.As(err, &fault) {
					fault.Label = i
				}
				return 0, err
			}
			value *= f
			continue
		}
		idx := i*ft.stride + x
		if ft.faults[idx] {
			return 0, &NumericFault{Label: i, OPL: x, Coefficients: ft.table[i]}
		}
		value *= ft.factors[idx]
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, &NumericFault{Label: -1}
	}
	return value, nil
}
