package eventbook

import (
	"errors"
	"fmt"
)

var ErrUnknownOperator = errors.New("unknown accumulate operator")

// Operator is the arithmetic applied by AccumulateMerge.
type Operator uint8

const (
	OpAdd Operator = iota + 1
	OpSubtract
)

func (op Operator) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSubtract:
		return "-"
	default:
		return "?"
	}
}

func (op Operator) apply(existing, incoming float64) float64 {
	if op == OpSubtract {
		return existing - incoming
	}

	return existing + incoming
}

// SetMerge returns a new matrix spanning the union of rows and columns of both inputs.
// A cell takes the incoming value when it is not missing, otherwise the existing one.
// Neither input is modified.
func SetMerge(existing, incoming *LabeledMatrix) (*LabeledMatrix, error) {
	if err := validatePair(existing, incoming); err != nil {
		return nil, err
	}

	result := existing.Clone()
	result.alignTo(incoming)

	for c, col := range incoming.columns {
		for r, row := range incoming.rows {
			if v := incoming.cells[c][r]; !v.IsMissing() {
				result.cells[result.colIndex[col]][result.rowIndex[row]] = v
			}
		}
	}

	return result, nil
}

// AccumulateMerge combines incoming into existing column by column with op.
//
// A column that already holds at least one defined cell gets op(existing, incoming) for every row where the
// incoming cell is defined, a missing existing cell counts as zero. A column without defined cells takes the
// incoming cells unchanged. Rows and columns incoming does not touch keep their values.
//
// Arithmetic on non-numeric cells fails with ErrTypeConflict and leaves existing untouched.
func AccumulateMerge(existing, incoming *LabeledMatrix, op Operator) (*LabeledMatrix, error) {
	if err := validatePair(existing, incoming); err != nil {
		return nil, err
	}

	if op != OpAdd && op != OpSubtract {
		return nil, errors.Join(ErrValidation, ErrUnknownOperator)
	}

	result := existing.Clone()
	result.alignTo(incoming)

	for c, col := range incoming.columns {
		target := result.cells[result.colIndex[col]]
		bootstrap := existing.DefinedCount(col) == 0

		for r, row := range incoming.rows {
			in := incoming.cells[c][r]
			if in.IsMissing() {
				continue
			}

			idx := result.rowIndex[row]
			if bootstrap {
				target[idx] = in
				continue
			}

			sum, err := accumulateCell(existing.Get(row, col), in, op)
			if err != nil {
				return nil, errors.Join(err, fmt.Errorf("row %q column %q", row, col))
			}

			target[idx] = Num(sum)
		}
	}

	return result, nil
}

func accumulateCell(existing, incoming Value, op Operator) (float64, error) {
	in, ok := incoming.Float()
	if !ok {
		return 0, errors.Join(ErrTypeConflict, fmt.Errorf("incoming %s cell in arithmetic", incoming.Kind()))
	}

	if existing.IsMissing() {
		return op.apply(0, in), nil
	}

	base, ok := existing.Float()
	if !ok {
		return 0, errors.Join(ErrTypeConflict, fmt.Errorf("existing %s cell in arithmetic", existing.Kind()))
	}

	return op.apply(base, in), nil
}

// alignTo adds the rows and columns of other that m does not have yet, filled with missing cells.
func (m *LabeledMatrix) alignTo(other *LabeledMatrix) {
	for _, row := range other.rows {
		if !m.HasRow(row) {
			m.addRow(row)
		}
	}

	for _, col := range other.columns {
		if !m.HasColumn(col) {
			m.addColumn(col)
		}
	}
}

func validatePair(existing, incoming *LabeledMatrix) error {
	if err := existing.validate(); err != nil {
		return err
	}

	return incoming.validate()
}
