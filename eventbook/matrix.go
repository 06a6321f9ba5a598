package eventbook

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrEmptyColumnName     = errors.New("column name must not be empty")
	ErrDuplicateColumnName = errors.New("column name is not unique")
	ErrDuplicateRowLabel   = errors.New("row label is not unique")
	ErrColumnLength        = errors.New("column length does not match the row count")
)

// Column is a named slice of cells, used to build a LabeledMatrix column by column.
type Column struct {
	Name   string
	Values []Value
}

// Col is a shorthand for building a Column.
func Col(name string, values ...Value) Column {
	return Column{Name: name, Values: values}
}

// LabeledMatrix is a table keyed by unique row labels and unique column names.
// Cells hold a Value, absent cells read as missing.
//
// Row and column insertion order is kept for presentation but never affects Equal or any merge.
// A LabeledMatrix is not safe for concurrent mutation, the EventBook hands out clones.
type LabeledMatrix struct {
	rows     []string
	rowIndex map[string]int
	columns  []string
	colIndex map[string]int
	cells    [][]Value // cells[column][row]
}

// NewLabeledMatrix returns an empty matrix.
func NewLabeledMatrix() *LabeledMatrix {
	return &LabeledMatrix{
		rowIndex: make(map[string]int),
		colIndex: make(map[string]int),
	}
}

// FromColumns builds a matrix with default row labels "0", "1", ... from equally long columns.
func FromColumns(cols ...Column) (*LabeledMatrix, error) {
	rowCount := 0
	if len(cols) > 0 {
		rowCount = len(cols[0].Values)
	}

	labels := make([]string, rowCount)
	for i := range labels {
		labels[i] = strconv.Itoa(i)
	}

	return FromLabeledColumns(labels, cols...)
}

// FromLabeledColumns builds a matrix with the given row labels. Every column must have one cell per label.
func FromLabeledColumns(rowLabels []string, cols ...Column) (*LabeledMatrix, error) {
	m := NewLabeledMatrix()

	for _, label := range rowLabels {
		if _, ok := m.rowIndex[label]; ok {
			return nil, errors.Join(ErrValidation, ErrDuplicateRowLabel, fmt.Errorf("row %q", label))
		}

		m.addRow(label)
	}

	for _, col := range cols {
		if col.Name == "" {
			return nil, errors.Join(ErrValidation, ErrEmptyColumnName)
		}

		if _, ok := m.colIndex[col.Name]; ok {
			return nil, errors.Join(ErrValidation, ErrDuplicateColumnName, fmt.Errorf("column %q", col.Name))
		}

		if len(col.Values) != len(rowLabels) {
			return nil, errors.Join(
				ErrValidation,
				ErrColumnLength,
				fmt.Errorf("column %q has %d cells for %d rows", col.Name, len(col.Values), len(rowLabels)),
			)
		}

		idx := m.addColumn(col.Name)
		copy(m.cells[idx], col.Values)
	}

	return m, nil
}

func (m *LabeledMatrix) addRow(label string) int {
	if m.rowIndex == nil {
		m.rowIndex = make(map[string]int)
	}

	idx := len(m.rows)
	m.rows = append(m.rows, label)
	m.rowIndex[label] = idx

	for c := range m.cells {
		m.cells[c] = append(m.cells[c], Missing())
	}

	return idx
}

func (m *LabeledMatrix) addColumn(name string) int {
	if m.colIndex == nil {
		m.colIndex = make(map[string]int)
	}

	idx := len(m.columns)
	m.columns = append(m.columns, name)
	m.colIndex[name] = idx
	m.cells = append(m.cells, make([]Value, len(m.rows)))

	return idx
}

// Rows returns the row labels in insertion order.
func (m *LabeledMatrix) Rows() []string {
	return append([]string(nil), m.rows...)
}

// Columns returns the column names in insertion order.
func (m *LabeledMatrix) Columns() []string {
	return append([]string(nil), m.columns...)
}

// Shape returns the number of rows and columns.
func (m *LabeledMatrix) Shape() (int, int) {
	return len(m.rows), len(m.columns)
}

// IsEmpty reports whether the matrix has no cells at all.
func (m *LabeledMatrix) IsEmpty() bool {
	return len(m.rows) == 0 || len(m.columns) == 0
}

func (m *LabeledMatrix) HasRow(label string) bool {
	_, ok := m.rowIndex[label]
	return ok
}

func (m *LabeledMatrix) HasColumn(name string) bool {
	_, ok := m.colIndex[name]
	return ok
}

// Get returns the cell at row and column, or missing if either label is unknown.
func (m *LabeledMatrix) Get(row, col string) Value {
	r, ok := m.rowIndex[row]
	if !ok {
		return Missing()
	}

	c, ok := m.colIndex[col]
	if !ok {
		return Missing()
	}

	return m.cells[c][r]
}

// Set writes a cell, adding the row and the column when they are new.
func (m *LabeledMatrix) Set(row, col string, v Value) error {
	if col == "" {
		return errors.Join(ErrValidation, ErrEmptyColumnName)
	}

	r, ok := m.rowIndex[row]
	if !ok {
		r = m.addRow(row)
	}

	c, ok := m.colIndex[col]
	if !ok {
		c = m.addColumn(col)
	}

	m.cells[c][r] = v

	return nil
}

// Column returns a copy of the named column's cells, aligned to Rows.
func (m *LabeledMatrix) Column(name string) ([]Value, bool) {
	c, ok := m.colIndex[name]
	if !ok {
		return nil, false
	}

	return append([]Value(nil), m.cells[c]...), true
}

// DefinedCount returns how many cells of the column are not missing. Unknown columns count zero.
func (m *LabeledMatrix) DefinedCount(name string) int {
	c, ok := m.colIndex[name]
	if !ok {
		return 0
	}

	count := 0
	for _, v := range m.cells[c] {
		if !v.IsMissing() {
			count++
		}
	}

	return count
}

// Clone returns a deep copy.
func (m *LabeledMatrix) Clone() *LabeledMatrix {
	clone := &LabeledMatrix{
		rows:     append([]string(nil), m.rows...),
		rowIndex: make(map[string]int, len(m.rowIndex)),
		columns:  append([]string(nil), m.columns...),
		colIndex: make(map[string]int, len(m.colIndex)),
		cells:    make([][]Value, len(m.cells)),
	}

	for k, v := range m.rowIndex {
		clone.rowIndex[k] = v
	}

	for k, v := range m.colIndex {
		clone.colIndex[k] = v
	}

	for c := range m.cells {
		clone.cells[c] = append([]Value(nil), m.cells[c]...)
	}

	return clone
}

// Equal compares two matrices by label: same row labels, same column names and equal cells.
func (m *LabeledMatrix) Equal(other *LabeledMatrix) bool {
	if m == nil || other == nil {
		return m == other
	}

	if len(m.rows) != len(other.rows) || len(m.columns) != len(other.columns) {
		return false
	}

	for _, row := range m.rows {
		if !other.HasRow(row) {
			return false
		}
	}

	for _, col := range m.columns {
		if !other.HasColumn(col) {
			return false
		}

		for _, row := range m.rows {
			if !m.Get(row, col).Equal(other.Get(row, col)) {
				return false
			}
		}
	}

	return true
}

// validate checks the internal indexes, it guards matrices built by decoding.
func (m *LabeledMatrix) validate() error {
	if m == nil {
		return errors.Join(ErrValidation, ErrNilPayload)
	}

	if len(m.rowIndex) != len(m.rows) || len(m.colIndex) != len(m.columns) || len(m.cells) != len(m.columns) {
		return errors.Join(ErrValidation, errors.New("matrix index is inconsistent"))
	}

	for c := range m.cells {
		if len(m.cells[c]) != len(m.rows) {
			return errors.Join(ErrValidation, ErrColumnLength, fmt.Errorf("column %q", m.columns[c]))
		}
	}

	return nil
}
