package helper

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/project-hadron/discovery-engines/eventbook"
)

// GivenUniqueBookName returns a book name that is unique across test runs.
func GivenUniqueBookName(t testing.TB) string {
	id, err := uuid.NewV7()
	require.NoError(t, err, "error in arranging test data")

	return "book_" + id.String()
}

// GivenMatrix builds a matrix with default row labels and fails the test on invalid input.
func GivenMatrix(t testing.TB, cols ...eventbook.Column) *eventbook.LabeledMatrix {
	m, err := eventbook.FromColumns(cols...)
	require.NoError(t, err, "error in arranging test data")

	return m
}

// GivenLabeledMatrix builds a matrix with the given row labels and fails the test on invalid input.
func GivenLabeledMatrix(t testing.TB, rows []string, cols ...eventbook.Column) *eventbook.LabeledMatrix {
	m, err := eventbook.FromLabeledColumns(rows, cols...)
	require.NoError(t, err, "error in arranging test data")

	return m
}

// Nums turns floats into numeric cells.
func Nums(values ...float64) []eventbook.Value {
	cells := make([]eventbook.Value, len(values))
	for i, v := range values {
		cells[i] = eventbook.Num(v)
	}

	return cells
}

// NumCol is a numeric column.
func NumCol(name string, values ...float64) eventbook.Column {
	return eventbook.Column{Name: name, Values: Nums(values...)}
}

// ColumnFloats reads a column as floats, missing cells become nil.
func ColumnFloats(t testing.TB, m *eventbook.LabeledMatrix, name string) []*float64 {
	values, ok := m.Column(name)
	require.True(t, ok, "column %q does not exist", name)

	result := make([]*float64, len(values))
	for i, v := range values {
		if f, isNum := v.Float(); isNum {
			result[i] = &f
		}
	}

	return result
}

// Ptr returns a pointer to f, for comparisons with ColumnFloats.
func Ptr(f float64) *float64 {
	return &f
}
