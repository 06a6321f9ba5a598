package eventbook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/project-hadron/discovery-engines/eventbook"
	"github.com/project-hadron/discovery-engines/testutil/helper"
)

func Test_SetMerge_OverwritesDefinedCellsOnly(t *testing.T) {
	// arrange
	existing := helper.GivenMatrix(t, helper.NumCol("A", 1, 2, 3))
	incoming := helper.GivenMatrix(t,
		Col("A", Missing(), Num(9), Missing()),
		helper.NumCol("B", 5, 5, 5))

	// act
	result, err := SetMerge(existing, incoming)

	// assert
	require.NoError(t, err)
	assert.Equal(t, []*float64{helper.Ptr(1), helper.Ptr(9), helper.Ptr(3)}, helper.ColumnFloats(t, result, "A"))
	assert.Equal(t, []*float64{helper.Ptr(5), helper.Ptr(5), helper.Ptr(5)}, helper.ColumnFloats(t, result, "B"))
}

func Test_SetMerge_AddsIncomingRowsInFull(t *testing.T) {
	// arrange
	existing := helper.GivenLabeledMatrix(t, []string{"a"}, helper.NumCol("A", 1))
	incoming := helper.GivenLabeledMatrix(t, []string{"b"}, Col("A", Missing()), helper.NumCol("B", 2))

	// act
	result, err := SetMerge(existing, incoming)

	// assert
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, result.Rows())
	assert.ElementsMatch(t, []string{"A", "B"}, result.Columns())
	assert.True(t, result.Get("a", "A").Equal(Num(1)))
	assert.True(t, result.Get("b", "A").IsMissing())
	assert.True(t, result.Get("a", "B").IsMissing())
	assert.True(t, result.Get("b", "B").Equal(Num(2)))
}

func Test_SetMerge_DoesNotModifyInputs(t *testing.T) {
	// arrange
	existing := helper.GivenMatrix(t, helper.NumCol("A", 1))
	incoming := helper.GivenMatrix(t, helper.NumCol("A", 2), helper.NumCol("B", 3))
	existingBefore := existing.Clone()
	incomingBefore := incoming.Clone()

	// act
	_, err := SetMerge(existing, incoming)

	// assert
	require.NoError(t, err)
	assert.True(t, existing.Equal(existingBefore))
	assert.True(t, incoming.Equal(incomingBefore))
}

func Test_AccumulateMerge_RoundTrip(t *testing.T) {
	// arrange
	state := helper.GivenMatrix(t, helper.NumCol("A", 1, 1, 1))
	delta := helper.GivenMatrix(t, helper.NumCol("A", 1, 0, 1))

	// act
	incremented, incErr := AccumulateMerge(state, delta, OpAdd)
	require.NoError(t, incErr)
	decremented, decErr := AccumulateMerge(incremented, delta, OpSubtract)
	require.NoError(t, decErr)

	// assert
	assert.Equal(t, []*float64{helper.Ptr(2), helper.Ptr(1), helper.Ptr(2)}, helper.ColumnFloats(t, incremented, "A"))
	assert.True(t, decremented.Equal(state))
}

func Test_AccumulateMerge_BootstrapsColumnWithoutDefinedCells(t *testing.T) {
	tests := []struct {
		name     string
		existing *LabeledMatrix
	}{
		{
			name:     "absent column",
			existing: helper.GivenMatrix(t, helper.NumCol("A", 1, 1)),
		},
		{
			name:     "all missing column",
			existing: helper.GivenMatrix(t, helper.NumCol("A", 1, 1), Col("C", Missing(), Missing())),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// act
			result, err := AccumulateMerge(tt.existing, helper.GivenMatrix(t, helper.NumCol("C", 3, 3)), OpAdd)

			// assert
			require.NoError(t, err)
			assert.Equal(t, []*float64{helper.Ptr(3), helper.Ptr(3)}, helper.ColumnFloats(t, result, "C"))
			assert.Equal(t, []*float64{helper.Ptr(1), helper.Ptr(1)}, helper.ColumnFloats(t, result, "A"))
		})
	}
}

func Test_AccumulateMerge_BootstrapWithSubtractKeepsIncomingSign(t *testing.T) {
	// act
	result, err := AccumulateMerge(NewLabeledMatrix(), helper.GivenMatrix(t, helper.NumCol("C", 3)), OpSubtract)

	// assert
	require.NoError(t, err)
	assert.True(t, result.Get("0", "C").Equal(Num(3)))
}

func Test_AccumulateMerge_MissingCells(t *testing.T) {
	// arrange
	existing := helper.GivenLabeledMatrix(t, []string{"a", "b", "c"}, Col("A", Num(10), Missing(), Num(5)))
	incoming := helper.GivenLabeledMatrix(t, []string{"a", "b", "c", "d"},
		Col("A", Missing(), Num(2), Num(1), Num(4)))

	// act
	result, err := AccumulateMerge(existing, incoming, OpSubtract)

	// assert
	require.NoError(t, err)
	assert.True(t, result.Get("a", "A").Equal(Num(10)), "missing incoming keeps existing")
	assert.True(t, result.Get("b", "A").Equal(Num(-2)), "missing existing counts as zero")
	assert.True(t, result.Get("c", "A").Equal(Num(4)))
	assert.True(t, result.Get("d", "A").Equal(Num(-4)), "new row counts from zero")
}

func Test_AccumulateMerge_KeepsUntouchedColumns(t *testing.T) {
	// arrange
	existing := helper.GivenMatrix(t, helper.NumCol("A", 1), Col("B", Text("keep")))

	// act
	result, err := AccumulateMerge(existing, helper.GivenMatrix(t, helper.NumCol("A", 1)), OpAdd)

	// assert
	require.NoError(t, err)
	assert.True(t, result.Get("0", "A").Equal(Num(2)))
	assert.True(t, result.Get("0", "B").Equal(Text("keep")))
}

func Test_AccumulateMerge_TypeConflicts(t *testing.T) {
	tests := []struct {
		name     string
		existing *LabeledMatrix
		incoming *LabeledMatrix
	}{
		{
			name:     "text incoming against numbers",
			existing: helper.GivenMatrix(t, helper.NumCol("A", 1)),
			incoming: helper.GivenMatrix(t, Col("A", Text("x"))),
		},
		{
			name:     "numbers against text existing",
			existing: helper.GivenMatrix(t, Col("A", Text("x"))),
			incoming: helper.GivenMatrix(t, helper.NumCol("A", 1)),
		},
		{
			name:     "bool incoming against numbers",
			existing: helper.GivenMatrix(t, helper.NumCol("A", 1)),
			incoming: helper.GivenMatrix(t, Col("A", Bool(true))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.existing.Clone()

			result, err := AccumulateMerge(tt.existing, tt.incoming, OpAdd)

			assert.ErrorIs(t, err, ErrTypeConflict)
			assert.Nil(t, result)
			assert.True(t, tt.existing.Equal(before))
		})
	}
}

func Test_AccumulateMerge_RejectsNilAndUnknownOperator(t *testing.T) {
	m := helper.GivenMatrix(t, helper.NumCol("A", 1))

	_, nilErr := AccumulateMerge(m, nil, OpAdd)
	_, opErr := AccumulateMerge(m, m, Operator(0))

	assert.ErrorIs(t, nilErr, ErrValidation)
	assert.ErrorIs(t, nilErr, ErrNilPayload)
	assert.ErrorIs(t, opErr, ErrUnknownOperator)
}
