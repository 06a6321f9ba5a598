package memconn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-hadron/discovery-engines/eventbook"
	"github.com/project-hadron/discovery-engines/eventbook/connector/memconn"
)

func Test_Connector_PersistLoadExists(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memconn.NewStore()

	// arrange
	conn, err := store.Connector("state_orders")
	require.NoError(t, err)

	// act
	existsBefore, _ := conn.Exists(ctx)
	_, loadErr := conn.Load(ctx)
	persistErr := conn.Persist(ctx, []byte(`{"a":1}`))
	payload, err := conn.Load(ctx)

	// assert
	assert.False(t, existsBefore)
	assert.ErrorIs(t, loadErr, eventbook.ErrNotFound)
	require.NoError(t, persistErr)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(payload))
	existsAfter, _ := conn.Exists(ctx)
	assert.True(t, existsAfter)
}

func Test_Store_SharesPayloadsByResource(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memconn.NewStore()

	// arrange
	writer, err := store.Connector("log")
	require.NoError(t, err)
	reader, err := store.Connector("log")
	require.NoError(t, err)
	other, err := store.Connector("other")
	require.NoError(t, err)

	// act
	require.NoError(t, writer.Persist(ctx, []byte("x")))
	payload, err := reader.Load(ctx)
	_, otherErr := other.Load(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "x", string(payload))
	assert.ErrorIs(t, otherErr, eventbook.ErrNotFound)
	assert.Equal(t, []string{"log"}, store.Resources())

	store.Delete("log")
	assert.Empty(t, store.Resources())
}

func Test_Connector_CopiesPayloads(t *testing.T) {
	// setup
	ctx := context.Background()
	conn, err := memconn.NewStore().Connector("r")
	require.NoError(t, err)

	// arrange
	original := []byte("abc")
	require.NoError(t, conn.Persist(ctx, original))

	// act
	original[0] = 'X'
	loaded, err := conn.Load(ctx)
	require.NoError(t, err)
	loaded[1] = 'Y'
	again, err := conn.Load(ctx)
	require.NoError(t, err)

	// assert
	assert.Equal(t, "abc", string(again))
}

func Test_Store_RejectsEmptyResource(t *testing.T) {
	_, err := memconn.NewStore().Connector("")

	assert.ErrorIs(t, err, eventbook.ErrValidation)
}

func Test_Connector_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn, err := memconn.NewStore().Connector("r")
	require.NoError(t, err)

	assert.ErrorIs(t, conn.Persist(ctx, []byte("x")), context.Canceled)
}
