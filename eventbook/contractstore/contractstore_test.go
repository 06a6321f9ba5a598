package contractstore_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-hadron/discovery-engines/eventbook"
	"github.com/project-hadron/discovery-engines/eventbook/contractstore"
)

func givenStores(t *testing.T) map[string]func() eventbook.ContractStore {
	t.Helper()

	return map[string]func() eventbook.ContractStore{
		"memory": func() eventbook.ContractStore {
			return contractstore.NewMemoryStore()
		},
		"yaml": func() eventbook.ContractStore {
			store, err := contractstore.NewYAMLStore(afero.NewMemMapFs(), "/etc/books/contracts.yaml")
			require.NoError(t, err)

			return store
		},
	}
}

func Test_ContractStore_ConnectorRoundTrip(t *testing.T) {
	for name, newStore := range givenStores(t) {
		t.Run(name, func(t *testing.T) {
			// setup
			ctx := context.Background()
			store := newStore()

			// arrange
			contract := eventbook.ConnectorContract{
				Name:     "state_orders",
				Kind:     "file",
				Location: "/var/lib/books",
				Resource: "orders_state.json",
				Options:  map[string]string{"stamp": "false"},
			}

			// act
			setErr := store.SetConnector(ctx, contract)
			loaded, getErr := store.GetConnector(ctx, "state_orders")
			has, hasErr := store.HasConnector(ctx, "state_orders")
			removeErr := store.RemoveConnector(ctx, "state_orders")
			hasAfter, _ := store.HasConnector(ctx, "state_orders")
			_, missingErr := store.GetConnector(ctx, "state_orders")
			removeAgainErr := store.RemoveConnector(ctx, "state_orders")

			// assert
			require.NoError(t, setErr)
			require.NoError(t, getErr)
			require.NoError(t, hasErr)
			require.NoError(t, removeErr)
			assert.Equal(t, contract, loaded)
			assert.True(t, has)
			assert.False(t, hasAfter)
			assert.ErrorIs(t, missingErr, eventbook.ErrNotFound)
			assert.ErrorIs(t, removeAgainErr, eventbook.ErrNotFound)
		})
	}
}

func Test_ContractStore_SpecsByLevel(t *testing.T) {
	for name, newStore := range givenStores(t) {
		t.Run(name, func(t *testing.T) {
			// setup
			ctx := context.Background()
			store := newStore()

			// arrange
			orders := eventbook.BookSpec{
				Name:           "orders",
				Kind:           eventbook.DefaultKind,
				Level:          "portfolio",
				Cadence:        eventbook.CadencePolicy{CountThreshold: 100, LogThreshold: 10},
				StateConnector: "state_orders",
				RecoverOnStart: true,
			}
			stock := eventbook.BookSpec{Name: "stock", Kind: eventbook.DefaultKind, Level: "portfolio"}
			audit := eventbook.BookSpec{Name: "audit", Kind: eventbook.DefaultKind, Level: "compliance"}

			// act
			require.NoError(t, store.SetSpecs(ctx, "portfolio", []eventbook.BookSpec{orders, stock}))
			require.NoError(t, store.SetSpecs(ctx, "compliance", []eventbook.BookSpec{audit}))
			levels, levelsErr := store.Levels(ctx)
			specs, specsErr := store.GetSpecs(ctx, "portfolio")
			unknown, unknownErr := store.GetSpecs(ctx, "unknown")

			// assert
			require.NoError(t, levelsErr)
			require.NoError(t, specsErr)
			require.NoError(t, unknownErr)
			assert.Equal(t, []string{"compliance", "portfolio"}, levels)
			assert.Equal(t, []eventbook.BookSpec{orders, stock}, specs)
			assert.Empty(t, unknown)

			// act
			require.NoError(t, store.SetSpecs(ctx, "compliance", nil))
			levels, levelsErr = store.Levels(ctx)

			// assert
			require.NoError(t, levelsErr)
			assert.Equal(t, []string{"portfolio"}, levels)
		})
	}
}

func Test_ContractStore_RejectsInvalidInput(t *testing.T) {
	for name, newStore := range givenStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()

			assert.ErrorIs(t, store.SetConnector(ctx, eventbook.ConnectorContract{Kind: "file"}), eventbook.ErrValidation)
			assert.ErrorIs(t, store.SetConnector(ctx, eventbook.ConnectorContract{Name: "x"}), eventbook.ErrValidation)
			assert.ErrorIs(t, store.SetSpecs(ctx, "", nil), eventbook.ErrValidation)
		})
	}
}

func Test_MemoryStore_ReturnsCopies(t *testing.T) {
	// setup
	ctx := context.Background()
	store := contractstore.NewMemoryStore()

	// arrange
	options := map[string]string{"a": "1"}
	require.NoError(t, store.SetConnector(ctx, eventbook.ConnectorContract{Name: "c", Kind: "memory", Options: options}))

	// act
	options["a"] = "2"
	loaded, err := store.GetConnector(ctx, "c")
	require.NoError(t, err)
	loaded.Options["a"] = "3"
	again, err := store.GetConnector(ctx, "c")
	require.NoError(t, err)

	// assert
	assert.Equal(t, "1", again.Options["a"])
}

func Test_YAMLStore_PersistsAcrossInstances(t *testing.T) {
	// setup
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	path := "/etc/books/contracts.yaml"

	// arrange
	writer, err := contractstore.NewYAMLStore(fs, path)
	require.NoError(t, err)
	require.NoError(t, writer.SetConnector(ctx, eventbook.ConnectorContract{Name: "state_orders", Kind: "memory", Resource: "orders"}))
	require.NoError(t, writer.SetSpecs(ctx, "portfolio", []eventbook.BookSpec{{Name: "orders", StateConnector: "state_orders"}}))

	// act
	reader, err := contractstore.NewYAMLStore(fs, path)
	require.NoError(t, err)
	contract, contractErr := reader.GetConnector(ctx, "state_orders")
	specs, specsErr := reader.GetSpecs(ctx, "portfolio")

	// assert
	require.NoError(t, contractErr)
	require.NoError(t, specsErr)
	assert.Equal(t, "orders", contract.Resource)
	require.Len(t, specs, 1)
	assert.Equal(t, "state_orders", specs[0].StateConnector)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "state_connector: state_orders")

	leftovers, err := afero.Glob(fs, "/etc/books/*.tmp")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func Test_YAMLStore_RejectsUnknownFields(t *testing.T) {
	// setup
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	path := "/contracts.yaml"
	require.NoError(t, afero.WriteFile(fs, path, []byte("connectors: {}\nplugins: [x]\n"), 0o644))

	// arrange
	store, err := contractstore.NewYAMLStore(fs, path)
	require.NoError(t, err)

	// act
	_, err = store.Levels(ctx)

	// assert
	assert.ErrorIs(t, err, eventbook.ErrCodec)
}

func Test_YAMLStore_EmptyFileIsEmptyStore(t *testing.T) {
	// setup
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/contracts.yaml", nil, 0o644))

	// arrange
	store, err := contractstore.NewYAMLStore(fs, "/contracts.yaml")
	require.NoError(t, err)

	// act
	levels, err := store.Levels(ctx)

	// assert
	require.NoError(t, err)
	assert.Empty(t, levels)
	assert.Equal(t, "/contracts.yaml", store.Path())

	_, err = contractstore.NewYAMLStore(fs, "")
	assert.ErrorIs(t, err, eventbook.ErrValidation)
}
