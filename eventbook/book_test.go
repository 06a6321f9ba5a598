package eventbook_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/project-hadron/discovery-engines/eventbook"
	"github.com/project-hadron/discovery-engines/testutil/helper"
)

func givenBook(t *testing.T, name string, options ...Option) *EventBook {
	t.Helper()

	book, err := NewEventBook(name, options...)
	require.NoError(t, err)

	return book
}

func decodePersistedLog(t *testing.T, connector *helper.SpyConnector) EventLog {
	t.Helper()

	log, err := DecodeEventLog(connector.Payload())
	require.NoError(t, err)

	return log
}

func Test_NewEventBook_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name        string
		bookName    string
		options     []Option
		expectedErr error
	}{
		{name: "empty name", bookName: "", expectedErr: ErrEmptyBookName},
		{name: "name with whitespace", bookName: "my book", expectedErr: ErrInvalidBookName},
		{name: "name with separator", bookName: "a/b", expectedErr: ErrInvalidBookName},
		{name: "negative threshold", bookName: "orders", options: []Option{WithCadence(CadencePolicy{CountThreshold: -1})}, expectedErr: ErrNegativeThreshold},
		{name: "nil connector", bookName: "orders", options: []Option{WithStateConnector(nil)}, expectedErr: ErrNilConnector},
		{name: "nil clock", bookName: "orders", options: []Option{WithClock(nil)}, expectedErr: ErrNilClock},
		{name: "zero timeout", bookName: "orders", options: []Option{WithPersistTimeout(0)}, expectedErr: ErrNonPositiveTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book, err := NewEventBook(tt.bookName, tt.options...)

			assert.Nil(t, book)
			assert.ErrorIs(t, err, ErrValidation)
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func Test_EventBook_StartsEmpty(t *testing.T) {
	// arrange
	clock := helper.NewFakeClock(t0)
	book := givenBook(t, "orders", WithClock(clock))

	// act
	now, state := book.CurrentState()

	// assert
	assert.Equal(t, "orders", book.Name())
	assert.Equal(t, t0, now)
	assert.True(t, state.IsEmpty())
	assert.False(t, book.Modified())
}

func Test_EventBook_IncrementThenDecrementRestoresState(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	book := givenBook(t, helper.GivenUniqueBookName(t))
	_, err := book.AddEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 1, 1, 1)))
	require.NoError(t, err)
	delta := helper.GivenMatrix(t, helper.NumCol("A", 1, 0, 1))

	// act
	_, incErr := book.IncrementEvent(ctx, delta)
	_, afterIncrement := book.CurrentState()
	_, decErr := book.DecrementEvent(ctx, delta)
	_, afterDecrement := book.CurrentState()

	// assert
	require.NoError(t, incErr)
	require.NoError(t, decErr)
	assert.Equal(t, []*float64{helper.Ptr(2), helper.Ptr(1), helper.Ptr(2)}, helper.ColumnFloats(t, afterIncrement, "A"))
	assert.Equal(t, []*float64{helper.Ptr(1), helper.Ptr(1), helper.Ptr(1)}, helper.ColumnFloats(t, afterDecrement, "A"))
}

func Test_EventBook_TimestampsAreStrictlyIncreasing(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	clock := helper.NewFakeClock(t0)
	book := givenBook(t, helper.GivenUniqueBookName(t), WithClock(clock))
	payload := helper.GivenMatrix(t, helper.NumCol("A", 1))

	// act
	first, err1 := book.IncrementEvent(ctx, payload)
	second, err2 := book.IncrementEvent(ctx, payload)
	clock.Set(t0.Add(-time.Hour))
	third, err3 := book.IncrementEvent(ctx, payload)

	// assert
	require.NoError(t, errors.Join(err1, err2, err3))
	assert.Equal(t, t0, first)
	assert.True(t, second.After(first))
	assert.True(t, third.After(second))
}

func Test_EventBook_CurrentStateIsADefensiveCopy(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	book := givenBook(t, helper.GivenUniqueBookName(t), WithCadence(CadencePolicy{LogThreshold: 10}))
	payload := helper.GivenMatrix(t, helper.NumCol("A", 1))
	_, err := book.AddEvent(ctx, payload)
	require.NoError(t, err)

	// act
	_, state := book.CurrentState()
	require.NoError(t, state.Set("0", "A", Num(42)))
	require.NoError(t, payload.Set("0", "A", Num(43)))

	// assert
	_, again := book.CurrentState()
	assert.True(t, again.Get("0", "A").Equal(Num(1)))
	assert.True(t, book.EventLog().Records()[0].Payload.Get("0", "A").Equal(Num(1)))
}

func Test_EventBook_RejectsInvalidEvents(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	book := givenBook(t, helper.GivenUniqueBookName(t), WithCadence(CadencePolicy{LogThreshold: 10}))
	_, err := book.AddEvent(ctx, helper.GivenMatrix(t, Col("A", Text("label"))))
	require.NoError(t, err)
	book.ResetModified()
	_, before := book.CurrentState()

	// act
	nilStamp, nilErr := book.IncrementEvent(ctx, nil)
	conflictStamp, conflictErr := book.IncrementEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 1)))

	// assert
	assert.ErrorIs(t, nilErr, ErrValidation)
	assert.True(t, nilStamp.IsZero())
	assert.ErrorIs(t, conflictErr, ErrTypeConflict)
	assert.True(t, conflictStamp.IsZero())

	_, after := book.CurrentState()
	assert.True(t, after.Equal(before))
	assert.False(t, book.Modified())
	assert.Equal(t, 1, book.EventLog().Len())
}

func Test_EventBook_CountCadenceSnapshotsOncePerCycle(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	state := helper.NewSpyConnector()
	book := givenBook(t, helper.GivenUniqueBookName(t),
		WithCadence(CadencePolicy{CountThreshold: 5}),
		WithStateConnector(state))
	payload := helper.GivenMatrix(t, helper.NumCol("A", 1))

	// act + assert
	for i := 1; i <= 4; i++ {
		_, err := book.IncrementEvent(ctx, payload)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, state.PersistCount())

	_, err := book.IncrementEvent(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, state.PersistCount())

	_, err = book.IncrementEvent(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, state.PersistCount(), "the sixth event starts a new cycle")

	snap, err := DecodeSnapshot(state.Payload())
	require.NoError(t, err)
	persisted, err := snap.Matrix()
	require.NoError(t, err)
	assert.True(t, persisted.Get("0", "A").Equal(Num(5)))
	assert.Equal(t, uint64(5), snap.EventCount)
}

func Test_EventBook_TimeCadenceSnapshotsAfterThreshold(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	clock := helper.NewFakeClock(t0)
	state := helper.NewSpyConnector()
	metrics := helper.NewMetricsCollectorSpy()
	book := givenBook(t, helper.GivenUniqueBookName(t),
		WithCadence(CadencePolicy{CountThreshold: 100, TimeThresholdSeconds: 60}),
		WithStateConnector(state),
		WithClock(clock),
		WithMetrics(metrics))
	payload := helper.GivenMatrix(t, helper.NumCol("A", 1))

	// act
	_, err1 := book.IncrementEvent(ctx, payload)
	clock.Advance(59 * time.Second)
	_, err2 := book.IncrementEvent(ctx, payload)
	clock.Advance(time.Second)
	_, err3 := book.IncrementEvent(ctx, payload)

	// assert
	require.NoError(t, errors.Join(err1, err2, err3))
	assert.Equal(t, 1, state.PersistCount())
	assert.Equal(t, 1, metrics.CountCounterRecords("eventbook_snapshots_total", map[string]string{
		"book":    book.Name(),
		"trigger": "time",
		"status":  "success",
	}))
}

func Test_EventBook_LogFlushAppendsToPersistedLog(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	logConn := helper.NewSpyConnector()
	book := givenBook(t, helper.GivenUniqueBookName(t),
		WithCadence(CadencePolicy{LogThreshold: 2}),
		WithLogConnector(logConn))
	payload := helper.GivenMatrix(t, helper.NumCol("A", 1))

	// act
	for range 4 {
		_, err := book.IncrementEvent(ctx, payload)
		require.NoError(t, err)
	}

	// assert
	assert.Equal(t, 2, logConn.PersistCount())
	assert.Equal(t, 0, book.EventLog().Len())
	assert.Equal(t, 4, decodePersistedLog(t, logConn).Len())
}

func Test_EventBook_FailedLogFlushKeepsRecords(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	logConn := helper.NewSpyConnector()
	logConn.FailPersist(errors.New("disk full"), 1)
	book := givenBook(t, helper.GivenUniqueBookName(t),
		WithCadence(CadencePolicy{LogThreshold: 2}),
		WithLogConnector(logConn))
	payload := helper.GivenMatrix(t, helper.NumCol("A", 1))

	// act
	_, err1 := book.IncrementEvent(ctx, payload)
	stamp, err2 := book.IncrementEvent(ctx, payload)

	// assert
	require.NoError(t, err1)
	assert.ErrorIs(t, err2, ErrPersistFailed)
	assert.False(t, stamp.IsZero(), "the event is applied even though the flush failed")
	assert.Equal(t, 2, book.EventLog().Len())
	_, state := book.CurrentState()
	assert.True(t, state.Get("0", "A").Equal(Num(2)))

	// act
	_, err3 := book.IncrementEvent(ctx, payload)
	_, err4 := book.IncrementEvent(ctx, payload)

	// assert
	require.NoError(t, errors.Join(err3, err4))
	assert.Equal(t, 0, book.EventLog().Len())
	assert.Equal(t, 4, decodePersistedLog(t, logConn).Len())
}

func Test_EventBook_PersistenceWithoutConnectorFails(t *testing.T) {
	tests := []struct {
		name        string
		policy      CadencePolicy
		expectedErr error
	}{
		{name: "snapshot", policy: CadencePolicy{CountThreshold: 1}, expectedErr: ErrNoStateConnector},
		{name: "log flush", policy: CadencePolicy{LogThreshold: 1}, expectedErr: ErrNoLogConnector},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := givenBook(t, helper.GivenUniqueBookName(t), WithCadence(tt.policy))

			stamp, err := book.IncrementEvent(context.Background(), helper.GivenMatrix(t, helper.NumCol("A", 1)))

			assert.ErrorIs(t, err, ErrConnection)
			assert.ErrorIs(t, err, tt.expectedErr)
			assert.False(t, stamp.IsZero())
			_, state := book.CurrentState()
			assert.True(t, state.Get("0", "A").Equal(Num(1)))
		})
	}
}

func Test_EventBook_PersistRetriesTransientFailures(t *testing.T) {
	// setup
	ctx := context.Background()
	logHandler := helper.NewLogHandlerSpy(false)

	// arrange
	state := helper.NewSpyConnector()
	state.FailPersist(errors.New("connection reset"), 2)
	book := givenBook(t, helper.GivenUniqueBookName(t),
		WithCadence(CadencePolicy{CountThreshold: 1}),
		WithStateConnector(state),
		WithPersistRetry(3, 0),
		WithLogger(slog.New(logHandler)))

	// act
	_, err := book.IncrementEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 1)))

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, state.PersistCount())
	assert.Len(t, state.SuccessfulPersists(), 1)
	assert.True(t, logHandler.HasLogWithMessage(slog.LevelWarn, "retrying connector write").
		WithAttr("target", "state").
		WithAttr("attempt", "1").
		Assert())
}

func Test_EventBook_PersistRetriesTimedOutAttempts(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	state := helper.NewSpyConnector()
	state.StallPersist(1)
	book := givenBook(t, helper.GivenUniqueBookName(t),
		WithCadence(CadencePolicy{CountThreshold: 1}),
		WithStateConnector(state),
		WithPersistTimeout(20*time.Millisecond),
		WithPersistRetry(2, 0))

	// act
	_, err := book.IncrementEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 1)))

	// assert
	require.NoError(t, err)
	assert.Equal(t, 2, state.PersistCount())
	assert.Len(t, state.SuccessfulPersists(), 1)
}

func Test_EventBook_ResetStateRebuildsFromSnapshotAndLog(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	name := helper.GivenUniqueBookName(t)
	stateConn := helper.NewSpyConnector()
	logConn := helper.NewSpyConnector()
	policy := CadencePolicy{CountThreshold: 3, LogThreshold: 1}
	writer := givenBook(t, name, WithCadence(policy), WithStateConnector(stateConn), WithLogConnector(logConn))

	_, err := writer.AddEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 10, 20), Col("B", Text("x"), Text("y"))))
	require.NoError(t, err)
	for range 3 {
		_, err = writer.IncrementEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 1, 2)))
		require.NoError(t, err)
	}
	_, expected := writer.CurrentState()
	persistsBefore := stateConn.PersistCount()

	reader := givenBook(t, name, WithCadence(policy), WithStateConnector(stateConn), WithLogConnector(logConn))

	// act
	firstErr := reader.ResetState(ctx)
	_, first := reader.CurrentState()
	secondErr := reader.ResetState(ctx)
	_, second := reader.CurrentState()

	// assert
	require.NoError(t, firstErr)
	require.NoError(t, secondErr)
	assert.Equal(t, 1, persistsBefore)
	assert.True(t, first.Equal(expected))
	assert.True(t, second.Equal(expected))
	assert.Equal(t, persistsBefore, stateConn.PersistCount(), "replaying one event stays below the count threshold")
	assert.True(t, reader.Modified())
}

func Test_EventBook_ResetStateReplaysUnflushedRecords(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	book := givenBook(t, helper.GivenUniqueBookName(t), WithCadence(CadencePolicy{LogThreshold: 100}))
	for range 3 {
		_, err := book.IncrementEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 2)))
		require.NoError(t, err)
	}
	_, expected := book.CurrentState()

	// act
	err := book.ResetState(ctx)

	// assert
	require.NoError(t, err)
	_, state := book.CurrentState()
	assert.True(t, state.Equal(expected))
	assert.Equal(t, 3, book.EventLog().Len())
}

func Test_EventBook_ResetStateReplaysMixedEventsIntoFreshBook(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	name := helper.GivenUniqueBookName(t)
	logConn := helper.NewSpyConnector()
	policy := CadencePolicy{LogThreshold: 2}
	writer := givenBook(t, name, WithCadence(policy), WithLogConnector(logConn))

	events := []struct {
		apply   func(context.Context, *LabeledMatrix) (time.Time, error)
		payload *LabeledMatrix
	}{
		{writer.AddEvent, helper.GivenLabeledMatrix(t, []string{"r1", "r2"}, helper.NumCol("A", 10, 20), helper.NumCol("B", 1, 2))},
		{writer.IncrementEvent, helper.GivenLabeledMatrix(t, []string{"r2", "r3"}, helper.NumCol("A", 5, 7))},
		{writer.DecrementEvent, helper.GivenLabeledMatrix(t, []string{"r1"}, helper.NumCol("B", 0.5))},
		{writer.AddEvent, helper.GivenLabeledMatrix(t, []string{"r3"}, Col("C", Text("z")))},
		{writer.IncrementEvent, helper.GivenLabeledMatrix(t, []string{"r1", "r2"}, helper.NumCol("D", 3, 4))},
		{writer.DecrementEvent, helper.GivenLabeledMatrix(t, []string{"r1", "r3"}, helper.NumCol("A", 1, 2))},
	}
	for _, event := range events {
		_, err := event.apply(ctx, event.payload)
		require.NoError(t, err)
	}
	_, expected := writer.CurrentState()
	require.Equal(t, 6, decodePersistedLog(t, logConn).Len())

	reader := givenBook(t, name, WithCadence(policy), WithLogConnector(logConn))

	// act
	err := reader.ResetState(ctx)

	// assert
	require.NoError(t, err)
	_, state := reader.CurrentState()
	assert.True(t, state.Equal(expected))
	assert.True(t, state.Get("r1", "A").Equal(Num(9)))
	assert.True(t, state.Get("r2", "A").Equal(Num(25)))
	assert.True(t, state.Get("r3", "A").Equal(Num(5)))
	assert.True(t, state.Get("r1", "B").Equal(Num(0.5)))
	assert.True(t, state.Get("r3", "C").Equal(Text("z")))
	assert.True(t, state.Get("r2", "D").Equal(Num(4)))
}

func Test_EventBook_ResetStateSnapshotsAtMostOnce(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	name := helper.GivenUniqueBookName(t)
	var log EventLog
	for i := range 5 {
		log.Append(EventRecord{
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			Action:    ActionIncrement,
			Payload:   helper.GivenMatrix(t, helper.NumCol("A", 1)),
		})
	}
	data, err := EncodeEventLog(log)
	require.NoError(t, err)

	stateConn := helper.NewSpyConnector()
	logConn := helper.NewSpyConnector()
	logConn.Seed(data)
	metrics := helper.NewMetricsCollectorSpy()
	book := givenBook(t, name,
		WithCadence(CadencePolicy{CountThreshold: 2}),
		WithStateConnector(stateConn),
		WithLogConnector(logConn),
		WithMetrics(metrics))

	// act
	err = book.ResetState(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, stateConn.PersistCount())
	assert.Equal(t, 1, metrics.CountCounterRecords("eventbook_snapshots_total", map[string]string{"trigger": "replay"}))
	assert.Equal(t, 0, decodePersistedLog(t, logConn).Len(), "the snapshot truncates the persisted log")

	snap, err := DecodeSnapshot(stateConn.Payload())
	require.NoError(t, err)
	assert.True(t, snap.LastEventAt.Equal(t0.Add(4*time.Second)))
	assert.Equal(t, uint64(5), snap.EventCount)

	records := metrics.GetValueRecords("eventbook_replay_events")
	require.Len(t, records, 1)
	assert.InDelta(t, 5.0, records[0].Value, 0)

	// act
	stamp, err := book.IncrementEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 1)))

	// assert
	require.NoError(t, err)
	assert.True(t, stamp.After(t0.Add(4*time.Second)))
}

func Test_EventBook_ResetStateSkipsRecordsContainedInSnapshot(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	name := helper.GivenUniqueBookName(t)
	stateConn := helper.NewSpyConnector()
	logConn := helper.NewSpyConnector()
	logHandler := helper.NewLogHandlerSpy(false)
	policy := CadencePolicy{CountThreshold: 2, LogThreshold: 1}
	writer := givenBook(t, name,
		WithCadence(policy),
		WithStateConnector(stateConn),
		WithLogConnector(logConn),
		WithLogger(slog.New(logHandler)))
	payload := helper.GivenMatrix(t, helper.NumCol("A", 1))

	_, err := writer.IncrementEvent(ctx, payload)
	require.NoError(t, err)
	logConn.FailPersist(errors.New("disk full"), 1)
	_, err = writer.IncrementEvent(ctx, payload)
	require.NoError(t, err, "a failed log truncation is not returned")
	require.True(t, logHandler.HasLog(slog.LevelWarn, "events log truncation after snapshot failed"))
	require.Equal(t, 1, decodePersistedLog(t, logConn).Len())

	reader := givenBook(t, name, WithCadence(policy), WithStateConnector(stateConn), WithLogConnector(logConn))

	// act
	err = reader.ResetState(ctx)

	// assert
	require.NoError(t, err)
	_, state := reader.CurrentState()
	assert.True(t, state.Get("0", "A").Equal(Num(2)))
}

func Test_EventBook_ResetStateFailureLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name        string
		arrange     func(t *testing.T, state *helper.SpyConnector)
		expectedErr error
	}{
		{
			name: "load failure",
			arrange: func(_ *testing.T, state *helper.SpyConnector) {
				state.FailLoad(errors.New("io timeout"))
			},
			expectedErr: ErrLoadFailed,
		},
		{
			name: "snapshot of another book",
			arrange: func(t *testing.T, state *helper.SpyConnector) {
				snap, err := BuildSnapshot("someone-else", t0, t0, 1, helper.GivenMatrix(t, helper.NumCol("A", 1)))
				require.NoError(t, err)
				data, err := EncodeSnapshot(snap)
				require.NoError(t, err)
				state.Seed(data)
			},
			expectedErr: ErrSnapshotBookMismatch,
		},
		{
			name: "corrupt snapshot",
			arrange: func(_ *testing.T, state *helper.SpyConnector) {
				state.Seed([]byte("{"))
			},
			expectedErr: ErrCodec,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			stateConn := helper.NewSpyConnector()
			tracing := helper.NewTracingCollectorSpy()
			book := givenBook(t, helper.GivenUniqueBookName(t), WithStateConnector(stateConn), WithTracing(tracing))
			_, err := book.AddEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 7)))
			require.NoError(t, err)
			tt.arrange(t, stateConn)

			err = book.ResetState(ctx)

			assert.ErrorIs(t, err, tt.expectedErr)
			_, state := book.CurrentState()
			assert.True(t, state.Get("0", "A").Equal(Num(7)))
			assert.True(t, tracing.HasSpanWithStatus("eventbook.reset_state", "error", map[string]string{"operation": "reset_state"}))
		})
	}
}

func Test_EventBook_ConcurrentIncrementsAreSerialized(t *testing.T) {
	// setup
	ctx := context.Background()
	const goroutines = 8
	const perGoroutine = 50

	// arrange
	stateConn := helper.NewSpyConnector()
	book := givenBook(t, helper.GivenUniqueBookName(t),
		WithCadence(CadencePolicy{CountThreshold: 7}),
		WithStateConnector(stateConn))

	payload := helper.GivenMatrix(t, helper.NumCol("A", 1))

	// act
	var wg sync.WaitGroup
	errs := make(chan error, goroutines*perGoroutine)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				if _, err := book.IncrementEvent(ctx, payload); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	// assert
	for err := range errs {
		assert.NoError(t, err)
	}
	_, state := book.CurrentState()
	assert.True(t, state.Get("0", "A").Equal(Num(goroutines*perGoroutine)))
	assert.Equal(t, goroutines*perGoroutine/7, stateConn.PersistCount())
}

func Test_EventBook_PersistBookRestartsCadenceCycle(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	stateConn := helper.NewSpyConnector()
	book := givenBook(t, helper.GivenUniqueBookName(t),
		WithCadence(CadencePolicy{CountThreshold: 3}),
		WithStateConnector(stateConn))
	payload := helper.GivenMatrix(t, helper.NumCol("A", 1))
	for range 2 {
		_, err := book.IncrementEvent(ctx, payload)
		require.NoError(t, err)
	}

	// act
	err := book.PersistBook(ctx)
	require.NoError(t, err)
	for range 2 {
		_, err = book.IncrementEvent(ctx, payload)
		require.NoError(t, err)
	}

	// assert
	assert.Equal(t, 1, stateConn.PersistCount())
}

func Test_EventBook_PersistBackup(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	name := helper.GivenUniqueBookName(t)
	stateConn := helper.NewSpyConnector()
	backup := helper.NewSpyConnector()
	tracing := helper.NewTracingCollectorSpy()
	book := givenBook(t, name,
		WithCadence(CadencePolicy{CountThreshold: 10, LogThreshold: 10}),
		WithStateConnector(stateConn),
		WithTracing(tracing))
	_, err := book.AddEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 3)))
	require.NoError(t, err)

	// act
	nilErr := book.PersistBackup(ctx, nil)
	err = book.PersistBackup(ctx, backup)

	// assert
	assert.ErrorIs(t, nilErr, ErrConnection)
	require.NoError(t, err)
	assert.Equal(t, 0, stateConn.PersistCount())
	assert.Equal(t, 1, book.EventLog().Len())

	snap, err := DecodeSnapshot(backup.Payload())
	require.NoError(t, err)
	assert.Equal(t, name, snap.BookName)
	matrix, err := snap.Matrix()
	require.NoError(t, err)
	assert.True(t, matrix.Get("0", "A").Equal(Num(3)))
	assert.True(t, tracing.HasSpanWithStatus("eventbook.persist", "success", map[string]string{"operation": "backup"}))
}

func Test_EventBook_DetachedConnectorsFailPersistence(t *testing.T) {
	// setup
	ctx := context.Background()

	// arrange
	stateConn := helper.NewSpyConnector()
	book := givenBook(t, helper.GivenUniqueBookName(t), WithStateConnector(stateConn))
	_, err := book.AddEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 3)))
	require.NoError(t, err)

	// act
	book.DetachConnectors()
	detachedErr := book.PersistBook(ctx)
	book.SetConnectors(stateConn, nil)
	reboundErr := book.PersistBook(ctx)

	// assert
	assert.ErrorIs(t, detachedErr, ErrConnection)
	assert.NoError(t, reboundErr)
	assert.Equal(t, 1, stateConn.PersistCount())
}

func Test_EventBook_SetCadence(t *testing.T) {
	book := givenBook(t, helper.GivenUniqueBookName(t))

	assert.ErrorIs(t, book.SetCadence(CadencePolicy{CountThreshold: -5}), ErrValidation)
	require.NoError(t, book.SetCadence(CadencePolicy{CountThreshold: 5}))
	assert.Equal(t, CadencePolicy{CountThreshold: 5}, book.Cadence())
}

func Test_EventBook_Observability(t *testing.T) {
	// setup
	ctx := context.Background()
	logHandler := helper.NewLogHandlerSpy(false)
	metrics := helper.NewMetricsCollectorSpy()
	tracing := helper.NewTracingCollectorSpy()

	// arrange
	name := helper.GivenUniqueBookName(t)
	book := givenBook(t, name,
		WithCadence(CadencePolicy{CountThreshold: 2}),
		WithStateConnector(helper.NewSpyConnector()),
		WithLogger(slog.New(logHandler)),
		WithMetrics(metrics),
		WithTracing(tracing))
	payload := helper.GivenMatrix(t, helper.NumCol("A", 1))

	// act
	_, err1 := book.IncrementEvent(ctx, payload)
	_, err2 := book.IncrementEvent(ctx, payload)
	_, err3 := book.IncrementEvent(ctx, helper.GivenMatrix(t, Col("A", Text("oops"))))

	// assert
	require.NoError(t, errors.Join(err1, err2))
	require.ErrorIs(t, err3, ErrTypeConflict)

	assert.True(t, logHandler.HasLogWithMessage(slog.LevelDebug, "event applied").
		WithAttr("book", name).
		WithAttr("action", "increment").
		WithDurationMS().
		Assert())
	assert.True(t, logHandler.HasLogWithMessage(slog.LevelInfo, "snapshot persisted").
		WithAttr("trigger", "count").
		WithAttr("event_count", "2").
		Assert())
	assert.True(t, logHandler.HasLog(slog.LevelError, "event rejected"))

	assert.Equal(t, 2, metrics.CountCounterRecords("eventbook_events_total", map[string]string{
		"book": name, "action": "increment", "status": "success",
	}))
	assert.Equal(t, 1, metrics.CountCounterRecords("eventbook_events_total", map[string]string{"status": "error"}))
	assert.Equal(t, 3, metrics.CountDurationRecords("eventbook_event_duration_seconds", map[string]string{"book": name}))
	assert.Equal(t, 1, metrics.CountDurationRecords("eventbook_persist_duration_seconds", map[string]string{
		"target": "state", "status": "success",
	}))
	assert.Equal(t, 1, metrics.CountCounterRecords("eventbook_errors_total", map[string]string{
		"operation": "event", "error_type": "type_conflict",
	}))

	assert.True(t, tracing.HasSpanWithStatus("eventbook.persist", "success", map[string]string{
		"book": name, "operation": "snapshot", "trigger": "count",
	}))
}

type requestIDKey struct{}

func Test_EventBook_ContextualLoggerReceivesCallerContext(t *testing.T) {
	// setup
	ctx := context.WithValue(context.Background(), requestIDKey{}, "req-42")
	logger := helper.NewContextualLoggerSpy()

	// arrange
	state := helper.NewSpyConnector()
	state.FailPersist(errors.New("disk full"), 1)
	book := givenBook(t, helper.GivenUniqueBookName(t),
		WithCadence(CadencePolicy{CountThreshold: 1}),
		WithStateConnector(state),
		WithContextualLogger(logger))

	// act
	_, err := book.IncrementEvent(ctx, helper.GivenMatrix(t, helper.NumCol("A", 1)))

	// assert
	require.Error(t, err)

	applied, ok := logger.FindLog(slog.LevelDebug, "event applied")
	require.True(t, ok)
	assert.Equal(t, "req-42", applied.Context.Value(requestIDKey{}))

	failed, ok := logger.FindLog(slog.LevelError, "snapshot persistence failed")
	require.True(t, ok)
	assert.Equal(t, "req-42", failed.Context.Value(requestIDKey{}))
}
