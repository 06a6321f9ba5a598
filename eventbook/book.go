package eventbook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultPersistTimeout = 30 * time.Second

	logMsgEventApplied        = "event applied"
	logMsgEventRejected       = "event rejected"
	logMsgSnapshotPersisted   = "snapshot persisted"
	logMsgSnapshotFailed      = "snapshot persistence failed"
	logMsgLogFlushed          = "events log flushed"
	logMsgLogFlushFailed      = "events log flush failed"
	logMsgLogTruncateFailed   = "events log truncation after snapshot failed"
	logMsgBackupPersisted     = "backup snapshot persisted"
	logMsgBackupFailed        = "backup snapshot persistence failed"
	logMsgStateReset          = "state rebuilt from snapshot and events log"
	logMsgStateResetFailed    = "state reset failed"
	logMsgPersistRetry        = "retrying connector write"
	logMsgConnectorsDetached  = "connectors detached"
	logAttrBook               = "book"
	logAttrAction             = "action"
	logAttrTrigger            = "trigger"
	logAttrTarget             = "target"
	logAttrError              = "error"
	logAttrEventCount         = "event_count"
	logAttrReplayedEvents     = "replayed_events"
	logAttrDurationMS         = "duration_ms"
	logAttrAttempt            = "attempt"
	logAttrPayloadBytes       = "payload_bytes"
	targetState               = "state"
	targetLog                 = "log"
	targetBackup              = "backup"
	operationEvent            = "event"
	operationSnapshot         = "snapshot"
	operationLogFlush         = "log_flush"
	operationBackup           = "backup"
	operationReset            = "reset_state"
	statusSuccess             = "success"
	statusError               = "error"
	spanNamePersist           = "eventbook.persist"
	spanNameLogFlush          = "eventbook.log_flush"
	spanNameReset             = "eventbook.reset_state"
	spanAttrBook              = "book"
	spanAttrOperation         = "operation"
	spanAttrTrigger           = "trigger"
	spanAttrErrorType         = "error_type"
	spanAttrEventCount        = "event_count"
	spanAttrDurationMS        = "duration_ms"
	metricEventDuration       = "eventbook_event_duration_seconds"
	metricEventsTotal         = "eventbook_events_total"
	metricSnapshotsTotal      = "eventbook_snapshots_total"
	metricLogFlushesTotal     = "eventbook_log_flushes_total"
	metricPersistDuration     = "eventbook_persist_duration_seconds"
	metricErrorsTotal         = "eventbook_errors_total"
	metricReplayEvents        = "eventbook_replay_events"
	metricLabelBook           = "book"
	metricLabelAction         = "action"
	metricLabelStatus         = "status"
	metricLabelTrigger        = "trigger"
	metricLabelTarget         = "target"
	metricLabelOperation      = "operation"
	metricLabelErrorType      = "error_type"
	errorTypeValidation       = "validation"
	errorTypeTypeConflict     = "type_conflict"
	errorTypeConnection       = "connection"
	errorTypeNotFound         = "not_found"
	errorTypeCodec            = "codec"
	errorTypePersist          = "persist"
	errorTypeLoad             = "load"
	errorTypeContextCanceled  = "context_canceled"
	errorTypeContextDeadline  = "context_deadline_exceeded"
	errorTypeOther            = "other"
)

// Book is the capability set a Portfolio hands out. EventBook is the built-in implementation,
// alternatives are plugged in through the portfolio's resolver.
type Book interface {
	Name() string
	CurrentState() (time.Time, *LabeledMatrix)
	AddEvent(ctx context.Context, payload *LabeledMatrix) (time.Time, error)
	IncrementEvent(ctx context.Context, payload *LabeledMatrix) (time.Time, error)
	DecrementEvent(ctx context.Context, payload *LabeledMatrix) (time.Time, error)
	ResetState(ctx context.Context) error
	PersistBook(ctx context.Context) error
	SetCadence(policy CadencePolicy) error
}

// EventBook is a named, in-memory materialized view built from set, increment and decrement events.
// It snapshots its state and flushes its events log through connectors, driven by a CadencePolicy.
//
// All operations on one EventBook are serialized by a single mutex, including the persistence a mutator
// triggers, so a snapshot always captures a settled state. Distinct books share nothing.
type EventBook struct {
	mu sync.Mutex

	name            string
	state           *LabeledMatrix
	log             EventLog
	cadence         CadencePolicy
	counters        cadenceState
	lastStamp       time.Time
	lastEventAt     time.Time
	snapshotEventAt time.Time
	eventCount      uint64
	modified        bool

	stateConnector Connector
	logConnector   Connector

	clock          Clock
	persistTimeout time.Duration
	retryOptions   []RetryOption

	logger           Logger
	contextualLogger ContextualLogger
	metricsCollector MetricsCollector
	tracingCollector TracingCollector
}

var _ Book = (*EventBook)(nil)

// NewEventBook creates an empty EventBook with optional configuration.
func NewEventBook(name string, options ...Option) (*EventBook, error) {
	if err := ValidateBookName(name); err != nil {
		return nil, err
	}

	b := &EventBook{
		name:           name,
		state:          NewLabeledMatrix(),
		clock:          SystemClock(),
		persistTimeout: defaultPersistTimeout,
	}

	for _, option := range options {
		if err := option(b); err != nil {
			return nil, errors.Join(ErrValidation, err)
		}
	}

	b.counters.lastSnapshotTime = b.clock.Now()

	return b, nil
}

// Name returns the book name.
func (b *EventBook) Name() string {
	return b.name
}

// CurrentState returns the current time and a deep copy of the state. Mutating the copy never affects the book.
func (b *EventBook) CurrentState() (time.Time, *LabeledMatrix) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.clock.Now(), b.state.Clone()
}

// AddEvent overwrites the state with every defined cell of payload.
func (b *EventBook) AddEvent(ctx context.Context, payload *LabeledMatrix) (time.Time, error) {
	return b.applyEvent(ctx, ActionSet, payload)
}

// IncrementEvent adds payload to the state column by column.
func (b *EventBook) IncrementEvent(ctx context.Context, payload *LabeledMatrix) (time.Time, error) {
	return b.applyEvent(ctx, ActionIncrement, payload)
}

// DecrementEvent subtracts payload from the state column by column.
func (b *EventBook) DecrementEvent(ctx context.Context, payload *LabeledMatrix) (time.Time, error) {
	return b.applyEvent(ctx, ActionDecrement, payload)
}

// applyEvent is the single mutation path: stamp, merge, log, cadence.
//
// The state is committed before the cadence runs. A persistence error is returned together with the event's
// timestamp, the event stays applied and the unflushed log is kept for a later flush or replay.
func (b *EventBook) applyEvent(ctx context.Context, action Action, payload *LabeledMatrix) (time.Time, error) {
	if payload == nil {
		return time.Time{}, errors.Join(ErrValidation, ErrNilPayload)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	stamp := b.nextStamp()

	next, err := action.Apply(b.state, payload)
	if err != nil {
		b.logErrorContext(ctx, logMsgEventRejected, err, logAttrAction, action.String())
		b.recordEventMetrics(ctx, action, time.Since(start), statusError)
		b.recordErrorMetrics(ctx, operationEvent, err)

		return time.Time{}, err
	}

	b.state = next
	b.modified = true
	b.eventCount++
	b.lastEventAt = stamp

	if b.cadence.LogEnabled() {
		b.log.Append(EventRecord{Timestamp: stamp, Action: action, Payload: payload.Clone()})
	}

	duration := time.Since(start)
	b.logDebugContext(ctx, logMsgEventApplied,
		logAttrAction, action.String(),
		logAttrEventCount, b.eventCount,
		logAttrDurationMS, toMilliseconds(duration))
	b.recordEventMetrics(ctx, action, duration, statusSuccess)

	decision := b.counters.evaluate(b.cadence, stamp)
	if err := b.applyDecision(ctx, decision, stamp); err != nil {
		return stamp, err
	}

	return stamp, nil
}

// nextStamp returns a clock reading strictly after the previous one, so log keys never collide.
func (b *EventBook) nextStamp() time.Time {
	now := b.clock.Now()
	if !now.After(b.lastStamp) {
		now = b.lastStamp.Add(time.Nanosecond)
	}

	b.lastStamp = now

	return now
}

func (b *EventBook) applyDecision(ctx context.Context, decision cadenceDecision, now time.Time) error {
	switch {
	case decision.snapshot:
		return b.snapshot(ctx, decision.trigger, now)
	case decision.flushLog:
		return b.flushLog(ctx)
	default:
		return nil
	}
}

// snapshot writes the state through the state connector, then clears the log and truncates the persisted one.
func (b *EventBook) snapshot(ctx context.Context, trigger string, now time.Time) error {
	ctx, span := b.startTraceSpan(ctx, spanNamePersist, map[string]string{
		spanAttrBook:      b.name,
		spanAttrOperation: operationSnapshot,
		spanAttrTrigger:   trigger,
	})

	if b.stateConnector == nil {
		err := errors.Join(ErrConnection, ErrNoStateConnector, fmt.Errorf("book %q", b.name))
		b.failSnapshot(ctx, span, trigger, err)

		return err
	}

	snap, err := BuildSnapshot(b.name, now, b.lastEventAt, b.eventCount, b.state)
	if err != nil {
		b.failSnapshot(ctx, span, trigger, err)
		return err
	}

	data, err := EncodeSnapshot(snap)
	if err != nil {
		b.failSnapshot(ctx, span, trigger, err)
		return err
	}

	if err := b.persist(ctx, b.stateConnector, data, targetState); err != nil {
		b.failSnapshot(ctx, span, trigger, err)
		return err
	}

	b.snapshotEventAt = b.lastEventAt
	b.log.Clear()
	b.counters.eventCounter = 0
	b.truncatePersistedLog(ctx)

	b.logInfoContext(ctx, logMsgSnapshotPersisted,
		logAttrTrigger, trigger,
		logAttrEventCount, b.eventCount,
		logAttrPayloadBytes, len(data))
	b.incrementCounter(ctx, metricSnapshotsTotal, map[string]string{
		metricLabelBook:    b.name,
		metricLabelTrigger: trigger,
		metricLabelStatus:  statusSuccess,
	})
	b.finishTraceSpan(span, statusSuccess, map[string]string{spanAttrEventCount: fmt.Sprintf("%d", b.eventCount)})

	return nil
}

func (b *EventBook) failSnapshot(ctx context.Context, span SpanContext, trigger string, err error) {
	b.logErrorContext(ctx, logMsgSnapshotFailed, err, logAttrTrigger, trigger)
	b.incrementCounter(ctx, metricSnapshotsTotal, map[string]string{
		metricLabelBook:    b.name,
		metricLabelTrigger: trigger,
		metricLabelStatus:  statusError,
	})
	b.recordErrorMetrics(ctx, operationSnapshot, err)
	b.finishTraceSpan(span, statusError, map[string]string{spanAttrErrorType: errorType(err)})
}

// truncatePersistedLog replaces the persisted log with an empty one. A failure is only logged:
// the snapshot records the newest event it contains and replay skips older log records.
func (b *EventBook) truncatePersistedLog(ctx context.Context) {
	if b.logConnector == nil {
		return
	}

	empty, err := EncodeEventLog(EventLog{})
	if err == nil {
		err = b.persist(ctx, b.logConnector, empty, targetLog)
	}

	if err != nil {
		b.logWarnContext(ctx, logMsgLogTruncateFailed, logAttrError, err.Error())
		b.recordErrorMetrics(ctx, operationLogFlush, err)
	}
}

// flushLog appends the unflushed records to the persisted log and clears them on success.
func (b *EventBook) flushLog(ctx context.Context) error {
	ctx, span := b.startTraceSpan(ctx, spanNameLogFlush, map[string]string{
		spanAttrBook:       b.name,
		spanAttrOperation:  operationLogFlush,
		spanAttrEventCount: fmt.Sprintf("%d", b.log.Len()),
	})

	err := b.doFlushLog(ctx)
	if err != nil {
		b.logErrorContext(ctx, logMsgLogFlushFailed, err, logAttrEventCount, b.log.Len())
		b.incrementCounter(ctx, metricLogFlushesTotal, map[string]string{metricLabelBook: b.name, metricLabelStatus: statusError})
		b.recordErrorMetrics(ctx, operationLogFlush, err)
		b.finishTraceSpan(span, statusError, map[string]string{spanAttrErrorType: errorType(err)})

		return err
	}

	b.incrementCounter(ctx, metricLogFlushesTotal, map[string]string{metricLabelBook: b.name, metricLabelStatus: statusSuccess})
	b.finishTraceSpan(span, statusSuccess, nil)

	return nil
}

func (b *EventBook) doFlushLog(ctx context.Context) error {
	if b.logConnector == nil {
		return errors.Join(ErrConnection, ErrNoLogConnector, fmt.Errorf("book %q", b.name))
	}

	persisted, err := b.loadLog(ctx)
	if err != nil {
		return err
	}

	combined := persisted.After(b.snapshotEventAt)
	combined.Merge(b.log)

	data, err := EncodeEventLog(combined)
	if err != nil {
		return err
	}

	if err := b.persist(ctx, b.logConnector, data, targetLog); err != nil {
		return err
	}

	b.logInfoContext(ctx, logMsgLogFlushed,
		logAttrEventCount, b.log.Len(),
		logAttrPayloadBytes, len(data))
	b.log.Clear()

	return nil
}

// persist writes data through connector, bounded by the persist timeout and retried per the retry options.
func (b *EventBook) persist(ctx context.Context, connector Connector, data []byte, target string) error {
	start := time.Now()

	options := append([]RetryOption{withRetryHook(func(attempt int, err error) {
		b.logWarnContext(ctx, logMsgPersistRetry, logAttrTarget, target, logAttrAttempt, attempt, logAttrError, err.Error())
	})}, b.retryOptions...)

	err := RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, b.persistTimeout)
		defer cancel()

		return connector.Persist(callCtx, data)
	}, options...)

	status := statusSuccess
	if err != nil {
		status = statusError
		err = errors.Join(ErrPersistFailed, err)
	}

	b.recordDuration(ctx, metricPersistDuration, time.Since(start), map[string]string{
		metricLabelBook:   b.name,
		metricLabelTarget: target,
		metricLabelStatus: status,
	})

	return err
}

// load reads the connector's payload, bounded by the persist timeout. Nothing persisted yet matches ErrNotFound.
func (b *EventBook) load(ctx context.Context, connector Connector) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.persistTimeout)
	defer cancel()

	data, err := connector.Load(callCtx)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, ErrNotFound):
		return nil, err
	default:
		return nil, errors.Join(ErrLoadFailed, err)
	}
}

// loadLog reads the persisted log. A missing connector or payload yields an empty log.
func (b *EventBook) loadLog(ctx context.Context) (EventLog, error) {
	if b.logConnector == nil {
		return EventLog{}, nil
	}

	data, err := b.load(ctx, b.logConnector)
	if errors.Is(err, ErrNotFound) {
		return EventLog{}, nil
	}

	if err != nil {
		return EventLog{}, err
	}

	return DecodeEventLog(data)
}

// loadSnapshot reads the persisted snapshot, ok is false when there is none.
func (b *EventBook) loadSnapshot(ctx context.Context) (Snapshot, bool, error) {
	if b.stateConnector == nil {
		return Snapshot{}, false, nil
	}

	data, err := b.load(ctx, b.stateConnector)
	if errors.Is(err, ErrNotFound) {
		return Snapshot{}, false, nil
	}

	if err != nil {
		return Snapshot{}, false, err
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		return Snapshot{}, false, err
	}

	if snap.BookName != b.name {
		return Snapshot{}, false, errors.Join(
			ErrValidation,
			ErrSnapshotBookMismatch,
			fmt.Errorf("book %q loaded snapshot of %q", b.name, snap.BookName),
		)
	}

	return snap, true, nil
}

// ResetState rebuilds the state from the persisted snapshot (or an empty matrix) by replaying, in timestamp
// order, the persisted log followed by the unflushed in-memory records.
//
// Replay holds the book lock, concurrent events wait until it completes. Cadence side effects are suspended
// while replaying: counters are restored from the replayed records and evaluated once at the end, so a reset
// persists at most once. On any load or merge error the book is left as it was.
func (b *EventBook) ResetState(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, span := b.startTraceSpan(ctx, spanNameReset, map[string]string{
		spanAttrBook:      b.name,
		spanAttrOperation: operationReset,
	})

	start := time.Now()

	replayed, err := b.replay(ctx)
	if err != nil {
		b.logErrorContext(ctx, logMsgStateResetFailed, err)
		b.recordErrorMetrics(ctx, operationReset, err)
		b.finishTraceSpan(span, statusError, map[string]string{spanAttrErrorType: errorType(err)})

		return err
	}

	duration := time.Since(start)
	b.logInfoContext(ctx, logMsgStateReset,
		logAttrReplayedEvents, replayed,
		logAttrDurationMS, toMilliseconds(duration))
	b.recordValue(ctx, metricReplayEvents, float64(replayed), map[string]string{metricLabelBook: b.name})
	b.finishTraceSpan(span, statusSuccess, map[string]string{
		spanAttrEventCount: fmt.Sprintf("%d", replayed),
		spanAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration)),
	})

	decision := b.counters.decide(b.cadence, b.clock.Now())
	if decision.snapshot {
		decision.trigger = triggerReplay
	}

	return b.applyDecision(ctx, decision, b.lastStamp)
}

func (b *EventBook) replay(ctx context.Context) (int, error) {
	base := NewLabeledMatrix()
	var snapshotEventAt time.Time
	var eventCount uint64

	snap, found, err := b.loadSnapshot(ctx)
	if err != nil {
		return 0, err
	}

	if found {
		if base, err = snap.Matrix(); err != nil {
			return 0, err
		}

		snapshotEventAt = snap.LastEventAt
		eventCount = snap.EventCount
	}

	records, err := b.loadLog(ctx)
	if err != nil {
		return 0, err
	}

	records.Merge(b.log)
	records = records.After(snapshotEventAt)

	state := base
	for _, record := range records.records {
		if state, err = record.Action.Apply(state, record.Payload); err != nil {
			return 0, errors.Join(err, fmt.Errorf("replaying event %s", TimestampKey(record.Timestamp)))
		}
	}

	b.state = state
	b.modified = true
	b.snapshotEventAt = snapshotEventAt
	b.eventCount = eventCount + uint64(records.Len())
	b.lastEventAt = snapshotEventAt

	if n := records.Len(); n > 0 {
		b.lastEventAt = records.records[n-1].Timestamp
	}

	if b.lastEventAt.After(b.lastStamp) {
		b.lastStamp = b.lastEventAt
	}

	if b.cadence.CountThreshold > 0 {
		b.counters.bookCounter = records.Len()
	}

	if b.cadence.LogEnabled() {
		b.counters.eventCounter = b.log.Len()
	}

	return records.Len(), nil
}

// PersistBook snapshots the state now, regardless of the cadence, and restarts the cadence cycle.
func (b *EventBook) PersistBook(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if err := b.snapshot(ctx, triggerManual, now); err != nil {
		return err
	}

	b.counters.bookCounter = 0
	b.counters.lastSnapshotTime = now

	return nil
}

// PersistBackup writes a snapshot of the state through connector. Counters, log and bound connectors are untouched.
func (b *EventBook) PersistBackup(ctx context.Context, connector Connector) error {
	if connector == nil {
		return errors.Join(ErrConnection, ErrNilConnector)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, span := b.startTraceSpan(ctx, spanNamePersist, map[string]string{
		spanAttrBook:      b.name,
		spanAttrOperation: operationBackup,
	})

	snap, err := BuildSnapshot(b.name, b.clock.Now(), b.lastEventAt, b.eventCount, b.state)
	if err == nil {
		var data []byte
		if data, err = EncodeSnapshot(snap); err == nil {
			err = b.persist(ctx, connector, data, targetBackup)
		}
	}

	if err != nil {
		b.logErrorContext(ctx, logMsgBackupFailed, err)
		b.recordErrorMetrics(ctx, operationBackup, err)
		b.finishTraceSpan(span, statusError, map[string]string{spanAttrErrorType: errorType(err)})

		return err
	}

	b.logInfoContext(ctx, logMsgBackupPersisted, logAttrEventCount, b.eventCount)
	b.finishTraceSpan(span, statusSuccess, nil)

	return nil
}

// SetCadence replaces the thresholds. Running counters are kept.
func (b *EventBook) SetCadence(policy CadencePolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.cadence = policy

	return nil
}

// Cadence returns the current thresholds.
func (b *EventBook) Cadence() CadencePolicy {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.cadence
}

// EventLog returns a deep copy of the records not yet flushed.
func (b *EventBook) EventLog() EventLog {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.log.Clone()
}

// Modified reports whether an event or a reset changed the state since the last ResetModified.
func (b *EventBook) Modified() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.modified
}

func (b *EventBook) ResetModified() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.modified = false
}

// SetConnectors rebinds both connectors, nil unbinds.
func (b *EventBook) SetConnectors(state, log Connector) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stateConnector = state
	b.logConnector = log
}

// DetachConnectors unbinds both connectors. Later persistence attempts fail with ErrConnection.
func (b *EventBook) DetachConnectors() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stateConnector = nil
	b.logConnector = nil

	b.logInfoContext(context.Background(), logMsgConnectorsDetached)
}
