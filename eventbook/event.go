package eventbook

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// TimestampLayout is the fixed-width UTC layout of event log keys. Keys sort lexically in time order.
const TimestampLayout = "20060102150405.000000000"

var (
	ErrUnknownAction       = errors.New("unknown event action")
	ErrInvalidTimestampKey = errors.New("event log key is not a valid timestamp")
)

// Action is the kind of mutation an event applies.
type Action uint8

const (
	ActionSet Action = iota + 1
	ActionIncrement
	ActionDecrement
)

func (a Action) String() string {
	switch a {
	case ActionSet:
		return "add"
	case ActionIncrement:
		return "increment"
	case ActionDecrement:
		return "decrement"
	default:
		return "unknown"
	}
}

// ParseAction maps the persisted action name back to an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "add":
		return ActionSet, nil
	case "increment":
		return ActionIncrement, nil
	case "decrement":
		return ActionDecrement, nil
	default:
		return 0, errors.Join(ErrValidation, ErrUnknownAction, fmt.Errorf("action %q", s))
	}
}

func (a Action) MarshalText() ([]byte, error) {
	if a < ActionSet || a > ActionDecrement {
		return nil, errors.Join(ErrCodec, ErrUnknownAction)
	}

	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

// Apply runs the merge that belongs to the action.
func (a Action) Apply(state, payload *LabeledMatrix) (*LabeledMatrix, error) {
	switch a {
	case ActionSet:
		return SetMerge(state, payload)
	case ActionIncrement:
		return AccumulateMerge(state, payload, OpAdd)
	case ActionDecrement:
		return AccumulateMerge(state, payload, OpSubtract)
	default:
		return nil, errors.Join(ErrValidation, ErrUnknownAction)
	}
}

// TimestampKey formats t as an event log key.
func TimestampKey(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestampKey parses an event log key.
func ParseTimestampKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, errors.Join(ErrCodec, ErrInvalidTimestampKey, err)
	}

	return t, nil
}

// EventRecord is one logged mutation.
type EventRecord struct {
	Timestamp time.Time
	Action    Action
	Payload   *LabeledMatrix
}

// EventLog is an ordered mapping from timestamp to EventRecord. Records are kept sorted by timestamp,
// appending a record with a timestamp that is already present replaces it.
type EventLog struct {
	records []EventRecord
}

// Append adds a record in timestamp order.
func (l *EventLog) Append(record EventRecord) {
	n := len(l.records)
	if n == 0 || record.Timestamp.After(l.records[n-1].Timestamp) {
		l.records = append(l.records, record)
		return
	}

	i := sort.Search(n, func(i int) bool {
		return !l.records[i].Timestamp.Before(record.Timestamp)
	})

	if i < n && l.records[i].Timestamp.Equal(record.Timestamp) {
		l.records[i] = record
		return
	}

	l.records = append(l.records, EventRecord{})
	copy(l.records[i+1:], l.records[i:])
	l.records[i] = record
}

// Merge appends every record of other.
func (l *EventLog) Merge(other EventLog) {
	for _, record := range other.records {
		l.Append(record)
	}
}

// Len returns the number of records.
func (l EventLog) Len() int {
	return len(l.records)
}

// Records returns the records in ascending timestamp order. Payloads are shared, not copied.
func (l EventLog) Records() []EventRecord {
	return append([]EventRecord(nil), l.records...)
}

// After returns a log holding only records strictly newer than t.
func (l EventLog) After(t time.Time) EventLog {
	i := sort.Search(len(l.records), func(i int) bool {
		return l.records[i].Timestamp.After(t)
	})

	return EventLog{records: append([]EventRecord(nil), l.records[i:]...)}
}

// Clear drops all records.
func (l *EventLog) Clear() {
	l.records = nil
}

// Clone returns a deep copy, payloads included.
func (l EventLog) Clone() EventLog {
	clone := EventLog{records: make([]EventRecord, len(l.records))}
	for i, record := range l.records {
		clone.records[i] = EventRecord{
			Timestamp: record.Timestamp,
			Action:    record.Action,
			Payload:   record.Payload.Clone(),
		}
	}

	return clone
}
