package eventbook

import (
	"encoding/json"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrInvalidSnapshotJSON is returned when snapshot state data is malformed or invalid.
	ErrInvalidSnapshotJSON = errors.New("snapshot state json is not valid")

	// ErrEmptySnapshotBookName is returned when a snapshot carries no book name.
	ErrEmptySnapshotBookName = errors.New("snapshot book name must not be empty")
)

// Snapshot is a persisted copy of a book's state together with the metadata needed for replay.
// LastEventAt is the timestamp of the newest event folded into State, log records not after it
// are already contained and are skipped on replay.
type Snapshot struct {
	BookName    string          `json:"book_name"`
	TakenAt     time.Time       `json:"taken_at"`
	LastEventAt time.Time       `json:"last_event_at"`
	EventCount  uint64          `json:"event_count"`
	State       json.RawMessage `json:"state"`
}

// Validate ensures the snapshot has valid data for storage operations.
func (s Snapshot) Validate() error {
	if s.BookName == "" {
		return errors.Join(ErrValidation, ErrEmptySnapshotBookName)
	}

	if !jsoniter.ConfigFastest.Valid(s.State) {
		return errors.Join(ErrValidation, ErrInvalidSnapshotJSON)
	}

	return nil
}

// BuildSnapshot creates a new Snapshot of state with validation.
func BuildSnapshot(
	bookName string,
	takenAt time.Time,
	lastEventAt time.Time,
	eventCount uint64,
	state *LabeledMatrix,
) (Snapshot, error) {
	data, err := EncodeMatrix(state)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		BookName:    bookName,
		TakenAt:     takenAt,
		LastEventAt: lastEventAt,
		EventCount:  eventCount,
		State:       data,
	}

	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}

	return snapshot, nil
}

// Matrix decodes the snapshot state.
func (s Snapshot) Matrix() (*LabeledMatrix, error) {
	return DecodeMatrix(s.State)
}

// EncodeSnapshot validates and encodes a snapshot.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	data, err := jsonAPI.Marshal(s)
	if err != nil {
		return nil, errors.Join(ErrCodec, err)
	}

	return data, nil
}

// DecodeSnapshot decodes and validates a snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := jsonAPI.Unmarshal(data, &s); err != nil {
		return Snapshot{}, errors.Join(ErrCodec, err)
	}

	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}

	return s, nil
}
