package eventbook

import (
	"errors"
)

// Error categories for caller mistakes, checked with errors.Is. The specific cause is joined with errors.Join.
var (
	// ErrValidation is returned for empty or invalid book names, malformed specs or matrices, and invalid cadence values.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicate is returned when a name that must be unique is already taken.
	ErrDuplicate = errors.New("duplicate")

	// ErrNotFound is returned when a book, spec, connector binding or persisted payload does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConnection is returned when persistence is attempted without a bound connector.
	ErrConnection = errors.New("connection failed")

	// ErrTypeConflict is returned when an event payload can not be combined with the current state's cell types.
	ErrTypeConflict = errors.New("type conflict")
)

var (
	ErrEmptyBookName        = errors.New("book name must not be empty")
	ErrInvalidBookName      = errors.New("book name must not contain whitespace or path separators")
	ErrNilPayload           = errors.New("event payload must not be nil")
	ErrNegativeThreshold    = errors.New("cadence thresholds must not be negative")
	ErrNilConnector         = errors.New("connector must not be nil")
	ErrNoStateConnector     = errors.New("no state connector bound")
	ErrNoLogConnector       = errors.New("no events log connector bound")
	ErrPersistFailed        = errors.New("persisting payload failed")
	ErrLoadFailed           = errors.New("loading payload failed")
	ErrCodec                = errors.New("payload codec failed")
	ErrNonPositiveTimeout   = errors.New("persist timeout must be positive")
	ErrNilClock             = errors.New("clock must not be nil")
	ErrSnapshotBookMismatch = errors.New("snapshot belongs to another book")
)
