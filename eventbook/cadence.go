package eventbook

import (
	"errors"
	"fmt"
	"time"
)

const (
	triggerTime   = "time"
	triggerCount  = "count"
	triggerLog    = "log"
	triggerManual = "manual"
	triggerReplay = "replay"
)

// CadencePolicy holds the thresholds that decide when a book snapshots its state or flushes its log.
// A zero threshold disables its trigger.
type CadencePolicy struct {
	// CountThreshold snapshots after this many events.
	CountThreshold int `json:"count_threshold" yaml:"count_threshold"`
	// TimeThresholdSeconds snapshots once this many seconds passed since the last snapshot.
	TimeThresholdSeconds int `json:"time_threshold_seconds" yaml:"time_threshold_seconds"`
	// LogThreshold enables the event log and flushes it after this many events.
	LogThreshold int `json:"log_threshold" yaml:"log_threshold"`
}

// Validate rejects negative thresholds.
func (p CadencePolicy) Validate() error {
	if p.CountThreshold < 0 || p.TimeThresholdSeconds < 0 || p.LogThreshold < 0 {
		return errors.Join(
			ErrValidation,
			ErrNegativeThreshold,
			fmt.Errorf("count=%d time=%d log=%d", p.CountThreshold, p.TimeThresholdSeconds, p.LogThreshold),
		)
	}

	return nil
}

// TimeThreshold returns the time trigger as a duration.
func (p CadencePolicy) TimeThreshold() time.Duration {
	return time.Duration(p.TimeThresholdSeconds) * time.Second
}

// LogEnabled reports whether events are retained in the log.
func (p CadencePolicy) LogEnabled() bool {
	return p.LogThreshold > 0
}

type cadenceDecision struct {
	snapshot bool
	flushLog bool
	trigger  string
}

// cadenceState is the per-book counter set. It is only touched under the book lock.
type cadenceState struct {
	bookCounter      int
	eventCounter     int
	lastSnapshotTime time.Time
}

// evaluate counts one event and decides what to persist.
func (s *cadenceState) evaluate(p CadencePolicy, now time.Time) cadenceDecision {
	if p.CountThreshold > 0 {
		s.bookCounter++
	}

	if p.LogThreshold > 0 {
		s.eventCounter++
	}

	return s.decide(p, now)
}

// decide applies the thresholds to the current counters. Time beats count, a snapshot makes a log flush redundant.
func (s *cadenceState) decide(p CadencePolicy, now time.Time) cadenceDecision {
	var decision cadenceDecision

	switch {
	case p.TimeThresholdSeconds > 0 && now.Sub(s.lastSnapshotTime) >= p.TimeThreshold():
		s.lastSnapshotTime = now
		decision = cadenceDecision{snapshot: true, trigger: triggerTime}

	case p.CountThreshold > 0 && s.bookCounter >= p.CountThreshold:
		s.bookCounter = 0
		decision = cadenceDecision{snapshot: true, trigger: triggerCount}
	}

	if decision.snapshot {
		s.eventCounter = 0
		return decision
	}

	if p.LogThreshold > 0 && s.eventCounter >= p.LogThreshold {
		s.eventCounter = 0
		return cadenceDecision{flushLog: true, trigger: triggerLog}
	}

	return decision
}
