// Package eventbook maintains named, mutable books of tabular state built from discrete events
// and periodically snapshotted to durable storage, with recovery by replaying a retained events log.
//
// The state of a book is a LabeledMatrix: cells keyed by row label and column name, holding a scalar
// Value or missing. Three events change it:
//   - AddEvent: Set-merge, defined incoming cells overwrite, everything else is kept
//   - IncrementEvent: Accumulate-merge with +, missing existing cells count as zero
//   - DecrementEvent: Accumulate-merge with -
//
// A column without any defined cell is bootstrapped by an accumulate event, it takes the incoming
// cells as they are.
//
// Persistence is driven by a CadencePolicy:
//   - CountThreshold: snapshot after N events
//   - TimeThresholdSeconds: snapshot once N seconds passed since the last snapshot (wins over count)
//   - LogThreshold: retain events in the log and flush it after N events
//
// Snapshots go through the state Connector, the log through the log Connector. ResetState loads the
// snapshot and replays the persisted log plus the unflushed records in timestamp order.
//
// Common usage pattern:
//
//	book, err := eventbook.NewEventBook("orders",
//		eventbook.WithCadence(eventbook.CadencePolicy{CountThreshold: 100, LogThreshold: 10}),
//		eventbook.WithStateConnector(stateConn),
//		eventbook.WithLogConnector(logConn),
//		eventbook.WithLogger(slog.Default()))
//	if err != nil {
//		// handle error
//	}
//
//	payload, _ := eventbook.FromColumns(eventbook.Col("qty", eventbook.Num(1), eventbook.Num(2)))
//	_, err = book.IncrementEvent(ctx, payload)
//
//	_, state := book.CurrentState()
//
// Caller mistakes match one of ErrValidation, ErrDuplicate, ErrNotFound, ErrConnection or ErrTypeConflict
// with errors.Is. Connector I/O failures match ErrPersistFailed or ErrLoadFailed, payload decoding ErrCodec.
package eventbook
