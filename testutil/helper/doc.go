// Package helper provides testing utilities for event books.
//
// It contains spies for the observability interfaces (a slog.Handler that captures records, a metrics
// collector and a tracing collector), a manually advanced clock, an in-memory connector that counts
// and optionally fails calls, and fixtures for building matrices.
package helper
