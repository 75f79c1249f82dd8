package domain

import "fmt"

// ValidationError marks a single observation that failed normalization.
// The record is dropped and logged; the cycle continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid observation: %s %s", e.Field, e.Reason)
}

// SourceError marks a provider fetch failure. The orchestrator treats it as
// recoverable: the source contributes zero records and the cycle continues.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// RateLimitError marks a 429 response that persisted through the single
// permitted retry. Callers surface it as a SourceError for the affected call.
type RateLimitError struct {
	Source string
	Err    error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("source %s rate limited: %v", e.Source, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// PersistenceError marks a store write failure. This is the only error class
// that fails an ingestion cycle outright.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
