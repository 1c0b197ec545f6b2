// Package faults defines the error taxonomy shared across contexts.
package faults

import "errors"

var (
	// ErrRemoteUnavailable: an analysis or verification call failed or timed
	// out. Surfaced to the requesting UI, never persisted as a record.
	ErrRemoteUnavailable = errors.New("remote service unavailable")

	// ErrStorageUnavailable: durable storage rejected a read/write. Callers
	// degrade to the in-memory read model and flag records unsynced.
	ErrStorageUnavailable = errors.New("durable storage unavailable")

	// ErrValidation: content rejected before submission (empty/oversized).
	ErrValidation = errors.New("invalid content")

	// ErrNavigationBlocked: expected outcome of a blocklist hit, not a
	// failure. Carries the redirect decision.
	ErrNavigationBlocked = errors.New("navigation blocked")

	ErrNotFound = errors.New("record not found")
)
