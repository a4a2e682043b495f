package domain

import "errors"

var (
	// ErrUnknownEntity marks a reference to a card, breaker or
	// controller that does not exist.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrInvalidPayload marks a report or command that does not map to
	// a valid operation.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrPreconditionFailed marks an attempt to power a breaker on
	// without an associated card holding positive balance.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrBackendUnavailable marks a failed call to the physical power
	// backend. In-memory state is still applied.
	ErrBackendUnavailable = errors.New("power backend unavailable")
	// ErrPersistence marks a failed durable write. In-memory state is
	// kept (fail-open); the caller is told the write did not happen.
	ErrPersistence = errors.New("persistence failure")
)
