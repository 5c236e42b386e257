package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrTypeMismatch       = errors.New("instrument type mismatch")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrInvariantViolation = errors.New("open position invariant violation")
	ErrRetentionOrdering  = errors.New("retention attempted before compression eligibility")
	ErrMalformedRecord    = errors.New("malformed record")
	ErrLockHeld           = errors.New("lock already held")
)
