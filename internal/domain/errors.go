package domain

import "errors"

// Error kinds shared by every component. Wrap them with %w and match with errors.Is.
var (
	// ErrResolution means a target could not be resolved to a content hash.
	ErrResolution = errors.New("target could not be resolved")
	// ErrUpstreamUnavailable means the social API or chain RPC failed, timed
	// out, or is not configured.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNotFound            = errors.New("not found")
	// ErrStorageUnavailable means the backing store failed. Callers must not
	// treat it as an empty result.
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrUserRejected      = errors.New("transaction rejected by user")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSlippageExceeded  = errors.New("slippage tolerance exceeded")
	ErrTransient         = errors.New("transient failure")

	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidTaskType  = errors.New("invalid task type")
	ErrInvalidSlot      = errors.New("pin slot out of range")
	ErrInvalidTarget    = errors.New("target reference is empty")
	ErrQueueFull        = errors.New("every queue slot is pinned")
	ErrAlreadySubmitted = errors.New("previous submission is still queued")
	ErrNotEligible      = errors.New("not eligible to publish")
	ErrSuperseded       = errors.New("attempt superseded by a newer one")
)
