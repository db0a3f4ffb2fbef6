package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedOpportunity is returned for candidates with missing or out-of-range fields.
	// The candidate is dropped; the cycle continues.
	ErrMalformedOpportunity = errors.New("malformed opportunity")

	// ErrDuplicateExposure is returned when a combination already has an open position.
	ErrDuplicateExposure = errors.New("duplicate exposure")

	// ErrDataUnavailable is returned when a price or snapshot cannot be obtained.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrBreakerTripped is returned when admission is blocked by the breaker.
	ErrBreakerTripped = errors.New("breaker tripped")

	// ErrCapitalInvariant signals a broken capital or position-count invariant.
	// Admissions stop until restart.
	ErrCapitalInvariant = errors.New("capital invariant violation")

	// ErrSessionHalted is returned for admission attempts after a fatal halt or session stop.
	ErrSessionHalted = errors.New("session halted")

	// ErrPositionNotFound is returned for unknown position ids.
	ErrPositionNotFound = errors.New("position not found")
)

// CapitalInvariantError carries the numbers behind an invariant violation.
type CapitalInvariantError struct {
	Detail    string
	Deployed  float64
	Ceiling   float64
	Available float64
	Open      int
	MaxOpen   int
}

func (e *CapitalInvariantError) Error() string {
	return fmt.Sprintf("%s: %s (deployed=%.4f ceiling=%.4f available=%.4f open=%d max_open=%d)",
		ErrCapitalInvariant, e.Detail, e.Deployed, e.Ceiling, e.Available, e.Open, e.MaxOpen)
}

func (e *CapitalInvariantError) Unwrap() error { return ErrCapitalInvariant }
