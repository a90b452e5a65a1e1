package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound    = errors.New("resource not found")
	ErrRunNotFound = fmt.Errorf("%w: run", ErrNotFound)
	ErrJobNotFound = fmt.Errorf("%w: job", ErrNotFound)
	ErrCacheMiss   = fmt.Errorf("%w: cached result", ErrNotFound)

	// Validation errors
	ErrInvalidConfig   = errors.New("invalid simulation config")
	ErrInvalidScenario = errors.New("invalid scenario definition")

	// Computation errors
	ErrComputation      = errors.New("simulation computation failed")
	ErrZeroSampleSize   = fmt.Errorf("%w: zero cumulative sample size", ErrComputation)
	ErrNonFiniteOutcome = fmt.Errorf("%w: non-finite statistic", ErrComputation)

	// Determinism errors
	ErrNonDeterministic = errors.New("non-deterministic result")
	ErrHashMismatch     = errors.New("hash mismatch")

	// Job errors
	ErrJobQueueFull = errors.New("job queue is full")
	ErrJobFinished  = errors.New("job already finished")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewComputationError(look int, err error) error {
	return fmt.Errorf("%w at look %d: %v", ErrComputation, look, err)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsComputationError(err error) bool {
	return errors.Is(err, ErrComputation)
}

func IsDeterminismError(err error) bool {
	return errors.Is(err, ErrNonDeterministic) ||
		errors.Is(err, ErrHashMismatch)
}
