package ports

import (
	"context"
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic simulations
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error)

	// Stream derives a deterministic stream for one run and named component.
	// The same (runID, name, baseSeed) always yields the same sequence.
	Stream(ctx context.Context, runID, name string, baseSeed int64) (*rand.Rand, error)
}
