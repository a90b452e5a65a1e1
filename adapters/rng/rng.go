package rng

import (
	"context"
	"math/rand"
	"time"

	"trialsim/ports"
)

// Adapter implements ports.RNGPort with math/rand streams
type Adapter struct{}

var _ ports.RNGPort = (*Adapter)(nil)

// NewAdapter creates an RNG adapter
func NewAdapter() *Adapter {
	return &Adapter{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (a *Adapter) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rand.New(rand.NewSource(seed)), nil
}

// Stream creates a deterministic stream for one run and named component
func (a *Adapter) Stream(ctx context.Context, runID, name string, baseSeed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rand.New(rand.NewSource(DeriveSeed(runID, name, baseSeed))), nil
}

// DeriveSeed mixes the run id and component name into the base seed.
// Empty parts are skipped, so DeriveSeed("", "", s) == s.
func DeriveSeed(runID, name string, baseSeed int64) int64 {
	seed := baseSeed
	if runID != "" {
		seed = int64(hashString(runID)) + seed
	}
	if name != "" {
		seed = int64(hashString(name)) + seed
	}
	return seed
}

// NewSeed returns a fresh seed for runs that arrive without one
func NewSeed() int64 {
	return time.Now().UnixNano()
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}
