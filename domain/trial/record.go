package trial

import (
	"fmt"

	"trialsim/domain/core"

	"github.com/google/uuid"
)

// RunRecord is the stored envelope of one computed aggregate
type RunRecord struct {
	ID          core.RunID       `json:"id"`
	OwnerID     uuid.UUID        `json:"owner_id"`
	Label       string           `json:"label,omitempty"`
	Config      SimulationConfig `json:"config"`
	Seed        int64            `json:"seed"`
	Fingerprint core.Hash        `json:"fingerprint"`
	Result      AggregateResult  `json:"result"`
	DurationMs  int64            `json:"duration_ms"`
	CreatedAt   core.Timestamp   `json:"created_at"`
}

// NewRunRecord wraps a computed result with its provenance
func NewRunRecord(ownerID uuid.UUID, cfg SimulationConfig, seed int64, result AggregateResult) *RunRecord {
	return &RunRecord{
		ID:          core.NewRunID(),
		OwnerID:     ownerID,
		Config:      cfg.Clone(),
		Seed:        seed,
		Fingerprint: Fingerprint(cfg, seed, result.EngineVersion),
		Result:      result,
		CreatedAt:   core.Now(),
	}
}

// Fingerprint identifies a reproducible run: same config, seed and engine
// version always produce the same aggregate.
func Fingerprint(cfg SimulationConfig, seed int64, engineVersion string) core.Hash {
	return core.ComputeFingerprint(map[string]interface{}{
		"arms_effects":        fmt.Sprintf("%v", cfg.ArmsEffects),
		"sample_size_per_arm": cfg.SampleSizePerArm,
		"interim_looks":       cfg.InterimLooks,
		"futility_threshold":  cfg.FutilityThreshold,
		"confidence_level":    cfg.ConfidenceLevel,
		"num_simulations":     cfg.NumSimulations,
		"seed":                seed,
		"engine_version":      engineVersion,
	})
}

// VerifyFingerprint recomputes the fingerprint and compares it with the stored one
func (r *RunRecord) VerifyFingerprint() error {
	expected := Fingerprint(r.Config, r.Seed, r.Result.EngineVersion)
	if !expected.Equals(r.Fingerprint) {
		return fmt.Errorf("%w: run %s has %s, expected %s", core.ErrHashMismatch, r.ID, r.Fingerprint.Short(), expected.Short())
	}
	return nil
}
