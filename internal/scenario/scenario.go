// Package scenario loads named simulation configurations for batch runs
// from YAML, XLSX or CSV files.
package scenario

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"trialsim/adapters/excel"
	"trialsim/domain/core"
	"trialsim/domain/trial"

	"gopkg.in/yaml.v3"
)

// Scenario is one named configuration of a batch
type Scenario struct {
	Name   string                 `yaml:"name" json:"name"`
	Config trial.SimulationConfig `yaml:",inline" json:"config"`
	// Seed pins the scenario's stream; nil derives one from the batch seed
	Seed *int64 `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// document is the YAML file layout. Defaults fill any field a scenario omits.
type document struct {
	Defaults  *trial.SimulationConfig `yaml:"defaults"`
	Scenarios []yaml.Node             `yaml:"scenarios"`
}

// LoadFile picks a loader by extension
func LoadFile(path string) ([]Scenario, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return LoadYAML(f)
	case ".xlsx", ".csv":
		return LoadTable(path)
	}
	return nil, fmt.Errorf("%w: unsupported scenario file %s", core.ErrInvalidScenario, path)
}

// LoadYAML decodes a scenario document:
//
//	defaults:
//	  sample_size_per_arm: 500
//	scenarios:
//	  - name: baseline
//	    arms_effects: [20, 35, 30]
func LoadYAML(r io.Reader) ([]Scenario, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidScenario, err)
	}

	base := trial.DefaultConfig()
	if doc.Defaults != nil {
		overlay(&base, *doc.Defaults)
	}

	scenarios := make([]Scenario, 0, len(doc.Scenarios))
	for i := range doc.Scenarios {
		// decode over a copy of the defaults so omitted keys inherit them
		sc := Scenario{Config: base.Clone()}
		if err := doc.Scenarios[i].Decode(&sc); err != nil {
			return nil, fmt.Errorf("%w: scenario %d: %v", core.ErrInvalidScenario, i+1, err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, Validate(scenarios)
}

// overlay copies the non-zero fields of src onto dst
func overlay(dst *trial.SimulationConfig, src trial.SimulationConfig) {
	if len(src.ArmsEffects) > 0 {
		dst.ArmsEffects = append([]float64(nil), src.ArmsEffects...)
	}
	if src.SampleSizePerArm != 0 {
		dst.SampleSizePerArm = src.SampleSizePerArm
	}
	if src.InterimLooks != 0 {
		dst.InterimLooks = src.InterimLooks
	}
	if src.FutilityThreshold != 0 {
		dst.FutilityThreshold = src.FutilityThreshold
	}
	if src.ConfidenceLevel != 0 {
		dst.ConfidenceLevel = src.ConfidenceLevel
	}
	if src.NumSimulations != 0 {
		dst.NumSimulations = src.NumSimulations
	}
}

// Table columns. Only name is required; the rest fall back to the defaults.
const (
	colName        = "name"
	colControl     = "control_effect"
	colTreatment1  = "treatment1_effect"
	colTreatment2  = "treatment2_effect"
	colSampleSize  = "sample_size_per_arm"
	colLooks       = "interim_looks"
	colFutility    = "futility_threshold"
	colConfidence  = "confidence_level"
	colSimulations = "num_simulations"
	colSeed        = "seed"
)

// LoadTable reads one scenario per row of an XLSX or CSV table
func LoadTable(path string) ([]Scenario, error) {
	data, err := excel.NewDataReader(path).ReadData()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidScenario, err)
	}
	if !data.HasColumn(colName) {
		return nil, fmt.Errorf("%w: missing %q column", core.ErrInvalidScenario, colName)
	}

	scenarios := make([]Scenario, 0, len(data.Rows))
	for i, row := range data.Rows {
		sc, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", core.ErrInvalidScenario, i+2, err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, Validate(scenarios)
}

func fromRow(row excel.RawRowData) (Scenario, error) {
	sc := Scenario{Name: row[colName], Config: trial.DefaultConfig()}
	cfg := &sc.Config

	floats := []struct {
		col string
		dst *float64
	}{
		{colControl, &cfg.ArmsEffects[trial.ArmControl]},
		{colTreatment1, &cfg.ArmsEffects[trial.ArmTreatment1]},
		{colTreatment2, &cfg.ArmsEffects[trial.ArmTreatment2]},
		{colFutility, &cfg.FutilityThreshold},
		{colConfidence, &cfg.ConfidenceLevel},
	}
	for _, f := range floats {
		if v := row[f.col]; v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return sc, fmt.Errorf("%s: %q is not a number", f.col, v)
			}
			*f.dst = parsed
		}
	}

	ints := []struct {
		col string
		dst *int
	}{
		{colSampleSize, &cfg.SampleSizePerArm},
		{colLooks, &cfg.InterimLooks},
		{colSimulations, &cfg.NumSimulations},
	}
	for _, f := range ints {
		if v := row[f.col]; v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return sc, fmt.Errorf("%s: %q is not an integer", f.col, v)
			}
			*f.dst = parsed
		}
	}

	if v := row[colSeed]; v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return sc, fmt.Errorf("%s: %q is not an integer", colSeed, v)
		}
		sc.Seed = &seed
	}
	return sc, nil
}

// Validate checks names are present and unique. Configs are validated when run.
func Validate(scenarios []Scenario) error {
	if len(scenarios) == 0 {
		return fmt.Errorf("%w: no scenarios defined", core.ErrInvalidScenario)
	}
	seen := make(map[string]bool, len(scenarios))
	for i, sc := range scenarios {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			return fmt.Errorf("%w: scenario %d has no name", core.ErrInvalidScenario, i+1)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate scenario name %q", core.ErrInvalidScenario, name)
		}
		seen[name] = true
	}
	return nil
}
