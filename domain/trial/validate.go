package trial

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"trialsim/domain/core"

	"github.com/go-playground/validator/v10"
)

// Range is an inclusive numeric bound
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// FieldRanges documents the allowed range of every config field, keyed by JSON name
var FieldRanges = map[string]Range{
	"arms_effects":        {Min: 0, Max: MaxEffectPercent},
	"sample_size_per_arm": {Min: MinSampleSizePerArm, Max: MaxSampleSizePerArm},
	"interim_looks":       {Min: 1, Max: 5},
	"futility_threshold":  {Min: 0, Max: 0.5},
	"confidence_level":    {Min: 80, Max: 99},
	"num_simulations":     {Min: 100, Max: 2000},
}

// ValidationError names the first config field that is out of range
type ValidationError struct {
	Field string      `json:"field"`
	Range Range       `json:"range"`
	Value interface{} `json:"value,omitempty"`
	Rule  string      `json:"rule"`
}

func (e *ValidationError) Error() string {
	if e.Rule == "len" {
		return fmt.Sprintf("%s must contain exactly %d values", e.Field, NumArms)
	}
	return fmt.Sprintf("%s must be between %s and %s (got %v)",
		e.Field, formatBound(e.Range.Min), formatBound(e.Range.Max), e.Value)
}

// Unwrap lets callers match with errors.Is(err, core.ErrInvalidConfig)
func (e *ValidationError) Unwrap() error {
	return core.ErrInvalidConfig
}

var (
	configValidate     *validator.Validate
	configValidateOnce sync.Once
)

func configValidator() *validator.Validate {
	configValidateOnce.Do(func() {
		configValidate = validator.New(validator.WithRequiredStructEnabled())
		configValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return configValidate
}

// Validate checks every bound of the config and reports the first violation
// in field declaration order. It never mutates its input.
func Validate(cfg SimulationConfig) error {
	err := configValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
	}
	return toValidationError(fieldErrs[0])
}

func toValidationError(fe validator.FieldError) *ValidationError {
	field := fe.Field()
	base := field
	if idx := strings.Index(base, "["); idx >= 0 {
		base = base[:idx]
	}

	return &ValidationError{
		Field: field,
		Range: FieldRanges[base],
		Value: fe.Value(),
		Rule:  fe.Tag(),
	}
}

func formatBound(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
