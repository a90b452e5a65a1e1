package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"trialsim/domain/core"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsCode(t *testing.T) {
	base := ValidationError("sample_size_per_arm must be between 50 and 10000")
	wrapped := Wrap(base, "simulate")

	assert.Equal(t, CodeValidationError, GetCode(wrapped))
	assert.Equal(t, "simulate: sample_size_per_arm must be between 50 and 10000", wrapped.Error())
	assert.Nil(t, Wrap(nil, "noop"))
}

func TestGetCode_FindsWrappedAppError(t *testing.T) {
	err := fmt.Errorf("job 7: %w", PersistenceError("save run", fmt.Errorf("connection refused")))
	assert.Equal(t, CodePersistenceError, GetCode(err))
	assert.Equal(t, "UNKNOWN", GetCode(fmt.Errorf("plain")))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"validation", fmt.Errorf("bad: %w", core.ErrInvalidConfig), CodeValidationError, http.StatusBadRequest},
		{"computation", core.NewComputationError(2, core.ErrZeroSampleSize), CodeComputationError, http.StatusInternalServerError},
		{"cancelled", fmt.Errorf("stopped: %w", context.Canceled), CodeCancelled, http.StatusConflict},
		{"not found", core.NewNotFoundError("run", "abc"), CodeNotFound, http.StatusNotFound},
		{"queue full", core.ErrJobQueueFull, CodeUnavailable, http.StatusServiceUnavailable},
		{"replay differs", fmt.Errorf("run abc: %w", core.ErrNonDeterministic), CodeReplayMismatch, http.StatusConflict},
		{"fingerprint differs", fmt.Errorf("run abc: %w", core.ErrHashMismatch), CodeReplayMismatch, http.StatusConflict},
		{"other", fmt.Errorf("boom"), CodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err)
			assert.Equal(t, tt.code, GetCode(classified))
			assert.Equal(t, tt.status, HTTPStatus(GetCode(classified)))
			assert.ErrorIs(t, classified, tt.err)
		})
	}

	assert.Nil(t, Classify(nil))
	export := ExportError("xlsx", fmt.Errorf("disk full"))
	assert.Same(t, export, Classify(export))
}

func TestClassify_ComputationErrorKeepsCause(t *testing.T) {
	cause := core.NewComputationError(3, core.ErrZeroSampleSize)
	classified := Classify(fmt.Errorf("primary run 4: %w", cause))

	assert.Equal(t, CodeComputationError, GetCode(classified))
	assert.ErrorIs(t, classified, core.ErrZeroSampleSize)
	assert.Contains(t, classified.Error(), "simulation failed: primary run 4")
}

func TestWithCode_KeepsMessage(t *testing.T) {
	err := WithCode(CodeNotFound, fmt.Errorf("run abc not found"))
	assert.Equal(t, "run abc not found", err.Error())
}
