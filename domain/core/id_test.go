package core

import (
	"errors"
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

// TestIDIsEmpty tests ID emptiness check
func TestIDIsEmpty(t *testing.T) {
	emptyID := ID("")
	if !emptyID.IsEmpty() {
		t.Error("Expected empty ID to be empty")
	}

	nonEmptyID := ID("not-empty")
	if nonEmptyID.IsEmpty() {
		t.Error("Expected non-empty ID to not be empty")
	}
}

// TestParseRunID tests run ID parsing
func TestParseRunID(t *testing.T) {
	tests := []struct {
		input    string
		expected RunID
		hasError bool
	}{
		{"run-123", RunID("run-123"), false},
		{"", "", true},
		{"   ", "", true},
	}

	for _, test := range tests {
		result, err := ParseRunID(test.input)
		if test.hasError && err == nil {
			t.Errorf("Expected error for input '%s', but got none", test.input)
		}
		if !test.hasError && err != nil {
			t.Errorf("Unexpected error for input '%s': %v", test.input, err)
		}
		if result != test.expected {
			t.Errorf("Expected %s, got %s", test.expected, result)
		}
	}
}

// TestComputeFingerprint_OrderIndependent checks that map ordering never leaks into the hash
func TestComputeFingerprint_OrderIndependent(t *testing.T) {
	a := ComputeFingerprint(map[string]interface{}{"seed": 42, "looks": 3, "n": 500})
	b := ComputeFingerprint(map[string]interface{}{"n": 500, "seed": 42, "looks": 3})
	if !a.Equals(b) {
		t.Errorf("Fingerprints differ: %s vs %s", a, b)
	}

	c := ComputeFingerprint(map[string]interface{}{"seed": 43, "looks": 3, "n": 500})
	if a.Equals(c) {
		t.Error("Expected different seed to change fingerprint")
	}
	if len(a.Short()) != 12 {
		t.Errorf("Expected 12-char short hash, got %q", a.Short())
	}
}

// TestErrorHelpers tests sentinel wrapping
func TestErrorHelpers(t *testing.T) {
	err := NewComputationError(2, errors.New("boom"))
	if !IsComputationError(err) {
		t.Error("Expected computation error to be detected")
	}
	if !IsNotFoundError(ErrRunNotFound) {
		t.Error("Expected ErrRunNotFound to be a not-found error")
	}
	if IsNotFoundError(ErrZeroSampleSize) {
		t.Error("Zero sample size must not be a not-found error")
	}
}
