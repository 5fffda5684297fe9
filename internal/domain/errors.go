package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUntrainedModel is returned when scoring or explanation is requested
	// before a fit has completed.
	ErrUntrainedModel = errors.New("model must be trained before use")

	// ErrIndexOutOfRange is returned when an explanation targets a row that
	// does not exist in the feature table.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrCorruptArtifact is returned when a persisted model fails integrity
	// checks on load.
	ErrCorruptArtifact = errors.New("corrupt model artifact")

	// ErrMissingColumn is returned when feature extraction cannot proceed.
	ErrMissingColumn = errors.New("missing required column")
)

// ValidationError reports a malformed or insufficient input batch. It carries
// every specific violation so the caller can correct the data in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid batch: %s", strings.Join(e.Violations, "; "))
}

// NewValidationError builds a ValidationError from the collected violations.
func NewValidationError(violations []string) *ValidationError {
	return &ValidationError{Violations: violations}
}
