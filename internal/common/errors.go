// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Input errors returned as structured failures by the primary triggers.
	ErrMissingTenant  = errors.New("tenant not found")
	ErrMissingPeriod  = errors.New("period not found")
	ErrMissingRuleSet = errors.New("rule set not found")
	ErrMissingBatch   = errors.New("calculation batch not found")
	ErrMissingDispute = errors.New("dispute not found")
	ErrMissingEntity  = errors.New("entity not found")
	ErrNoRawData      = errors.New("no raw data for period")
	ErrNoBenchmarks   = errors.New("no benchmark records")
	ErrNoPopulation   = errors.New("rule set has no eligible entities")
	ErrInvalidPlan    = errors.New("invalid plan")
	ErrInvalidImport  = errors.New("invalid import file")

	// AI collaborator errors.
	ErrAIUnavailable = errors.New("ai service unavailable")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsInputError reports whether err is one of the input errors that the
// primary triggers turn into a structured {success:false} payload.
func IsInputError(err error) bool {
	return errors.Is(err, ErrMissingTenant) ||
		errors.Is(err, ErrMissingPeriod) ||
		errors.Is(err, ErrMissingRuleSet) ||
		errors.Is(err, ErrMissingBatch) ||
		errors.Is(err, ErrMissingDispute) ||
		errors.Is(err, ErrMissingEntity) ||
		errors.Is(err, ErrNoRawData) ||
		errors.Is(err, ErrNoBenchmarks) ||
		errors.Is(err, ErrNoPopulation) ||
		errors.Is(err, ErrInvalidPlan) ||
		errors.Is(err, ErrInvalidImport)
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrAIUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
