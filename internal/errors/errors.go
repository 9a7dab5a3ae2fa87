// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicatePosition   = errors.New("position already open")
	ErrNoPosition          = errors.New("no open position")
	ErrUnknownSignal       = errors.New("unknown signal")
	ErrInvertedRiskLevels  = errors.New("inverted risk levels")
	ErrLeverageOutOfBounds = errors.New("leverage out of bounds")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrDataNotFound        = errors.New("data not found")
	ErrPersistenceFailed   = errors.New("persistence failed")
)

// ValidationError represents a decision validation failure.
type ValidationError struct {
	Asset   string
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error [%s] %s (%v): %s", e.Asset, e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(asset, field string, value interface{}, message string, err error) *ValidationError {
	return &ValidationError{
		Asset:   asset,
		Field:   field,
		Value:   value,
		Message: message,
		Err:     err,
	}
}

// PositionError represents a portfolio operation failure for one asset.
type PositionError struct {
	Asset  string
	Action string
	Reason string
	Err    error
}

func (e *PositionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("position error [%s] %s: %s: %v", e.Asset, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("position error [%s] %s: %s", e.Asset, e.Action, e.Reason)
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

// NewPositionError creates a new PositionError.
func NewPositionError(asset, action, reason string, err error) *PositionError {
	return &PositionError{
		Asset:  asset,
		Action: action,
		Reason: reason,
		Err:    err,
	}
}

// CollaboratorError represents a failure from an external collaborator
// (market data provider or LLM).
type CollaboratorError struct {
	Collaborator string
	Asset        string
	Operation    string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator error [%s] %s %s: %v", e.Collaborator, e.Operation, e.Asset, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// NewCollaboratorError creates a new CollaboratorError.
func NewCollaboratorError(collaborator, asset, operation string, err error) *CollaboratorError {
	return &CollaboratorError{
		Collaborator: collaborator,
		Asset:        asset,
		Operation:    operation,
		Err:          err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
