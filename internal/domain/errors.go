package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common errors used throughout the application.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrConflict          = errors.New("conflict")
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrBootstrapDisabled = errors.New("bootstrap key disabled - API keys exist")
)

// ConflictError is returned when declared rules contradict each other or the
// rules already bound in a configuration. Indexes are the 0-based positions of
// the offending declarations in the submitted rule list.
type ConflictError struct {
	Indexes []int
}

// NewConflictError returns a ConflictError with deduplicated, sorted indexes.
func NewConflictError(indexes ...int) *ConflictError {
	seen := make(map[int]struct{}, len(indexes))
	out := make([]int, 0, len(indexes))
	for _, i := range indexes {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sort.Ints(out)
	return &ConflictError{Indexes: out}
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Indexes))
	for i, idx := range e.Indexes {
		parts[i] = fmt.Sprint(idx)
	}
	return fmt.Sprintf("conflicting rules at index %s", strings.Join(parts, ", "))
}

// Unwrap makes errors.Is(err, ErrConflict) hold.
func (e *ConflictError) Unwrap() error { return ErrConflict }

// UnknownConfigurationsError lists configuration names that could not be resolved.
type UnknownConfigurationsError struct {
	Names []string
}

func (e *UnknownConfigurationsError) Error() string {
	return fmt.Sprintf("unknown configurations: %s", strings.Join(e.Names, ", "))
}

func (e *UnknownConfigurationsError) Unwrap() error { return ErrNotFound }

// APIError represents an error response from the API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}
