package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zentral/zentral/internal/domain"
)

// NonFieldErrors is the field name of errors about an object as a whole.
const NonFieldErrors = "non_field_errors"

// ValidationError represents a validation error for a specific field.
// Field is a dotted path, e.g. "rules.0.policy".
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", e[0].Error(), len(e)-1)
}

// Is makes ValidationErrors match domain.ErrInvalidInput.
func (e ValidationErrors) Is(target error) bool {
	return target == domain.ErrInvalidInput
}

// Add adds a validation error to the collection.
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, NewValidationError(field, value, message))
}

// Merge adds every error of other, prefixing its fields.
func (e *ValidationErrors) Merge(prefix string, other ValidationErrors) {
	for _, ve := range other {
		field := prefix
		if ve.Field != "" {
			field = prefix + "." + ve.Field
		}
		e.Add(field, ve.Value, ve.Message)
	}
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Tree renders the errors as nested objects keyed by path segment, with the
// messages of each field collected in a list:
//
//	{"rules": {"0": {"policy": ["Unknown policy"]}}}
func (e ValidationErrors) Tree() map[string]any {
	tree := make(map[string]any)
	for _, ve := range e {
		field := ve.Field
		if field == "" {
			field = NonFieldErrors
		}
		parts := strings.Split(field, ".")
		node := tree
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		messages, _ := node[leaf].([]string)
		node[leaf] = append(messages, ve.Message)
	}
	return tree
}

// FromConflict reports each conflicting declaration as a non field error of
// its rule.
func FromConflict(err *domain.ConflictError) ValidationErrors {
	var errs ValidationErrors
	for _, idx := range err.Indexes {
		errs.Add("rules."+strconv.Itoa(idx)+"."+NonFieldErrors, "", "conflict")
	}
	return errs
}

// FromUnknownConfigurations reports unknown configuration names.
func FromUnknownConfigurations(err *domain.UnknownConfigurationsError) ValidationErrors {
	var errs ValidationErrors
	for _, name := range err.Names {
		errs.Add("configurations", name, "Unknown configuration: "+name)
	}
	return errs
}
