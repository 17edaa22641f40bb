package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldProblem describes one invalid field.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when a record fails its field rules. It is
// raised before any storage or network work happens.
type ValidationError struct {
	Problems []FieldProblem `json:"problems"`
}

// Error implements error.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s %s", p.Field, p.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Field returns the problem recorded for the named field, if any.
func (e *ValidationError) Field(name string) (FieldProblem, bool) {
	for _, p := range e.Problems {
		if p.Field == name {
			return p, true
		}
	}
	return FieldProblem{}, false
}

// NewValidationError builds a ValidationError with a single problem.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Problems: []FieldProblem{{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}}}
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate: %w", err)
	}
	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		verr.Problems = append(verr.Problems, FieldProblem{
			Field:   fe.Field(),
			Message: describe(fe),
		})
	}
	return verr
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "alpha":
		return "must contain letters only"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
