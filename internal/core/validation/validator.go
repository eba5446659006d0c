// Package validation wraps go-playground/validator and converts its errors
// into apperror values with per-field details.
package validation

import (
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"

	"orseries/internal/core/apperror"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Get returns the shared validator instance.
func Get() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Struct validates v and returns a VALIDATION_ERROR listing every failed field.
func Struct(v any) error {
	err := Get().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperror.NewValidation("invalid input").WithCause(err)
	}

	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	return apperror.NewValidation("validation failed").WithDetail("fields", fields)
}
