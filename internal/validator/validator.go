// Package validator wraps go-playground/validator with the custom rules used
// by request models.
package validator

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	instance *validator.Validate
	once     sync.Once
)

// Get returns the shared validator with custom rules registered.
func Get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		_ = instance.RegisterValidation("nonblank", validateNonBlank)
	})
	return instance
}

// Struct validates s against its `validate` tags.
func Struct(s any) error {
	return Get().Struct(s)
}

// Describe flattens validation errors to "field: rule" pairs for client display.
func Describe(err error) map[string]string {
	details := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[jsonName(fe.Field())] = fe.Tag()
		}
	}
	return details
}

func validateNonBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
