package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("http_path", validateHTTPPath)
}

// validateHTTPPath accepts absolute route paths without query or fragment.
func validateHTTPPath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if !strings.HasPrefix(p, "/") || p == "/" {
		return false
	}
	return !strings.ContainsAny(p, "?# ")
}
