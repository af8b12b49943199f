// Package validation wraps go-playground/validator so that failures name
// fields by their JSON path and surface as domain validation errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"clinicdesk/m/domain"
)

// New returns a validator that reports fields by their json tag names.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Error converts the first failure reported by a validator into a
// domain.ErrValidation carrying a caller-facing message. Other errors are
// wrapped as they are.
func Error(err error) error {
	fe, ok := First(err)
	if !ok {
		return domain.Invalid("%v", err)
	}
	return domain.Invalid("%s", Message(fe))
}

// First returns the first field failure in err, if any.
func First(err error) (validator.FieldError, bool) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return nil, false
	}
	return verrs[0], true
}

// Message describes fe as "<path> must ...", e.g.
// "lines[1].quantity must be greater than zero".
func Message(fe validator.FieldError) string {
	field := Path(fe.Namespace())
	text := fe.Kind() == reflect.String
	param := fe.Param()

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		switch {
		case text:
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		case fe.Kind() == reflect.Slice:
			return fmt.Sprintf("%s must have at least %s entries", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max", "lte":
		if text {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "gt":
		if param == "0" {
			return field + " must be greater than zero"
		}
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "gte":
		if param == "0" {
			return field + " must not be negative"
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	}
	return field + " is invalid"
}

// Path drops the root struct name from a validator namespace:
// "IssueInput.lines[1].dosage" becomes "lines[1].dosage".
func Path(namespace string) string {
	if _, rest, found := strings.Cut(namespace, "."); found {
		return rest
	}
	return namespace
}
