// Package validation checks run configuration before a pipeline starts.
// Per-field shape lives in struct tags handled by go-playground/validator;
// the fluent ConfigValidator covers the cross-field rules tags cannot
// express, collecting every violation instead of stopping at the first.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

// reHexID matches device id literals as they appear in dumps, "0xd2f4"
var reHexID = regexp.MustCompile(`^0[xX][0-9a-fA-F]{1,8}$`)

func init() {
	validate = validator.New()
	mustRegister("hexid", func(fl validator.FieldLevel) bool {
		return reHexID.MatchString(fl.Field().String())
	})
	mustRegister("glob", func(fl validator.FieldLevel) bool {
		_, err := filepath.Match(fl.Field().String(), "probe")
		return err == nil
	})
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic("validation: register " + tag + ": " + err.Error())
	}
}

// Struct validates v against its struct tags. Tag violations come back
// as one readable error naming the offending field.
func Struct(v any) error {
	if v == nil {
		return errors.New("config cannot be nil")
	}
	return formatValidationError(validate.Struct(v))
}

// formatValidationError rewrites validator errors into field-first
// messages operators can act on
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	for _, e := range validationErrs {
		field := e.Namespace()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min", "gte":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max", "lte":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of %s", field, param)
		case "hexid":
			return fmt.Errorf("%s: %q is not a 0x-prefixed device id", field, e.Value())
		case "glob":
			return fmt.Errorf("%s: %q is not a valid glob pattern", field, e.Value())
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}
