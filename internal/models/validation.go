package models

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// patchValidator checks the same binding tags gin evaluates on request bodies,
// so patches coming from other callers obey the same limits
var patchValidator = newPatchValidator()

func newPatchValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validatePatch(patch interface{}) error {
	err := patchValidator.Struct(patch)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() == "" {
			return NewValidationError("invalid %s: must satisfy %s", fe.Field(), fe.Tag())
		}
		return NewValidationError("invalid %s: must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return NewValidationError("invalid patch: %v", err)
}

// Validate checks the zone patch limits
func (p ZonePatch) Validate() error {
	return validatePatch(p)
}

// Validate checks the configuration patch limits
func (p ConfigurationPatch) Validate() error {
	return validatePatch(p)
}
