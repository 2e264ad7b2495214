package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("notblank", validateNotBlank)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// Value has at least one non space character
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
