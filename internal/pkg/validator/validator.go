package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Upscale mode validation
	validate.RegisterValidation("upscale_mode", func(fl validator.FieldLevel) bool {
		mode := fl.Field().String()
		validModes := []string{"standard", "photo", "art"}
		for _, m := range validModes {
			if mode == m {
				return true
			}
		}
		return false
	})

	// Scale factor validation
	validate.RegisterValidation("scale_factor", func(fl validator.FieldLevel) bool {
		scale := fl.Field().Int()
		return scale == 2 || scale == 4 || scale == 8
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "url":
			errors[field] = "Must be a valid URL"
		case "email":
			errors[field] = "Must be a valid email address"
		case "upscale_mode":
			errors[field] = "Must be one of: standard, photo, art"
		case "scale_factor":
			errors[field] = "Must be one of: 2, 4, 8"
		case "max":
			errors[field] = "Value is too large"
		case "min":
			errors[field] = "Value is too small"
		case "oneof":
			errors[field] = "Invalid value"
		default:
			errors[field] = "Invalid value"
		}
	}
	return errors
}
