package validator

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
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
	// Hourly slot label, "00:00".."23:00"
	validate.RegisterValidation("slot", func(fl validator.FieldLevel) bool {
		return timeslot.Valid(fl.Field().String())
	})

	// Booking date, YYYY-MM-DD
	validate.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s any) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	fields := make(map[string]string)
	for _, err := range verrs {
		field := err.Field()
		switch err.Tag() {
		case "required":
			fields[field] = "This field is required"
		case "min":
			fields[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			fields[field] = "Value is too long (max: " + err.Param() + ")"
		case "gte":
			fields[field] = "Value must be at least " + err.Param()
		case "lte":
			fields[field] = "Value must be at most " + err.Param()
		case "uuid", "uuid4":
			fields[field] = "Invalid identifier"
		case "slot":
			fields[field] = "Invalid time slot, expected HH:00"
		case "date":
			fields[field] = "Invalid date, expected YYYY-MM-DD"
		case "oneof":
			fields[field] = "Must be one of: " + err.Param()
		default:
			fields[field] = "Invalid value"
		}
	}

	return fields
}

// ValidateVar validates a single variable
func ValidateVar(field any, tag string) error {
	return validate.Var(field, tag)
}
