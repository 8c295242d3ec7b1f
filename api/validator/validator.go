package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator is a struct that provides methods for struct validation using the underlying validator library.
type Validator struct {
	cli *validator.Validate
}

// ValidationError represents an error encountered during validation of a struct field.
// Field is the JSON name of the field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v *Validator) formatError(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Message: err.Error()}}
	}

	errors := make([]ValidationError, 0, len(verrs))
	for _, err := range verrs {
		errors = append(errors, ValidationError{
			Field:   fieldPath(err.Namespace()),
			Message: describe(err),
		})
	}
	return errors
}

// fieldPath drops the struct name from a namespace such as
// "request.attachments[0].kind".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be at least " + err.Param()
	case "lte":
		return "must be at most " + err.Param()
	case "oneof":
		return "must be one of " + err.Param()
	}
	if err.Param() != "" {
		return fmt.Sprintf("failed the %q check (%s)", err.Tag(), err.Param())
	}
	return fmt.Sprintf("failed the %q check", err.Tag())
}

// ValidateStruct validates the provided struct using the underlying validator and returns a slice of validation errors.
func (v *Validator) ValidateStruct(s interface{}) []ValidationError {
	err := v.cli.Struct(s)
	if err != nil {
		return v.formatError(err)
	}
	return nil
}

// Validate checks the provided value against the specified validation tags and returns a slice of validation errors.
func (v *Validator) Validate(value interface{}, tag string) []ValidationError {
	err := v.cli.Var(value, tag)
	if err != nil {
		return v.formatError(err)
	}
	return nil
}

// New initializes and returns a new instance of the Validator. Fields are
// reported by their JSON names.
func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	cli.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{
		cli: cli,
	}
}
