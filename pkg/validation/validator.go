// Package validation wraps go-playground/validator with a shared instance
// and error messages suitable for API responses.
//
// Field names in messages follow the json (or koanf) tag of the field so that
// clients see the names they sent:
//
//	type delivery struct {
//	    ObjectID int64 `json:"object_id" validate:"required,gt=0"`
//	}
//	if err := validation.ValidateStruct(&d); err != nil {
//	    apiErr := err.ToAPIError()
//	    ...
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError describes one field that failed validation.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Value   any
	Message string
}

func (e FieldError) Error() string { return e.Message }

// RequestValidationError collects every failed field of one struct.
type RequestValidationError struct {
	fields []FieldError
}

// Fields returns the individual failures.
func (ve *RequestValidationError) Fields() []FieldError {
	return ve.fields
}

func (ve *RequestValidationError) Error() string {
	if len(ve.fields) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(ve.fields))
	for _, f := range ve.fields {
		messages = append(messages, f.Message)
	}
	return strings.Join(messages, "; ")
}

// APIError is the response-ready form of a validation failure.
type APIError struct {
	Code    string
	Message string
	Fields  []string
}

// ToAPIError converts the failure into a bad_request payload.
func (ve *RequestValidationError) ToAPIError() *APIError {
	out := &APIError{Code: "bad_request", Message: ve.Error()}
	for _, f := range ve.fields {
		out.Fields = append(out.Fields, f.Field)
	}
	return out
}

// GetValidator returns the shared validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(tagName)
	})
	return validate
}

// tagName reports the wire name of a struct field.
func tagName(fld reflect.StructField) string {
	for _, key := range []string{"json", "koanf"} {
		name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

// ValidateStruct validates s and returns nil or a *RequestValidationError.
func ValidateStruct(s any) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestValidationError{fields: []FieldError{{
			Field:   "unknown",
			Tag:     "unknown",
			Message: err.Error(),
		}}}
	}

	fields := make([]FieldError, len(validationErrs))
	for i, fe := range validationErrs {
		fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Value:   fe.Value(),
			Message: translateError(fe),
		}
	}
	return &RequestValidationError{fields: fields}
}

var messageTemplates = map[string]string{
	"required":      "%s is required",
	"email":         "%s must be a valid email address",
	"url":           "%s must be a valid URL",
	"hostname_port": "%s must be a host:port address",
}

var paramTemplates = map[string]string{
	"oneof":         "%s must be one of: %s",
	"gte":           "%s must be greater than or equal to %s",
	"lte":           "%s must be less than or equal to %s",
	"gt":            "%s must be greater than %s",
	"lt":            "%s must be less than %s",
	"required_if":   "%s is required when %s",
	"required_with": "%s is required together with %s",
}

func translateError(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()

	if t, ok := messageTemplates[tag]; ok {
		return fmt.Sprintf(t, field)
	}
	if t, ok := paramTemplates[tag]; ok {
		return fmt.Sprintf(t, field, param)
	}

	isString := fe.Kind() == reflect.String
	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
