// In file: internal/tools/args.go
package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func argValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON field names rather than Go field names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// defaulter is implemented by argument structs that fill optional fields
// before validation.
type defaulter interface {
	applyDefaults()
}

// DecodeArgs strictly decodes raw into a T: unknown fields, type mismatches
// and trailing data are rejected, defaults are applied, and struct tags are
// enforced. Any failure is a *apperrors.ValidationError.
func DecodeArgs[T any](tool string, raw json.RawMessage) (*T, error) {
	var args T

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return nil, decodeError(tool, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &apperrors.ValidationError{Tool: tool, Reason: "unexpected data after arguments object"}
	}

	if d, ok := any(&args).(defaulter); ok {
		d.applyDefaults()
	}

	if err := argValidator().Struct(&args); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, &apperrors.ValidationError{Tool: tool, Field: fieldPath(fe), Reason: describe(fe)}
		}
		return nil, &apperrors.ValidationError{Tool: tool, Reason: err.Error()}
	}
	return &args, nil
}

func decodeError(tool string, err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		return &apperrors.ValidationError{Tool: tool, Field: typeErr.Field, Reason: fmt.Sprintf("must be of type %s", typeErr.Type)}
	case errors.As(err, &syntaxErr):
		return &apperrors.ValidationError{Tool: tool, Reason: "arguments are not valid JSON: " + syntaxErr.Error()}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return &apperrors.ValidationError{Tool: tool, Reason: "arguments are not valid JSON: unexpected end of input"}
	case errors.Is(err, io.EOF):
		return &apperrors.ValidationError{Tool: tool, Reason: "arguments are empty"}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return &apperrors.ValidationError{Tool: tool, Field: field, Reason: "is not a recognized argument"}
	default:
		return &apperrors.ValidationError{Tool: tool, Reason: err.Error()}
	}
}

// fieldPath drops the root struct name from the validator's namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "url", "http_url":
		return "must be an absolute URL"
	case "hostname_rfc1123", "alphanum", "excludesall":
		return "contains characters that are not allowed"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
