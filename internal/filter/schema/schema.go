// Package schema performs the structural validation of prompt request bodies.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/af-corp/prompt-gateway/internal/httputil"
	"github.com/af-corp/prompt-gateway/internal/types"
)

// DefaultMaxPromptLength is used when no limit is configured.
const DefaultMaxPromptLength = 4096

// ValidationError carries one detail per violated rule.
type ValidationError struct {
	Details []httputil.FieldDetail
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Details))
	for i, d := range e.Details {
		msgs[i] = d.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// Validator checks request bodies against the prompt schema.
type Validator struct {
	validate  *validator.Validate
	maxLength func() int
	allowed   map[string]bool
}

// New creates a Validator. maxLength is read on every call so the limit
// follows configuration reloads; nil or non-positive values fall back to
// DefaultMaxPromptLength.
func New(maxLength func() int) *Validator {
	v := &Validator{
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		maxLength: maxLength,
		allowed:   jsonKeys(reflect.TypeOf(types.PromptRequest{})),
	}
	v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.validate.RegisterValidation("maxrunes", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) <= v.limit()
	})
	return v
}

func (v *Validator) limit() int {
	if v.maxLength == nil {
		return DefaultMaxPromptLength
	}
	if n := v.maxLength(); n > 0 {
		return n
	}
	return DefaultMaxPromptLength
}

// Validate decodes raw and returns the trimmed prompt, or a *ValidationError
// listing every violation in a deterministic order.
func (v *Validator) Validate(raw []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return "", &ValidationError{Details: []httputil.FieldDetail{bodyDetail(raw, err)}}
	}

	var details []httputil.FieldDetail
	for key := range fields {
		if !v.allowed[key] {
			details = append(details, httputil.FieldDetail{
				Field:   key,
				Message: fmt.Sprintf("%q is not allowed", key),
			})
		}
	}

	var body types.PromptRequest
	rawPrompt, present := fields["prompt"]
	switch {
	case !present || bytes.Equal(bytes.TrimSpace(rawPrompt), []byte("null")):
		details = append(details, httputil.FieldDetail{Field: "prompt", Message: `"prompt" is required`})
	case json.Unmarshal(rawPrompt, &body.Prompt) != nil:
		details = append(details, httputil.FieldDetail{Field: "prompt", Message: `"prompt" must be a string`})
	default:
		body.Prompt = strings.TrimSpace(body.Prompt)
		details = append(details, v.structDetails(body)...)
	}

	if len(details) > 0 {
		sortDetails(details)
		return "", &ValidationError{Details: details}
	}
	return body.Prompt, nil
}

func (v *Validator) structDetails(body types.PromptRequest) []httputil.FieldDetail {
	err := v.validate.Struct(body)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []httputil.FieldDetail{{Field: "body", Message: err.Error()}}
	}

	details := make([]httputil.FieldDetail, 0, len(verrs))
	for _, fe := range verrs {
		path := fieldPath(fe.Namespace())
		details = append(details, httputil.FieldDetail{
			Field:   path,
			Message: v.message(path, fe.Tag()),
		})
	}
	return details
}

func (v *Validator) message(path, tag string) string {
	switch tag {
	case "required":
		return fmt.Sprintf("%q is not allowed to be empty", path)
	case "maxrunes":
		return fmt.Sprintf("%q length must be less than or equal to %d characters long", path, v.limit())
	default:
		return fmt.Sprintf("%q failed on the %s rule", path, tag)
	}
}

func bodyDetail(raw []byte, err error) httputil.FieldDetail {
	if err == nil || len(bytes.TrimSpace(raw)) == 0 {
		return httputil.FieldDetail{Field: "body", Message: `"value" must be of type object`}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return httputil.FieldDetail{Field: "body", Message: `"value" must be of type object`}
	}
	return httputil.FieldDetail{Field: "body", Message: `"body" must be valid JSON`}
}

// fieldPath drops the root struct name from a validator namespace, leaving
// the dot-joined json path.
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}

func sortDetails(details []httputil.FieldDetail) {
	sort.Slice(details, func(i, j int) bool {
		if details[i].Field != details[j].Field {
			return details[i].Field < details[j].Field
		}
		return details[i].Message < details[j].Message
	})
}

func jsonKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}
