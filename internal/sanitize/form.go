package sanitize

import (
	"context"
	"errors"
	"slices"

	"mealgate/webclient/internal/httputil"
)

// Schema maps field names to kinds. Fields it does not name validate as Text.
type Schema map[string]Kind

// SubmitFunc receives the sanitized fields once every field has passed.
type SubmitFunc[T any] func(ctx context.Context, data map[string]string) (T, error)

// FormResult is the outcome of ValidateForm. Field is set when a field failed
// validation; Error carries the reason or the submit error's message.
type FormResult[T any] struct {
	OK    bool   `json:"success"`
	Data  T      `json:"data,omitempty"`
	Field string `json:"field,omitempty"`
	Error string `json:"error,omitempty"`

	err error
}

// Err returns the underlying error of a failed result, or nil.
func (r FormResult[T]) Err() error { return r.err }

// ValidateForm validates fields in sorted key order and stops at the first
// failure. Keys named by schema but missing from fields validate as nil, so a
// required field cannot be skipped by leaving it out. submit runs only when
// every field passes. Validation and submit errors are folded into the result.
func ValidateForm[T any](ctx context.Context, fields map[string]any, schema Schema, submit SubmitFunc[T]) FormResult[T] {
	keys := make([]string, 0, len(fields)+len(schema))
	for k := range fields {
		keys = append(keys, k)
	}
	for k := range schema {
		if _, ok := fields[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	data := make(map[string]string, len(keys))
	for _, k := range keys {
		kind, ok := schema[k]
		if !ok {
			kind = Text
		}
		v, err := Validate(fields[k], kind)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Field = k
			}
			httputil.GetLogger(ctx).Debug().Str("field", k).Str("kind", string(kind)).Err(err).Msg("form field rejected")
			return FormResult[T]{Field: k, Error: err.Error(), err: err}
		}
		data[k] = v
	}

	out, err := submit(ctx, data)
	if err != nil {
		return FormResult[T]{Error: err.Error(), err: err}
	}
	return FormResult[T]{OK: true, Data: out}
}
