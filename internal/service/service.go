// Package service wraps the platform tables and auth endpoints the app uses.
// Every write is sanitized and validated before it reaches the platform, and
// admin-only operations go through the shared Authorizer.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"mealgate/webclient/internal/platform"
	"mealgate/webclient/internal/sanitize"

	"github.com/go-playground/validator/v10"
)

var (
	ErrTooManyAttempts = errors.New("service: too many sign-in attempts, try again later")
	ErrInvalidRating   = errors.New("service: rating must be between 1 and 5")
	ErrNotFound        = errors.New("service: not found")
)

// Authorizer is the part of authz.Authorizer the services use.
type Authorizer interface {
	CurrentUser(ctx context.Context) (*platform.User, error)
	RequireUser(ctx context.Context) (*platform.User, error)
	RequireAdmin(ctx context.Context) (*platform.User, error)
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names so errors match the form fields
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}()

// checkStruct runs the validate tags of v and reports the first failure as a
// *sanitize.ValidationError.
func checkStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &sanitize.ValidationError{Field: jsonField(fe), Reason: reasonFor(fe)}
}

// jsonField drops the struct name and the index of dive errors:
// "SubscriptionInput.meal_types[1]" becomes "meal_types".
func jsonField(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	if i := strings.IndexByte(ns, '['); i >= 0 {
		ns = ns[:i]
	}
	return ns
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return sanitize.ReasonEmpty
	case "min":
		if fe.Kind() == reflect.Slice {
			return "choose at least " + fe.Param()
		}
		return sanitize.ReasonTooShort
	case "gt", "gte":
		return "must be greater than " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "url", "http_url":
		return "invalid url"
	}
	return "invalid " + fe.Tag()
}

// field validates one value and names the field on failure.
func field(name string, v any, kind sanitize.Kind) (string, error) {
	s, err := sanitize.Validate(v, kind)
	if err != nil {
		var ve *sanitize.ValidationError
		if errors.As(err, &ve) {
			ve.Field = name
		}
		return "", err
	}
	return s, nil
}

// RowID is a table primary key. Tables use either bigint or uuid keys, so it
// decodes from a JSON number or string and encodes back the same way.
type RowID string

func (id RowID) String() string { return string(id) }

func (id RowID) numeric() bool {
	_, err := strconv.ParseInt(string(id), 10, 64)
	return err == nil
}

func (id RowID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *RowID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RowID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("row id: %w", err)
	}
	*id = RowID(n.String())
	return nil
}

// ParseRowID checks an id taken from a path.
func ParseRowID(s string) (RowID, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, ",()") {
		return "", &sanitize.ValidationError{Field: "id", Reason: "invalid id"}
	}
	return RowID(s), nil
}

// first returns the first row of a representation response.
func first[T any](r platform.Result[json.RawMessage]) (T, error) {
	rows, err := platform.Decode[[]T](r).Unwrap()
	var zero T
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, ErrNotFound
	}
	return rows[0], nil
}
