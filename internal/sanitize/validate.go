package sanitize

import (
	"fmt"
	"reflect"
	"regexp"
	"time"
	"unicode/utf8"

	"mealgate/webclient/internal/metrics"

	"github.com/dlclark/regexp2"
)

// Kind is the declared meaning of a field. Unknown kinds validate as Text.
type Kind string

const (
	Text     Kind = "text"
	Email    Kind = "email"
	Password Kind = "password"
	Phone    Kind = "phone"
	Name     Kind = "name"
	Optional Kind = "optional"
)

// Reasons carried by ValidationError.
const (
	ReasonEmpty        = "empty input"
	ReasonWeakPassword = "weak password"
	ReasonEmail        = "invalid email"
	ReasonPhone        = "invalid phone"
	ReasonTooShort     = "too short"
	ReasonInvalid      = "invalid input"
)

const minNameLen = 2

// ValidationError is a user-correctable input defect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

var (
	emailRe     = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRe     = regexp.MustCompile(`^[0-9]{10,15}$`)
	nameCharsRe = regexp.MustCompile(`[^a-zA-Z0-9 .'_-]`)

	// RE2 has no lookahead, so the strength rule runs on regexp2. ECMAScript
	// mode keeps \d to ASCII digits.
	passwordRe = func() *regexp2.Regexp {
		re := regexp2.MustCompile(`^(?=.*[a-z])(?=.*[A-Z])(?=.*\d)(?=.*[@$!%*?&])[A-Za-z\d@$!%*?&]{8,}$`, regexp2.ECMAScript)
		re.MatchTimeout = 100 * time.Millisecond
		return re
	}()
)

// Validate sanitizes input according to kind and checks its syntax.
// Passwords are never altered: they are checked and returned as given.
func Validate(input any, kind Kind) (string, error) {
	s, ok := stringify(input)
	if !ok {
		if kind == Optional {
			return "", nil
		}
		return "", reject(kind, ReasonEmpty)
	}

	if kind == Password {
		match, err := passwordRe.MatchString(s)
		if err != nil || !match {
			return "", reject(kind, ReasonWeakPassword)
		}
		return s, nil
	}

	s, ok = strip(s)
	if !ok {
		return "", reject(kind, ReasonInvalid)
	}
	switch kind {
	case Email:
		if !emailRe.MatchString(s) {
			return "", reject(kind, ReasonEmail)
		}
	case Phone:
		if !phoneRe.MatchString(s) {
			return "", reject(kind, ReasonPhone)
		}
	case Name:
		// length is checked before the charset filter, so "日本" passes as ""
		if utf8.RuneCountInString(s) < minNameLen {
			return "", reject(kind, ReasonTooShort)
		}
		s = nameCharsRe.ReplaceAllString(s, "")
	}
	return s, nil
}

func reject(kind Kind, reason string) *ValidationError {
	metrics.ValidationFailures.WithLabelValues(string(kind)).Inc()
	return &ValidationError{Reason: reason}
}

// stringify reports false for nil and typed nil pointers.
func stringify(input any) (string, bool) {
	switch v := input.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case *string:
		if v == nil {
			return "", false
		}
		return *v, true
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "", false
		}
		return v.String(), true
	}
	if rv := reflect.ValueOf(input); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		return fmt.Sprint(rv.Elem().Interface()), true
	}
	return fmt.Sprint(input), true
}
