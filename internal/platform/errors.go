package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrNoSession        = errors.New("platform: no active session")
	ErrNoFilter         = errors.New("platform: update and delete require a filter")
	ErrResponseTooLarge = errors.New("platform: response too large")
	errNilFailure       = errors.New("platform: failed without an error")
)

// PostgREST codes with a hint attached.
const (
	CodeUndefinedColumn = "42703"
	CodeForeignKey      = "23503"
	CodeUndefinedTable  = "42P01"
	CodeNoRows          = "PGRST116"
)

var codeHints = map[string]string{
	CodeUndefinedColumn: "a column referenced by the request does not exist; check the table schema",
	CodeForeignKey:      "the row references a record that does not exist, or is still referenced by another row",
	CodeUndefinedTable:  "the table does not exist; run the schema migrations",
	CodeNoRows:          "no row matched the filter",
}

// Error is a failure reported by the platform.
type Error struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("platform: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(http.StatusText(e.Status))
	}
	if e.Code != "" {
		b.WriteString(" (code ")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.Hint != "" {
		b.WriteString(": ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// IsCode reports whether err is a platform error carrying code.
func IsCode(err error, code string) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == code
}

// wireError covers both the PostgREST and the GoTrue error shapes.
type wireError struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Details          *string         `json:"details"`
	Hint             *string         `json:"hint"`
}

func parseError(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &Error{Status: resp.StatusCode}

	var w wireError
	if err := json.Unmarshal(body, &w); err != nil {
		e.Message = strings.TrimSpace(string(body))
		return e
	}

	e.Code = rawCode(w.Code)
	if w.ErrorCode != "" {
		e.Code = w.ErrorCode
	}
	for _, m := range []string{w.Message, w.Msg, w.ErrorDescription, w.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if w.Details != nil {
		e.Details = *w.Details
	}
	if w.Hint != nil {
		e.Hint = *w.Hint
	}
	if h, ok := codeHints[e.Code]; ok && e.Hint == "" {
		e.Hint = h
	}
	return e
}

// rawCode keeps string codes such as "42703". GoTrue's numeric code only
// repeats the HTTP status, so it is dropped.
func rawCode(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func wrap(op string, err error) error { return fmt.Errorf("%s: %w", op, err) }
