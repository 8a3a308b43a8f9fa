package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"mealgate/webclient/internal/authz"
	"mealgate/webclient/internal/httputil"
	"mealgate/webclient/internal/platform"
	"mealgate/webclient/internal/sanitize"
	"mealgate/webclient/internal/service"
)

// statusFor maps a service error to the response status.
func statusFor(err error) int {
	var ve *sanitize.ValidationError
	var pe *platform.Error
	var ue *url.Error
	switch {
	case errors.As(err, &ve), errors.Is(err, service.ErrInvalidRating):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, platform.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &pe):
		// the platform refused the input itself, e.g. bad credentials or a duplicate email
		if pe.Status >= 400 && pe.Status < 500 {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case errors.As(err, &ue), errors.Is(err, context.DeadlineExceeded), errors.Is(err, platform.ErrResponseTooLarge):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// failure is the FormResult shape of err.
func failure(err error) sanitize.FormResult[any] {
	res := sanitize.FormResult[any]{Error: message(err)}
	var ve *sanitize.ValidationError
	switch {
	case errors.As(err, &ve):
		res.Field = ve.Field
		res.Error = ve.Reason
	case errors.Is(err, service.ErrInvalidRating):
		res.Field = "rating"
	}
	return res
}

// message is what the client sees. Platform errors carry their own message
// and hint; unexpected errors are not echoed.
func message(err error) string {
	var pe *platform.Error
	switch statusFor(err) {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusUnauthorized:
		return "sign in required"
	case http.StatusForbidden:
		return "administrator access required"
	}
	if errors.As(err, &pe) {
		if pe.Hint != "" {
			return pe.Message + " (" + pe.Hint + ")"
		}
		return pe.Message
	}
	if errors.Is(err, service.ErrInvalidRating) {
		return "Rating must be between 1 and 5"
	}
	return err.Error()
}

// respond writes v as a successful FormResult, or err in the same shape.
func respond[T any](w http.ResponseWriter, r *http.Request, status int, v T, err error) {
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	httputil.WriteJSON(w, status, sanitize.FormResult[T]{OK: true, Data: v})
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ev := httputil.GetLogger(r.Context()).Info()
	if status >= http.StatusInternalServerError {
		ev = httputil.GetLogger(r.Context()).Error()
	}
	ev.Err(err).Int("status", status).Msg("request failed")
	httputil.WriteJSON(w, status, failure(err))
}

// writeForm writes the result of sanitize.ValidateForm.
func writeForm[T any](w http.ResponseWriter, r *http.Request, status int, res sanitize.FormResult[T]) {
	if !res.OK {
		writeFailure(w, r, res.Err())
		return
	}
	httputil.WriteJSON(w, status, res)
}

// decode reads a JSON body, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httputil.DecodeJSON(r, maxJSONBytes, v); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httputil.WriteJSON(w, status, sanitize.FormResult[any]{Error: "malformed request body"})
		return false
	}
	return true
}
