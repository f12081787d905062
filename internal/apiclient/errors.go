package apiclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stemsi/exstem-taker/internal/response"
)

// Kind classifies a failed API call for user-facing handling.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindValidation
	KindNetwork
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// APIError is returned by every Client method that fails.
type APIError struct {
	Kind       Kind
	Status     int // 0 when no response was received
	Code       response.ErrCode
	Detail     string
	RedirectTo string
	Fields     map[string]string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("api %s error: %v", e.Kind, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("api %s error: status %d code %q", e.Kind, e.Status, e.Code)
	default:
		return fmt.Sprintf("api %s error: code %q", e.Kind, e.Code)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// Message returns the user-facing text for this error.
func (e *APIError) Message() string {
	if e.Kind == KindNetwork {
		return response.GetMessage(response.ErrNetwork)
	}
	return response.GetMessage(e.Code)
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsCode reports whether err is an API error with the given server code.
func IsCode(err error, code response.ErrCode) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == code
}

// classify maps an HTTP status and decoded body to an APIError.
func classify(status int, body *response.ErrorBody) *APIError {
	e := &APIError{Status: status}
	if body != nil {
		e.Code = body.Error
		e.Detail = body.Detail
		e.RedirectTo = body.RedirectTo
		e.Fields = body.Fields
	}

	var fallback response.ErrCode
	switch {
	case status == http.StatusUnauthorized:
		e.Kind, fallback = KindUnauthorized, response.ErrTokenInvalid
	case status == http.StatusForbidden:
		e.Kind, fallback = KindForbidden, response.ErrForbidden
	case status == http.StatusNotFound:
		e.Kind, fallback = KindNotFound, response.ErrNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.Kind, fallback = KindValidation, response.ErrValidation
	case status >= 500:
		e.Kind, fallback = KindServer, response.ErrInternal
	default:
		e.Kind, fallback = KindUnknown, response.ErrUnknown
	}
	if e.Code == "" {
		e.Code = fallback
	}
	return e
}
