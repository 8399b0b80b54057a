package web

import (
	"net/http"

	"github.com/pkg/errors"

	"go.viam.com/callsignal/call"
	"go.viam.com/callsignal/store"
)

// ErrorResponse lets you specify a status code.
type ErrorResponse interface {
	Error() string
	Status() int
}

// ErrorResponseStatus creates an error response with a specific code.
func ErrorResponseStatus(code int) ErrorResponse {
	return errorResponseStatus(code)
}

type errorResponseStatus int

func (s errorResponseStatus) Error() string {
	return http.StatusText(int(s))
}

func (s errorResponseStatus) Status() int {
	return int(s)
}

type statusError struct {
	err    error
	status int
}

func (e *statusError) Error() string {
	return e.err.Error()
}

func (e *statusError) Status() int {
	return e.status
}

func (e *statusError) Unwrap() error {
	return e.err
}

// WithStatus attaches a response status to err.
func WithStatus(err error, code int) error {
	if err == nil {
		return nil
	}
	return &statusError{err: err, status: code}
}

// statusFor maps store and call errors to the response status they deserve.
func statusFor(err error) int {
	var er ErrorResponse
	switch {
	case errors.As(err, &er):
		return er.Status()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidCall):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrUpdateConflict),
		errors.Is(err, call.ErrEnded),
		errors.Is(err, call.ErrDescriptionAlreadySet),
		errors.Is(err, call.ErrAnswerBeforeOffer),
		errors.Is(err, call.ErrCandidatesRewritten):
		return http.StatusConflict
	case errors.Is(err, store.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
