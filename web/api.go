// Package web serves the HTTP API for inspecting and steering calls.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edaniels/golog"

	"go.viam.com/callsignal"
	"go.viam.com/callsignal/trace"
)

const apiRequestTimeout = 30 * time.Second

// APIHandler what a user has to implement to use APIMiddleware.
type APIHandler interface {
	// return (result, error)
	// if both are null, do nothing
	ServeAPI(w http.ResponseWriter, r *http.Request) (interface{}, error)
}

// APIHandlerFunc adapts a function to an APIHandler.
type APIHandlerFunc func(w http.ResponseWriter, r *http.Request) (interface{}, error)

// ServeAPI calls f.
func (f APIHandlerFunc) ServeAPI(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	return f(w, r)
}

// APIMiddleware simple layer between http.Handler interface that does json marshalling and error handling.
type APIMiddleware struct {
	Handler APIHandler
	Logger  golog.Logger
}

func handleAPIError(w http.ResponseWriter, err error, logger golog.Logger, extra interface{}) bool {
	if err == nil {
		return false
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Warnw("api error", "error", err, "extra", extra)
	} else {
		logger.Debugw("api issue", "error", err, "extra", extra)
	}

	data := map[string]interface{}{"err": err.Error()}
	if extra != nil {
		data["extra"] = extra
	}

	js, marshalErr := json.Marshal(data)
	if marshalErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, err = fmt.Fprintf(w, "err not able to be converted to json (%s) (%s)", data, err)
		callsignal.UncheckedError(err)
		return true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(js)
	callsignal.UncheckedError(err)
	return true
}

// ServeHTTP call the api.
func (am *APIMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiRequestTimeout)
	defer cancel()

	ctx, span := trace.StartSpan(ctx, r.Method+" "+r.URL.Path)
	defer span.End()

	r = r.WithContext(ctx)

	data, err := am.Handler.ServeAPI(w, r)
	if handleAPIError(w, err, am.Logger, data) {
		return
	}

	if data == nil {
		return
	}

	js, err := json.Marshal(data)
	if handleAPIError(w, err, am.Logger, nil) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(js)
	callsignal.UncheckedError(err)
}
