package web

import (
	"net/http"

	"github.com/edaniels/golog"
)

// PanicCapture allows recovery during a request handler from panics. It prints a
// formatted log to the underlying logger.
type PanicCapture struct {
	Logger golog.Logger
}

// Recover captures and prints the error if recover() has an error.
func (p *PanicCapture) Recover(w http.ResponseWriter, r *http.Request) {
	err := recover()
	if err == nil {
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusInternalServerError)
	if _, err := w.Write([]byte("internal server error")); err != nil {
		p.Logger.Warnf("failed to write to response: %s", err)
	}

	p.Logger.Errorw("Unhandled error", "error", err, "method", r.Method, "path", r.URL.Path)
}

// Middleware wraps next so that panics become 500 responses.
func (p *PanicCapture) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer p.Recover(w, r)
		next.ServeHTTP(w, r)
	})
}
