// Package cors wraps the cors package with needed defaults.
package cors

import (
	"net/http"
	"time"

	"github.com/rs/cors"
)

// Cors http handler.
type Cors = cors.Cors

var (
	defaultAllowedMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodOptions, http.MethodHead,
	}

	defaultCacheAge = time.Second * 3600
)

// AllowAll returns a CORS handler that accepts any origin.
func AllowAll() *Cors {
	return New([]string{"*"})
}

// New returns a CORS handler for the calls API accepting the given origins. No origins
// means any origin.
func New(allowedOrigins []string) *Cors {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: defaultAllowedMethods,
		// allow all headers
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           int(defaultCacheAge.Seconds()),
	})
}
