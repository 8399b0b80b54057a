// Package callsignal negotiates peer-to-peer calls over a shared signaling store.
//
// The root package holds the goroutine, retry and logging helpers shared by the
// call, store, transport and session packages.
package callsignal

import (
	"github.com/edaniels/golog"
)

// Logger is used by various parts of the module for informational/debugging purposes.
var Logger = golog.Global()

// Debug turns on verbose transport logging. It is helpful when a call will not connect.
var Debug = false
