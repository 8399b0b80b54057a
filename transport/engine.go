// Package transport negotiates the media connection of a call. The session package
// drives an Engine through offer, answer and trickle ICE without knowing which
// implementation sits behind it.
package transport

import (
	"context"

	"go.viam.com/callsignal/call"
)

// DefaultICEServers is the default set of ICE servers used to gather candidates.
// There is no guarantee that the defaults here will remain usable.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// Config describes the connection an engine should set up.
type Config struct {
	ICEServers []string
	Media      MediaConstraints
}

// DefaultConfig returns a config requesting audio through the default ICE servers.
func DefaultConfig() Config {
	return Config{
		ICEServers: append([]string(nil), DefaultICEServers...),
		Media:      MediaConstraints{Audio: true},
	}
}

// An Engine is one side of a media connection.
//
// Initialize must succeed before descriptions are created or applied. Local candidates
// are reported through the OnICECandidate callback as they are gathered.
type Engine interface {
	// Initialize acquires local media and prepares the connection. Media failures are
	// reported as *PermissionError or *DeviceError.
	Initialize(ctx context.Context, cfg Config) error

	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer(ctx context.Context) (call.SessionDescription, error)

	// CreateAnswer creates an answer to the remote offer and sets it as the local description.
	CreateAnswer(ctx context.Context) (call.SessionDescription, error)

	// SetRemoteDescription applies the other side's description.
	SetRemoteDescription(desc call.SessionDescription) error

	// AddICECandidate applies one remote candidate. It fails with ErrInvalidState
	// until a remote description is set.
	AddICECandidate(candidate call.ICECandidate) error

	// OnICECandidate sets the callback for locally gathered candidates.
	OnICECandidate(f func(candidate call.ICECandidate))

	// Close releases the connection and local media. It is safe to call more than once.
	Close() error
}

// A Factory creates a fresh engine for every session.
type Factory func() Engine
