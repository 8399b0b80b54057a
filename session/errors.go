package session

import "github.com/pkg/errors"

var (
	// ErrAlreadyActive is returned when a session for the call is already running in this process.
	ErrAlreadyActive = errors.New("a session for this call is already active")
	// ErrCandidateBufferOverflow is returned when more remote candidates arrive before the
	// remote description than the session is willing to hold.
	ErrCandidateBufferOverflow = errors.New("too many pending remote candidates")
	// ErrSubscriptionLost is returned when the store stops delivering updates for a live call.
	ErrSubscriptionLost = errors.New("call subscription ended unexpectedly")
)
