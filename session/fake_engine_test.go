package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/callsignal/call"
	"go.viam.com/callsignal/transport"
)

// fakeEngine records what the negotiation asks of it and enforces the same ordering
// rules as a real peer connection.
type fakeEngine struct {
	name    string
	initErr error

	mu              sync.Mutex
	initCalls       int
	offers          int
	answers         int
	remote          []call.SessionDescription
	applied         []call.ICECandidate
	closeCalls      int
	onCandidate     func(call.ICECandidate)
	afterInitialize func()
}

func newFakeEngine(name string) *fakeEngine {
	return &fakeEngine{name: name}
}

func (e *fakeEngine) Initialize(ctx context.Context, cfg transport.Config) error {
	e.mu.Lock()
	e.initCalls++
	err := e.initErr
	after := e.afterInitialize
	e.mu.Unlock()
	if err == nil && after != nil {
		after()
	}
	return err
}

func (e *fakeEngine) initialized() bool {
	return e.initCalls > 0 && e.initErr == nil
}

func (e *fakeEngine) CreateOffer(ctx context.Context) (call.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized() {
		return call.SessionDescription{}, transport.ErrInvalidState
	}
	e.offers++
	return call.SessionDescription{Type: "offer", SDP: fmt.Sprintf("%s-offer-%d", e.name, e.offers)}, nil
}

func (e *fakeEngine) CreateAnswer(ctx context.Context) (call.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized() || len(e.remote) == 0 {
		return call.SessionDescription{}, transport.ErrInvalidState
	}
	e.answers++
	return call.SessionDescription{Type: "answer", SDP: fmt.Sprintf("%s-answer-%d", e.name, e.answers)}, nil
}

func (e *fakeEngine) SetRemoteDescription(desc call.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized() {
		return transport.ErrInvalidState
	}
	e.remote = append(e.remote, desc)
	return nil
}

func (e *fakeEngine) AddICECandidate(candidate call.ICECandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.remote) == 0 {
		return errors.Wrap(transport.ErrInvalidState, "no remote description")
	}
	e.applied = append(e.applied, candidate)
	return nil
}

func (e *fakeEngine) OnICECandidate(f func(call.ICECandidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCandidate = f
}

// gather reports local candidates as if they were just discovered.
func (e *fakeEngine) gather(candidates ...string) {
	e.mu.Lock()
	f := e.onCandidate
	e.mu.Unlock()
	if f == nil {
		return
	}
	for _, c := range candidates {
		f(call.ICECandidate{Candidate: c})
	}
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeCalls++
	return nil
}

type engineStats struct {
	initCalls  int
	offers     int
	answers    int
	remote     []call.SessionDescription
	applied    []string
	closeCalls int
}

func (e *fakeEngine) stats() engineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	applied := make([]string, 0, len(e.applied))
	for _, c := range e.applied {
		applied = append(applied, c.Candidate)
	}
	return engineStats{
		initCalls:  e.initCalls,
		offers:     e.offers,
		answers:    e.answers,
		remote:     append([]call.SessionDescription(nil), e.remote...),
		applied:    applied,
		closeCalls: e.closeCalls,
	}
}
