// Package session runs the negotiation of one call between its caller and callee.
//
// A Session subscribes to the call record, decides from the record which side it is
// on, and drives a transport.Engine through offer, answer and trickle ICE until the
// call connects, fails or ends. All of a session's work happens on a single event loop
// fed by store snapshots, locally gathered candidates and hangup requests.
package session

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/callsignal"
	"go.viam.com/callsignal/call"
	"go.viam.com/callsignal/store"
	"go.viam.com/callsignal/transport"
)

const eventQueueSize = 64

// Options configure a session.
type Options struct {
	Store    store.Store
	Engine   transport.Engine
	Config   transport.Config
	Registry *Registry

	// MaxPendingCandidates bounds the remote candidates held before the remote
	// description is known. Zero means DefaultMaxPendingCandidates.
	MaxPendingCandidates int

	Logger golog.Logger
}

type (
	snapshotEvent struct {
		record *call.Record
	}
	candidateEvent struct {
		candidate call.ICECandidate
	}
	hangupEvent struct {
		result chan error
	}
	subscriptionLostEvent struct{}
)

// A Session negotiates one call for one local identity.
type Session struct {
	callID   string
	localID  string
	store    store.Store
	engine   transport.Engine
	registry *Registry
	logger   golog.Logger

	negotiator *negotiator
	events     chan interface{}

	cancelCtx  context.Context
	cancelFunc func()
	// opCtx bounds transport and store operations; hangup cancels it to interrupt them.
	opCtx    context.Context
	opCancel func()
	workers  *callsignal.StoppableWorkers

	unsubscribe func()
	releaseOnce sync.Once
	releaseErr  error
	done        chan struct{}
}

// Start begins negotiating the given call as localID. It fails with ErrAlreadyActive
// if the registry already holds a session for the call.
func Start(ctx context.Context, callID, localID string, opts Options) (*Session, error) {
	if opts.Store == nil || opts.Engine == nil {
		return nil, errors.New("a store and a transport engine are required")
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = callsignal.Logger
	}
	logger = logger.Named("session")

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	opCtx, opCancel := context.WithCancel(cancelCtx)
	s := &Session{
		callID:     callID,
		localID:    localID,
		store:      opts.Store,
		engine:     opts.Engine,
		registry:   opts.Registry,
		logger:     logger,
		negotiator: newNegotiator(callID, localID, opts.Store, opts.Engine, opts.Config, opts.MaxPendingCandidates, logger),
		events:     make(chan interface{}, eventQueueSize),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		opCtx:      opCtx,
		opCancel:   opCancel,
		workers:    callsignal.NewStoppableWorkers(cancelCtx),
		done:       make(chan struct{}),
	}

	if err := s.registry.Register(callID, s); err != nil {
		opCancel()
		cancelFunc()
		return nil, err
	}

	var successful bool
	defer func() {
		if !successful {
			s.opCancel()
			s.cancelFunc()
			s.workers.Stop()
			s.registry.Remove(callID, s)
		}
	}()

	// the subscription lives as long as the session, not the caller's context.
	updates, unsubscribe, err := s.store.SubscribeCall(cancelCtx, callID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to subscribe to call %q", callID)
	}
	if err := ctx.Err(); err != nil {
		unsubscribe()
		return nil, err
	}
	s.unsubscribe = unsubscribe

	s.engine.OnICECandidate(s.onLocalCandidate)

	if err := s.workers.Add(func(ctx context.Context) {
		s.pump(ctx, updates)
	}); err != nil {
		unsubscribe()
		return nil, err
	}
	if err := s.workers.Add(s.eventLoop); err != nil {
		unsubscribe()
		return nil, err
	}

	successful = true
	return s, nil
}

// pump forwards store snapshots into the event queue.
func (s *Session) pump(ctx context.Context, updates <-chan *call.Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-updates:
			if !ok {
				s.enqueue(ctx, subscriptionLostEvent{})
				return
			}
			if !s.enqueue(ctx, snapshotEvent{record: rec}) {
				return
			}
		}
	}
}

func (s *Session) enqueue(ctx context.Context, event interface{}) bool {
	select {
	case <-ctx.Done():
		return false
	case s.events <- event:
		return true
	}
}

func (s *Session) onLocalCandidate(candidate call.ICECandidate) {
	s.enqueue(s.cancelCtx, candidateEvent{candidate: candidate})
}

func (s *Session) eventLoop(ctx context.Context) {
	defer s.release()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.events:
			switch event := event.(type) {
			case snapshotEvent:
				s.negotiator.handleSnapshot(s.opCtx, event.record)
			case candidateEvent:
				s.publishCandidate(s.opCtx, event.candidate)
			case hangupEvent:
				event.result <- s.negotiator.hangup()
			case subscriptionLostEvent:
				s.negotiator.fail(ErrSubscriptionLost, true)
			}
			if s.negotiator.State().Terminal() {
				return
			}
		}
	}
}

// publishCandidate appends a local candidate to our own field. Appends are not retried;
// a lost candidate only removes one connectivity option.
func (s *Session) publishCandidate(ctx context.Context, candidate call.ICECandidate) {
	n := s.negotiator
	if n.State().Terminal() || !n.resolved || n.detached || n.role == call.RoleUnaffiliated {
		return
	}
	field := n.role.OutgoingField()

	var latest []call.ICECandidate
	if rec, err := s.store.GetCall(ctx, s.callID); err == nil {
		latest = rec.Candidates(field)
	}
	next := n.candidates.NextOutgoing(latest, candidate)
	if err := s.store.UpdateCall(ctx, s.callID, call.CandidatesUpdate(field, next)); err != nil {
		s.logger.Warnw("dropping local candidate", "call_id", s.callID, "role", n.role.String(), "error", err)
		return
	}
	n.candidates.Written(next)
}

// release frees everything the session holds. It runs once, on whichever exit path
// gets there first.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.opCancel()
		s.cancelFunc()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.engine.OnICECandidate(nil)
		s.releaseErr = multierr.Combine(s.releaseErr, s.engine.Close())
		s.registry.Remove(s.callID, s)
		s.logger.Debugw("session released", "call_id", s.callID, "state", s.State().String())
		close(s.done)
	})
}

// CallID returns the id of the negotiated call.
func (s *Session) CallID() string {
	return s.callID
}

// Role returns the part the local identity plays. It is unaffiliated until the first
// snapshot arrives.
func (s *Session) Role() call.Role {
	return call.Role(s.negotiator.sharedRole.Load())
}

// State returns the negotiation state.
func (s *Session) State() State {
	return s.negotiator.State()
}

// Err returns why the session failed, if it did.
func (s *Session) Err() error {
	return s.negotiator.terminalErr.Load()
}

// Done is closed once the session has released its resources.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Hangup ends the call for both participants. It is safe to call more than once and
// after the session has ended.
func (s *Session) Hangup(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}

	result := make(chan error, 1)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case s.events <- hangupEvent{result: result}:
	}
	// only interrupt the loop once it is sure to reach the request.
	s.negotiator.hangingUp.Store(true)
	s.opCancel()
	select {
	case err := <-result:
		<-s.done
		return err
	case <-s.done:
		// the loop ended for another reason before getting to our request.
		select {
		case err := <-result:
			return err
		default:
			return nil
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose releases the session's resources without touching the call record.
func (s *Session) Dispose() error {
	s.cancelFunc()
	s.workers.Stop()
	s.release()
	return s.releaseErr
}
