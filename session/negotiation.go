package session

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/callsignal"
	"go.viam.com/callsignal/call"
	"go.viam.com/callsignal/store"
	"go.viam.com/callsignal/transport"
)

// State is where a session is in the negotiation.
type State int32

// The negotiation states. Failed and Ended are terminal.
const (
	StateIdle State = iota
	StateOfferPending
	StateAwaitingAnswer
	StateAnswerPending
	StateConnected
	StateFailed
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferPending:
		return "offer-pending"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateAnswerPending:
		return "answer-pending"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal returns whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateEnded
}

const (
	descriptionWriteAttempts = 3
	descriptionWriteDelay    = 100 * time.Millisecond
	endWriteTimeout          = 5 * time.Second
)

// negotiator is the per-session state machine. Every method runs on the session's
// event loop.
type negotiator struct {
	callID  string
	localID string
	store   store.Store
	engine  transport.Engine
	config  transport.Config
	logger  golog.Logger

	state       atomic.Int32
	role        call.Role
	sharedRole  atomic.Int32
	resolved    bool
	initialized bool
	remoteSet   bool
	// detached is set when another instance already owns our side of the
	// negotiation; the record is followed but the transport is left alone.
	detached bool
	candidates  *CandidateBuffer
	terminalErr atomic.Error

	// hangingUp turns failures of interrupted operations into a quiet end.
	hangingUp atomic.Bool
}

func newNegotiator(
	callID, localID string,
	s store.Store,
	engine transport.Engine,
	config transport.Config,
	maxPendingCandidates int,
	logger golog.Logger,
) *negotiator {
	return &negotiator{
		callID:     callID,
		localID:    localID,
		store:      s,
		engine:     engine,
		config:     config,
		logger:     logger,
		candidates: NewCandidateBuffer(maxPendingCandidates),
	}
}

func (n *negotiator) State() State {
	return State(n.state.Load())
}

func (n *negotiator) setState(state State) {
	prev := State(n.state.Swap(int32(state)))
	if prev != state {
		n.logger.Debugw("negotiation state changed", "call_id", n.callID, "role", n.role.String(), "from", prev.String(), "to", state.String())
	}
}

func (n *negotiator) resolveRole(rec *call.Record) call.Role {
	if !n.resolved {
		n.role = call.ResolveRole(n.localID, rec)
		n.sharedRole.Store(int32(n.role))
		n.resolved = true
	}
	return n.role
}

// handleSnapshot advances the state machine with the latest record. Snapshots may be
// repeated, stale or skipped; every step checks both the record and local state so
// handling one twice changes nothing.
func (n *negotiator) handleSnapshot(ctx context.Context, rec *call.Record) {
	if n.State().Terminal() {
		return
	}
	role := n.resolveRole(rec)
	if rec.Ended() {
		n.end()
		return
	}
	if role == call.RoleUnaffiliated {
		return
	}

	if n.State() == StateIdle && ownedElsewhere(role, rec) {
		n.detached = true
	}
	if n.detached {
		n.follow(rec)
		return
	}
	if err := n.candidates.Observe(rec.Candidates(role.IncomingField())); err != nil {
		n.fail(err, true)
		return
	}

	switch role {
	case call.RoleCaller:
		n.handleCallerSnapshot(ctx, rec)
	case call.RoleCallee:
		n.handleCalleeSnapshot(ctx, rec)
	case call.RoleUnaffiliated:
	}
	if n.State().Terminal() || n.detached || !n.remoteSet {
		return
	}
	if err := n.flushCandidates(); err != nil {
		n.fail(err, true)
	}
}

// ownedElsewhere returns whether the local side's description was already written by
// another instance before this session saw the call.
func ownedElsewhere(role call.Role, rec *call.Record) bool {
	switch role {
	case call.RoleCaller:
		return rec.Offer != nil
	case call.RoleCallee:
		return rec.Answer != nil
	case call.RoleUnaffiliated:
	}
	return false
}

// follow tracks a call whose peer connection lives in another instance. Nothing is
// applied to the local transport and nothing is written.
func (n *negotiator) follow(rec *call.Record) {
	n.candidates.Discard()
	switch {
	case rec.Answer != nil:
		n.setState(StateConnected)
	case n.State() == StateIdle:
		n.setState(StateAwaitingAnswer)
	}
}

func (n *negotiator) handleCallerSnapshot(ctx context.Context, rec *call.Record) {
	if n.State() == StateIdle {
		n.setState(StateOfferPending)
		if !n.initialize(ctx) {
			return
		}
		offer, err := n.engine.CreateOffer(ctx)
		if err != nil {
			n.fail(errors.Wrap(err, "failed to create offer"), true)
			return
		}
		if err := n.writeDescription(ctx, call.Update{Offer: &offer, UnlessEnded: true}); err != nil {
			n.failWrite(err, "offer")
			return
		}
		n.setState(StateAwaitingAnswer)
	}

	if n.State() == StateAwaitingAnswer && rec.Answer != nil {
		if err := n.engine.SetRemoteDescription(*rec.Answer); err != nil {
			n.fail(errors.Wrap(err, "failed to apply answer"), true)
			return
		}
		n.remoteSet = true
		n.setState(StateConnected)
	}
}

func (n *negotiator) handleCalleeSnapshot(ctx context.Context, rec *call.Record) {
	if n.State() != StateIdle {
		return
	}
	if rec.Offer == nil {
		return
	}

	n.setState(StateAnswerPending)
	if !n.initialize(ctx) {
		return
	}
	if err := n.engine.SetRemoteDescription(*rec.Offer); err != nil {
		n.fail(errors.Wrap(err, "failed to apply offer"), true)
		return
	}
	n.remoteSet = true
	if err := n.flushCandidates(); err != nil {
		n.fail(err, true)
		return
	}
	answer, err := n.engine.CreateAnswer(ctx)
	if err != nil {
		n.fail(errors.Wrap(err, "failed to create answer"), true)
		return
	}
	if err := n.writeDescription(ctx, call.Update{
		Answer:      &answer,
		Status:      call.StatusConnected.Ptr(),
		UnlessEnded: true,
	}); err != nil {
		n.failWrite(err, "answer")
		return
	}
	n.setState(StateConnected)
}

// initialize prepares the transport once. Failures are final and write nothing.
func (n *negotiator) initialize(ctx context.Context) bool {
	if n.initialized {
		return true
	}
	if err := n.engine.Initialize(ctx, n.config); err != nil {
		if !transport.IsMediaError(err) {
			err = errors.Wrap(err, "failed to initialize transport")
		}
		n.fail(err, false)
		return false
	}
	n.initialized = true
	return true
}

func (n *negotiator) flushCandidates() error {
	return n.candidates.Flush(func(candidate call.ICECandidate) error {
		if err := n.engine.AddICECandidate(candidate); err != nil {
			return errors.Wrap(err, "failed to add remote candidate")
		}
		return nil
	})
}

// writeDescription stores an offer or answer, retrying transient store failures.
func (n *negotiator) writeDescription(ctx context.Context, update call.Update) error {
	var permanent error
	_, err := callsignal.RetryNTimesWithSleep(ctx, func() (struct{}, error) {
		err := n.store.UpdateCall(ctx, n.callID, update)
		if isPermanentWriteError(err) {
			permanent = err
			return struct{}{}, nil
		}
		if err != nil {
			n.logger.Warnw("failed to write session description", "call_id", n.callID, "error", err)
		}
		return struct{}{}, err
	}, descriptionWriteAttempts, descriptionWriteDelay)
	if permanent != nil {
		return permanent
	}
	return err
}

// isPermanentWriteError returns whether retrying the write cannot succeed.
func isPermanentWriteError(err error) bool {
	return errors.Is(err, call.ErrEnded) ||
		errors.Is(err, call.ErrDescriptionAlreadySet) ||
		errors.Is(err, call.ErrAnswerBeforeOffer) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrClosed)
}

func (n *negotiator) failWrite(err error, what string) {
	if errors.Is(err, call.ErrEnded) {
		// the other side hung up while we were negotiating.
		n.end()
		return
	}
	if errors.Is(err, call.ErrDescriptionAlreadySet) {
		// another instance wrote first; its negotiation is the live one.
		n.logger.Infow("call negotiated by another instance", "call_id", n.callID, "role", n.role.String())
		n.detached = true
		if n.role == call.RoleCallee {
			n.setState(StateConnected)
		} else {
			n.setState(StateAwaitingAnswer)
		}
		return
	}
	n.fail(errors.Wrapf(err, "failed to write %s", what), true)
}

// fail moves to Failed. When endCall is set the call is ended for the other
// participant too.
func (n *negotiator) fail(err error, endCall bool) {
	if n.State().Terminal() {
		return
	}
	if n.hangingUp.Load() {
		return
	}
	n.logger.Errorw("call negotiation failed", "call_id", n.callID, "role", n.role.String(), "error", err)
	n.terminalErr.Store(err)
	n.setState(StateFailed)
	if endCall {
		callsignal.UncheckedError(n.writeEnd())
	}
}

// end moves to Ended after the call was ended remotely.
func (n *negotiator) end() {
	if n.State().Terminal() {
		return
	}
	n.setState(StateEnded)
}

// hangup ends the call locally and records it unless someone else already did.
func (n *negotiator) hangup() error {
	if n.State().Terminal() {
		return nil
	}
	n.setState(StateEnded)
	if !n.resolved {
		ctx, cancel := context.WithTimeout(context.Background(), endWriteTimeout)
		rec, err := n.store.GetCall(ctx, n.callID)
		cancel()
		if err != nil {
			return errors.Wrap(err, "failed to read call")
		}
		n.resolveRole(rec)
	}
	if n.role == call.RoleUnaffiliated {
		return nil
	}
	return n.writeEnd()
}

// writeEnd marks the call ended. It runs with its own deadline since the session's
// context may already be canceled.
func (n *negotiator) writeEnd() error {
	ctx, cancel := context.WithTimeout(context.Background(), endWriteTimeout)
	defer cancel()
	err := n.store.UpdateCall(ctx, n.callID, call.EndUpdate())
	if err == nil || errors.Is(err, call.ErrEnded) {
		return nil
	}
	return errors.Wrap(err, "failed to end call")
}
