package session

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/callsignal"
	"go.viam.com/callsignal/call"
	"go.viam.com/callsignal/store"
)

// DefaultRingTimeout is how long a call may ring before it is rejected on the callee's behalf.
const DefaultRingTimeout = 30 * time.Second

// IncomingOptions configure an IncomingWatcher.
type IncomingOptions struct {
	Store  store.Store
	UserID string

	// RingTimeout is measured from the call's creation. Zero means DefaultRingTimeout.
	RingTimeout time.Duration

	// OnIncoming is called once for every call that starts ringing for the user.
	OnIncoming func(rec *call.Record)

	Logger golog.Logger
}

// An IncomingWatcher reports calls ringing for a user and rejects the ones nobody
// accepts in time.
type IncomingWatcher struct {
	store       store.Store
	userID      string
	ringTimeout time.Duration
	onIncoming  func(rec *call.Record)
	logger      golog.Logger

	mu          sync.Mutex
	ringing     map[string]time.Time
	handled     map[string]struct{}
	workers     *callsignal.StoppableWorkers
	unsubscribe func()
}

// NewIncomingWatcher starts watching the user's incoming calls.
func NewIncomingWatcher(ctx context.Context, opts IncomingOptions) (*IncomingWatcher, error) {
	if opts.Store == nil || opts.UserID == "" {
		return nil, errors.New("a store and a user id are required")
	}
	ringTimeout := opts.RingTimeout
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = callsignal.Logger
	}

	w := &IncomingWatcher{
		store:       opts.Store,
		userID:      opts.UserID,
		ringTimeout: ringTimeout,
		onIncoming:  opts.OnIncoming,
		logger:      logger.Named("incoming"),
		ringing:     map[string]time.Time{},
		handled:     map[string]struct{}{},
		workers:     callsignal.NewStoppableWorkers(context.Background()),
	}

	updates, unsubscribe, err := w.store.ListenIncomingCalls(w.workers.Context(), w.userID)
	if err != nil {
		w.workers.Stop()
		return nil, errors.Wrapf(err, "failed to listen for calls to %q", w.userID)
	}
	w.unsubscribe = unsubscribe

	checkInterval := ringTimeout / 4
	if checkInterval < 10*time.Millisecond {
		checkInterval = 10 * time.Millisecond
	} else if checkInterval > time.Second {
		checkInterval = time.Second
	}

	if err := w.workers.Add(func(ctx context.Context) {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case recs, ok := <-updates:
				if !ok {
					if ctx.Err() == nil {
						w.logger.Warnw("incoming call subscription ended", "user_id", w.userID)
					}
					return
				}
				w.update(recs)
			case now := <-ticker.C:
				w.expire(ctx, now)
			}
		}
	}); err != nil {
		unsubscribe()
		return nil, err
	}
	return w, nil
}

// update reconciles the ringing set with the store's view.
func (w *IncomingWatcher) update(recs []*call.Record) {
	var fresh []*call.Record

	w.mu.Lock()
	present := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		present[rec.ID] = struct{}{}
		if _, ok := w.handled[rec.ID]; ok {
			continue
		}
		if _, ok := w.ringing[rec.ID]; ok {
			continue
		}
		w.ringing[rec.ID] = rec.CreatedAt.Add(w.ringTimeout)
		fresh = append(fresh, rec)
	}
	// calls that stopped ringing were answered or ended, here or elsewhere. They
	// never ring again.
	for id := range w.ringing {
		if _, ok := present[id]; !ok {
			delete(w.ringing, id)
		}
	}
	for id := range w.handled {
		if _, ok := present[id]; !ok {
			delete(w.handled, id)
		}
	}
	w.mu.Unlock()

	for _, rec := range fresh {
		w.logger.Debugw("incoming call", "call_id", rec.ID, "caller_id", rec.CallerID)
		if w.onIncoming != nil {
			w.onIncoming(rec)
		}
	}
}

func (w *IncomingWatcher) expire(ctx context.Context, now time.Time) {
	var expired []string
	w.mu.Lock()
	for id, deadline := range w.ringing {
		if now.Before(deadline) {
			continue
		}
		delete(w.ringing, id)
		w.handled[id] = struct{}{}
		expired = append(expired, id)
	}
	w.mu.Unlock()

	for _, id := range expired {
		w.logger.Infow("call rang out", "call_id", id)
		if err := endCall(ctx, w.store, id); err != nil {
			w.logger.Warnw("failed to reject unanswered call", "call_id", id, "error", err)
		}
	}
}

func (w *IncomingWatcher) claim(callID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.ringing, callID)
	w.handled[callID] = struct{}{}
}

// Ringing returns the ids of the calls currently ringing and not yet handled.
func (w *IncomingWatcher) Ringing() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.ringing))
	for id := range w.ringing {
		ids = append(ids, id)
	}
	return ids
}

// Accept stops the ring timer and starts answering the call.
func (w *IncomingWatcher) Accept(ctx context.Context, callID string, opts Options) (*Session, error) {
	w.claim(callID)
	return Start(ctx, callID, w.userID, opts)
}

// Reject ends the call without answering it.
func (w *IncomingWatcher) Reject(ctx context.Context, callID string) error {
	w.claim(callID)
	return endCall(ctx, w.store, callID)
}

// Close stops watching.
func (w *IncomingWatcher) Close() error {
	w.workers.Stop()
	w.unsubscribe()
	return nil
}

func endCall(ctx context.Context, s store.Store, callID string) error {
	err := s.UpdateCall(ctx, callID, call.EndUpdate())
	if err == nil || errors.Is(err, call.ErrEnded) {
		return nil
	}
	return err
}
