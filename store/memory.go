package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go.viam.com/callsignal"
	"go.viam.com/callsignal/call"
)

// A MemoryStore is an in-memory implementation of a signaling store designed to be used for
// testing and for participants that share a single process.
type MemoryStore struct {
	mu                      sync.Mutex
	activeBackgroundWorkers sync.WaitGroup
	calls                   map[string]*memoryCall
	incoming                map[string]map[*feed[[]*call.Record]]struct{}
	retention               time.Duration
	closed                  bool

	cancelCtx  context.Context
	cancelFunc func()

	uuidDeterministic        bool
	uuidDeterministicCounter int64
}

type memoryCall struct {
	record      *call.Record
	subscribers map[*feed[*call.Record]]struct{}
}

// NewMemoryStore returns a new, empty in-memory store. Calls are purged once they are
// older than the given retention; zero means DefaultRetention.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return newMemoryStore(false, retention)
}

// NewMemoryStoreTest returns a new, empty in-memory store for testing.
// It uses predictable UUIDs.
func NewMemoryStoreTest() *MemoryStore {
	return newMemoryStore(true, DefaultRetention)
}

func newMemoryStore(uuidDeterministic bool, retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	s := &MemoryStore{
		calls:             map[string]*memoryCall{},
		incoming:          map[string]map[*feed[[]*call.Record]]struct{}{},
		retention:         retention,
		cancelCtx:         cancelCtx,
		cancelFunc:        cancelFunc,
		uuidDeterministic: uuidDeterministic,
	}

	purgeInterval := retention / 4
	if purgeInterval < 10*time.Millisecond {
		purgeInterval = 10 * time.Millisecond
	} else if purgeInterval > time.Minute {
		purgeInterval = time.Minute
	}
	s.activeBackgroundWorkers.Add(1)
	ticker := time.NewTicker(purgeInterval)
	callsignal.ManagedGo(func() {
		for {
			if !callsignal.SelectContextOrWaitChan(cancelCtx, ticker.C) {
				return
			}
			s.purgeExpired(time.Now())
		}
	}, func() {
		defer s.activeBackgroundWorkers.Done()
		ticker.Stop()
	})
	return s
}

func (s *MemoryStore) purgeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, mc := range s.calls {
		if mc.record.CreatedAt.Add(s.retention).After(now) {
			continue
		}
		for f := range mc.subscribers {
			f.close()
		}
		delete(s.calls, id)
		if mc.record.Status == call.StatusRinging {
			s.notifyIncomingLocked(mc.record.CalleeID)
		}
	}
}

func (s *MemoryStore) newID() string {
	if s.uuidDeterministic {
		return fmt.Sprintf("insecure-uuid-%d", atomic.AddInt64(&s.uuidDeterministicCounter, 1))
	}
	return uuid.NewString()
}

// CreateCall stores a new ringing call.
func (s *MemoryStore) CreateCall(ctx context.Context, rec *call.Record) (*call.Record, error) {
	prepared, err := prepareNewCall(rec, s.newID(), time.Now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.calls[prepared.ID]; ok {
		return nil, ErrAlreadyExists
	}
	s.calls[prepared.ID] = &memoryCall{
		record:      prepared,
		subscribers: map[*feed[*call.Record]]struct{}{},
	}
	s.notifyIncomingLocked(prepared.CalleeID)
	return prepared.Clone(), nil
}

// GetCall returns the call with the given id.
func (s *MemoryStore) GetCall(ctx context.Context, id string) (*call.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	mc, ok := s.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return mc.record.Clone(), nil
}

// UpdateCall merges the update into the call and notifies subscribers.
func (s *MemoryStore) UpdateCall(ctx context.Context, id string, update call.Update) error {
	if err := update.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	mc, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	if update.IsEmpty() {
		return nil
	}
	updated := mc.record.Clone()
	if err := update.Apply(updated); err != nil {
		return err
	}
	statusChanged := updated.Status != mc.record.Status
	mc.record = updated
	for f := range mc.subscribers {
		f.publish(updated.Clone())
	}
	if statusChanged {
		s.notifyIncomingLocked(updated.CalleeID)
	}
	return nil
}

// SubscribeCall watches a single call until unsubscribe is called or the context is done.
func (s *MemoryStore) SubscribeCall(ctx context.Context, id string) (<-chan *call.Record, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	mc, ok := s.calls[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	f := newFeed[*call.Record]()
	mc.subscribers[f] = struct{}{}
	f.publish(mc.record.Clone())

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if mc, ok := s.calls[id]; ok {
				delete(mc.subscribers, f)
			}
			f.close()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return f.ch, func() {
		stop()
		unsubscribe()
	}, nil
}

// ListenIncomingCalls watches the ringing calls for the given callee.
func (s *MemoryStore) ListenIncomingCalls(ctx context.Context, userID string) (<-chan []*call.Record, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	f := newFeed[[]*call.Record]()
	listeners, ok := s.incoming[userID]
	if !ok {
		listeners = map[*feed[[]*call.Record]]struct{}{}
		s.incoming[userID] = listeners
	}
	listeners[f] = struct{}{}
	f.publish(s.incomingForLocked(userID))

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if listeners, ok := s.incoming[userID]; ok {
				delete(listeners, f)
				if len(listeners) == 0 {
					delete(s.incoming, userID)
				}
			}
			f.close()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return f.ch, func() {
		stop()
		unsubscribe()
	}, nil
}

func (s *MemoryStore) incomingForLocked(userID string) []*call.Record {
	recs := []*call.Record{}
	for _, mc := range s.calls {
		if isIncomingFor(mc.record, userID) {
			recs = append(recs, mc.record.Clone())
		}
	}
	sortIncoming(recs)
	return recs
}

func (s *MemoryStore) notifyIncomingLocked(userID string) {
	listeners := s.incoming[userID]
	if len(listeners) == 0 {
		return
	}
	for f := range listeners {
		f.publish(s.incomingForLocked(userID))
	}
}

// Close stops the purge worker and ends every subscription.
func (s *MemoryStore) Close() error {
	s.cancelFunc()
	s.activeBackgroundWorkers.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, mc := range s.calls {
		for f := range mc.subscribers {
			f.close()
		}
	}
	for _, listeners := range s.incoming {
		for f := range listeners {
			f.close()
		}
	}
	return nil
}
