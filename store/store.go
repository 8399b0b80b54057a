// Package store contains the signaling stores that both participants of a call
// read from and merge-update. Every store delivers full records to subscribers
// whenever a call changes.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/callsignal/call"
)

var (
	// ErrNotFound is returned when a call does not exist.
	ErrNotFound = errors.New("call not found")
	// ErrAlreadyExists is returned when creating a call with an id that is in use.
	ErrAlreadyExists = errors.New("call already exists")
	// ErrInvalidCall is returned when a new call is missing participants.
	ErrInvalidCall = errors.New("invalid call")
	// ErrUpdateConflict is returned when a conditional update lost a race with another writer.
	ErrUpdateConflict = errors.New("call was modified concurrently")
	// ErrClosed is returned once the store has been closed.
	ErrClosed = errors.New("store closed")
)

// DefaultRetention is how long a call record is kept after it is created.
const DefaultRetention = 24 * time.Hour

// A Store holds call records and notifies subscribers of changes to them.
//
// Subscriptions deliver the current record first and then one full record per change.
// Delivery is at-least-once and a subscriber that falls behind only receives the newest
// record. The channel is closed when the subscription ends, either because unsubscribe
// was called, the context is done, the record was removed or the store was closed.
type Store interface {
	// CreateCall stores a new ringing call and returns it with its id and creation time set.
	CreateCall(ctx context.Context, rec *call.Record) (*call.Record, error)

	// GetCall returns the call with the given id or ErrNotFound.
	GetCall(ctx context.Context, id string) (*call.Record, error)

	// UpdateCall merges the set fields of the update into the call. Writes that would
	// break the record's invariants fail with the corresponding call error.
	UpdateCall(ctx context.Context, id string, update call.Update) error

	// SubscribeCall watches a single call.
	SubscribeCall(ctx context.Context, id string) (<-chan *call.Record, func(), error)

	// ListenIncomingCalls watches the set of ringing calls whose callee is userID.
	ListenIncomingCalls(ctx context.Context, userID string) (<-chan []*call.Record, func(), error)

	// Close stops every subscription and background worker.
	Close() error
}

// prepareNewCall validates a call about to be created and fills in the fields the
// store owns.
func prepareNewCall(rec *call.Record, id string, now time.Time) (*call.Record, error) {
	if rec == nil || rec.CallerID == "" || rec.CalleeID == "" {
		return nil, errors.Wrap(ErrInvalidCall, "caller and callee are required")
	}
	if rec.CallerID == rec.CalleeID {
		return nil, errors.Wrap(ErrInvalidCall, "caller cannot call themselves")
	}
	prepared := rec.Clone()
	if prepared.ID == "" {
		prepared.ID = id
	}
	prepared.Status = call.StatusRinging
	prepared.Offer = nil
	prepared.Answer = nil
	prepared.OfferCandidates = nil
	prepared.AnswerCandidates = nil
	prepared.CreatedAt = now.UTC().Truncate(time.Millisecond)
	return prepared, nil
}

// sortIncoming orders incoming calls oldest first.
func sortIncoming(recs []*call.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

func isIncomingFor(rec *call.Record, userID string) bool {
	return rec.CalleeID == userID && rec.Status == call.StatusRinging
}
