package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/callsignal"
	"go.viam.com/callsignal/call"
)

func candidate(s string) call.ICECandidate {
	return call.ICECandidate{Candidate: s}
}

// receiveUntil reads from the subscription until a record satisfies cond.
func receiveUntil[T any](t *testing.T, ch <-chan T, cond func(T) bool) T {
	t.Helper()
	timer := time.NewTimer(10 * time.Second)
	defer timer.Stop()
	for {
		select {
		case v, ok := <-ch:
			test.That(t, ok, test.ShouldBeTrue)
			if cond(v) {
				return v
			}
		case <-timer.C:
			t.Fatal("timed out waiting for subscription value")
		}
	}
}

func waitClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	timer := time.NewTimer(10 * time.Second)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timer.C:
			t.Fatal("timed out waiting for subscription to close")
		}
	}
}

func newUsers() (string, string) {
	return "caller-" + callsignal.RandomAlphaString(8), "callee-" + callsignal.RandomAlphaString(8)
}

func testStore(t *testing.T, setupStore func(t *testing.T) (Store, func())) {
	t.Helper()

	t.Run("create", func(t *testing.T) {
		s, teardown := setupStore(t)
		defer teardown()

		ctx := context.Background()
		callerID, calleeID := newUsers()

		_, err := s.CreateCall(ctx, &call.Record{CallerID: callerID})
		test.That(t, errors.Is(err, ErrInvalidCall), test.ShouldBeTrue)
		_, err = s.CreateCall(ctx, &call.Record{CallerID: callerID, CalleeID: callerID})
		test.That(t, errors.Is(err, ErrInvalidCall), test.ShouldBeTrue)

		before := time.Now().Add(-time.Second)
		rec, err := s.CreateCall(ctx, &call.Record{
			CallerID:   callerID,
			CalleeID:   calleeID,
			CallerName: "Alice",
			Status:     call.StatusEnded,
			Offer:      &call.SessionDescription{Type: "offer", SDP: "stale"},
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, rec.ID, test.ShouldNotBeEmpty)
		test.That(t, rec.Status, test.ShouldEqual, call.StatusRinging)
		test.That(t, rec.Offer, test.ShouldBeNil)
		test.That(t, rec.CallerName, test.ShouldEqual, "Alice")
		test.That(t, rec.CreatedAt.After(before), test.ShouldBeTrue)

		got, err := s.GetCall(ctx, rec.ID)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.CallerID, test.ShouldEqual, callerID)
		test.That(t, got.CalleeID, test.ShouldEqual, calleeID)
		test.That(t, got.Status, test.ShouldEqual, call.StatusRinging)
		test.That(t, got.CreatedAt.Equal(rec.CreatedAt), test.ShouldBeTrue)

		_, err = s.CreateCall(ctx, &call.Record{ID: rec.ID, CallerID: callerID, CalleeID: calleeID})
		test.That(t, errors.Is(err, ErrAlreadyExists), test.ShouldBeTrue)

		_, err = s.GetCall(ctx, "does-not-exist")
		test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)
	})

	t.Run("update", func(t *testing.T) {
		s, teardown := setupStore(t)
		defer teardown()

		ctx := context.Background()
		callerID, calleeID := newUsers()
		rec, err := s.CreateCall(ctx, &call.Record{CallerID: callerID, CalleeID: calleeID})
		test.That(t, err, test.ShouldBeNil)

		err = s.UpdateCall(ctx, "does-not-exist", call.Update{Status: call.StatusConnected.Ptr()})
		test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)

		answer := &call.SessionDescription{Type: "answer", SDP: "answer-sdp"}
		err = s.UpdateCall(ctx, rec.ID, call.Update{Answer: answer})
		test.That(t, errors.Is(err, call.ErrAnswerBeforeOffer), test.ShouldBeTrue)

		offer := &call.SessionDescription{Type: "offer", SDP: "offer-sdp"}
		test.That(t, s.UpdateCall(ctx, rec.ID, call.Update{Offer: offer}), test.ShouldBeNil)
		// rewriting the same offer is idempotent
		test.That(t, s.UpdateCall(ctx, rec.ID, call.Update{Offer: offer}), test.ShouldBeNil)
		err = s.UpdateCall(ctx, rec.ID, call.Update{Offer: &call.SessionDescription{Type: "offer", SDP: "other"}})
		test.That(t, errors.Is(err, call.ErrDescriptionAlreadySet), test.ShouldBeTrue)

		cands := []call.ICECandidate{candidate("c1"), candidate("c2")}
		test.That(t, s.UpdateCall(ctx, rec.ID, call.CandidatesUpdate(call.FieldOfferCandidates, cands)), test.ShouldBeNil)
		err = s.UpdateCall(ctx, rec.ID, call.CandidatesUpdate(call.FieldOfferCandidates, cands[:1]))
		test.That(t, errors.Is(err, call.ErrCandidatesRewritten), test.ShouldBeTrue)

		test.That(t, s.UpdateCall(ctx, rec.ID, call.Update{
			Answer: answer,
			Status: call.StatusConnected.Ptr(),
		}), test.ShouldBeNil)

		got, err := s.GetCall(ctx, rec.ID)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Status, test.ShouldEqual, call.StatusConnected)
		test.That(t, got.Offer, test.ShouldResemble, offer)
		test.That(t, got.Answer, test.ShouldResemble, answer)
		test.That(t, got.OfferCandidates, test.ShouldHaveLength, 2)
		test.That(t, got.OfferCandidates[1].Candidate, test.ShouldEqual, "c2")
		test.That(t, got.AnswerCandidates, test.ShouldBeEmpty)

		test.That(t, s.UpdateCall(ctx, rec.ID, call.EndUpdate()), test.ShouldBeNil)

		err = s.UpdateCall(ctx, rec.ID, call.EndUpdate())
		test.That(t, errors.Is(err, call.ErrEnded), test.ShouldBeTrue)
		err = s.UpdateCall(ctx, rec.ID, call.Update{Status: call.StatusRinging.Ptr()})
		test.That(t, errors.Is(err, call.ErrEnded), test.ShouldBeTrue)
		err = s.UpdateCall(ctx, rec.ID, call.CandidatesUpdate(call.FieldAnswerCandidates, cands))
		test.That(t, errors.Is(err, call.ErrEnded), test.ShouldBeTrue)
		// an unconditional end on an ended call changes nothing and is allowed
		test.That(t, s.UpdateCall(ctx, rec.ID, call.Update{Status: call.StatusEnded.Ptr()}), test.ShouldBeNil)

		got, err = s.GetCall(ctx, rec.ID)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Status, test.ShouldEqual, call.StatusEnded)
		test.That(t, got.AnswerCandidates, test.ShouldBeEmpty)
	})

	t.Run("subscribe", func(t *testing.T) {
		s, teardown := setupStore(t)
		defer teardown()

		ctx := context.Background()
		callerID, calleeID := newUsers()
		rec, err := s.CreateCall(ctx, &call.Record{CallerID: callerID, CalleeID: calleeID})
		test.That(t, err, test.ShouldBeNil)

		_, _, err = s.SubscribeCall(ctx, "does-not-exist")
		test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)

		updates, unsubscribe, err := s.SubscribeCall(ctx, rec.ID)
		test.That(t, err, test.ShouldBeNil)

		first := receiveUntil(t, updates, func(*call.Record) bool { return true })
		test.That(t, first.ID, test.ShouldEqual, rec.ID)
		test.That(t, first.Status, test.ShouldEqual, call.StatusRinging)

		offer := &call.SessionDescription{Type: "offer", SDP: "offer-sdp"}
		test.That(t, s.UpdateCall(ctx, rec.ID, call.Update{Offer: offer}), test.ShouldBeNil)
		got := receiveUntil(t, updates, func(r *call.Record) bool { return r.Offer != nil })
		test.That(t, got.Offer, test.ShouldResemble, offer)

		for i := 1; i <= 5; i++ {
			cands := make([]call.ICECandidate, 0, i)
			for j := 0; j < i; j++ {
				cands = append(cands, candidate(callsignal.RandomAlphaString(4)))
			}
			test.That(t, s.UpdateCall(ctx, rec.ID, call.CandidatesUpdate(call.FieldOfferCandidates, cands)), test.ShouldBeNil)
		}
		// slow subscribers may skip records but always see the latest
		got = receiveUntil(t, updates, func(r *call.Record) bool { return len(r.OfferCandidates) == 5 })
		test.That(t, got.Offer, test.ShouldResemble, offer)

		test.That(t, s.UpdateCall(ctx, rec.ID, call.EndUpdate()), test.ShouldBeNil)
		receiveUntil(t, updates, func(r *call.Record) bool { return r.Ended() })

		unsubscribe()
		unsubscribe()
		waitClosed(t, updates)
	})

	t.Run("subscribe context", func(t *testing.T) {
		s, teardown := setupStore(t)
		defer teardown()

		callerID, calleeID := newUsers()
		rec, err := s.CreateCall(context.Background(), &call.Record{CallerID: callerID, CalleeID: calleeID})
		test.That(t, err, test.ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		updates, unsubscribe, err := s.SubscribeCall(ctx, rec.ID)
		test.That(t, err, test.ShouldBeNil)
		defer unsubscribe()
		cancel()
		waitClosed(t, updates)
	})

	t.Run("incoming", func(t *testing.T) {
		s, teardown := setupStore(t)
		defer teardown()

		ctx := context.Background()
		callerID, calleeID := newUsers()
		otherCallerID, otherCalleeID := newUsers()

		incoming, unsubscribe, err := s.ListenIncomingCalls(ctx, calleeID)
		test.That(t, err, test.ShouldBeNil)
		defer unsubscribe()

		recs := receiveUntil(t, incoming, func([]*call.Record) bool { return true })
		test.That(t, recs, test.ShouldBeEmpty)

		first, err := s.CreateCall(ctx, &call.Record{CallerID: callerID, CalleeID: calleeID})
		test.That(t, err, test.ShouldBeNil)
		_, err = s.CreateCall(ctx, &call.Record{CallerID: otherCallerID, CalleeID: otherCalleeID})
		test.That(t, err, test.ShouldBeNil)
		// creation times have millisecond precision
		time.Sleep(5 * time.Millisecond)
		second, err := s.CreateCall(ctx, &call.Record{CallerID: otherCallerID, CalleeID: calleeID})
		test.That(t, err, test.ShouldBeNil)

		recs = receiveUntil(t, incoming, func(recs []*call.Record) bool { return len(recs) == 2 })
		test.That(t, recs[0].ID, test.ShouldEqual, first.ID)
		test.That(t, recs[1].ID, test.ShouldEqual, second.ID)

		test.That(t, s.UpdateCall(ctx, first.ID, call.EndUpdate()), test.ShouldBeNil)
		recs = receiveUntil(t, incoming, func(recs []*call.Record) bool { return len(recs) == 1 })
		test.That(t, recs[0].ID, test.ShouldEqual, second.ID)

		test.That(t, s.UpdateCall(ctx, second.ID, call.Update{Status: call.StatusConnected.Ptr()}), test.ShouldBeNil)
		receiveUntil(t, incoming, func(recs []*call.Record) bool { return len(recs) == 0 })

		unsubscribe()
		waitClosed(t, incoming)
	})

	t.Run("close", func(t *testing.T) {
		s, teardown := setupStore(t)
		defer teardown()

		ctx := context.Background()
		callerID, calleeID := newUsers()
		rec, err := s.CreateCall(ctx, &call.Record{CallerID: callerID, CalleeID: calleeID})
		test.That(t, err, test.ShouldBeNil)

		updates, unsubscribe, err := s.SubscribeCall(ctx, rec.ID)
		test.That(t, err, test.ShouldBeNil)
		defer unsubscribe()
		incoming, unsubscribeIncoming, err := s.ListenIncomingCalls(ctx, calleeID)
		test.That(t, err, test.ShouldBeNil)
		defer unsubscribeIncoming()

		test.That(t, s.Close(), test.ShouldBeNil)
		waitClosed(t, updates)
		waitClosed(t, incoming)

		_, err = s.GetCall(ctx, rec.ID)
		test.That(t, errors.Is(err, ErrClosed), test.ShouldBeTrue)
		_, err = s.CreateCall(ctx, &call.Record{CallerID: callerID, CalleeID: calleeID})
		test.That(t, errors.Is(err, ErrClosed), test.ShouldBeTrue)
	})
}
