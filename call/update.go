package call

import (
	"slices"

	"github.com/pkg/errors"
)

var (
	// ErrEnded is returned when an update would act on or reopen an ended call.
	ErrEnded = errors.New("call has ended")
	// ErrAnswerBeforeOffer is returned when an answer is written to a record without an offer.
	ErrAnswerBeforeOffer = errors.New("answer cannot be set before offer")
	// ErrDescriptionAlreadySet is returned when an offer or answer would be replaced.
	ErrDescriptionAlreadySet = errors.New("session description already set")
	// ErrCandidatesRewritten is returned when a candidate sequence would lose entries.
	ErrCandidatesRewritten = errors.New("candidate sequences are append-only")
)

// An Update is a partial record. Only the fields that are set are written; a nil
// candidate slice leaves the stored sequence untouched.
type Update struct {
	Status           *Status
	Offer            *SessionDescription
	Answer           *SessionDescription
	OfferCandidates  []ICECandidate
	AnswerCandidates []ICECandidate

	// UnlessEnded makes the update conditional on the call not having ended.
	UnlessEnded bool
}

// EndUpdate returns the conditional update that ends a call.
func EndUpdate() Update {
	return Update{Status: StatusEnded.Ptr(), UnlessEnded: true}
}

// CandidatesUpdate returns an update replacing the given candidate field.
func CandidatesUpdate(field CandidateField, candidates []ICECandidate) Update {
	update := Update{UnlessEnded: true}
	switch field {
	case FieldOfferCandidates:
		update.OfferCandidates = candidates
	case FieldAnswerCandidates:
		update.AnswerCandidates = candidates
	}
	return update
}

// IsEmpty returns whether the update would change nothing.
func (u Update) IsEmpty() bool {
	return u.Status == nil && u.Offer == nil && u.Answer == nil &&
		u.OfferCandidates == nil && u.AnswerCandidates == nil
}

// Validate checks the update on its own, without a record to apply it to.
func (u Update) Validate() error {
	if u.Status != nil && !u.Status.Valid() {
		return errors.Errorf("invalid status %q", *u.Status)
	}
	return nil
}

// Check reports whether the update may be applied to the record without
// breaking any of the record's invariants.
func (u Update) Check(rec *Record) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if rec.Status == StatusEnded {
		if u.UnlessEnded {
			return ErrEnded
		}
		if u.Status != nil && *u.Status != StatusEnded {
			return ErrEnded
		}
	}
	if u.Offer != nil && rec.Offer != nil && *u.Offer != *rec.Offer {
		return errors.Wrap(ErrDescriptionAlreadySet, "offer")
	}
	if u.Answer != nil {
		if rec.Offer == nil && u.Offer == nil {
			return ErrAnswerBeforeOffer
		}
		if rec.Answer != nil && *u.Answer != *rec.Answer {
			return errors.Wrap(ErrDescriptionAlreadySet, "answer")
		}
	}
	if u.OfferCandidates != nil && len(u.OfferCandidates) < len(rec.OfferCandidates) {
		return errors.Wrap(ErrCandidatesRewritten, string(FieldOfferCandidates))
	}
	if u.AnswerCandidates != nil && len(u.AnswerCandidates) < len(rec.AnswerCandidates) {
		return errors.Wrap(ErrCandidatesRewritten, string(FieldAnswerCandidates))
	}
	return nil
}

// Apply merges the update into the record after checking it.
func (u Update) Apply(rec *Record) error {
	if err := u.Check(rec); err != nil {
		return err
	}
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.Offer != nil {
		offer := *u.Offer
		rec.Offer = &offer
	}
	if u.Answer != nil {
		answer := *u.Answer
		rec.Answer = &answer
	}
	if u.OfferCandidates != nil {
		rec.OfferCandidates = slices.Clone(u.OfferCandidates)
	}
	if u.AnswerCandidates != nil {
		rec.AnswerCandidates = slices.Clone(u.AnswerCandidates)
	}
	return nil
}
