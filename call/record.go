// Package call defines the call record shared by both participants of a call and
// the rules both of them follow when reading and mutating it.
package call

import (
	"slices"
	"time"
)

// Status is the lifecycle status of a call.
type Status string

// The call statuses. A call only moves forward: ringing to connected, and either of them to ended.
const (
	StatusRinging   = Status("ringing")
	StatusConnected = Status("connected")
	StatusEnded     = Status("ended")
)

// Valid returns whether the status is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusConnected, StatusEnded:
		return true
	default:
		return false
	}
}

// Ptr returns a pointer to a copy of the status for use in an Update.
func (s Status) Ptr() *Status {
	return &s
}

// SessionDescription is an SDP offer or answer as produced by a transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a trickled ICE candidate.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// A Record is the shared document both participants of a call read and merge-update.
type Record struct {
	ID               string              `json:"id"`
	CallerID         string              `json:"callerId"`
	CalleeID         string              `json:"calleeId"`
	CallerName       string              `json:"callerName"`
	CalleeName       string              `json:"calleeName"`
	Status           Status              `json:"status"`
	Offer            *SessionDescription `json:"offer,omitempty"`
	Answer           *SessionDescription `json:"answer,omitempty"`
	OfferCandidates  []ICECandidate      `json:"offerCandidates,omitempty"`
	AnswerCandidates []ICECandidate      `json:"answerCandidates,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cloned := *r
	if r.Offer != nil {
		offer := *r.Offer
		cloned.Offer = &offer
	}
	if r.Answer != nil {
		answer := *r.Answer
		cloned.Answer = &answer
	}
	cloned.OfferCandidates = slices.Clone(r.OfferCandidates)
	cloned.AnswerCandidates = slices.Clone(r.AnswerCandidates)
	return &cloned
}

// Candidates returns the candidates stored in the given field.
func (r *Record) Candidates(field CandidateField) []ICECandidate {
	switch field {
	case FieldOfferCandidates:
		return r.OfferCandidates
	case FieldAnswerCandidates:
		return r.AnswerCandidates
	default:
		return nil
	}
}

// Ended returns whether the call has reached its terminal status.
func (r *Record) Ended() bool {
	return r.Status == StatusEnded
}
