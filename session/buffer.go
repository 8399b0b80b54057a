package session

import (
	"slices"

	"go.viam.com/callsignal/call"
)

// DefaultMaxPendingCandidates bounds how many remote candidates are held while waiting
// for the remote description.
const DefaultMaxPendingCandidates = 128

// A CandidateBuffer tracks the candidates flowing in both directions for one session.
//
// Remote candidates are taken from the other participant's field of each snapshot. Only
// entries past the high-water mark are new; they wait in arrival order until Flush can
// apply them. Local candidates are appended to the array last written to our own field.
// A CandidateBuffer is not safe for concurrent use; the session's event loop owns it.
type CandidateBuffer struct {
	maxPending int

	seen    int
	pending []call.ICECandidate

	written []call.ICECandidate
}

// NewCandidateBuffer returns a buffer holding at most maxPending unapplied remote
// candidates. Zero or less means DefaultMaxPendingCandidates.
func NewCandidateBuffer(maxPending int) *CandidateBuffer {
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingCandidates
	}
	return &CandidateBuffer{maxPending: maxPending}
}

// Observe queues the remote candidates not seen before. Snapshots repeating or
// shortening the sequence add nothing.
func (b *CandidateBuffer) Observe(remote []call.ICECandidate) error {
	if len(remote) <= b.seen {
		return nil
	}
	b.pending = append(b.pending, remote[b.seen:]...)
	b.seen = len(remote)
	if len(b.pending) > b.maxPending {
		return ErrCandidateBufferOverflow
	}
	return nil
}

// Flush applies the pending remote candidates in arrival order. A candidate is dropped
// from the buffer only once applied, so a failed flush can be resumed.
func (b *CandidateBuffer) Flush(apply func(call.ICECandidate) error) error {
	for len(b.pending) > 0 {
		if err := apply(b.pending[0]); err != nil {
			return err
		}
		b.pending = b.pending[1:]
	}
	b.pending = nil
	return nil
}

// Discard marks everything observed as handled without applying it.
func (b *CandidateBuffer) Discard() {
	b.pending = nil
}

// Applied returns how many remote candidates have been handled.
func (b *CandidateBuffer) Applied() int {
	return b.seen - len(b.pending)
}

// Pending returns how many remote candidates are waiting.
func (b *CandidateBuffer) Pending() int {
	return len(b.pending)
}

// NextOutgoing returns the sequence to write for a new local candidate. The base is the
// longer of the latest stored sequence and the one we last wrote, so neither a stale
// snapshot nor a lagging store drops an entry.
func (b *CandidateBuffer) NextOutgoing(latest []call.ICECandidate, candidate call.ICECandidate) []call.ICECandidate {
	base := b.written
	if len(latest) > len(base) {
		base = latest
	}
	next := make([]call.ICECandidate, 0, len(base)+1)
	next = append(next, base...)
	return append(next, candidate)
}

// Written records a sequence that was stored.
func (b *CandidateBuffer) Written(sequence []call.ICECandidate) {
	if len(sequence) > len(b.written) {
		b.written = slices.Clone(sequence)
	}
}

// WrittenCount returns the length of the last stored local sequence.
func (b *CandidateBuffer) WrittenCount() int {
	return len(b.written)
}
