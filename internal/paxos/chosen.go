// =============================================================================
// CHOSEN DETECTION - Deriving the Decision from Acceptor Records
// =============================================================================
//
// A command c is chosen when some majority Q and some number n exist such that
// every member of Q has LastAccepted == (c, n).
//
// This is a predicate over the live acceptor records, nothing more. It is not
// stable: an acceptor can later accept (c, m) with m > n, and for a while no
// majority agrees on one number even though c is still the only command that
// can ever be chosen. Agreement is the property that holds:
//
//   once c has been observed chosen, no d != c is ever observed chosen.
//
// The Detector therefore keeps two things apart:
//
//   IsChosen(c)  recomputed from the current snapshot on every call
//   Chosen()     every command ever observed chosen (grows, never shrinks)
//
// Recording the decision durably is the job of the LearnerSink.
//
// =============================================================================
// COMMON BUG TO AVOID
// =============================================================================
//
// BUG: Counting acceptors, not (number, command) pairs
//
//   a: accepted (X, 5)
//   b: accepted (X, 7)
//   c: accepted (Y, 6)
//
// Wrong: "X has two of three, quorum reached".
// Right: no number has a majority, so nothing is chosen yet.
//
// =============================================================================

package paxos

import (
	"fmt"
	"sync"
)

// LearnerSink receives each command the first time it is observed chosen.
type LearnerSink interface {
	OnChosen(cmd Command)
}

// SinkFunc adapts a function to LearnerSink.
type SinkFunc func(cmd Command)

func (f SinkFunc) OnChosen(cmd Command) { f(cmd) }

// IsChosen reports whether a majority of members have accepted cmd under one
// proposal number in records.
func IsChosen(members *Membership, records map[ProcessID]Proposal, cmd Command) bool {
	counts := make(map[ProposalNumber]int)
	for id, p := range records {
		if p.Command != cmd || !members.Contains(id) {
			continue
		}
		counts[p.Number]++
		if members.IsQuorum(counts[p.Number]) {
			return true
		}
	}
	return false
}

// Detector tracks the last accepted proposal of every process. It is safe
// for concurrent use.
type Detector struct {
	members *Membership

	mu      sync.Mutex
	records map[ProcessID]Proposal
	chosen  []Command
	seen    map[Command]bool
	sinks   []LearnerSink
}

func NewDetector(members *Membership, sinks ...LearnerSink) *Detector {
	return &Detector{
		members: members,
		records: make(map[ProcessID]Proposal, members.Size()),
		seen:    make(map[Command]bool),
		sinks:   sinks,
	}
}

// Subscribe adds a sink. Commands already chosen are not replayed.
func (d *Detector) Subscribe(s LearnerSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Accepted replaces from's record with p and re-evaluates. Sinks are called
// after the detector's lock is released.
func (d *Detector) Accepted(from ProcessID, p Proposal) {
	d.mu.Lock()
	if !d.members.Contains(from) {
		d.mu.Unlock()
		return
	}
	for id, other := range d.records {
		if other.Number == p.Number && other.Command != p.Command {
			d.mu.Unlock()
			panic(&ViolationError{
				Kind:   ConflictingAccept,
				Detail: fmt.Sprintf("%s accepted %s but %s accepted %s", id, other, from, p),
			})
		}
	}
	d.records[from] = p
	var fresh []Command
	if !d.seen[p.Command] && IsChosen(d.members, d.records, p.Command) {
		d.seen[p.Command] = true
		d.chosen = append(d.chosen, p.Command)
		fresh = append(fresh, p.Command)
	}
	sinks := append([]LearnerSink(nil), d.sinks...)
	d.mu.Unlock()

	for _, cmd := range fresh {
		for _, s := range sinks {
			s.OnChosen(cmd)
		}
	}
}

// IsChosen recomputes the predicate for cmd over the current records.
func (d *Detector) IsChosen(cmd Command) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return IsChosen(d.members, d.records, cmd)
}

// Chosen returns every command observed chosen so far, in order of discovery.
func (d *Detector) Chosen() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.chosen...)
}

// Records returns a copy of the current snapshot.
func (d *Detector) Records() map[ProcessID]Proposal {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[ProcessID]Proposal, len(d.records))
	for id, p := range d.records {
		out[id] = p
	}
	return out
}
