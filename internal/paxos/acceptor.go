// =============================================================================
// ACCEPTOR - The Safety Guardian of Paxos
// =============================================================================
//
// Acceptors are the voters. Each keeps one record:
//
//   LastPromise   the highest number it promised; never decreases
//   LastAccepted  the last proposal it accepted, or nil
//
// THE TWO RULES OF AN ACCEPTOR
//
// RULE 1: PROMISE RULE
//         Promise n only if n > LastPromise. A Prepare at or below the
//         promise gets no answer at all (a redelivery of the exact promised
//         number is answered again, identically).
//
// RULE 2: ACCEPTANCE RULE
//         Accept (c, n) iff n >= LastPromise. Accepting does not raise
//         LastPromise, and it does not matter what was accepted before.
//
// Rule 2 is commonly over-tightened into "reject if n < LastAccepted.Number".
// That check is not needed for safety. The promise floor is the only gate.
//
// =============================================================================
// THE SUBTLE COMPARISON (>= vs >)
// =============================================================================
//
// In OnPrepare: n > LastPromise, strictly. Equal means we already promised it.
// In OnPropose: n >= LastPromise. If we promised n we must be able to accept n.
//
// =============================================================================
// DURABILITY
// =============================================================================
//
// Every change is written to the Store BEFORE the in-memory record changes and
// BEFORE any response is produced. A store failure leaves the record untouched
// and is returned; the caller must stop participating.
//
// =============================================================================

package paxos

import "fmt"

// AcceptorRecord is an acceptor's durable state.
type AcceptorRecord struct {
	LastPromise  ProposalNumber `json:"last_promise"`
	LastAccepted *Proposal      `json:"last_accepted,omitempty"`
}

// Store persists an acceptor record. Saves must be durable when they return.
type Store interface {
	SavePromised(n ProposalNumber) error
	LoadPromised() (ProposalNumber, error)
	SaveAccepted(p Proposal) error
	LoadAccepted() (*Proposal, error)
}

// Acceptor handles inbound Prepare and Propose for one process. It is not
// safe for concurrent use.
type Acceptor struct {
	id       ProcessID
	store    Store
	promise  ProposalNumber
	accepted *Proposal

	// response issued for promise, replayed on redelivery
	promised *PrepareResponse
}

// NewAcceptor restores the acceptor for id from store. A nil store keeps the
// record in memory only.
func NewAcceptor(id ProcessID, store Store) (*Acceptor, error) {
	a := &Acceptor{id: id, store: store}
	if store == nil {
		return a, nil
	}
	promise, err := store.LoadPromised()
	if err != nil {
		return nil, fmt.Errorf("load promise for %s: %w", id, err)
	}
	accepted, err := store.LoadAccepted()
	if err != nil {
		return nil, fmt.Errorf("load accepted for %s: %w", id, err)
	}
	a.promise = promise
	a.accepted = accepted
	return a, nil
}

// OnPrepare applies an inbound Prepare. ok is false when the Prepare is stale
// and must go unanswered.
func (a *Acceptor) OnPrepare(m Prepare) (resp PrepareResponse, ok bool, err error) {
	switch {
	case m.Number.IsZero() || m.Number < a.promise:
		return PrepareResponse{}, false, nil
	case m.Number == a.promise:
		if a.promised == nil {
			// promise came from the store; rebuild what we answered
			a.promised = a.response(m.Number)
		}
		return *a.promised, true, nil
	}
	if a.store != nil {
		if err := a.store.SavePromised(m.Number); err != nil {
			return PrepareResponse{}, false, fmt.Errorf("save promise %s: %w", m.Number, err)
		}
	}
	a.promise = m.Number
	a.promised = a.response(m.Number)
	return *a.promised, true, nil
}

// OnPropose applies an inbound Propose and reports whether it was accepted.
func (a *Acceptor) OnPropose(m Propose) (bool, error) {
	p := m.Proposal
	if p.Number.IsZero() || p.Number < a.promise {
		return false, nil
	}
	if a.accepted != nil && *a.accepted == p {
		return true, nil
	}
	if a.store != nil {
		if err := a.store.SaveAccepted(p); err != nil {
			return false, fmt.Errorf("save accepted %s: %w", p, err)
		}
	}
	a.accepted = &p
	return true, nil
}

// Record returns a copy of the current record.
func (a *Acceptor) Record() AcceptorRecord {
	r := AcceptorRecord{LastPromise: a.promise}
	if a.accepted != nil {
		p := *a.accepted
		r.LastAccepted = &p
	}
	return r
}

func (a *Acceptor) ID() ProcessID { return a.id }

func (a *Acceptor) response(n ProposalNumber) *PrepareResponse {
	r := &PrepareResponse{Number: n, From: a.id}
	if a.accepted != nil {
		p := *a.accepted
		r.HighestAccepted = &p
	}
	return r
}
