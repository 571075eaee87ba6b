// =============================================================================
// PROPOSER - The Driver of Paxos Rounds
// =============================================================================
//
// A round is one proposal number. The proposer moves through:
//
//   idle ──Prepare()──▶ awaiting promises ──majority──▶ ready ──Propose()──▶ idle
//     ▲                                                                        │
//     └────────────────────────── Prepare() (any time) ───────────────────────┘
//
// Calling Prepare() again abandons the current round. There is no cancel
// message: responses that name an older number are discarded on arrival.
//
// Nothing here waits. HandlePrepareResponse re-evaluates the quorum predicate
// on every inbound response and reports when Propose may be called. Retry and
// backoff belong to whoever calls Prepare().
//
// =============================================================================
// THE CRITICAL SAFETY RULE
// =============================================================================
//
// If any response in the quorum carries an accepted proposal, the proposer
// MUST re-propose the command of the highest-numbered one, verbatim. Only
// when none of them carries one may it pick a fresh command.
//
// Example (5 processes, quorum of 3):
//   a: nothing accepted
//   b: accepted (X, 5)
//   c: accepted (Y, 3)
//
//   Wrong: propose our own value because "2 of 3 accepted nothing".
//   Right: propose X, because 5 > 3.
//
// =============================================================================

package paxos

import "fmt"

// CommandSource supplies the command used when no accepted value is
// recovered.
type CommandSource interface {
	Pending() (Command, bool)
}

// IssuedStore persists the highest number a proposer has issued. The
// acceptor record alone cannot stand in for it: a process's own acceptor may
// never have seen the Prepare.
type IssuedStore interface {
	SaveIssued(n ProposalNumber) error
	LoadIssued() (ProposalNumber, error)
}

// Proposer drives rounds for one process. It is not safe for concurrent use.
type Proposer struct {
	id       ProcessID
	members  *Membership
	alloc    *Allocator
	current  ProposalNumber
	proposed bool

	// numbers at or below floor may have been issued before a restart
	floor ProposalNumber

	// responses for current only; cleared by Prepare
	responses map[ProcessID]PrepareResponse
}

func NewProposer(members *Membership, self ProcessID) (*Proposer, error) {
	alloc, err := NewAllocator(members, self)
	if err != nil {
		return nil, err
	}
	return &Proposer{
		id:        self,
		members:   members,
		alloc:     alloc,
		responses: make(map[ProcessID]PrepareResponse),
	}, nil
}

// Prepare starts a new round and returns the message to broadcast.
func (p *Proposer) Prepare() Prepare {
	n := p.alloc.Next()
	if n <= p.current {
		panic(&ViolationError{
			Kind:   DuplicateNumber,
			Detail: fmt.Sprintf("%s allocated %s after %s", p.id, n, p.current),
		})
	}
	p.current = n
	p.proposed = false
	p.responses = make(map[ProcessID]PrepareResponse, p.members.Size())
	return Prepare{Number: n}
}

// HandlePrepareResponse records r if it belongs to the current round and
// reports whether Propose's precondition now holds.
func (p *Proposer) HandlePrepareResponse(r PrepareResponse) bool {
	if r.Number.IsZero() || r.Number != p.current || !p.members.Contains(r.From) {
		return false
	}
	if _, dup := p.responses[r.From]; !dup {
		p.responses[r.From] = r
	}
	return p.Ready()
}

// Ready reports whether a majority promised the current number and nothing
// has been proposed under it yet.
func (p *Proposer) Ready() bool {
	return !p.current.IsZero() && !p.proposed && p.members.IsQuorum(len(p.responses))
}

// Propose selects the command for the current round and returns the message
// to broadcast.
func (p *Proposer) Propose(source CommandSource) (Propose, error) {
	if p.proposed {
		return Propose{}, fmt.Errorf("propose %s: %w", p.current, ErrAlreadyProposed)
	}
	if p.current.IsZero() || !p.members.IsQuorum(len(p.responses)) {
		return Propose{}, fmt.Errorf("propose %s with %d responses: %w", p.current, len(p.responses), ErrNoQuorum)
	}
	cmd, err := p.choose(source)
	if err != nil {
		return Propose{}, err
	}
	p.proposed = true
	return Propose{Proposal: Proposal{Command: cmd, Number: p.current}}, nil
}

func (p *Proposer) choose(source CommandSource) (Command, error) {
	if prior, ok := HighestAccepted(sortedResponses(p.responses)); ok {
		return prior.Command, nil
	}
	if source != nil {
		if cmd, ok := source.Pending(); ok {
			return cmd, nil
		}
	}
	return "", fmt.Errorf("propose %s: %w", p.current, ErrNoCommand)
}

// Observe lets a number seen from a competitor push our next round past it.
func (p *Proposer) Observe(n ProposalNumber) { p.alloc.Observe(n) }

// Recover is called after a restart with the highest number found in durable
// state. Later rounds start above it and own-class numbers up to it are
// treated as issued by us.
func (p *Proposer) Recover(n ProposalNumber) {
	p.alloc.Observe(n)
	if n > p.floor {
		p.floor = n
	}
}

// Issued reports whether n is in our residue class and not above anything we
// have issued. A number in our class above that was issued by someone else.
func (p *Proposer) Issued(n ProposalNumber) bool {
	return p.alloc.Owns(n) && (n <= p.current || n <= p.floor)
}

// Owns reports whether n is in our residue class.
func (p *Proposer) Owns(n ProposalNumber) bool { return p.alloc.Owns(n) }

// CurrentNumber returns the number of the latest round, or zero.
func (p *Proposer) CurrentNumber() ProposalNumber { return p.current }

// Proposed reports whether a Propose went out for the current round.
func (p *Proposer) Proposed() bool { return p.proposed }

// Responses returns how many distinct promises the current round has.
func (p *Proposer) Responses() int { return len(p.responses) }
