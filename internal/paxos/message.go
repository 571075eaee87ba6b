// =============================================================================
// PAXOS MESSAGE TYPES
// =============================================================================
//
// Three messages carry the whole protocol:
//
// ┌──────────────┐   Prepare(n)               ┌──────────────┐
// │   PROPOSER   │ ──────────────────────────▶│   ACCEPTOR   │
// │              │◀────────────────────────── │              │
// │              │   PrepareResponse(n, acc)  │              │
// │              │ ──────────────────────────▶│              │
// └──────────────┘   Propose(cmd, n)          └──────────────┘
//
// There is no Nack and no Accepted reply. A stale Prepare is simply dropped,
// and acceptance is observed by whoever watches the acceptor records.
//
// Prepare and Propose name no sender. The issuer of a proposal number is
// recoverable from the number (see proposal.go), so a PrepareResponse is
// routed to Membership.Owner(number). PrepareResponse carries From so the
// proposer can count distinct respondents.
//
// Messages are values. Nothing mutates a message after it is built; a new
// round builds new messages.
//
// =============================================================================

package paxos

// MessageType tags the message variant.
type MessageType uint8

const (
	MsgPrepare MessageType = iota + 1
	MsgPrepareResponse
	MsgPropose
)

func (t MessageType) String() string {
	switch t {
	case MsgPrepare:
		return "Prepare"
	case MsgPrepareResponse:
		return "PrepareResponse"
	case MsgPropose:
		return "Propose"
	}
	return "INVALID"
}

// Message is implemented by Prepare, PrepareResponse and Propose.
type Message interface {
	Type() MessageType
}

// Prepare asks acceptors to promise not to accept anything below Number.
type Prepare struct {
	Number ProposalNumber `json:"number"`
}

func (Prepare) Type() MessageType { return MsgPrepare }

// PrepareResponse is an acceptor's promise for Number. HighestAccepted is the
// acceptor's last accepted proposal, or nil if it has accepted nothing.
type PrepareResponse struct {
	Number          ProposalNumber `json:"number"`
	From            ProcessID      `json:"from"`
	HighestAccepted *Proposal      `json:"highest_accepted,omitempty"`
}

func (PrepareResponse) Type() MessageType { return MsgPrepareResponse }

// Propose asks acceptors to accept Proposal.
type Propose struct {
	Proposal Proposal `json:"proposal"`
}

func (Propose) Type() MessageType { return MsgPropose }
