// =============================================================================
// PROPOSAL NUMBERS - The Foundation of Paxos Ordering
// =============================================================================
//
// A proposal number totally orders every proposal made by every process.
// Higher numbers win. No two processes may ever issue the same number.
//
// Numbers are plain integers laid out in residue classes:
//
//   n = round * |P| + index(p) + 1
//
// so process p only ever issues numbers n with (n-1) mod |P| == index(p).
// The owner of any number can be recovered from the number itself, which is
// how a PrepareResponse finds its way back without the Prepare naming a
// sender. Zero is never issued and stands for "no promise made".
//
// Example ordering with P = {a, b, c}:
//
//   a: 1, 4, 7, ...    b: 2, 5, 8, ...    c: 3, 6, 9, ...
//
// =============================================================================
// INVARIANT THIS FILE MUST UPHOLD
// =============================================================================
//
// INVARIANT: Proposal numbers are GLOBALLY UNIQUE and each process's numbers
//            strictly increase.
//
// Uniqueness is structural, not coordinated: two processes cannot land in the
// same residue class because Membership rejects duplicate identities.
//
// =============================================================================

package paxos

import (
	"fmt"
	"math"
)

// ProcessID identifies one member of the fixed process set.
type ProcessID string

// Command is an opaque value drawn from the candidate set.
type Command string

// ProposalNumber orders proposals. The zero value means "none".
type ProposalNumber uint64

// IsZero reports whether n is the "no promise made" sentinel.
func (n ProposalNumber) IsZero() bool { return n == 0 }

func (n ProposalNumber) String() string { return fmt.Sprintf("#%d", uint64(n)) }

// Proposal is an immutable (command, number) pair.
type Proposal struct {
	Command Command        `json:"command"`
	Number  ProposalNumber `json:"number"`
}

func (p Proposal) String() string {
	return fmt.Sprintf("(%q, %s)", string(p.Command), p.Number)
}

// Allocator issues proposal numbers for a single process.
type Allocator struct {
	self  ProcessID
	index uint64
	size  uint64
	round uint64
	last  ProposalNumber
}

// NewAllocator returns the allocator for self. self must be a member.
func NewAllocator(members *Membership, self ProcessID) (*Allocator, error) {
	idx, ok := members.Index(self)
	if !ok {
		return nil, fmt.Errorf("allocator for %s: %w", self, ErrNotMember)
	}
	return &Allocator{
		self:  self,
		index: uint64(idx),
		size:  uint64(members.Size()),
	}, nil
}

// Next returns a number strictly greater than anything previously returned
// by this allocator.
func (a *Allocator) Next() ProposalNumber {
	if a.round > (math.MaxUint64-a.index-1)/a.size {
		panic(&ViolationError{
			Kind:   NumberOverflow,
			Detail: fmt.Sprintf("%s exhausted proposal rounds at %s", a.self, a.last),
		})
	}
	n := ProposalNumber(a.round*a.size + a.index + 1)
	a.round++
	a.last = n
	return n
}

// Observe advances the round counter so the next number exceeds n.
func (a *Allocator) Observe(n ProposalNumber) {
	if n.IsZero() {
		return
	}
	// smallest round whose number in our class is > n
	r := (uint64(n) - 1) / a.size
	if a.index+1 <= (uint64(n)-1)%a.size+1 {
		r++
	}
	if r > a.round {
		a.round = r
	}
}

// Owns reports whether n falls in this allocator's residue class.
func (a *Allocator) Owns(n ProposalNumber) bool {
	return !n.IsZero() && (uint64(n)-1)%a.size == a.index
}
