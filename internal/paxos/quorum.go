// =============================================================================
// QUORUMS - Majority Sets over a Fixed Membership
// =============================================================================
//
// A quorum is any set of processes larger than half the membership. Any two
// quorums intersect, and that intersection is what carries an accepted value
// from one round into the next.
//
// The test is arithmetic: |Q| > |P|/2. Majority subsets are never enumerated.
//
// =============================================================================

package paxos

import (
	"fmt"
	"sort"
)

// Membership is the fixed set of processes known to everyone at startup.
type Membership struct {
	ids   []ProcessID
	index map[ProcessID]int
}

// NewMembership builds a membership from distinct, non-empty ids. The order
// given is the order used to assign residue classes, so every process must
// be constructed from the same list.
func NewMembership(ids ...ProcessID) (*Membership, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty membership")
	}
	m := &Membership{
		ids:   make([]ProcessID, len(ids)),
		index: make(map[ProcessID]int, len(ids)),
	}
	for i, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("membership entry %d has an empty id", i)
		}
		if _, dup := m.index[id]; dup {
			return nil, fmt.Errorf("duplicate member %s", id)
		}
		m.ids[i] = id
		m.index[id] = i
	}
	return m, nil
}

// Size returns |P|.
func (m *Membership) Size() int { return len(m.ids) }

// IDs returns the members in residue order.
func (m *Membership) IDs() []ProcessID {
	out := make([]ProcessID, len(m.ids))
	copy(out, m.ids)
	return out
}

func (m *Membership) Contains(id ProcessID) bool {
	_, ok := m.index[id]
	return ok
}

// Index returns the residue class assigned to id.
func (m *Membership) Index(id ProcessID) (int, bool) {
	i, ok := m.index[id]
	return i, ok
}

// Owner returns the process that issued n.
func (m *Membership) Owner(n ProposalNumber) (ProcessID, bool) {
	if n.IsZero() {
		return "", false
	}
	return m.ids[(uint64(n)-1)%uint64(len(m.ids))], true
}

// IsQuorum reports whether k distinct members form a majority.
func (m *Membership) IsQuorum(k int) bool {
	return k > len(m.ids)/2
}

// IsQuorumSet reports whether ids contains a majority of distinct members.
// Non-members are ignored.
func (m *Membership) IsQuorumSet(ids []ProcessID) bool {
	seen := make(map[ProcessID]struct{}, len(ids))
	for _, id := range ids {
		if m.Contains(id) {
			seen[id] = struct{}{}
		}
	}
	return m.IsQuorum(len(seen))
}

// HighestAccepted returns the accepted proposal with the highest number among
// the responses, or false when none of them carries one.
//
// Two responses reporting different commands under the same number mean two
// acceptors accepted conflicting proposals; that panics.
func HighestAccepted(responses []PrepareResponse) (Proposal, bool) {
	var (
		best  Proposal
		found bool
	)
	seen := make(map[ProposalNumber]Command, len(responses))
	for _, r := range responses {
		if r.HighestAccepted == nil {
			continue
		}
		p := *r.HighestAccepted
		if c, ok := seen[p.Number]; ok && c != p.Command {
			panic(&ViolationError{
				Kind:   ConflictingAccept,
				Detail: fmt.Sprintf("%q and %q both accepted at %s", c, p.Command, p.Number),
			})
		}
		seen[p.Number] = p.Command
		if !found || p.Number > best.Number {
			best, found = p, true
		}
	}
	return best, found
}

// sortedResponses orders responses by sender so selection never depends on
// arrival order.
func sortedResponses(byFrom map[ProcessID]PrepareResponse) []PrepareResponse {
	out := make([]PrepareResponse, 0, len(byFrom))
	for _, r := range byFrom {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}
