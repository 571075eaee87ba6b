// =============================================================================
// STORAGE - Durable State for Acceptors and Learners
// =============================================================================
//
// Three kinds of state need to outlive a process:
//
// 1. The acceptor record (LastPromise, LastAccepted). If an acceptor forgets
//    a promise it may accept below it; if it forgets an acceptance it may
//    hide a chosen value from the next proposer. Both break safety.
//
// 2. The proposer's last issued number. A restarted proposer that reuses a
//    number can get a second command accepted under it.
//
// 3. Decisions. The detector only says "chosen right now"; a learner that
//    wants to remember the answer writes it down itself.
//
// Implementations here:
//
//   MemoryStorage  acceptor record in memory (tests, demos)
//   FileStorage    acceptor record as a JSON file, fsync'd, atomically replaced
//   DecisionLog    append-only JSON lines of chosen commands, fsync'd
//
// =============================================================================
// INVARIANT THIS FILE MUST UPHOLD
// =============================================================================
//
// INVARIANT: after Save returns nil, the data survives a crash.
//
// =============================================================================

package storage

import (
	"errors"

	"github.com/senutpal/synod/internal/paxos"
)

var ErrClosed = errors.New("storage closed")

// Storage holds everything one process persists: its acceptor record and
// its proposer's last issued number.
type Storage interface {
	paxos.Store
	paxos.IssuedStore
	Close() error
}

var (
	_ Storage           = (*MemoryStorage)(nil)
	_ Storage           = (*FileStorage)(nil)
	_ paxos.LearnerSink = (*DecisionLog)(nil)
)
