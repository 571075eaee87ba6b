// =============================================================================
// IN-MEMORY STORAGE - Testing/Demo Implementation
// =============================================================================
//
// Nothing here reaches disk. A restart loses every promise, which is fine for
// tests and demos and unsafe anywhere else.
//
// =============================================================================

package storage

import (
	"sync"

	"github.com/senutpal/synod/internal/paxos"
)

type MemoryStorage struct {
	mu       sync.RWMutex
	promised paxos.ProposalNumber
	accepted *paxos.Proposal
	issued   paxos.ProposalNumber
	closed   bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) SavePromised(n paxos.ProposalNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.promised = n
	return nil
}

func (m *MemoryStorage) LoadPromised() (paxos.ProposalNumber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.promised, nil
}

func (m *MemoryStorage) SaveAccepted(p paxos.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.accepted = &p
	return nil
}

func (m *MemoryStorage) LoadAccepted() (*paxos.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.accepted == nil {
		return nil, nil
	}
	p := *m.accepted
	return &p, nil
}

func (m *MemoryStorage) SaveIssued(n paxos.ProposalNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.issued = n
	return nil
}

func (m *MemoryStorage) LoadIssued() (paxos.ProposalNumber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.issued, nil
}

// Close makes further saves fail. Loaded state stays readable so a node can
// be "restarted" over the same storage.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reset simulates losing the disk.
func (m *MemoryStorage) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promised = 0
	m.accepted = nil
	m.issued = 0
	m.closed = false
}
