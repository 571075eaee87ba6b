package paxos

import (
	"errors"
	"testing"
)

func members(t *testing.T, ids ...ProcessID) *Membership {
	t.Helper()
	m, err := NewMembership(ids...)
	if err != nil {
		t.Fatalf("NewMembership(%v): %v", ids, err)
	}
	return m
}

// expectViolation runs f and fails unless it panics with the given kind.
func expectViolation(t *testing.T, kind ViolationKind, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected %s panic, got none", kind)
		}
		v, ok := r.(*ViolationError)
		if !ok {
			t.Fatalf("expected *ViolationError, got %T: %v", r, r)
		}
		if v.Kind != kind {
			t.Fatalf("expected %s, got %s", kind, v.Kind)
		}
	}()
	f()
}

type memStore struct {
	promise  ProposalNumber
	accepted *Proposal
	saves    int
	fail     error
}

func (s *memStore) SavePromised(n ProposalNumber) error {
	if s.fail != nil {
		return s.fail
	}
	s.saves++
	s.promise = n
	return nil
}

func (s *memStore) LoadPromised() (ProposalNumber, error) { return s.promise, nil }

func (s *memStore) SaveAccepted(p Proposal) error {
	if s.fail != nil {
		return s.fail
	}
	s.saves++
	s.accepted = &p
	return nil
}

func (s *memStore) LoadAccepted() (*Proposal, error) { return s.accepted, nil }

var errDisk = errors.New("disk on fire")
