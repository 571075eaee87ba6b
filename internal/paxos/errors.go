package paxos

import (
	"errors"
	"fmt"
)

var (
	ErrNotMember       = errors.New("process is not a member")
	ErrNoQuorum        = errors.New("no majority of responses for current number")
	ErrAlreadyProposed = errors.New("already proposed for current number")
	ErrNoCommand       = errors.New("no candidate command available")
)

// ViolationKind names a broken protocol contract.
type ViolationKind int

const (
	// DuplicateNumber: two processes issued the same proposal number.
	DuplicateNumber ViolationKind = iota + 1
	// ConflictingAccept: two different commands accepted under one number.
	ConflictingAccept
	// NumberOverflow: a process ran out of proposal numbers.
	NumberOverflow
)

func (k ViolationKind) String() string {
	switch k {
	case DuplicateNumber:
		return "duplicate proposal number"
	case ConflictingAccept:
		return "conflicting accept"
	case NumberOverflow:
		return "proposal number overflow"
	}
	return "unknown violation"
}

// ViolationError is the panic value raised when continuing could break
// agreement. It is never returned as an ordinary error.
type ViolationError struct {
	Kind   ViolationKind
	Detail string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("paxos: %s: %s", e.Kind, e.Detail)
}
