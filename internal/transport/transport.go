// =============================================================================
// TRANSPORT INTERFACE - Abstraction for Message Passing
// =============================================================================
//
// Paxos assumes an ASYNCHRONOUS network and is safe under all of it:
//
// - Messages can be delayed arbitrarily
// - Messages can be lost
// - Messages can be reordered
// - Messages can be duplicated
//
// A transport therefore promises very little:
//
// - Send and Broadcast never block. A full or missing inbox loses the message.
// - Broadcast includes the sender: every process is also an acceptor.
// - ReceiveTimeout blocks until a message arrives, the timeout fires, or the
//   transport is closed.
//
// Implementations:
//
//   Network / MemoryTransport   channels inside one process, fault injection
//   UDPTransport                JSON datagrams between processes
//
// =============================================================================
// COMMON BUG TO AVOID
// =============================================================================
//
// BUG: Blocking Send when destination is down
//
// If Send waits for the receiver, one dead peer stalls the whole node. Paxos
// already tolerates lost messages; let the protocol handle it.
//
// =============================================================================

package transport

import (
	"errors"
	"time"

	"github.com/senutpal/synod/internal/paxos"
)

var (
	ErrTimeout     = errors.New("receive timeout")
	ErrClosed      = errors.New("transport closed")
	ErrUnknownNode = errors.New("unknown node")
	ErrInboxFull   = errors.New("inbox full")
)

// Transport moves paxos messages between the members of one cluster.
type Transport interface {
	// ID returns the process this transport belongs to.
	ID() paxos.ProcessID
	Send(to paxos.ProcessID, msg paxos.Message) error
	Broadcast(msg paxos.Message) error
	ReceiveTimeout(timeout time.Duration) (paxos.Message, error)
	Close() error
}

var (
	_ Transport = (*MemoryTransport)(nil)
	_ Transport = (*UDPTransport)(nil)
)
