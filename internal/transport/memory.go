// =============================================================================
// IN-MEMORY TRANSPORT - Testing/Demo Implementation
// =============================================================================
//
// All processes share one Network. Each has a buffered inbox channel; sending
// is a non-blocking channel write.
//
//   ┌─────────┐     channel      ┌─────────┐
//   │  Node A │ ───────────────▶ │  Node B │
//   │  inbox  │ ◀─────────────── │  Send() │
//   └─────────┘     channel      └─────────┘
//
// The Network can misbehave on purpose (Faults): drop, duplicate and delay
// messages (delay also reorders them), and partition pairs of nodes.
//
// NOT FOR PRODUCTION: Only works within a single process!
//
// =============================================================================

package transport

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/senutpal/synod/internal/paxos"
)

const DefaultInboxSize = 1024

// Faults configures how badly a Network delivers.
type Faults struct {
	DropRate      float64       // probability a message is lost
	DuplicateRate float64       // probability a message is delivered twice
	MaxDelay      time.Duration // each delivery is delayed by up to this
}

type link struct{ from, to paxos.ProcessID }

// Network is the registry every MemoryTransport sends through.
type Network struct {
	mu        sync.RWMutex
	inboxes   map[paxos.ProcessID]*MemoryTransport
	order     []paxos.ProcessID
	cut       map[link]bool
	faults    Faults
	inboxSize int

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewNetwork(seed int64) *Network {
	return &Network{
		inboxes:   make(map[paxos.ProcessID]*MemoryTransport),
		cut:       make(map[link]bool),
		inboxSize: DefaultInboxSize,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// SetFaults replaces the fault configuration for subsequent sends.
func (n *Network) SetFaults(f Faults) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faults = f
}

// AddNode registers id and returns its transport. Re-adding an id replaces
// the old transport, which is how a restarted node rejoins.
func (n *Network) AddNode(id paxos.ProcessID) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &MemoryTransport{
		id:      id,
		network: n,
		inbox:   make(chan paxos.Message, n.inboxSize),
		done:    make(chan struct{}),
	}
	if _, ok := n.inboxes[id]; !ok {
		n.order = append(n.order, id)
	}
	n.inboxes[id] = t
	return t
}

// Partition cuts traffic between a and b in both directions.
func (n *Network) Partition(a, b paxos.ProcessID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[link{a, b}] = true
	n.cut[link{b, a}] = true
}

// Isolate cuts id off from every other node.
func (n *Network) Isolate(id paxos.ProcessID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, other := range n.order {
		if other != id {
			n.cut[link{id, other}] = true
			n.cut[link{other, id}] = true
		}
	}
}

// Heal restores every link.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut = make(map[link]bool)
}

func (n *Network) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return n.rng.Float64() < p
}

func (n *Network) jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return time.Duration(n.rng.Int63n(int64(limit)))
}

func (n *Network) send(from, to paxos.ProcessID, msg paxos.Message) error {
	n.mu.RLock()
	dest, ok := n.inboxes[to]
	cut := n.cut[link{from, to}]
	faults := n.faults
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", to, ErrUnknownNode)
	}
	if cut || n.chance(faults.DropRate) {
		return nil
	}
	copies := 1
	if n.chance(faults.DuplicateRate) {
		copies = 2
	}
	var err error
	for i := 0; i < copies; i++ {
		if d := n.jitter(faults.MaxDelay); d > 0 {
			time.AfterFunc(d, func() { dest.deliver(msg) })
			continue
		}
		if e := dest.deliver(msg); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (n *Network) members() []paxos.ProcessID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]paxos.ProcessID(nil), n.order...)
}

// MemoryTransport is one node's view of a Network.
type MemoryTransport struct {
	id      paxos.ProcessID
	network *Network
	inbox   chan paxos.Message

	closeOnce sync.Once
	done      chan struct{}
}

func (t *MemoryTransport) ID() paxos.ProcessID { return t.id }

func (t *MemoryTransport) Send(to paxos.ProcessID, msg paxos.Message) error {
	if t.isClosed() {
		return ErrClosed
	}
	return t.network.send(t.id, to, msg)
}

// Broadcast sends to every registered node, self included, and returns the
// first error.
func (t *MemoryTransport) Broadcast(msg paxos.Message) error {
	if t.isClosed() {
		return ErrClosed
	}
	var first error
	for _, id := range t.network.members() {
		if err := t.network.send(t.id, id, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *MemoryTransport) ReceiveTimeout(timeout time.Duration) (paxos.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil, ErrClosed
	case msg := <-t.inbox:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Close stops delivery to this transport. The inbox channel is never closed
// so late senders cannot panic.
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *MemoryTransport) deliver(msg paxos.Message) error {
	if t.isClosed() {
		return nil
	}
	select {
	case t.inbox <- msg:
		return nil
	default:
		return fmt.Errorf("deliver to %s: %w", t.id, ErrInboxFull)
	}
}

func (t *MemoryTransport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
