// =============================================================================
// NODE - One Process Playing Proposer and Acceptor
// =============================================================================
//
//   ┌─────────────────────────────────────────────┐
//   │                    NODE                     │
//   │  ┌───────────┐            ┌───────────┐     │
//   │  │ PROPOSER  │            │ ACCEPTOR  │     │
//   │  └─────┬─────┘            └─────┬─────┘     │
//   │        └──────────┬─────────────┘           │
//   │             ┌─────┴─────┐     ┌─────────┐   │
//   │             │ TRANSPORT │     │ STORAGE │   │
//   │             └───────────┘     └─────────┘   │
//   └─────────────────────────────────────────────┘
//
// The two roles keep separate records and never read each other's state.
// They share only the node's event lock: every inbound message and every
// externally triggered Prepare is applied under it, one at a time, so each
// record has a single writer.
//
// MESSAGE ROUTING
//
//   Prepare          → acceptor.OnPrepare → Send(owner of number, response)
//   PrepareResponse  → proposer.HandlePrepareResponse → Propose when ready
//   Propose          → acceptor.OnPropose → Observer.Accepted when accepted
//
// Nothing in the node retries. A driver calls Prepare() again when it thinks
// the round is lost.
//
// =============================================================================

package node

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/senutpal/synod/internal/paxos"
	"github.com/senutpal/synod/internal/transport"
)

// ErrStopped is returned by operations on a node that hit a fatal error.
var ErrStopped = errors.New("node stopped")

// Observer is told about every proposal this node's acceptor accepts.
// *paxos.Detector is the usual implementation.
type Observer interface {
	Accepted(from paxos.ProcessID, p paxos.Proposal)
}

// Store is everything a node persists: the acceptor record and the last
// proposal number its proposer issued.
type Store interface {
	paxos.Store
	paxos.IssuedStore
}

// Config tunes a Node. Zero fields take DefaultConfig values.
type Config struct {
	// PollInterval bounds how long the message loop blocks before checking
	// for Stop.
	PollInterval time.Duration
	Logger       *log.Logger
	// Source supplies commands when a round recovers no accepted value.
	Source paxos.CommandSource
	// Observer, if set, receives this node's acceptances.
	Observer Observer
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 100 * time.Millisecond,
		Logger:       log.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

type Node struct {
	id        paxos.ProcessID
	members   *paxos.Membership
	proposer  *paxos.Proposer
	acceptor  *paxos.Acceptor
	issued    paxos.IssuedStore
	transport transport.Transport
	cfg       Config
	logger    *log.Logger

	// mu serializes event handling for this process
	mu  sync.Mutex
	err error

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewNode builds the node for t.ID(). store may be nil for a volatile node;
// otherwise both roles resume from it.
func NewNode(members *paxos.Membership, t transport.Transport, store Store, cfg Config) (*Node, error) {
	id := t.ID()
	cfg = cfg.withDefaults()
	var (
		acceptorStore paxos.Store
		issuedStore   paxos.IssuedStore
	)
	if store != nil {
		acceptorStore, issuedStore = store, store
	}
	acceptor, err := paxos.NewAcceptor(id, acceptorStore)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	proposer, err := paxos.NewProposer(members, id)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	if issuedStore != nil {
		issued, err := issuedStore.LoadIssued()
		if err != nil {
			return nil, fmt.Errorf("node %s: load issued: %w", id, err)
		}
		proposer.Recover(issued)
	}
	rec := acceptor.Record()
	proposer.Recover(rec.LastPromise)
	if rec.LastAccepted != nil {
		proposer.Recover(rec.LastAccepted.Number)
	}
	return &Node{
		id:        id,
		members:   members,
		proposer:  proposer,
		acceptor:  acceptor,
		issued:    issuedStore,
		transport: t,
		cfg:       cfg,
		logger:    cfg.Logger,
	}, nil
}

// Start runs the message loop in the background.
func (n *Node) Start() error {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if n.running {
		return nil
	}
	if err := n.Err(); err != nil {
		return err
	}
	n.running = true
	n.stopCh = make(chan struct{})
	n.wg.Add(1)
	go n.handleMessages()
	return nil
}

// Stop ends the message loop and waits for it. The transport stays open.
func (n *Node) Stop() error {
	n.runMu.Lock()
	if !n.running {
		n.runMu.Unlock()
		return nil
	}
	n.running = false
	close(n.stopCh)
	n.runMu.Unlock()
	n.wg.Wait()
	return nil
}

func (n *Node) handleMessages() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		default:
		}
		msg, err := n.transport.ReceiveTimeout(n.cfg.PollInterval)
		switch {
		case errors.Is(err, transport.ErrTimeout):
			continue
		case errors.Is(err, transport.ErrClosed):
			n.logger.Printf("[%s] transport closed, leaving message loop", n.id)
			return
		case err != nil:
			n.logger.Printf("[%s] receive error: %v", n.id, err)
			continue
		}
		if err := n.Handle(msg); err != nil {
			// a node that cannot persist must stop voting
			n.logger.Printf("[%s] stopping: %v", n.id, err)
			return
		}
	}
}

// Handle applies one inbound message. A non-nil error is fatal for the node;
// every later call returns ErrStopped.
func (n *Node) Handle(msg paxos.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return ErrStopped
	}
	var err error
	switch m := msg.(type) {
	case paxos.Prepare:
		err = n.onPrepare(m)
	case paxos.PrepareResponse:
		err = n.onPrepareResponse(m)
	case paxos.Propose:
		err = n.onPropose(m)
	default:
		n.logger.Printf("[%s] unknown message type: %T", n.id, msg)
	}
	if err != nil {
		n.err = err
	}
	return err
}

func (n *Node) onPrepare(m paxos.Prepare) error {
	n.checkIssuer(m.Number)
	n.proposer.Observe(m.Number)
	resp, ok, err := n.acceptor.OnPrepare(m)
	if err != nil {
		return err
	}
	if !ok {
		n.logger.Printf("[%s] ← Prepare %s below promise %s, dropped", n.id, m.Number, n.acceptor.Record().LastPromise)
		return nil
	}
	owner, _ := n.members.Owner(m.Number)
	n.logger.Printf("[%s] ← Prepare %s, promising to %s (accepted: %v)", n.id, m.Number, owner, describe(resp.HighestAccepted))
	if err := n.transport.Send(owner, resp); err != nil {
		n.logger.Printf("[%s] → PrepareResponse to %s: %v", n.id, owner, err)
	}
	return nil
}

func (n *Node) onPrepareResponse(m paxos.PrepareResponse) error {
	if !n.proposer.HandlePrepareResponse(m) {
		return nil
	}
	n.logger.Printf("[%s] majority promised %s (%d/%d), proposing", n.id, m.Number, n.proposer.Responses(), n.members.Size())
	if err := n.propose(); err != nil && !errors.Is(err, paxos.ErrNoCommand) {
		return err
	}
	return nil
}

func (n *Node) onPropose(m paxos.Propose) error {
	n.checkIssuer(m.Proposal.Number)
	ok, err := n.acceptor.OnPropose(m)
	if err != nil {
		return err
	}
	if !ok {
		n.logger.Printf("[%s] ← Propose %s below promise %s, rejected", n.id, m.Proposal, n.acceptor.Record().LastPromise)
		return nil
	}
	n.logger.Printf("[%s] ← Propose %s, accepted", n.id, m.Proposal)
	if n.cfg.Observer != nil {
		n.cfg.Observer.Accepted(n.id, m.Proposal)
	}
	return nil
}

// checkIssuer panics when a number in our own residue class shows up that we
// never issued: some other process is using our numbers.
func (n *Node) checkIssuer(num paxos.ProposalNumber) {
	if n.proposer.Owns(num) && !n.proposer.Issued(num) {
		panic(&paxos.ViolationError{
			Kind:   paxos.DuplicateNumber,
			Detail: fmt.Sprintf("%s received %s, which only it may issue, but its latest is %s", n.id, num, n.proposer.CurrentNumber()),
		})
	}
}

// propose must be called with n.mu held.
func (n *Node) propose() error {
	out, err := n.proposer.Propose(n.cfg.Source)
	if err != nil {
		if errors.Is(err, paxos.ErrNoCommand) {
			n.logger.Printf("[%s] quorum for %s but nothing to propose", n.id, n.proposer.CurrentNumber())
		}
		return err
	}
	n.logger.Printf("[%s] → Propose %s to all", n.id, out.Proposal)
	if err := n.transport.Broadcast(out); err != nil {
		n.logger.Printf("[%s] broadcast Propose: %v", n.id, err)
	}
	return nil
}

// Prepare starts a new round, abandoning any round in progress, and returns
// its number.
func (n *Node) Prepare() (paxos.ProposalNumber, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return 0, ErrStopped
	}
	msg := n.proposer.Prepare()
	if n.issued != nil {
		// the number must be on disk before anyone can see it
		if err := n.issued.SaveIssued(msg.Number); err != nil {
			n.err = fmt.Errorf("save issued %s: %w", msg.Number, err)
			return 0, n.err
		}
	}
	n.logger.Printf("[%s] → Prepare %s to all", n.id, msg.Number)
	if err := n.transport.Broadcast(msg); err != nil {
		n.logger.Printf("[%s] broadcast Prepare: %v", n.id, err)
	}
	return msg.Number, nil
}

// Propose sends the Propose for the current round if a majority has
// promised and nothing was proposed yet. The message loop already does this
// on its own; Propose is for rounds that were stuck on an empty source.
func (n *Node) Propose() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return ErrStopped
	}
	return n.propose()
}

// Record returns the acceptor's current record.
func (n *Node) Record() paxos.AcceptorRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.acceptor.Record()
}

// CurrentNumber returns the proposer's latest round number.
func (n *Node) CurrentNumber() paxos.ProposalNumber {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.proposer.CurrentNumber()
}

// Err returns the fatal error that stopped the node, if any.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

func (n *Node) ID() paxos.ProcessID { return n.id }

func describe(p *paxos.Proposal) string {
	if p == nil {
		return "none"
	}
	return p.String()
}
