// =============================================================================
// CLUSTER - A Whole Membership in One Process
// =============================================================================
//
// A Cluster wires N nodes together the same way every time:
//
//   Membership   node-0 … node-(N-1), in that residue order
//   Transport    one memory Network (with optional faults), or UDP on loopback
//   Storage      MemoryStorage, or one JSON file per node under DataDir
//   Detector     shared by every node; it sees all acceptances, so it knows
//                the moment a command is chosen
//   Candidates   one queue per node, fed by Submit
//
// With a DataDir the cluster also keeps a DecisionLog next to the acceptor
// files, so a restarted cluster still knows what was decided.
//
// Retrying lost rounds is not the nodes' job. See driver.go.
//
// =============================================================================

package cluster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/senutpal/synod/internal/node"
	"github.com/senutpal/synod/internal/paxos"
	"github.com/senutpal/synod/internal/storage"
	"github.com/senutpal/synod/internal/transport"
)

var ErrUnknownNode = errors.New("unknown node")

// Backoff controls how Run retries a round that did not produce a decision.
type Backoff struct {
	// RoundTimeout is how long a round may run before it is considered lost.
	RoundTimeout time.Duration
	// Initial and Max bound the randomized pause between rounds. The bound
	// doubles after every lost round.
	Initial time.Duration
	Max     time.Duration
}

type Config struct {
	Size int
	// Seed drives fault injection and backoff jitter.
	Seed   int64
	Faults transport.Faults
	// UDP puts every node on its own loopback socket instead of the memory
	// network. Faults do not apply.
	UDP     bool
	Backoff Backoff
	// DataDir enables file storage and the decision log.
	DataDir      string
	PollInterval time.Duration
	Logger       *log.Logger
}

func DefaultConfig() Config {
	return Config{
		Size: 5,
		Seed: 1,
		Backoff: Backoff{
			RoundTimeout: 200 * time.Millisecond,
			Initial:      10 * time.Millisecond,
			Max:          500 * time.Millisecond,
		},
		PollInterval: 10 * time.Millisecond,
		Logger:       log.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Size <= 0 {
		c.Size = d.Size
	}
	if c.Backoff.RoundTimeout <= 0 {
		c.Backoff.RoundTimeout = d.Backoff.RoundTimeout
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = d.Backoff.Initial
	}
	if c.Backoff.Max < c.Backoff.Initial {
		c.Backoff.Max = c.Backoff.Initial
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

type Cluster struct {
	cfg        Config
	members    *paxos.Membership
	network    *transport.Network
	transports map[paxos.ProcessID]transport.Transport
	stores     map[paxos.ProcessID]storage.Storage
	nodes      map[paxos.ProcessID]*node.Node
	sources    map[paxos.ProcessID]*paxos.Candidates
	detector   *paxos.Detector
	decisions  *storage.DecisionLog

	decidedOnce sync.Once
	decided     chan struct{}

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds a cluster. Nothing runs until Start. Extra sinks are told about
// every chosen command.
func New(cfg Config, sinks ...paxos.LearnerSink) (*Cluster, error) {
	cfg = cfg.withDefaults()
	ids := make([]paxos.ProcessID, cfg.Size)
	for i := range ids {
		ids[i] = paxos.ProcessID(fmt.Sprintf("node-%d", i))
	}
	members, err := paxos.NewMembership(ids...)
	if err != nil {
		return nil, err
	}
	c := &Cluster{
		cfg:        cfg,
		members:    members,
		transports: make(map[paxos.ProcessID]transport.Transport, cfg.Size),
		stores:     make(map[paxos.ProcessID]storage.Storage, cfg.Size),
		nodes:      make(map[paxos.ProcessID]*node.Node, cfg.Size),
		sources:    make(map[paxos.ProcessID]*paxos.Candidates, cfg.Size),
		decided:    make(chan struct{}),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
	c.detector = paxos.NewDetector(members, sinks...)
	c.detector.Subscribe(paxos.SinkFunc(func(cmd paxos.Command) {
		cfg.Logger.Printf("[cluster] %q chosen", cmd)
		c.decidedOnce.Do(func() { close(c.decided) })
	}))

	if err := c.build(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cluster) build() error {
	if c.cfg.DataDir != "" {
		l, err := storage.OpenDecisionLog(filepath.Join(c.cfg.DataDir, "decisions.log"), c.cfg.Logger)
		if err != nil {
			return err
		}
		c.decisions = l
		c.detector.Subscribe(l)
	}
	if err := c.buildTransports(); err != nil {
		return err
	}
	for _, id := range c.members.IDs() {
		store, err := c.openStorage(id)
		if err != nil {
			return err
		}
		c.stores[id] = store
		c.sources[id] = paxos.NewCandidates()
		n, err := node.NewNode(c.members, c.transports[id], store, node.Config{
			PollInterval: c.cfg.PollInterval,
			Logger:       c.cfg.Logger,
			Source:       c.sources[id],
			Observer:     c.detector,
		})
		if err != nil {
			return err
		}
		c.nodes[id] = n
	}
	return nil
}

func (c *Cluster) buildTransports() error {
	if !c.cfg.UDP {
		c.network = transport.NewNetwork(c.cfg.Seed)
		c.network.SetFaults(c.cfg.Faults)
		for _, id := range c.members.IDs() {
			c.transports[id] = c.network.AddNode(id)
		}
		return nil
	}
	socks := make(map[paxos.ProcessID]*transport.UDPTransport, c.members.Size())
	for _, id := range c.members.IDs() {
		t, err := transport.ListenUDP(id, "127.0.0.1:0", c.cfg.Logger)
		if err != nil {
			return err
		}
		socks[id] = t
		c.transports[id] = t
	}
	for _, t := range socks {
		for id, peer := range socks {
			if err := t.AddPeer(id, peer.Addr()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Cluster) openStorage(id paxos.ProcessID) (storage.Storage, error) {
	if c.cfg.DataDir == "" {
		return storage.NewMemoryStorage(), nil
	}
	fs, err := storage.OpenFile(filepath.Join(c.cfg.DataDir, string(id)+".json"))
	if err != nil {
		return nil, err
	}
	c.cfg.Logger.Printf("[%s] state in %s", id, fs.Path())
	return fs, nil
}

// Start runs every node's message loop.
func (c *Cluster) Start() error {
	for _, id := range c.members.IDs() {
		if err := c.nodes[id].Start(); err != nil {
			return fmt.Errorf("start %s: %w", id, err)
		}
	}
	return nil
}

// Close stops every node and releases transports and storage. It returns the
// first error encountered.
func (c *Cluster) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, n := range c.nodes {
		keep(n.Stop())
	}
	for _, t := range c.transports {
		keep(t.Close())
	}
	for _, s := range c.stores {
		keep(s.Close())
	}
	if c.decisions != nil {
		keep(c.decisions.Close())
	}
	return first
}

// Submit queues cmd as id's candidate for rounds that recover nothing.
func (c *Cluster) Submit(id paxos.ProcessID, cmd paxos.Command) error {
	src, ok := c.sources[id]
	if !ok {
		return fmt.Errorf("submit to %s: %w", id, ErrUnknownNode)
	}
	src.Push(cmd)
	return nil
}

// Decided returns the first command seen chosen.
func (c *Cluster) Decided() (paxos.Command, bool) {
	chosen := c.detector.Chosen()
	if len(chosen) == 0 {
		return "", false
	}
	return chosen[0], true
}

// Wait blocks until some command is chosen or ctx is done.
func (c *Cluster) Wait(ctx context.Context) (paxos.Command, error) {
	select {
	case <-c.decided:
		cmd, _ := c.Decided()
		return cmd, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Cluster) Node(id paxos.ProcessID) (*node.Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

func (c *Cluster) IDs() []paxos.ProcessID          { return c.members.IDs() }
func (c *Cluster) Members() *paxos.Membership      { return c.members }
func (c *Cluster) Detector() *paxos.Detector       { return c.detector }
func (c *Cluster) Decisions() *storage.DecisionLog { return c.decisions }

// Network returns the memory network, or nil for a UDP cluster.
func (c *Cluster) Network() *transport.Network { return c.network }

func (c *Cluster) jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return time.Duration(c.rng.Int63n(int64(limit))) + 1
}
