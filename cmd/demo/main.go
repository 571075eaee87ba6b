// =============================================================================
// DEMO RUNNER - Single-Decree Paxos in Action
// =============================================================================
//
// Starts a cluster in this process, submits a command to one or more nodes,
// drives rounds until something is chosen, and prints what every acceptor
// ended up with.
//
//   $ go run ./cmd/demo -nodes 5 -value "hello, paxos!"
//   Starting Paxos cluster with 5 nodes (memory transport)...
//   Quorum size: 3
//
//   node-0 proposing: "hello, paxos!"
//   [node-0] → Prepare #1 to all
//   [node-1] ← Prepare #1, promising to node-0 (accepted: none)
//   ...
//   Chosen: "hello, paxos!"
//
//   Final state:
//   node-0: promised #1, accepted ("hello, paxos!", #1) ✓
//   ...
//
// Things to try:
//
//   -compete 3               three nodes propose different commands at once
//   -loss 0.2 -dup 0.1       lossy network; rounds stall and retry
//   -udp                     real sockets on loopback
//   -data ./state            file storage; run twice and the second run
//                            recovers the first decision
//
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/senutpal/synod/internal/cluster"
	"github.com/senutpal/synod/internal/paxos"
	"github.com/senutpal/synod/internal/transport"
)

func main() {
	var (
		size    = flag.Int("nodes", 5, "number of processes")
		value   = flag.String("value", "hello, paxos!", "command to propose")
		compete = flag.Int("compete", 1, "how many nodes propose at once")
		loss    = flag.Float64("loss", 0, "message drop probability (memory transport)")
		dup     = flag.Float64("dup", 0, "message duplication probability (memory transport)")
		delay   = flag.Duration("delay", 0, "maximum delivery delay (memory transport)")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "seed for faults and backoff")
		udp     = flag.Bool("udp", false, "use UDP on loopback instead of the memory network")
		dataDir = flag.String("data", "", "directory for acceptor files and the decision log")
		timeout = flag.Duration("timeout", 30*time.Second, "give up after this long")
		quiet   = flag.Bool("quiet", false, "suppress protocol trace")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "", 0)
	if *quiet {
		logger.SetOutput(io.Discard)
	}
	if *compete < 1 || *compete > *size {
		log.Fatalf("-compete must be between 1 and %d", *size)
	}

	cfg := cluster.DefaultConfig()
	cfg.Size = *size
	cfg.Seed = *seed
	cfg.UDP = *udp
	cfg.DataDir = *dataDir
	cfg.Logger = logger
	cfg.Faults = transport.Faults{DropRate: *loss, DuplicateRate: *dup, MaxDelay: *delay}

	c, err := cluster.New(cfg)
	if err != nil {
		log.Fatalf("build cluster: %v", err)
	}
	defer c.Close()

	kind := "memory"
	if *udp {
		kind = "udp"
	}
	fmt.Printf("Starting Paxos cluster with %d nodes (%s transport)...\n", *size, kind)
	fmt.Printf("Quorum size: %d\n", *size/2+1)
	if d := c.Decisions(); d != nil {
		for _, dec := range d.Decisions() {
			fmt.Printf("Previously decided: %q at %s\n", dec.Command, dec.At.Format(time.RFC3339))
		}
	}
	fmt.Println()

	if err := c.Start(); err != nil {
		log.Fatalf("start cluster: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	ids := c.IDs()
	k := *compete
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		id := ids[i*len(ids)/k]
		cmd := paxos.Command(*value)
		if k > 1 {
			cmd = paxos.Command(fmt.Sprintf("%s (from %s)", *value, id))
		}
		fmt.Printf("%s proposing: %q\n", id, cmd)
		if err := c.Submit(id, cmd); err != nil {
			log.Fatalf("submit to %s: %v", id, err)
		}
		wg.Add(1)
		go func(id paxos.ProcessID) {
			defer wg.Done()
			if _, err := c.Run(ctx, id); err != nil {
				logger.Printf("[%s] gave up: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	chosen, ok := c.Decided()
	if !ok {
		fmt.Println("\nNothing chosen. A majority was unreachable or the timeout was too short.")
		c.Close()
		os.Exit(1)
	}
	fmt.Printf("\nChosen: %q\n\nFinal state:\n", chosen)

	// late Proposes may still be in flight
	time.Sleep(2 * cfg.PollInterval)
	agree := 0
	for _, id := range ids {
		n, _ := c.Node(id)
		rec := n.Record()
		mark := ""
		if rec.LastAccepted != nil && rec.LastAccepted.Command == chosen {
			mark = " ✓"
			agree++
		}
		accepted := "nothing"
		if rec.LastAccepted != nil {
			accepted = rec.LastAccepted.String()
		}
		fmt.Printf("%s: promised %s, accepted %s%s\n", id, rec.LastPromise, accepted, mark)
	}
	if all := c.Detector().Chosen(); len(all) > 1 {
		log.Fatalf("AGREEMENT VIOLATED: %v", all)
	}
	fmt.Printf("\n%d of %d acceptors hold %q; a majority is enough.\n", agree, len(ids), chosen)
}
