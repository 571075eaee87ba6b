package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/senutpal/synod/internal/paxos"
	"github.com/senutpal/synod/internal/transport"
)

func testConfig(size int, seed int64) Config {
	return Config{
		Size: size,
		Seed: seed,
		Backoff: Backoff{
			RoundTimeout: 50 * time.Millisecond,
			Initial:      5 * time.Millisecond,
			Max:          50 * time.Millisecond,
		},
		PollInterval: 5 * time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
	}
}

func startCluster(t *testing.T, cfg Config) *Cluster {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRunChoosesSubmittedCommand(t *testing.T) {
	c := startCluster(t, testConfig(3, 1))
	if err := c.Submit("node-0", "X"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd, err := c.Run(ctx, "node-0")
	if err != nil {
		t.Fatal(err)
	}
	if cmd != "X" {
		t.Fatalf("decided %q, want X", cmd)
	}
	if got, err := c.Wait(ctx); err != nil || got != "X" {
		t.Fatalf("Wait() = %q, %v", got, err)
	}
	if cmd, ok := c.sources["node-0"].Pending(); ok {
		t.Fatalf("decided command still pending: %q", cmd)
	}
}

func TestCompetingDriversAgreeUnderFaults(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			cfg := testConfig(5, seed)
			cfg.Faults = transport.Faults{DropRate: 0.1, DuplicateRate: 0.1, MaxDelay: 2 * time.Millisecond}
			c := startCluster(t, cfg)

			drivers := []paxos.ProcessID{"node-0", "node-2", "node-4"}
			for _, id := range drivers {
				c.Submit(id, paxos.Command("from "+id))
			}
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			var wg sync.WaitGroup
			results := make([]paxos.Command, len(drivers))
			errs := make([]error, len(drivers))
			for i, id := range drivers {
				wg.Add(1)
				go func(i int, id paxos.ProcessID) {
					defer wg.Done()
					results[i], errs[i] = c.Run(ctx, id)
				}(i, id)
			}
			wg.Wait()

			for i, err := range errs {
				if err != nil {
					t.Fatalf("%s: %v", drivers[i], err)
				}
				if results[i] != results[0] {
					t.Fatalf("drivers disagree: %v", results)
				}
			}
			if chosen := c.Detector().Chosen(); len(chosen) != 1 {
				t.Fatalf("chosen %v", chosen)
			}
		})
	}
}

func TestRunWithoutMajorityTimesOut(t *testing.T) {
	c := startCluster(t, testConfig(3, 1))
	c.Network().Isolate("node-1")
	c.Network().Isolate("node-2")
	c.Submit("node-0", "X")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := c.Run(ctx, "node-0"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if _, ok := c.Decided(); ok {
		t.Fatal("a minority decided")
	}
}

func TestRunUnknownNode(t *testing.T) {
	c := startCluster(t, testConfig(3, 1))
	if _, err := c.Run(context.Background(), "nobody"); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
	if err := c.Submit("nobody", "X"); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
}

func TestFileBackedClusterSurvivesRestart(t *testing.T) {
	cfg := testConfig(3, 1)
	cfg.DataDir = t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	first.Start()
	first.Submit("node-0", "X")
	if cmd, err := first.Run(ctx, "node-0"); err != nil || cmd != "X" {
		t.Fatalf("first run = %q, %v", cmd, err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := startCluster(t, cfg)
	if d := second.Decisions().Decisions(); len(d) != 1 || d[0].Command != "X" {
		t.Fatalf("recovered decisions %v", d)
	}
	second.Submit("node-1", "Y")
	cmd, err := second.Run(ctx, "node-1")
	if err != nil {
		t.Fatal(err)
	}
	if cmd != "X" {
		t.Fatalf("restarted cluster decided %q, want X", cmd)
	}
}

func TestUDPCluster(t *testing.T) {
	cfg := testConfig(3, 1)
	cfg.UDP = true
	c, err := New(cfg)
	if err != nil {
		t.Skipf("loopback UDP unavailable: %v", err)
	}
	defer c.Close()
	if c.Network() != nil {
		t.Fatal("UDP cluster has a memory network")
	}
	c.Start()
	c.Submit("node-2", "over the wire")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cmd, err := c.Run(ctx, "node-2"); err != nil || cmd != "over the wire" {
		t.Fatalf("Run() = %q, %v", cmd, err)
	}
}
