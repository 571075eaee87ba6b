// =============================================================================
// DRIVER - Retrying Rounds Until Something Is Chosen
// =============================================================================
//
// A round can fail without anyone saying so: promises lost, a competitor
// preempting, a Propose dropped. The driver treats silence as failure.
//
//   Prepare ──▶ wait RoundTimeout ──decided?──▶ done
//      ▲                  │ no
//      └── sleep rand(0, bound), bound = min(2·bound, Max) ◀─┘
//
// The randomized pause is what breaks the duel in which two proposers keep
// preempting each other forever.
//
// =============================================================================

package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/senutpal/synod/internal/paxos"
)

// Run drives rounds from id until the cluster decides or ctx is done, and
// returns the decided command. The decided command need not be one id
// submitted.
func (c *Cluster) Run(ctx context.Context, id paxos.ProcessID) (paxos.Command, error) {
	n, ok := c.nodes[id]
	if !ok {
		return "", fmt.Errorf("run %s: %w", id, ErrUnknownNode)
	}
	bound := c.cfg.Backoff.Initial
	for attempt := 1; ; attempt++ {
		if cmd, ok := c.Decided(); ok {
			c.sources[id].Drop(cmd)
			return cmd, nil
		}
		num, err := n.Prepare()
		if err != nil {
			return "", fmt.Errorf("run %s: %w", id, err)
		}

		round := time.NewTimer(c.cfg.Backoff.RoundTimeout)
		select {
		case <-c.decided:
			round.Stop()
			cmd, _ := c.Decided()
			c.sources[id].Drop(cmd)
			return cmd, nil
		case <-ctx.Done():
			round.Stop()
			return "", ctx.Err()
		case <-round.C:
		}

		pause := c.jitter(bound)
		c.cfg.Logger.Printf("[%s] round %s (attempt %d) undecided, retrying in %v", id, num, attempt, pause)
		if err := sleep(ctx, pause); err != nil {
			return "", err
		}
		if bound *= 2; bound > c.cfg.Backoff.Max {
			bound = c.cfg.Backoff.Max
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
