package paxos

import "sync"

// Candidates is a FIFO of client commands. Pending returns the oldest one
// without removing it, so a round that fails still has it for the next try.
// It is safe for concurrent use.
type Candidates struct {
	mu    sync.Mutex
	queue []Command
}

func NewCandidates(cmds ...Command) *Candidates {
	return &Candidates{queue: append([]Command(nil), cmds...)}
}

func (c *Candidates) Push(cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, cmd)
}

func (c *Candidates) Pending() (Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return "", false
	}
	return c.queue[0], true
}

// Drop removes cmd once it no longer needs proposing.
func (c *Candidates) Drop(cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue[:0]
	for _, q := range c.queue {
		if q != cmd {
			out = append(out, q)
		}
	}
	c.queue = out
}
