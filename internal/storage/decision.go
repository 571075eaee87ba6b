package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/senutpal/synod/internal/paxos"
)

// Decision is one line of a DecisionLog.
type Decision struct {
	Command paxos.Command `json:"command"`
	At      time.Time     `json:"at"`
}

// DecisionLog is a LearnerSink that appends each chosen command to a file
// and syncs before returning. Reopening the file recovers earlier decisions.
type DecisionLog struct {
	mu        sync.Mutex
	fd        *os.File
	decisions []Decision
	seen      map[paxos.Command]bool
	err       error
	logger    *log.Logger
}

func OpenDecisionLog(path string, logger *log.Logger) (*DecisionLog, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create decision log dir: %w", err)
	}
	l := &DecisionLog{seen: make(map[paxos.Command]bool), logger: logger}
	if f, err := os.Open(path); err == nil {
		err = l.recover(f)
		f.Close()
		if err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fd, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s for append: %w", path, err)
	}
	l.fd = fd
	return l, nil
}

func (l *DecisionLog) recover(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var d Decision
		err := dec.Decode(&d)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("recover decision log: %w", err)
		}
		l.decisions = append(l.decisions, d)
		l.seen[d.Command] = true
	}
}

// OnChosen records cmd unless it is already recorded. A write failure is
// logged and kept for Err; later decisions are not written.
func (l *DecisionLog) OnChosen(cmd paxos.Command) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[cmd] || l.err != nil {
		return
	}
	if l.fd == nil {
		l.err = ErrClosed
		return
	}
	d := Decision{Command: cmd, At: time.Now().UTC()}
	data, err := json.Marshal(d)
	if err == nil {
		_, err = l.fd.Write(append(data, '\n'))
	}
	if err == nil {
		err = l.fd.Sync()
	}
	if err != nil {
		l.err = fmt.Errorf("record decision %q: %w", cmd, err)
		l.logger.Printf("decision log: %v", l.err)
		return
	}
	l.seen[cmd] = true
	l.decisions = append(l.decisions, d)
	if len(l.decisions) > 1 {
		l.logger.Printf("decision log: %d distinct decisions recorded: %v", len(l.decisions), l.commands())
	}
}

// Decisions returns everything recorded, oldest first.
func (l *DecisionLog) Decisions() []Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Decision(nil), l.decisions...)
}

func (l *DecisionLog) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *DecisionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd == nil {
		return nil
	}
	err := l.fd.Close()
	l.fd = nil
	return err
}

func (l *DecisionLog) commands() []paxos.Command {
	out := make([]paxos.Command, len(l.decisions))
	for i, d := range l.decisions {
		out[i] = d.Command
	}
	return out
}
