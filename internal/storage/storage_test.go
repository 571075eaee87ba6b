package storage

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/senutpal/synod/internal/paxos"
)

func exercise(t *testing.T, s Storage) {
	t.Helper()
	if n, _ := s.LoadPromised(); n != 0 {
		t.Fatalf("fresh promise = %s", n)
	}
	if p, _ := s.LoadAccepted(); p != nil {
		t.Fatalf("fresh accepted = %v", p)
	}
	if err := s.SavePromised(7); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAccepted(paxos.Proposal{Command: "X", Number: 4}); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.LoadIssued(); n != 0 {
		t.Fatalf("fresh issued = %s", n)
	}
	if err := s.SaveIssued(5); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.LoadIssued(); n != 5 {
		t.Fatalf("issued = %s, want 5", n)
	}
	if n, _ := s.LoadPromised(); n != 7 {
		t.Fatalf("promise = %s, want 7", n)
	}
	p, _ := s.LoadAccepted()
	if p == nil || *p != (paxos.Proposal{Command: "X", Number: 4}) {
		t.Fatalf("accepted = %v", p)
	}
	p.Command = "mutated"
	if again, _ := s.LoadAccepted(); again.Command != "X" {
		t.Fatal("LoadAccepted must return a copy")
	}
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	exercise(t, s)
	s.Close()
	if err := s.SavePromised(9); !errors.Is(err, ErrClosed) {
		t.Fatalf("save after close: %v", err)
	}
	if n, _ := s.LoadPromised(); n != 7 {
		t.Fatal("close must keep state readable")
	}
	s.Reset()
	if n, _ := s.LoadPromised(); n != 0 {
		t.Fatal("reset must forget the promise")
	}
}

func TestFileStorageSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acceptors", "q.json")
	s, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	exercise(t, s)
	s.Close()

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Path() != path {
		t.Fatalf("Path() = %s", reopened.Path())
	}
	if n, _ := reopened.LoadIssued(); n != 5 {
		t.Fatalf("reopened issued = %s", n)
	}
	if n, _ := reopened.LoadPromised(); n != 7 {
		t.Fatalf("reopened promise = %s", n)
	}
	if p, _ := reopened.LoadAccepted(); p == nil || p.Command != "X" {
		t.Fatalf("reopened accepted = %v", p)
	}

	// an acceptor restored from the file keeps its promise
	a, err := paxos.NewAcceptor("q", reopened)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := a.OnPrepare(paxos.Prepare{Number: 6}); ok {
		t.Fatal("restored acceptor promised below its floor")
	}
}

func TestFileStorageRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDecisionLogRecovers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.log")
	logger := log.New(io.Discard, "", 0)
	l, err := OpenDecisionLog(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	l.OnChosen("X")
	l.OnChosen("X")
	if got := l.Decisions(); len(got) != 1 || got[0].Command != "X" {
		t.Fatalf("decisions = %v", got)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenDecisionLog(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	reopened.OnChosen("X")
	if got := reopened.Decisions(); len(got) != 1 || got[0].Command != "X" {
		t.Fatalf("recovered decisions = %v", got)
	}
}

func TestDecisionLogReportsSecondDecision(t *testing.T) {
	var buf bytes.Buffer
	l, err := OpenDecisionLog(filepath.Join(t.TempDir(), "d.log"), log.New(&buf, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	l.OnChosen("X")
	l.OnChosen("Y")
	if !bytes.Contains(buf.Bytes(), []byte("2 distinct decisions")) {
		t.Fatalf("expected a warning, log was %q", buf.String())
	}
}

func TestDecisionLogAfterClose(t *testing.T) {
	l, err := OpenDecisionLog(filepath.Join(t.TempDir(), "d.log"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	l.Close()
	l.OnChosen("X")
	if !errors.Is(l.Err(), ErrClosed) {
		t.Fatalf("Err() = %v", l.Err())
	}
}
