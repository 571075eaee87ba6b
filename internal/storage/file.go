package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/senutpal/synod/internal/paxos"
)

// fileRecord is the on-disk layout.
type fileRecord struct {
	paxos.AcceptorRecord
	LastIssued paxos.ProposalNumber `json:"last_issued,omitempty"`
}

// FileStorage keeps one process's record as JSON. Every save writes a temp
// file, syncs it, renames it over the old one and syncs the directory, so a
// crash leaves either the old record or the new one.
type FileStorage struct {
	mu     sync.Mutex
	path   string
	record fileRecord
	closed bool
}

// OpenFile loads the record at path, creating its directory if needed. A
// missing file is an empty record.
func OpenFile(path string) (*FileStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	f := &FileStorage{path: path}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &f.record); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return f, nil
}

func (f *FileStorage) SavePromised(n paxos.ProposalNumber) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.record
	next.LastPromise = n
	return f.write(next)
}

func (f *FileStorage) LoadPromised() (paxos.ProposalNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record.LastPromise, nil
}

func (f *FileStorage) SaveAccepted(p paxos.Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.record
	next.LastAccepted = &p
	return f.write(next)
}

func (f *FileStorage) LoadAccepted() (*paxos.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.record.LastAccepted == nil {
		return nil, nil
	}
	p := *f.record.LastAccepted
	return &p, nil
}

func (f *FileStorage) SaveIssued(n paxos.ProposalNumber) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.record
	next.LastIssued = n
	return f.write(next)
}

func (f *FileStorage) LoadIssued() (paxos.ProposalNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record.LastIssued, nil
}

func (f *FileStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FileStorage) Path() string { return f.path }

// write replaces the file with rec; f.record changes only on success.
func (f *FileStorage) write(rec fileRecord) error {
	if f.closed {
		return ErrClosed
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	if err := syncDir(dir); err != nil {
		return err
	}
	f.record = rec
	return nil
}

// syncDir makes a rename in dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}
