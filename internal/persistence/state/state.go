// Package state persists the small amount of bot state that must survive a restart.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// State is written after every join and every detected round mismatch.
type State struct {
	CurrentRound string `json:"currentRound"`
}

// Store reads and writes State as a JSON file. An empty path keeps state in memory only.
type Store struct {
	path string

	mu  sync.Mutex
	cur State
}

// Open loads the state file. A missing file yields an empty State; an unreadable or corrupt
// file also yields an empty State, and the returned error says why so the caller can log it.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	st, err := load(path)
	if err != nil {
		return s, err
	}
	s.cur = st
	return s, nil
}

func load(path string) (State, error) {
	if path == "" {
		return State{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, fmt.Errorf("parse state file: %w", err)
	}
	return st, nil
}

func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// SetCurrentRound updates and synchronously persists the joined round. Writing the value
// already stored is a no-op.
func (s *Store) SetCurrentRound(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.CurrentRound == name {
		return nil
	}
	next := s.cur
	next.CurrentRound = name
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

func (s *Store) saveLocked(st State) error {
	if s.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, append(b, '\n'))
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
