package store

import (
	"fmt"
	"sort"
	"sync"
)

// Store is an undirected graph plus an append-only text log.
// It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	adj  map[string]map[string]struct{}
	text []string
}

// Stats summarizes the size of a Store.
type Stats struct {
	Nodes       int
	Edges       int
	TextEntries int
}

func NewStore() *Store {
	return &Store{
		adj: make(map[string]map[string]struct{}),
	}
}

// AddNode creates id if it does not exist yet. Ids must pass CheckNodeID.
func (s *Store) AddNode(id string) error {
	if err := CheckNodeID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.adj[id]; !ok {
		s.adj[id] = make(map[string]struct{})
	}
	return nil
}

func (s *Store) AddEdge(a, b string) error {
	if a == b {
		return ErrSelfLoop
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	na, ok := s.adj[a]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, a)
	}
	nb, ok := s.adj[b]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, b)
	}
	na[b] = struct{}{}
	nb[a] = struct{}{}
	return nil
}

// RemoveEdge reports whether an edge was removed.
func (s *Store) RemoveEdge(a, b string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	na, ok := s.adj[a]
	if !ok {
		return false
	}
	if _, ok := na[b]; !ok {
		return false
	}
	delete(na, b)
	delete(s.adj[b], a)
	return true
}

// RemoveNode deletes id together with every edge touching it.
func (s *Store) RemoveNode(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	neighbors, ok := s.adj[id]
	if !ok {
		return false
	}
	for n := range neighbors {
		delete(s.adj[n], id)
	}
	delete(s.adj, id)
	return true
}

// AppendText appends to the text log and returns its new length.
func (s *Store) AppendText(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = append(s.text, text)
	return len(s.text)
}

func (s *Store) HasNode(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.adj[id]
	return ok
}

// Neighbors returns the sorted neighbor list of id.
func (s *Store) Neighbors(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.adj[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return sortedKeys(set), nil
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Nodes: len(s.adj), TextEntries: len(s.text)}
	for _, set := range s.adj {
		st.Edges += len(set)
	}
	st.Edges /= 2
	return st
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Adjacency: make(map[string][]string, len(s.adj)),
		TextLog:   make([]string, len(s.text)),
	}
	for id, set := range s.adj {
		snap.Adjacency[id] = sortedKeys(set)
	}
	copy(snap.TextLog, s.text)
	return snap
}

// ReplaceSnapshot discards the current state and installs snap. The store is
// left untouched if snap fails Validate.
func (s *Store) ReplaceSnapshot(snap Snapshot) error {
	adj, err := snap.index()
	if err != nil {
		return err
	}
	text := make([]string, len(snap.TextLog))
	copy(text, snap.TextLog)

	s.mu.Lock()
	s.adj = adj
	s.text = text
	s.mu.Unlock()
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
