package store

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Snapshot is a full copy of a Store at one instant and the unit of
// replication. Neighbor lists are sorted.
type Snapshot struct {
	Adjacency map[string][]string `json:"adjacency"`
	TextLog   []string            `json:"text_log"`
}

// CheckNodeID reports whether id can be stored and sent over the wire.
func CheckNodeID(id string) error {
	if id == "" {
		return ErrEmptyNodeID
	}
	if !utf8.ValidString(id) || strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidNodeID, id)
	}
	return nil
}

// Validate checks that every edge is present in both directions, points at a
// known node and is not a self-loop, and that every id and log entry is
// encodable.
func (s Snapshot) Validate() error {
	_, err := s.index()
	return err
}

// index builds the adjacency sets and validates against them. It runs in time
// linear in the snapshot size.
func (s Snapshot) index() (map[string]map[string]struct{}, error) {
	adj := make(map[string]map[string]struct{}, len(s.Adjacency))
	for id, neighbors := range s.Adjacency {
		if err := CheckNodeID(id); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
		}
		set := make(map[string]struct{}, len(neighbors))
		for _, n := range neighbors {
			set[n] = struct{}{}
		}
		adj[id] = set
	}
	for id, set := range adj {
		for n := range set {
			if n == id {
				return nil, fmt.Errorf("%w: self-loop on %q", ErrInvalidSnapshot, id)
			}
			back, ok := adj[n]
			if !ok {
				return nil, fmt.Errorf("%w: %q references unknown node %q", ErrInvalidSnapshot, id, n)
			}
			if _, ok := back[id]; !ok {
				return nil, fmt.Errorf("%w: edge %q-%q is not symmetric", ErrInvalidSnapshot, id, n)
			}
		}
	}
	for i, text := range s.TextLog {
		if !utf8.ValidString(text) {
			return nil, fmt.Errorf("%w: text log entry %d is not valid UTF-8", ErrInvalidSnapshot, i)
		}
	}
	return adj, nil
}
