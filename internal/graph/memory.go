package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Node is a node held by MemoryStore
type Node struct {
	ID         uuid.UUID      `json:"id"`
	Kinds      []Kind         `json:"kinds"`
	Properties map[string]any `json:"properties"`
}

// Edge is a relation held by MemoryStore
type Edge struct {
	From     uuid.UUID `json:"from"`
	Relation Relation  `json:"relation"`
	To       uuid.UUID `json:"to"`
}

// MemoryStore keeps the whole graph in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[uuid.UUID]*Node
	order []uuid.UUID
	edges []Edge
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory graph
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[uuid.UUID]*Node)}
}

func (s *MemoryStore) CreateNode(_ context.Context, kinds ...Kind) (uuid.UUID, error) {
	if err := CheckKinds(kinds); err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	s.nodes[id] = &Node{
		ID:         id,
		Kinds:      append([]Kind(nil), kinds...),
		Properties: make(map[string]any),
	}
	s.order = append(s.order, id)
	return id, nil
}

func (s *MemoryStore) SetProperty(_ context.Context, node uuid.UUID, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[node]
	if !ok {
		return fmt.Errorf("node %s not found", node)
	}
	n.Properties[name] = value
	return nil
}

func (s *MemoryStore) AddRelation(_ context.Context, from uuid.UUID, rel Relation, to uuid.UUID) error {
	if !ValidRelation(rel) {
		return fmt.Errorf("unknown relation %q", rel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[from]; !ok {
		return fmt.Errorf("node %s not found", from)
	}
	if _, ok := s.nodes[to]; !ok {
		return fmt.Errorf("node %s not found", to)
	}
	s.edges = append(s.edges, Edge{From: from, Relation: rel, To: to})
	return nil
}

// Node returns a copy of the node with the given id
func (s *MemoryStore) Node(id uuid.UUID) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	props := make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v
	}
	return Node{ID: n.ID, Kinds: append([]Kind(nil), n.Kinds...), Properties: props}, true
}

// NodesOfKind returns the ids of all nodes carrying kind, in creation order
func (s *MemoryStore) NodesOfKind(kind Kind) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for _, id := range s.order {
		for _, k := range s.nodes[id].Kinds {
			if k == kind {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// Outgoing returns the targets of rel edges leaving from, in insertion order
func (s *MemoryStore) Outgoing(from uuid.UUID, rel Relation) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for _, e := range s.edges {
		if e.From == from && e.Relation == rel {
			ids = append(ids, e.To)
		}
	}
	return ids
}

// EdgeCount returns the number of edges of the given relation
func (s *MemoryStore) EdgeCount(rel Relation) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.edges {
		if e.Relation == rel {
			count++
		}
	}
	return count
}

// Dump writes the graph as indented JSON
func (s *MemoryStore) Dump(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := struct {
		Nodes []*Node `json:"nodes"`
		Edges []Edge  `json:"edges"`
	}{Edges: s.edges}
	for _, id := range s.order {
		out.Nodes = append(out.Nodes, s.nodes[id])
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	return nil
}
