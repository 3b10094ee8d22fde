// Package graph holds the canonical, mutable node and edge collection of a
// pipeline. Every exported mutation is a single atomic transition: it is
// applied completely or the store is left untouched.
package graph

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/pipeflow/internal/idgen"
	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/ports"
)

// Store is the GraphStore. It is safe for concurrent use; mutations are
// serialized so cascades and port recomputation never interleave.
type Store struct {
	mu     sync.Mutex
	nodes  map[string]*model.Node
	order  []string // node ids in insertion order
	edges  []model.Edge
	seq    map[model.NodeType]int
	newID  func() (string, error)
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithEdgeIDs overrides the edge id generator.
func WithEdgeIDs(fn func() (string, error)) Option {
	return func(s *Store) { s.newID = fn }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		nodes:  make(map[string]*model.Node),
		seq:    make(map[model.NodeType]int),
		newID:  idgen.Edge,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FromSnapshot rebuilds a store from a snapshot, keeping node and edge ids.
// Ports are recomputed; an edge that no longer binds is an error.
func FromSnapshot(snap *model.Snapshot, opts ...Option) (*Store, error) {
	s := NewStore(opts...)
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		if _, err := s.AddNode(*n); err != nil {
			return nil, fmt.Errorf("restoring node %q: %w", n.ID, err)
		}
		// Continue numbering after the highest restored id of each type.
		if typ, seq, ok := idgen.ParseNodeID(n.ID); ok && typ == string(n.Type) && seq > s.seq[n.Type] {
			s.seq[n.Type] = seq
		}
	}
	for _, e := range snap.Edges {
		if e.ID == "" {
			id, err := s.newID()
			if err != nil {
				return nil, fmt.Errorf("generating edge id: %w", err)
			}
			e.ID = id
		}
		if s.hasEdge(e.ID) {
			return nil, fmt.Errorf("restoring edge %q: %w", e.ID, ErrDuplicateID)
		}
		if err := s.bindLocked(e); err != nil {
			return nil, fmt.Errorf("restoring edge %q: %w", e.ID, err)
		}
		s.edges = append(s.edges, e)
	}
	return s, nil
}

// NextNodeID returns an unused id of the form "<type>-<n>", counting per type.
func (s *Store) NextNodeID(t model.NodeType) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		s.seq[t]++
		id := idgen.NodeID(string(t), s.seq[t])
		if _, taken := s.nodes[id]; !taken {
			return id
		}
	}
}

// AddNode inserts a node. Type defaults are merged under the caller's data
// and the node's ports are computed from the result. The returned node is a
// copy that includes the resolved ports.
func (s *Store) AddNode(n model.Node) (model.Node, error) {
	if err := model.ValidateNode(&n); err != nil {
		return model.Node{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[n.ID]; exists {
		return model.Node{}, fmt.Errorf("node %q: %w", n.ID, ErrDuplicateID)
	}

	stored := n.Clone()
	data := model.DefaultData(n.Type, n.ID)
	for k, v := range stored.Data {
		data[k] = v
	}
	stored.Data = data
	stored.Ports = ports.Resolve(stored)

	s.nodes[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	s.logger.Debug("node added", "id", stored.ID, "type", stored.Type, "ports", len(stored.Ports))
	return *stored.Clone(), nil
}

// RemoveNode deletes a node together with every edge that touches it and
// returns the removed edges.
func (s *Store) RemoveNode(id string) ([]model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return nil, fmt.Errorf("node %q: %w", id, ErrNotFound)
	}

	removed := s.dropEdges(func(e *model.Edge) bool { return e.Touches(id) })
	delete(s.nodes, id)
	for i, nid := range s.order {
		if nid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Debug("node removed", "id", id, "cascaded_edges", len(removed))
	return removed, nil
}

// UpdateNodeField sets data[key] on a node. When key is the node type's
// template field, derived ports are recomputed and edges bound to vanished
// handles are removed in the same step. The removed edges are returned.
func (s *Store) UpdateNodeField(id, key string, value any) ([]model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", id, ErrNotFound)
	}
	if key == "" {
		return nil, &model.ValidationError{Errors: []model.FieldError{{Field: "key", Message: "is required"}}}
	}
	if spec := model.Catalog[n.Type]; spec != nil {
		if def := spec.Field(key); def != nil && value != nil {
			if err := model.ValidateFieldValue(*def, value); err != nil {
				return nil, &model.ValidationError{Errors: []model.FieldError{{Field: "data." + key, Message: err.Error()}}}
			}
		}
	}

	if n.Data == nil {
		n.Data = make(map[string]any)
	}
	n.Data[key] = model.CloneValue(value)

	field, derives := ports.TemplateField(n.Type)
	if !derives || field != key {
		return nil, nil
	}

	n.Ports = ports.Resolve(n)
	removed := s.dropEdges(func(e *model.Edge) bool {
		if e.Source == id && !hasPort(n, e.SourceHandle, model.PortOutput) {
			return true
		}
		return e.Target == id && !hasPort(n, e.TargetHandle, model.PortInput)
	})
	s.logger.Debug("ports recomputed", "id", id, "ports", len(n.Ports), "cascaded_edges", len(removed))
	return removed, nil
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return model.Node{}, fmt.Errorf("node %q: %w", id, ErrNotFound)
	}
	return *n.Clone(), nil
}

// Snapshot returns a deep copy of the current nodes and edges in insertion order.
func (s *Store) Snapshot() *model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &model.Snapshot{
		Nodes: make([]model.Node, 0, len(s.order)),
		Edges: make([]model.Edge, len(s.edges)),
	}
	for _, id := range s.order {
		snap.Nodes = append(snap.Nodes, *s.nodes[id].Clone())
	}
	copy(snap.Edges, s.edges)
	return snap
}

// Len returns the number of nodes and edges.
func (s *Store) Len() (nodes, edges int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order), len(s.edges)
}

// dropEdges removes every edge matching fn, preserving the order of the
// rest. Callers hold s.mu.
func (s *Store) dropEdges(fn func(*model.Edge) bool) []model.Edge {
	var removed []model.Edge
	kept := s.edges[:0]
	for i := range s.edges {
		if fn(&s.edges[i]) {
			removed = append(removed, s.edges[i])
			continue
		}
		kept = append(kept, s.edges[i])
	}
	// Clear the tail so dropped edges are not retained by the backing array.
	for i := len(kept); i < len(s.edges); i++ {
		s.edges[i] = model.Edge{}
	}
	s.edges = kept
	return removed
}

func hasPort(n *model.Node, handle string, dir model.PortDirection) bool {
	_, ok := n.Port(handle, dir)
	return ok
}
