package graph

import (
	"fmt"

	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// AddEdge connects an output port of source to an input port of target and
// returns the committed edge. Parallel edges with the same endpoints are
// allowed; each gets its own id.
func (s *Store) AddEdge(source, sourceHandle, target, targetHandle string) (model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := model.Edge{
		Source:       source,
		SourceHandle: sourceHandle,
		Target:       target,
		TargetHandle: targetHandle,
	}
	if err := s.bindLocked(e); err != nil {
		return model.Edge{}, err
	}

	id, err := s.newID()
	if err != nil {
		return model.Edge{}, fmt.Errorf("generating edge id: %w", err)
	}
	for s.hasEdge(id) {
		if id, err = s.newID(); err != nil {
			return model.Edge{}, fmt.Errorf("generating edge id: %w", err)
		}
	}
	e.ID = id

	s.edges = append(s.edges, e)
	s.logger.Debug("edge added", "id", e.ID, "source", source, "target", target)
	return e, nil
}

// RemoveEdge deletes the edge with the given id and returns it.
func (s *Store) RemoveEdge(id string) (model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.edges {
		if s.edges[i].ID != id {
			continue
		}
		e := s.edges[i]
		s.edges = append(s.edges[:i], s.edges[i+1:]...)
		s.logger.Debug("edge removed", "id", id)
		return e, nil
	}
	return model.Edge{}, fmt.Errorf("edge %q: %w", id, ErrNotFound)
}

// Edge returns the edge with the given id.
func (s *Store) Edge(id string) (model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.edges {
		if e.ID == id {
			return e, nil
		}
	}
	return model.Edge{}, fmt.Errorf("edge %q: %w", id, ErrNotFound)
}

// bindLocked checks that both endpoints of e exist with ports of the right
// direction. Callers hold s.mu.
func (s *Store) bindLocked(e model.Edge) error {
	src, ok := s.nodes[e.Source]
	if !ok {
		return fmt.Errorf("source node %q: %w", e.Source, ErrInvalidReference)
	}
	dst, ok := s.nodes[e.Target]
	if !ok {
		return fmt.Errorf("target node %q: %w", e.Target, ErrInvalidReference)
	}
	if !hasPort(src, e.SourceHandle, model.PortOutput) {
		return fmt.Errorf("source handle %q is not an output of %q: %w", e.SourceHandle, e.Source, ErrInvalidReference)
	}
	if !hasPort(dst, e.TargetHandle, model.PortInput) {
		return fmt.Errorf("target handle %q is not an input of %q: %w", e.TargetHandle, e.Target, ErrInvalidReference)
	}
	return nil
}

func (s *Store) hasEdge(id string) bool {
	for i := range s.edges {
		if s.edges[i].ID == id {
			return true
		}
	}
	return false
}
