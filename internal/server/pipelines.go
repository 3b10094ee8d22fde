package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/pipeflow/internal/events"
	"github.com/alfredjeanlab/pipeflow/internal/gateway"
	"github.com/alfredjeanlab/pipeflow/internal/graph"
	"github.com/alfredjeanlab/pipeflow/internal/idgen"
	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// defaultRunLimit caps GET /v1/pipelines/{id}/runs when no limit is given.
const defaultRunLimit = 20

type createPipelineInput struct {
	ID        string       `json:"id,omitempty"`
	Name      string       `json:"name"`
	CreatedBy string       `json:"created_by,omitempty"`
	Nodes     []model.Node `json:"nodes,omitempty"`
	Edges     []model.Edge `json:"edges,omitempty"`
}

type addNodeInput struct {
	ID       string         `json:"id,omitempty"`
	Type     model.NodeType `json:"type"`
	Position model.Position `json:"position"`
	Data     map[string]any `json:"data,omitempty"`
	Actor    string         `json:"actor,omitempty"`
}

type updateFieldInput struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Actor string `json:"actor,omitempty"`
}

type addEdgeInput struct {
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
	Actor        string `json:"actor,omitempty"`
}

// validationResult is returned by a pipeline validation.
type validationResult struct {
	Report *gateway.Report      `json:"report"`
	Run    *model.ValidationRun `json:"run"`
}

// createPipeline saves a new pipeline. Nodes and edges in the input are
// replayed through a graph store so imported documents obey the same
// identity and binding rules as interactive edits.
func (s *PipelineServer) createPipeline(ctx context.Context, in createPipelineInput) (*model.Pipeline, error) {
	id := in.ID
	if id == "" {
		var err error
		if id, err = idgen.Pipeline(); err != nil {
			return nil, fmt.Errorf("generating pipeline id: %w", err)
		}
	}

	g, err := graph.FromSnapshot(&model.Snapshot{Nodes: in.Nodes, Edges: in.Edges}, graph.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	sess := &session{graph: g, name: in.Name, createdBy: in.CreatedBy}
	p := sess.pipeline(id)
	if err := model.ValidatePipeline(p); err != nil {
		return nil, err
	}

	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if _, live := s.sessions[id]; live {
		return nil, fmt.Errorf("pipeline %q: %w", id, graph.ErrDuplicateID)
	}
	if _, err := s.store.GetPipeline(ctx, id); err == nil {
		return nil, fmt.Errorf("pipeline %q: %w", id, graph.ErrDuplicateID)
	}
	if err := s.store.SavePipeline(ctx, p); err != nil {
		return nil, fmt.Errorf("saving pipeline: %w", err)
	}
	s.sessions[id] = sess

	s.recordAndPublish(ctx, events.TopicPipelineCreated, id, in.CreatedBy, events.PipelineCreated{Pipeline: p})
	return p, nil
}

// session returns the live session for id, loading it from the store on
// first use.
func (s *PipelineServer) session(ctx context.Context, id string) (*session, error) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	p, err := s.store.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := graph.FromSnapshot(p.Snapshot(), graph.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("loading pipeline %q: %w", id, err)
	}
	sess := &session{graph: g, name: p.Name, createdBy: p.CreatedBy}
	s.sessions[id] = sess
	return sess, nil
}

// lockedSession returns the live session for id with its lock held. A
// session closed while we waited is looked up again.
func (s *PipelineServer) lockedSession(ctx context.Context, id string) (*session, error) {
	for {
		sess, err := s.session(ctx, id)
		if err != nil {
			return nil, err
		}
		sess.mu.Lock()
		if !sess.closed {
			return sess, nil
		}
		sess.mu.Unlock()
	}
}

// pipeline renders the session as a savable pipeline.
func (sess *session) pipeline(id string) *model.Pipeline {
	snap := sess.graph.Snapshot()
	return &model.Pipeline{
		ID:        id,
		Name:      sess.name,
		Nodes:     snap.Nodes,
		Edges:     snap.Edges,
		CreatedBy: sess.createdBy,
	}
}

// mutate runs fn against a session and saves the result. The save happens
// under the session lock so concurrent mutations persist in order. fn must
// leave the session untouched when it fails. When the save fails the session
// is dropped, so the next use reloads the last saved state.
func (s *PipelineServer) mutate(ctx context.Context, id string, fn func(sess *session) error) (*model.Pipeline, error) {
	sess, err := s.lockedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	p := sess.pipeline(id)
	if err := s.store.SavePipeline(ctx, p); err != nil {
		sess.closed = true
		sess.mu.Unlock()
		s.dropSession(id, sess)
		return nil, fmt.Errorf("saving pipeline: %w", err)
	}
	sess.mu.Unlock()
	return p, nil
}

// dropSession forgets sess if it is still the live session for id.
func (s *PipelineServer) dropSession(id string, sess *session) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.sessions[id] == sess {
		delete(s.sessions, id)
		s.logger.Warn("dropped session after failed save", "pipeline_id", id)
	}
}

func (s *PipelineServer) renamePipeline(ctx context.Context, id, name, actor string) (*model.Pipeline, error) {
	if strings.TrimSpace(name) == "" {
		return nil, inputError("name is required")
	}
	p, err := s.mutate(ctx, id, func(sess *session) error {
		renamed := sess.pipeline(id)
		renamed.Name = name
		if err := model.ValidatePipeline(renamed); err != nil {
			return err
		}
		sess.name = name
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAndPublish(ctx, events.TopicPipelineUpdated, id, actor, events.PipelineUpdated{PipelineID: id, Name: name})
	return p, nil
}

func (s *PipelineServer) deletePipeline(ctx context.Context, id, actor string) error {
	s.sessMu.Lock()
	sess := s.sessions[id]
	if sess != nil {
		sess.mu.Lock()
	}
	err := s.store.DeletePipeline(ctx, id)
	if err == nil && sess != nil {
		sess.closed = true
		delete(s.sessions, id)
	}
	if sess != nil {
		sess.mu.Unlock()
	}
	s.sessMu.Unlock()
	if err != nil {
		return err
	}
	s.recordAndPublish(ctx, events.TopicPipelineDeleted, id, actor, events.PipelineDeleted{PipelineID: id})
	return nil
}

func (s *PipelineServer) addNode(ctx context.Context, id string, in addNodeInput) (*model.Node, error) {
	if in.Type == "" {
		return nil, inputError("type is required")
	}
	var added model.Node
	_, err := s.mutate(ctx, id, func(sess *session) error {
		nodeID := in.ID
		if nodeID == "" {
			nodeID = sess.graph.NextNodeID(in.Type)
		}
		var err error
		added, err = sess.graph.AddNode(model.Node{ID: nodeID, Type: in.Type, Position: in.Position, Data: in.Data})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordAndPublish(ctx, events.TopicNodeAdded, id, in.Actor, events.NodeAdded{PipelineID: id, Node: &added})
	return &added, nil
}

func (s *PipelineServer) removeNode(ctx context.Context, id, nodeID, actor string) ([]model.Edge, error) {
	var removed []model.Edge
	_, err := s.mutate(ctx, id, func(sess *session) error {
		var err error
		removed, err = sess.graph.RemoveNode(nodeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordAndPublish(ctx, events.TopicNodeRemoved, id, actor, events.NodeRemoved{PipelineID: id, NodeID: nodeID, RemovedEdges: removed})
	return removed, nil
}

// updateNodeField sets one data field and returns the node's new state along
// with any edges dropped by port recomputation.
func (s *PipelineServer) updateNodeField(ctx context.Context, id, nodeID string, in updateFieldInput) (*model.Node, []model.Edge, error) {
	var (
		node    model.Node
		removed []model.Edge
	)
	_, err := s.mutate(ctx, id, func(sess *session) error {
		var err error
		if removed, err = sess.graph.UpdateNodeField(nodeID, in.Key, in.Value); err != nil {
			return err
		}
		node, err = sess.graph.Node(nodeID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.recordAndPublish(ctx, events.TopicNodeUpdated, id, in.Actor, events.NodeUpdated{
		PipelineID:   id,
		NodeID:       nodeID,
		Field:        in.Key,
		Value:        in.Value,
		Ports:        node.Ports,
		RemovedEdges: removed,
	})
	return &node, removed, nil
}

func (s *PipelineServer) addEdge(ctx context.Context, id string, in addEdgeInput) (*model.Edge, error) {
	if in.Source == "" || in.Target == "" {
		return nil, inputError("source and target are required")
	}
	var edge model.Edge
	_, err := s.mutate(ctx, id, func(sess *session) error {
		var err error
		edge, err = sess.graph.AddEdge(in.Source, in.SourceHandle, in.Target, in.TargetHandle)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordAndPublish(ctx, events.TopicEdgeAdded, id, in.Actor, events.EdgeAdded{PipelineID: id, Edge: &edge})
	return &edge, nil
}

func (s *PipelineServer) removeEdge(ctx context.Context, id, edgeID, actor string) error {
	_, err := s.mutate(ctx, id, func(sess *session) error {
		_, err := sess.graph.RemoveEdge(edgeID)
		return err
	})
	if err != nil {
		return err
	}
	s.recordAndPublish(ctx, events.TopicEdgeRemoved, id, actor, events.EdgeRemoved{PipelineID: id, EdgeID: edgeID})
	return nil
}

func (s *PipelineServer) snapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	sess, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.graph.Snapshot(), nil
}

// validatePipeline submits the pipeline's current snapshot through the
// server's gateway and records the run.
func (s *PipelineServer) validatePipeline(ctx context.Context, id, actor string) (*validationResult, error) {
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	report, err := s.gateway.Submit(ctx, snap)
	if err != nil {
		return nil, err
	}
	run := &model.ValidationRun{
		PipelineID: id,
		Verdict:    report.Verdict,
		Source:     s.source,
		Actor:      actor,
	}
	if err := s.store.RecordRun(ctx, run); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	s.recordAndPublish(ctx, events.TopicPipelineValidated, id, actor, events.PipelineValidated{
		PipelineID: id,
		Verdict:    report.Verdict,
		Source:     s.source,
	})
	return &validationResult{Report: report, Run: run}, nil
}
