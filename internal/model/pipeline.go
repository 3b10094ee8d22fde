package model

import "time"

// Pipeline is a saved graph: the persisted form of a pipeline session.
type Pipeline struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns the pipeline's graph as a deep-copied snapshot.
func (p *Pipeline) Snapshot() *Snapshot {
	s := &Snapshot{
		Nodes: make([]Node, 0, len(p.Nodes)),
		Edges: make([]Edge, len(p.Edges)),
	}
	for i := range p.Nodes {
		s.Nodes = append(s.Nodes, *p.Nodes[i].Clone())
	}
	copy(s.Edges, p.Edges)
	return s
}

// ValidationSource says where a verdict was computed.
type ValidationSource string

const (
	SourceLocal  ValidationSource = "local"
	SourceRemote ValidationSource = "remote"
)

// ValidationRun records one validation of a pipeline.
type ValidationRun struct {
	ID         int64            `json:"id"`
	PipelineID string           `json:"pipeline_id"`
	Verdict    Verdict          `json:"verdict"`
	Source     ValidationSource `json:"source"`
	Actor      string           `json:"actor,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
