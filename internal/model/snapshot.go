package model

// Snapshot is a point-in-time copy of a pipeline's nodes and edges.
// Insertion order is preserved so iteration over it is deterministic.
// Snapshots own their data; nothing in them aliases live store state.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Verdict is the result of a structural validation.
type Verdict struct {
	NumNodes int  `json:"num_nodes"`
	NumEdges int  `json:"num_edges"`
	IsDAG    bool `json:"is_dag"`
}

// PipelineRequest is the wire body sent to a validator.
type PipelineRequest struct {
	Nodes []WireNode `json:"nodes" yaml:"nodes"`
	Edges []WireEdge `json:"edges" yaml:"edges"`
}

// WireNode is a node as it travels over the wire: no resolved ports.
type WireNode struct {
	ID       string         `json:"id" yaml:"id"`
	Type     NodeType       `json:"type" yaml:"type"`
	Position Position       `json:"position" yaml:"position"`
	Data     map[string]any `json:"data" yaml:"data"`
}

// WireEdge is an edge as it travels over the wire.
type WireEdge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle" yaml:"sourceHandle"`
	TargetHandle string `json:"targetHandle" yaml:"targetHandle"`
}

// Request converts the snapshot into its wire form. Optional fields are
// filled with their zero defaults so no partially-typed record is sent.
func (s *Snapshot) Request() *PipelineRequest {
	req := &PipelineRequest{
		Nodes: make([]WireNode, 0, len(s.Nodes)),
		Edges: make([]WireEdge, 0, len(s.Edges)),
	}
	for i := range s.Nodes {
		n := &s.Nodes[i]
		typ := n.Type
		if typ == "" {
			typ = NodeTypeUnknown
		}
		data := cloneMap(n.Data)
		if data == nil {
			data = map[string]any{}
		}
		req.Nodes = append(req.Nodes, WireNode{
			ID:       n.ID,
			Type:     typ,
			Position: n.Position,
			Data:     data,
		})
	}
	for _, e := range s.Edges {
		req.Edges = append(req.Edges, WireEdge{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		})
	}
	return req
}

// Snapshot converts a wire request into a snapshot. Ports are not resolved;
// a validator only needs node identity and edge endpoints.
func (r *PipelineRequest) Snapshot() *Snapshot {
	s := &Snapshot{
		Nodes: make([]Node, 0, len(r.Nodes)),
		Edges: make([]Edge, 0, len(r.Edges)),
	}
	for _, n := range r.Nodes {
		typ := n.Type
		if typ == "" {
			typ = NodeTypeUnknown
		}
		data := cloneMap(n.Data)
		if data == nil {
			data = map[string]any{}
		}
		s.Nodes = append(s.Nodes, Node{ID: n.ID, Type: typ, Position: n.Position, Data: data})
	}
	for _, e := range r.Edges {
		s.Edges = append(s.Edges, Edge{
			ID:           e.ID,
			Source:       e.Source,
			SourceHandle: e.SourceHandle,
			Target:       e.Target,
			TargetHandle: e.TargetHandle,
		})
	}
	return s
}

// Node returns the snapshot's node with the given id.
func (s *Snapshot) Node(id string) (*Node, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}
