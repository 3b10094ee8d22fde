package model

// Edge connects an output port of one node to an input port of another.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
}

// Touches reports whether the edge references the given node on either end.
func (e *Edge) Touches(nodeID string) bool {
	return e.Source == nodeID || e.Target == nodeID
}

// IsSelfLoop reports whether the edge starts and ends on the same node.
func (e *Edge) IsSelfLoop() bool {
	return e.Source == e.Target
}
