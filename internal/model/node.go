package model

// NodeType identifies the kind of processing step a node represents.
type NodeType string

const (
	NodeTypeInput         NodeType = "customInput"
	NodeTypeOutput        NodeType = "customOutput"
	NodeTypeLLM           NodeType = "llm"
	NodeTypeText          NodeType = "text"
	NodeTypeFileLoader    NodeType = "fileLoader"
	NodeTypeChatMemory    NodeType = "chatMemory"
	NodeTypeVectorDB      NodeType = "vectorDB"
	NodeTypeWebScraper    NodeType = "webScraper"
	NodeTypeDataTransform NodeType = "dataTransform"

	// NodeTypeUnknown is substituted on the wire for nodes that carry no type.
	NodeTypeUnknown NodeType = "unknown"
)

// IsValid reports whether the node type has an entry in the catalog.
func (t NodeType) IsValid() bool {
	_, ok := Catalog[t]
	return ok
}

// Position is the canvas location of a node. The core never interprets it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a single processing step in a pipeline.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data"`
	Ports    []Port         `json:"ports,omitempty"`
}

// Clone returns a deep copy of the node. Nested maps and slices inside Data
// are copied as well so callers cannot reach back into store state.
func (n *Node) Clone() *Node {
	c := &Node{
		ID:       n.ID,
		Type:     n.Type,
		Position: n.Position,
		Data:     cloneMap(n.Data),
	}
	if n.Ports != nil {
		c.Ports = make([]Port, len(n.Ports))
		copy(c.Ports, n.Ports)
	}
	return c
}

// Port returns the port with the given id and direction, if present.
func (n *Node) Port(id string, dir PortDirection) (Port, bool) {
	for _, p := range n.Ports {
		if p.ID == id && p.Direction == dir {
			return p, true
		}
	}
	return Port{}, false
}

// HasPort reports whether the node exposes a port with the given id.
func (n *Node) HasPort(id string) bool {
	for _, p := range n.Ports {
		if p.ID == id {
			return true
		}
	}
	return false
}

// DataString returns data[key] as a string, or "" when absent or not a string.
func (n *Node) DataString(key string) string {
	if n.Data == nil {
		return ""
	}
	if s, ok := n.Data[key].(string); ok {
		return s
	}
	return ""
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneValue deep-copies a decoded JSON value.
func CloneValue(v any) any { return cloneValue(v) }

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
