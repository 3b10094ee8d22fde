package model

// PortDirection says whether an edge may start or end at a port.
type PortDirection string

const (
	PortInput  PortDirection = "input"
	PortOutput PortDirection = "output"
)

// PortOrigin records where a port came from.
type PortOrigin string

const (
	// PortStatic ports are fixed by the node type.
	PortStatic PortOrigin = "static"
	// PortDerived ports are computed from the node's template field.
	PortDerived PortOrigin = "derived"
)

// Port is a named connection point (handle) on a node.
type Port struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Direction PortDirection `json:"direction"`
	Origin    PortOrigin    `json:"origin"`
}

// HandleID builds the handle id for a port name scoped to its node.
func HandleID(nodeID, name string) string {
	return nodeID + "-" + name
}
