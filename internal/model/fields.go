package model

// FieldKind identifies the shape of a node configuration field. The set is
// closed: every field a node type declares is exactly one of these kinds.
type FieldKind string

const (
	// FieldText is a single-line string.
	FieldText FieldKind = "text"
	// FieldMultiline is a free-form string that may span lines.
	FieldMultiline FieldKind = "multiline"
	// FieldChoice is a string restricted to Options.
	FieldChoice FieldKind = "choice"
	// FieldCustom holds any JSON value; its shape belongs to the node type.
	FieldCustom FieldKind = "custom"
)

// IsValid reports whether k is one of the known field kinds.
func (k FieldKind) IsValid() bool {
	switch k {
	case FieldText, FieldMultiline, FieldChoice, FieldCustom:
		return true
	}
	return false
}

// FieldDef describes a single configuration field on a node type.
type FieldDef struct {
	Name    string    `json:"name"`
	Kind    FieldKind `json:"kind"`
	Default any       `json:"default,omitempty"`
	Options []string  `json:"options,omitempty"` // allowed values for choice
}

// Field returns the definition of the named field, or nil.
func (s *NodeSpec) Field(name string) *FieldDef {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}
