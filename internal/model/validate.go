package model

import (
	"errors"
	"fmt"
	"strings"
)

// MaxNameLength bounds pipeline names, counted in runes.
const MaxNameLength = 200

// ValidationError collects every field-level problem found in a record.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// FieldError is one failed rule on a named field. Nested fields use dotted
// paths such as "nodes[2].data.model".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed: ")
	for i, fe := range e.Errors {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(fe.Field + ": " + fe.Message)
	}
	return b.String()
}

// HasErrors reports whether any field failed.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// nest copies the field errors of err under prefix.
func (e *ValidationError) nest(prefix string, err error) {
	var inner *ValidationError
	if !errors.As(err, &inner) {
		return
	}
	for _, fe := range inner.Errors {
		e.Errors = append(e.Errors, FieldError{Field: prefix + fe.Field, Message: fe.Message})
	}
}

// err returns e as an error, or nil when nothing failed.
func (e *ValidationError) err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// ValidateNode checks a node before it enters a graph: it needs an id, a
// catalog type, and data that fits the type's fields.
func ValidateNode(n *Node) error {
	var ve ValidationError
	if strings.TrimSpace(n.ID) == "" {
		ve.add("id", "is required")
	}
	if spec, ok := Catalog[n.Type]; ok {
		ve.nest("data.", ValidateData(n.Data, spec.Fields))
	} else {
		ve.add("type", "invalid value %q", n.Type)
	}
	return ve.err()
}

// ValidatePipeline checks a pipeline record's name and every node in it.
// Node ids must be unique within the pipeline.
func ValidatePipeline(p *Pipeline) error {
	var ve ValidationError
	switch name := strings.TrimSpace(p.Name); {
	case name == "":
		ve.add("name", "is required")
	case len([]rune(name)) > MaxNameLength:
		ve.add("name", "must be %d characters or fewer", MaxNameLength)
	}

	seen := make(map[string]bool, len(p.Nodes))
	for i := range p.Nodes {
		n := &p.Nodes[i]
		prefix := fmt.Sprintf("nodes[%d].", i)
		if seen[n.ID] {
			ve.add(prefix+"id", "duplicate id %q", n.ID)
		}
		seen[n.ID] = true
		ve.nest(prefix, ValidateNode(n))
	}
	return ve.err()
}
