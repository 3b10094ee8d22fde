// Package ports derives a node's connection points from its type and content.
package ports

import (
	"regexp"

	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// variablePattern matches {{name}} with optional whitespace inside the braces.
var variablePattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Derive returns the variable names referenced in text, left to right,
// keeping only the first occurrence of each. Malformed tokens are ignored.
func Derive(text string) []string {
	matches := variablePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// InputPortID returns the handle id of a derived input port.
func InputPortID(nodeID, name string) string {
	return model.HandleID(nodeID, name)
}

// Resolve computes the full port set of a node: static inputs, then inputs
// derived from the type's template field, then static outputs. A derived
// name that collides with a static input is not repeated.
func Resolve(n *model.Node) []model.Port {
	static := model.StaticPorts(n.Type, n.ID)
	spec, ok := model.Catalog[n.Type]
	if !ok || spec.TemplateField == "" {
		return static
	}

	var inputs, outputs []model.Port
	taken := make(map[string]bool)
	for _, p := range static {
		if p.Direction == model.PortInput {
			inputs = append(inputs, p)
			taken[p.ID] = true
		} else {
			outputs = append(outputs, p)
		}
	}
	for _, name := range Derive(n.DataString(spec.TemplateField)) {
		id := InputPortID(n.ID, name)
		if taken[id] {
			continue
		}
		taken[id] = true
		inputs = append(inputs, model.Port{
			ID:        id,
			Name:      name,
			Direction: model.PortInput,
			Origin:    model.PortDerived,
		})
	}
	return append(inputs, outputs...)
}

// TemplateField reports the field of t whose content feeds Derive.
func TemplateField(t model.NodeType) (string, bool) {
	spec, ok := model.Catalog[t]
	if !ok || spec.TemplateField == "" {
		return "", false
	}
	return spec.TemplateField, true
}
