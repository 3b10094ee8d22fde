// Package codec reads and writes pipeline documents: a named graph of nodes
// and edges in the same shape the validator accepts on the wire.
package codec

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/alfredjeanlab/pipeflow/internal/idgen"
	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// Document is a pipeline as stored in a file.
type Document struct {
	Name  string           `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []model.WireNode `json:"nodes" yaml:"nodes"`
	Edges []model.WireEdge `json:"edges" yaml:"edges"`
}

// Importer parses documents of one format.
type Importer interface {
	Parse(r io.Reader) (*Document, error)
	Format() string
}

// Exporter writes documents of one format.
type Exporter interface {
	Export(doc *Document, w io.Writer) error
	Format() string
}

// Codec is both.
type Codec interface {
	Importer
	Exporter
}

// ForFormat returns the codec for "json" or "yaml" ("yml" is accepted).
func ForFormat(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unknown document format %q", format)
	}
}

// ForPath picks a codec from a file extension, defaulting to JSON.
func ForPath(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYAMLCodec()
	default:
		return NewJSONCodec()
	}
}

// FromPipeline builds a document from a saved pipeline. Resolved ports are
// dropped; they are recomputed when the document is loaded.
func FromPipeline(p *model.Pipeline) *Document {
	req := p.Snapshot().Request()
	return &Document{Name: p.Name, Nodes: req.Nodes, Edges: req.Edges}
}

// FromSnapshot builds an unnamed document from a snapshot.
func FromSnapshot(s *model.Snapshot) *Document {
	req := s.Request()
	return &Document{Nodes: req.Nodes, Edges: req.Edges}
}

// Request returns the document as a validator request.
func (d *Document) Request() *model.PipelineRequest {
	return &model.PipelineRequest{Nodes: d.Nodes, Edges: d.Edges}
}

// Graph returns the document's nodes and edges in model form, ready to be
// replayed into a graph store.
func (d *Document) Graph() ([]model.Node, []model.Edge) {
	snap := d.Request().Snapshot()
	return snap.Nodes, snap.Edges
}

// normalize fills edge ids and rewrites node data into JSON value types so
// documents decode identically whichever format they came from.
func (d *Document) normalize() error {
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.Data == nil {
			n.Data = map[string]any{}
			continue
		}
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("node %q data: %w", n.ID, err)
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("node %q data: %w", n.ID, err)
		}
		n.Data = data
	}
	for i := range d.Edges {
		if d.Edges[i].ID != "" {
			continue
		}
		id, err := idgen.Edge()
		if err != nil {
			return err
		}
		d.Edges[i].ID = id
	}
	if d.Nodes == nil {
		d.Nodes = []model.WireNode{}
	}
	if d.Edges == nil {
		d.Edges = []model.WireEdge{}
	}
	return nil
}
