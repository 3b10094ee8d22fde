package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// pipelineRow receives one row of pipelineColumns. The graph column holds
// the nodes and edges as a JSON snapshot.
type pipelineRow struct {
	model.Pipeline
	graph     []byte
	createdBy sql.NullString
}

func (r *pipelineRow) targets() []any {
	return []any{&r.ID, &r.Name, &r.graph, &r.createdBy, &r.CreatedAt, &r.UpdatedAt}
}

func (r *pipelineRow) finish() (*model.Pipeline, error) {
	r.CreatedBy = r.createdBy.String
	if len(r.graph) > 0 {
		var snap model.Snapshot
		if err := json.Unmarshal(r.graph, &snap); err != nil {
			return nil, fmt.Errorf("decode graph for %s: %w", r.ID, err)
		}
		r.Nodes, r.Edges = snap.Nodes, snap.Edges
	}
	p := r.Pipeline
	return &p, nil
}

func scanPipeline(row rowScanner) (*model.Pipeline, error) {
	var r pipelineRow
	if err := row.Scan(r.targets()...); err != nil {
		return nil, err
	}
	return r.finish()
}

// graphJSON encodes a pipeline's nodes and edges for the graph column.
// Missing slices are stored as empty arrays so containment queries match.
func graphJSON(p *model.Pipeline) ([]byte, error) {
	snap := model.Snapshot{Nodes: p.Nodes, Edges: p.Edges}
	if snap.Nodes == nil {
		snap.Nodes = []model.Node{}
	}
	if snap.Edges == nil {
		snap.Edges = []model.Edge{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode graph: %w", err)
	}
	return data, nil
}

func scanRun(row rowScanner) (*model.ValidationRun, error) {
	var (
		r      model.ValidationRun
		source string
		actor  sql.NullString
	)
	v := &r.Verdict
	if err := row.Scan(&r.ID, &r.PipelineID, &v.NumNodes, &v.NumEdges, &v.IsDAG, &source, &actor, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Source = model.ValidationSource(source)
	r.Actor = actor.String
	return &r, nil
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var (
		e       model.Event
		actor   sql.NullString
		payload []byte
	)
	if err := row.Scan(&e.ID, &e.Topic, &e.PipelineID, &actor, &payload, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Actor = actor.String
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	return &e, nil
}

// collect scans and closes rows.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
