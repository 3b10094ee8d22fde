package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/pipeflow/internal/model"
)

const (
	pipelineColumns = `id, name, graph, created_by, created_at, updated_at`
	runColumns      = `id, pipeline_id, num_nodes, num_edges, is_dag, source, actor, created_at`
	eventColumns    = `id, topic, pipeline_id, actor, payload, created_at`
)

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// params accumulates positional arguments and hands out their placeholders.
type params []any

func (p *params) add(v any) string {
	*p = append(*p, v)
	return "$" + strconv.Itoa(len(*p))
}

func querySavePipeline(ctx context.Context, db executor, p *model.Pipeline) error {
	graph, err := graphJSON(p)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO pipelines (id, name, graph, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, graph = EXCLUDED.graph, updated_at = NOW()
		RETURNING created_at, updated_at`
	return db.QueryRowContext(ctx, q, p.ID, p.Name, graph, nullString(p.CreatedBy)).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}

func queryGetPipeline(ctx context.Context, db executor, id string) (*model.Pipeline, error) {
	return scanPipeline(db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, id))
}

// pipelineWhere turns a filter into a WHERE clause. The node type filter
// uses jsonb containment so the GIN index on graph serves it.
func pipelineWhere(f model.PipelineFilter, args *params) string {
	var conds []string
	if f.Search != "" {
		conds = append(conds, "name ILIKE '%' || "+args.add(f.Search)+" || '%'")
	}
	if f.CreatedBy != "" {
		conds = append(conds, "created_by = "+args.add(f.CreatedBy))
	}
	if f.NodeType != "" {
		conds = append(conds, "graph->'nodes' @> jsonb_build_array(jsonb_build_object('type', "+args.add(f.NodeType)+"::text))")
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// queryListPipelines returns one page and the total match count, taken
// from the same snapshot with COUNT(*) OVER().
func queryListPipelines(ctx context.Context, db executor, f model.PipelineFilter) ([]*model.Pipeline, int, error) {
	var args params
	var q strings.Builder
	q.WriteString("SELECT COUNT(*) OVER() AS total_count, " + pipelineColumns + " FROM pipelines")
	q.WriteString(pipelineWhere(f, &args))
	q.WriteString(" ORDER BY " + parseSortClause(f.Sort))
	if f.Limit > 0 {
		q.WriteString(" LIMIT " + args.add(f.Limit))
	}
	if f.Offset > 0 {
		q.WriteString(" OFFSET " + args.add(f.Offset))
	}

	rows, err := db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list pipelines: %w", err)
	}
	total := 0
	pipelines, err := collect(rows, func(row rowScanner) (*model.Pipeline, error) {
		var r pipelineRow
		if err := row.Scan(append([]any{&total}, r.targets()...)...); err != nil {
			return nil, err
		}
		return r.finish()
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan pipelines: %w", err)
	}
	return pipelines, total, nil
}

func queryDeletePipeline(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	switch {
	case err != nil:
		return fmt.Errorf("rows affected: %w", err)
	case n == 0:
		return sql.ErrNoRows
	}
	return nil
}

func queryRecordRun(ctx context.Context, db executor, r *model.ValidationRun) error {
	const q = `
		INSERT INTO validation_runs (pipeline_id, num_nodes, num_edges, is_dag, source, actor)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	v := r.Verdict
	return db.QueryRowContext(ctx, q, r.PipelineID, v.NumNodes, v.NumEdges, v.IsDAG, string(r.Source), nullString(r.Actor)).
		Scan(&r.ID, &r.CreatedAt)
}

// queryListRuns returns runs newest first; limit <= 0 means all of them.
func queryListRuns(ctx context.Context, db executor, pipelineID string, limit int) ([]*model.ValidationRun, error) {
	args := params{pipelineID}
	q := `SELECT ` + runColumns + ` FROM validation_runs WHERE pipeline_id = $1 ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ` + args.add(limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRun)
}

func queryRecordEvent(ctx context.Context, db executor, e *model.Event) error {
	const q = `
		INSERT INTO events (topic, pipeline_id, actor, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	return db.QueryRowContext(ctx, q, e.Topic, e.PipelineID, e.Actor, []byte(e.Payload)).
		Scan(&e.ID, &e.CreatedAt)
}

// queryGetEvents returns a pipeline's events in the order they were recorded.
func queryGetEvents(ctx context.Context, db executor, pipelineID string) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE pipeline_id = $1 ORDER BY created_at ASC, id ASC`,
		pipelineID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEvent)
}

var sortColumns = map[string]bool{"name": true, "created_at": true, "updated_at": true, "id": true}

// parseSortClause maps "col" or "-col" to an ORDER BY term. Unknown
// columns fall back to most recently updated first.
func parseSortClause(sort string) string {
	col, desc := strings.CutPrefix(sort, "-")
	if !sortColumns[col] {
		return "updated_at DESC"
	}
	if desc {
		return col + " DESC"
	}
	return col + " ASC"
}
