package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// pipelineRowColumns is the column list for scanPipeline results.
var pipelineRowColumns = []string{"id", "name", "graph", "created_by", "created_at", "updated_at"}

// pipelineWithTotalColumns is the column list for queryListPipelines results.
var pipelineWithTotalColumns = append([]string{"total_count"}, pipelineRowColumns...)

var runRowColumns = []string{"id", "pipeline_id", "num_nodes", "num_edges", "is_dag", "source", "actor", "created_at"}

const sampleGraph = `{"nodes":[{"id":"text-1","type":"text","position":{"x":1,"y":2},"data":{"text":"{{a}}"}}],` +
	`"edges":[{"id":"e1","source":"customInput-1","sourceHandle":"customInput-1-value","target":"text-1","targetHandle":"text-1-a"}]}`

func TestParseSortClause(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  string
	}{
		{"", "updated_at DESC"},
		{"name", "name ASC"},
		{"-name", "name DESC"},
		{"evil_column", "updated_at DESC"},
		{"-evil_column", "updated_at DESC"},
	} {
		if got := parseSortClause(tc.input); got != tc.want {
			t.Errorf("parseSortClause(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
	for _, col := range []string{"name", "created_at", "updated_at", "id"} {
		if got := parseSortClause(col); got != col+" ASC" {
			t.Errorf("parseSortClause(%q) = %q, want %q", col, got, col+" ASC")
		}
		if got := parseSortClause("-" + col); got != col+" DESC" {
			t.Errorf("parseSortClause(-%q) = %q, want %q", col, got, col+" DESC")
		}
	}
}

func TestScanHelpers(t *testing.T) {
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}

	data, err := graphJSON(&model.Pipeline{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"nodes":[],"edges":[]}` {
		t.Errorf("graphJSON(empty) = %s", data)
	}
}

func TestQuerySavePipeline(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	p := &model.Pipeline{
		ID:   "pl-abc",
		Name: "Demo",
		Nodes: []model.Node{{
			ID: "text-1", Type: model.NodeTypeText,
			Position: model.Position{X: 1, Y: 2},
			Data:     map[string]any{"text": "{{a}}"},
		}},
		Edges: []model.Edge{{ID: "e1", Source: "customInput-1", SourceHandle: "customInput-1-value", Target: "text-1", TargetHandle: "text-1-a"}},
		CreatedBy: "alice",
	}
	mock.ExpectQuery("INSERT INTO pipelines .+ ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs("pl-abc", "Demo", []byte(sampleGraph), "alice").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	if err := querySavePipeline(context.Background(), db, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.CreatedAt.Equal(now) || !p.UpdatedAt.Equal(now) {
		t.Errorf("timestamps not set: %v %v", p.CreatedAt, p.UpdatedAt)
	}
}

func TestQueryGetPipeline(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(pipelineRowColumns).
		AddRow("pl-abc", "Demo", []byte(sampleGraph), nil, now, now)
	mock.ExpectQuery("SELECT .+ FROM pipelines WHERE id = \\$1").WithArgs("pl-abc").WillReturnRows(rows)

	p, err := queryGetPipeline(context.Background(), db, "pl-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Demo" || p.CreatedBy != "" {
		t.Errorf("got name=%q created_by=%q", p.Name, p.CreatedBy)
	}
	if len(p.Nodes) != 1 || p.Nodes[0].Data["text"] != "{{a}}" {
		t.Errorf("nodes = %+v", p.Nodes)
	}
	if len(p.Edges) != 1 || p.Edges[0].TargetHandle != "text-1-a" {
		t.Errorf("edges = %+v", p.Edges)
	}
}

func TestQueryGetPipeline_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM pipelines WHERE id = \\$1").WithArgs("nonexistent").WillReturnError(sql.ErrNoRows)

	_, err := queryGetPipeline(context.Background(), db, "nonexistent")
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryGetPipeline_BadGraph(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(pipelineRowColumns).AddRow("pl-bad", "Bad", []byte(`{"nodes":`), nil, now, now)
	mock.ExpectQuery("SELECT .+ FROM pipelines WHERE id = \\$1").WithArgs("pl-bad").WillReturnRows(rows)

	if _, err := queryGetPipeline(context.Background(), db, "pl-bad"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestQueryListPipelines(t *testing.T) {
	now := time.Now().UTC()

	for _, tc := range []struct {
		name      string
		filter    model.PipelineFilter
		queryPat  string
		args      []driver.Value
		wantCount int
	}{
		{
			name:      "NoFilter",
			filter:    model.PipelineFilter{},
			queryPat:  "SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM pipelines ORDER BY updated_at DESC",
			wantCount: 2,
		},
		{
			name:      "Search",
			filter:    model.PipelineFilter{Search: "demo"},
			queryPat:  "SELECT .+ FROM pipelines WHERE name ILIKE .+ ORDER BY",
			args:      []driver.Value{"demo"},
			wantCount: 1,
		},
		{
			name:      "CreatedBy",
			filter:    model.PipelineFilter{CreatedBy: "alice"},
			queryPat:  "SELECT .+ FROM pipelines WHERE created_by = \\$1 ORDER BY",
			args:      []driver.Value{"alice"},
			wantCount: 1,
		},
		{
			name:      "NodeType",
			filter:    model.PipelineFilter{NodeType: "llm"},
			queryPat:  "SELECT .+ FROM pipelines WHERE graph->'nodes' @> .+ ORDER BY",
			args:      []driver.Value{"llm"},
			wantCount: 1,
		},
		{
			name:      "SortLimitOffset",
			filter:    model.PipelineFilter{Sort: "name", Limit: 10, Offset: 5},
			queryPat:  "SELECT .+ FROM pipelines ORDER BY name ASC LIMIT \\$1 OFFSET \\$2",
			args:      []driver.Value{10, 5},
			wantCount: 1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			rows := sqlmock.NewRows(pipelineWithTotalColumns)
			for i := 0; i < tc.wantCount; i++ {
				rows.AddRow(tc.wantCount, "pl-"+string(rune('a'+i)), "p", []byte(`{"nodes":[],"edges":[]}`), nil, now, now)
			}
			q := mock.ExpectQuery(tc.queryPat)
			if tc.args != nil {
				q = q.WithArgs(tc.args...)
			}
			q.WillReturnRows(rows)

			got, total, err := queryListPipelines(context.Background(), db, tc.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tc.wantCount || total != tc.wantCount {
				t.Errorf("got %d pipelines total=%d, want %d", len(got), total, tc.wantCount)
			}
		})
	}
}

func TestQueryDeletePipeline(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM pipelines WHERE id = \\$1").WithArgs("pl-del").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryDeletePipeline(context.Background(), db, "pl-del"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryDeletePipeline_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM pipelines WHERE id = \\$1").WithArgs("nonexistent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := queryDeletePipeline(context.Background(), db, "nonexistent"); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryRecordRun(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	run := &model.ValidationRun{
		PipelineID: "pl-abc",
		Verdict:    model.Verdict{NumNodes: 3, NumEdges: 2, IsDAG: true},
		Source:     model.SourceLocal,
	}
	mock.ExpectQuery("INSERT INTO validation_runs").
		WithArgs("pl-abc", 3, 2, true, "local", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, now))

	if err := queryRecordRun(context.Background(), db, run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.ID != 7 {
		t.Fatalf("expected id=7, got %d", run.ID)
	}
}

func TestQueryListRuns(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(runRowColumns).
		AddRow(2, "pl-abc", 2, 2, false, "remote", "bob", now).
		AddRow(1, "pl-abc", 3, 2, true, "local", nil, now.Add(-time.Minute))
	mock.ExpectQuery("SELECT .+ FROM validation_runs WHERE pipeline_id = \\$1 ORDER BY created_at DESC, id DESC LIMIT \\$2").
		WithArgs("pl-abc", 5).WillReturnRows(rows)

	runs, err := queryListRuns(context.Background(), db, "pl-abc", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Verdict.IsDAG || runs[0].Source != model.SourceRemote || runs[0].Actor != "bob" {
		t.Errorf("first run = %+v", runs[0])
	}
	if !runs[1].Verdict.IsDAG || runs[1].Verdict.NumNodes != 3 || runs[1].Actor != "" {
		t.Errorf("second run = %+v", runs[1])
	}
}

func TestQueryRecordEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	event := &model.Event{
		Topic: "pipeflow.node.added", PipelineID: "pl-a", Actor: "alice",
		Payload: json.RawMessage(`{"node":{"id":"llm-1"}}`),
	}
	mock.ExpectQuery("INSERT INTO events").
		WithArgs("pipeflow.node.added", "pl-a", "alice", []byte(`{"node":{"id":"llm-1"}}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, now))

	if err := queryRecordEvent(context.Background(), db, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID != 1 {
		t.Fatalf("expected id=1, got %d", event.ID)
	}
}

func TestQueryGetEvents(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "topic", "pipeline_id", "actor", "payload", "created_at"}).
		AddRow(1, "pipeflow.node.added", "pl-a", "alice", []byte(`{}`), now).
		AddRow(2, "pipeflow.edge.added", "pl-a", nil, []byte(`{}`), now)
	mock.ExpectQuery("SELECT .+ FROM events WHERE pipeline_id = \\$1").WithArgs("pl-a").WillReturnRows(rows)

	evts, err := queryGetEvents(context.Background(), db, "pl-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	if evts[0].Actor != "alice" || evts[1].Actor != "" {
		t.Fatalf("got actors=%q %q", evts[0].Actor, evts[1].Actor)
	}
}

func TestRunInTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewFromDB(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO validation_runs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, now))
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, now))
	mock.ExpectCommit()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		if err := tx.RecordRun(context.Background(), &model.ValidationRun{PipelineID: "pl-a", Source: model.SourceLocal}); err != nil {
			return err
		}
		return tx.RecordEvent(context.Background(), &model.Event{Topic: "pipeflow.pipeline.validated", PipelineID: "pl-a"})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunInTransaction_Rollback(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewFromDB(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.RunInTransaction(context.Background(), func(store.Store) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRunInTransaction_NestedJoinsOuter(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewFromDB(db)
	now := time.Now().UTC()

	// One BEGIN and one COMMIT for both levels.
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, now))
	mock.ExpectCommit()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return tx.RunInTransaction(context.Background(), func(inner store.Store) error {
			if err := inner.Close(); err != nil {
				return err
			}
			return inner.RecordEvent(context.Background(), &model.Event{Topic: "pipeflow.node.added", PipelineID: "pl-a"})
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunInTransaction_RollbackFailure(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewFromDB(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("connection reset"))

	err := s.RunInTransaction(context.Background(), func(store.Store) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "rollback: connection reset") {
		t.Fatalf("rollback failure not reported: %v", err)
	}
}

func TestSchemaVersion(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT version, dirty FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "dirty"}).AddRow(int64(1), false))

	v, dirty, err := NewFromDB(db).SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 1 || dirty {
		t.Fatalf("got version=%d dirty=%v", v, dirty)
	}
}

func TestPipelineWhere(t *testing.T) {
	var args params
	got := pipelineWhere(model.PipelineFilter{Search: "etl", NodeType: "llm"}, &args)
	want := " WHERE name ILIKE '%' || $1 || '%' AND graph->'nodes' @> jsonb_build_array(jsonb_build_object('type', $2::text))"
	if got != want {
		t.Errorf("where = %q\nwant    %q", got, want)
	}
	if len(args) != 2 || args[0] != "etl" || args[1] != "llm" {
		t.Errorf("args = %v", args)
	}
	if got := pipelineWhere(model.PipelineFilter{Sort: "name"}, &args); got != "" {
		t.Errorf("empty filter where = %q", got)
	}
}

func TestQueryListRuns_ScanError(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sqlmock.NewRows(runRowColumns).
		AddRow("not-a-number", "pl-abc", 2, 2, false, "remote", nil, time.Now())
	mock.ExpectQuery("SELECT .+ FROM validation_runs WHERE pipeline_id = \\$1 ORDER BY created_at DESC, id DESC$").
		WithArgs("pl-abc").WillReturnRows(rows)

	if _, err := queryListRuns(context.Background(), db, "pl-abc", 0); err == nil {
		t.Fatal("expected scan error")
	}
}
