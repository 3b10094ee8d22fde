package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alfredjeanlab/pipeflow/internal/events"
	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/server"
	"github.com/alfredjeanlab/pipeflow/internal/store/memory"
)

// TestHTTPClient_AgainstServer drives a real server handler through the
// client: build a chain, rewire it with a field edit, then validate.
func TestHTTPClient_AgainstServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ps := server.NewPipelineServer(memory.New(), &events.NoopPublisher{}, server.WithLogger(logger))
	srv := httptest.NewServer(ps.NewHTTPHandler("tok", nil))
	defer srv.Close()

	ctx := context.Background()
	c := NewHTTPClient(srv.URL, "tok").WithActor("tester")

	p, err := c.CreatePipeline(ctx, &CreatePipelineRequest{Name: "Chain"})
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	if p.CreatedBy != "tester" {
		t.Fatalf("created_by = %q, want tester", p.CreatedBy)
	}

	in, err := c.AddNode(ctx, p.ID, &AddNodeRequest{Type: model.NodeTypeInput})
	if err != nil {
		t.Fatalf("AddNode input: %v", err)
	}
	text, err := c.AddNode(ctx, p.ID, &AddNodeRequest{
		Type: model.NodeTypeText,
		Data: map[string]any{"text": "{{q}}"},
	})
	if err != nil {
		t.Fatalf("AddNode text: %v", err)
	}
	if in.ID != "customInput-1" || text.ID != "text-1" {
		t.Fatalf("ids = %q, %q", in.ID, text.ID)
	}

	if _, err := c.AddEdge(ctx, p.ID, &AddEdgeRequest{
		Source: in.ID, SourceHandle: model.HandleID(in.ID, "value"),
		Target: text.ID, TargetHandle: model.HandleID(text.ID, "q"),
	}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	res, err := c.ValidatePipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("ValidatePipeline: %v", err)
	}
	if v := res.Report.Verdict; v.NumNodes != 2 || v.NumEdges != 1 || !v.IsDAG {
		t.Fatalf("verdict = %+v", v)
	}

	// Renaming the variable drops the edge bound to the old handle.
	upd, err := c.UpdateNodeField(ctx, p.ID, text.ID, "text", "{{other}}")
	if err != nil {
		t.Fatalf("UpdateNodeField: %v", err)
	}
	if len(upd.RemovedEdges) != 1 {
		t.Fatalf("removed edges = %d, want 1", len(upd.RemovedEdges))
	}

	snap, err := c.Snapshot(ctx, p.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Nodes) != 2 || len(snap.Edges) != 0 {
		t.Fatalf("snapshot = %d nodes %d edges", len(snap.Nodes), len(snap.Edges))
	}

	runs, err := c.ListRuns(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Actor != "tester" {
		t.Fatalf("runs = %+v", runs)
	}

	if err := c.DeletePipeline(ctx, p.ID); err != nil {
		t.Fatalf("DeletePipeline: %v", err)
	}
	if _, err := c.GetPipeline(ctx, p.ID); !IsNotFound(err) {
		t.Fatalf("GetPipeline after delete: err = %v, want 404", err)
	}
}

func TestHTTPClient_Unauthorized(t *testing.T) {
	ps := server.NewPipelineServer(memory.New(), &events.NoopPublisher{})
	srv := httptest.NewServer(ps.NewHTTPHandler("tok", nil))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "wrong").Catalog(context.Background())
	var ae *APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401", err)
	}
}
