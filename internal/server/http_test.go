package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/events"
	"github.com/alfredjeanlab/pipeflow/internal/gateway"
	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/store/memory"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestServer returns a server over a fresh in-memory store and its handler.
func newTestServer(t *testing.T, opts ...Option) (*PipelineServer, http.Handler) {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger)}, opts...)
	srv := NewPipelineServer(memory.New(), &events.NoopPublisher{}, opts...)
	return srv, srv.NewHTTPHandler("", nil)
}

// doJSON sends a request with an optional JSON body through h.
func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rec.Code != code {
		t.Fatalf("expected status %d, got %d; body: %s", code, rec.Code, rec.Body.String())
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// createPipeline creates a pipeline through h and returns it.
func createPipeline(t *testing.T, h http.Handler, body map[string]any) *model.Pipeline {
	t.Helper()
	rec := doJSON(t, h, "POST", "/v1/pipelines", body)
	requireStatus(t, rec, http.StatusCreated)
	var p model.Pipeline
	decodeJSON(t, rec, &p)
	return &p
}

// chainDoc is input -> text{{q}} -> output as a create body.
func chainDoc(id string) map[string]any {
	return map[string]any{
		"id":   id,
		"name": "Chain",
		"nodes": []map[string]any{
			{"id": "customInput-1", "type": "customInput"},
			{"id": "text-1", "type": "text", "data": map[string]any{"text": "{{q}}"}},
			{"id": "customOutput-1", "type": "customOutput"},
		},
		"edges": []map[string]any{
			{"id": "e1", "source": "customInput-1", "sourceHandle": "customInput-1-value", "target": "text-1", "targetHandle": "text-1-q"},
			{"id": "e2", "source": "text-1", "sourceHandle": "text-1-output", "target": "customOutput-1", "targetHandle": "customOutput-1-value"},
		},
	}
}

func TestHandlePingAndHealth(t *testing.T) {
	_, h := newTestServer(t)

	for _, tc := range []struct {
		path, key, want string
	}{
		{"/", "ping", "pong"},
		{"/health", "status", "healthy"},
		{"/v1/health", "status", "ok"},
	} {
		rec := doJSON(t, h, "GET", tc.path, nil)
		requireStatus(t, rec, http.StatusOK)
		var body map[string]string
		decodeJSON(t, rec, &body)
		if body[tc.key] != tc.want {
			t.Errorf("GET %s: %s = %q, want %q", tc.path, tc.key, body[tc.key], tc.want)
		}
	}
}

func TestHandleCatalog(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, "GET", "/v1/catalog", nil)
	requireStatus(t, rec, http.StatusOK)

	var body struct {
		Types []model.NodeSpec `json:"types"`
	}
	decodeJSON(t, rec, &body)
	if len(body.Types) != len(model.CatalogOrder) {
		t.Fatalf("got %d types, want %d", len(body.Types), len(model.CatalogOrder))
	}
	for i, spec := range body.Types {
		if spec.Type != model.CatalogOrder[i] {
			t.Errorf("types[%d] = %q, want %q", i, spec.Type, model.CatalogOrder[i])
		}
	}
}

func TestHandleParse(t *testing.T) {
	_, h := newTestServer(t)

	for _, tc := range []struct {
		name string
		body string
		code int
		want model.Verdict
	}{
		{"empty", `{"nodes":[],"edges":[]}`, http.StatusOK, model.Verdict{IsDAG: true}},
		{"chain", `{"nodes":[{"id":"a"},{"id":"b"},{"id":"c"}],"edges":[{"source":"a","target":"b"},{"source":"b","target":"c"}]}`,
			http.StatusOK, model.Verdict{NumNodes: 3, NumEdges: 2, IsDAG: true}},
		{"cycle", `{"nodes":[{"id":"a"},{"id":"b"}],"edges":[{"source":"a","target":"b"},{"source":"b","target":"a"}]}`,
			http.StatusOK, model.Verdict{NumNodes: 2, NumEdges: 2, IsDAG: false}},
		{"dangling endpoint", `{"nodes":[{"id":"a"}],"edges":[{"source":"a","target":"ghost"}]}`,
			http.StatusOK, model.Verdict{NumNodes: 1, NumEdges: 1, IsDAG: true}},
		{"invalid json", `{`, http.StatusBadRequest, model.Verdict{}},
		{"missing node id", `{"nodes":[{"type":"llm"}],"edges":[]}`, http.StatusUnprocessableEntity, model.Verdict{}},
		{"missing edge target", `{"nodes":[],"edges":[{"source":"a"}]}`, http.StatusUnprocessableEntity, model.Verdict{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", gateway.ParsePath, bytes.NewBufferString(tc.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			requireStatus(t, rec, tc.code)
			if tc.code != http.StatusOK {
				return
			}
			var got model.Verdict
			decodeJSON(t, rec, &got)
			if got != tc.want {
				t.Fatalf("verdict = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestCreatePipeline(t *testing.T) {
	_, h := newTestServer(t)

	p := createPipeline(t, h, map[string]any{"name": "Demo", "created_by": "alice"})
	if p.ID == "" || p.Name != "Demo" || p.CreatedBy != "alice" {
		t.Fatalf("unexpected pipeline: %+v", p)
	}

	imported := createPipeline(t, h, chainDoc("pl-chain"))
	if len(imported.Nodes) != 3 || len(imported.Edges) != 2 {
		t.Fatalf("imported %d nodes / %d edges", len(imported.Nodes), len(imported.Edges))
	}
	if imported.Nodes[0].Data["inputName"] != "input_1" {
		t.Errorf("defaults not merged: %v", imported.Nodes[0].Data)
	}

	for _, tc := range []struct {
		name string
		body map[string]any
		code int
	}{
		{"missing name", map[string]any{"name": " "}, http.StatusBadRequest},
		{"duplicate id", map[string]any{"id": "pl-chain", "name": "Again"}, http.StatusConflict},
		{"unknown node type", map[string]any{"name": "X", "nodes": []map[string]any{{"id": "n", "type": "bogus"}}}, http.StatusBadRequest},
		{"edge to missing handle", map[string]any{
			"name":  "X",
			"nodes": []map[string]any{{"id": "a", "type": "llm"}, {"id": "b", "type": "llm"}},
			"edges": []map[string]any{{"source": "a", "sourceHandle": "a-nope", "target": "b", "targetHandle": "b-prompt"}},
		}, http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			requireStatus(t, doJSON(t, h, "POST", "/v1/pipelines", tc.body), tc.code)
		})
	}
}

func TestListGetDeletePipeline(t *testing.T) {
	_, h := newTestServer(t)
	createPipeline(t, h, map[string]any{"id": "pl-a", "name": "Alpha"})
	createPipeline(t, h, map[string]any{"id": "pl-b", "name": "Beta"})

	rec := doJSON(t, h, "GET", "/v1/pipelines?search=alp", nil)
	requireStatus(t, rec, http.StatusOK)
	var list struct {
		Pipelines []model.Pipeline `json:"pipelines"`
		Total     int              `json:"total"`
	}
	decodeJSON(t, rec, &list)
	if list.Total != 1 || list.Pipelines[0].ID != "pl-a" {
		t.Fatalf("list = %+v", list)
	}

	requireStatus(t, doJSON(t, h, "GET", "/v1/pipelines/pl-b", nil), http.StatusOK)
	requireStatus(t, doJSON(t, h, "DELETE", "/v1/pipelines/pl-b", nil), http.StatusNoContent)
	requireStatus(t, doJSON(t, h, "GET", "/v1/pipelines/pl-b", nil), http.StatusNotFound)
	requireStatus(t, doJSON(t, h, "DELETE", "/v1/pipelines/pl-b", nil), http.StatusNotFound)
	requireStatus(t, doJSON(t, h, "POST", "/v1/pipelines/pl-b/nodes", map[string]any{"type": "llm"}), http.StatusNotFound)
}

func TestRenamePipeline(t *testing.T) {
	_, h := newTestServer(t)
	createPipeline(t, h, map[string]any{"id": "pl-a", "name": "Alpha"})

	rec := doJSON(t, h, "PATCH", "/v1/pipelines/pl-a", map[string]any{"name": "Omega"})
	requireStatus(t, rec, http.StatusOK)
	var p model.Pipeline
	decodeJSON(t, rec, &p)
	if p.Name != "Omega" {
		t.Fatalf("name = %q", p.Name)
	}
	requireStatus(t, doJSON(t, h, "PATCH", "/v1/pipelines/pl-a", map[string]any{"name": ""}), http.StatusBadRequest)
}

func TestNodeLifecycle(t *testing.T) {
	srv, h := newTestServer(t)
	createPipeline(t, h, map[string]any{"id": "pl-n", "name": "Nodes"})

	rec := doJSON(t, h, "POST", "/v1/pipelines/pl-n/nodes", map[string]any{"type": "customInput"})
	requireStatus(t, rec, http.StatusCreated)
	var n model.Node
	decodeJSON(t, rec, &n)
	if n.ID != "customInput-1" || n.Data["inputName"] != "input_1" {
		t.Fatalf("node = %+v", n)
	}
	if len(n.Ports) != 1 || n.Ports[0].ID != "customInput-1-value" {
		t.Fatalf("ports = %+v", n.Ports)
	}

	requireStatus(t, doJSON(t, h, "POST", "/v1/pipelines/pl-n/nodes", map[string]any{"id": "customInput-1", "type": "llm"}), http.StatusConflict)
	requireStatus(t, doJSON(t, h, "POST", "/v1/pipelines/pl-n/nodes", map[string]any{"type": "bogus"}), http.StatusBadRequest)
	requireStatus(t, doJSON(t, h, "POST", "/v1/pipelines/pl-n/nodes", map[string]any{}), http.StatusBadRequest)
	requireStatus(t, doJSON(t, h, "POST", "/v1/pipelines/pl-n/nodes", map[string]any{"type": "llm", "data": map[string]any{"model": "HAL"}}), http.StatusBadRequest)

	requireStatus(t, doJSON(t, h, "GET", "/v1/pipelines/pl-n/nodes/customInput-1", nil), http.StatusOK)
	requireStatus(t, doJSON(t, h, "GET", "/v1/pipelines/pl-n/nodes/nope", nil), http.StatusNotFound)

	// Saved after every mutation.
	saved, err := srv.store.GetPipeline(context.Background(), "pl-n")
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Nodes) != 1 {
		t.Fatalf("saved %d nodes, want 1", len(saved.Nodes))
	}

	requireStatus(t, doJSON(t, h, "DELETE", "/v1/pipelines/pl-n/nodes/customInput-1", nil), http.StatusOK)
	requireStatus(t, doJSON(t, h, "DELETE", "/v1/pipelines/pl-n/nodes/customInput-1", nil), http.StatusNotFound)
}

func TestEdgesAndCascades(t *testing.T) {
	_, h := newTestServer(t)
	createPipeline(t, h, chainDoc("pl-c"))

	// Wrong direction: an input handle as source.
	requireStatus(t, doJSON(t, h, "POST", "/v1/pipelines/pl-c/edges", map[string]any{
		"source": "customOutput-1", "sourceHandle": "customOutput-1-value",
		"target": "text-1", "targetHandle": "text-1-q",
	}), http.StatusBadRequest)
	requireStatus(t, doJSON(t, h, "POST", "/v1/pipelines/pl-c/edges", map[string]any{"source": "a"}), http.StatusBadRequest)

	// Re-deriving ports drops e1.
	rec := doJSON(t, h, "PATCH", "/v1/pipelines/pl-c/nodes/text-1/data", map[string]any{"key": "text", "value": "{{other}}"})
	requireStatus(t, rec, http.StatusOK)
	var upd struct {
		Node         model.Node   `json:"node"`
		RemovedEdges []model.Edge `json:"removed_edges"`
	}
	decodeJSON(t, rec, &upd)
	if len(upd.RemovedEdges) != 1 || upd.RemovedEdges[0].ID != "e1" {
		t.Fatalf("removed = %+v", upd.RemovedEdges)
	}
	if !upd.Node.HasPort("text-1-other") || upd.Node.HasPort("text-1-q") {
		t.Fatalf("ports = %+v", upd.Node.Ports)
	}

	// Removing the text node cascades e2.
	rec = doJSON(t, h, "DELETE", "/v1/pipelines/pl-c/nodes/text-1", nil)
	requireStatus(t, rec, http.StatusOK)
	var del struct {
		RemovedEdges []model.Edge `json:"removed_edges"`
	}
	decodeJSON(t, rec, &del)
	if len(del.RemovedEdges) != 1 || del.RemovedEdges[0].ID != "e2" {
		t.Fatalf("removed = %+v", del.RemovedEdges)
	}

	rec = doJSON(t, h, "GET", "/v1/pipelines/pl-c/snapshot", nil)
	requireStatus(t, rec, http.StatusOK)
	var snap model.Snapshot
	decodeJSON(t, rec, &snap)
	if len(snap.Nodes) != 2 || len(snap.Edges) != 0 {
		t.Fatalf("snapshot = %d nodes / %d edges", len(snap.Nodes), len(snap.Edges))
	}

	requireStatus(t, doJSON(t, h, "DELETE", "/v1/pipelines/pl-c/edges/e1", nil), http.StatusNotFound)
}

func TestAddAndRemoveEdge(t *testing.T) {
	_, h := newTestServer(t)
	createPipeline(t, h, map[string]any{"id": "pl-e", "name": "Edges", "nodes": []map[string]any{
		{"id": "customInput-1", "type": "customInput"},
		{"id": "llm-1", "type": "llm"},
	}})

	rec := doJSON(t, h, "POST", "/v1/pipelines/pl-e/edges", map[string]any{
		"source": "customInput-1", "sourceHandle": "customInput-1-value",
		"target": "llm-1", "targetHandle": "llm-1-prompt",
	})
	requireStatus(t, rec, http.StatusCreated)
	var e model.Edge
	decodeJSON(t, rec, &e)
	if e.ID == "" {
		t.Fatal("expected generated edge id")
	}
	requireStatus(t, doJSON(t, h, "DELETE", "/v1/pipelines/pl-e/edges/"+e.ID, nil), http.StatusNoContent)
}

func TestValidatePipelineAndRuns(t *testing.T) {
	_, h := newTestServer(t)
	createPipeline(t, h, chainDoc("pl-v"))

	rec := doJSON(t, h, "POST", "/v1/pipelines/pl-v/validate", nil)
	requireStatus(t, rec, http.StatusOK)
	var res struct {
		Report gateway.Report      `json:"report"`
		Run    model.ValidationRun `json:"run"`
	}
	decodeJSON(t, rec, &res)
	want := model.Verdict{NumNodes: 3, NumEdges: 2, IsDAG: true}
	if res.Report.Verdict != want || res.Report.Level != gateway.LevelSuccess {
		t.Fatalf("report = %+v", res.Report)
	}
	if res.Run.Source != model.SourceLocal || res.Run.PipelineID != "pl-v" {
		t.Fatalf("run = %+v", res.Run)
	}

	requireStatus(t, doJSON(t, h, "POST", "/v1/pipelines/pl-v/validate", nil), http.StatusOK)

	rec = doJSON(t, h, "GET", "/v1/pipelines/pl-v/runs?limit=1", nil)
	requireStatus(t, rec, http.StatusOK)
	var runs struct {
		Runs []model.ValidationRun `json:"runs"`
	}
	decodeJSON(t, rec, &runs)
	if len(runs.Runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs.Runs))
	}

	requireStatus(t, doJSON(t, h, "GET", "/v1/pipelines/missing/runs", nil), http.StatusNotFound)
	requireStatus(t, doJSON(t, h, "POST", "/v1/pipelines/missing/validate", nil), http.StatusNotFound)

	rec = doJSON(t, h, "GET", "/v1/pipelines/pl-v/events", nil)
	requireStatus(t, rec, http.StatusOK)
	var evts struct {
		Events []model.Event `json:"events"`
	}
	decodeJSON(t, rec, &evts)
	if len(evts.Events) != 3 || evts.Events[0].Topic != events.TopicPipelineCreated {
		t.Fatalf("events = %+v", evts.Events)
	}
}

// validatorFunc adapts a function to gateway.Validator.
type validatorFunc func(ctx context.Context, req *model.PipelineRequest) (model.Verdict, error)

func (f validatorFunc) Validate(ctx context.Context, req *model.PipelineRequest) (model.Verdict, error) {
	return f(ctx, req)
}

func TestValidatePipeline_GatewayErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		v    validatorFunc
		code int
	}{
		{"server error", func(context.Context, *model.PipelineRequest) (model.Verdict, error) {
			return model.Verdict{}, &gateway.ServerError{StatusCode: 500, Body: "boom"}
		}, http.StatusBadGateway},
		{"malformed", func(context.Context, *model.PipelineRequest) (model.Verdict, error) {
			return model.Verdict{}, gateway.ErrMalformedResponse
		}, http.StatusBadGateway},
		{"timeout", func(ctx context.Context, _ *model.PipelineRequest) (model.Verdict, error) {
			<-ctx.Done()
			return model.Verdict{}, ctx.Err()
		}, http.StatusGatewayTimeout},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := gateway.New(tc.v, gateway.WithTimeout(20*time.Millisecond), gateway.WithLogger(discardLogger))
			srv, h := newTestServer(t, WithGateway(g, model.SourceRemote))
			createPipeline(t, h, map[string]any{"id": "pl-g", "name": "Gateway"})

			requireStatus(t, doJSON(t, h, "POST", "/v1/pipelines/pl-g/validate", nil), tc.code)
			runs, err := srv.store.ListRuns(context.Background(), "pl-g", 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(runs) != 0 {
				t.Fatalf("failed validation recorded %d runs", len(runs))
			}
		})
	}
}

func TestSessionReloadsFromStore(t *testing.T) {
	st := memory.New()
	first := NewPipelineServer(st, &events.NoopPublisher{}, WithLogger(discardLogger))
	createPipeline(t, first.NewHTTPHandler("", nil), chainDoc("pl-r"))

	second := NewPipelineServer(st, &events.NoopPublisher{}, WithLogger(discardLogger))
	h := second.NewHTTPHandler("", nil)

	rec := doJSON(t, h, "PATCH", "/v1/pipelines/pl-r/nodes/text-1/data", map[string]any{"key": "text", "value": "plain"})
	requireStatus(t, rec, http.StatusOK)

	saved, err := st.GetPipeline(context.Background(), "pl-r")
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Edges) != 1 || saved.Edges[0].ID != "e2" {
		t.Fatalf("saved edges = %+v", saved.Edges)
	}
}

func TestNewHTTPHandler_Auth(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.NewHTTPHandler("secret", nil)

	requireStatus(t, doJSON(t, h, "GET", "/v1/health", nil), http.StatusOK)
	requireStatus(t, doJSON(t, h, "GET", "/v1/pipelines", nil), http.StatusUnauthorized)

	req := httptest.NewRequest("GET", "/v1/pipelines", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	requireStatus(t, rec, http.StatusOK)
}

func TestSessionsRosterAndEviction(t *testing.T) {
	srv, h := newTestServer(t)
	createPipeline(t, h, map[string]any{"id": "pl-s", "name": "S", "created_by": "alice"})

	rec := doJSON(t, h, "GET", "/v1/sessions", nil)
	requireStatus(t, rec, http.StatusOK)
	var body struct {
		Sessions []struct {
			PipelineID string   `json:"pipeline_id"`
			Actors     []string `json:"actors"`
			EventCount int64    `json:"event_count"`
		} `json:"sessions"`
	}
	decodeJSON(t, rec, &body)
	if len(body.Sessions) != 1 || body.Sessions[0].PipelineID != "pl-s" || body.Sessions[0].Actors[0] != "alice" {
		t.Fatalf("sessions = %+v", body.Sessions)
	}

	requireStatus(t, doJSON(t, h, "GET", "/v1/sessions?active=bogus", nil), http.StatusBadRequest)

	// A session mid-mutation is not evicted.
	sess, err := srv.session(context.Background(), "pl-s")
	if err != nil {
		t.Fatal(err)
	}
	sess.mu.Lock()
	if srv.evictSession("pl-s") {
		t.Fatal("evicted a locked session")
	}
	sess.mu.Unlock()

	if !srv.evictSession("pl-s") {
		t.Fatal("idle session not evicted")
	}
	if !sess.closed {
		t.Fatal("evicted session not closed")
	}

	// Next use reloads from the store.
	rec = doJSON(t, h, "POST", "/v1/pipelines/pl-s/nodes", map[string]any{"type": "llm"})
	requireStatus(t, rec, http.StatusCreated)
	reloaded, err := srv.session(context.Background(), "pl-s")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded == sess {
		t.Fatal("session was not reloaded")
	}
}

func TestDeleteClosesLiveSession(t *testing.T) {
	srv, h := newTestServer(t)
	createPipeline(t, h, chainDoc("pl-d"))

	sess, err := srv.session(context.Background(), "pl-d")
	if err != nil {
		t.Fatal(err)
	}
	requireStatus(t, doJSON(t, h, "DELETE", "/v1/pipelines/pl-d", nil), http.StatusNoContent)
	if !sess.closed {
		t.Fatal("deleted session not closed")
	}

	// A mutation after delete must not resurrect the pipeline.
	rec := doJSON(t, h, "PATCH", "/v1/pipelines/pl-d/nodes/text-1/data", map[string]any{"key": "text", "value": "x"})
	requireStatus(t, rec, http.StatusNotFound)
	if _, err := srv.store.GetPipeline(context.Background(), "pl-d"); err == nil {
		t.Fatal("pipeline resurrected after delete")
	}

	rec = doJSON(t, h, "GET", "/v1/sessions", nil)
	var body struct {
		Sessions []any `json:"sessions"`
	}
	decodeJSON(t, rec, &body)
	if len(body.Sessions) != 0 {
		t.Fatalf("deleted pipeline still in roster: %+v", body.Sessions)
	}
}
