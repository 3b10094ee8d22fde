package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// handleCatalog handles GET /v1/catalog.
func (s *PipelineServer) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	specs := make([]*model.NodeSpec, 0, len(model.CatalogOrder))
	for _, t := range model.CatalogOrder {
		specs = append(specs, model.Catalog[t])
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": specs})
}

// handleCreatePipeline handles POST /v1/pipelines.
func (s *PipelineServer) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var in createPipelineInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.CreatedBy = actorFrom(r, in.CreatedBy)

	p, err := s.createPipeline(r.Context(), in)
	if err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleListPipelines handles GET /v1/pipelines.
func (s *PipelineServer) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.PipelineFilter{
		Search:    q.Get("search"),
		CreatedBy: q.Get("created_by"),
		NodeType:  q.Get("node_type"),
		Sort:      q.Get("sort"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	pipelines, total, err := s.store.ListPipelines(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pipelines")
		return
	}
	if pipelines == nil {
		pipelines = []*model.Pipeline{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pipelines": pipelines,
		"total":     total,
	})
}

// handleGetPipeline handles GET /v1/pipelines/{id}.
func (s *PipelineServer) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPipeline(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleRenamePipeline handles PATCH /v1/pipelines/{id}.
func (s *PipelineServer) handleRenamePipeline(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name  string `json:"name"`
		Actor string `json:"actor,omitempty"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	p, err := s.renamePipeline(r.Context(), r.PathValue("id"), in.Name, actorFrom(r, in.Actor))
	if err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleDeletePipeline handles DELETE /v1/pipelines/{id}.
func (s *PipelineServer) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	if err := s.deletePipeline(r.Context(), r.PathValue("id"), actorFrom(r, "")); err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddNode handles POST /v1/pipelines/{id}/nodes.
func (s *PipelineServer) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var in addNodeInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.Actor = actorFrom(r, in.Actor)

	n, err := s.addNode(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// handleGetNode handles GET /v1/pipelines/{id}/nodes/{node}.
func (s *PipelineServer) handleGetNode(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	n, err := sess.graph.Node(r.PathValue("node"))
	if err != nil {
		writeServiceError(w, err, "node")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleRemoveNode handles DELETE /v1/pipelines/{id}/nodes/{node}.
func (s *PipelineServer) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	removed, err := s.removeNode(r.Context(), r.PathValue("id"), r.PathValue("node"), actorFrom(r, ""))
	if err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	if removed == nil {
		removed = []model.Edge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed_edges": removed})
}

// handleUpdateNodeField handles PATCH /v1/pipelines/{id}/nodes/{node}/data.
func (s *PipelineServer) handleUpdateNodeField(w http.ResponseWriter, r *http.Request) {
	var in updateFieldInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.Actor = actorFrom(r, in.Actor)

	n, removed, err := s.updateNodeField(r.Context(), r.PathValue("id"), r.PathValue("node"), in)
	if err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	if removed == nil {
		removed = []model.Edge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node":          n,
		"removed_edges": removed,
	})
}

// handleAddEdge handles POST /v1/pipelines/{id}/edges.
func (s *PipelineServer) handleAddEdge(w http.ResponseWriter, r *http.Request) {
	var in addEdgeInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.Actor = actorFrom(r, in.Actor)

	e, err := s.addEdge(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// handleRemoveEdge handles DELETE /v1/pipelines/{id}/edges/{edge}.
func (s *PipelineServer) handleRemoveEdge(w http.ResponseWriter, r *http.Request) {
	if err := s.removeEdge(r.Context(), r.PathValue("id"), r.PathValue("edge"), actorFrom(r, "")); err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSnapshot handles GET /v1/pipelines/{id}/snapshot.
func (s *PipelineServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleValidatePipeline handles POST /v1/pipelines/{id}/validate.
func (s *PipelineServer) handleValidatePipeline(w http.ResponseWriter, r *http.Request) {
	res, err := s.validatePipeline(r.Context(), r.PathValue("id"), actorFrom(r, ""))
	if err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleListRuns handles GET /v1/pipelines/{id}/runs.
func (s *PipelineServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetPipeline(r.Context(), id); err != nil {
		writeServiceError(w, err, "pipeline")
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.ListRuns(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*model.ValidationRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetEvents handles GET /v1/pipelines/{id}/events.
func (s *PipelineServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	evts, err := s.store.GetEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}
	if evts == nil {
		evts = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evts})
}

// handleSessions handles GET /v1/sessions. ?active=<duration> limits the
// roster to sessions with events inside that window.
func (s *PipelineServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if v := r.URL.Query().Get("active"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid active duration")
			return
		}
		window = d
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.presence.Roster(window)})
}
