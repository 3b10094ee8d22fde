package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/rpc"
	"github.com/alfredjeanlab/pipeflow/internal/validate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName and ServiceVersion are reported by the health endpoints.
const (
	ServiceName    = "pipeflow-validator"
	ServiceVersion = "1.0.0"
)

// checkRequest rejects requests whose records lack required identity.
func checkRequest(req *model.PipelineRequest) error {
	for i, n := range req.Nodes {
		if n.ID == "" {
			return inputError(fmt.Sprintf("nodes[%d].id is required", i))
		}
	}
	for i, e := range req.Edges {
		if e.Source == "" || e.Target == "" {
			return inputError(fmt.Sprintf("edges[%d] requires source and target", i))
		}
	}
	return nil
}

// parse computes the verdict for a wire request.
func (s *PipelineServer) parse(req *model.PipelineRequest) (model.Verdict, error) {
	if err := checkRequest(req); err != nil {
		return model.Verdict{}, err
	}
	s.logger.Info("received pipeline", "nodes", len(req.Nodes), "edges", len(req.Edges))
	v := validate.Check(req.Snapshot())
	s.logger.Info("analysis complete", "num_nodes", v.NumNodes, "num_edges", v.NumEdges, "is_dag", v.IsDAG)
	return v, nil
}

// handlePing handles GET /.
func (s *PipelineServer) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"ping": "pong", "status": "pipeflow validator is running"})
}

// handleServiceHealth handles GET /health.
func (s *PipelineServer) handleServiceHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": ServiceName,
		"status":  "healthy",
		"version": ServiceVersion,
	})
}

// handleParse handles POST /pipelines/parse.
func (s *PipelineServer) handleParse(w http.ResponseWriter, r *http.Request) {
	var req model.PipelineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v, err := s.parse(&req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Validate implements rpc.ValidatorServer.
func (s *PipelineServer) Validate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := rpc.StructToRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	v, err := s.parse(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return rpc.VerdictToStruct(v), nil
}

// Health implements rpc.ValidatorServer.
func (s *PipelineServer) Health(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"service": ServiceName,
		"status":  "healthy",
		"version": ServiceVersion,
	})
}
