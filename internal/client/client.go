// Package client provides a transport-agnostic interface for the pipeflow
// session API and an HTTP/JSON implementation of it.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/gateway"
	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/presence"
)

// PipelinesClient is the interface the pf CLI uses to talk to a pipeflow
// server. It is implemented by HTTPClient.
type PipelinesClient interface {
	// Pipelines
	CreatePipeline(ctx context.Context, req *CreatePipelineRequest) (*model.Pipeline, error)
	GetPipeline(ctx context.Context, id string) (*model.Pipeline, error)
	ListPipelines(ctx context.Context, req *ListPipelinesRequest) (*ListPipelinesResponse, error)
	RenamePipeline(ctx context.Context, id, name string) (*model.Pipeline, error)
	DeletePipeline(ctx context.Context, id string) error

	// Graph edits
	AddNode(ctx context.Context, pipelineID string, req *AddNodeRequest) (*model.Node, error)
	GetNode(ctx context.Context, pipelineID, nodeID string) (*model.Node, error)
	RemoveNode(ctx context.Context, pipelineID, nodeID string) ([]model.Edge, error)
	UpdateNodeField(ctx context.Context, pipelineID, nodeID, key string, value any) (*UpdateNodeFieldResponse, error)
	AddEdge(ctx context.Context, pipelineID string, req *AddEdgeRequest) (*model.Edge, error)
	RemoveEdge(ctx context.Context, pipelineID, edgeID string) error
	Snapshot(ctx context.Context, pipelineID string) (*model.Snapshot, error)

	// Validation
	ValidatePipeline(ctx context.Context, pipelineID string) (*ValidationResult, error)
	ListRuns(ctx context.Context, pipelineID string, limit int) ([]*model.ValidationRun, error)

	// Events
	GetEvents(ctx context.Context, pipelineID string) ([]*model.Event, error)

	// Sessions lists live editing sessions; active > 0 keeps only those
	// with events inside that window.
	Sessions(ctx context.Context, active time.Duration) ([]presence.Entry, error)

	// Catalog
	Catalog(ctx context.Context) ([]*model.NodeSpec, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// CreatePipelineRequest holds parameters for creating a pipeline. Nodes and
// edges are optional; when present they are replayed into the new session.
type CreatePipelineRequest struct {
	ID        string       `json:"id,omitempty"`
	Name      string       `json:"name"`
	CreatedBy string       `json:"created_by,omitempty"`
	Nodes     []model.Node `json:"nodes,omitempty"`
	Edges     []model.Edge `json:"edges,omitempty"`
}

// ListPipelinesRequest holds parameters for listing pipelines.
type ListPipelinesRequest struct {
	Search    string `json:"search,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
	NodeType  string `json:"node_type,omitempty"`
	Sort      string `json:"sort,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// ListPipelinesResponse is the response from ListPipelines.
type ListPipelinesResponse struct {
	Pipelines []*model.Pipeline `json:"pipelines"`
	Total     int               `json:"total"`
}

// AddNodeRequest holds parameters for adding a node. An empty ID lets the
// server pick the next "<type>-<n>" id.
type AddNodeRequest struct {
	ID       string         `json:"id,omitempty"`
	Type     model.NodeType `json:"type"`
	Position model.Position `json:"position"`
	Data     map[string]any `json:"data,omitempty"`
}

// AddEdgeRequest holds parameters for connecting two handles.
type AddEdgeRequest struct {
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
}

// UpdateNodeFieldResponse is the node after the update plus any edges that
// were dropped because their handle disappeared.
type UpdateNodeFieldResponse struct {
	Node         *model.Node  `json:"node"`
	RemovedEdges []model.Edge `json:"removed_edges"`
}

// ValidationResult is the report of a validation and the run it recorded.
type ValidationResult struct {
	Report *gateway.Report      `json:"report"`
	Run    *model.ValidationRun `json:"run"`
}
