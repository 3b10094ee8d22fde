package events

import (
	"context"

	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// TopicPrefix is the NATS subject prefix shared by every pipeflow event.
const TopicPrefix = "pipeflow."

// Event topic constants
const (
	TopicPipelineCreated   = "pipeflow.pipeline.created"
	TopicPipelineUpdated   = "pipeflow.pipeline.updated"
	TopicPipelineDeleted   = "pipeflow.pipeline.deleted"
	TopicPipelineValidated = "pipeflow.pipeline.validated"

	TopicNodeAdded   = "pipeflow.node.added"
	TopicNodeRemoved = "pipeflow.node.removed"
	TopicNodeUpdated = "pipeflow.node.updated"

	TopicEdgeAdded   = "pipeflow.edge.added"
	TopicEdgeRemoved = "pipeflow.edge.removed"

	// TopicStreamReset tells a stream consumer that events were lost and
	// it should refetch state. It is never published to the bus.
	TopicStreamReset = "pipeflow.stream.reset"

	// Wildcard matching every pipeflow subject.
	TopicAll = "pipeflow.>"
)

// Event types

type PipelineCreated struct {
	Pipeline *model.Pipeline `json:"pipeline"`
}

type PipelineUpdated struct {
	PipelineID string `json:"pipeline_id"`
	Name       string `json:"name"`
}

type PipelineDeleted struct {
	PipelineID string `json:"pipeline_id"`
}

type PipelineValidated struct {
	PipelineID string                 `json:"pipeline_id"`
	Verdict    model.Verdict          `json:"verdict"`
	Source     model.ValidationSource `json:"source"`
}

type NodeAdded struct {
	PipelineID string      `json:"pipeline_id"`
	Node       *model.Node `json:"node"`
}

// NodeRemoved carries the edges that were dropped along with the node.
type NodeRemoved struct {
	PipelineID   string       `json:"pipeline_id"`
	NodeID       string       `json:"node_id"`
	RemovedEdges []model.Edge `json:"removed_edges,omitempty"`
}

type NodeUpdated struct {
	PipelineID   string       `json:"pipeline_id"`
	NodeID       string       `json:"node_id"`
	Field        string       `json:"field"`
	Value        any          `json:"value"`
	Ports        []model.Port `json:"ports"`
	RemovedEdges []model.Edge `json:"removed_edges,omitempty"`
}

type EdgeAdded struct {
	PipelineID string      `json:"pipeline_id"`
	Edge       *model.Edge `json:"edge"`
}

type EdgeRemoved struct {
	PipelineID string `json:"pipeline_id"`
	EdgeID     string `json:"edge_id"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// NoopPublisher discards events. The server uses it when no NATS URL is set.
type NoopPublisher struct{}

func (*NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (*NoopPublisher) Close() error { return nil }
