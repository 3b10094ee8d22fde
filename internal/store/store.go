// Package store defines persistence for saved pipelines, their validation
// history and the event log. Missing records are reported as sql.ErrNoRows
// by every implementation.
package store

import (
	"context"

	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// Store defines the persistence interface for pipelines.
type Store interface {
	// Pipelines
	SavePipeline(ctx context.Context, p *model.Pipeline) error // insert or replace; sets timestamps
	GetPipeline(ctx context.Context, id string) (*model.Pipeline, error)
	ListPipelines(ctx context.Context, filter model.PipelineFilter) ([]*model.Pipeline, int, error) // returns pipelines, total count, error
	DeletePipeline(ctx context.Context, id string) error

	// Validation runs
	RecordRun(ctx context.Context, run *model.ValidationRun) error
	ListRuns(ctx context.Context, pipelineID string, limit int) ([]*model.ValidationRun, error) // newest first

	// Events
	RecordEvent(ctx context.Context, event *model.Event) error
	GetEvents(ctx context.Context, pipelineID string) ([]*model.Event, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
