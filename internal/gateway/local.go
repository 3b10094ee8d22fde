package gateway

import (
	"context"

	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/validate"
)

// Local validates in-process.
type Local struct{}

// Validate runs the structural check on req.
func (Local) Validate(ctx context.Context, req *model.PipelineRequest) (model.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return model.Verdict{}, err
	}
	return validate.Check(req.Snapshot()), nil
}
