// Package gateway submits pipeline snapshots for validation and turns the
// outcome into a report. A Gateway performs exactly one exchange per
// submission, bounded by a timeout, and never retries on its own.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// DefaultTimeout bounds a single submission.
const DefaultTimeout = 10 * time.Second

var (
	// ErrTimeout is returned when the exchange exceeds its deadline.
	ErrTimeout = errors.New("validation timed out")
	// ErrServerError is matched by every *ServerError.
	ErrServerError = errors.New("server error")
	// ErrMalformedResponse is returned when the response is not a verdict.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrUnavailable is returned when the validator cannot be reached.
	ErrUnavailable = errors.New("validator unavailable")
)

// ServerError is a non-success response from a remote validator.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server error %d", e.StatusCode)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrServerError) true for any *ServerError.
func (e *ServerError) Is(target error) bool { return target == ErrServerError }

// Validator computes a verdict for a pipeline request.
type Validator interface {
	Validate(ctx context.Context, req *model.PipelineRequest) (model.Verdict, error)
}

// Gateway serializes snapshots and runs them through a Validator.
type Gateway struct {
	validator Validator
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout sets the per-submission deadline. Non-positive values keep
// the default.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the gateway's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New returns a Gateway that submits to v.
func New(v Validator, opts ...Option) *Gateway {
	g := &Gateway{
		validator: v,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Timeout returns the per-submission deadline.
func (g *Gateway) Timeout() time.Duration { return g.timeout }

// Submit validates a snapshot and returns the report.
func (g *Gateway) Submit(ctx context.Context, snap *model.Snapshot) (*Report, error) {
	return g.SubmitRequest(ctx, snap.Request())
}

// SubmitRequest validates an already-serialized pipeline.
func (g *Gateway) SubmitRequest(ctx context.Context, req *model.PipelineRequest) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	verdict, err := g.validator.Validate(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		g.logger.Warn("pipeline submission failed",
			"nodes", len(req.Nodes),
			"edges", len(req.Edges),
			"duration", time.Since(start),
			"error", err,
		)
		return nil, err
	}

	g.logger.Debug("pipeline submitted",
		"num_nodes", verdict.NumNodes,
		"num_edges", verdict.NumEdges,
		"is_dag", verdict.IsDAG,
		"duration", time.Since(start),
	)
	return NewReport(verdict), nil
}
