package hooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/events"
	"github.com/alfredjeanlab/pipeflow/internal/gateway"
)

// Actor is recorded on validation runs started by the handler.
const Actor = "autovalidate"

// Validator validates a live pipeline and records the run.
type Validator interface {
	ValidatePipeline(ctx context.Context, pipelineID, actor string) (*gateway.Report, error)
}

// Config controls the handler. Zero values get defaults.
type Config struct {
	// Delay is how long a pipeline must be quiet before it is revalidated.
	Delay time.Duration
	// CycleCommand runs when a pipeline that was acyclic (or never seen)
	// validates with a cycle. Empty disables it.
	CycleCommand string
	CycleTimeout time.Duration
}

// Handler batches graph-change events per pipeline and revalidates each
// pipeline once its edits settle.
type Handler struct {
	validator Validator
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time // pipeline id -> last change
	isDAG   map[string]bool      // last verdict per pipeline
}

// NewHandler creates a handler that validates through v.
func NewHandler(v Validator, cfg Config, logger *slog.Logger) *Handler {
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		validator: v,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		pending:   make(map[string]time.Time),
		isDAG:     make(map[string]bool),
	}
}

// HandleChange marks a pipeline as edited.
func (h *Handler) HandleChange(pipelineID string) {
	if pipelineID == "" {
		return
	}
	h.mu.Lock()
	h.pending[pipelineID] = h.now()
	h.mu.Unlock()
}

// Due returns, sorted, the pipelines whose last change is at least Delay old
// and removes them from the pending set.
func (h *Handler) Due() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := h.now().Add(-h.cfg.Delay)
	var due []string
	for id, at := range h.pending {
		if !at.After(cutoff) {
			due = append(due, id)
			delete(h.pending, id)
		}
	}
	sort.Strings(due)
	return due
}

// Flush validates every due pipeline and returns how many were validated.
func (h *Handler) Flush(ctx context.Context) int {
	n := 0
	for _, id := range h.Due() {
		if h.validate(ctx, id) {
			n++
		}
	}
	return n
}

func (h *Handler) validate(ctx context.Context, id string) bool {
	report, err := h.validator.ValidatePipeline(ctx, id, Actor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.logger.Debug("hooks: pipeline gone before validation", "pipeline_id", id)
			h.forget(id)
			return false
		}
		h.logger.Warn("hooks: validation failed", "pipeline_id", id, "err", gateway.ErrorMessage(err))
		return false
	}

	h.mu.Lock()
	wasDAG, seen := h.isDAG[id]
	h.isDAG[id] = report.Verdict.IsDAG
	h.mu.Unlock()

	h.logger.Info("hooks: pipeline revalidated",
		"pipeline_id", id,
		"nodes", report.Verdict.NumNodes,
		"edges", report.Verdict.NumEdges,
		"is_dag", report.Verdict.IsDAG)

	if !report.Verdict.IsDAG && (!seen || wasDAG) {
		h.runCycleCommand(ctx, id, report)
	}
	return true
}

func (h *Handler) forget(id string) {
	h.mu.Lock()
	delete(h.isDAG, id)
	h.mu.Unlock()
}

func (h *Handler) runCycleCommand(ctx context.Context, id string, report *gateway.Report) {
	if h.cfg.CycleCommand == "" {
		return
	}
	env := map[string]string{
		"PIPEFLOW_PIPELINE_ID": id,
		"PIPEFLOW_NUM_NODES":   strconv.Itoa(report.Verdict.NumNodes),
		"PIPEFLOW_NUM_EDGES":   strconv.Itoa(report.Verdict.NumEdges),
		"PIPEFLOW_ADVICE":      report.Advice,
	}
	res := Execute(ctx, h.cfg.CycleCommand, h.cfg.CycleTimeout, env)
	attrs := []any{"pipeline_id", id, "exit_code", res.ExitCode, "duration", res.Duration.Round(time.Millisecond), "output", res.Output}
	if res.Err != nil {
		h.logger.Warn("hooks: cycle command failed", append(attrs, "err", res.Err)...)
		return
	}
	h.logger.Info("hooks: cycle command ran", attrs...)
}

// StartSubscriber listens for graph edits on the event bus and revalidates
// settled pipelines. It blocks until ctx is cancelled. Only node and edge
// events count as edits, so a validation never triggers another one.
func (h *Handler) StartSubscriber(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(events.TopicAll)
	if err != nil {
		return fmt.Errorf("hooks: subscribe: %w", err)
	}
	defer cancel()

	h.logger.Info("hooks: subscriber started", "delay", h.cfg.Delay)

	ticker := time.NewTicker(max(h.cfg.Delay/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hooks: subscriber stopping")
			return nil
		case msg, ok := <-ch:
			if !ok {
				h.logger.Info("hooks: subscription channel closed")
				return nil
			}
			if !events.IsGraphChange(msg.Topic) {
				continue
			}
			id := msg.PipelineID()
			if id == "" {
				h.logger.Warn("hooks: event without pipeline id", "topic", msg.Topic)
				continue
			}
			h.HandleChange(id)
		case <-ticker.C:
			h.Flush(ctx)
		}
	}
}
