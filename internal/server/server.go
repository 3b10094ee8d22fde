package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/events"
	"github.com/alfredjeanlab/pipeflow/internal/gateway"
	"github.com/alfredjeanlab/pipeflow/internal/graph"
	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/presence"
	"github.com/alfredjeanlab/pipeflow/internal/store"
)

// PipelineServer hosts pipeline sessions and the validator endpoints. Each
// session is a graph.Store loaded from the persistence store on first use
// and saved back after every mutation.
type PipelineServer struct {
	store     store.Store
	publisher events.Publisher
	stream    *streamHub
	replay    int
	gateway   *gateway.Gateway
	source    model.ValidationSource
	logger    *slog.Logger
	presence  *presence.Tracker

	sessMu   sync.Mutex
	sessions map[string]*session
}

// session is a live pipeline. mu serializes mutate-then-save so saves land
// in mutation order. A closed session has been deleted or evicted and must
// not be saved again.
type session struct {
	mu        sync.Mutex
	graph     *graph.Store
	name      string
	createdBy string
	closed    bool
}

// Option configures a PipelineServer.
type Option func(*PipelineServer)

// WithGateway routes pipeline validation through g. source is recorded on
// every validation run.
func WithGateway(g *gateway.Gateway, source model.ValidationSource) Option {
	return func(s *PipelineServer) {
		s.gateway = g
		s.source = source
	}
}

// WithReplaySize sets how many recent events the event stream keeps for
// reconnecting clients.
func WithReplaySize(n int) Option {
	return func(s *PipelineServer) { s.replay = n }
}

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *PipelineServer) { s.logger = l }
}

// NewPipelineServer returns a PipelineServer backed by the given store and
// publisher. Validation defaults to the in-process validator.
func NewPipelineServer(s store.Store, p events.Publisher, opts ...Option) *PipelineServer {
	srv := &PipelineServer{
		store:     s,
		publisher: p,
		logger:    slog.Default(),
		sessions:  make(map[string]*session),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.stream = newStreamHub(srv.replay)
	srv.presence = presence.New(srv.logger)
	if srv.gateway == nil {
		srv.gateway = gateway.New(gateway.Local{}, gateway.WithLogger(srv.logger))
		srv.source = model.SourceLocal
	}
	return srv
}

// recordAndPublish persists an event to the store and publishes it to NATS.
// Both operations are best-effort; failures are logged but do not block the caller.
func (s *PipelineServer) recordAndPublish(ctx context.Context, topic, pipelineID, actor string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event", "topic", topic, "pipeline_id", pipelineID, "error", err)
		return
	}
	if err := s.store.RecordEvent(ctx, &model.Event{
		Topic:      topic,
		PipelineID: pipelineID,
		Actor:      actor,
		Payload:    payload,
	}); err != nil {
		s.logger.Warn("failed to record event", "topic", topic, "pipeline_id", pipelineID, "error", err)
	}
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "pipeline_id", pipelineID, "error", err)
	}
	s.stream.broadcast(topic, pipelineID, payload)

	if topic == events.TopicPipelineDeleted {
		s.presence.Forget(pipelineID)
	} else {
		s.presence.Record(presence.Activity{PipelineID: pipelineID, Actor: actor, Topic: topic})
	}
}

// StartSessionReaper evicts sessions that have seen no events for idleAfter.
// Evicted sessions are reloaded from the store on next use.
func (s *PipelineServer) StartSessionReaper(idleAfter, sweepInterval time.Duration) {
	s.presence.StartReaper(&presence.ReaperConfig{
		IdleAfter:     idleAfter,
		SweepInterval: sweepInterval,
		OnIdle:        s.evictSession,
	})
}

// ValidatePipeline submits a live pipeline through the server's gateway and
// records the run, exactly as POST /v1/pipelines/{id}/validate does.
func (s *PipelineServer) ValidatePipeline(ctx context.Context, id, actor string) (*gateway.Report, error) {
	res, err := s.validatePipeline(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return res.Report, nil
}

// Close stops background work started by the server.
func (s *PipelineServer) Close() {
	s.presence.Stop()
}

// evictSession drops an idle session from memory. A session that is in the
// middle of a mutation is left alone and reported as busy.
func (s *PipelineServer) evictSession(id string) bool {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return true
	}
	if !sess.mu.TryLock() {
		return false
	}
	sess.closed = true
	sess.mu.Unlock()
	delete(s.sessions, id)
	s.logger.Debug("evicted idle session", "pipeline_id", id)
	return true
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }
