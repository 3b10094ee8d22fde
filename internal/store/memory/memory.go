// Package memory implements store.Store in process memory. It backs the
// server when no database is configured and is used by tests.
package memory

import (
	"context"
	"database/sql"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), now: func() time.Time { return time.Now().UTC() }}
}

type state struct {
	pipelines map[string]*model.Pipeline
	runs      []*model.ValidationRun
	events    []*model.Event
	nextRun   int64
	nextEvent int64
}

func newState() *state {
	return &state{pipelines: make(map[string]*model.Pipeline)}
}

func (st *state) clone() *state {
	c := &state{
		pipelines: make(map[string]*model.Pipeline, len(st.pipelines)),
		runs:      slices.Clone(st.runs),
		events:    slices.Clone(st.events),
		nextRun:   st.nextRun,
		nextEvent: st.nextEvent,
	}
	for id, p := range st.pipelines {
		c.pipelines[id] = p
	}
	return c
}

func (s *Store) SavePipeline(ctx context.Context, p *model.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.state, now: s.now}).SavePipeline(ctx, p)
}

func (s *Store) GetPipeline(ctx context.Context, id string) (*model.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.state, now: s.now}).GetPipeline(ctx, id)
}

func (s *Store) ListPipelines(ctx context.Context, filter model.PipelineFilter) ([]*model.Pipeline, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.state, now: s.now}).ListPipelines(ctx, filter)
}

func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.state, now: s.now}).DeletePipeline(ctx, id)
}

func (s *Store) RecordRun(ctx context.Context, run *model.ValidationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.state, now: s.now}).RecordRun(ctx, run)
}

func (s *Store) ListRuns(ctx context.Context, pipelineID string, limit int) ([]*model.ValidationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.state, now: s.now}).ListRuns(ctx, pipelineID, limit)
}

func (s *Store) RecordEvent(ctx context.Context, event *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.state, now: s.now}).RecordEvent(ctx, event)
}

func (s *Store) GetEvents(ctx context.Context, pipelineID string) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.state, now: s.now}).GetEvents(ctx, pipelineID)
}

// RunInTransaction runs fn against a private copy of the state and installs
// the copy only when fn succeeds. Other callers wait until it finishes.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &tx{st: s.state.clone(), now: s.now}
	if err := fn(t); err != nil {
		return err
	}
	s.state = t.st
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// tx operates on a state without locking; the owning Store holds the lock.
type tx struct {
	st  *state
	now func() time.Time
}

var _ store.Store = (*tx)(nil)

func (t *tx) SavePipeline(_ context.Context, p *model.Pipeline) error {
	now := t.now()
	if prev, ok := t.st.pipelines[p.ID]; ok {
		p.CreatedAt = prev.CreatedAt
		p.CreatedBy = prev.CreatedBy
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	t.st.pipelines[p.ID] = clonePipeline(p)
	return nil
}

func (t *tx) GetPipeline(_ context.Context, id string) (*model.Pipeline, error) {
	p, ok := t.st.pipelines[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return clonePipeline(p), nil
}

func (t *tx) ListPipelines(_ context.Context, filter model.PipelineFilter) ([]*model.Pipeline, int, error) {
	var matched []*model.Pipeline
	for _, p := range t.st.pipelines {
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.CreatedBy != "" && p.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.NodeType != "" && !hasNodeType(p, model.NodeType(filter.NodeType)) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	sortPipelines(matched, filter.Sort)

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*model.Pipeline, len(matched))
	for i, p := range matched {
		out[i] = clonePipeline(p)
	}
	return out, total, nil
}

func (t *tx) DeletePipeline(_ context.Context, id string) error {
	if _, ok := t.st.pipelines[id]; !ok {
		return sql.ErrNoRows
	}
	delete(t.st.pipelines, id)
	t.st.runs = slices.DeleteFunc(t.st.runs, func(r *model.ValidationRun) bool { return r.PipelineID == id })
	return nil
}

func (t *tx) RecordRun(_ context.Context, run *model.ValidationRun) error {
	t.st.nextRun++
	run.ID = t.st.nextRun
	run.CreatedAt = t.now()
	c := *run
	t.st.runs = append(t.st.runs, &c)
	return nil
}

func (t *tx) ListRuns(_ context.Context, pipelineID string, limit int) ([]*model.ValidationRun, error) {
	var runs []*model.ValidationRun
	for i := len(t.st.runs) - 1; i >= 0; i-- {
		r := t.st.runs[i]
		if r.PipelineID != pipelineID {
			continue
		}
		c := *r
		runs = append(runs, &c)
		if limit > 0 && len(runs) == limit {
			break
		}
	}
	return runs, nil
}

func (t *tx) RecordEvent(_ context.Context, e *model.Event) error {
	t.st.nextEvent++
	e.ID = t.st.nextEvent
	e.CreatedAt = t.now()
	c := *e
	c.Payload = slices.Clone(e.Payload)
	t.st.events = append(t.st.events, &c)
	return nil
}

func (t *tx) GetEvents(_ context.Context, pipelineID string) ([]*model.Event, error) {
	var events []*model.Event
	for _, e := range t.st.events {
		if e.PipelineID == pipelineID {
			c := *e
			events = append(events, &c)
		}
	}
	return events, nil
}

func (t *tx) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *tx) Close() error { return nil }

func clonePipeline(p *model.Pipeline) *model.Pipeline {
	c := *p
	snap := p.Snapshot()
	c.Nodes = snap.Nodes
	c.Edges = snap.Edges
	return &c
}

func hasNodeType(p *model.Pipeline, t model.NodeType) bool {
	for i := range p.Nodes {
		if p.Nodes[i].Type == t {
			return true
		}
	}
	return false
}

func sortPipelines(ps []*model.Pipeline, order string) {
	desc := strings.HasPrefix(order, "-")
	col := strings.TrimPrefix(order, "-")
	switch col {
	case "name", "created_at", "updated_at", "id":
	default:
		col, desc = "updated_at", true
	}
	less := func(a, b *model.Pipeline) bool {
		switch col {
		case "name":
			return a.Name < b.Name
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "id":
			return a.ID < b.ID
		default:
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
	}
	sort.SliceStable(ps, func(i, j int) bool {
		if desc {
			return less(ps[j], ps[i])
		}
		return less(ps[i], ps[j])
	})
}
