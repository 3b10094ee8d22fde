// Package presence tracks activity on live pipeline sessions.
//
// The server records every session event it emits. A background reaper
// reports sessions that have been idle past a threshold so the server can
// drop them from memory; they are reloaded from the store on next use.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry is the activity summary of one live session.
type Entry struct {
	PipelineID string    `json:"pipeline_id"`
	Actors     []string  `json:"actors"`               // everyone who touched the session, sorted
	LastActor  string    `json:"last_actor,omitempty"` // actor of the most recent event
	LastEvent  string    `json:"last_event"`           // topic of the most recent event
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	IdleSecs   float64   `json:"idle_secs"`
	EventCount int64     `json:"event_count"`
}

// Activity is a single session event as seen by the tracker.
type Activity struct {
	PipelineID string
	Actor      string
	Topic      string
}

// ReaperConfig configures the background idle-session reaper.
type ReaperConfig struct {
	// IdleAfter is how long a session must be quiet before it is reaped.
	// Default: 30 minutes.
	IdleAfter time.Duration

	// SweepInterval is how often the reaper scans for idle sessions.
	// Default: 60 seconds.
	SweepInterval time.Duration

	// OnIdle is called for each reaped session, outside the lock.
	// Returning false keeps the session tracked (it was busy).
	OnIdle func(pipelineID string) bool
}

// Tracker maintains an in-memory roster of active sessions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	now      func() time.Time
	logger   *slog.Logger

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type sessionState struct {
	firstSeen  time.Time
	lastSeen   time.Time
	lastEvent  string
	lastActor  string
	actors     map[string]bool
	eventCount int64
}

// New creates a new presence tracker.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		sessions: make(map[string]*sessionState),
		now:      time.Now,
		logger:   logger,
	}
}

// Record updates the activity of a session.
func (t *Tracker) Record(a Activity) {
	if a.PipelineID == "" {
		return
	}

	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sessions[a.PipelineID]
	if !ok {
		state = &sessionState{firstSeen: now, actors: make(map[string]bool)}
		t.sessions[a.PipelineID] = state
	}

	state.lastSeen = now
	state.lastEvent = a.Topic
	state.eventCount++
	if a.Actor != "" {
		state.lastActor = a.Actor
		state.actors[a.Actor] = true
	}
}

// Forget drops a session from the roster.
func (t *Tracker) Forget(pipelineID string) {
	t.mu.Lock()
	delete(t.sessions, pipelineID)
	t.mu.Unlock()
}

// Roster returns all tracked sessions, most recently active first.
// Sessions idle longer than staleThreshold are excluded; pass 0 to include all.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.sessions))

	for id, state := range t.sessions {
		idle := now.Sub(state.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		actors := make([]string, 0, len(state.actors))
		for a := range state.actors {
			actors = append(actors, a)
		}
		sort.Strings(actors)

		entries = append(entries, Entry{
			PipelineID: id,
			Actors:     actors,
			LastActor:  state.lastActor,
			LastEvent:  state.lastEvent,
			FirstSeen:  state.firstSeen,
			LastSeen:   state.lastSeen,
			IdleSecs:   idle.Seconds(),
			EventCount: state.eventCount,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].PipelineID < entries[j].PipelineID
		}
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})

	return entries
}

// StartReaper launches a background goroutine that periodically reaps idle
// sessions. Call Stop() to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.IdleAfter == 0 {
		cfg.IdleAfter = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	t.logger.Info("presence: reaper started",
		"idle_after", cfg.IdleAfter,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

// sweep reaps sessions idle past cfg.IdleAfter and returns their ids.
func (t *Tracker) sweep(cfg *ReaperConfig) []string {
	now := t.now()

	var idle []string
	t.mu.RLock()
	for id, state := range t.sessions {
		if now.Sub(state.lastSeen) > cfg.IdleAfter {
			idle = append(idle, id)
		}
	}
	t.mu.RUnlock()
	sort.Strings(idle)

	var reaped []string
	for _, id := range idle {
		if cfg.OnIdle != nil && !cfg.OnIdle(id) {
			continue
		}
		t.mu.Lock()
		// Activity may have arrived since the scan.
		if state, ok := t.sessions[id]; ok && now.Sub(state.lastSeen) > cfg.IdleAfter {
			delete(t.sessions, id)
			reaped = append(reaped, id)
		}
		t.mu.Unlock()
	}

	for _, id := range reaped {
		t.logger.Info("presence: reaped idle session",
			"pipeline_id", id,
			"threshold", cfg.IdleAfter)
	}
	return reaped
}
