package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/store"
)

// Destination is somewhere an export is written: an S3 object or a file
// in a git repository.
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	// Write replaces the destination's content with data.
	Write(ctx context.Context, data []byte) error
}

// Report describes one sync pass.
type Report struct {
	Pipelines int
	Runs      int
	Bytes     int
	Written   []string
	Unchanged []string
	Failed    map[string]error
}

// OK reports whether every destination is up to date.
func (r Report) OK() bool { return len(r.Failed) == 0 }

// Scheduler exports the store on an interval and pushes the export to
// each destination whose copy is out of date.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu serializes passes; sums holds the digest last written per destination.
	mu   sync.Mutex
	sums map[string][sha256.Size]byte
}

func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		kick:         make(chan struct{}, 1),
		sums:         make(map[string][sha256.Size]byte),
	}
}

// Start syncs once right away and then on every interval until ctx is
// done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Trigger requests a pass without waiting for the next tick. Requests made
// while one is already queued are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	s.SyncOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
			ticker.Reset(s.interval)
		}
		s.SyncOnce(ctx)
	}
}

// SyncOnce exports the store and writes it to every destination that has
// not yet received identical content. Failed destinations are retried on
// the next pass.
func (s *Scheduler) SyncOnce(ctx context.Context) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep := Report{Failed: map[string]error{}}
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, &buf); err != nil {
		s.logger.Error("sync export failed", "err", err)
		for _, d := range s.destinations {
			rep.Failed[d.Name()] = err
		}
		return rep
	}
	data := buf.Bytes()
	sum := bodySum(data)
	rep.Bytes = len(data)
	rep.Pipelines, rep.Runs, _ = Summary(data)

	for _, d := range s.destinations {
		name := d.Name()
		if s.sums[name] == sum {
			rep.Unchanged = append(rep.Unchanged, name)
			continue
		}
		if err := d.Write(ctx, data); err != nil {
			rep.Failed[name] = err
			s.logger.Error("sync write failed", "destination", name, "err", err)
			continue
		}
		s.sums[name] = sum
		rep.Written = append(rep.Written, name)
	}

	s.logger.Info("sync pass done",
		"written", len(rep.Written),
		"unchanged", len(rep.Unchanged),
		"failed", len(rep.Failed),
		"pipelines", rep.Pipelines,
		"runs", rep.Runs,
		"bytes", rep.Bytes)
	return rep
}
