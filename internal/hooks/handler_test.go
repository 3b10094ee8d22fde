package hooks

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/events"
	"github.com/alfredjeanlab/pipeflow/internal/gateway"
	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// mockValidator returns canned verdicts per pipeline.
type mockValidator struct {
	mu      sync.Mutex
	isDAG   map[string]bool
	missing map[string]bool
	calls   []string
	actors  []string
}

func (m *mockValidator) ValidatePipeline(_ context.Context, id, actor string) (*gateway.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	m.actors = append(m.actors, actor)
	if m.missing[id] {
		return nil, sql.ErrNoRows
	}
	dag, ok := m.isDAG[id]
	if !ok {
		dag = true
	}
	return gateway.NewReport(model.Verdict{NumNodes: 2, NumEdges: 2, IsDAG: dag}), nil
}

func (m *mockValidator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockSubscriber hands out one channel per pattern.
type mockSubscriber struct {
	mu    sync.Mutex
	chans map[string]chan events.Message
}

func (m *mockSubscriber) Subscribe(pattern string) (<-chan events.Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan events.Message, 8)
	m.chans[pattern] = ch
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }, nil
}

func (m *mockSubscriber) channel(pattern string) chan events.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chans[pattern]
}

func (m *mockSubscriber) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(v Validator, cfg Config) (*Handler, *time.Time) {
	h := NewHandler(v, cfg, discardLogger())
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return clock }
	return h, &clock
}

func TestDueWaitsForQuietPeriod(t *testing.T) {
	h, clock := newTestHandler(&mockValidator{}, Config{Delay: time.Second})

	h.HandleChange("pl-b")
	h.HandleChange("pl-a")
	h.HandleChange("")
	if due := h.Due(); len(due) != 0 {
		t.Fatalf("due immediately = %v, want none", due)
	}

	*clock = clock.Add(500 * time.Millisecond)
	h.HandleChange("pl-b") // edit again, restarting its quiet period
	*clock = clock.Add(500 * time.Millisecond)

	due := h.Due()
	if len(due) != 1 || due[0] != "pl-a" {
		t.Fatalf("due = %v, want [pl-a]", due)
	}
	if again := h.Due(); len(again) != 0 {
		t.Fatalf("due twice = %v", again)
	}

	*clock = clock.Add(time.Second)
	if due := h.Due(); len(due) != 1 || due[0] != "pl-b" {
		t.Fatalf("due = %v, want [pl-b]", due)
	}
}

func TestFlushValidatesDuePipelines(t *testing.T) {
	v := &mockValidator{missing: map[string]bool{"pl-gone": true}}
	h, clock := newTestHandler(v, Config{Delay: time.Second})

	h.HandleChange("pl-1")
	h.HandleChange("pl-gone")
	*clock = clock.Add(2 * time.Second)

	if n := h.Flush(context.Background()); n != 1 {
		t.Fatalf("Flush = %d, want 1", n)
	}
	if len(v.calls) != 2 {
		t.Fatalf("validator calls = %v", v.calls)
	}
	for _, a := range v.actors {
		if a != Actor {
			t.Errorf("actor = %q, want %q", a, Actor)
		}
	}
	if n := h.Flush(context.Background()); n != 0 {
		t.Fatalf("second Flush = %d, want 0", n)
	}
}

func TestCycleCommandRunsOnTransition(t *testing.T) {
	out := filepath.Join(t.TempDir(), "cycles.log")
	v := &mockValidator{isDAG: map[string]bool{"pl-1": false}}
	h, clock := newTestHandler(v, Config{
		Delay:        time.Second,
		CycleCommand: `echo "$PIPEFLOW_PIPELINE_ID $PIPEFLOW_NUM_EDGES" >> ` + out,
	})

	step := func() {
		h.HandleChange("pl-1")
		*clock = clock.Add(2 * time.Second)
		h.Flush(context.Background())
	}

	step() // first verdict is cyclic: runs
	step() // still cyclic: no rerun
	v.mu.Lock()
	v.isDAG["pl-1"] = true
	v.mu.Unlock()
	step() // fixed
	v.mu.Lock()
	v.isDAG["pl-1"] = false
	v.mu.Unlock()
	step() // cyclic again: runs

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading hook output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("hook ran %d times, want 2: %q", len(lines), data)
	}
	if lines[0] != "pl-1 2" {
		t.Errorf("hook env = %q, want %q", lines[0], "pl-1 2")
	}
}

func TestStartSubscriberRevalidatesAfterEdits(t *testing.T) {
	v := &mockValidator{}
	sub := &mockSubscriber{chans: make(map[string]chan events.Message)}
	h := NewHandler(v, Config{Delay: 20 * time.Millisecond}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.StartSubscriber(ctx, sub) }()

	var bus chan events.Message
	deadline := time.Now().Add(2 * time.Second)
	for bus == nil && time.Now().Before(deadline) {
		bus = sub.channel(events.TopicAll)
		time.Sleep(5 * time.Millisecond)
	}
	if bus == nil {
		t.Fatal("handler never subscribed")
	}
	bus <- events.Message{Topic: events.TopicPipelineValidated, Data: []byte(`{"pipeline_id":"pl-2"}`)}
	bus <- events.Message{Topic: events.TopicNodeAdded, Data: []byte(`not json`)}
	bus <- events.Message{Topic: events.TopicNodeAdded, Data: []byte(`{"pipeline_id":"pl-1","node_id":"text-1"}`)}

	for v.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("StartSubscriber: %v", err)
	}
	if v.callCount() != 1 || v.calls[0] != "pl-1" {
		t.Fatalf("validator calls = %v, want [pl-1]", v.calls)
	}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		env      map[string]string
		timeout  time.Duration
		want     string
		wantCode int
		wantErr  string
	}{
		{name: "stdout", command: "echo hello", want: "hello"},
		{name: "env", command: `echo "$PIPEFLOW_PIPELINE_ID"`, env: map[string]string{"PIPEFLOW_PIPELINE_ID": "pl-9"}, want: "pl-9"},
		{name: "env overrides inherited", command: `echo "$HOME"`, env: map[string]string{"HOME": "/nowhere"}, want: "/nowhere"},
		{name: "exit status", command: "echo oops >&2; exit 3", want: "oops", wantCode: 3, wantErr: "status 3"},
		{name: "timeout", command: "sleep 5", timeout: 50 * time.Millisecond, wantCode: -1, wantErr: "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Execute(context.Background(), tt.command, tt.timeout, tt.env)
			if tt.wantErr == "" && res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}
			if tt.wantErr != "" && (res.Err == nil || !strings.Contains(res.Err.Error(), tt.wantErr)) {
				t.Fatalf("err = %v, want %q", res.Err, tt.wantErr)
			}
			if tt.want != "" && res.Output != tt.want {
				t.Errorf("output = %q, want %q", res.Output, tt.want)
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("exit code = %d, want %d", res.ExitCode, tt.wantCode)
			}
		})
	}
}

func TestExecute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Execute(ctx, "echo never", time.Second, nil)
	if res.Err == nil || !strings.Contains(res.Err.Error(), "cancelled") {
		t.Fatalf("err = %v, want cancellation", res.Err)
	}
}

func TestExecute_TruncatesOutput(t *testing.T) {
	res := Execute(context.Background(), "head -c 10000 /dev/zero | tr '\\0' x", 0, nil)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !strings.HasSuffix(res.Output, " [truncated]") {
		t.Fatalf("output not marked truncated: ...%q", res.Output[len(res.Output)-20:])
	}
	if n := strings.Count(res.Output, "x"); n != maxOutput {
		t.Errorf("kept %d bytes, want %d", n, maxOutput)
	}
}

func TestClampTimeout(t *testing.T) {
	for _, tc := range []struct{ in, want time.Duration }{
		{0, DefaultTimeout},
		{-time.Second, DefaultTimeout},
		{time.Second, time.Second},
		{time.Hour, MaxTimeout},
	} {
		if got := clampTimeout(tc.in); got != tc.want {
			t.Errorf("clampTimeout(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewHandlerDefaults(t *testing.T) {
	h := NewHandler(&mockValidator{}, Config{}, nil)
	if h.cfg.Delay != time.Second {
		t.Errorf("Delay = %v, want 1s", h.cfg.Delay)
	}
	if h.logger == nil {
		t.Error("logger not defaulted")
	}
}
