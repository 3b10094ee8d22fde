package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/events"
)

const (
	// defaultReplaySize is how many recent events are kept for clients
	// reconnecting with Last-Event-ID.
	defaultReplaySize = 1000

	sseClientBuffer      = 64
	sseKeepaliveInterval = 15 * time.Second
	sseRetryMillis       = 3000
)

// streamEvent is one event as sent to stream clients.
type streamEvent struct {
	ID         uint64
	Topic      string
	PipelineID string
	Data       []byte
}

// streamHub fans recorded events out to connected stream clients and
// remembers the most recent ones for replay.
type streamHub struct {
	seq atomic.Uint64

	mu      sync.RWMutex
	clients map[*streamClient]struct{}

	histMu sync.RWMutex
	hist   []streamEvent // ring of the last len(hist) events
	head   int           // next write index
	filled bool
}

// streamClient is one connected consumer.
type streamClient struct {
	topics   []string
	pipeline string
	ch       chan *streamEvent
	dropped  atomic.Int64
}

func newStreamHub(replay int) *streamHub {
	if replay <= 0 {
		replay = defaultReplaySize
	}
	return &streamHub{
		clients: make(map[*streamClient]struct{}),
		hist:    make([]streamEvent, replay),
	}
}

// broadcast assigns the next sequence number to the event, records it and
// hands it to every matching client. Slow clients lose the event and are
// told so on their next delivery.
func (h *streamHub) broadcast(topic, pipelineID string, payload []byte) {
	evt := streamEvent{ID: h.seq.Add(1), Topic: topic, PipelineID: pipelineID, Data: payload}

	h.histMu.Lock()
	h.hist[h.head] = evt
	h.head++
	if h.head == len(h.hist) {
		h.head = 0
		h.filled = true
	}
	h.histMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(&evt) {
			continue
		}
		select {
		case c.ch <- &evt:
		default:
			c.dropped.Add(1)
		}
	}
}

func (h *streamHub) subscribe(topics []string, pipeline string) *streamClient {
	c := &streamClient{topics: topics, pipeline: pipeline, ch: make(chan *streamEvent, sseClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *streamHub) unsubscribe(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// since returns the retained events after lastID, oldest first. complete is
// false when events after lastID have already been evicted.
func (h *streamHub) since(lastID uint64) (evts []*streamEvent, complete bool) {
	h.histMu.RLock()
	defer h.histMu.RUnlock()

	n, start := h.head, 0
	if h.filled {
		n, start = len(h.hist), h.head
	}
	if n == 0 {
		return nil, lastID >= h.seq.Load()
	}
	oldest := h.hist[start].ID
	for i := range n {
		e := h.hist[(start+i)%len(h.hist)]
		if e.ID > lastID {
			evts = append(evts, &e)
		}
	}
	return evts, lastID+1 >= oldest
}

func (c *streamClient) wants(evt *streamEvent) bool {
	if c.pipeline != "" && c.pipeline != evt.PipelineID {
		return false
	}
	return events.MatchAny(c.topics, evt.Topic)
}

// handleEventStream serves GET /v1/events/stream as server-sent events.
// Query params: topics (comma-separated patterns) and pipeline (an id).
func (s *PipelineServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	q := r.URL.Query()
	var topics []string
	for _, t := range strings.Split(q.Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	client := s.stream.subscribe(topics, q.Get("pipeline"))
	defer s.stream.unsubscribe(client)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry:%d\n\n", sseRetryMillis)

	if last := r.Header.Get("Last-Event-ID"); last != "" {
		if lastID, err := strconv.ParseUint(last, 10, 64); err == nil {
			evts, complete := s.stream.since(lastID)
			if !complete {
				writeStreamReset(w, "history", 0)
			}
			for _, evt := range evts {
				if client.wants(evt) {
					writeStreamEvent(w, evt)
				}
			}
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			if n := client.dropped.Swap(0); n > 0 {
				writeStreamReset(w, "dropped", n)
			}
			writeStreamEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeStreamEvent writes evt in event-stream framing. Multi-line payloads
// become one data line per line.
func writeStreamEvent(w http.ResponseWriter, evt *streamEvent) {
	var b strings.Builder
	fmt.Fprintf(&b, "id:%d\nevent:%s\n", evt.ID, evt.Topic)
	for _, line := range strings.Split(string(evt.Data), "\n") {
		b.WriteString("data:")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	w.Write([]byte(b.String())) //nolint:errcheck
}

// writeStreamReset tells the client its view is stale. It carries no id so
// the client's Last-Event-ID is unchanged.
func writeStreamReset(w http.ResponseWriter, reason string, dropped int64) {
	fmt.Fprintf(w, "event:%s\ndata:{\"reason\":%q,\"dropped\":%d}\n\n", events.TopicStreamReset, reason, dropped)
}
