package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// ClientName prefixes the connection names pipeflow shows in NATS
// monitoring, e.g. "pipeflow-publisher".
const ClientName = "pipeflow"

const (
	// subscriberBuffer is the per-subscription queue depth.
	subscriberBuffer = 64
	// closeFlushTimeout bounds how long Close waits for buffered publishes.
	closeFlushTimeout = 2 * time.Second
	// defaultFlushTimeout bounds Flush when the caller's ctx has no deadline.
	defaultFlushTimeout = 5 * time.Second
)

// dial connects with pipeflow's reconnect defaults. extra options are
// applied last and may override them.
func dial(url, role string, extra ...nats.Option) (*nats.Conn, error) {
	opts := append([]nats.Option{
		nats.Name(ClientName + "-" + role),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, extra...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes JSON-encoded events, one subject per topic.
// While disconnected, publishes are buffered by the client and sent on
// reconnect.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := dial(url, "publisher", opts...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Flush waits until the server has acknowledged everything published so far.
// A ctx without a deadline is bounded by defaultFlushTimeout.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	return p.conn.FlushWithContext(ctx)
}

// Close flushes pending publishes, giving up after a short timeout, and
// closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn.IsConnected() {
		_ = p.conn.FlushTimeout(closeFlushTimeout)
	}
	p.conn.Close()
	return nil
}

// NATSSubscriber delivers bus events to channels. Each subscription has a
// bounded queue; events arriving while it is full are dropped and counted
// so a slow consumer never stalls the connection.
type NATSSubscriber struct {
	conn    *nats.Conn
	dropped atomic.Int64
}

// NewNATSSubscriber connects with automatic reconnection. Extra options,
// such as disconnect and reconnect handlers, are applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := dial(url, "subscriber", opts...)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// subscription guards its channel so the NATS callback never sends on it
// after cancel has closed it.
type subscription struct {
	mu     sync.Mutex
	out    chan Message
	closed bool
}

func (s *subscription) deliver(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.out <- m:
		return true
	default:
		return false
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

// Subscribe returns a channel of events whose subject matches pattern
// (e.g. "pipeflow.>"). The cancel function unsubscribes and closes the
// channel; it is safe to call more than once.
func (s *NATSSubscriber) Subscribe(pattern string) (<-chan Message, func(), error) {
	sub := &subscription{out: make(chan Message, subscriberBuffer)}
	ns, err := s.conn.Subscribe(pattern, func(msg *nats.Msg) {
		if !sub.deliver(Message{Topic: msg.Subject, Data: msg.Data}) {
			s.dropped.Add(1)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", pattern, err)
	}
	// The interest must reach the server before a publisher on another
	// connection sends.
	if err := s.conn.Flush(); err != nil {
		_ = ns.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = ns.Unsubscribe()
			sub.close()
		})
	}
	return sub.out, cancel, nil
}

// Dropped returns how many events were discarded across all subscriptions.
func (s *NATSSubscriber) Dropped() int64 {
	return s.dropped.Load()
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
