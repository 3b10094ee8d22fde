package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/events"
	"github.com/alfredjeanlab/pipeflow/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

// watchEvent is one event as shown by pf watch.
type watchEvent struct {
	Topic      string          `json:"topic"`
	PipelineID string          `json:"pipeline_id"`
	Payload    json.RawMessage `json:"payload"`
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream pipeline events as they happen",
	Long: `Stream pipeline events as they happen.

Events are read from NATS when PIPEFLOW_NATS_URL or the active remote's
nats_url is set, and from the server's event stream otherwise.`,
	GroupID: "pipelines",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, _ := cmd.Flags().GetString("pipeline")
		topics, _ := cmd.Flags().GetStringSlice("topic")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		emit := func(ev watchEvent) {
			if ev.Topic == events.TopicStreamReset {
				printWatchEvent(out, ev)
				return
			}
			if pipeline != "" && ev.PipelineID != pipeline {
				return
			}
			if !events.MatchAny(topics, ev.Topic) {
				return
			}
			printWatchEvent(out, ev)
		}

		natsURL := os.Getenv("PIPEFLOW_NATS_URL")
		if natsURL == "" {
			natsURL = activeRemote().NATSURL
		}
		if natsURL != "" {
			return watchNATS(ctx, natsURL, emit)
		}
		return watchSSE(ctx, serverURL, authToken, pipeline, emit)
	},
}

// watchNATS subscribes to every event subject until ctx is done.
func watchNATS(ctx context.Context, natsURL string, emit func(watchEvent)) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(events.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			emit(decodeWatchEvent(msg.Topic, msg.Data))
		}
	}
}

// watchSSE reads the server's event stream until ctx is done.
func watchSSE(ctx context.Context, baseURL, token, pipeline string, emit func(watchEvent)) error {
	u := strings.TrimRight(baseURL, "/") + "/v1/events/stream"
	if pipeline != "" {
		u += "?pipeline=" + url.QueryEscape(pipeline)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream: HTTP %d", resp.StatusCode)
	}
	err = readSSE(resp.Body, func(topic string, data []byte) {
		emit(decodeWatchEvent(topic, data))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readSSE parses a text/event-stream body, calling fn for each event with
// an event name. Comment lines are keepalives and are ignored.
func readSSE(r io.Reader, fn func(topic string, data []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var topic string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if topic != "" {
				fn(topic, []byte(strings.Join(data, "\n")))
			}
			topic, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			topic = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}

// decodeWatchEvent wraps a raw event payload for display.
func decodeWatchEvent(topic string, raw []byte) watchEvent {
	msg := events.Message{Topic: topic, Data: raw}
	return watchEvent{Topic: topic, PipelineID: msg.PipelineID(), Payload: json.RawMessage(raw)}
}

func printWatchEvent(w io.Writer, ev watchEvent) {
	if jsonOutput {
		data, _ := json.Marshal(ev)
		fmt.Fprintln(w, string(data))
		return
	}
	topic := strings.TrimPrefix(ev.Topic, events.TopicPrefix)
	switch ev.Topic {
	case events.TopicStreamReset:
		topic = ui.RenderError(topic + " (events missed)")
	case events.TopicPipelineDeleted, events.TopicNodeRemoved, events.TopicEdgeRemoved:
		topic = ui.RenderWarning(topic)
	case events.TopicPipelineValidated:
		topic = ui.RenderSuccess(topic)
	default:
		topic = ui.RenderAccent(topic)
	}
	fmt.Fprintf(w, "%s  %-20s %s\n", time.Now().Format("15:04:05"), topic, ev.PipelineID)
}

func init() {
	watchCmd.Flags().String("pipeline", "", "only show events for this pipeline")
	watchCmd.Flags().StringSlice("topic", nil, "only show events matching these topic patterns (e.g. pipeflow.edge.*)")
}
