package events

import (
	"encoding/json"
	"strings"
)

// Message is one event received from the bus.
type Message struct {
	Topic string
	Data  []byte
}

// PipelineID returns the pipeline the event belongs to, or "" when the
// payload does not name one. pipeline.created carries it inside the record.
func (m Message) PipelineID() string {
	var body struct {
		PipelineID string `json:"pipeline_id"`
		Pipeline   *struct {
			ID string `json:"id"`
		} `json:"pipeline"`
	}
	if err := json.Unmarshal(m.Data, &body); err != nil {
		return ""
	}
	if body.PipelineID == "" && body.Pipeline != nil {
		return body.Pipeline.ID
	}
	return body.PipelineID
}

// IsGraphChange reports whether topic is a node or edge edit.
func IsGraphChange(topic string) bool {
	return strings.HasPrefix(topic, TopicPrefix+"node.") || strings.HasPrefix(topic, TopicPrefix+"edge.")
}

// MatchTopic reports whether a dot-separated topic matches pattern. "*"
// matches one segment and a trailing ">" matches one or more, as in NATS.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pat := strings.Split(pattern, ".")
	tok := strings.Split(topic, ".")
	for i, p := range pat {
		if p == ">" {
			return i == len(pat)-1 && i < len(tok)
		}
		if i >= len(tok) || (p != "*" && p != tok[i]) {
			return false
		}
	}
	return len(pat) == len(tok)
}

// MatchAny reports whether topic matches any of patterns. No patterns
// matches everything.
func MatchAny(patterns []string, topic string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if MatchTopic(p, topic) {
			return true
		}
	}
	return false
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers events matching pattern (NATS wildcards allowed)
	// on the returned channel. Call the returned cancel function to
	// unsubscribe; the channel is closed shortly after.
	Subscribe(pattern string) (<-chan Message, func(), error)
	Close() error
}
