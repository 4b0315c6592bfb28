package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Topic identifies a category of real-time event
type Topic uint8

// The fixed topic enumeration. Configuration decides which are enabled.
const (
	TopicPublisherStatus Topic = iota
	TopicDeviceHealth
	TopicPlaybackEvents
	TopicCampaignMetrics
	TopicSystemAlerts

	topicCount
)

var topicNames = [topicCount]string{
	TopicPublisherStatus: "publisher_status",
	TopicDeviceHealth:    "device_health",
	TopicPlaybackEvents:  "playback_events",
	TopicCampaignMetrics: "campaign_metrics",
	TopicSystemAlerts:    "system_alerts",
}

// NumTopics is the size of the topic enumeration
const NumTopics = int(topicCount)

// AllTopics returns every known topic in enumeration order
func AllTopics() []Topic {
	topics := make([]Topic, 0, NumTopics)
	for t := Topic(0); t < topicCount; t++ {
		topics = append(topics, t)
	}
	return topics
}

// ParseTopic resolves a topic name. Unknown names fail with ErrUnsupportedTopic.
func ParseTopic(name string) (Topic, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for i, n := range topicNames {
		if n == name {
			return Topic(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedTopic, name)
}

// Valid reports whether t is part of the enumeration
func (t Topic) Valid() bool {
	return t < topicCount
}

func (t Topic) String() string {
	if !t.Valid() {
		return fmt.Sprintf("topic(%d)", uint8(t))
	}
	return topicNames[t]
}

// MarshalText encodes the topic by name (JSON, YAML and map keys)
func (t Topic) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedTopic, uint8(t))
	}
	return []byte(topicNames[t]), nil
}

// UnmarshalText decodes a topic name
func (t *Topic) UnmarshalText(text []byte) error {
	parsed, err := ParseTopic(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TopicSet is a bitset over the topic enumeration
type TopicSet uint32

// NewTopicSet builds a set from the given topics
func NewTopicSet(topics ...Topic) TopicSet {
	var s TopicSet
	for _, t := range topics {
		s = s.Add(t)
	}
	return s
}

// Add returns s with t included
func (s TopicSet) Add(t Topic) TopicSet {
	if !t.Valid() {
		return s
	}
	return s | 1<<t
}

// Remove returns s without t
func (s TopicSet) Remove(t Topic) TopicSet {
	if !t.Valid() {
		return s
	}
	return s &^ (1 << t)
}

// Has reports whether t is in s
func (s TopicSet) Has(t Topic) bool {
	return t.Valid() && s&(1<<t) != 0
}

// Len returns the number of topics in s
func (s TopicSet) Len() int {
	n := 0
	for t := Topic(0); t < topicCount; t++ {
		if s.Has(t) {
			n++
		}
	}
	return n
}

// Topics lists the members of s in enumeration order
func (s TopicSet) Topics() []Topic {
	var out []Topic
	for t := Topic(0); t < topicCount; t++ {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Event is a stored domain event. Immutable once ingested.
type Event struct {
	Topic     Topic           `json:"topic"`
	Sequence  uint64          `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
	SourceID  int64           `json:"source_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Action is a client control frame verb
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
	ActionPing        Action = "ping"
)

// ControlFrame is sent by clients over the WebSocket
type ControlFrame struct {
	Action Action `json:"action"`
	Topic  string `json:"topic,omitempty"`
	// Since requests replay of stored events with a higher sequence
	Since *uint64 `json:"since,omitempty"`
}

// FrameType tags frames sent to clients
type FrameType string

const (
	FrameWelcome FrameType = "welcome"
	FrameAck     FrameType = "ack"
	FrameBatch   FrameType = "batch"
	FrameError   FrameType = "error"
	FramePong    FrameType = "pong"
)

// ServerFrame is sent to clients. Only the fields relevant to Type are set.
type ServerFrame struct {
	Type         FrameType `json:"type"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Topics       []Topic   `json:"topics,omitempty"`
	Action       Action    `json:"action,omitempty"`
	Topic        *Topic    `json:"topic,omitempty"`
	LastSequence *uint64   `json:"last_seq,omitempty"`
	Events       []Event   `json:"events,omitempty"`
	Code         ErrorCode `json:"code,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// UpstreamRecord is one element of the backend poll response
type UpstreamRecord struct {
	ID        *int64          `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

// PushRecord is one element of a push request body
type PushRecord struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// ConnectionState is the lifecycle state of a client connection
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
