// Package topic holds the static topic registry shared by the dispatcher and
// the consumer runtime. The registry is built once at process start and passed
// by reference; registration failures are constructor-time configuration
// errors, not runtime conditions.
package topic

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DeliveryMode selects the transport for a topic.
type DeliveryMode string

const (
	// ModeShared routes through the broker with one shared queue per topic:
	// exactly one consumer instance processes a given message.
	ModeShared DeliveryMode = "shared"
	// ModeBroadcast routes through a cache pub/sub channel: every subscribed
	// process receives its own copy.
	ModeBroadcast DeliveryMode = "broadcast"
)

var (
	ErrDuplicateTopic = errors.New("topic already registered")
	ErrUnknownTopic   = errors.New("topic not registered")
	ErrInvalidMode    = errors.New("invalid delivery mode")
)

// Descriptor describes one topic's delivery semantics.
type Descriptor struct {
	Topic string
	Mode  DeliveryMode

	// Durable queues survive broker restarts. Shared topics only.
	Durable bool
	// DeadLetter provisions a {topic}.deadletter queue for rejected messages.
	// Shared topics only.
	DeadLetter bool
}

// Registry maps topic name to descriptor. Not safe for concurrent
// registration; register everything during startup.
type Registry struct {
	topics map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{topics: make(map[string]Descriptor)}
}

// Register adds a descriptor. Topic names are case-normalized; a duplicate
// registration is a configuration error.
func (r *Registry) Register(d Descriptor) error {
	name := Normalize(d.Topic)
	if name == "" {
		return errors.New("empty topic name")
	}
	switch d.Mode {
	case ModeShared, ModeBroadcast:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, d.Mode)
	}
	if _, exists := r.topics[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTopic, name)
	}
	d.Topic = name
	r.topics[name] = d
	return nil
}

// Get returns the descriptor for a topic name.
func (r *Registry) Get(topic string) (Descriptor, error) {
	d, ok := r.topics[Normalize(topic)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return d, nil
}

// All returns every descriptor, ordered by topic name.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.topics))
	for _, d := range r.topics {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Normalize lowercases and trims a topic name.
func Normalize(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}
