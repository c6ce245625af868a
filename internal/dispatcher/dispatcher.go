// Package dispatcher publishes messages to registered topics.
//
// Shared topics go through an AMQP topic exchange with one shared queue per
// topic (competing consumers). Broadcast topics go through Redis pub/sub so
// every subscribed process receives its own copy. Delayed publishes ride the
// broker's dead-letter machinery; see DelayPublish.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/lingfromSh/message-sub000/internal/topic"
)

var (
	// ErrBroadcastDelay is returned when a delayed publish targets a
	// broadcast topic; only broker-routed topics support delay.
	ErrBroadcastDelay = errors.New("delay publish not supported on broadcast topics")
)

// HeaderExecutionID carries the plan execution id on delivery task messages.
const HeaderExecutionID = "execution_id"

// BrokerChannel is the slice of the AMQP channel API the dispatcher uses.
// Satisfied by *amqp091.Channel.
type BrokerChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// RedisPublisher is the slice of the Redis client API used for broadcast
// topics. Satisfied by redis.UniversalClient.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// MetricsSink records dispatcher metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	MessagePublished(topicName string, mode string)
	PublishError(topicName string)
	DelayPublished(topicName string, delay time.Duration)
}

// Dispatcher publishes to topics per their registered descriptor.
type Dispatcher struct {
	registry *topic.Registry
	broker   BrokerChannel
	cache    RedisPublisher
	exchange string
	appID    string
	metrics  MetricsSink // optional, nil = disabled
}

// New creates a Dispatcher. exchange names the AMQP topic exchange; appID
// stamps every published message.
func New(registry *topic.Registry, broker BrokerChannel, cache RedisPublisher, exchange, appID string) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		broker:   broker,
		cache:    cache,
		exchange: exchange,
		appID:    appID,
	}
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Publish sends body to the topic immediately. If headers carry no message
// id, a generated one is assigned; the id is returned either way so callers
// can correlate.
func (d *Dispatcher) Publish(ctx context.Context, topicName string, body []byte, headers map[string]any) (string, error) {
	desc, err := d.registry.Get(topicName)
	if err != nil {
		return "", err
	}
	return d.publish(ctx, desc, body, headers, 0)
}

// DelayPublish schedules body for delivery after delay. Only valid for
// shared topics: the message is parked in the topic's delay queue with a
// per-message TTL and a dead-letter route back to the real topic, so the
// broker re-routes it when the TTL elapses unconsumed. A delay of zero or
// less publishes immediately, indistinguishable from Publish.
func (d *Dispatcher) DelayPublish(ctx context.Context, topicName string, body []byte, headers map[string]any, delay time.Duration) (string, error) {
	desc, err := d.registry.Get(topicName)
	if err != nil {
		return "", err
	}
	if delay <= 0 {
		return d.publish(ctx, desc, body, headers, 0)
	}
	if desc.Mode != topic.ModeShared {
		return "", fmt.Errorf("%w: %s", ErrBroadcastDelay, desc.Topic)
	}
	return d.publish(ctx, desc, body, headers, delay)
}

func (d *Dispatcher) publish(ctx context.Context, desc topic.Descriptor, body []byte, headers map[string]any, delay time.Duration) (string, error) {
	messageID := messageIDFrom(headers)

	var err error
	switch desc.Mode {
	case topic.ModeShared:
		err = d.publishShared(ctx, desc, messageID, body, headers, delay)
	case topic.ModeBroadcast:
		err = d.publishBroadcast(ctx, desc, messageID, body, headers)
	default:
		err = fmt.Errorf("%w: %q", topic.ErrInvalidMode, desc.Mode)
	}

	if err != nil {
		if d.metrics != nil {
			d.metrics.PublishError(desc.Topic)
		}
		return "", err
	}

	if d.metrics != nil {
		d.metrics.MessagePublished(desc.Topic, string(desc.Mode))
		if delay > 0 {
			d.metrics.DelayPublished(desc.Topic, delay)
		}
	}
	return messageID, nil
}

func (d *Dispatcher) publishShared(ctx context.Context, desc topic.Descriptor, messageID string, body []byte, headers map[string]any, delay time.Duration) error {
	msg := amqp.Publishing{
		MessageId: messageID,
		AppId:     d.appID,
		Timestamp: time.Now().UTC(),
		Headers:   amqpHeaders(headers),
		Body:      body,
	}
	if desc.Durable {
		msg.DeliveryMode = amqp.Persistent
	}

	if delay > 0 {
		// Per-message TTL in milliseconds; the delay queue dead-letters the
		// expired message back onto the exchange with the real routing key.
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
		// Default exchange routes directly to the delay queue by name.
		return d.broker.PublishWithContext(ctx, "", delayQueueName(desc.Topic), false, false, msg)
	}

	return d.broker.PublishWithContext(ctx, d.exchange, desc.Topic, false, false, msg)
}

// broadcastMessage is the wire envelope on Redis pub/sub channels.
type broadcastMessage struct {
	MessageID string          `json:"message_id"`
	AppID     string          `json:"app_id"`
	Headers   map[string]any  `json:"headers,omitempty"`
	Body      json.RawMessage `json:"body"`
}

func (d *Dispatcher) publishBroadcast(ctx context.Context, desc topic.Descriptor, messageID string, body []byte, headers map[string]any) error {
	envelope, err := json.Marshal(broadcastMessage{
		MessageID: messageID,
		AppID:     d.appID,
		Headers:   headers,
		Body:      body,
	})
	if err != nil {
		return fmt.Errorf("marshal broadcast envelope: %w", err)
	}
	return d.cache.Publish(ctx, BroadcastChannel(desc.Topic), envelope).Err()
}

// BroadcastChannel returns the Redis channel name for a broadcast topic.
func BroadcastChannel(topicName string) string {
	return "topic:" + topic.Normalize(topicName)
}

// DecodeBroadcast unpacks a broadcast envelope received from Redis.
func DecodeBroadcast(payload []byte) (messageID, appID string, headers map[string]any, body []byte, err error) {
	var msg broadcastMessage
	if err = json.Unmarshal(payload, &msg); err != nil {
		return "", "", nil, nil, fmt.Errorf("decode broadcast envelope: %w", err)
	}
	return msg.MessageID, msg.AppID, msg.Headers, msg.Body, nil
}

func messageIDFrom(headers map[string]any) string {
	if headers != nil {
		if v, ok := headers["message_id"].(string); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func amqpHeaders(headers map[string]any) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	t := make(amqp.Table, len(headers))
	for k, v := range headers {
		t[k] = v
	}
	return t
}
