// Package consumer runs long-lived workers that pull from registered topics
// and invoke handlers with explicit ack/reject/requeue semantics.
//
// The broker delivers at-least-once; the runtime stamps each delivery with a
// duplicate flag from the idempotency store so handlers can short-circuit
// when appropriate, but it never drops a redelivery on its own.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/lingfromSh/message-sub000/internal/dispatcher"
	"github.com/lingfromSh/message-sub000/internal/topic"
)

// ErrReject tells the runtime to reject the message without requeue. The
// message lands in the topic's dead-letter queue when one is provisioned.
// Handlers return it (or wrap it) for poison messages and definitive
// failures; any other error is treated as transient and requeued once.
var ErrReject = errors.New("message rejected")

var (
	ErrHandlerExists  = errors.New("handler already registered for topic")
	ErrNoHandler      = errors.New("no handler registered")
	ErrAlreadyRunning = errors.New("runtime already running")
)

// Delivery is one broker delivery attempt presented to a handler.
type Delivery struct {
	Topic       string
	MessageID   string
	Body        []byte
	Headers     map[string]any
	Redelivered bool

	// Duplicate is true when the idempotency store has already seen this
	// message id within the dedupe TTL. The handler still runs; it decides
	// whether to treat the redelivery as a retry or short-circuit.
	Duplicate bool
}

// HandlerFunc processes one delivery. A nil return acks; ErrReject rejects
// without requeue; anything else rejects with a single requeue.
type HandlerFunc func(ctx context.Context, d Delivery) error

// BrokerChannel is the slice of the AMQP channel API the runtime uses.
// Satisfied by *amqp091.Channel.
type BrokerChannel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
}

// RedisSubscriber is the slice of the Redis client API used for broadcast
// topics. Satisfied by redis.UniversalClient.
type RedisSubscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// IdempotencyStore marks and clears per-message dedupe keys.
type IdempotencyStore interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Clear(ctx context.Context, key string) error
}

// MetricsSink records consumer metrics. All methods must be non-blocking and
// fire-and-forget.
type MetricsSink interface {
	MessageReceived(topicName string)
	HandlerCompleted(topicName string, outcome string, duration time.Duration)
	HandlersInFlightIncr()
	HandlersInFlightDecr()
}

// Outcome labels for HandlerCompleted.
const (
	OutcomeAcked    = "acked"
	OutcomeRejected = "rejected"
	OutcomeRequeued = "requeued"
)

// Config holds runtime tuning.
type Config struct {
	// ConsumerTag identifies this process on broker consume channels.
	ConsumerTag string
	// Slots caps simultaneous in-flight handler invocations per process.
	Slots int
	// DedupeTTL bounds how long a message id is remembered.
	DedupeTTL time.Duration
	// HandlerTimeout bounds one handler invocation. It also bounds the
	// graceful drain: in-flight handlers keep running on shutdown, detached
	// from the runtime context, until they finish or time out.
	HandlerTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConsumerTag == "" {
		c.ConsumerTag = uuid.NewString()
	}
	if c.Slots <= 0 {
		c.Slots = 16
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = time.Hour
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
}

// Runtime consumes registered topics and dispatches to handlers.
type Runtime struct {
	config   Config
	registry *topic.Registry
	broker   BrokerChannel
	cache    RedisSubscriber
	idem     IdempotencyStore
	metrics  MetricsSink // optional, nil = disabled

	handlers map[string]HandlerFunc
	slots    chan struct{}

	mu      sync.Mutex
	running bool
}

// New creates a Runtime over the given topic registry.
func New(config Config, registry *topic.Registry, broker BrokerChannel, cache RedisSubscriber, idem IdempotencyStore) *Runtime {
	config.applyDefaults()
	return &Runtime{
		config:   config,
		registry: registry,
		broker:   broker,
		cache:    cache,
		idem:     idem,
		handlers: make(map[string]HandlerFunc),
		slots:    make(chan struct{}, config.Slots),
	}
}

// WithMetrics attaches a metrics sink to the runtime.
func (r *Runtime) WithMetrics(sink MetricsSink) *Runtime {
	r.metrics = sink
	return r
}

// Handle registers the handler for a topic. The topic must exist in the
// registry; registering twice is a configuration error.
func (r *Runtime) Handle(topicName string, h HandlerFunc) error {
	desc, err := r.registry.Get(topicName)
	if err != nil {
		return err
	}
	if _, exists := r.handlers[desc.Topic]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, desc.Topic)
	}
	r.handlers[desc.Topic] = h
	return nil
}

// Run consumes every handled topic until ctx is cancelled, then drains:
// intake stops, in-flight handlers finish, and only then does Run return.
// Callers close the broker channel after Run returns.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	if len(r.handlers) == 0 {
		return ErrNoHandler
	}

	if err := r.broker.Qos(r.config.Slots, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	var inflight sync.WaitGroup
	var loops sync.WaitGroup

	for name, handler := range r.handlers {
		desc, err := r.registry.Get(name)
		if err != nil {
			return err
		}

		switch desc.Mode {
		case topic.ModeShared:
			deliveries, err := r.broker.Consume(desc.Topic, r.config.ConsumerTag+"."+desc.Topic, false, false, false, false, nil)
			if err != nil {
				return fmt.Errorf("consume %s: %w", desc.Topic, err)
			}
			loops.Add(1)
			go func(t string, h HandlerFunc, ch <-chan amqp.Delivery) {
				defer loops.Done()
				r.consumeShared(ctx, t, h, ch, &inflight)
			}(desc.Topic, handler, deliveries)

		case topic.ModeBroadcast:
			pubsub := r.cache.Subscribe(ctx, dispatcher.BroadcastChannel(desc.Topic))
			loops.Add(1)
			go func(t string, h HandlerFunc, ps *redis.PubSub) {
				defer loops.Done()
				defer ps.Close()
				r.consumeBroadcast(ctx, t, h, ps.Channel(), &inflight)
			}(desc.Topic, handler, pubsub)
		}
		log.Printf("consumer: subscribed topic=%s mode=%s", desc.Topic, desc.Mode)
	}

	<-ctx.Done()
	log.Printf("consumer: shutting down, waiting for in-flight handlers")
	loops.Wait()
	inflight.Wait()
	log.Printf("consumer: drained")
	return ctx.Err()
}

func (r *Runtime) consumeShared(ctx context.Context, topicName string, handler HandlerFunc, deliveries <-chan amqp.Delivery, inflight *sync.WaitGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				log.Printf("consumer: delivery channel closed topic=%s", topicName)
				return
			}
			if !r.acquireSlot(ctx) {
				// Shutting down before a slot freed; leave the message
				// unacked so the broker redelivers it.
				return
			}
			inflight.Add(1)
			go func(m amqp.Delivery) {
				defer inflight.Done()
				defer r.releaseSlot()
				r.processShared(topicName, handler, m)
			}(msg)
		}
	}
}

func (r *Runtime) consumeBroadcast(ctx context.Context, topicName string, handler HandlerFunc, messages <-chan *redis.Message, inflight *sync.WaitGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if !r.acquireSlot(ctx) {
				return
			}
			inflight.Add(1)
			go func(payload string) {
				defer inflight.Done()
				defer r.releaseSlot()
				r.processBroadcast(topicName, handler, []byte(payload))
			}(msg.Payload)
		}
	}
}

// processShared wraps one broker delivery: dedupe check, handler, ack policy.
// State machine: received -> processing -> acked | rejected(no-requeue) |
// rejected(requeue). Terminal states are acked and rejected(no-requeue).
func (r *Runtime) processShared(topicName string, handler HandlerFunc, msg amqp.Delivery) {
	hctx, cancel := context.WithTimeout(context.Background(), r.config.HandlerTimeout)
	defer cancel()

	if r.metrics != nil {
		r.metrics.MessageReceived(topicName)
		r.metrics.HandlersInFlightIncr()
		defer r.metrics.HandlersInFlightDecr()
	}

	messageID := msg.MessageId
	if messageID == "" {
		messageID = uuid.NewString()
		log.Printf("consumer: topic=%s delivery without message id, assigned %s", topicName, messageID)
	}

	d := Delivery{
		Topic:       topicName,
		MessageID:   messageID,
		Body:        msg.Body,
		Headers:     map[string]any(msg.Headers),
		Redelivered: msg.Redelivered,
		Duplicate:   r.markSeen(hctx, topicName, messageID),
	}

	start := time.Now()
	err := handler(hctx, d)
	outcome := r.settle(topicName, messageID, err, broker{msg})
	if r.metrics != nil {
		r.metrics.HandlerCompleted(topicName, outcome, time.Since(start))
	}
}

func (r *Runtime) processBroadcast(topicName string, handler HandlerFunc, payload []byte) {
	hctx, cancel := context.WithTimeout(context.Background(), r.config.HandlerTimeout)
	defer cancel()

	if r.metrics != nil {
		r.metrics.MessageReceived(topicName)
		r.metrics.HandlersInFlightIncr()
		defer r.metrics.HandlersInFlightDecr()
	}

	messageID, appID, headers, body, err := dispatcher.DecodeBroadcast(payload)
	if err != nil {
		log.Printf("consumer: topic=%s malformed broadcast: %v", topicName, err)
		return
	}
	if headers == nil {
		headers = map[string]any{}
	}
	headers["app_id"] = appID

	d := Delivery{
		Topic:     topicName,
		MessageID: messageID,
		Body:      body,
		Headers:   headers,
		Duplicate: r.markSeen(hctx, topicName, messageID),
	}

	start := time.Now()
	if err := handler(hctx, d); err != nil {
		// Broadcast has no ack cycle and no redelivery; errors are terminal.
		log.Printf("consumer: topic=%s broadcast handler error: %v", topicName, err)
		if r.metrics != nil {
			r.metrics.HandlerCompleted(topicName, OutcomeRejected, time.Since(start))
		}
		return
	}
	if r.metrics != nil {
		r.metrics.HandlerCompleted(topicName, OutcomeAcked, time.Since(start))
	}
}

// markSeen records the message id, returning true when it was already known.
// A store error is a transient coordination failure: logged, treated as
// first-sight, never fatal to the delivery.
func (r *Runtime) markSeen(ctx context.Context, topicName, messageID string) bool {
	first, err := r.idem.SetNX(ctx, dedupeKey(topicName, messageID), r.config.DedupeTTL)
	if err != nil {
		log.Printf("consumer: topic=%s dedupe check failed for %s: %v", topicName, messageID, err)
		return false
	}
	return !first
}

// acker is the ack/nack slice of amqp.Delivery, split out for tests.
type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	WasRedelivered() bool
}

type broker struct{ d amqp.Delivery }

func (b broker) Ack(multiple bool) error           { return b.d.Ack(multiple) }
func (b broker) Nack(multiple, requeue bool) error { return b.d.Nack(multiple, requeue) }
func (b broker) WasRedelivered() bool              { return b.d.Redelivered }

// settleTimeout bounds settle's own store I/O, independent of the handler
// deadline.
const settleTimeout = 5 * time.Second

// settle applies the acknowledgement policy and returns the outcome label.
func (r *Runtime) settle(topicName, messageID string, handlerErr error, msg acker) string {
	switch {
	case handlerErr == nil:
		if err := msg.Ack(false); err != nil {
			log.Printf("consumer: topic=%s ack failed: %v", topicName, err)
		}
		return OutcomeAcked

	case errors.Is(handlerErr, ErrReject):
		log.Printf("consumer: topic=%s rejected message=%s: %v", topicName, messageID, handlerErr)
		if err := msg.Nack(false, false); err != nil {
			log.Printf("consumer: topic=%s nack failed: %v", topicName, err)
		}
		return OutcomeRejected

	default:
		// Unexpected failure before any decision: requeue once. A second
		// unexpected failure parks the message instead of cycling forever.
		if msg.WasRedelivered() {
			log.Printf("consumer: topic=%s message=%s failed twice, parking: %v", topicName, messageID, handlerErr)
			if err := msg.Nack(false, false); err != nil {
				log.Printf("consumer: topic=%s nack failed: %v", topicName, err)
			}
			return OutcomeRejected
		}
		// Clear the dedupe key first so the redelivered attempt is fresh.
		// The handler context is usually already expired when we get here
		// (timeouts are the common transient failure), so the clear runs on
		// its own deadline.
		clearCtx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		if err := r.idem.Clear(clearCtx, dedupeKey(topicName, messageID)); err != nil {
			log.Printf("consumer: topic=%s dedupe clear failed for %s: %v", topicName, messageID, err)
		}
		log.Printf("consumer: topic=%s requeueing message=%s: %v", topicName, messageID, handlerErr)
		if err := msg.Nack(false, true); err != nil {
			log.Printf("consumer: topic=%s nack failed: %v", topicName, err)
		}
		return OutcomeRequeued
	}
}

func (r *Runtime) acquireSlot(ctx context.Context) bool {
	select {
	case r.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runtime) releaseSlot() {
	<-r.slots
}

func dedupeKey(topicName, messageID string) string {
	return "msg:" + topicName + ":" + messageID
}
