// Package wspool owns the live websocket connections of one process and
// makes "send to connection X" location-transparent.
//
// Locally held connections get a direct write onto their outbound queue.
// Ids this process does not hold are published once on a broadcast topic;
// every process's pool subscribes, ignores envelopes it authored, and
// attempts local delivery of ids it happens to hold. Local delivery is the
// common case once sticky routing is in place upstream.
package wspool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/lingfromSh/message-sub000/internal/consumer"
	"github.com/lingfromSh/message-sub000/internal/domain"
)

// Broadcaster publishes cross-process fan-out envelopes. Implemented by
// dispatcher.Dispatcher.
type Broadcaster interface {
	Publish(ctx context.Context, topicName string, body []byte, headers map[string]any) (string, error)
}

// Listener is invoked for every inbound frame of every connection, from the
// connection's notify-loop.
type Listener func(connID string, data []byte)

// CloseCallback is fired once per connection at removal, as a fire-and-forget
// goroutine.
type CloseCallback func(connID string)

// MetricsSink records pool metrics. All methods must be non-blocking and
// fire-and-forget.
type MetricsSink interface {
	ConnectionsUpdate(count int)
	LocalDeliveries(count int)
	BroadcastPublished()
	SendDropped()
}

// Config holds pool tuning.
type Config struct {
	// ProcessID stamps authored broadcast envelopes so a pool can ignore
	// its own fan-out.
	ProcessID string
	// Topic is the registered broadcast topic for cross-process sends.
	Topic string
	// OutboundBuffer and InboundBuffer size the per-connection queues.
	OutboundBuffer int
	InboundBuffer  int
}

func (c *Config) applyDefaults() {
	if c.ProcessID == "" {
		c.ProcessID = uuid.NewString()
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = 64
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = 64
	}
}

// Pool is the per-process registry of live duplex connections.
type Pool struct {
	config      Config
	broadcaster Broadcaster
	metrics     MetricsSink // optional, nil = disabled

	mu    sync.RWMutex
	conns map[string]*conn

	listeners      []Listener
	closeCallbacks []CloseCallback
}

// New creates a Pool publishing remote sends on the given broadcast topic.
func New(config Config, broadcaster Broadcaster) *Pool {
	config.applyDefaults()
	return &Pool{
		config:      config,
		broadcaster: broadcaster,
		conns:       make(map[string]*conn),
	}
}

// WithMetrics attaches a metrics sink to the pool.
func (p *Pool) WithMetrics(sink MetricsSink) *Pool {
	p.metrics = sink
	return p
}

// ProcessID returns the id stamped on authored broadcasts.
func (p *Pool) ProcessID() string {
	return p.config.ProcessID
}

// OnMessage registers a listener for inbound frames. Register before
// accepting connections; not safe to call concurrently with Add.
func (p *Pool) OnMessage(l Listener) {
	p.listeners = append(p.listeners, l)
}

// OnClose registers a close callback. Same constraints as OnMessage.
func (p *Pool) OnClose(cb CloseCallback) {
	p.closeCallbacks = append(p.closeCallbacks, cb)
}

// Add takes ownership of an accepted connection and returns its
// process-unique id. Three loops run for the connection's lifetime: send,
// receive, notify. They all exit when the connection is marked dead.
func (p *Pool) Add(ws Transport) string {
	c := newConn(uuid.NewString(), ws, p)

	p.mu.Lock()
	p.conns[c.id] = c
	count := len(p.conns)
	p.mu.Unlock()

	go c.sendLoop()
	go c.receiveLoop()
	go c.notifyLoop()

	if p.metrics != nil {
		p.metrics.ConnectionsUpdate(count)
	}
	log.Printf("wspool: connection added id=%s total=%d", c.id, count)
	return c.id
}

// Send queues payload for one locally held connection. Returns false without
// raising for dead or unknown connections, and when the outbound queue is
// full; the pool never retries.
func (p *Pool) Send(id string, payload []byte) bool {
	p.mu.RLock()
	c, ok := p.conns[id]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	if !c.enqueue(payload) {
		if p.metrics != nil {
			p.metrics.SendDropped()
		}
		return false
	}
	return true
}

// SendMany partitions ids into locally held and remote. Local ids are
// written directly; remote ids are published once on the broadcast topic.
// No broadcast is issued when every id is local. Returns the local delivery
// count.
func (p *Pool) SendMany(ctx context.Context, ids []string, payload []byte) (int, error) {
	var remote []string
	delivered := 0

	for _, id := range ids {
		if p.Send(id, payload) {
			delivered++
			continue
		}
		p.mu.RLock()
		_, held := p.conns[id]
		p.mu.RUnlock()
		if !held {
			remote = append(remote, id)
		}
		// Held but dropped: the connection is local and saturated or dying;
		// broadcasting would not help.
	}

	if p.metrics != nil && delivered > 0 {
		p.metrics.LocalDeliveries(delivered)
	}

	if len(remote) == 0 {
		return delivered, nil
	}

	body, err := json.Marshal(domain.BroadcastEnvelope{
		Sender:        p.config.ProcessID,
		ConnectionIDs: remote,
		Payload:       payload,
	})
	if err != nil {
		return delivered, fmt.Errorf("marshal broadcast envelope: %w", err)
	}
	if _, err := p.broadcaster.Publish(ctx, p.config.Topic, body, nil); err != nil {
		return delivered, fmt.Errorf("broadcast publish: %w", err)
	}
	if p.metrics != nil {
		p.metrics.BroadcastPublished()
	}
	return delivered, nil
}

// Remove tears down a connection. Removing twice is a no-op the second time:
// close callbacks fire at most once per connection.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	c, ok := p.conns[id]
	if ok {
		delete(p.conns, id)
	}
	count := len(p.conns)
	p.mu.Unlock()

	if !ok {
		return
	}
	c.markDead()
	if p.metrics != nil {
		p.metrics.ConnectionsUpdate(count)
	}
	log.Printf("wspool: connection removed id=%s total=%d", id, count)
}

// Len returns the number of locally held connections.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Close removes every connection. Used at process shutdown.
func (p *Pool) Close() {
	p.mu.RLock()
	ids := make([]string, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	for _, id := range ids {
		p.Remove(id)
	}
}

// HandleBroadcast is the consumer handler for the pool's broadcast topic.
// Envelopes authored by this process are ignored; for the rest, local
// delivery of any held ids is attempted best-effort.
func (p *Pool) HandleBroadcast(ctx context.Context, d consumer.Delivery) error {
	var env domain.BroadcastEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		return fmt.Errorf("%w: broadcast envelope: %v", consumer.ErrReject, err)
	}
	if env.Sender == p.config.ProcessID {
		return nil
	}

	delivered := 0
	for _, id := range env.ConnectionIDs {
		if p.Send(id, env.Payload) {
			delivered++
		}
	}
	if delivered > 0 {
		if p.metrics != nil {
			p.metrics.LocalDeliveries(delivered)
		}
		log.Printf("wspool: broadcast from %s delivered to %d local connections", env.Sender, delivered)
	}
	return nil
}
