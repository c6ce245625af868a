package wspool

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport is the slice of *websocket.Conn the pool uses. Narrowed for
// tests; gorilla's connection satisfies it directly.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// conn is one accepted connection. Owned exclusively by the pool of the
// process that accepted it; never persisted.
type conn struct {
	id   string
	ws   Transport
	pool *Pool

	outbound chan []byte
	inbound  chan []byte
	done     chan struct{}

	deadOnce sync.Once
}

func newConn(id string, ws Transport, pool *Pool) *conn {
	return &conn{
		id:       id,
		ws:       ws,
		pool:     pool,
		outbound: make(chan []byte, pool.config.OutboundBuffer),
		inbound:  make(chan []byte, pool.config.InboundBuffer),
		done:     make(chan struct{}),
	}
}

// enqueue offers a payload to the outbound queue without blocking. False
// when the connection is dead or the queue is full.
func (c *conn) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbound <- payload:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// sendLoop drains the outbound queue into the transport. A write error marks
// the connection dead; there are no retries.
func (c *conn) sendLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.outbound:
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("wspool: write failed id=%s: %v", c.id, err)
				c.markDead()
				c.pool.Remove(c.id)
				return
			}
		}
	}
}

// receiveLoop reads inbound frames into the inbound queue until the
// transport fails or the connection is marked dead.
func (c *conn) receiveLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("wspool: read failed id=%s: %v", c.id, err)
			}
			c.markDead()
			c.pool.Remove(c.id)
			return
		}
		select {
		case c.inbound <- data:
		case <-c.done:
			return
		}
	}
}

// notifyLoop drains the inbound queue and invokes registered listeners.
func (c *conn) notifyLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.inbound:
			for _, l := range c.pool.listeners {
				l(c.id, data)
			}
		}
	}
}

// markDead terminates the three loops and closes the transport, exactly
// once. Close callbacks are scheduled here as fire-and-forget goroutines so
// they too run at most once per connection.
func (c *conn) markDead() {
	c.deadOnce.Do(func() {
		close(c.done)
		if err := c.ws.Close(); err != nil {
			log.Printf("wspool: close failed id=%s: %v", c.id, err)
		}
		for _, cb := range c.pool.closeCallbacks {
			go cb(c.id)
		}
	})
}
