package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// KindWebsocket is the registry key for the websocket provider.
const KindWebsocket = "websocket"

// websocketPayload is the sub-plan payload shape: which connections to reach
// and what to write to them.
type websocketPayload struct {
	ConnectionIDs []string        `json:"connection_ids"`
	Data          json.RawMessage `json:"data"`
}

// ConnectionSender resolves "send to connection X" either locally or through
// a cross-process broadcast. Implemented by wspool.Pool.
type ConnectionSender interface {
	// SendMany delivers payload to the given connection ids. Returns the
	// number of connections reached locally; remote ids are broadcast
	// best-effort.
	SendMany(ctx context.Context, ids []string, payload []byte) (int, error)
}

// Websocket delivers messages to live connections instead of making an
// external network call.
type Websocket struct {
	pool ConnectionSender
}

func NewWebsocket(pool ConnectionSender) *Websocket {
	return &Websocket{pool: pool}
}

func (w *Websocket) Kind() string { return KindWebsocket }

func (w *Websocket) ValidateParameters(payload json.RawMessage) error {
	var p websocketPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("websocket payload: %w", err)
	}
	if len(p.ConnectionIDs) == 0 {
		return errors.New("websocket payload: no connection ids")
	}
	if len(p.Data) == 0 {
		return errors.New("websocket payload: missing data")
	}
	return nil
}

// Send writes data to every targeted connection. Locally held connections
// get a direct queue write; the rest ride the broadcast topic to whichever
// process holds them. The send counts as ok when the payload was accepted
// for at least one connection or handed to the broadcast.
func (w *Websocket) Send(ctx context.Context, msg Message) Result {
	var p websocketPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return Failure(fmt.Errorf("websocket payload: %w", err))
	}

	if _, err := w.pool.SendMany(ctx, p.ConnectionIDs, p.Data); err != nil {
		return Failure(fmt.Errorf("websocket send: %w", err))
	}
	return Result{Status: StatusOK}
}
