package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type stubSender struct {
	ids     []string
	payload []byte
	err     error
}

func (s *stubSender) SendMany(ctx context.Context, ids []string, payload []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.ids = ids
	s.payload = payload
	return len(ids), nil
}

func TestWebsocketSend(t *testing.T) {
	sender := &stubSender{}
	w := NewWebsocket(sender)

	payload := json.RawMessage(`{"connection_ids":["c1","c2"],"data":{"text":"hi"}}`)
	result := w.Send(context.Background(), Message{Payload: payload})

	if !result.OK() {
		t.Fatalf("Send failed: %s", result.ErrorMessage)
	}
	if len(sender.ids) != 2 || sender.ids[0] != "c1" || sender.ids[1] != "c2" {
		t.Errorf("ids = %v", sender.ids)
	}
	if string(sender.payload) != `{"text":"hi"}` {
		t.Errorf("payload = %s", sender.payload)
	}
}

func TestWebsocketSend_PoolError(t *testing.T) {
	sender := &stubSender{err: errors.New("broadcast publish: broker gone")}
	w := NewWebsocket(sender)

	result := w.Send(context.Background(), Message{Payload: json.RawMessage(`{"connection_ids":["c1"],"data":{}}`)})
	if result.OK() {
		t.Fatal("expected failure when the pool errors")
	}
}

func TestWebsocketSend_MalformedPayload(t *testing.T) {
	w := NewWebsocket(&stubSender{})

	result := w.Send(context.Background(), Message{Payload: json.RawMessage(`{bad`)})
	if result.OK() {
		t.Fatal("expected failure on malformed payload")
	}
}

func TestWebsocketValidateParameters(t *testing.T) {
	w := NewWebsocket(&stubSender{})

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "valid", payload: `{"connection_ids":["c1"],"data":{"a":1}}`, wantErr: false},
		{name: "no connection ids", payload: `{"connection_ids":[],"data":{}}`, wantErr: true},
		{name: "missing data", payload: `{"connection_ids":["c1"]}`, wantErr: true},
		{name: "malformed", payload: `{bad`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.ValidateParameters(json.RawMessage(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParameters(%s) = %v, wantErr=%t", tt.payload, err, tt.wantErr)
			}
		})
	}
}
