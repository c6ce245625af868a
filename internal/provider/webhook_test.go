package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func webhookMessage(url, secret string, body string) Message {
	cfg, _ := json.Marshal(WebhookConfig{URL: url, Secret: secret})
	payload, _ := json.Marshal(map[string]json.RawMessage{"body": json.RawMessage(body)})
	return Message{
		ExecutionID: uuid.New(),
		PlanID:      uuid.New(),
		Config:      cfg,
		Payload:     payload,
	}
}

func TestWebhookSend_PostsSignedBody(t *testing.T) {
	var gotBody []byte
	var gotSignature, gotExecution, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-MsgSub-Signature")
		gotExecution = r.Header.Get("X-MsgSub-Execution-ID")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	msg := webhookMessage(srv.URL, "s3cret", `{"text":"hi"}`)
	result := NewWebhook().Send(context.Background(), msg)

	if !result.OK() {
		t.Fatalf("Send failed: %s", result.ErrorMessage)
	}
	if string(gotBody) != `{"text":"hi"}` {
		t.Errorf("posted body = %s", gotBody)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}
	if gotExecution != msg.ExecutionID.String() {
		t.Errorf("execution header = %q", gotExecution)
	}
	if !VerifySignature("s3cret", gotBody, gotSignature) {
		t.Error("signature does not verify against the posted body")
	}
}

func TestWebhookSend_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	result := NewWebhook().Send(context.Background(), webhookMessage(srv.URL, "s", `{}`))
	if result.OK() {
		t.Fatal("expected failure on 502")
	}
	if !strings.Contains(result.ErrorMessage, "502") {
		t.Errorf("error = %q, want the status code surfaced", result.ErrorMessage)
	}
}

func TestWebhookSend_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		payload string
		wantSub string
	}{
		{name: "malformed config", config: "{bad", payload: `{"body":{}}`, wantSub: "webhook config"},
		{name: "missing url", config: `{"secret":"s"}`, payload: `{"body":{}}`, wantSub: "missing url"},
		{name: "malformed payload", config: `{"url":"http://localhost:1"}`, payload: "{bad", wantSub: "webhook payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewWebhook().Send(context.Background(), Message{
				Config:  json.RawMessage(tt.config),
				Payload: json.RawMessage(tt.payload),
			})
			if result.OK() {
				t.Fatal("expected failure")
			}
			if !strings.Contains(result.ErrorMessage, tt.wantSub) {
				t.Errorf("error = %q, want substring %q", result.ErrorMessage, tt.wantSub)
			}
		})
	}
}

func TestWebhookValidateParameters(t *testing.T) {
	w := NewWebhook()

	if err := w.ValidateParameters(json.RawMessage(`{"body":{"a":1}}`)); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}
	if err := w.ValidateParameters(json.RawMessage(`{}`)); err == nil {
		t.Error("missing body accepted")
	}
	if err := w.ValidateParameters(json.RawMessage(`{bad`)); err == nil {
		t.Error("malformed payload accepted")
	}
}

type stubBreaker struct {
	allowErr  error
	successes []string
	failures  []string
}

func (s *stubBreaker) Allow(url string) error   { return s.allowErr }
func (s *stubBreaker) RecordSuccess(url string) { s.successes = append(s.successes, url) }
func (s *stubBreaker) RecordFailure(url string) { s.failures = append(s.failures, url) }

func TestWebhookSend_BreakerOpenShortCircuits(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	breaker := &stubBreaker{allowErr: errors.New("circuit open")}
	result := NewWebhook().WithBreaker(breaker).Send(context.Background(), webhookMessage(srv.URL, "s", `{}`))

	if result.OK() {
		t.Fatal("expected failure while the circuit is open")
	}
	if requests != 0 {
		t.Error("an open circuit must not issue the request")
	}
}

func TestWebhookSend_BreakerRecordsOutcomes(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	breaker := &stubBreaker{}
	w := NewWebhook().WithBreaker(breaker)

	if result := w.Send(context.Background(), webhookMessage(srv.URL, "s", `{}`)); !result.OK() {
		t.Fatalf("Send: %s", result.ErrorMessage)
	}
	if len(breaker.successes) != 1 {
		t.Errorf("successes = %v", breaker.successes)
	}

	status = http.StatusInternalServerError
	if result := w.Send(context.Background(), webhookMessage(srv.URL, "s", `{}`)); result.OK() {
		t.Fatal("expected failure on 500")
	}
	if len(breaker.failures) != 1 {
		t.Errorf("failures = %v", breaker.failures)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"x":1}`)
	sig := computeSignature("secret", body)

	if !VerifySignature("secret", body, sig) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("other", body, sig) {
		t.Error("wrong secret accepted")
	}
	if VerifySignature("secret", []byte(`{"x":2}`), sig) {
		t.Error("tampered body accepted")
	}
}

func TestWebhookSend_TimeoutConfig(t *testing.T) {
	// A dead endpoint with a tight timeout fails fast instead of hanging.
	cfg, _ := json.Marshal(WebhookConfig{URL: "http://10.255.255.1:9", Secret: "s", TimeoutMs: 50})
	payload, _ := json.Marshal(map[string]json.RawMessage{"body": json.RawMessage(`{}`)})

	result := NewWebhook().Send(context.Background(), Message{Config: cfg, Payload: payload})
	if result.OK() {
		t.Fatal("expected failure against an unreachable endpoint")
	}
	if !strings.Contains(result.ErrorMessage, "send:") {
		t.Errorf("error = %q", result.ErrorMessage)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	hook := NewWebhook()

	if err := r.Register(hook); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(NewWebhook()); !errors.Is(err, ErrDuplicateKind) {
		t.Errorf("expected ErrDuplicateKind, got %v", err)
	}

	p, err := r.Resolve(KindWebhook)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p != hook {
		t.Error("resolved a different provider instance")
	}

	if _, err := r.Resolve("carrier-pigeon"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}
