package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// KindWebhook is the registry key for the webhook provider.
const KindWebhook = "webhook"

// WebhookConfig is the persisted provider configuration.
type WebhookConfig struct {
	URL       string `json:"url"`
	Secret    string `json:"secret"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

// webhookPayload is the sub-plan payload shape.
type webhookPayload struct {
	Body json.RawMessage `json:"body"`
}

// Breaker gates sends per destination URL. Implemented by
// circuitbreaker.CircuitBreaker; nil disables gating.
type Breaker interface {
	Allow(url string) error
	RecordSuccess(url string)
	RecordFailure(url string)
}

// Webhook posts the sub-plan body to a configured URL with an HMAC
// signature.
type Webhook struct {
	client  *http.Client
	breaker Breaker // optional, nil = disabled
}

func NewWebhook() *Webhook {
	return &Webhook{client: &http.Client{}}
}

// WithBreaker attaches a per-URL circuit breaker.
func (w *Webhook) WithBreaker(b Breaker) *Webhook {
	w.breaker = b
	return w
}

func (w *Webhook) Kind() string { return KindWebhook }

func (w *Webhook) ValidateParameters(payload json.RawMessage) error {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("webhook payload: %w", err)
	}
	if len(p.Body) == 0 {
		return errors.New("webhook payload: missing body")
	}
	return nil
}

// Send posts the payload body with HMAC signature.
// Headers: X-MsgSub-Execution-ID, X-MsgSub-Signature.
func (w *Webhook) Send(ctx context.Context, msg Message) Result {
	var cfg WebhookConfig
	if err := json.Unmarshal(msg.Config, &cfg); err != nil {
		return Failure(fmt.Errorf("webhook config: %w", err))
	}
	if cfg.URL == "" {
		return Failure(errors.New("webhook config: missing url"))
	}

	var p webhookPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return Failure(fmt.Errorf("webhook payload: %w", err))
	}

	if w.breaker != nil {
		if err := w.breaker.Allow(cfg.URL); err != nil {
			return Failure(fmt.Errorf("webhook %s: %w", cfg.URL, err))
		}
	}

	timeout := 30 * time.Second
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, cfg.URL, bytes.NewReader(p.Body))
	if err != nil {
		return Failure(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-MsgSub-Execution-ID", msg.ExecutionID.String())
	req.Header.Set("X-MsgSub-Signature", computeSignature(cfg.Secret, p.Body))

	resp, err := w.client.Do(req)
	if err != nil {
		if w.breaker != nil {
			w.breaker.RecordFailure(cfg.URL)
		}
		return Failure(fmt.Errorf("send: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if w.breaker != nil {
			w.breaker.RecordFailure(cfg.URL)
		}
		return Failure(fmt.Errorf("webhook %s: status %d", cfg.URL, resp.StatusCode))
	}

	if w.breaker != nil {
		w.breaker.RecordSuccess(cfg.URL)
	}
	return Result{Status: StatusOK}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
