// Package provider defines the send-channel contract and the process-wide
// provider registry.
//
// Providers are stateless singletons registered by kind at startup; the
// persisted Provider document supplies per-channel configuration and the
// sub-plan supplies the message payload, both passed on every call. No
// reflection: a provider declares its parameter shape as plain structs it
// decodes itself.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Status of one send attempt.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Result is the outcome of one send attempt. Providers report failure
// through Result, not through panics or raised errors.
type Result struct {
	Status       Status
	ErrorMessage string
}

// OK reports whether the send succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Failure builds a failed Result from an error.
func Failure(err error) Result {
	return Result{Status: StatusFailed, ErrorMessage: err.Error()}
}

// Message is one sub-plan send: the provider document's Config plus the
// sub-plan's Payload, tagged with the owning execution.
type Message struct {
	ExecutionID uuid.UUID
	PlanID      uuid.UUID

	// Config is the persisted provider configuration (endpoint, secret...).
	Config json.RawMessage
	// Payload is the sub-plan message payload.
	Payload json.RawMessage
}

// Provider is the abstract send contract consumed by the delivery handler.
type Provider interface {
	// Kind is the unique registry key, matching Provider documents.
	Kind() string
	// ValidateParameters rejects malformed sub-plan payloads before send.
	ValidateParameters(payload json.RawMessage) error
	// Send delivers the message. Called once per sub-plan per delivery
	// attempt; must be safe under broker redelivery.
	Send(ctx context.Context, msg Message) Result
}

var (
	ErrDuplicateKind = errors.New("provider kind already registered")
	ErrUnknownKind   = errors.New("provider kind not registered")
)

// Registry maps provider kind to implementation. Built once at startup;
// duplicate registration is a configuration error.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) error {
	kind := p.Kind()
	if kind == "" {
		return errors.New("provider with empty kind")
	}
	if _, exists := r.providers[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	r.providers[kind] = p
	return nil
}

func (r *Registry) Resolve(kind string) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return p, nil
}
