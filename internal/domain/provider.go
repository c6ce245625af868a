package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Provider is a persisted send-channel configuration referenced by sub-plans.
// Kind selects the registered provider implementation; Config is passed to it
// verbatim.
type Provider struct {
	ID uuid.UUID

	Name    string
	Kind    string
	Enabled bool

	Config json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}
