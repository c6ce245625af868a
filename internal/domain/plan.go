package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Plan is a user-defined schedule of when to send which message via which
// provider. A plan fans out to one or more sub-plans each time a trigger fires.
type Plan struct {
	ID uuid.UUID

	Name    string
	Enabled bool

	Triggers []Trigger
	SubPlans []SubPlan

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubPlan is one (provider, message payload) pair within a plan's fan-out.
type SubPlan struct {
	ProviderID uuid.UUID       `json:"provider_id"`
	Payload    json.RawMessage `json:"payload"`
}

// Validate checks plan invariants: at least one trigger, at least one
// sub-plan, and every trigger individually valid.
func (p Plan) Validate() error {
	if len(p.Triggers) == 0 {
		return ErrNoTriggers
	}
	if len(p.SubPlans) == 0 {
		return ErrNoSubPlans
	}
	for i := range p.Triggers {
		if err := p.Triggers[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
