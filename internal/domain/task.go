package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeliveryTask is the queue payload dispatched for one trigger occurrence.
// The consumer resolves the execution and plan by id; the task itself stays
// small so redeliveries are cheap.
type DeliveryTask struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	PlanID      uuid.UUID `json:"plan_id"`
	FireAt      time.Time `json:"fire_at"`
}

// BroadcastEnvelope is published on the websocket broadcast topic when a send
// targets connections held by another process. Receivers ignore envelopes
// they authored and attempt local delivery of any ids they hold.
type BroadcastEnvelope struct {
	Sender        string          `json:"sender"`
	ConnectionIDs []string        `json:"connection_ids"`
	Payload       json.RawMessage `json:"payload"`
}
