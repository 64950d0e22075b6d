package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
)

// Outcome records what an accepted event did to its order.
type Outcome string

const (
	OutcomeApplied            Outcome = "applied"
	OutcomeOrderNotFound      Outcome = "order_not_found"
	OutcomeTransitionRejected Outcome = "transition_rejected"
)

// EventRecord is the idempotency ledger row, unique per
// (provider, provider_event_id).
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider"`
	ProviderEventID string         `json:"provider_event_id"`
	EventType       string         `json:"event_type"`
	OrderID         *snowflake.ID  `json:"order_id,omitempty"`
	Outcome         *string        `json:"outcome,omitempty"`
	Payload         datatypes.JSON `json:"payload"`
	ReceivedAt      time.Time      `json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}

func (EventRecord) TableName() string { return "payment_events" }

// PaymentEvent is the provider-neutral event produced by adapters.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderPaymentID string
	Type              string
	OrderID           snowflake.ID
	Amount            int64
	Currency          string
	OccurredAt        time.Time
	RawPayload        []byte
}

type ProcessResult struct {
	Outcome Outcome      `json:"outcome"`
	OrderID snowflake.ID `json:"order_id"`
}

// IntentRequest asks a gateway to start collecting payment for an order.
// Amount is in minor units.
type IntentRequest struct {
	OrderID        snowflake.ID
	Amount         int64
	Currency       string
	IdempotencyKey string
}

type Intent struct {
	ID           string
	ClientSecret string
}

type CreateIntentRequest struct {
	OrderID string `json:"order_id"`
}

type CreateIntentResponse struct {
	ClientSecret    string `json:"client_secret"`
	PaymentIntentID string `json:"payment_intent_id"`
}
