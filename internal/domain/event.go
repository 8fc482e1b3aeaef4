package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the internal event vocabulary every gateway notification is
// normalized into. Handlers switch exhaustively on the kind instead of probing
// optional fields of a raw payload.
type EventKind string

const (
	EventPaymentAttempted         EventKind = "payment_attempted"
	EventPaymentSucceeded         EventKind = "payment_succeeded"
	EventPaymentFailed            EventKind = "payment_failed"
	EventPaymentRefunded          EventKind = "payment_refunded"
	EventAccountCapabilityUpdated EventKind = "account_capability_updated"
)

// EventPayload carries everything needed to reconstruct a full ledger entry
// from a single notification (the fallback creation path). Fields that only
// apply to some kinds are left zero for the others.
type EventPayload struct {
	Amount            int64
	Currency          string
	OwnerRef          uuid.UUID
	OfferRef          uuid.UUID
	ExperimentRef     *uuid.UUID
	GatewayCustomerID string
	Customer          Customer
	LineItems         []LineItem
	FailureReason     string
	FailureMessage    string
}

// PaymentEvent is the normalized form of one gateway notification.
type PaymentEvent struct {
	Kind                 EventKind
	GatewaySpace         string
	GatewayTransactionID string
	OccurredAt           time.Time
	Payload              EventPayload
}

// RecordedEvent is the message published to RabbitMQ after a ledger entry
// reaches a new status, so downstream services can react without polling.
type RecordedEvent struct {
	EntryID              uuid.UUID         `json:"entry_id"`
	GatewaySpace         string            `json:"gateway_space"`
	GatewayTransactionID string            `json:"gateway_transaction_id"`
	Status               TransactionStatus `json:"status"`
	Amount               int64             `json:"amount"`
	Currency             string            `json:"currency"`
	OwnerRef             uuid.UUID         `json:"owner_ref"`
	OfferRef             uuid.UUID         `json:"offer_ref"`
	Timestamp            time.Time         `json:"timestamp"`
}
