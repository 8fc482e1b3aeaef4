/**
 * @description
 * This file defines the core domain models for the reconciliation-service.
 * The central entity is the LedgerEntry: the canonical, idempotently-applied
 * record of one purchase attempt reported by an external payment gateway.
 *
 * @notes
 * - Amounts are stored as `int64` in minor currency units (cents, kobo,
 *   centavos) to avoid floating-point inaccuracies with financial data.
 * - A ledger entry is keyed by (gateway_space, gateway_transaction_id); the
 *   gateway transaction id is the idempotency key for duplicate deliveries.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionStatus enumerates the lifecycle states of a ledger entry.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusSucceeded TransactionStatus = "succeeded"
	StatusFailed    TransactionStatus = "failed"
	StatusRefunded  TransactionStatus = "refunded"
	StatusAbandoned TransactionStatus = "abandoned"
)

// IntegrationState tracks the delivery outcome of one downstream integration
// for one ledger entry. An integration disabled for the entry's offer is
// recorded as skipped so the reprocessing sweep never re-drives it.
type IntegrationState string

const (
	IntegrationNotAttempted IntegrationState = "not_attempted"
	IntegrationSucceeded    IntegrationState = "succeeded"
	IntegrationFailed       IntegrationState = "failed"
	IntegrationSkipped      IntegrationState = "skipped"
)

// Integration names, used as dispatcher keys and in sweep summaries.
const (
	IntegrationAdAttribution = "ad_attribution"
	IntegrationAccess        = "access"
	IntegrationMarketing     = "marketing"
)

// Done reports whether the state needs no further delivery attempts.
func (s IntegrationState) Done() bool {
	return s == IntegrationSucceeded || s == IntegrationSkipped
}

// IntegrationOutcomes holds one delivery state per configured integration.
type IntegrationOutcomes struct {
	AdAttribution IntegrationState `json:"ad_attribution"`
	Access        IntegrationState `json:"access"`
	Marketing     IntegrationState `json:"marketing"`
}

// NewIntegrationOutcomes returns outcomes with every integration not attempted.
func NewIntegrationOutcomes() IntegrationOutcomes {
	return IntegrationOutcomes{
		AdAttribution: IntegrationNotAttempted,
		Access:        IntegrationNotAttempted,
		Marketing:     IntegrationNotAttempted,
	}
}

// Get returns the state for a named integration.
func (o IntegrationOutcomes) Get(name string) IntegrationState {
	switch name {
	case IntegrationAdAttribution:
		return o.AdAttribution
	case IntegrationAccess:
		return o.Access
	case IntegrationMarketing:
		return o.Marketing
	default:
		return IntegrationNotAttempted
	}
}

// Set stores the state for a named integration.
func (o *IntegrationOutcomes) Set(name string, state IntegrationState) {
	switch name {
	case IntegrationAdAttribution:
		o.AdAttribution = state
	case IntegrationAccess:
		o.Access = state
	case IntegrationMarketing:
		o.Marketing = state
	}
}

// Incomplete reports whether at least one integration still needs delivery.
func (o IntegrationOutcomes) Incomplete() bool {
	return !o.AdAttribution.Done() || !o.Access.Done() || !o.Marketing.Done()
}

// Customer is the buyer snapshot captured at the time of the payment attempt.
// It is immutable once the entry reaches a terminal state.
type Customer struct {
	Name               string            `json:"name,omitempty"`
	Email              string            `json:"email,omitempty"`
	Phone              string            `json:"phone,omitempty"`
	IPAddress          string            `json:"ip_address,omitempty"`
	UserAgent          string            `json:"user_agent,omitempty"`
	Country            string            `json:"country,omitempty"`
	City               string            `json:"city,omitempty"`
	State              string            `json:"state,omitempty"`
	ZipCode            string            `json:"zip_code,omitempty"`
	AttributionCookies map[string]string `json:"attribution_cookies,omitempty"`
}

// LineItem is one purchased item within a ledger entry. The list is fixed once
// set at creation.
type LineItem struct {
	Name      string  `json:"name"`
	UnitPrice int64   `json:"unit_price"` // in minor currency units
	IsBump    bool    `json:"is_bump"`
	CatalogID *string `json:"catalog_id,omitempty"`
}

// LedgerEntry is the canonical record of one purchase attempt.
// This struct maps directly to the `ledger_entries` table in the database.
type LedgerEntry struct {
	ID                       uuid.UUID           `json:"id"`
	GatewaySpace             string              `json:"gateway_space"`
	GatewayTransactionID     string              `json:"gateway_transaction_id"`
	Status                   TransactionStatus   `json:"status"`
	Amount                   int64               `json:"amount"` // in minor currency units
	Currency                 string              `json:"currency"`
	OwnerRef                 uuid.UUID           `json:"owner_ref"`
	OfferRef                 uuid.UUID           `json:"offer_ref"`
	ExperimentRef            *uuid.UUID          `json:"experiment_ref,omitempty"`
	Customer                 Customer            `json:"customer"`
	LineItems                []LineItem          `json:"line_items"`
	FailureReason            *string             `json:"failure_reason,omitempty"`
	FailureMessage           *string             `json:"failure_message,omitempty"`
	Integrations             IntegrationOutcomes `json:"integrations"`
	LastIntegrationAttemptAt *time.Time          `json:"last_integration_attempt_at,omitempty"`
	CreatedAt                time.Time           `json:"created_at"`
	UpdatedAt                time.Time           `json:"updated_at"`
}

// AdAttributionEndpoint is one independently configured conversion-reporting
// destination for an offer.
type AdAttributionEndpoint struct {
	URL               string `json:"url"`
	APIKey            string `json:"api_key,omitempty"`
	ReportingCurrency string `json:"reporting_currency,omitempty"`
}

// Offer carries the per-offer downstream integration configuration the
// dispatcher needs. The CRUD surface that edits offers lives elsewhere; this
// service only reads them.
type Offer struct {
	ID                     uuid.UUID               `json:"id"`
	OwnerRef               uuid.UUID               `json:"owner_ref"`
	Name                   string                  `json:"name"`
	AdAttributionEnabled   bool                    `json:"ad_attribution_enabled"`
	AdAttributionEndpoints []AdAttributionEndpoint `json:"ad_attribution_endpoints,omitempty"`
	AccessEnabled          bool                    `json:"access_enabled"`
	AccessWebhookURL       string                  `json:"access_webhook_url,omitempty"`
	AccessBearerToken      string                  `json:"access_bearer_token,omitempty"`
	MarketingEnabled       bool                    `json:"marketing_enabled"`
	MarketingWebhookURLs   []string                `json:"marketing_webhook_urls,omitempty"`
	CreatedAt              time.Time               `json:"created_at"`
	UpdatedAt              time.Time               `json:"updated_at"`
}
