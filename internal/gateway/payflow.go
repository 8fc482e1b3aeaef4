/**
 * @description
 * Normalizer for the payflow digital-wallet gateway. Payflow uses a
 * JSON:API-style envelope: the event name at the top level and the resource
 * under data.attributes. Besides payment lifecycle events, payflow also
 * reports merchant capability changes, which map to the
 * account_capability_updated event and never touch the ledger.
 */
package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumapay/reconciliation-service/internal/domain"
)

type payflowEnvelope struct {
	Event     string `json:"event"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		ID         string            `json:"id"`
		Attributes payflowAttributes `json:"attributes"`
	} `json:"data"`
}

type payflowAttributes struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Buyer    struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Phone   string `json:"phone"`
		Country string `json:"country"`
	} `json:"buyer"`
	Device struct {
		IP        string `json:"ip"`
		UserAgent string `json:"user_agent"`
	} `json:"device"`
	Metadata struct {
		OwnerRef      string            `json:"owner_ref"`
		OfferRef      string            `json:"offer_ref"`
		ExperimentRef string            `json:"experiment_ref"`
		Cookies       map[string]string `json:"cookies"`
	} `json:"metadata"`
	Items []struct {
		Name      string  `json:"name"`
		UnitPrice int64   `json:"unit_price"`
		Bump      bool    `json:"bump"`
		CatalogID *string `json:"catalog_id"`
	} `json:"items"`
	DeclineCode   string `json:"decline_code"`
	DeclineDetail string `json:"decline_detail"`
}

// PayflowNormalizer maps payflow payment and capability events into the
// internal vocabulary.
type PayflowNormalizer struct{}

func (PayflowNormalizer) Space() string { return SpacePayflow }

func (PayflowNormalizer) Normalize(body []byte) (*domain.PaymentEvent, error) {
	var envelope payflowEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	if strings.TrimSpace(envelope.Data.ID) == "" {
		return nil, fmt.Errorf("%w: missing resource id", ErrMalformedNotification)
	}

	// Capability updates carry no monetary payload and no ledger mutation;
	// the service logs them and republishes for the account-state consumers.
	if envelope.Event == "merchant.capability.updated" {
		return &domain.PaymentEvent{
			Kind:                 domain.EventAccountCapabilityUpdated,
			GatewaySpace:         SpacePayflow,
			GatewayTransactionID: strings.TrimSpace(envelope.Data.ID),
			OccurredAt:           parseEventTime(envelope.CreatedAt),
		}, nil
	}

	var kind domain.EventKind
	switch envelope.Event {
	case "payment.intent":
		kind = domain.EventPaymentAttempted
	case "payment.approved":
		kind = domain.EventPaymentSucceeded
	case "payment.declined":
		kind = domain.EventPaymentFailed
	case "payment.reversed":
		kind = domain.EventPaymentRefunded
	default:
		return nil, fmt.Errorf("%w: payflow %q", ErrUnsupportedEvent, envelope.Event)
	}

	attrs := envelope.Data.Attributes
	ownerRef, err := parseRef("owner_ref", attrs.Metadata.OwnerRef)
	if err != nil {
		return nil, err
	}
	offerRef, err := parseRef("offer_ref", attrs.Metadata.OfferRef)
	if err != nil {
		return nil, err
	}

	payload := domain.EventPayload{
		Amount:            attrs.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(attrs.Currency)),
		OwnerRef:          ownerRef,
		OfferRef:          offerRef,
		ExperimentRef:     parseOptionalRef(attrs.Metadata.ExperimentRef),
		GatewayCustomerID: strings.TrimSpace(attrs.Buyer.ID),
		Customer: domain.Customer{
			Name:               strings.TrimSpace(attrs.Buyer.Name),
			Email:              strings.TrimSpace(attrs.Buyer.Email),
			Phone:              strings.TrimSpace(attrs.Buyer.Phone),
			IPAddress:          strings.TrimSpace(attrs.Device.IP),
			UserAgent:          attrs.Device.UserAgent,
			Country:            strings.TrimSpace(attrs.Buyer.Country),
			AttributionCookies: attrs.Metadata.Cookies,
		},
	}
	for _, item := range attrs.Items {
		payload.LineItems = append(payload.LineItems, domain.LineItem{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			IsBump:    item.Bump,
			CatalogID: item.CatalogID,
		})
	}
	if kind == domain.EventPaymentFailed {
		payload.FailureReason = strings.TrimSpace(attrs.DeclineCode)
		payload.FailureMessage = strings.TrimSpace(attrs.DeclineDetail)
	}

	return &domain.PaymentEvent{
		Kind:                 kind,
		GatewaySpace:         SpacePayflow,
		GatewayTransactionID: strings.TrimSpace(envelope.Data.ID),
		OccurredAt:           parseEventTime(envelope.CreatedAt),
		Payload:              payload,
	}, nil
}
