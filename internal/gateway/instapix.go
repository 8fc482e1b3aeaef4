/**
 * @description
 * Normalizer for the instapix bank-transfer / instant-payment gateway.
 * Instapix sends a flat JSON document keyed by txid. Instant payments have no
 * attempt phase from the payer's side, so "pix.initiated" still maps to
 * payment_attempted for a uniform ledger lifecycle.
 */
package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumapay/reconciliation-service/internal/domain"
)

type instapixNotification struct {
	Event      string `json:"event"`
	TxID       string `json:"txid"`
	EndToEndID string `json:"end_to_end_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	OccurredAt string `json:"occurred_at"`
	Payer      struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"payer"`
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
	RejectionCode   string `json:"rejection_code"`
	RejectionDetail string `json:"rejection_detail"`
}

// InstapixNormalizer maps instapix pix lifecycle events into the internal
// vocabulary.
type InstapixNormalizer struct{}

func (InstapixNormalizer) Space() string { return SpaceInstapix }

func (InstapixNormalizer) Normalize(body []byte) (*domain.PaymentEvent, error) {
	var notification instapixNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	var kind domain.EventKind
	switch notification.Event {
	case "pix.initiated":
		kind = domain.EventPaymentAttempted
	case "pix.confirmed":
		kind = domain.EventPaymentSucceeded
	case "pix.rejected":
		kind = domain.EventPaymentFailed
	case "pix.returned":
		kind = domain.EventPaymentRefunded
	default:
		return nil, fmt.Errorf("%w: instapix %q", ErrUnsupportedEvent, notification.Event)
	}

	if strings.TrimSpace(notification.TxID) == "" {
		return nil, fmt.Errorf("%w: missing txid", ErrMalformedNotification)
	}
	ownerRef, err := parseRef("owner_ref", notification.Metadata.OwnerRef)
	if err != nil {
		return nil, err
	}
	offerRef, err := parseRef("offer_ref", notification.Metadata.OfferRef)
	if err != nil {
		return nil, err
	}

	payload := domain.EventPayload{
		Amount:            notification.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(notification.Currency)),
		OwnerRef:          ownerRef,
		OfferRef:          offerRef,
		ExperimentRef:     parseOptionalRef(notification.Metadata.ExperimentRef),
		GatewayCustomerID: strings.TrimSpace(notification.Payer.ID),
		Customer: domain.Customer{
			Name:               strings.TrimSpace(notification.Payer.Name),
			Email:              strings.TrimSpace(notification.Payer.Email),
			Phone:              strings.TrimSpace(notification.Payer.Phone),
			AttributionCookies: notification.Metadata.Cookies,
		},
	}
	for _, item := range notification.Items {
		payload.LineItems = append(payload.LineItems, domain.LineItem{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			IsBump:    item.Bump,
			CatalogID: item.CatalogID,
		})
	}
	if kind == domain.EventPaymentFailed {
		payload.FailureReason = strings.TrimSpace(notification.RejectionCode)
		payload.FailureMessage = strings.TrimSpace(notification.RejectionDetail)
	}

	return &domain.PaymentEvent{
		Kind:                 kind,
		GatewaySpace:         SpaceInstapix,
		GatewayTransactionID: strings.TrimSpace(notification.TxID),
		OccurredAt:           parseEventTime(notification.OccurredAt),
		Payload:              payload,
	}, nil
}
