/**
 * @description
 * Normalizer for the cardgate card-processing gateway. Cardgate posts one
 * JSON envelope per charge lifecycle event; the merchant-supplied metadata
 * block carries the owner/offer references this service needs to attribute
 * the transaction.
 */
package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumapay/reconciliation-service/internal/domain"
)

type cardgateEnvelope struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	CreatedAt string       `json:"created_at"`
	Data      cardgateData `json:"data"`
}

type cardgateData struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Customer struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	Card struct {
		Country string `json:"country"`
	} `json:"card"`
	Client struct {
		IP        string `json:"ip"`
		UserAgent string `json:"user_agent"`
	} `json:"client"`
	BillingAddress struct {
		City    string `json:"city"`
		State   string `json:"state"`
		ZipCode string `json:"zip_code"`
		Country string `json:"country"`
	} `json:"billing_address"`
	Metadata cardgateMetadata `json:"metadata"`
	Items    []struct {
		Name      string  `json:"name"`
		UnitPrice int64   `json:"unit_price"`
		Bump      bool    `json:"bump"`
		CatalogID *string `json:"catalog_id"`
	} `json:"items"`
	Failure struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"failure"`
}

type cardgateMetadata struct {
	OwnerRef      string            `json:"owner_ref"`
	OfferRef      string            `json:"offer_ref"`
	ExperimentRef string            `json:"experiment_ref"`
	Cookies       map[string]string `json:"cookies"`
}

// CardgateNormalizer maps cardgate charge events into the internal vocabulary.
type CardgateNormalizer struct{}

func (CardgateNormalizer) Space() string { return SpaceCardgate }

func (CardgateNormalizer) Normalize(body []byte) (*domain.PaymentEvent, error) {
	var envelope cardgateEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	var kind domain.EventKind
	switch envelope.Type {
	case "charge.created":
		kind = domain.EventPaymentAttempted
	case "charge.paid":
		kind = domain.EventPaymentSucceeded
	case "charge.payment_failed":
		kind = domain.EventPaymentFailed
	case "charge.refunded":
		kind = domain.EventPaymentRefunded
	default:
		return nil, fmt.Errorf("%w: cardgate %q", ErrUnsupportedEvent, envelope.Type)
	}

	data := envelope.Data
	if strings.TrimSpace(data.ID) == "" {
		return nil, fmt.Errorf("%w: missing charge id", ErrMalformedNotification)
	}
	ownerRef, err := parseRef("owner_ref", data.Metadata.OwnerRef)
	if err != nil {
		return nil, err
	}
	offerRef, err := parseRef("offer_ref", data.Metadata.OfferRef)
	if err != nil {
		return nil, err
	}

	// Card metadata country wins over the billing address; both are
	// best-effort attribution fields.
	country := strings.TrimSpace(data.Card.Country)
	if country == "" {
		country = strings.TrimSpace(data.BillingAddress.Country)
	}

	payload := domain.EventPayload{
		Amount:            data.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(data.Currency)),
		OwnerRef:          ownerRef,
		OfferRef:          offerRef,
		ExperimentRef:     parseOptionalRef(data.Metadata.ExperimentRef),
		GatewayCustomerID: strings.TrimSpace(data.Customer.ID),
		Customer: domain.Customer{
			Name:               strings.TrimSpace(data.Customer.Name),
			Email:              strings.TrimSpace(data.Customer.Email),
			Phone:              strings.TrimSpace(data.Customer.Phone),
			IPAddress:          strings.TrimSpace(data.Client.IP),
			UserAgent:          data.Client.UserAgent,
			Country:            country,
			City:               strings.TrimSpace(data.BillingAddress.City),
			State:              strings.TrimSpace(data.BillingAddress.State),
			ZipCode:            strings.TrimSpace(data.BillingAddress.ZipCode),
			AttributionCookies: data.Metadata.Cookies,
		},
	}
	for _, item := range data.Items {
		payload.LineItems = append(payload.LineItems, domain.LineItem{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			IsBump:    item.Bump,
			CatalogID: item.CatalogID,
		})
	}
	if kind == domain.EventPaymentFailed {
		payload.FailureReason = strings.TrimSpace(data.Failure.Code)
		payload.FailureMessage = strings.TrimSpace(data.Failure.Message)
	}

	return &domain.PaymentEvent{
		Kind:                 kind,
		GatewaySpace:         SpaceCardgate,
		GatewayTransactionID: strings.TrimSpace(data.ID),
		OccurredAt:           parseEventTime(envelope.CreatedAt),
		Payload:              payload,
	}, nil
}
