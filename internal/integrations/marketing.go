package integrations

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/lumapay/reconciliation-service/internal/domain"
)

// Marketing posts the purchase to the offer's marketing-attribution webhook
// URLs. Succeeds when at least one URL accepts the event.
type Marketing struct {
	client *http.Client
}

func NewMarketing(timeout time.Duration) *Marketing {
	return &Marketing{client: newHTTPClient(timeout)}
}

func (m *Marketing) Name() string { return domain.IntegrationMarketing }

func (m *Marketing) Enabled(offer *domain.Offer) bool {
	return offer.MarketingEnabled && len(offer.MarketingWebhookURLs) > 0
}

type marketingPayload struct {
	Event         string            `json:"event"`
	TransactionID string            `json:"transaction_id"`
	GatewaySpace  string            `json:"gateway_space"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	OfferRef      string            `json:"offer_ref"`
	ExperimentRef *string           `json:"experiment_ref,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Cookies       map[string]string `json:"cookies,omitempty"`
}

func (m *Marketing) Send(ctx context.Context, entry *domain.LedgerEntry, offer *domain.Offer) error {
	if len(offer.MarketingWebhookURLs) == 0 {
		return errors.New("no marketing webhook urls configured")
	}

	var experimentRef *string
	if entry.ExperimentRef != nil {
		ref := entry.ExperimentRef.String()
		experimentRef = &ref
	}

	payload := marketingPayload{
		Event:         "purchase.completed",
		TransactionID: entry.GatewayTransactionID,
		GatewaySpace:  entry.GatewaySpace,
		Amount:        entry.Amount,
		Currency:      entry.Currency,
		OfferRef:      entry.OfferRef.String(),
		ExperimentRef: experimentRef,
		CustomerEmail: entry.Customer.Email,
		Cookies:       entry.Customer.AttributionCookies,
	}

	accepted := 0
	for _, url := range offer.MarketingWebhookURLs {
		if err := postJSON(ctx, m.client, url, nil, payload); err != nil {
			log.Printf("level=warn component=marketing msg=\"webhook delivery failed\" entry_id=%s url=%s err=%v", entry.ID, url, err)
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return errors.New("no marketing webhook accepted the event")
	}
	return nil
}
