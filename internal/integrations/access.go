package integrations

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lumapay/reconciliation-service/internal/domain"
)

// Access notifies the membership system that a buyer should be granted access
// to what they purchased. Single endpoint, bearer-token authenticated.
type Access struct {
	client *http.Client
}

func NewAccess(timeout time.Duration) *Access {
	return &Access{client: newHTTPClient(timeout)}
}

func (a *Access) Name() string { return domain.IntegrationAccess }

func (a *Access) Enabled(offer *domain.Offer) bool {
	return offer.AccessEnabled && strings.TrimSpace(offer.AccessWebhookURL) != ""
}

type accessPayload struct {
	TransactionID string            `json:"transaction_id"`
	GatewaySpace  string            `json:"gateway_space"`
	OfferRef      string            `json:"offer_ref"`
	OwnerRef      string            `json:"owner_ref"`
	CustomerName  string            `json:"customer_name,omitempty"`
	CustomerEmail string            `json:"customer_email"`
	LineItems     []domain.LineItem `json:"line_items,omitempty"`
}

func (a *Access) Send(ctx context.Context, entry *domain.LedgerEntry, offer *domain.Offer) error {
	if strings.TrimSpace(entry.Customer.Email) == "" {
		return errors.New("entry has no customer email to grant access to")
	}

	payload := accessPayload{
		TransactionID: entry.GatewayTransactionID,
		GatewaySpace:  entry.GatewaySpace,
		OfferRef:      entry.OfferRef.String(),
		OwnerRef:      entry.OwnerRef.String(),
		CustomerName:  entry.Customer.Name,
		CustomerEmail: entry.Customer.Email,
		LineItems:     entry.LineItems,
	}

	headers := map[string]string{}
	if offer.AccessBearerToken != "" {
		headers["Authorization"] = "Bearer " + offer.AccessBearerToken
	}
	return postJSON(ctx, a.client, offer.AccessWebhookURL, headers, payload)
}
