package integrations

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lumapay/reconciliation-service/internal/domain"
)

// AdAttribution reports conversions to the offer's advertising endpoints.
// Offers can configure several independent endpoints; the integration is a
// sub-fan-out that succeeds when at least one endpoint accepts the event.
type AdAttribution struct {
	client    *http.Client
	converter CurrencyConverter
}

func NewAdAttribution(converter CurrencyConverter, timeout time.Duration) *AdAttribution {
	return &AdAttribution{
		client:    newHTTPClient(timeout),
		converter: converter,
	}
}

func (a *AdAttribution) Name() string { return domain.IntegrationAdAttribution }

func (a *AdAttribution) Enabled(offer *domain.Offer) bool {
	return offer.AdAttributionEnabled && len(offer.AdAttributionEndpoints) > 0
}

type conversionPayload struct {
	EventName     string            `json:"event_name"`
	TransactionID string            `json:"transaction_id"`
	Value         int64             `json:"value"` // in minor currency units
	Currency      string            `json:"currency"`
	Email         string            `json:"email,omitempty"`
	Phone         string            `json:"phone,omitempty"`
	ClientIP      string            `json:"client_ip,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Country       string            `json:"country,omitempty"`
	Cookies       map[string]string `json:"cookies,omitempty"`
	OfferRef      string            `json:"offer_ref"`
}

func (a *AdAttribution) Send(ctx context.Context, entry *domain.LedgerEntry, offer *domain.Offer) error {
	endpoints := offer.AdAttributionEndpoints
	if len(endpoints) == 0 {
		return errors.New("no ad attribution endpoints configured")
	}

	var wg sync.WaitGroup
	results := make([]error, len(endpoints))

	for i, endpoint := range endpoints {
		wg.Add(1)
		go func(i int, endpoint domain.AdAttributionEndpoint) {
			defer wg.Done()
			results[i] = a.sendOne(ctx, entry, offer, endpoint)
		}(i, endpoint)
	}
	wg.Wait()

	accepted := 0
	for i, err := range results {
		if err == nil {
			accepted++
			continue
		}
		log.Printf("level=warn component=ad_attribution msg=\"endpoint delivery failed\" entry_id=%s url=%s err=%v", entry.ID, endpoints[i].URL, err)
	}
	if accepted == 0 {
		return errors.New("no ad attribution endpoint accepted the conversion")
	}
	return nil
}

func (a *AdAttribution) sendOne(ctx context.Context, entry *domain.LedgerEntry, offer *domain.Offer, endpoint domain.AdAttributionEndpoint) error {
	value := entry.Amount
	currency := entry.Currency

	reporting := strings.ToUpper(strings.TrimSpace(endpoint.ReportingCurrency))
	if reporting != "" && reporting != currency && a.converter != nil {
		converted, err := a.converter.Convert(ctx, entry.Amount, currency, reporting)
		if err != nil {
			// The reported value is best-effort; fall back to the source
			// currency rather than failing the conversion event.
			log.Printf("level=warn component=ad_attribution msg=\"currency conversion failed; reporting source currency\" entry_id=%s from=%s to=%s err=%v", entry.ID, currency, reporting, err)
		} else {
			value = converted
			currency = reporting
		}
	}

	payload := conversionPayload{
		EventName:     "purchase",
		TransactionID: entry.GatewayTransactionID,
		Value:         value,
		Currency:      currency,
		Email:         entry.Customer.Email,
		Phone:         entry.Customer.Phone,
		ClientIP:      entry.Customer.IPAddress,
		UserAgent:     entry.Customer.UserAgent,
		Country:       entry.Customer.Country,
		Cookies:       entry.Customer.AttributionCookies,
		OfferRef:      entry.OfferRef.String(),
	}

	headers := map[string]string{}
	if endpoint.APIKey != "" {
		headers["X-Api-Key"] = endpoint.APIKey
	}
	return postJSON(ctx, a.client, endpoint.URL, headers, payload)
}
