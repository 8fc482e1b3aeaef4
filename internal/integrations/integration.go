/**
 * @description
 * This package contains the downstream integrations the dispatcher fans out
 * to after a transaction reaches succeeded. Integrations are best-effort side
 * effects: each reports success or failure independently, and a failure is
 * recorded on the ledger entry for the reprocessing sweep rather than
 * propagated to the webhook sender.
 *
 * An integration is only considered delivered on an explicit 2xx
 * acknowledgment from the receiver. Timeouts, transport errors, and non-2xx
 * responses are all the same failure for idempotency-tracking purposes.
 */
package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lumapay/reconciliation-service/internal/domain"
)

// Integration is one downstream side effect triggered by a successful
// transaction.
type Integration interface {
	Name() string
	// Enabled reports whether the offer has this integration configured.
	Enabled(offer *domain.Offer) bool
	// Send delivers the entry to the integration's endpoint(s). A nil error
	// means the receiver acknowledged the event.
	Send(ctx context.Context, entry *domain.LedgerEntry, offer *domain.Offer) error
}

// CurrencyConverter converts a minor-unit amount between currencies. Used by
// integrations that must report in a single currency.
type CurrencyConverter interface {
	Convert(ctx context.Context, amount int64, fromCurrency, toCurrency string) (int64, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON delivers one JSON document and reports success only on a 2xx
// response. The body is drained so the connection can be reused.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: receiver returned %d", url, resp.StatusCode)
	}
	return nil
}
