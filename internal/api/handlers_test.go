package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lumapay/reconciliation-service/internal/app"
	"github.com/lumapay/reconciliation-service/internal/domain"
	"github.com/lumapay/reconciliation-service/internal/gateway"
	"github.com/lumapay/reconciliation-service/internal/store"
)

const testWebhookSecret = "whsec_handler_test"

type handlerRepoStub struct {
	store.Repository

	insertErr error
	inserted  *domain.LedgerEntry
}

func (s *handlerRepoStub) InsertEntryIfAbsent(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	if s.insertErr != nil {
		return false, s.insertErr
	}
	s.inserted = entry
	return true, nil
}

func (s *handlerRepoStub) FindEntry(ctx context.Context, gatewaySpace, gatewayTransactionID string) (*domain.LedgerEntry, error) {
	return nil, store.ErrEntryNotFound
}

func (s *handlerRepoStub) ListIncompleteIntegrationEntries(ctx context.Context, opts store.IncompleteListOptions) ([]domain.LedgerEntry, error) {
	return nil, nil
}

func newTestRouter(repo store.Repository, internalKey string) http.Handler {
	dispatcher := app.NewDispatcher(repo, nil, time.Second)
	service := app.NewService(repo, dispatcher, nil, nil, nil, time.Second)
	handlers := NewWebhookHandlers(
		service,
		map[string]gateway.Verifier{gateway.SpaceCardgate: gateway.NewCardgateVerifier(testWebhookSecret)},
		map[string]gateway.Normalizer{gateway.SpaceCardgate: gateway.CardgateNormalizer{}},
		nil,
		0,
	)
	return ReconciliationRoutes(handlers, internalKey)
}

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(body))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cardgate", bytes.NewBufferString(body))
	req.Header.Set("X-Cardgate-Signature", hex.EncodeToString(mac.Sum(nil)))
	return req
}

func attemptedChargeBody() string {
	return fmt.Sprintf(`{
		"type": "charge.created",
		"data": {
			"id": "ch_http_1",
			"amount": 1500,
			"currency": "USD",
			"metadata": {"owner_ref": %q, "offer_ref": %q}
		}
	}`, uuid.New(), uuid.New())
}

func TestWebhook_InvalidSignatureIsUnauthorized(t *testing.T) {
	router := newTestRouter(&handlerRepoStub{}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/cardgate", bytes.NewBufferString(attemptedChargeBody()))
	req.Header.Set("X-Cardgate-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhook_ValidDeliveryIsApplied(t *testing.T) {
	repo := &handlerRepoStub{}
	router := newTestRouter(repo, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedRequest(t, attemptedChargeBody()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if repo.inserted == nil {
		t.Fatal("expected a ledger insert")
	}
	if repo.inserted.Status != domain.StatusPending {
		t.Fatalf("expected pending entry, got %q", repo.inserted.Status)
	}
}

func TestWebhook_AuthenticUnsupportedEventIsAcknowledged(t *testing.T) {
	repo := &handlerRepoStub{}
	router := newTestRouter(repo, "")

	body := `{"type": "charge.dispute.created", "data": {"id": "ch_d1"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 acknowledgment, got %d", rec.Code)
	}
	if repo.inserted != nil {
		t.Fatal("did not expect any ledger mutation")
	}
}

func TestWebhook_AuthenticMalformedBodyIsAcknowledged(t *testing.T) {
	router := newTestRouter(&handlerRepoStub{}, "")

	body := `{"type": "charge.created", "data": {"id": "ch_x", "metadata": {}}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 acknowledgment for malformed body, got %d", rec.Code)
	}
}

func TestWebhook_StoreFailureAsksGatewayToRetry(t *testing.T) {
	repo := &handlerRepoStub{insertErr: errors.New("connection refused")}
	router := newTestRouter(repo, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedRequest(t, attemptedChargeBody()))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestWebhook_UnknownGatewayIsNotFound(t *testing.T) {
	router := newTestRouter(&handlerRepoStub{}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestReprocess_RequiresInternalKey(t *testing.T) {
	router := newTestRouter(&handlerRepoStub{}, "internal-secret")

	req := httptest.NewRequest(http.MethodPost, "/internal/reprocess", bytes.NewBufferString(`{"dry_run": true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/reprocess", bytes.NewBufferString(`{"dry_run": true}`))
	req.Header.Set("X-Internal-API-Key", "internal-secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestReprocess_RejectsBadTimestamp(t *testing.T) {
	router := newTestRouter(&handlerRepoStub{}, "")

	req := httptest.NewRequest(http.MethodPost, "/internal/reprocess", bytes.NewBufferString(`{"from": "yesterday"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
