/**
 * @description
 * This file contains the HTTP handlers for the reconciliation-service's API
 * endpoints. Handlers parse incoming webhook deliveries, run signature
 * verification and rate limiting, and hand the normalized event to the
 * application service. They act as the bridge between the web layer and the
 * business logic layer.
 *
 * Response codes follow what payment gateways expect from a webhook receiver:
 *   - 200 for anything the gateway must not retry, including malformed or
 *     unrecognized-but-authentic notifications (logged for operators),
 *   - 401 for signature failures,
 *   - 429 with Retry-After when the sender exceeds its rate limit,
 *   - 503 for transient processing faults the gateway should retry.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/gateway: For service logic and gateway adapters.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumapay/reconciliation-service/internal/app"
	"github.com/lumapay/reconciliation-service/internal/gateway"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MiB

// WebhookHandlers holds the application service and gateway adapters the
// handlers use.
type WebhookHandlers struct {
	service            *app.Service
	verifiers          map[string]gateway.Verifier
	normalizers        map[string]gateway.Normalizer
	rateLimiter        *app.RedisWebhookRateLimiter
	rateLimitPerMinute int
}

// NewWebhookHandlers creates a new instance of WebhookHandlers. The adapter
// maps are keyed by gateway space; rateLimiter may be nil.
func NewWebhookHandlers(
	service *app.Service,
	verifiers map[string]gateway.Verifier,
	normalizers map[string]gateway.Normalizer,
	rateLimiter *app.RedisWebhookRateLimiter,
	rateLimitPerMinute int,
) *WebhookHandlers {
	return &WebhookHandlers{
		service:            service,
		verifiers:          verifiers,
		normalizers:        normalizers,
		rateLimiter:        rateLimiter,
		rateLimitPerMinute: rateLimitPerMinute,
	}
}

// GatewayWebhookHandler receives one webhook delivery for the gateway named
// in the URL, verifies its signature against the raw body, normalizes it and
// applies it to the ledger.
func (h *WebhookHandlers) GatewayWebhookHandler(w http.ResponseWriter, r *http.Request) {
	space := strings.ToLower(chi.URLParam(r, "gateway"))
	verifier, okV := h.verifiers[space]
	normalizer, okN := h.normalizers[space]
	if !okV || !okN {
		h.writeError(w, http.StatusNotFound, "Unknown gateway")
		return
	}

	if retryAfter, limited := h.consumeRateLimit(r, space); limited {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	if err := verifier.Verify(body, r.Header); err != nil {
		log.Printf("level=warn component=api endpoint=webhook gateway=%s outcome=signature_rejected err=%v", space, err)
		h.writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	event, err := normalizer.Normalize(body)
	if err != nil {
		// The delivery is authentic, so a retry would only replay the same
		// bytes. Acknowledge and leave a trace for operators.
		if errors.Is(err, gateway.ErrMalformedNotification) || errors.Is(err, gateway.ErrUnsupportedEvent) {
			log.Printf("level=warn component=api endpoint=webhook gateway=%s outcome=acknowledged_unprocessable err=%v", space, err)
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Printf("level=error component=api endpoint=webhook gateway=%s outcome=normalize_failed err=%v", space, err)
		h.writeError(w, http.StatusServiceUnavailable, "Could not process notification")
		return
	}

	result, err := h.service.ProcessNotification(r.Context(), event)
	if err != nil {
		log.Printf("level=error component=api endpoint=webhook gateway=%s tx_id=%s outcome=failed err=%v", space, event.GatewayTransactionID, err)
		h.writeError(w, http.StatusServiceUnavailable, "Could not process notification")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": describeOutcome(result.Outcome)})
}

func describeOutcome(outcome app.ApplyOutcome) string {
	switch outcome {
	case app.OutcomeApplied:
		return "applied"
	case app.OutcomeDuplicate:
		return "duplicate"
	case app.OutcomeRejected:
		return "ignored"
	default:
		return "acknowledged"
	}
}

func (h *WebhookHandlers) consumeRateLimit(r *http.Request, space string) (retryAfterSeconds int, limited bool) {
	if h.rateLimiter == nil || h.rateLimitPerMinute <= 0 {
		return 0, false
	}
	count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), "webhook", space, h.rateLimitPerMinute, time.Minute)
	if err != nil {
		// Redis unavailability must not block payment notifications.
		log.Printf("level=warn component=api endpoint=webhook gateway=%s msg=\"rate limit check failed, allowing request\" err=%v", space, err)
		return 0, false
	}
	if count > h.rateLimitPerMinute {
		return retryAfter, true
	}
	return 0, false
}

type reprocessRequest struct {
	DryRun bool   `json:"dry_run"`
	Limit  int    `json:"limit"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

// ReprocessHandler triggers one reprocessing sweep over succeeded entries
// with undelivered integrations. Guarded by the internal API key.
func (h *WebhookHandlers) ReprocessHandler(w http.ResponseWriter, r *http.Request) {
	var payload reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	params := app.SweepParams{DryRun: payload.DryRun, Limit: payload.Limit}
	if payload.From != "" {
		from, err := time.Parse(time.RFC3339, payload.From)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp, expected RFC3339")
			return
		}
		params.CreatedFrom = &from
	}
	if payload.To != "" {
		to, err := time.Parse(time.RFC3339, payload.To)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp, expected RFC3339")
			return
		}
		params.CreatedTo = &to
	}

	summary, err := h.service.ReprocessIncompleteIntegrations(r.Context(), params)
	if err != nil {
		log.Printf("level=error component=api endpoint=reprocess outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not run reprocessing sweep.")
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// writeJSON is a helper for writing JSON responses.
func (h *WebhookHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *WebhookHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
