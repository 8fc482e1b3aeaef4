/**
 * @description
 * This file contains the core application service of the reconciliation
 * engine: the idempotent apply of normalized gateway events onto the
 * transaction ledger, and the hand-off to the integration dispatcher once an
 * entry reaches succeeded.
 *
 * Duplicate and out-of-order deliveries are business no-ops here, never
 * processing faults: the state machine accepts repeats silently and rejects
 * backward transitions with a warning log. Only ledger-store failures
 * propagate as errors, which the API layer maps to a retryable response.
 *
 * @dependencies
 * - internal/domain, internal/store: domain models and ledger access.
 * - pkg/customerclient: backfill of missing buyer details on fallback creation.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lumapay/reconciliation-service/internal/domain"
	"github.com/lumapay/reconciliation-service/internal/store"
	"github.com/lumapay/reconciliation-service/pkg/customerclient"
)

// Publisher is the subset of the RabbitMQ producer the service uses. A nil
// publisher disables event publishing.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// CustomerDirectory looks up buyer details by the gateway's own customer
// identifier. Used only to backfill missing name/email when the notification
// itself omits them.
type CustomerDirectory interface {
	GetCustomerDetail(ctx context.Context, gatewaySpace, gatewayCustomerID string) (*customerclient.CustomerDetail, error)
}

// ApplyOutcome classifies what applying one event did to the ledger.
type ApplyOutcome int

const (
	// OutcomeApplied means the event created the entry or moved its status.
	OutcomeApplied ApplyOutcome = iota
	// OutcomeDuplicate means the event was already reflected; the entry is
	// returned unchanged.
	OutcomeDuplicate
	// OutcomeRejected means the event asked for a backward or unknown
	// transition and was ignored.
	OutcomeRejected
	// OutcomeNoLedger means the event kind never touches the ledger.
	OutcomeNoLedger
)

// ProcessResult reports what one notification did.
type ProcessResult struct {
	Outcome ApplyOutcome
	Entry   *domain.LedgerEntry
}

const recordedEventsExchange = "payment_events"

// Service orchestrates notification processing: bounded admission, idempotent
// ledger apply, async integration dispatch, and post-commit event publishing.
type Service struct {
	repo            store.Repository
	dispatcher      *Dispatcher
	limiter         *PermitPool
	customers       CustomerDirectory
	producer        Publisher
	dispatchTimeout time.Duration

	dispatchWG sync.WaitGroup
}

// NewService creates the application service. customers and producer may be
// nil; the corresponding behavior degrades to disabled.
func NewService(
	repo store.Repository,
	dispatcher *Dispatcher,
	limiter *PermitPool,
	customers CustomerDirectory,
	producer Publisher,
	dispatchTimeout time.Duration,
) *Service {
	if dispatchTimeout <= 0 {
		dispatchTimeout = 60 * time.Second
	}
	return &Service{
		repo:            repo,
		dispatcher:      dispatcher,
		limiter:         limiter,
		customers:       customers,
		producer:        producer,
		dispatchTimeout: dispatchTimeout,
	}
}

// ProcessNotification admits the event through the permit pool, applies it to
// the ledger, and spawns integration dispatch in the background when the
// entry is succeeded with undelivered integrations. The HTTP acknowledgment
// to the gateway therefore only waits on the ledger write, never on
// downstream endpoints; a crash between the two is recovered by the
// reprocessing sweep.
func (s *Service) ProcessNotification(ctx context.Context, event *domain.PaymentEvent) (*ProcessResult, error) {
	var result *ProcessResult

	run := func() error {
		var err error
		result, err = s.applyEvent(ctx, event)
		return err
	}

	if s.limiter != nil {
		if err := s.limiter.Run(ctx, run); err != nil {
			return nil, err
		}
	} else if err := run(); err != nil {
		return nil, err
	}

	if result.Entry != nil &&
		result.Outcome != OutcomeRejected &&
		result.Entry.Status == domain.StatusSucceeded &&
		result.Entry.Integrations.Incomplete() {
		s.spawnDispatch(result.Entry)
	}

	return result, nil
}

func (s *Service) applyEvent(ctx context.Context, event *domain.PaymentEvent) (*ProcessResult, error) {
	switch event.Kind {
	case domain.EventPaymentAttempted:
		return s.applyAttempted(ctx, event)
	case domain.EventPaymentSucceeded:
		return s.applySucceeded(ctx, event)
	case domain.EventPaymentFailed:
		return s.applyFailed(ctx, event)
	case domain.EventPaymentRefunded:
		return s.applyRefunded(ctx, event)
	case domain.EventAccountCapabilityUpdated:
		// Capability changes never touch the ledger; republish for the
		// account-state consumers and acknowledge.
		s.publish(ctx, "account.capability.updated", map[string]string{
			"gateway_space": event.GatewaySpace,
			"resource_id":   event.GatewayTransactionID,
		})
		return &ProcessResult{Outcome: OutcomeNoLedger}, nil
	default:
		log.Printf("level=warn component=service msg=\"unknown event kind dropped\" kind=%s gateway=%s tx_id=%s", event.Kind, event.GatewaySpace, event.GatewayTransactionID)
		return &ProcessResult{Outcome: OutcomeNoLedger}, nil
	}
}

func (s *Service) applyAttempted(ctx context.Context, event *domain.PaymentEvent) (*ProcessResult, error) {
	entry := s.newEntryFromEvent(ctx, event, domain.StatusPending)
	created, err := s.repo.InsertEntryIfAbsent(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("insert pending entry: %w", err)
	}
	if created {
		log.Printf("level=info component=service msg=\"entry created\" gateway=%s tx_id=%s status=pending", event.GatewaySpace, event.GatewayTransactionID)
		return &ProcessResult{Outcome: OutcomeApplied, Entry: entry}, nil
	}

	// The attempt notification lost the race (or was replayed) against a
	// later lifecycle event. The existing entry wins; a terminal entry is
	// never reverted to pending.
	existing, err := s.repo.FindEntry(ctx, event.GatewaySpace, event.GatewayTransactionID)
	if err != nil {
		return nil, fmt.Errorf("lookup entry after duplicate attempt: %w", err)
	}
	log.Printf("level=info component=service msg=\"duplicate attempt ignored\" gateway=%s tx_id=%s status=%s", event.GatewaySpace, event.GatewayTransactionID, existing.Status)
	return &ProcessResult{Outcome: OutcomeDuplicate, Entry: existing}, nil
}

func (s *Service) applySucceeded(ctx context.Context, event *domain.PaymentEvent) (*ProcessResult, error) {
	updated, applied, err := s.repo.TransitionStatus(ctx, event.GatewaySpace, event.GatewayTransactionID,
		[]domain.TransactionStatus{domain.StatusPending}, domain.StatusSucceeded, store.TransitionParams{})
	if err != nil {
		return nil, fmt.Errorf("transition to succeeded: %w", err)
	}
	if applied {
		log.Printf("level=info component=service msg=\"entry succeeded\" gateway=%s tx_id=%s", event.GatewaySpace, event.GatewayTransactionID)
		s.publishRecorded(ctx, updated)
		return &ProcessResult{Outcome: OutcomeApplied, Entry: updated}, nil
	}

	existing, err := s.repo.FindEntry(ctx, event.GatewaySpace, event.GatewayTransactionID)
	if err == nil {
		switch existing.Status {
		case domain.StatusSucceeded, domain.StatusRefunded:
			// Repeat delivery; accepted, entry unchanged. Missing
			// integrations are re-driven by the caller.
			return &ProcessResult{Outcome: OutcomeDuplicate, Entry: existing}, nil
		default:
			log.Printf("level=warn component=service msg=\"success event rejected for non-transitionable entry\" gateway=%s tx_id=%s status=%s", event.GatewaySpace, event.GatewayTransactionID, existing.Status)
			return &ProcessResult{Outcome: OutcomeRejected, Entry: existing}, nil
		}
	}
	if !errors.Is(err, store.ErrEntryNotFound) {
		return nil, fmt.Errorf("lookup entry for success event: %w", err)
	}

	// Fallback creation: no prior attempt notification ever arrived, so the
	// full record is reconstructed from this notification alone.
	entry := s.newEntryFromEvent(ctx, event, domain.StatusSucceeded)
	created, err := s.repo.InsertEntryIfAbsent(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("fallback-create succeeded entry: %w", err)
	}
	if created {
		log.Printf("level=info component=service msg=\"entry fallback-created as succeeded\" gateway=%s tx_id=%s", event.GatewaySpace, event.GatewayTransactionID)
		s.publishRecorded(ctx, entry)
		return &ProcessResult{Outcome: OutcomeApplied, Entry: entry}, nil
	}

	// A concurrent delivery inserted the row between the transition attempt
	// and the insert. One more CAS pass settles it.
	updated, applied, err = s.repo.TransitionStatus(ctx, event.GatewaySpace, event.GatewayTransactionID,
		[]domain.TransactionStatus{domain.StatusPending}, domain.StatusSucceeded, store.TransitionParams{})
	if err != nil {
		return nil, fmt.Errorf("retry transition to succeeded: %w", err)
	}
	if applied {
		s.publishRecorded(ctx, updated)
		return &ProcessResult{Outcome: OutcomeApplied, Entry: updated}, nil
	}
	existing, err = s.repo.FindEntry(ctx, event.GatewaySpace, event.GatewayTransactionID)
	if err != nil {
		return nil, fmt.Errorf("lookup entry after racing success event: %w", err)
	}
	return &ProcessResult{Outcome: OutcomeDuplicate, Entry: existing}, nil
}

func (s *Service) applyFailed(ctx context.Context, event *domain.PaymentEvent) (*ProcessResult, error) {
	params := store.TransitionParams{
		FailureReason:  optionalString(event.Payload.FailureReason),
		FailureMessage: optionalString(event.Payload.FailureMessage),
	}

	updated, applied, err := s.repo.TransitionStatus(ctx, event.GatewaySpace, event.GatewayTransactionID,
		[]domain.TransactionStatus{domain.StatusPending}, domain.StatusFailed, params)
	if err != nil {
		return nil, fmt.Errorf("transition to failed: %w", err)
	}
	if applied {
		log.Printf("level=info component=service msg=\"entry failed\" gateway=%s tx_id=%s reason=%q", event.GatewaySpace, event.GatewayTransactionID, event.Payload.FailureReason)
		s.publishRecorded(ctx, updated)
		return &ProcessResult{Outcome: OutcomeApplied, Entry: updated}, nil
	}

	existing, err := s.repo.FindEntry(ctx, event.GatewaySpace, event.GatewayTransactionID)
	if err == nil {
		if existing.Status == domain.StatusFailed {
			return &ProcessResult{Outcome: OutcomeDuplicate, Entry: existing}, nil
		}
		// A failure notification racing or replayed after success never
		// reverses a succeeded entry.
		log.Printf("level=warn component=service msg=\"failure event rejected for non-pending entry\" gateway=%s tx_id=%s status=%s", event.GatewaySpace, event.GatewayTransactionID, existing.Status)
		return &ProcessResult{Outcome: OutcomeRejected, Entry: existing}, nil
	}
	if !errors.Is(err, store.ErrEntryNotFound) {
		return nil, fmt.Errorf("lookup entry for failure event: %w", err)
	}

	entry := s.newEntryFromEvent(ctx, event, domain.StatusFailed)
	entry.FailureReason = params.FailureReason
	entry.FailureMessage = params.FailureMessage
	created, err := s.repo.InsertEntryIfAbsent(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("fallback-create failed entry: %w", err)
	}
	if !created {
		existing, err := s.repo.FindEntry(ctx, event.GatewaySpace, event.GatewayTransactionID)
		if err != nil {
			return nil, fmt.Errorf("lookup entry after racing failure event: %w", err)
		}
		return &ProcessResult{Outcome: OutcomeDuplicate, Entry: existing}, nil
	}
	log.Printf("level=info component=service msg=\"entry fallback-created as failed\" gateway=%s tx_id=%s", event.GatewaySpace, event.GatewayTransactionID)
	s.publishRecorded(ctx, entry)
	return &ProcessResult{Outcome: OutcomeApplied, Entry: entry}, nil
}

func (s *Service) applyRefunded(ctx context.Context, event *domain.PaymentEvent) (*ProcessResult, error) {
	updated, applied, err := s.repo.TransitionStatus(ctx, event.GatewaySpace, event.GatewayTransactionID,
		[]domain.TransactionStatus{domain.StatusSucceeded}, domain.StatusRefunded, store.TransitionParams{})
	if err != nil {
		return nil, fmt.Errorf("transition to refunded: %w", err)
	}
	if applied {
		log.Printf("level=info component=service msg=\"entry refunded\" gateway=%s tx_id=%s", event.GatewaySpace, event.GatewayTransactionID)
		s.publishRecorded(ctx, updated)
		return &ProcessResult{Outcome: OutcomeApplied, Entry: updated}, nil
	}

	existing, err := s.repo.FindEntry(ctx, event.GatewaySpace, event.GatewayTransactionID)
	if err != nil {
		if errors.Is(err, store.ErrEntryNotFound) {
			log.Printf("level=warn component=service msg=\"refund event for unknown transaction ignored\" gateway=%s tx_id=%s", event.GatewaySpace, event.GatewayTransactionID)
			return &ProcessResult{Outcome: OutcomeRejected}, nil
		}
		return nil, fmt.Errorf("lookup entry for refund event: %w", err)
	}
	if existing.Status == domain.StatusRefunded {
		return &ProcessResult{Outcome: OutcomeDuplicate, Entry: existing}, nil
	}
	log.Printf("level=warn component=service msg=\"refund event rejected for non-succeeded entry\" gateway=%s tx_id=%s status=%s", event.GatewaySpace, event.GatewayTransactionID, existing.Status)
	return &ProcessResult{Outcome: OutcomeRejected, Entry: existing}, nil
}

// newEntryFromEvent builds a full ledger entry from the notification payload,
// backfilling missing buyer details from the customer directory when the
// gateway supplied a customer id.
func (s *Service) newEntryFromEvent(ctx context.Context, event *domain.PaymentEvent, status domain.TransactionStatus) *domain.LedgerEntry {
	payload := event.Payload
	customer := payload.Customer

	if s.customers != nil && payload.GatewayCustomerID != "" &&
		(strings.TrimSpace(customer.Email) == "" || strings.TrimSpace(customer.Name) == "") {
		detail, err := s.customers.GetCustomerDetail(ctx, event.GatewaySpace, payload.GatewayCustomerID)
		if err != nil {
			log.Printf("level=warn component=service msg=\"customer backfill failed\" gateway=%s customer_id=%s err=%v", event.GatewaySpace, payload.GatewayCustomerID, err)
		} else {
			if strings.TrimSpace(customer.Email) == "" {
				customer.Email = detail.Email
			}
			if strings.TrimSpace(customer.Name) == "" {
				customer.Name = detail.Name
			}
			if strings.TrimSpace(customer.Phone) == "" {
				customer.Phone = detail.Phone
			}
		}
	}

	return &domain.LedgerEntry{
		GatewaySpace:         event.GatewaySpace,
		GatewayTransactionID: event.GatewayTransactionID,
		Status:               status,
		Amount:               payload.Amount,
		Currency:             payload.Currency,
		OwnerRef:             payload.OwnerRef,
		OfferRef:             payload.OfferRef,
		ExperimentRef:        payload.ExperimentRef,
		Customer:             customer,
		LineItems:            payload.LineItems,
		Integrations:         domain.NewIntegrationOutcomes(),
		CreatedAt:            time.Now().UTC(),
		UpdatedAt:            time.Now().UTC(),
	}
}

// DispatchIntegrations loads the entry's offer configuration and runs the
// dispatcher. Offer lookup failures are business-data problems: logged and
// returned so sweep summaries can count them, but never surfaced to webhook
// senders.
func (s *Service) DispatchIntegrations(ctx context.Context, entry *domain.LedgerEntry) (domain.IntegrationOutcomes, error) {
	offer, err := s.repo.FindOfferByID(ctx, entry.OfferRef)
	if err != nil {
		if errors.Is(err, store.ErrOfferNotFound) {
			log.Printf("level=warn component=service msg=\"offer not found; integrations not dispatched\" entry_id=%s offer_ref=%s", entry.ID, entry.OfferRef)
		}
		return entry.Integrations, fmt.Errorf("load offer %s: %w", entry.OfferRef, err)
	}
	return s.dispatcher.Dispatch(ctx, entry, offer)
}

// spawnDispatch runs integration dispatch as a detached task tracked for
// graceful shutdown, so acknowledgment to the gateway never waits on
// downstream endpoints.
func (s *Service) spawnDispatch(entry *domain.LedgerEntry) {
	s.dispatchWG.Add(1)
	go func() {
		defer s.dispatchWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
		defer cancel()
		if _, err := s.DispatchIntegrations(ctx, entry); err != nil {
			log.Printf("level=warn component=service msg=\"async integration dispatch incomplete; sweep will retry\" entry_id=%s err=%v", entry.ID, err)
		}
	}()
}

// DrainDispatches waits for in-flight async dispatches to settle, or for the
// context to expire. Called during graceful shutdown.
func (s *Service) DrainDispatches(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.dispatchWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) publishRecorded(ctx context.Context, entry *domain.LedgerEntry) {
	s.publish(ctx, "payment.recorded."+string(entry.Status), domain.RecordedEvent{
		EntryID:              entry.ID,
		GatewaySpace:         entry.GatewaySpace,
		GatewayTransactionID: entry.GatewayTransactionID,
		Status:               entry.Status,
		Amount:               entry.Amount,
		Currency:             entry.Currency,
		OwnerRef:             entry.OwnerRef,
		OfferRef:             entry.OfferRef,
		Timestamp:            time.Now().UTC(),
	})
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, recordedEventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
