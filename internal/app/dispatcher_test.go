package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lumapay/reconciliation-service/internal/domain"
	"github.com/lumapay/reconciliation-service/internal/integrations"
	"github.com/lumapay/reconciliation-service/internal/store"
)

type dispatcherRepoStub struct {
	store.Repository

	updateCalls      int
	persistedEntryID uuid.UUID
	persisted        domain.IntegrationOutcomes
	updateErr        error
}

func (s *dispatcherRepoStub) UpdateIntegrationOutcomes(ctx context.Context, entryID uuid.UUID, outcomes domain.IntegrationOutcomes, attemptedAt time.Time) error {
	s.updateCalls++
	s.persistedEntryID = entryID
	s.persisted = outcomes
	return s.updateErr
}

type integrationStub struct {
	name      string
	enabled   bool
	sendErr   error
	sendCalls int
}

func (s *integrationStub) Name() string                     { return s.name }
func (s *integrationStub) Enabled(offer *domain.Offer) bool { return s.enabled }
func (s *integrationStub) Send(ctx context.Context, entry *domain.LedgerEntry, offer *domain.Offer) error {
	s.sendCalls++
	return s.sendErr
}

func succeededEntry() *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:           uuid.New(),
		Status:       domain.StatusSucceeded,
		Amount:       12500,
		Currency:     "USD",
		OfferRef:     uuid.New(),
		Integrations: domain.NewIntegrationOutcomes(),
	}
}

func TestDispatch_PartialFailurePersistsEveryOutcome(t *testing.T) {
	repo := &dispatcherRepoStub{}
	attribution := &integrationStub{name: domain.IntegrationAdAttribution, enabled: true}
	access := &integrationStub{name: domain.IntegrationAccess, enabled: true, sendErr: errors.New("receiver returned 500")}
	marketing := &integrationStub{name: domain.IntegrationMarketing, enabled: true}

	d := NewDispatcher(repo, []integrations.Integration{attribution, access, marketing}, time.Second)
	entry := succeededEntry()

	outcomes, err := d.Dispatch(context.Background(), entry, &domain.Offer{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if outcomes.AdAttribution != domain.IntegrationSucceeded {
		t.Fatalf("expected ad attribution succeeded, got %q", outcomes.AdAttribution)
	}
	if outcomes.Access != domain.IntegrationFailed {
		t.Fatalf("expected access failed, got %q", outcomes.Access)
	}
	if outcomes.Marketing != domain.IntegrationSucceeded {
		t.Fatalf("expected marketing succeeded, got %q", outcomes.Marketing)
	}
	if repo.updateCalls != 1 {
		t.Fatalf("expected one persistence call, got %d", repo.updateCalls)
	}
	if repo.persistedEntryID != entry.ID {
		t.Fatal("expected outcomes persisted against the dispatched entry")
	}
	if entry.LastIntegrationAttemptAt == nil {
		t.Fatal("expected the attempt timestamp to be set on the entry")
	}
}

func TestDispatch_NeverReinvokesDeliveredIntegrations(t *testing.T) {
	repo := &dispatcherRepoStub{}
	attribution := &integrationStub{name: domain.IntegrationAdAttribution, enabled: true}
	access := &integrationStub{name: domain.IntegrationAccess, enabled: true}

	d := NewDispatcher(repo, []integrations.Integration{attribution, access}, time.Second)
	entry := succeededEntry()
	entry.Integrations.AdAttribution = domain.IntegrationSucceeded
	entry.Integrations.Access = domain.IntegrationFailed

	outcomes, err := d.Dispatch(context.Background(), entry, &domain.Offer{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if attribution.sendCalls != 0 {
		t.Fatalf("expected delivered integration untouched, got %d calls", attribution.sendCalls)
	}
	if access.sendCalls != 1 {
		t.Fatalf("expected failed integration retried once, got %d calls", access.sendCalls)
	}
	if outcomes.AdAttribution != domain.IntegrationSucceeded {
		t.Fatalf("expected succeeded flag preserved, got %q", outcomes.AdAttribution)
	}
}

func TestDispatch_DisabledIntegrationIsSkippedPermanently(t *testing.T) {
	repo := &dispatcherRepoStub{}
	marketing := &integrationStub{name: domain.IntegrationMarketing, enabled: false}

	d := NewDispatcher(repo, []integrations.Integration{marketing}, time.Second)
	entry := succeededEntry()

	outcomes, err := d.Dispatch(context.Background(), entry, &domain.Offer{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if marketing.sendCalls != 0 {
		t.Fatal("did not expect a disabled integration to be invoked")
	}
	if outcomes.Marketing != domain.IntegrationSkipped {
		t.Fatalf("expected skipped flag, got %q", outcomes.Marketing)
	}
	if !outcomes.Marketing.Done() {
		t.Fatal("expected skipped to count as delivered for sweep purposes")
	}
}

type hangingIntegration struct {
	name string
}

func (h *hangingIntegration) Name() string                     { return h.name }
func (h *hangingIntegration) Enabled(offer *domain.Offer) bool { return true }
func (h *hangingIntegration) Send(ctx context.Context, entry *domain.LedgerEntry, offer *domain.Offer) error {
	<-ctx.Done()
	return ctx.Err()
}

type deadlineAwareRepoStub struct {
	store.Repository

	persisted     domain.IntegrationOutcomes
	persistCtxErr error
}

func (s *deadlineAwareRepoStub) UpdateIntegrationOutcomes(ctx context.Context, entryID uuid.UUID, outcomes domain.IntegrationOutcomes, attemptedAt time.Time) error {
	s.persistCtxErr = ctx.Err()
	s.persisted = outcomes
	return ctx.Err()
}

func TestDispatch_HangingIntegrationDoesNotLoseDeliveredOutcomes(t *testing.T) {
	repo := &deadlineAwareRepoStub{}
	attribution := &integrationStub{name: domain.IntegrationAdAttribution, enabled: true}
	access := &integrationStub{name: domain.IntegrationAccess, enabled: true}
	marketing := &hangingIntegration{name: domain.IntegrationMarketing}

	callTimeout := 50 * time.Millisecond
	d := NewDispatcher(repo, []integrations.Integration{attribution, access, marketing}, callTimeout)

	// The dispatch context expires together with the hanging call's timeout,
	// mirroring the async-dispatch wiring where both share one budget.
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	outcomes, err := d.Dispatch(ctx, succeededEntry(), &domain.Offer{})
	if err != nil {
		t.Fatalf("expected the outcome write to survive the expired dispatch context, got %v", err)
	}
	if repo.persistCtxErr != nil {
		t.Fatalf("expected persistence to run on a live context, got %v", repo.persistCtxErr)
	}
	if repo.persisted.AdAttribution != domain.IntegrationSucceeded || repo.persisted.Access != domain.IntegrationSucceeded {
		t.Fatalf("expected delivered flags persisted, got %+v", repo.persisted)
	}
	if repo.persisted.Marketing != domain.IntegrationFailed {
		t.Fatalf("expected the timed-out integration recorded as failed, got %q", repo.persisted.Marketing)
	}
	if outcomes.Marketing != domain.IntegrationFailed {
		t.Fatalf("expected the returned outcome set to match, got %q", outcomes.Marketing)
	}
}

func TestDispatch_PersistenceFailureSurfacesError(t *testing.T) {
	repo := &dispatcherRepoStub{updateErr: errors.New("connection reset")}
	access := &integrationStub{name: domain.IntegrationAccess, enabled: true}

	d := NewDispatcher(repo, []integrations.Integration{access}, time.Second)

	if _, err := d.Dispatch(context.Background(), succeededEntry(), &domain.Offer{}); err == nil {
		t.Fatal("expected persistence failure to propagate")
	}
}
