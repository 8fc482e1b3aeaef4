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

type sweepRepoStub struct {
	store.Repository

	entries []domain.LedgerEntry
	offers  map[uuid.UUID]*domain.Offer

	// freshOutcomes overrides what FindEntryByID reports for an entry,
	// simulating deliveries landing between the scan and the re-read.
	freshOutcomes map[uuid.UUID]domain.IntegrationOutcomes
	updateErr     error

	listCalls   int
	listedLimit int
}

func (s *sweepRepoStub) FindEntryByID(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error) {
	for _, entry := range s.entries {
		if entry.ID == entryID {
			if outcomes, ok := s.freshOutcomes[entryID]; ok {
				entry.Integrations = outcomes
			}
			return &entry, nil
		}
	}
	return nil, store.ErrEntryNotFound
}

func (s *sweepRepoStub) ListIncompleteIntegrationEntries(ctx context.Context, opts store.IncompleteListOptions) ([]domain.LedgerEntry, error) {
	s.listCalls++
	s.listedLimit = opts.Limit

	var incomplete []domain.LedgerEntry
	for _, entry := range s.entries {
		if entry.Status == domain.StatusSucceeded && entry.Integrations.Incomplete() {
			incomplete = append(incomplete, entry)
		}
	}
	return incomplete, nil
}

func (s *sweepRepoStub) FindOfferByID(ctx context.Context, offerID uuid.UUID) (*domain.Offer, error) {
	offer, ok := s.offers[offerID]
	if !ok {
		return nil, store.ErrOfferNotFound
	}
	return offer, nil
}

func (s *sweepRepoStub) UpdateIntegrationOutcomes(ctx context.Context, entryID uuid.UUID, outcomes domain.IntegrationOutcomes, attemptedAt time.Time) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	for i := range s.entries {
		if s.entries[i].ID == entryID {
			s.entries[i].Integrations = outcomes
		}
	}
	return nil
}

func incompleteEntry(offerID uuid.UUID) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:       uuid.New(),
		Status:   domain.StatusSucceeded,
		Amount:   5000,
		Currency: "USD",
		OfferRef: offerID,
		Integrations: domain.IntegrationOutcomes{
			AdAttribution: domain.IntegrationSkipped,
			Access:        domain.IntegrationFailed,
			Marketing:     domain.IntegrationNotAttempted,
		},
	}
}

func TestReprocess_SecondRunHasNothingLeftToDo(t *testing.T) {
	offerID := uuid.New()
	repo := &sweepRepoStub{
		entries: []domain.LedgerEntry{incompleteEntry(offerID)},
		offers:  map[uuid.UUID]*domain.Offer{offerID: {ID: offerID}},
	}
	access := &integrationStub{name: domain.IntegrationAccess, enabled: true}
	marketing := &integrationStub{name: domain.IntegrationMarketing, enabled: true}

	dispatcher := NewDispatcher(repo, []integrations.Integration{access, marketing}, time.Second)
	svc := NewService(repo, dispatcher, nil, nil, nil, time.Second)

	first, err := svc.ReprocessIncompleteIntegrations(context.Background(), SweepParams{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if first.Scanned != 1 || first.Recovered != 1 {
		t.Fatalf("expected one recovered entry, got scanned=%d recovered=%d", first.Scanned, first.Recovered)
	}
	if access.sendCalls != 1 || marketing.sendCalls != 1 {
		t.Fatalf("expected one delivery per pending integration, got access=%d marketing=%d", access.sendCalls, marketing.sendCalls)
	}

	second, err := svc.ReprocessIncompleteIntegrations(context.Background(), SweepParams{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if second.Scanned != 0 {
		t.Fatalf("expected a clean second run, got scanned=%d", second.Scanned)
	}
	if access.sendCalls != 1 || marketing.sendCalls != 1 {
		t.Fatalf("expected no additional deliveries on the second run, got access=%d marketing=%d", access.sendCalls, marketing.sendCalls)
	}
}

func TestReprocess_DryRunDispatchesNothing(t *testing.T) {
	offerID := uuid.New()
	repo := &sweepRepoStub{
		entries: []domain.LedgerEntry{incompleteEntry(offerID)},
		offers:  map[uuid.UUID]*domain.Offer{offerID: {ID: offerID}},
	}
	access := &integrationStub{name: domain.IntegrationAccess, enabled: true}

	dispatcher := NewDispatcher(repo, []integrations.Integration{access}, time.Second)
	svc := NewService(repo, dispatcher, nil, nil, nil, time.Second)

	summary, err := svc.ReprocessIncompleteIntegrations(context.Background(), SweepParams{DryRun: true})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if summary.Scanned != 1 {
		t.Fatalf("expected the candidate to be listed, got scanned=%d", summary.Scanned)
	}
	if access.sendCalls != 0 {
		t.Fatalf("expected no deliveries in dry-run mode, got %d", access.sendCalls)
	}
	if len(summary.Entries) != 1 || len(summary.Entries[0].Pending) != 2 {
		t.Fatalf("expected the report to name both pending integrations, got %+v", summary.Entries)
	}
}

func TestReprocess_MissingOfferIsCountedAndDoesNotAbort(t *testing.T) {
	knownOffer := uuid.New()
	repo := &sweepRepoStub{
		entries: []domain.LedgerEntry{
			incompleteEntry(uuid.New()), // offer was deleted
			incompleteEntry(knownOffer),
		},
		offers: map[uuid.UUID]*domain.Offer{knownOffer: {ID: knownOffer}},
	}
	access := &integrationStub{name: domain.IntegrationAccess, enabled: true}
	marketing := &integrationStub{name: domain.IntegrationMarketing, enabled: true}

	dispatcher := NewDispatcher(repo, []integrations.Integration{access, marketing}, time.Second)
	svc := NewService(repo, dispatcher, nil, nil, nil, time.Second)

	summary, err := svc.ReprocessIncompleteIntegrations(context.Background(), SweepParams{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if summary.Scanned != 2 {
		t.Fatalf("expected both candidates scanned, got %d", summary.Scanned)
	}
	if summary.Recovered != 1 || summary.Failed != 1 {
		t.Fatalf("expected one recovery and one failure, got recovered=%d failed=%d", summary.Recovered, summary.Failed)
	}
}

func TestReprocess_UnpersistedDeliveryIsReportedAsStillFailing(t *testing.T) {
	offerID := uuid.New()
	repo := &sweepRepoStub{
		entries:   []domain.LedgerEntry{incompleteEntry(offerID)},
		offers:    map[uuid.UUID]*domain.Offer{offerID: {ID: offerID}},
		updateErr: errors.New("connection reset"),
	}
	access := &integrationStub{name: domain.IntegrationAccess, enabled: true}
	marketing := &integrationStub{name: domain.IntegrationMarketing, enabled: true}

	dispatcher := NewDispatcher(repo, []integrations.Integration{access, marketing}, time.Second)
	svc := NewService(repo, dispatcher, nil, nil, nil, time.Second)

	summary, err := svc.ReprocessIncompleteIntegrations(context.Background(), SweepParams{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	// Deliveries happened in memory, but the flags never reached the ledger;
	// reporting them recovered would contradict the next sweep.
	if summary.Recovered != 0 || summary.Failed != 1 {
		t.Fatalf("expected the entry counted as failed, got recovered=%d failed=%d", summary.Recovered, summary.Failed)
	}
	if len(summary.Entries) != 1 {
		t.Fatalf("expected one entry report, got %d", len(summary.Entries))
	}
	report := summary.Entries[0]
	if report.Error == "" {
		t.Fatal("expected the persistence error recorded on the report")
	}
	if len(report.StillFailing) != len(report.Pending) || len(report.Recovered) != 0 {
		t.Fatalf("expected every pending integration reported still failing, got %+v", report)
	}
}

func TestReprocess_RereadSkipsFreshlyDeliveredEntries(t *testing.T) {
	offerID := uuid.New()
	entry := incompleteEntry(offerID)
	repo := &sweepRepoStub{
		entries: []domain.LedgerEntry{entry},
		offers:  map[uuid.UUID]*domain.Offer{offerID: {ID: offerID}},
		freshOutcomes: map[uuid.UUID]domain.IntegrationOutcomes{
			entry.ID: {
				AdAttribution: domain.IntegrationSkipped,
				Access:        domain.IntegrationSucceeded,
				Marketing:     domain.IntegrationSucceeded,
			},
		},
	}
	access := &integrationStub{name: domain.IntegrationAccess, enabled: true}
	marketing := &integrationStub{name: domain.IntegrationMarketing, enabled: true}

	dispatcher := NewDispatcher(repo, []integrations.Integration{access, marketing}, time.Second)
	svc := NewService(repo, dispatcher, nil, nil, nil, time.Second)

	summary, err := svc.ReprocessIncompleteIntegrations(context.Background(), SweepParams{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if access.sendCalls != 0 || marketing.sendCalls != 0 {
		t.Fatalf("expected no deliveries for an entry completed since the scan, got access=%d marketing=%d", access.sendCalls, marketing.sendCalls)
	}
	if summary.Recovered != 1 || summary.Failed != 0 {
		t.Fatalf("expected the entry counted as recovered, got recovered=%d failed=%d", summary.Recovered, summary.Failed)
	}
}

func TestReprocess_LimitIsClamped(t *testing.T) {
	repo := &sweepRepoStub{}
	dispatcher := NewDispatcher(repo, nil, time.Second)
	svc := NewService(repo, dispatcher, nil, nil, nil, time.Second)

	if _, err := svc.ReprocessIncompleteIntegrations(context.Background(), SweepParams{Limit: 10000}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.listedLimit != maxSweepLimit {
		t.Fatalf("expected limit clamped to %d, got %d", maxSweepLimit, repo.listedLimit)
	}

	if _, err := svc.ReprocessIncompleteIntegrations(context.Background(), SweepParams{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.listedLimit != defaultSweepLimit {
		t.Fatalf("expected default limit %d, got %d", defaultSweepLimit, repo.listedLimit)
	}
}
