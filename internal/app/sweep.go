/**
 * @description
 * This file contains the reprocessing sweep: it scans the ledger for
 * succeeded entries with at least one undelivered integration and re-runs
 * dispatch for each of them. The sweep is the recovery path for crashes
 * between the ledger write and the async dispatch, and for downstream
 * endpoints that were transiently unreachable.
 *
 * The sweep is safe to run repeatedly: the dispatcher never re-drives an
 * integration already succeeded or skipped, so a clean run leaves nothing
 * for the next one.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lumapay/reconciliation-service/internal/domain"
	"github.com/lumapay/reconciliation-service/internal/store"
)

const (
	defaultSweepLimit = 100
	maxSweepLimit     = 500
)

// SweepParams bound one sweep run. Zero values mean the defaults: a batch of
// defaultSweepLimit entries with no date restriction, deliveries enabled.
type SweepParams struct {
	// DryRun lists candidate entries without dispatching anything.
	DryRun bool
	// Limit caps the batch size; clamped to maxSweepLimit.
	Limit int
	// CreatedFrom / CreatedTo restrict the scan window by entry creation time.
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// SweepEntryReport describes what the sweep did to one ledger entry.
type SweepEntryReport struct {
	EntryID              uuid.UUID `json:"entry_id"`
	GatewaySpace         string    `json:"gateway_space"`
	GatewayTransactionID string    `json:"gateway_transaction_id"`
	OfferRef             uuid.UUID `json:"offer_ref"`
	Pending              []string  `json:"pending"`
	Recovered            []string  `json:"recovered,omitempty"`
	StillFailing         []string  `json:"still_failing,omitempty"`
	Error                string    `json:"error,omitempty"`
}

// SweepSummary aggregates one sweep run.
type SweepSummary struct {
	DryRun    bool               `json:"dry_run"`
	Scanned   int                `json:"scanned"`
	Recovered int                `json:"recovered"`
	Failed    int                `json:"failed"`
	Entries   []SweepEntryReport `json:"entries"`
}

// ReprocessIncompleteIntegrations runs one sweep batch. Per-entry dispatch
// failures are recorded in the summary and do not abort the batch; only a
// failure to list candidates returns an error.
func (s *Service) ReprocessIncompleteIntegrations(ctx context.Context, params SweepParams) (*SweepSummary, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if limit > maxSweepLimit {
		limit = maxSweepLimit
	}

	entries, err := s.repo.ListIncompleteIntegrationEntries(ctx, store.IncompleteListOptions{
		Limit:       limit,
		CreatedFrom: params.CreatedFrom,
		CreatedTo:   params.CreatedTo,
	})
	if err != nil {
		return nil, fmt.Errorf("list incomplete entries: %w", err)
	}

	summary := &SweepSummary{DryRun: params.DryRun, Scanned: len(entries)}
	for _, entry := range entries {
		report := SweepEntryReport{
			EntryID:              entry.ID,
			GatewaySpace:         entry.GatewaySpace,
			GatewayTransactionID: entry.GatewayTransactionID,
			OfferRef:             entry.OfferRef,
			Pending:              pendingIntegrations(entry.Integrations),
		}

		if params.DryRun {
			summary.Entries = append(summary.Entries, report)
			continue
		}

		// An async dispatch racing the scan may have delivered already;
		// re-read so those integrations are not re-sent.
		fresh, err := s.repo.FindEntryByID(ctx, entry.ID)
		if err != nil {
			report.Error = err.Error()
			report.StillFailing = report.Pending
			summary.Failed++
			summary.Entries = append(summary.Entries, report)
			continue
		}
		entry = *fresh
		report.Pending = pendingIntegrations(entry.Integrations)
		if len(report.Pending) == 0 {
			summary.Recovered++
			summary.Entries = append(summary.Entries, report)
			continue
		}

		before := entry.Integrations
		outcomes, err := s.DispatchIntegrations(ctx, &entry)
		if err != nil {
			// A delivery may have happened in memory, but without a persisted
			// outcome the next sweep will contradict any recovery we report.
			report.Error = err.Error()
			report.StillFailing = report.Pending
			summary.Failed++
			summary.Entries = append(summary.Entries, report)
			continue
		}

		for _, name := range pendingIntegrations(before) {
			if outcomes.Get(name).Done() {
				report.Recovered = append(report.Recovered, name)
			} else {
				report.StillFailing = append(report.StillFailing, name)
			}
		}
		if len(report.StillFailing) == 0 {
			summary.Recovered++
		} else {
			summary.Failed++
		}
		summary.Entries = append(summary.Entries, report)
	}

	log.Printf("level=info component=sweep msg=\"sweep finished\" dry_run=%t scanned=%d recovered=%d failed=%d", summary.DryRun, summary.Scanned, summary.Recovered, summary.Failed)
	return summary, nil
}

func pendingIntegrations(outcomes domain.IntegrationOutcomes) []string {
	var pending []string
	for _, name := range []string{domain.IntegrationAdAttribution, domain.IntegrationAccess, domain.IntegrationMarketing} {
		if !outcomes.Get(name).Done() {
			pending = append(pending, name)
		}
	}
	return pending
}
