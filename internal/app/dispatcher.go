package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lumapay/reconciliation-service/internal/domain"
	"github.com/lumapay/reconciliation-service/internal/integrations"
	"github.com/lumapay/reconciliation-service/internal/store"
)

// persistTimeout bounds the outcome write after integrations settle. It is
// deliberately independent of the dispatch context's deadline.
const persistTimeout = 10 * time.Second

// Dispatcher fans a succeeded ledger entry out to the configured downstream
// integrations. Integrations run in parallel and settle independently; one
// integration's failure never blocks or rolls back another's success. Partial
// failure is the expected common case: outcomes are always persisted, even
// when every integration failed.
type Dispatcher struct {
	repo         store.Repository
	integrations []integrations.Integration
	callTimeout  time.Duration
}

func NewDispatcher(repo store.Repository, ints []integrations.Integration, callTimeout time.Duration) *Dispatcher {
	if callTimeout <= 0 {
		callTimeout = 20 * time.Second
	}
	return &Dispatcher{
		repo:         repo,
		integrations: ints,
		callTimeout:  callTimeout,
	}
}

// Dispatch invokes every integration not already delivered for the entry,
// records one outcome per integration on the ledger entry, and returns the
// updated outcome set. Integrations already marked succeeded (or skipped) are
// never re-invoked, which is what makes re-driving by the sweep stable.
func (d *Dispatcher) Dispatch(ctx context.Context, entry *domain.LedgerEntry, offer *domain.Offer) (domain.IntegrationOutcomes, error) {
	outcomes := normalizeOutcomes(entry.Integrations)

	type result struct {
		name string
		err  error
	}

	var wg sync.WaitGroup
	results := make(chan result, len(d.integrations))

	for _, integration := range d.integrations {
		state := outcomes.Get(integration.Name())
		if state.Done() {
			continue
		}
		if !integration.Enabled(offer) {
			outcomes.Set(integration.Name(), domain.IntegrationSkipped)
			continue
		}

		wg.Add(1)
		go func(integration integrations.Integration) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
			defer cancel()
			results <- result{name: integration.Name(), err: integration.Send(callCtx, entry, offer)}
		}(integration)
	}

	wg.Wait()
	close(results)

	for res := range results {
		if res.err != nil {
			outcomes.Set(res.name, domain.IntegrationFailed)
			log.Printf("level=warn component=dispatcher msg=\"integration delivery failed\" entry_id=%s integration=%s err=%v", entry.ID, res.name, res.err)
			continue
		}
		outcomes.Set(res.name, domain.IntegrationSucceeded)
		log.Printf("level=info component=dispatcher msg=\"integration delivered\" entry_id=%s integration=%s", entry.ID, res.name)
	}

	// When an integration runs its call timeout all the way out, the caller's
	// context can expire at the same instant. The persist must still land,
	// otherwise delivered flags are lost and the sweep re-sends them.
	attemptedAt := time.Now().UTC()
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()
	if err := d.repo.UpdateIntegrationOutcomes(persistCtx, entry.ID, outcomes, attemptedAt); err != nil {
		return outcomes, err
	}

	entry.Integrations = outcomes
	entry.LastIntegrationAttemptAt = &attemptedAt
	return outcomes, nil
}

// normalizeOutcomes maps zero-valued states (rows predating a flag column, or
// entries built in tests) to not_attempted.
func normalizeOutcomes(outcomes domain.IntegrationOutcomes) domain.IntegrationOutcomes {
	if outcomes.AdAttribution == "" {
		outcomes.AdAttribution = domain.IntegrationNotAttempted
	}
	if outcomes.Access == "" {
		outcomes.Access = domain.IntegrationNotAttempted
	}
	if outcomes.Marketing == "" {
		outcomes.Marketing = domain.IntegrationNotAttempted
	}
	return outcomes
}
