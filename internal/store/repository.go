/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the reconciliation-service needs. The interface keeps the business
 * logic independent of PostgreSQL and lets tests substitute stub repositories.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For entry and offer identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lumapay/reconciliation-service/internal/domain"
)

// TransitionParams carries the optional fields a status transition may set.
// Nil pointers leave the stored value untouched.
type TransitionParams struct {
	FailureReason  *string
	FailureMessage *string
}

// IncompleteListOptions filters the reprocessing sweep's candidate scan.
type IncompleteListOptions struct {
	Limit       int
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// InsertEntryIfAbsent inserts the entry unless one already exists for its
	// (gateway_space, gateway_transaction_id) pair. Returns true when the row
	// was created. The unique index makes this safe under concurrent
	// deliveries of the same transaction id.
	InsertEntryIfAbsent(ctx context.Context, entry *domain.LedgerEntry) (bool, error)

	FindEntry(ctx context.Context, gatewaySpace, gatewayTransactionID string) (*domain.LedgerEntry, error)
	FindEntryByID(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error)

	// TransitionStatus conditionally moves an entry to a new status, only when
	// its current status is one of `from` (the per-key compare-and-swap that
	// serializes concurrent deliveries). Returns the updated entry and true
	// when the transition applied; nil and false when no row matched.
	TransitionStatus(ctx context.Context, gatewaySpace, gatewayTransactionID string, from []domain.TransactionStatus, to domain.TransactionStatus, params TransitionParams) (*domain.LedgerEntry, bool, error)

	// UpdateIntegrationOutcomes persists per-integration delivery states and
	// the attempt timestamp. A state already stored as succeeded is never
	// overwritten.
	UpdateIntegrationOutcomes(ctx context.Context, entryID uuid.UUID, outcomes domain.IntegrationOutcomes, attemptedAt time.Time) error

	// ListIncompleteIntegrationEntries returns succeeded entries with at least
	// one integration still pending delivery, oldest first.
	ListIncompleteIntegrationEntries(ctx context.Context, opts IncompleteListOptions) ([]domain.LedgerEntry, error)

	FindOfferByID(ctx context.Context, offerID uuid.UUID) (*domain.Offer, error)
}
