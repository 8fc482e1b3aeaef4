/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all SQL queries against the ledger_entries and
 * offers tables.
 *
 * The `(gateway_space, gateway_tx_id)` unique index makes InsertEntryIfAbsent
 * atomic, and TransitionStatus uses a guarded UPDATE (status = ANY(...)) as
 * the per-key compare-and-swap, so the service never needs explicit row locks
 * for duplicate or racing webhook deliveries.
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumapay/reconciliation-service/internal/domain"
)

var (
	ErrEntryNotFound = errors.New("ledger entry not found")
	ErrOfferNotFound = errors.New("offer not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const entryColumns = `
	id, gateway_space, gateway_tx_id, status, amount, currency,
	owner_ref, offer_ref, experiment_ref, customer, line_items,
	failure_reason, failure_message,
	integration_ad_attribution, integration_access, integration_marketing,
	last_integration_attempt_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var (
		entry         domain.LedgerEntry
		customerJSON  []byte
		lineItemsJSON []byte
	)
	err := row.Scan(
		&entry.ID,
		&entry.GatewaySpace,
		&entry.GatewayTransactionID,
		&entry.Status,
		&entry.Amount,
		&entry.Currency,
		&entry.OwnerRef,
		&entry.OfferRef,
		&entry.ExperimentRef,
		&customerJSON,
		&lineItemsJSON,
		&entry.FailureReason,
		&entry.FailureMessage,
		&entry.Integrations.AdAttribution,
		&entry.Integrations.Access,
		&entry.Integrations.Marketing,
		&entry.LastIntegrationAttemptAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(customerJSON) > 0 {
		if err := json.Unmarshal(customerJSON, &entry.Customer); err != nil {
			return nil, fmt.Errorf("decode customer snapshot: %w", err)
		}
	}
	if len(lineItemsJSON) > 0 {
		if err := json.Unmarshal(lineItemsJSON, &entry.LineItems); err != nil {
			return nil, fmt.Errorf("decode line items: %w", err)
		}
	}
	return &entry, nil
}

// InsertEntryIfAbsent creates a new ledger entry unless one already exists for
// the same gateway transaction id. ON CONFLICT DO NOTHING keeps the insert
// race-free without a surrounding transaction.
func (r *PostgresRepository) InsertEntryIfAbsent(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	customerJSON, err := json.Marshal(entry.Customer)
	if err != nil {
		return false, fmt.Errorf("encode customer snapshot: %w", err)
	}
	lineItemsJSON, err := json.Marshal(entry.LineItems)
	if err != nil {
		return false, fmt.Errorf("encode line items: %w", err)
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO ledger_entries (
			id, gateway_space, gateway_tx_id, status, amount, currency,
			owner_ref, offer_ref, experiment_ref, customer, line_items,
			failure_reason, failure_message,
			integration_ad_attribution, integration_access, integration_marketing,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
		ON CONFLICT (gateway_space, gateway_tx_id) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.GatewaySpace,
		entry.GatewayTransactionID,
		entry.Status,
		entry.Amount,
		entry.Currency,
		entry.OwnerRef,
		entry.OfferRef,
		entry.ExperimentRef,
		customerJSON,
		lineItemsJSON,
		entry.FailureReason,
		entry.FailureMessage,
		entry.Integrations.AdAttribution,
		entry.Integrations.Access,
		entry.Integrations.Marketing,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// FindEntry retrieves a ledger entry by its gateway-namespaced transaction id.
func (r *PostgresRepository) FindEntry(ctx context.Context, gatewaySpace, gatewayTransactionID string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE gateway_space = $1 AND gateway_tx_id = $2`
	entry, err := scanEntry(r.db.QueryRow(ctx, query, gatewaySpace, gatewayTransactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// FindEntryByID retrieves a ledger entry by its primary key.
func (r *PostgresRepository) FindEntryByID(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`
	entry, err := scanEntry(r.db.QueryRow(ctx, query, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// TransitionStatus applies a guarded status move. The WHERE clause on the
// current status is the compare-and-swap: a concurrent delivery that already
// moved the entry makes this a no-op rather than a lost update.
func (r *PostgresRepository) TransitionStatus(ctx context.Context, gatewaySpace, gatewayTransactionID string, from []domain.TransactionStatus, to domain.TransactionStatus, params TransitionParams) (*domain.LedgerEntry, bool, error) {
	fromStatuses := make([]string, 0, len(from))
	for _, status := range from {
		fromStatuses = append(fromStatuses, string(status))
	}

	query := `
		UPDATE ledger_entries
		SET status = $1,
			failure_reason = COALESCE($2, failure_reason),
			failure_message = COALESCE($3, failure_message),
			updated_at = NOW()
		WHERE gateway_space = $4 AND gateway_tx_id = $5 AND status = ANY($6)
		RETURNING ` + entryColumns
	entry, err := scanEntry(r.db.QueryRow(ctx, query,
		to,
		params.FailureReason,
		params.FailureMessage,
		gatewaySpace,
		gatewayTransactionID,
		fromStatuses,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry, true, nil
}

// UpdateIntegrationOutcomes persists delivery states for all integrations.
// A column already holding 'succeeded' keeps its value; flags never move
// backward from succeeded.
func (r *PostgresRepository) UpdateIntegrationOutcomes(ctx context.Context, entryID uuid.UUID, outcomes domain.IntegrationOutcomes, attemptedAt time.Time) error {
	query := `
		UPDATE ledger_entries
		SET
			integration_ad_attribution = CASE WHEN integration_ad_attribution = 'succeeded' THEN integration_ad_attribution ELSE $2 END,
			integration_access = CASE WHEN integration_access = 'succeeded' THEN integration_access ELSE $3 END,
			integration_marketing = CASE WHEN integration_marketing = 'succeeded' THEN integration_marketing ELSE $4 END,
			last_integration_attempt_at = $5,
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query,
		entryID,
		outcomes.AdAttribution,
		outcomes.Access,
		outcomes.Marketing,
		attemptedAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// ListIncompleteIntegrationEntries scans for sweep candidates: succeeded
// entries with at least one integration neither succeeded nor skipped. The
// status index keeps this scan cheap.
func (r *PostgresRepository) ListIncompleteIntegrationEntries(ctx context.Context, opts IncompleteListOptions) ([]domain.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE status = 'succeeded'
		  AND (
			integration_ad_attribution IN ('not_attempted', 'failed')
			OR integration_access IN ('not_attempted', 'failed')
			OR integration_marketing IN ('not_attempted', 'failed')
		  )
		  AND ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at <= $2)
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, opts.CreatedFrom, opts.CreatedTo, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// FindOfferByID loads the per-offer integration configuration.
func (r *PostgresRepository) FindOfferByID(ctx context.Context, offerID uuid.UUID) (*domain.Offer, error) {
	var (
		offer         domain.Offer
		endpointsJSON []byte
		urlsJSON      []byte
	)
	query := `
		SELECT id, owner_ref, name,
			ad_attribution_enabled, ad_attribution_endpoints,
			access_enabled, access_webhook_url, access_bearer_token,
			marketing_enabled, marketing_webhook_urls,
			created_at, updated_at
		FROM offers
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, offerID).Scan(
		&offer.ID,
		&offer.OwnerRef,
		&offer.Name,
		&offer.AdAttributionEnabled,
		&endpointsJSON,
		&offer.AccessEnabled,
		&offer.AccessWebhookURL,
		&offer.AccessBearerToken,
		&offer.MarketingEnabled,
		&urlsJSON,
		&offer.CreatedAt,
		&offer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	if len(endpointsJSON) > 0 {
		if err := json.Unmarshal(endpointsJSON, &offer.AdAttributionEndpoints); err != nil {
			return nil, fmt.Errorf("decode ad attribution endpoints: %w", err)
		}
	}
	if len(urlsJSON) > 0 {
		if err := json.Unmarshal(urlsJSON, &offer.MarketingWebhookURLs); err != nil {
			return nil, fmt.Errorf("decode marketing webhook urls: %w", err)
		}
	}
	return &offer, nil
}
