/**
 * @description
 * Standalone CLI for running the integration reprocessing sweep on demand,
 * outside the service's cron schedule. Operators use it after downstream
 * outages to re-drive undelivered integrations, or with -dry-run to inspect
 * the backlog without sending anything.
 *
 * Usage:
 *   reprocess [-dry-run] [-limit N] [-from RFC3339] [-to RFC3339]
 */

package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumapay/reconciliation-service/internal/app"
	"github.com/lumapay/reconciliation-service/internal/config"
	"github.com/lumapay/reconciliation-service/internal/integrations"
	"github.com/lumapay/reconciliation-service/internal/store"
	"github.com/lumapay/reconciliation-service/pkg/fxclient"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "list candidate entries without dispatching anything")
	limit := flag.Int("limit", 0, "maximum number of entries to process (default 100, capped at 500)")
	fromRaw := flag.String("from", "", "only consider entries created at or after this RFC3339 timestamp")
	toRaw := flag.String("to", "", "only consider entries created at or before this RFC3339 timestamp")
	flag.Parse()

	params := app.SweepParams{DryRun: *dryRun, Limit: *limit}
	if *fromRaw != "" {
		from, err := time.Parse(time.RFC3339, *fromRaw)
		if err != nil {
			log.Fatalf("level=fatal component=reprocess msg=\"invalid -from timestamp, expected RFC3339\" value=%q err=%v", *fromRaw, err)
		}
		params.CreatedFrom = &from
	}
	if *toRaw != "" {
		to, err := time.Parse(time.RFC3339, *toRaw)
		if err != nil {
			log.Fatalf("level=fatal component=reprocess msg=\"invalid -to timestamp, expected RFC3339\" value=%q err=%v", *toRaw, err)
		}
		params.CreatedTo = &to
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=reprocess msg=\"config load failed\" err=%v", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=reprocess msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=reprocess msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()

	var converter integrations.CurrencyConverter
	if cfg.FxServiceURL != "" {
		converter = fxclient.NewClient(cfg.FxServiceURL)
	}

	repository := store.NewPostgresRepository(dbpool)
	dispatchTimeout := time.Duration(cfg.IntegrationDispatchTimeoutSeconds) * time.Second
	dispatcher := app.NewDispatcher(repository, []integrations.Integration{
		integrations.NewAdAttribution(converter, dispatchTimeout),
		integrations.NewAccess(dispatchTimeout),
		integrations.NewMarketing(dispatchTimeout),
	}, dispatchTimeout)

	service := app.NewService(repository, dispatcher, nil, nil, nil, dispatchTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	summary, err := service.ReprocessIncompleteIntegrations(ctx, params)
	if err != nil {
		log.Fatalf("level=fatal component=reprocess msg=\"sweep failed\" err=%v", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(summary); err != nil {
		log.Fatalf("level=fatal component=reprocess msg=\"summary encode failed\" err=%v", err)
	}
}
