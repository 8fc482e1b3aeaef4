/**
 * @description
 * This is the main entry point for the reconciliation-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, external API clients, message brokers, repositories, the
 * core application service, and the HTTP server. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/customerclient, pkg/fxclient: Clients for sibling services.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumapay/reconciliation-service/internal/api"
	"github.com/lumapay/reconciliation-service/internal/app"
	"github.com/lumapay/reconciliation-service/internal/config"
	"github.com/lumapay/reconciliation-service/internal/gateway"
	"github.com/lumapay/reconciliation-service/internal/integrations"
	"github.com/lumapay/reconciliation-service/internal/store"
	"github.com/lumapay/reconciliation-service/pkg/customerclient"
	"github.com/lumapay/reconciliation-service/pkg/fxclient"
	"github.com/lumapay/reconciliation-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting reconciliation-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Webhook bursts during checkout peaks drive the pool sizing.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish recorded-payment events.
	// This service only needs to publish, so we use a producer.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the customer-service. Missing configuration
	// should not prevent boot; buyer-detail backfill will degrade.
	var customerDirectory app.CustomerDirectory
	if strings.TrimSpace(cfg.CustomerServiceURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"customer-service client not configured; buyer backfill disabled\" env=CUSTOMER_SERVICE_URL")
	} else {
		customerDirectory = customerclient.NewClient(cfg.CustomerServiceURL, cfg.CustomerServiceInternalAPIKey)
	}

	// Initialize the FX client for conversion-currency translation. Without
	// it, conversion values are reported in the source currency.
	var converter integrations.CurrencyConverter
	if strings.TrimSpace(cfg.FxServiceURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"fx-service client not configured; conversion amounts reported in source currency\" env=FX_SERVICE_URL")
	} else {
		converter = fxclient.NewClient(cfg.FxServiceURL)
	}

	// Optional Redis-backed webhook rate limiting.
	var rateLimiter *app.RedisWebhookRateLimiter
	if cfg.WebhookRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					rateLimiter = app.NewRedisWebhookRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Gateway signature verifiers and payload normalizers.
	verifiers := map[string]gateway.Verifier{
		gateway.SpaceCardgate: gateway.NewCardgateVerifier(cfg.CardgateWebhookSecret),
		gateway.SpacePayflow:  gateway.NewPayflowVerifier(cfg.PayflowWebhookSecret),
	}
	if strings.TrimSpace(cfg.InstapixPublicKey) == "" {
		log.Println("level=warn component=bootstrap msg=\"instapix public key not configured; instapix webhooks disabled\" env=INSTAPIX_PUBLIC_KEY")
	} else {
		instapixVerifier, vErr := gateway.NewInstapixVerifier(cfg.InstapixPublicKey)
		if vErr != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"instapix public key parse failed\" err=%v", vErr)
		}
		verifiers[gateway.SpaceInstapix] = instapixVerifier
	}
	normalizers := map[string]gateway.Normalizer{
		gateway.SpaceCardgate: gateway.CardgateNormalizer{},
		gateway.SpacePayflow:  gateway.PayflowNormalizer{},
		gateway.SpaceInstapix: gateway.InstapixNormalizer{},
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Downstream integrations and their parallel dispatcher.
	dispatchTimeout := time.Duration(cfg.IntegrationDispatchTimeoutSeconds) * time.Second
	dispatcher := app.NewDispatcher(repository, []integrations.Integration{
		integrations.NewAdAttribution(converter, dispatchTimeout),
		integrations.NewAccess(dispatchTimeout),
		integrations.NewMarketing(dispatchTimeout),
	}, dispatchTimeout)

	// Initialize the core application service with its dependencies.
	reconciliationService := app.NewService(
		repository,
		dispatcher,
		app.NewPermitPool(cfg.MaxConcurrentNotifications),
		customerDirectory,
		producer,
		dispatchTimeout,
	)

	// Recurring reprocessing sweep.
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	scheduler := app.NewScheduler(reconciliationService, slogger, cfg.SweepSchedule, cfg.SweepBatchLimit)
	scheduler.Start()

	// Initialize the API handlers and router.
	webhookHandlers := api.NewWebhookHandlers(
		reconciliationService,
		verifiers,
		normalizers,
		rateLimiter,
		cfg.WebhookRateLimitPerMinute,
	)
	router := api.ReconciliationRoutes(webhookHandlers, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	<-scheduler.Stop().Done()

	// Let in-flight integration deliveries finish before the process exits;
	// anything cut off is recovered by the next sweep.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), time.Duration(cfg.DispatchDrainTimeoutSeconds)*time.Second)
	defer cancelDrain()
	if err := reconciliationService.DrainDispatches(drainCtx); err != nil {
		log.Printf("level=warn component=http msg=\"integration dispatch drain timed out; sweep will recover\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
