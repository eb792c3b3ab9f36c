package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/puffperksonline/puffperks/internal/auth"
	"github.com/puffperksonline/puffperks/internal/billing"
	"github.com/puffperksonline/puffperks/internal/cards"
	cardsdb "github.com/puffperksonline/puffperks/internal/cards/db"
	"github.com/puffperksonline/puffperks/internal/config"
	customerapi "github.com/puffperksonline/puffperks/internal/customer/api"
	dashboardapi "github.com/puffperksonline/puffperks/internal/dashboard/api"
	"github.com/puffperksonline/puffperks/internal/database/migrations"
	"github.com/puffperksonline/puffperks/internal/kafka"
	"github.com/puffperksonline/puffperks/internal/ledger"
	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
	"github.com/puffperksonline/puffperks/internal/presence"
	"github.com/puffperksonline/puffperks/internal/qr"
	"github.com/puffperksonline/puffperks/internal/scheduler"
	storedb "github.com/puffperksonline/puffperks/internal/store/db"
	"github.com/puffperksonline/puffperks/internal/workflow"
)

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.Database.DSN == "" {
		log.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	log.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	// Presence expiry detection rides on keyspace notifications.
	_, err = redisClient.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result()
	if err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		log.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Loyalty Gateway initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Each running instance gets an identity so cross-instance fanout can
	// tell its own messages apart from its peers'.
	instanceID := uuid.NewString()
	log.Info("APP", fmt.Sprintf("Instance id: %s", instanceID))

	log.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	migrationRunner := migrations.NewRunner(bunDB, migrations.DefaultOptions(), log)
	if err := migrationRunner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}

	log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.Topics.StampUpdated}); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		log.Info("KAFKA", "Required topics ensured successfully")
	}
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.StampUpdated)
	defer producer.Close()

	// Every instance must see every stamp update, so the consumer group is
	// suffixed with the instance id instead of being shared.
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.StampUpdated,
		fmt.Sprintf("%s-%s", cfg.Kafka.GroupID, instanceID), log)
	defer consumer.Close()

	cardStore := &cardsdb.DB{Bun: bunDB}
	storeStore := &storedb.DB{Bun: bunDB}

	tracker := presence.NewTracker(redisClient, cfg.Presence.HeartbeatTTL, log)
	emitter := presence.NewEmitter()
	hub := presence.NewHub(tracker, emitter, log)

	tokenCache := auth.NewRedisTokenCache(redisClient)
	tokens := auth.NewM2MTokenSource(models.M2MConfig{
		TokenURL:     cfg.Auth.TokenURL,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
	}, tokenCache, nil, log)

	ledgerClient := ledger.NewClient(cfg.Ledger.FunctionsBaseURL, cfg.Ledger.RequestTimeout, tokens, log)
	refresher := cards.NewRefresher(cardStore, producer, hub, instanceID, log)
	engine := workflow.NewEngine(ledgerClient, refresher, hub, cfg.Workflow.UndoWindow, log)

	qrGenerator := qr.NewGenerator(cfg.Server.PublicURL, cfg.Auth.QRSecret)

	billingService, err := billing.NewService(cfg.Stripe.SecretKey, storeStore, log)
	if err != nil {
		log.Fatal("STRIPE", fmt.Sprintf("Stripe initialization failed: %v", err))
	}

	resolver := auth.NewResolver(storeStore, cardStore, log)

	dashboardHandler := &dashboardapi.Handler{
		Engine:    engine,
		Analytics: ledgerClient,
		Cards:     cardStore,
		Locations: storeStore,
		QR:        qrGenerator,
		Billing:   billingService,
		Channels:  hub,
		Logger:    log,
	}
	customerHandler := &customerapi.Handler{
		Cards:      cardStore,
		Directory:  cardStore,
		Locations:  storeStore,
		Signatures: qrGenerator,
		Engine:     engine,
		Channels:   hub,
		PublicURL:  cfg.Server.PublicURL,
		Logger:     log,
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.OIDCIssuer))
		r.Use(resolver.WithSession)
		log.Info("AUTH", "OIDC middleware applied to protected API routes")

		r.Route("/api/dashboard/{storeID}", func(r chi.Router) {
			// Card viewers heartbeat onto the store channel too, so this
			// one route only needs an authenticated session.
			r.Post("/presence/heartbeat", dashboardHandler.HandleHeartbeat)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireStoreOwner)
				r.Post("/cards/{cardID}/stamp", dashboardHandler.Stamp)
				r.Post("/cards/{cardID}/redeem", dashboardHandler.Redeem)
				r.Post("/stamps/manual", dashboardHandler.ManualStamps)
				r.Get("/events", dashboardHandler.HandleEvents)
				r.Get("/analytics", dashboardHandler.GetAnalytics)
				r.Get("/segments", dashboardHandler.GetSegments)
				r.Get("/customers/{customerID}/notes", dashboardHandler.ListNotes)
				r.Post("/customers/{customerID}/notes", dashboardHandler.AddNote)
				r.Delete("/notes/{noteID}", dashboardHandler.DeleteNote)
				r.Get("/customers/{customerID}/history", dashboardHandler.GetHistory)
				r.Get("/locations/{locationID}/qr", dashboardHandler.GetLocationQR)
				r.Get("/billing", dashboardHandler.GetBilling)
			})
		})
		log.Info("ROUTER", "Dashboard routes registered under /api/dashboard/{storeID}")

		// Signing up only needs an authenticated identity; the customer
		// profile is created by the handler itself.
		r.Post("/api/join/{locationID}", customerHandler.HandleJoin)

		r.Route("/api/customer", func(r chi.Router) {
			r.Use(auth.RequireCustomer)
			r.Get("/card/{cardID}", customerHandler.GetCard)
			r.Get("/card/{cardID}/rewards", customerHandler.GetRewards)
			r.Post("/card/{cardID}/redeem", customerHandler.Redeem)
			r.Get("/card/{cardID}/events", customerHandler.HandleEvents)
			r.Get("/card/{cardID}/referral", customerHandler.GetReferral)
		})
		log.Info("ROUTER", "Customer routes registered under /api/customer")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info("REDIS", "Starting presence expiry subscription")
	go tracker.SubscribeExpiry(ctx, hub.OnPresenceExpired)

	go consumer.Start(ctx, func(msg models.StampUpdateMessage) {
		// Our own broadcasts already went out locally before publishing.
		if msg.Origin == instanceID {
			return
		}
		hub.BroadcastStampUpdate(msg.StampUpdate, msg.CustomerID)
	})

	schedLock := scheduler.NewLock(redisClient, "scheduler:leader", instanceID, 4*time.Minute)
	sched := scheduler.New(schedLock, 5*time.Minute, log)
	sched.Register(&scheduler.SubscriptionSyncJob{Stores: storeStore, Billing: billingService, Log: log})
	sched.Register(&scheduler.TrialNoticeJob{Stores: storeStore, Notices: hub, Window: 48 * time.Hour, Now: time.Now})
	sched.Register(&scheduler.OpenHoursRefreshJob{Stores: storeStore, Locations: storeStore, Events: emitter, Now: time.Now})
	go sched.Run(ctx)

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Loyalty Gateway running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Loyalty Gateway shutdown complete")
	}
}
