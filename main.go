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
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/badge"
	"ms-checkin/internal/checkin"
	checkincache "ms-checkin/internal/checkin/cache"
	"ms-checkin/internal/checkin/checkin_api"
	checkindb "ms-checkin/internal/checkin/db"
	"ms-checkin/internal/config"
	"ms-checkin/internal/database/migrations"
	"ms-checkin/internal/kafka"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/sse"
)

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
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

		if err = sqldb.Ping(); err == nil {
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
	log.Info("DATABASE", "PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))

	return bunDB, redisClient
}

func startTicketSync(ctx context.Context, cfg *config.Config, store *checkindb.DB, log *logger.Logger) *kafka.Consumer {
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, kafka.TopicTicketIssued, cfg.Kafka.GroupID)

	go func() {
		log.Info("KAFKA", fmt.Sprintf("Ticket catalog sync consuming %s", kafka.TopicTicketIssued))
		err := consumer.Start(ctx, func(event models.TicketIssuedEvent) error {
			ticket := &models.Ticket{
				ID:            event.TicketID,
				Code:          checkin.NormalizeCode(event.Code),
				TicketTypeID:  event.TicketTypeID,
				AttendeeName:  event.AttendeeName,
				AttendeeEmail: event.AttendeeEmail,
			}
			if err := store.UpsertTicket(ctx, ticket); err != nil {
				log.Error("KAFKA", fmt.Sprintf("Failed to sync ticket %s: %v", event.TicketID, err))
				return err
			}
			log.LogKafka("SYNC", kafka.TopicTicketIssued, fmt.Sprintf("ticket %s upserted", event.TicketID))
			return nil
		})
		if err != nil {
			log.Error("KAFKA", fmt.Sprintf("Ticket sync consumer stopped: %v", err))
		}
	}()

	return consumer
}

func main() {
	log := logger.NewLogger("checkin-service")
	defer log.Close()

	log.Info("APP", "Starting Check-In Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	migrationRunner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := migrationRunner.Up(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	log.Info("DATABASE", "Migrations applied")

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.RequiredTopics()); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		log.Info("KAFKA", "Kafka producer initialized")
	} else {
		log.Warn("KAFKA", "Kafka disabled, lifecycle events will not be published")
	}

	store := &checkindb.DB{
		Bun:         bunDB,
		LockWait:    cfg.Checkin.LockWait,
		EntryWindow: cfg.Checkin.EntryWindow,
	}

	statsCache := checkincache.NewCache(redisClient, cfg.Redis.StatsTTL, cfg.Redis.PackTTL)
	feed := sse.NewCheckinFeed()

	var publisher checkin.KafkaPublisher
	if producer != nil {
		publisher = producer
	}

	service := checkin.NewCheckinService(store, publisher, feed, statsCache, log)
	service.SearchLimit = cfg.Checkin.SearchLimit
	service.RecentLimit = cfg.Checkin.RecentLimit

	badgeGen := badge.NewGenerator(cfg.Checkin.BadgeSecretKey)
	handler := checkin_api.NewHandler(service, badgeGen, feed, statsCache, log)

	if cfg.Kafka.Enabled {
		consumer := startTicketSync(ctx, cfg, store, log)
		defer consumer.Close()
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.OIDCIssuer))
		r.Route("/api", func(r chi.Router) {
			handler.RegisterRoutes(r)
		})
		log.Info("ROUTER", "Check-in routes registered under /api/checkin")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Check-In Service running on %s", cfg.Server.Port))
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
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Check-In Service shutdown complete")
	}
}
