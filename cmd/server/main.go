package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/booking"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/gateway"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/storage"
)

// coreStore is everything the gateway process persists.
type coreStore interface {
	storage.BookingStore
	storage.DriverStore
	storage.LocationStore
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rc.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis at %s unreachable: %v", cfg.RedisAddr, err)
	}
	cancel()

	var store coreStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		if cfg.RunMigrations {
			if b, err := os.ReadFile(filepath.Join("migrations", "001_create_core_tables.sql")); err != nil {
				log.Printf("migration read error: %v", err)
			} else if _, err := ps.DB().Exec(string(b)); err != nil {
				log.Printf("migration exec error: %v", err)
			} else {
				log.Printf("migration applied: 001_create_core_tables.sql")
			}
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	producer := ingest.NewKafkaProducer(brokers, cfg.KafkaTopic)
	defer producer.Close()

	registry := presence.NewRedisRegistry(rc, cfg.PresenceTTL)
	conns := gateway.NewTable()
	relay := &gateway.Relay{
		Client:      rc,
		Conns:       conns,
		Registry:    registry,
		Channel:     cfg.RelayChannel,
		LocationCh:  cfg.LocationCh,
		SendTimeout: cfg.SendTimeout,
		Logger:      logger,
	}

	bookings := &booking.Service{Store: store, Registry: registry, Sender: relay, Logger: logger}
	broker := &dispatch.Broker{Registry: registry, Bookings: bookings, Sender: relay, Logger: logger}
	locations := &location.Service{
		Cache:   location.NewRedisCache(rc, cfg.PresenceTTL),
		Durable: store,
		Logger:  logger,
	}

	srv := gateway.NewServer(gateway.Deps{
		Logger:    logger,
		Registry:  registry,
		Broker:    broker,
		Bookings:  bookings,
		Locations: locations,
		Queue:     producer,
		Store:     store,
		Conns:     conns,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("relay stopped", "error", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("gateway listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	_ = rc.Close()
}
