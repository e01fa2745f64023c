// Command oneid-server serves the account endpoints over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	oi "github.com/panyam/oneid"
	"github.com/panyam/oneid/oauth2"
	"github.com/panyam/oneid/stores/fs"
	"github.com/panyam/oneid/stores/gae"
	oigorm "github.com/panyam/oneid/stores/gorm"
	oimongo "github.com/panyam/oneid/stores/mongo"
	oiredis "github.com/panyam/oneid/stores/redis"
)

func main() {
	cfg, err := LoadConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *Config) *slog.Logger {
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type closer func() error

func openCredentialStore(ctx context.Context, cfg *Config) (oi.CredentialStore, closer, error) {
	noop := func() error { return nil }
	switch cfg.StoreBackend {
	case BackendGorm:
		db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := oigorm.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return oigorm.NewCredentialStore(db), sqlDB.Close, nil
	case BackendMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		store := oimongo.NewCredentialStore(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, nil, fmt.Errorf("create indexes: %w", err)
		}
		return store, func() error { return client.Disconnect(context.Background()) }, nil
	case BackendDatastore:
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("create datastore client: %w", err)
		}
		return gae.NewCredentialStore(client, cfg.DatastoreNamespace), client.Close, nil
	default:
		return fs.NewFSCredentialStore(cfg.FSStoragePath), noop, nil
	}
}

// openEphemeral returns the reset code store and the session store. Without
// redis, codes live on disk and sessions in memory.
func openEphemeral(ctx context.Context, cfg *Config) (oi.EphemeralStore, scs.Store, closer, error) {
	if cfg.RedisURI == "" {
		return fs.NewFSSecretStore(cfg.FSStoragePath), nil, func() error { return nil }, nil
	}
	opts, err := goredis.ParseURL(cfg.RedisURI)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse REDIS_URI: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return oiredis.NewSecretStore(client, ""), oiredis.NewSessionStore(client, ""), client.Close, nil
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	store, closeStore, err := openCredentialStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	secrets, sessions, closeEphemeral, err := openEphemeral(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEphemeral()

	signer := oi.NewTokenSigner(cfg.JWTSecret, cfg.JWTIssuer)
	signer.Expiry = cfg.ActivationTTL

	accounts := &oi.Accounts{
		Store:     store,
		Secrets:   secrets,
		Signer:    signer,
		Notifier:  &oi.ConsoleNotifier{ActivationURL: cfg.ActivationURL},
		Audiences: cfg.Audiences(),
		Logger:    logger,
	}
	if cfg.GoogleEnabled() {
		verifier, err := oauth2.NewGoogleVerifier(ctx)
		if err != nil {
			return fmt.Errorf("create google verifier: %w", err)
		}
		accounts.Verifier = verifier
	}
	accounts.EnsureDefaults()

	guard := oi.NewSessionGuard(accounts, sessions)
	guard.Manager.Cookie.Secure = cfg.IsProduction()
	handlers := oi.NewHandlers(accounts, guard)

	mux := http.NewServeMux()
	mux.Handle("/auth/", handlers.Handler("/auth"))
	if cfg.GoogleWebClientID != "" && cfg.GoogleWebClientSecret != "" {
		flow := oauth2.NewGoogleCodeFlow(cfg.GoogleWebClientID, cfg.GoogleWebClientSecret, cfg.GoogleRedirectURL, handlers.CompleteGoogleWeb)
		mux.Handle("/auth/google/web/", guard.Manager.LoadAndSave(http.StripPrefix("/auth/google/web", flow.Handler())))
	}
	pages := &oi.Middleware{Guard: guard, GetRedirURL: func(*http.Request) string { return cfg.LoginPageURL }}
	mux.Handle("/account", guard.Manager.LoadAndSave(pages.EnsureIdentity(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			identity, err := accounts.GetIdentity(r.Context(), oi.IdentityIDFromContext(r.Context()))
			if err != nil {
				oi.WriteError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(identity)
		}))))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "backend", cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
