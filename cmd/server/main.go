package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/securetrack/server/internal/config"
	"github.com/securetrack/server/internal/handlers"
	custommw "github.com/securetrack/server/internal/middleware"
	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/repository"
	"github.com/securetrack/server/internal/services"
	"github.com/securetrack/server/internal/store"
)

const serviceName = "securetrack-server"

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "mint-token" {
		os.Exit(mintToken(os.Args[2:]))
	}

	cfg, err := config.Load()
	if err != nil {
		observability.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	configureLogging(cfg)

	if err := run(cfg); err != nil {
		observability.Errorf("Server error: %v", err)
		os.Exit(1)
	}
}

func configureLogging(cfg *config.Config) {
	logger := observability.GetLogger()
	logger.SetLevel(observability.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.File != "" {
		logger.SetOutput(observability.RotatingOutput(observability.RotationConfig{Path: cfg.Logging.File}))
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Initialize(ctx, observability.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			observability.Warnf("Telemetry shutdown failed: %v", err)
		}
	}()

	remote, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	db, invitationRepo, err := openInvitations(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tokens, err := services.NewTokenManager(cfg.Server.JWTSecret, cfg.Server.JWTIssuer, cfg.Server.TokenTTL())
	if err != nil {
		return fmt.Errorf("session tokens: %w (set JWT_SECRET)", err)
	}

	var sender services.PushSender
	if cfg.FCM.Enabled() {
		fcm, err := services.NewFCMService(ctx, cfg.FCM.CredentialsPath)
		if err != nil {
			return fmt.Errorf("failed to initialize FCM: %w", err)
		}
		sender = fcm
	} else {
		observability.Warn("FCM credentials not configured; alarms reach connected agents only")
	}

	alarmMetrics, err := observability.NewAlarmMetrics()
	if err != nil {
		return fmt.Errorf("failed to create alarm metrics: %w", err)
	}
	presenceMetrics, err := observability.NewPresenceMetrics()
	if err != nil {
		return fmt.Errorf("failed to create presence metrics: %w", err)
	}
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		return fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	hub := services.NewWebSocketHub()
	go hub.Run(ctx)

	presence := services.NewPresenceSync(remote, presenceMetrics)
	defer presence.Stop()

	contacts := services.NewTrustedContactService(remote)
	invitations := services.NewInvitationService(invitationRepo, contacts, cfg.Invitations.TTL())
	limiter := services.NewAlarmLimiter(cfg.AlarmLimit.PerMinute, cfg.AlarmLimit.Burst, 0)
	alarms := services.NewAlarmService(remote, sender, hub, limiter, alarmMetrics)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Invitations.PurgeSchedule, func() {
		if _, err := invitations.PurgeExpired(ctx); err != nil {
			observability.Warnf("Invitation purge failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid invitation purge schedule %q: %w", cfg.Invitations.PurgeSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	healthHandler := handlers.NewHealthHandler(cfg.Store.Backend, hub)
	callableHandler := handlers.NewCallableHandler(alarms)
	contactHandler := handlers.NewContactHandler(contacts)
	invitationHandler := handlers.NewInvitationHandler(invitations)
	wsHandler := handlers.NewWebSocketHandler(hub, presence)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.TracingMiddleware(serviceName))
	r.Use(observability.MetricsMiddleware(httpMetrics))
	r.Use(custommw.BearerAuth(tokens, []string{"/api/health", "/api/version"}))

	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)
	r.Get("/api/version", handlers.NewVersionHandler(serviceName, version))

	r.Post("/api/callable/sendAlarm", callableHandler.SendAlarm)

	r.Route("/api/contacts", func(r chi.Router) {
		r.Get("/", contactHandler.List)
		r.Post("/", contactHandler.Add)
		r.Delete("/{id}", contactHandler.Remove)
	})

	r.Route("/api/invitations", func(r chi.Router) {
		r.Get("/", invitationHandler.List)
		r.Post("/", invitationHandler.Issue)
		r.Post("/redeem", invitationHandler.Redeem)
	})

	r.Get("/api/ws", wsHandler.HandleConnection)

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.Infof("SecureTrack server %s starting on %s (store: %s)", version, cfg.Server.Address, cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	observability.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	observability.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Store) (store.RemoteStore, func(), error) {
	if cfg.UseFirestore() {
		fs, err := store.NewFirestoreStore(ctx, cfg.ProjectID, cfg.CredentialsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open Firestore: %w", err)
		}
		observability.WithField("project_id", cfg.ProjectID).Info("Using Firestore store")
		return fs, func() { fs.Close() }, nil
	}

	observability.Warn("Using in-memory store; data is lost on restart")
	mem := store.NewMemoryStore()
	return mem, func() { mem.Close() }, nil
}

func openInvitations(cfg *config.Config) (*sql.DB, repository.InvitationCodeRepo, error) {
	if cfg.UsePostgres() {
		observability.Info("Using PostgreSQL database")
		db, err := repository.NewPostgresDB(cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize PostgreSQL database: %w", err)
		}
		traced, err := observability.NewTraceDB(db, "postgresql")
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, repository.NewInvitationRepositoryPostgres(traced), nil
	}

	observability.Info("Using SQLite database")
	db, err := repository.NewSQLiteDB(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize SQLite database: %w", err)
	}
	traced, err := observability.NewTraceDB(db, "sqlite")
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, repository.NewInvitationRepository(traced), nil
}

// mintToken issues a session token for local development
func mintToken(args []string) int {
	fs := flag.NewFlagSet("mint-token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (token subject)")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	tokens, err := services.NewTokenManager(cfg.Server.JWTSecret, cfg.Server.JWTIssuer, cfg.Server.TokenTTL())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	token, err := tokens.Mint(*userID, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
