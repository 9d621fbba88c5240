package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/securetrack/server/internal/config"
	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/repository"
	"github.com/securetrack/server/internal/services"
	"github.com/securetrack/server/internal/store"
)

const (
	serviceName      = "securetrack-agent"
	journalRetention = 7 * 24 * time.Hour
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger := observability.GetLogger()
	logger.SetLevel(observability.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.File != "" {
		logger.SetOutput(observability.RotatingOutput(observability.RotationConfig{Path: cfg.Logging.File}))
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "send-alarm":
			os.Exit(sendAlarm(cfg, os.Args[2:]))
		case "history":
			os.Exit(history(cfg, os.Args[2:]))
		}
	}

	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	pushToken := fs.String("push-token", "", "device push token to register for the signed-in user")
	track := fs.Bool("track", true, "start tracking when there is nothing to resume")
	fs.Parse(os.Args[1:])

	if err := run(cfg, *pushToken, *track); err != nil {
		observability.Errorf("Agent error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, pushToken string, track bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := services.SessionFromToken(cfg.Agent.SessionToken)
	if err != nil {
		return fmt.Errorf("invalid session token: %w", err)
	}
	userID, _ := session.CurrentUserID()

	deviceID := agentDeviceID(cfg)

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

	journal, closeJournal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer closeJournal()

	trackingMetrics, err := observability.NewTrackingMetrics()
	if err != nil {
		return fmt.Errorf("failed to create tracking metrics: %w", err)
	}
	alarmMetrics, err := observability.NewAlarmMetrics()
	if err != nil {
		return fmt.Errorf("failed to create alarm metrics: %w", err)
	}

	auth := services.NewStaticAuthorization(accessLevels(cfg.Agent.Permissions), cfg.Agent.AutoGrant)
	gate := services.NewHostPermissionGate(auth)
	source := services.NewFeedLocationSource()

	tracker := services.NewLocationTrackingService(gate, source, remote, session, journal, trackingMetrics,
		services.TrackingServiceConfig{DeviceID: deviceID, WriteTimeout: cfg.Agent.WriteTimeout()})
	auth.OnRevoked(tracker.OnPermissionRevoked)

	log := observability.WithFields(map[string]interface{}{
		"user_id":   userID,
		"device_id": deviceID,
	})

	states, unsubscribe := tracker.Subscribe()
	defer unsubscribe()
	go func() {
		for state := range states {
			log.WithField("state", state.String()).Info("Tracking state changed")
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-tracker.Diagnostics():
				log.WithField("kind", string(d.Kind)).Warnf("Tracking diagnostic: %v", d.Err)
			}
		}
	}()

	feed, closeFeed, err := openFeed(cfg.Agent.LocationFeed)
	if err != nil {
		return err
	}
	defer closeFeed()
	go func() {
		if err := source.Run(ctx, feed); err != nil {
			log.Warnf("Location feed ended: %v", err)
		}
	}()

	if pushToken != "" {
		if err := services.NewTokenSync(remote, session).OnNewToken(ctx, pushToken); err != nil {
			log.Warnf("Failed to register push token: %v", err)
		}
	}

	var bell io.Writer
	if cfg.Agent.Bell {
		bell = os.Stdout
	}
	receiver := services.NewAlarmReceiver(services.NewLogNotificationSink(bell), alarmMetrics)
	listener, err := services.NewPushListener(cfg.Agent.ServerURL, session, receiver)
	if err != nil {
		return err
	}
	go func() {
		if err := listener.Run(ctx); err != nil {
			log.Errorf("Push listener stopped: %v", err)
		}
	}()

	if !gate.HasAccess() {
		if gate.ShouldExplainRationale() {
			log.Info("Location access lets trusted contacts see where this device is")
		}
		gate.Request(func(granted bool) {
			if !granted {
				log.Warn("Location access denied; tracking stays degraded")
				return
			}
			if track && tracker.State().Phase == models.TrackingDegraded {
				tracker.Start(ctx)
			}
		})
	}

	outcome, resumed, err := tracker.Resume(ctx)
	if err != nil {
		log.Warnf("Failed to read tracking journal: %v", err)
	}
	if !resumed && track {
		outcome = tracker.Start(ctx)
	}
	if outcome.Err != nil {
		log.Warnf("Tracking not started: %v", outcome.Err)
	}

	scheduler := cron.New()
	if cfg.Agent.SingleFixSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.Agent.SingleFixSchedule, func() {
			if _, err := tracker.RequestSingleFix(ctx); err != nil {
				log.Warnf("Single fix failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid single fix schedule %q: %w", cfg.Agent.SingleFixSchedule, err)
		}
	}
	if _, err := scheduler.AddFunc("@daily", func() {
		n, err := journal.PruneBefore(ctx, time.Now().Add(-journalRetention))
		if err != nil {
			log.Warnf("Journal prune failed: %v", err)
			return
		}
		log.Debugf("Pruned %d journal entries", n)
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	// SIGUSR1 revokes location access and SIGUSR2 restores the configured grants
	permSignals := make(chan os.Signal, 1)
	signal.Notify(permSignals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(permSignals)

	log.Infof("SecureTrack agent %s running (tracking: %s)", version, tracker.State())

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down agent...")
			<-scheduler.Stop().Done()
			tracker.Close()
			log.Info("Agent stopped")
			return nil
		case sig := <-permSignals:
			if sig == syscall.SIGUSR1 {
				for _, level := range accessLevels(cfg.Agent.Permissions) {
					auth.Revoke(level)
				}
				continue
			}
			for _, level := range accessLevels(cfg.Agent.Permissions) {
				auth.Grant(level)
			}
			if tracker.State().CanStart() && track {
				tracker.Start(ctx)
			}
		}
	}
}

// sendAlarm rings another user's device and prints the outcome
func sendAlarm(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("send-alarm", flag.ContinueOnError)
	target := fs.String("target", "", "user id of the contact to alert")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	session, err := services.SessionFromToken(cfg.Agent.SessionToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid session token: %v\n", err)
		return 1
	}

	client := services.NewHTTPCallableClient(cfg.Agent.ServerURL, session, *timeout)
	dispatcher := services.NewAlarmDispatcher(client, nil)

	result := <-dispatcher.Send(context.Background(), *target)
	if !result.Success {
		fmt.Fprintf(os.Stderr, "alarm not sent (%s): %s\n", result.Outcome, result.ErrorMessage)
		if result.Outcome == models.AlarmInvalidTarget {
			return 2
		}
		return 1
	}
	fmt.Printf("alarm sent: %s\n", result.MessageID)
	return 0
}

// history prints the most recent tracking journal entries for this device
func history(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of entries")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	journal, closeJournal, err := openJournal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeJournal()

	entries, err := journal.History(context.Background(), agentDeviceID(cfg), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read journal: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Printf("%s  %-8s  %s\n", e.RecordedAt.Local().Format(time.RFC3339), e.Intent, e.State)
	}
	return 0
}

func agentDeviceID(cfg *config.Config) string {
	if cfg.Agent.DeviceID != "" {
		return cfg.Agent.DeviceID
	}
	host, _ := os.Hostname()
	return host
}

func openJournal(cfg *config.Config) (repository.TrackingJournalRepo, func(), error) {
	if cfg.UsePostgres() {
		db, err := repository.NewPostgresDB(cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open tracking journal: %w", err)
		}
		traced, err := observability.NewTraceDB(db, "postgresql")
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return repository.NewTrackingJournalRepositoryPostgres(traced), func() { db.Close() }, nil
	}

	db, err := repository.NewSQLiteDB(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open tracking journal: %w", err)
	}
	traced, err := observability.NewTraceDB(db, "sqlite")
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return repository.NewTrackingJournalRepository(traced), func() { db.Close() }, nil
}

func openStore(ctx context.Context, cfg config.Store) (store.RemoteStore, func(), error) {
	if cfg.UseFirestore() {
		fs, err := store.NewFirestoreStore(ctx, cfg.ProjectID, cfg.CredentialsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open Firestore: %w", err)
		}
		return fs, func() { fs.Close() }, nil
	}
	observability.Warn("Using in-memory store; presence is visible to this process only")
	mem := store.NewMemoryStore()
	return mem, func() { mem.Close() }, nil
}

func openFeed(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open location feed: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func accessLevels(names []string) []services.AccessLevel {
	levels := make([]services.AccessLevel, 0, len(names))
	for _, n := range names {
		switch level := services.AccessLevel(strings.ToLower(strings.TrimSpace(n))); level {
		case services.AccessPrecise, services.AccessCoarse:
			levels = append(levels, level)
		default:
			observability.Warnf("Ignoring unknown permission %q", n)
		}
	}
	return levels
}
