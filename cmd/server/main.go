// Package main initializes and starts the relay bot, setting up
// configuration, logging, storage, services, the dispatcher and either long
// polling or the HTTPS webhook.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/GophRelay/internal/bot"
	"github.com/atinyakov/GophRelay/internal/certgen"
	"github.com/atinyakov/GophRelay/internal/config"
	"github.com/atinyakov/GophRelay/internal/db"
	"github.com/atinyakov/GophRelay/internal/logger"
	"github.com/atinyakov/GophRelay/internal/models"
	"github.com/atinyakov/GophRelay/internal/repository"
	"github.com/atinyakov/GophRelay/internal/server/handler/http"
	"github.com/atinyakov/GophRelay/internal/service"
	"github.com/atinyakov/GophRelay/internal/transport/telegram"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

// storage bundles the repositories selected by configuration.
type storage struct {
	users        service.UserRepository
	correlations service.CorrelationStore
	health       http.Pinger
	close        func() error
}

func main() {
	// Parse command-line, file and environment configuration.
	options := config.Parse()
	if err := options.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	lg := logger.New()
	defer func() { _ = lg.Log.Sync() }()
	if err := lg.Init(options.LogLevel); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	zapLogger := lg.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options, zapLogger); err != nil {
		zapLogger.Fatal("relay stopped", zap.Error(err))
	}
	zapLogger.Info("relay stopped")
}

func run(ctx context.Context, options *config.Options, zapLogger *zap.Logger) error {
	store, err := openStorage(ctx, options, zapLogger)
	if err != nil {
		return err
	}
	defer func() { _ = store.close() }()

	// Restore users, the challenge and the backup channel.
	users := service.NewUserStore(store.users, models.SecurityChallenge{
		Question: options.SecurityQuestion,
		Answer:   options.SecurityAnswer,
	})
	if err := users.Load(ctx); err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	if _, ok := users.BackupChannel(); !ok && options.GroupID != 0 {
		if err := users.SetBackupChannel(ctx, options.GroupID); err != nil {
			return fmt.Errorf("store backup channel: %w", err)
		}
	}

	// Initialize the Bot API client.
	client, err := telegram.NewClient(telegram.ClientConfig{
		Token:      options.BotToken,
		HTTPClient: &nethttp.Client{Timeout: options.PollTimeout + 15*time.Second},
		Logger:     zapLogger,
	})
	if err != nil {
		return err
	}
	me, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	zapLogger.Info("authorized", zap.String("bot", me.Username), zap.Int64("admin_id", options.AdminID))

	// Initialize business-logic services.
	settings := service.Settings{
		AdminID:           models.UserID(options.AdminID),
		SendTimeout:       options.SendTimeout,
		MaxAnswerAttempts: options.MaxAnswerAttempts,
		BroadcastWorkers:  options.BroadcastWorkers,
		BroadcastRate:     options.BroadcastRate,
	}
	relay := service.NewRelayService(users, telegram.NewSender(client), store.correlations, settings, zapLogger)
	relayBot := bot.New(
		service.NewAuthService(users, settings),
		relay,
		service.NewCorrelator(store.correlations),
		service.NewAdminService(users, relay, settings, zapLogger),
		bot.Config{AdminID: settings.AdminID, BotUsername: me.Username},
		zapLogger,
	)
	dispatcher := bot.NewDispatcher(relayBot, options.Shards, 0, zapLogger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })

	switch options.Mode {
	case config.ModeWebhook:
		g.Go(func() error { return serveWebhook(gctx, options, client, dispatcher, store.health, zapLogger) })
	default:
		g.Go(func() error { return poll(gctx, options, client, dispatcher, zapLogger) })
	}

	err = g.Wait()
	relayBot.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openStorage uses Postgres when a DSN is configured, else the JSON file
// store with in-memory correlations.
func openStorage(ctx context.Context, options *config.Options, zapLogger *zap.Logger) (*storage, error) {
	if options.DatabaseDSN != "" {
		postgresDB, err := db.InitPostgres(options.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("cannot init database: %w", err)
		}

		db.StartCorrelationCleaner(ctx, postgresDB,
			time.Hour,              // interval
			options.CorrelationTTL, // retention
			zapLogger,
		)

		zapLogger.Info("using postgres storage")
		return &storage{
			users:        repository.NewPostgresUserRepository(postgresDB),
			correlations: repository.NewPostgresCorrelationRepository(postgresDB, options.CorrelationTTL),
			health:       postgresDB,
			close:        postgresDB.Close,
		}, nil
	}

	correlations := repository.NewMemoryCorrelations(options.CorrelationMax, options.CorrelationTTL)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := correlations.Prune(); n > 0 {
					zapLogger.Info("pruned expired correlations", zap.Int("removed", n))
				}
			}
		}
	}()

	zapLogger.Info("using file storage", zap.String("path", options.StorePath))
	return &storage{
		users:        repository.NewFileUserRepository(options.StorePath),
		correlations: correlations,
		close:        func() error { return nil },
	}, nil
}

func poll(ctx context.Context, options *config.Options, client *telegram.Client, dispatcher *bot.Dispatcher, zapLogger *zap.Logger) error {
	if err := client.DeleteWebhook(ctx); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	zapLogger.Info("polling for updates", zap.Duration("timeout", options.PollTimeout))
	return telegram.NewPoller(client, options.PollTimeout, zapLogger).Run(ctx, dispatcher.Sink(ctx))
}

func serveWebhook(ctx context.Context, options *config.Options, client *telegram.Client, dispatcher *bot.Dispatcher, health http.Pinger, zapLogger *zap.Logger) error {
	secret := options.WebhookSecret
	if secret == "" {
		secret = uuid.NewString()
	}

	// Serve TLS only when a certificate is present; otherwise a proxy
	// terminates TLS in front of the listener.
	var (
		tlsConfig *tls.Config
		certPEM   []byte
	)
	if _, err := os.Stat(options.TLSCert); err == nil {
		pair, err := tls.LoadX509KeyPair(options.TLSCert, options.TLSKey)
		if err != nil {
			return fmt.Errorf("failed to load webhook TLS cert/key: %w", err)
		}
		if certPEM, _, err = certgen.LoadCertificate(options.TLSCert); err != nil {
			return err
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{pair},
			MinVersion:   tls.VersionTLS12,
		}
	}

	router := http.NewRouter(
		&http.WebhookHandler{Updates: dispatcher, Logger: zapLogger},
		&http.HealthHandler{DB: health},
		secret,
		zapLogger,
	)
	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("starting webhook server", zap.String("addr", options.Port), zap.Bool("tls", tlsConfig != nil))
		var err error
		if tlsConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		errCh <- err
	}()

	if err := client.SetWebhook(ctx, telegram.WebhookConfig{
		URL:            options.WebhookURL,
		SecretToken:    secret,
		Certificate:    certPEM,
		AllowedUpdates: []string{"message", "callback_query"},
	}); err != nil {
		_ = server.Close()
		return fmt.Errorf("setWebhook: %w", err)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("webhook server shutdown", zap.Error(err))
	}
	return ctx.Err()
}
