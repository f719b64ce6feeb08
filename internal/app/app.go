// Package app is the workbench's composition root. The session manager is
// constructed exactly once here and handed to every collaborator; nothing in
// the tree reaches for it through package-level state.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/einvoice-tools/registry-workbench/internal/config"
	"github.com/einvoice-tools/registry-workbench/internal/credstore"
	"github.com/einvoice-tools/registry-workbench/internal/drafts"
	"github.com/einvoice-tools/registry-workbench/internal/observability"
	"github.com/einvoice-tools/registry-workbench/internal/registry"
	"github.com/einvoice-tools/registry-workbench/internal/session"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Observability *observability.Runtime
	CredStore     credstore.Store
	Sessions      *session.Manager
	Registry      *registry.Client
	Drafts        drafts.Repository
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	runtime *observability.Runtime,
	store credstore.Store,
	sessions *session.Manager,
	client *registry.Client,
	draftRepo drafts.Repository,
) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Observability: runtime,
		CredStore:     store,
		Sessions:      sessions,
		Registry:      client,
		Drafts:        draftRepo,
	}
}

// logging pairs the process logger with its optional OTLP provider so wire
// can thread both through the graph.
type logging struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

func provideLogging(ctx context.Context, cfg *config.Config) (*logging, error) {
	logger, lp, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &logging{logger: logger, provider: lp}, nil
}

func provideLogger(l *logging) *slog.Logger { return l.logger }

func provideRuntime(ctx context.Context, cfg *config.Config, l *logging) (*observability.Runtime, func(), error) {
	runtime, err := observability.InitRuntime(ctx, cfg, l.logger, l.provider)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := runtime.Shutdown(context.Background()); err != nil {
			l.logger.Warn("observability shutdown failed", "err", err)
		}
	}
	return runtime, cleanup, nil
}

func provideCredStore(cfg *config.Config, logger *slog.Logger) (credstore.Store, func(), error) {
	switch cfg.CredStoreDriver {
	case "memory":
		return credstore.NewMemoryStore(), func() {}, nil
	case "file":
		return credstore.NewFileStore(cfg.CredStoreFile, cfg.CredStorePassphrase), func() {}, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.CredStoreRedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse credstore redis url: %w", err)
		}
		client := redis.NewClient(opts)
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("closing credstore redis client failed", "err", err)
			}
		}
		return credstore.NewRedisStore(client, cfg.CredStoreRedisPrefix), cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown credstore driver %q", cfg.CredStoreDriver)
	}
}

func provideSessionManager(cfg *config.Config, store credstore.Store, logger *slog.Logger) *session.Manager {
	return session.NewManager(store, session.Options{
		RefreshURL:      cfg.IdentityRefreshURL,
		WarningLead:     cfg.SessionWarningLead,
		DefaultTokenTTL: cfg.SessionDefaultTokenTTL,
		HTTPClient:      &http.Client{Timeout: cfg.RegistryTimeout},
	}, logger)
}

func provideRegistryClient(cfg *config.Config, sessions *session.Manager, logger *slog.Logger) *registry.Client {
	return registry.NewClient(sessions, cfg.RegistryBaseURL, logger)
}

func provideDraftRepository(cfg *config.Config) (drafts.Repository, error) {
	db, err := drafts.Open(cfg.DraftsDriver, cfg.DraftsDSN)
	if err != nil {
		return nil, err
	}
	return drafts.NewRepository(db), nil
}
