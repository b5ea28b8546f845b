package main

import (
	"context"
	"log/slog"
	"net/http"

	"gorm.io/gorm"

	"github.com/vipul43/qbo-sync-worker/internal/config"
	"github.com/vipul43/qbo-sync-worker/internal/database"
	"github.com/vipul43/qbo-sync-worker/internal/quickbooks"
	"github.com/vipul43/qbo-sync-worker/internal/repository"
	"github.com/vipul43/qbo-sync-worker/internal/service"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	db           *gorm.DB
	accounts     *service.AccountService
	orchestrator *service.SyncOrchestrator
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, config.SetupLogger(cfg), nil
}

// newApp connects to the database, applies migrations and wires the services.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := database.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		return nil, err
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	accountRepo := repository.NewAccountRepository(db)
	stateRepo := repository.NewSyncStateRepository(db)
	recordRepo := repository.NewRecordRepository(db)

	httpClient := &http.Client{Timeout: cfg.QBOHTTPTimeout}
	executor := quickbooks.NewExecutor(httpClient, cfg.MaxRetries, cfg.RetryDelay, logger)
	limiters := quickbooks.NewRateLimiterPool(quickbooks.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})
	qbo := quickbooks.NewClient(cfg.APIBaseURL(), cfg.QBOMinorVersion, executor, limiters, logger)
	oauth := newOAuthClient(cfg, logger)

	tokens := service.NewTokenManager(accountRepo, oauth, cfg.TokenRefreshBuffer, logger)
	store := service.NewCheckpointStore(recordRepo, stateRepo)
	orchestrator := service.NewSyncOrchestrator(accountRepo, stateRepo, tokens, qbo, store, service.OrchestratorConfig{
		PageSize:           cfg.PageSize,
		AccountConcurrency: cfg.AccountConcurrency,
		StaleAfter:         cfg.StaleAfter,
	}, logger)

	return &app{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		accounts:     service.NewAccountService(oauth, accountRepo, stateRepo, recordRepo, logger),
		orchestrator: orchestrator,
	}, nil
}

func newOAuthClient(cfg *config.Config, logger *slog.Logger) *quickbooks.OAuthClient {
	return quickbooks.NewOAuthClient(
		cfg.QBOClientID,
		cfg.QBOClientSecret,
		config.DefaultAuthURL,
		cfg.QBOTokenURL,
		cfg.QBORedirectURI,
		&http.Client{Timeout: cfg.QBOHTTPTimeout},
		logger,
	)
}

func (a *app) Close() {
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("Failed to close database", slog.Any("error", err))
	}
}
