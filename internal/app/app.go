// Package app wires the process components from configuration.
// The API server, the worker and the CLI share it.
package app

import (
	"context"
	"fmt"

	"taxlink/internal/config"
	"taxlink/internal/core/tenant"
	"taxlink/internal/domain/auth"
	"taxlink/internal/domain/submission"
	"taxlink/internal/infrastructure/authority"
	"taxlink/internal/infrastructure/cache"
	"taxlink/internal/infrastructure/policy"
	"taxlink/internal/infrastructure/render"
	"taxlink/internal/infrastructure/storage/postgres"
	"taxlink/internal/infrastructure/storage/postgres/auth_repo"
	"taxlink/internal/infrastructure/storage/postgres/document_repo"
	"taxlink/pkg/logger"
)

// Version is reported by the health endpoint and sent to the authority.
const Version = "1.0.0"

// App holds the long-lived components of a process.
type App struct {
	Config      *config.Config
	Log         *logger.Logger
	Pool        *postgres.Pool
	TxManager   *postgres.TxManager
	Documents   *document_repo.DocumentRepo
	Tenants     *cache.TenantCache
	Archive     *postgres.PayloadArchive
	Outbox      *postgres.OutboxPublisher
	Idempotency *postgres.IdempotencyStore
	Submissions *submission.Service
	JWT         *auth.JWTService
	Auth        *auth.Service
}

// New connects to the database and builds every component.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	a, err := build(cfg, log, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, log *logger.Logger, pool *postgres.Pool) (*App, error) {
	txManager := postgres.NewTxManager(pool)
	docs := document_repo.NewDocumentRepo(txManager)
	tenants := cache.NewTenantCache(tenant.NewPostgresRegistry(pool.Pool), pool.Pool)

	archive, err := postgres.NewPayloadArchive(txManager)
	if err != nil {
		return nil, fmt.Errorf("create payload archive: %w", err)
	}

	postable, err := policy.New(cfg.PostableExpr)
	if err != nil {
		return nil, fmt.Errorf("compile postable expression: %w", err)
	}

	client := authority.NewClient(authority.Config{
		BaseURL:  cfg.AuthorityBaseURL,
		Timeout:  cfg.AuthorityTimeout,
		Compress: cfg.AuthorityCompress,
		Software: authority.Software{
			ID:      cfg.AuthoritySoftwareID,
			Name:    "taxlink",
			Version: Version,
		},
	}, nil)

	outbox := postgres.NewOutboxPublisher(txManager)

	service := submission.NewService(submission.Dependencies{
		Repo:        docs,
		TxManager:   txManager,
		Authority:   client,
		Tenants:     tenants,
		Renderer:    render.NewXMLRenderer(docs),
		Attachments: archive,
		Postable:    postable,
		Events:      outbox,
	}, submission.Config{
		BatchSize:      cfg.SubmissionBatchSize,
		RecoveryWindow: cfg.RecoveryWindow,
		RecoveryGrace:  cfg.RecoveryGrace,
	})

	jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
	if cfg.JWTIssuer != "" {
		jwtCfg.Issuer = cfg.JWTIssuer
	}
	jwtCfg.AccessTokenTTL = cfg.AccessTokenTTL
	jwtService := auth.NewJWTService(jwtCfg)

	authService := auth.NewService(
		auth_repo.NewOperatorRepo(txManager),
		txManager,
		jwtService,
		auth.DefaultServiceConfig(),
	)

	return &App{
		Config:      cfg,
		Log:         log,
		Pool:        pool,
		TxManager:   txManager,
		Documents:   docs,
		Tenants:     tenants,
		Archive:     archive,
		Outbox:      outbox,
		Idempotency: postgres.NewIdempotencyStore(txManager, cfg.IdempotencyTTL),
		Submissions: service,
		JWT:         jwtService,
		Auth:        authService,
	}, nil
}

// Start runs the background parts of long-lived processes.
func (a *App) Start(ctx context.Context) error {
	return a.Tenants.Start(logger.WithLogger(ctx, a.Log.WithComponent("tenant_cache")))
}

// Close stops background work and releases the database pool.
func (a *App) Close() {
	a.Tenants.Stop()
	a.Pool.Close()
}
