// Package main seeds a development database with a tenant, an admin
// operator and a small correction chain to submit.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"taxlink/internal/app"
	"taxlink/internal/config"
	"taxlink/internal/core/apperror"
	"taxlink/internal/core/id"
	"taxlink/internal/core/tenant"
	"taxlink/internal/domain/submission"
	"taxlink/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer a.Close()

	log.Info("connected to database")

	t := demoTenant()
	if err := seedTenant(ctx, a, t); err != nil {
		log.Fatalw("failed to seed tenant", "error", err)
	}

	if err := seedAdmin(ctx, a, log); err != nil {
		log.Fatalw("failed to seed admin operator", "error", err)
	}

	if os.Getenv("SEED_DEMO_DATA") == "true" {
		if err := seedDemoChain(ctx, a, log, t.ID); err != nil {
			log.Fatalw("failed to seed demo documents", "error", err)
		}
	}

	log.Info("seeding completed successfully")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func demoTenant() *tenant.Tenant {
	t := &tenant.Tenant{
		ID:          envOr("TENANT_ID", "demo"),
		DisplayName: envOr("TENANT_NAME", "Demo Kft."),
		TaxNumber:   envOr("TENANT_TAX_NUMBER", "12345678"),
		Status:      tenant.StatusActive,
		Credentials: tenant.Credentials{
			Login:       os.Getenv("TENANT_LOGIN"),
			Password:    os.Getenv("TENANT_PASSWORD"),
			SigningKey:  os.Getenv("TENANT_SIGNING_KEY"),
			ExchangeKey: os.Getenv("TENANT_EXCHANGE_KEY"),
		},
	}
	t.Credentials.TaxNumber = t.TaxNumber
	return t
}

// seedTenant inserts the tenant unless a row with its id exists.
func seedTenant(ctx context.Context, a *app.App, t *tenant.Tenant) error {
	sql, args, err := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert("tenants").
		Columns("id", "display_name", "tax_number", "status", "login", "password", "signing_key", "exchange_key").
		Values(t.ID, t.DisplayName, t.TaxNumber, string(t.Status), t.Login, t.Password, t.SigningKey, t.ExchangeKey).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build tenant insert: %w", err)
	}

	tag, err := a.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		a.Log.Infow("tenant already exists", "tenant_id", t.ID)
		return nil
	}
	if err := t.Validate(); err != nil {
		a.Log.Warnw("tenant seeded without complete authority credentials", "tenant_id", t.ID, "error", err)
	}
	a.Log.Infow("tenant seeded", "tenant_id", t.ID)
	return nil
}

func seedAdmin(ctx context.Context, a *app.App, log *logger.Logger) error {
	email := envOr("ADMIN_EMAIL", "admin@taxlink.local")
	password := envOr("ADMIN_PASSWORD", "Admin123!")

	op, err := a.Auth.CreateOperator(ctx, email, password, nil, true)
	if apperror.HasCode(err, apperror.CodeConflict) {
		log.Infow("admin operator already exists", "email", email)
		return nil
	}
	if err != nil {
		return err
	}
	log.Infow("admin operator created", "email", op.Email, "operator_id", op.ID)
	return nil
}

// seedDemoChain creates an invoice with a credit note and a debit note
// pointing at it, all waiting for their first upload.
func seedDemoChain(ctx context.Context, a *app.App, log *logger.Logger, tenantID string) error {
	base := &submission.Document{
		TenantID:       tenantID,
		Name:           "INV/2026/0001",
		AmountResidual: decimal.RequireFromString("127000.00"),
	}

	return a.TxManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := a.Documents.Insert(ctx, base); err != nil {
			if apperror.HasCode(err, apperror.CodeConflict) {
				log.Infow("demo documents already exist", "tenant_id", tenantID)
				return nil
			}
			return err
		}

		corrections := []*submission.Document{
			{
				TenantID:       tenantID,
				Name:           "RINV/2026/0001",
				ReversedID:     &base.ID,
				AmountResidual: decimal.RequireFromString("-27000.00"),
			},
			{
				TenantID:       tenantID,
				Name:           "DINV/2026/0001",
				DebitOriginID:  &base.ID,
				AmountResidual: decimal.RequireFromString("12700.00"),
			},
		}
		for _, doc := range corrections {
			if err := a.Documents.Insert(ctx, doc); err != nil {
				return fmt.Errorf("insert %s: %w", doc.Name, err)
			}
		}

		log.Infow("demo documents seeded",
			"base_id", base.ID,
			"documents", id.Strings([]id.ID{base.ID, corrections[0].ID, corrections[1].ID}))
		return nil
	})
}
