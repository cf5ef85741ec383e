package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"taxlink/internal/app"
	"taxlink/internal/config"
	appctx "taxlink/internal/core/context"
	"taxlink/internal/core/id"
	"taxlink/internal/domain/auth"
	"taxlink/internal/domain/submission"
	"taxlink/internal/infrastructure/storage/postgres"
	"taxlink/pkg/logger"
)

// cliOperatorID marks interactive runs started from the shell.
const cliOperatorID = "taxlinkctl"

// Runner is the pipeline surface used by the commands.
type Runner interface {
	Upload(ctx context.Context, ids []id.ID) (*submission.Report, error)
	UploadPending(ctx context.Context, limit int) (*submission.Report, error)
	Poll(ctx context.Context, ids []id.ID) (*submission.Report, error)
	PollPending(ctx context.Context, limit int) (*submission.Report, error)
	RequestCancel(ctx context.Context, req submission.CancelRequest) (*submission.Report, error)
	RecoverTimeouts(ctx context.Context, ids []id.ID) (*submission.Report, error)
}

// OperatorCreator registers API operators.
type OperatorCreator interface {
	CreateOperator(ctx context.Context, email, password string, tenantIDs []string, isAdmin bool) (*auth.Operator, error)
}

// env is what a command needs from the process.
type env struct {
	Runner    Runner
	Operators OperatorCreator
	Migrate   func(ctx context.Context, steps int) error
	Close     func()
}

// envFactory connects to the database and builds the components.
type envFactory func(ctx context.Context, envFile string) (*env, error)

func defaultEnv(ctx context.Context, envFile string) (*env, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.IsDevelopment()})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	migrate := func(ctx context.Context, steps int) error {
		return postgres.Migrate(logger.WithLogger(ctx, log), cfg.DatabaseURL, steps)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &env{
		Runner:    a.Submissions,
		Operators: a.Auth,
		Migrate:   migrate,
		Close:     a.Close,
	}, nil
}

type rootOptions struct {
	envFile string
	connect envFactory
}

func newRootCmd(connect envFactory) *cobra.Command {
	opts := &rootOptions{connect: connect}

	root := &cobra.Command{
		Use:   "taxlinkctl",
		Short: "Submit invoices to the tax authority and manage taxlink",
		Long: `taxlinkctl starts the submission pipelines by hand and runs maintenance tasks.

Document ids run interactively: blocking errors and ineligible documents fail
the command. --pending runs behave like the worker and only report them.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Path to a .env file to load before the environment")

	root.AddCommand(
		newUploadCmd(opts),
		newPollCmd(opts),
		newCancelCmd(opts),
		newRecoverCmd(opts),
		newMigrateCmd(opts),
		newOperatorCmd(opts),
	)
	return root
}

// withEnv runs fn with a connected environment.
func (o *rootOptions) withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := o.connect(ctx, o.envFile)
	if err != nil {
		return err
	}
	if e.Close != nil {
		defer e.Close()
	}
	return fn(ctx, e)
}

// interactive marks ctx as an operator-started run.
func interactive(ctx context.Context) context.Context {
	ctx = appctx.WithOperator(ctx, &appctx.OperatorContext{OperatorID: cliOperatorID, IsAdmin: true})
	return appctx.WithMode(ctx, appctx.ModeInteractive)
}

func parseIDs(args []string) ([]id.ID, error) {
	ids, err := id.ParseAll(args)
	if err != nil {
		return nil, fmt.Errorf("invalid document id: %w", err)
	}
	return ids, nil
}

// printReport writes the report as indented JSON. It is printed even when
// the run failed, so partial progress is visible.
func printReport(w io.Writer, report *submission.Report, runErr error) error {
	if report != nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return runErr
}
