package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Applies all pending migrations. --steps N moves N versions; a negative N rolls back.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				return e.Migrate(ctx, steps)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migration steps (0 = all up)")
	return cmd
}

func newOperatorCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage API operators",
	}

	var (
		email, password string
		tenants         []string
		admin           bool
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an operator who may log in to the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				op, err := e.Operators.CreateOperator(ctx, email, password, tenants, admin)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "operator %s created (%s)\n", op.Email, op.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "Login email")
	create.Flags().StringVar(&password, "password", "", "Initial password")
	create.Flags().StringSliceVar(&tenants, "tenant", nil, "Tenant the operator may act for (repeatable; none means all)")
	create.Flags().BoolVar(&admin, "admin", false, "Grant administrator access")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}
