package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"taxlink/internal/core/id"
	"taxlink/internal/domain/submission"
)

const defaultPendingLimit = 500

type runFlags struct {
	pending bool
	limit   int
}

func (f *runFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.pending, "pending", false, "Process waiting documents instead of the given ids")
	cmd.Flags().IntVar(&f.limit, "limit", defaultPendingLimit, "Maximum number of documents for --pending")
}

func (f *runFlags) validate(args []string) error {
	if f.pending && len(args) > 0 {
		return errors.New("--pending cannot be combined with document ids")
	}
	if !f.pending && len(args) == 0 {
		return errors.New("give document ids or --pending")
	}
	if f.pending && f.limit < 1 {
		return errors.New("--limit must be positive")
	}
	return nil
}

type byIDs func(r Runner) func(context.Context, []id.ID) (*submission.Report, error)
type pending func(r Runner) func(context.Context, int) (*submission.Report, error)

func newPipelineCmd(opts *rootOptions, use, short string, run byIDs, runPending pending) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(args); err != nil {
				return err
			}
			var ids []id.ID
			if !flags.pending {
				var err error
				if ids, err = parseIDs(args); err != nil {
					return err
				}
			}
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				var (
					report *submission.Report
					err    error
				)
				if flags.pending {
					report, err = runPending(e.Runner)(ctx, flags.limit)
				} else {
					report, err = run(e.Runner)(interactive(ctx), ids)
				}
				return printReport(cmd.OutOrStdout(), report, err)
			})
		},
	}
	if runPending != nil {
		flags.bind(cmd)
	} else {
		cmd.Args = cobra.MinimumNArgs(1)
	}
	return cmd
}

func newUploadCmd(opts *rootOptions) *cobra.Command {
	return newPipelineCmd(opts, "upload [document-id...]", "Submit documents to the authority",
		func(r Runner) func(context.Context, []id.ID) (*submission.Report, error) { return r.Upload },
		func(r Runner) func(context.Context, int) (*submission.Report, error) { return r.UploadPending },
	)
}

func newPollCmd(opts *rootOptions) *cobra.Command {
	return newPipelineCmd(opts, "poll [document-id...]", "Query the authority for submitted documents",
		func(r Runner) func(context.Context, []id.ID) (*submission.Report, error) { return r.Poll },
		func(r Runner) func(context.Context, int) (*submission.Report, error) { return r.PollPending },
	)
}

func newRecoverCmd(opts *rootOptions) *cobra.Command {
	cmd := newPipelineCmd(opts, "recover document-id...", "Recover timed-out submissions without a transaction reference",
		func(r Runner) func(context.Context, []id.ID) (*submission.Report, error) { return r.RecoverTimeouts },
		nil,
	)
	return cmd
}

func newCancelCmd(opts *rootOptions) *cobra.Command {
	var code, reason string
	cmd := &cobra.Command{
		Use:   "cancel document-id...",
		Short: "Request annulment of accepted documents",
		Example: `  taxlinkctl cancel 0190f1c2-8c1e-7d3a-9c55-3b7f7c1d2e4f \
    --code ERRATIC_DATA --reason "wrong buyer tax number"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			annulCode, err := submission.ParseAnnulmentCode(code)
			if err != nil {
				return err
			}
			req := submission.CancelRequest{DocumentIDs: ids, Code: annulCode, Reason: reason}
			if err := req.Validate(); err != nil {
				return err
			}
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				report, err := e.Runner.RequestCancel(interactive(ctx), req)
				return printReport(cmd.OutOrStdout(), report, err)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Annulment code (ERRATIC_DATA, ERRATIC_INVOICE_NUMBER, ERRATIC_INVOICE_ISSUE_DATE, ERRATIC_ELECTRONIC_HASH_VALUE)")
	cmd.Flags().StringVar(&reason, "reason", "", "Annulment reason sent to the authority")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
