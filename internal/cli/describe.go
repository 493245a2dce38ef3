package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/memoir/internal/portal"
)

// DescribeOptions holds flags for the describe command.
type DescribeOptions struct {
	*RootOptions
	Database string
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DescribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Describe a store's contents and configuration",
		Long: `Describe the store at the given path: its location and fingerprint,
its effective configuration, and entry counts per section.

Example:
  memoir describe --db ./memoir.db
  memoir describe --db ./memoir.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runDescribe(opts *DescribeOptions, cmd *cobra.Command) error {
	reg := portal.NewRegistry()
	defer func() { _ = reg.Reset() }()

	p, err := portal.New(reg, portal.Config{Path: opts.Database})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := p.Describe(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to describe store", err)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(rows)
	}
	return formatter.Success(portal.FormatDescription(rows))
}
