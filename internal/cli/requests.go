package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/memoir/internal/portal"
)

// RequestsOptions holds flags for the requests command.
type RequestsOptions struct {
	*RootOptions
	Database string
}

// requestRow is one pending execution request in the listing.
type requestRow struct {
	Descriptor string `json:"descriptor"`
	Signature  string `json:"signature"`
}

// NewRequestsCommand creates the requests command.
func NewRequestsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RequestsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List pending execution requests",
		Long: `List every execution request still waiting for a worker in the store
at the given path.

Example:
  memoir requests --db ./memoir.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequests(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runRequests(opts *RequestsOptions, cmd *cobra.Command) error {
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
	keys, err := p.Requests().Keys(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list requests", err)
	}

	rows := make([]requestRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, requestRow{
			Descriptor: k[0],
			Signature:  k[1] + k[2] + k[3],
		})
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(rows)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d pending request(s)\n", len(rows))
	for _, r := range rows {
		fmt.Fprintf(&b, "  %s@%s\n", r.Descriptor, r.Signature)
	}
	return formatter.Success(strings.TrimRight(b.String(), "\n"))
}
