package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aculclasure/coderelay/internal/core/processor"
)

func newCheckCommand(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a single ingestion cycle and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.check(cmd.Context())
		},
	}
}

func (e *cliEnv) check(ctx context.Context) error {
	cfg, log, err := e.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	if a.ingest == nil {
		return fmt.Errorf("%s mailbox: %w", cfg.Mailbox.Provider, processor.ErrNotConfigured)
	}
	report, err := a.ingest.Run(ctx)
	if err != nil {
		return fmt.Errorf("got error running ingestion cycle: %w", err)
	}
	return writeJSON(e.out, report)
}
