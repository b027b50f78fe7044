package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/aculclasure/coderelay/internal/config"
)

func newSetupCommand(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Authorize Gmail access in a browser and save the OAuth2 token",
		Long: `setup prints a Google consent URL and waits for the browser redirect on
the loopback port gmail.redirect_port. The token, including its refresh token,
is written to gmail.token_file for later serve and check runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return env.setup(ctx)
		},
	}
}

func (e *cliEnv) setup(ctx context.Context) error {
	cfg, log, err := e.load()
	if err != nil {
		return err
	}
	if cfg.Mailbox.Provider != config.ProviderGmail {
		return errors.New("setup only applies to the gmail provider")
	}
	auth, err := newGmailOAuth2(cfg, log)
	if err != nil {
		return err
	}
	if err := auth.LoadConfig(); err != nil {
		return err
	}
	if err := auth.Authorize(ctx, e.out); err != nil {
		return fmt.Errorf("got error authorizing gmail access: %w", err)
	}
	if err := auth.SaveToken(cfg.Gmail.TokenFile); err != nil {
		return fmt.Errorf("got error saving oauth2 token to %s: %w", cfg.Gmail.TokenFile, err)
	}
	fmt.Fprintf(e.out, "token saved to %s\n", cfg.Gmail.TokenFile)
	return nil
}
