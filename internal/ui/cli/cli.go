// Package cli implements the coderelay command line: the long running serve
// command plus one-shot setup, check and search commands.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aculclasure/coderelay/internal/config"
	"github.com/aculclasure/coderelay/internal/logger"
)

// Run parses args, executes the selected command and returns its error.
// Settings come from defaults, the optional "--config" YAML file,
// environment variables and flags, in increasing order of precedence.
func Run(args []string) error {
	cmd := NewRootCommand(os.Stdout, os.Stderr)
	cmd.SetArgs(args)
	return cmd.Execute()
}

// cliEnv is the state shared by every subcommand.
type cliEnv struct {
	v          *viper.Viper
	configFile string
	out        io.Writer
	errOut     io.Writer
}

// NewRootCommand returns the coderelay command tree writing command output
// to out and diagnostics to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	env := &cliEnv{v: config.New(), out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "coderelay",
		Short:         "Forward verification codes from a mailbox to Discord and Pushover",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&env.configFile, "config", "", "YAML configuration file")
	flags.String("log-level", "", "log level: trace, debug, info, warn or error")
	flags.String("log-env", "", `log environment; "development" selects console output`)
	flags.String("provider", "", `mailbox provider, "gmail" or "imap"`)
	env.bind("log.level", flags.Lookup("log-level"))
	env.bind("log.env", flags.Lookup("log-env"))
	env.bind("mailbox.provider", flags.Lookup("provider"))

	root.AddCommand(
		newServeCommand(env),
		newSetupCommand(env),
		newCheckCommand(env),
		newSearchCommand(env),
	)
	return root
}

func (e *cliEnv) bind(key string, flag *pflag.Flag) {
	if err := e.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag for %s: %s", key, err))
	}
}

// load reads the configuration and builds the logger it describes.
func (e *cliEnv) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(e.v, e.configFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	l, err := logger.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, *l, nil
}
