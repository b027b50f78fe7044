package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aculclasure/coderelay/internal/logger"
	"github.com/aculclasure/coderelay/internal/scheduler"
	"github.com/aculclasure/coderelay/internal/ui/httpapi"
)

func newServeCommand(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the mailbox and serve the HTTP control surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return env.serve(ctx)
		},
	}
	flags := cmd.Flags()
	flags.Int("port", 0, "HTTP port of the control surface")
	flags.Duration("poll-interval", 0, "time between ingestion cycles")
	flags.Bool("run-on-start", true, "run one ingestion cycle as soon as the service starts")
	env.bind("port", flags.Lookup("port"))
	env.bind("poll_interval", flags.Lookup("poll-interval"))
	env.bind("run_on_start", flags.Lookup("run-on-start"))
	return cmd
}

// serve runs until ctx is cancelled. Only invalid configuration and a failure
// to bind the HTTP port are fatal; an unconfigured mailbox or sink leaves the
// control surface up in setup mode.
func (e *cliEnv) serve(ctx context.Context) error {
	cfg, log, err := e.load()
	if err != nil {
		return err
	}
	if !logger.IsDevelopment(cfg.Log.Env) {
		gin.SetMode(gin.ReleaseMode)
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	deps := httpapi.Deps{
		Health:       a.tracker,
		Metrics:      a.metrics.Handler(),
		Provider:     cfg.Mailbox.Provider,
		Sinks:        a.sinks.Names(),
		PollInterval: cfg.PollInterval,
		Logger:       log.With().Str("component", "http").Logger(),
	}
	var sched *scheduler.Scheduler
	if a.ingest != nil {
		sched, err = scheduler.New(a.ingest,
			scheduler.WithInterval(cfg.PollInterval),
			scheduler.WithRunOnStart(cfg.RunOnStart),
			scheduler.WithLogger(log.With().Str("component", "scheduler").Logger()),
		)
		if err != nil {
			return err
		}
		deps.Ingestion = sched
		deps.Searcher = a.ingest
	}

	srv := httpapi.NewServer(cfg.Port, httpapi.NewRouter(deps))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr()).Msg("control surface listening")
		if err := srv.ListenAndServe(); err != nil {
			return fmt.Errorf("got error serving http on %s: %w", srv.Addr(), err)
		}
		return nil
	})
	if sched != nil {
		sched.Start(gctx)
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		if sched != nil {
			sched.Stop()
		}
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
