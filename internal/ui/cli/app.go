package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/aculclasure/coderelay/internal/adapters/alertrepo"
	"github.com/aculclasure/coderelay/internal/adapters/alertrepo/discord"
	"github.com/aculclasure/coderelay/internal/adapters/alertrepo/pushover"
	"github.com/aculclasure/coderelay/internal/adapters/emailrepo/gmail"
	"github.com/aculclasure/coderelay/internal/adapters/emailrepo/imap"
	"github.com/aculclasure/coderelay/internal/config"
	"github.com/aculclasure/coderelay/internal/core/processor"
	"github.com/aculclasure/coderelay/internal/metrics"
)

// app is the wired ingestion pipeline. mailbox and ingest are nil when the
// mailbox is not configured.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	mailbox  processor.EmailRepo
	sinks    *alertrepo.Fanout
	tracker  *processor.FailureTracker
	ingest   *processor.IngestUseCase
}

// newApp builds every component named by cfg. Missing credentials are not
// fatal: the affected component is left out and reported as not configured.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  metrics.New(reg),
	}

	mailbox, err := newMailbox(ctx, cfg, logger)
	switch {
	case errors.Is(err, processor.ErrNotConfigured):
		logger.Warn().Err(err).Str("provider", cfg.Mailbox.Provider).Msg("mailbox not configured, ingestion disabled")
	case err != nil:
		return nil, err
	default:
		a.mailbox = mailbox
	}

	a.sinks = newSinks(cfg, logger)
	if !a.sinks.Configured() {
		logger.Warn().Msg("no notification sink configured, events will not be delivered")
	}

	sender, err := processor.NewSendAlertUseCase(a.sinks,
		processor.WithSendTimeout(cfg.CallTimeout),
		processor.WithSendLogger(logger.With().Str("component", "notify").Logger()),
		processor.WithDeliveryObserver(a.metrics),
	)
	if err != nil {
		return nil, err
	}
	a.tracker, err = processor.NewFailureTracker(sender, processor.WithStateHook(a.metrics.SetDown))
	if err != nil {
		return nil, err
	}
	if a.mailbox == nil {
		return a, nil
	}
	a.ingest, err = processor.NewIngestUseCase(a.mailbox, sender, a.tracker,
		processor.WithQuery(cfg.EmailQuery()),
		processor.WithWorkers(cfg.Workers),
		processor.WithCallTimeout(cfg.CallTimeout),
		processor.WithIngestLogger(logger.With().Str("component", "ingest").Logger()),
		processor.WithIngestObserver(a.metrics),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newMailbox(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (processor.EmailRepo, error) {
	switch cfg.Mailbox.Provider {
	case config.ProviderIMAP:
		l := logger.With().Str("component", "imap").Logger()
		return imap.NewClient(imap.Options{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			UseTLS:   cfg.IMAP.TLS,
			Folder:   cfg.IMAP.Folder,
		}, imap.WithLogger(&l), imap.WithDialTimeout(cfg.CallTimeout))
	default:
		auth, err := newGmailOAuth2(cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := auth.LoadConfig(); err != nil {
			return nil, err
		}
		if err := auth.LoadToken(); err != nil {
			return nil, err
		}
		hc, err := auth.Client(ctx)
		if err != nil {
			return nil, err
		}
		l := logger.With().Str("component", "gmail").Logger()
		return gmail.NewClient(hc, gmail.WithClientLogger(&l))
	}
}

// newGmailOAuth2 prefers the credentials file over the client id and secret.
func newGmailOAuth2(cfg *config.Config, logger zerolog.Logger) (*gmail.OAuth2, error) {
	l := logger.With().Str("component", "oauth2").Logger()
	opts := []gmail.OAuth2Opt{
		gmail.WithTokenFile(cfg.Gmail.TokenFile),
		gmail.WithRedirectServerPort(cfg.Gmail.RedirectPort),
		gmail.WithClientCredentials(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret),
		gmail.WithRefreshToken(cfg.Gmail.RefreshToken),
		gmail.WithLogger(&l),
	}
	if cfg.Gmail.CredentialsFile != "" {
		f, err := os.Open(cfg.Gmail.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("got error opening gmail credentials file: %w", err)
		}
		defer f.Close()
		googleCfg, err := gmail.ReadGoogleConfig(f)
		if err != nil {
			return nil, err
		}
		opts = append(opts, gmail.WithGoogleConfig(googleCfg))
	}
	return gmail.NewOAuth2(opts...)
}

// newSinks returns a fan-out over every configured sink. A sink with invalid
// settings is logged and left out.
func newSinks(cfg *config.Config, logger zerolog.Logger) *alertrepo.Fanout {
	var sinks []alertrepo.Sink

	dl := logger.With().Str("component", "discord").Logger()
	dc, err := discord.NewWebhookClient(cfg.Discord.WebhookURL, discord.WithWebhookClientLogger(&dl))
	switch {
	case errors.Is(err, processor.ErrNotConfigured):
		logger.Info().Msg("discord sink not configured")
	case err != nil:
		logger.Error().Err(err).Msg("discord sink disabled")
	default:
		sinks = append(sinks, alertrepo.Sink{Name: "discord", Repo: dc})
	}

	pl := logger.With().Str("component", "pushover").Logger()
	pc, err := pushover.NewPushoverClient(cfg.Pushover.AppToken, cfg.Pushover.Recipient,
		pushover.WithPushoverClientLogger(&pl),
		pushover.WithSound(cfg.Pushover.Sound),
	)
	switch {
	case errors.Is(err, processor.ErrNotConfigured):
		logger.Info().Msg("pushover sink not configured")
	case err != nil:
		logger.Error().Err(err).Msg("pushover sink disabled")
	default:
		sinks = append(sinks, alertrepo.Sink{Name: "pushover", Repo: pc})
	}

	fl := logger.With().Str("component", "fanout").Logger()
	return alertrepo.NewFanout(sinks, alertrepo.WithFanoutLogger(&fl))
}
