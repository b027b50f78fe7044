// Package config loads coderelay settings from defaults, an optional YAML
// file, environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aculclasure/coderelay/internal/core/processor"
	"github.com/aculclasure/coderelay/internal/logger"
)

const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// Config represents the application configuration.
type Config struct {
	Port         int           `mapstructure:"port"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	Workers      int           `mapstructure:"workers"`
	BatchSize    int           `mapstructure:"batch_size"`
	RunOnStart   bool          `mapstructure:"run_on_start"`

	Log      LogConfig      `mapstructure:"log"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox"`
	Gmail    GmailConfig    `mapstructure:"gmail"`
	IMAP     IMAPConfig     `mapstructure:"imap"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Pushover PushoverConfig `mapstructure:"pushover"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Env   string `mapstructure:"env"`
}

type MailboxConfig struct {
	Provider string `mapstructure:"provider"`
}

type GmailConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	ClientID        string `mapstructure:"client_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	RefreshToken    string `mapstructure:"refresh_token"`
	// Raw Gmail search expression replacing the built-in verification query.
	Query        string `mapstructure:"query"`
	RedirectPort int    `mapstructure:"redirect_port"`
}

type IMAPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      bool   `mapstructure:"tls"`
	Folder   string `mapstructure:"folder"`
}

type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

type PushoverConfig struct {
	AppToken  string `mapstructure:"app_token"`
	Recipient string `mapstructure:"recipient"`
	Sound     string `mapstructure:"sound"`
}

var defaults = map[string]any{
	"port":                   3000,
	"poll_interval":          10 * time.Second,
	"call_timeout":           processor.DefaultCallTimeout,
	"workers":                processor.DefaultWorkers,
	"batch_size":             processor.DefaultMaxResults,
	"run_on_start":           true,
	"log.level":              "info",
	"log.env":                "production",
	"mailbox.provider":       ProviderGmail,
	"gmail.credentials_file": "",
	"gmail.token_file":       "token.json",
	"gmail.client_id":        "",
	"gmail.client_secret":    "",
	"gmail.refresh_token":    "",
	"gmail.query":            "",
	"gmail.redirect_port":    9999,
	"imap.host":              "",
	"imap.port":              0,
	"imap.username":          "",
	"imap.password":          "",
	"imap.tls":               true,
	"imap.folder":            "INBOX",
	"discord.webhook_url":    "",
	"pushover.app_token":     "",
	"pushover.recipient":     "",
	"pushover.sound":         "",
}

// New returns a viper instance carrying every default. Environment variables
// override keys with dots replaced by underscores, e.g. GMAIL_CLIENT_ID for
// gmail.client_id.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional YAML file into v, decodes the merged settings and
// validates them.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Mailbox.Provider = strings.ToLower(strings.TrimSpace(cfg.Mailbox.Provider))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once. Missing credentials are not
// an error here; the affected component reports itself as not configured.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in the range 1-65535 (got %d)", c.Port))
	}
	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("poll_interval must be at least 1s (got %s)", c.PollInterval))
	}
	if c.CallTimeout <= 0 || c.CallTimeout >= c.PollInterval {
		errs = append(errs, fmt.Errorf("call_timeout must be positive and shorter than poll_interval (got %s)", c.CallTimeout))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1 (got %d)", c.Workers))
	}
	if c.BatchSize < 1 || c.BatchSize > 500 {
		errs = append(errs, fmt.Errorf("batch_size must be in the range 1-500 (got %d)", c.BatchSize))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Mailbox.Provider {
	case ProviderGmail, ProviderIMAP:
	default:
		errs = append(errs, fmt.Errorf("mailbox.provider must be %q or %q (got %q)", ProviderGmail, ProviderIMAP, c.Mailbox.Provider))
	}
	if c.Gmail.RedirectPort < 1024 || c.Gmail.RedirectPort > 65535 {
		errs = append(errs, fmt.Errorf("gmail.redirect_port must be in the range 1024-65535 (got %d)", c.Gmail.RedirectPort))
	}
	if c.IMAP.Port < 0 || c.IMAP.Port > 65535 {
		errs = append(errs, fmt.Errorf("imap.port must be in the range 0-65535 (got %d)", c.IMAP.Port))
	}
	return errors.Join(errs...)
}

// EmailQuery returns the query the ingestion cycle runs each tick.
func (c *Config) EmailQuery() processor.EmailQuery {
	q := processor.DefaultEmailQuery()
	q.MaxResults = c.BatchSize
	if c.Mailbox.Provider == ProviderGmail {
		q.SearchExpression = c.Gmail.Query
	}
	return q
}
