package cli_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aculclasure/coderelay/internal/core/processor"
	"github.com/aculclasure/coderelay/internal/ui/cli"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "coderelay.yaml")
	body += "\ngmail:\n  token_file: " + filepath.Join(dir, "token.json") + "\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return file
}

func execute(args ...string) (string, error) {
	var out, errOut bytes.Buffer
	cmd := cli.NewRootCommand(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunWithInvalidArgsReturnsError(t *testing.T) {
	t.Parallel()
	testCases := map[string][]string{
		"Unknown flag":             {"--no-such-flag"},
		"Unknown command":          {"relay"},
		"Search without a query":   {"search"},
		"Check with extra args":    {"check", "now"},
		"Missing config file":      {"check", "--config", "/nonexistent/coderelay.yaml"},
		"Invalid log level flag":   {"check", "--log-level", "loud"},
		"Invalid provider flag":    {"check", "--provider", "pop3"},
		"Invalid poll interval":    {"serve", "--poll-interval", "soon"},
		"Serve with invalid level": {"serve", "--log-level", "loud"},
	}
	for name, args := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := execute(args...); err == nil {
				t.Errorf("expected an error for args %q but did not get one", args)
			}
		})
	}
}

func TestCheckWithInvalidConfigFileReturnsError(t *testing.T) {
	t.Parallel()
	file := writeConfig(t, "port: 0\nworkers: 0\n")
	if _, err := execute("check", "--config", file); err == nil {
		t.Error("expected a validation error but did not get one")
	}
}

func TestCheckWithoutGmailCredentialsIsNotConfigured(t *testing.T) {
	t.Parallel()
	file := writeConfig(t, "mailbox:\n  provider: gmail\n")
	_, err := execute("check", "--config", file)
	if !errors.Is(err, processor.ErrNotConfigured) {
		t.Errorf("want processor.ErrNotConfigured, got %v", err)
	}
}

func TestCheckWithoutIMAPHostIsNotConfigured(t *testing.T) {
	t.Parallel()
	file := writeConfig(t, "log:\n  level: error\n")
	_, err := execute("check", "--config", file, "--provider", "imap")
	if !errors.Is(err, processor.ErrNotConfigured) {
		t.Errorf("want processor.ErrNotConfigured, got %v", err)
	}
}

func TestSearchWithoutMailboxIsNotConfigured(t *testing.T) {
	t.Parallel()
	file := writeConfig(t, "mailbox:\n  provider: imap\n")
	_, err := execute("search", "--config", file, "from:openai")
	if !errors.Is(err, processor.ErrNotConfigured) {
		t.Errorf("want processor.ErrNotConfigured, got %v", err)
	}
}

func TestSetupRejectsIMAPProvider(t *testing.T) {
	t.Parallel()
	file := writeConfig(t, "mailbox:\n  provider: imap\n")
	if _, err := execute("setup", "--config", file); err == nil {
		t.Error("expected an error for the imap provider but did not get one")
	}
}

func TestSetupWithoutGmailCredentialsIsNotConfigured(t *testing.T) {
	t.Parallel()
	file := writeConfig(t, "mailbox:\n  provider: gmail\n")
	_, err := execute("setup", "--config", file)
	if !errors.Is(err, processor.ErrNotConfigured) {
		t.Errorf("want processor.ErrNotConfigured, got %v", err)
	}
}
