package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aculclasure/coderelay/internal/core/processor"
)

type FindEmailsUseCase interface {
	Run(ctx context.Context, query processor.EmailQuery) (processor.EmailQueryResult, error)
}

type Logger interface {
	Printf(string, ...interface{})
}

// SearchResult is the outcome of one query. Messages are never fetched or
// marked consumed by a search.
type SearchResult struct {
	Query      string   `json:"query"`
	Count      int      `json:"count"`
	MessageIDs []string `json:"message_ids"`
}

// Searcher runs mailbox queries concurrently.
type Searcher struct {
	EmailFinder FindEmailsUseCase
	Logger      Logger
	MaxResults  int
}

// Search runs every expression against the mailbox and returns the results
// in the order of exprs. The first failing query cancels the others and its
// error is returned.
func (s *Searcher) Search(ctx context.Context, exprs []string) ([]SearchResult, error) {
	results := make([]SearchResult, len(exprs))
	errGrp, ctx := errgroup.WithContext(ctx)
	for i, expr := range exprs {
		errGrp.Go(func() error {
			q := processor.EmailQuery{SearchExpression: expr, MaxResults: s.MaxResults}
			res, err := s.EmailFinder.Run(ctx, q)
			if err != nil {
				return fmt.Errorf("query %q: %w", expr, err)
			}
			ids := res.MatchingEmails
			if ids == nil {
				ids = []string{}
			}
			results[i] = SearchResult{Query: expr, Count: len(ids), MessageIDs: ids}
			if s.Logger != nil {
				s.Logger.Printf(`found %d emails matching query "%s"`, len(ids), expr)
			}
			return nil
		})
	}
	if err := errGrp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func newSearchCommand(env *cliEnv) *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Count the messages matching one or more provider search expressions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.search(cmd.Context(), args, maxResults)
		},
	}
	cmd.Flags().IntVar(&maxResults, "max-results", 10, "maximum message ids returned per query")
	return cmd
}

func (e *cliEnv) search(ctx context.Context, exprs []string, maxResults int) error {
	cfg, log, err := e.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	if a.mailbox == nil {
		return fmt.Errorf("%s mailbox: %w", cfg.Mailbox.Provider, processor.ErrNotConfigured)
	}
	finder, err := processor.NewFindEmailsUseCase(a.mailbox)
	if err != nil {
		return err
	}
	l := log.With().Str("component", "search").Logger()
	s := &Searcher{EmailFinder: finder, Logger: &l, MaxResults: maxResults}
	results, err := s.Search(ctx, exprs)
	if err != nil {
		return err
	}
	return writeJSON(e.out, results)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
