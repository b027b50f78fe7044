package processor

import (
	"context"
	"errors"
	"fmt"
)

type EmailRepo interface {
	Find(ctx context.Context, query EmailQuery) ([]string, error)
	Fetch(ctx context.Context, id string) (RawEmail, error)
	MarkConsumed(ctx context.Context, id string) error
}

type FindEmailsUseCase struct {
	emailRepo EmailRepo
}

func NewFindEmailsUseCase(emailRepo EmailRepo) (*FindEmailsUseCase, error) {
	if emailRepo == nil {
		return nil, errors.New("email repo argument must be non-nil")
	}
	return &FindEmailsUseCase{emailRepo: emailRepo}, nil
}

func (f *FindEmailsUseCase) Run(ctx context.Context, query EmailQuery) (EmailQueryResult, error) {
	if err := query.OK(); err != nil {
		return EmailQueryResult{}, err
	}
	emails, err := f.emailRepo.Find(ctx, query)
	if err != nil {
		return EmailQueryResult{}, fmt.Errorf("finding emails: %w", err)
	}
	if query.MaxResults > 0 && len(emails) > query.MaxResults {
		emails = emails[:query.MaxResults]
	}
	return EmailQueryResult{Query: query, MatchingEmails: emails}, nil
}
