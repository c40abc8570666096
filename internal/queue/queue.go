package queue

import (
	"context"
	"errors"

	"github.com/castkit/mediacache/internal/storage"
)

// ErrMissingEntries reports that some queued episodes had no enclosure URL
// yet. It is a non-fatal condition: enumeration still yields every URL that
// was available.
var ErrMissingEntries = errors.New("queue has entries without enclosure URLs")

// Source produces the enclosure URLs of everything currently queued, in
// queue order. Enumeration stops early when onItem returns an error.
type Source interface {
	Enumerate(ctx context.Context, onItem func(url string) error) error
}

// RepositorySource adapts a storage queue repository into a Source.
type RepositorySource struct {
	repo storage.QueueRepository
}

func NewRepositorySource(repo storage.QueueRepository) *RepositorySource {
	return &RepositorySource{repo: repo}
}

func (s *RepositorySource) Enumerate(ctx context.Context, onItem func(url string) error) error {
	items, err := s.repo.Items()
	if err != nil {
		return err
	}

	missing := false

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		if item.EnclosureURL == "" {
			missing = true

			continue
		}

		if err := onItem(item.EnclosureURL); err != nil {
			return err
		}
	}

	if missing {
		return ErrMissingEntries
	}

	return nil
}
