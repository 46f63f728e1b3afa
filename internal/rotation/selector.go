package rotation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/wotd-bot/internal/domain"
	"github.com/ashureev/wotd-bot/internal/store"
)

// Selector picks the next word of a pool without repeats until the pool is
// exhausted, at which point the subscriber's history is reset.
type Selector struct {
	repo   store.Repository
	intn   func(n int) int
	logger *slog.Logger
}

// NewSelector creates a selector. intn must return a uniform value in [0, n).
func NewSelector(repo store.Repository, intn func(n int) int, logger *slog.Logger) *Selector {
	return &Selector{repo: repo, intn: intn, logger: logger}
}

// bind returns a selector working against repo, typically a transaction.
func (s *Selector) bind(repo store.Repository) *Selector {
	return &Selector{repo: repo, intn: s.intn, logger: s.logger}
}

// SelectNext chooses a word not yet in history and records it there. An empty
// pool fails with ErrNoWordsAvailable and mutates nothing.
func (s *Selector) SelectNext(ctx context.Context, subscriberID string) (*domain.Word, error) {
	pool, err := s.repo.ListWords(ctx, subscriberID)
	if err != nil {
		return nil, persistErr("list words", err)
	}
	if len(pool) == 0 {
		return nil, ErrNoWordsAvailable
	}

	history, err := s.repo.GetHistory(ctx, subscriberID)
	if err != nil {
		return nil, persistErr("get history", err)
	}

	available := make([]*domain.Word, 0, len(pool))
	for _, w := range pool {
		if _, used := history[w.ID]; !used {
			available = append(available, w)
		}
	}

	if len(available) == 0 {
		if err := s.repo.ClearHistory(ctx, subscriberID); err != nil {
			return nil, persistErr("clear history", err)
		}
		s.logger.Info("Word pool exhausted, history reset",
			"subscriber_id", subscriberID,
			"pool_size", len(pool))
		available = pool
	}

	idx := s.intn(len(available))
	if idx < 0 || idx >= len(available) {
		return nil, fmt.Errorf("random source returned %d for n=%d", idx, len(available))
	}
	chosen := available[idx]

	if err := s.repo.AddHistory(ctx, subscriberID, chosen.ID); err != nil {
		return nil, persistErr("add history", err)
	}
	return chosen, nil
}
