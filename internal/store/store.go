// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/wotd-bot/internal/domain"
)

// ErrDuplicateWord is returned when a subscriber already has the same word.
var ErrDuplicateWord = errors.New("word already exists")

// Repository defines the interface for persisting subscribers, their word
// pools and their selection history. Missing records are reported as (nil, nil).
type Repository interface {
	// Atomic runs fn against a repository bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	Atomic(ctx context.Context, fn func(tx Repository) error) error

	// ListSubscribers returns every subscriber.
	ListSubscribers(ctx context.Context) ([]*domain.Subscriber, error)

	// GetSubscriber retrieves a subscriber by id.
	GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error)

	// EnsureSubscriber inserts sub unless a record with the same id exists,
	// and returns the stored record.
	EnsureSubscriber(ctx context.Context, sub *domain.Subscriber) (*domain.Subscriber, error)

	// UpsertSubscriber creates or updates a subscriber record.
	UpsertSubscriber(ctx context.Context, sub *domain.Subscriber) error

	// ListWords returns the subscriber's pool in insertion order.
	ListWords(ctx context.Context, subscriberID string) ([]*domain.Word, error)

	// GetWord retrieves one word of the subscriber's pool.
	GetWord(ctx context.Context, subscriberID string, wordID int64) (*domain.Word, error)

	// FindWord looks a word up by its exact text.
	FindWord(ctx context.Context, subscriberID, text string) (*domain.Word, error)

	// WordExists reports whether wordID is still in the subscriber's pool.
	WordExists(ctx context.Context, subscriberID string, wordID int64) (bool, error)

	// AddWord appends text to the pool. Returns ErrDuplicateWord on a repeat.
	AddWord(ctx context.Context, subscriberID, text string) (*domain.Word, error)

	// DeleteWord removes a word, its history entries, and clears the
	// subscriber's active word if it pointed at it. Reports whether a word was removed.
	DeleteWord(ctx context.Context, subscriberID string, wordID int64) (bool, error)

	// GetHistory returns the ids of words shown since the last reset.
	GetHistory(ctx context.Context, subscriberID string) (map[int64]struct{}, error)

	// AddHistory records wordID as shown. Re-adding an existing pair is a no-op.
	AddHistory(ctx context.Context, subscriberID string, wordID int64) error

	// ClearHistory wipes the subscriber's history.
	ClearHistory(ctx context.Context, subscriberID string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
