// Package rotation implements word selection, the multi-day retention state
// machine and the pause/resume gate for word-of-the-day subscribers.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ashureev/wotd-bot/internal/domain"
	"github.com/ashureev/wotd-bot/internal/store"
)

var (
	// ErrNoWordsAvailable means the subscriber's pool is empty.
	ErrNoWordsAvailable = errors.New("no words available")
	// ErrStaleWordReference means the active word was deleted underneath the state machine.
	ErrStaleWordReference = errors.New("active word no longer exists")
	// ErrPersistence wraps every storage failure surfaced by the engine.
	ErrPersistence = errors.New("persistence failure")
	// ErrSubscriberNotFound means no subscriber has the given id.
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

func persistErr(op string, err error) error {
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Outcome describes what a transition did.
type Outcome string

const (
	OutcomeRotate      Outcome = "rotate"
	OutcomeRepeat      Outcome = "repeat"
	OutcomeCatchUp     Outcome = "catch_up"
	OutcomePaused      Outcome = "paused"
	OutcomeAlreadySent Outcome = "already_sent"
	OutcomeEmptyPool   Outcome = "empty_pool"
	OutcomeResumed     Outcome = "resumed"
	OutcomeNotPaused   Outcome = "not_paused"
)

// Announced reports whether the outcome produced an announcement.
func (o Outcome) Announced() bool {
	return o == OutcomeRotate || o == OutcomeRepeat || o == OutcomeCatchUp
}

// Delivery is the result of one transition.
type Delivery struct {
	Outcome Outcome
	Word    *domain.Word
	// SendCount is the active word's counter after the transition.
	SendCount int
}

// Defaults are applied to newly registered subscribers.
type Defaults struct {
	SendTime      domain.Clock
	UTCOffset     domain.Offset
	RetentionDays int
}

// Engine owns every state change of a subscriber. All mutations for one
// subscriber are serialized; different subscribers never contend.
type Engine struct {
	repo          store.Repository
	selector      *Selector
	announcer     Announcer
	locks         *keyedMutex
	defaults      Defaults
	maxWordLength int
	logger        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAnnouncer sets the outbound channel for announcements.
func WithAnnouncer(a Announcer) Option {
	return func(e *Engine) { e.announcer = a }
}

// WithRandom replaces the uniform random source used by the selector.
func WithRandom(intn func(n int) int) Option {
	return func(e *Engine) { e.selector.intn = intn }
}

// WithDefaults sets the settings given to new subscribers.
func WithDefaults(d Defaults) Option {
	return func(e *Engine) { e.defaults = d }
}

// WithMaxWordLength bounds accepted word length in runes.
func WithMaxWordLength(n int) Option {
	return func(e *Engine) { e.maxWordLength = n }
}

// WithLogger sets the operator-facing logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
		e.selector.logger = l
	}
}

// NewEngine creates an engine over repo.
func NewEngine(repo store.Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		selector:  NewSelector(repo, rand.IntN, slog.Default()),
		announcer: discardAnnouncer{},
		locks:     newKeyedMutex(),
		defaults: Defaults{
			SendTime:      domain.DefaultSendTime,
			UTCOffset:     domain.DefaultOffset,
			RetentionDays: domain.DefaultRetentionDays,
		},
		maxWordLength: domain.DefaultMaxWordLength,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deliver runs one retention transition for a due subscriber. The state change
// commits and the subscriber lock is released before the announcement is
// attempted; a failed announcement is logged and never rolls the transition back.
func (e *Engine) Deliver(ctx context.Context, subscriberID string, now time.Time) (Delivery, error) {
	unlock := e.locks.Lock(subscriberID)

	var d Delivery
	err := e.repo.Atomic(ctx, func(tx store.Repository) error {
		d = Delivery{}
		sub, err := tx.GetSubscriber(ctx, subscriberID)
		if err != nil {
			return persistErr("get subscriber", err)
		}
		if sub == nil {
			return ErrSubscriberNotFound
		}
		d, err = e.transition(ctx, tx, sub, now)
		return err
	})
	unlock()
	if err != nil {
		if !errors.Is(err, ErrSubscriberNotFound) {
			e.logger.Error("Delivery transition abandoned",
				"subscriber_id", subscriberID,
				"error", err)
		}
		return Delivery{}, err
	}

	e.logDelivery(subscriberID, d)
	e.announce(ctx, subscriberID, d)
	return d, nil
}

func (e *Engine) transition(ctx context.Context, tx store.Repository, sub *domain.Subscriber, now time.Time) (Delivery, error) {
	if sub.IsPaused {
		return Delivery{Outcome: OutcomePaused}, nil
	}
	if sub.SentOn(now) {
		return Delivery{Outcome: OutcomeAlreadySent, SendCount: sub.ActiveWordSendCount}, nil
	}
	today := sub.LocalDate(now)

	if sub.WithinRetention() {
		w, err := activeWord(ctx, tx, sub)
		if err != nil {
			return Delivery{}, err
		}
		if w != nil {
			sub.ActiveWordSendCount++
			sub.LastSentDate = today
			if err := tx.UpsertSubscriber(ctx, sub); err != nil {
				return Delivery{}, persistErr("save subscriber", err)
			}
			return Delivery{Outcome: OutcomeRepeat, Word: w, SendCount: sub.ActiveWordSendCount}, nil
		}
		e.logger.Warn("Active word reference is stale, selecting a new word",
			"subscriber_id", sub.ID,
			"word_id", *sub.ActiveWordID,
			"error", ErrStaleWordReference)
	}

	w, err := e.selector.bind(tx).SelectNext(ctx, sub.ID)
	if errors.Is(err, ErrNoWordsAvailable) {
		return Delivery{Outcome: OutcomeEmptyPool}, nil
	}
	if err != nil {
		return Delivery{}, err
	}

	sub.ActiveWordID = &w.ID
	sub.ActiveWordSendCount = 1
	sub.LastSentDate = today
	if err := tx.UpsertSubscriber(ctx, sub); err != nil {
		return Delivery{}, persistErr("save subscriber", err)
	}
	return Delivery{Outcome: OutcomeRotate, Word: w, SendCount: 1}, nil
}

// activeWord loads the subscriber's active word, or nil when the reference
// is stale.
func activeWord(ctx context.Context, tx store.Repository, sub *domain.Subscriber) (*domain.Word, error) {
	ok, err := tx.WordExists(ctx, sub.ID, *sub.ActiveWordID)
	if err != nil {
		return nil, persistErr("check active word", err)
	}
	if !ok {
		return nil, nil
	}
	w, err := tx.GetWord(ctx, sub.ID, *sub.ActiveWordID)
	if err != nil {
		return nil, persistErr("get active word", err)
	}
	return w, nil
}

func (e *Engine) logDelivery(subscriberID string, d Delivery) {
	switch d.Outcome {
	case OutcomeRotate, OutcomeRepeat, OutcomeCatchUp:
		e.logger.Info("Word of the day committed",
			"subscriber_id", subscriberID,
			"outcome", d.Outcome,
			"word_id", d.Word.ID,
			"send_count", d.SendCount)
	case OutcomeEmptyPool:
		e.logger.Warn("Word pool is empty, nothing to announce",
			"subscriber_id", subscriberID,
			"error", ErrNoWordsAvailable)
	default:
		e.logger.Debug("Delivery skipped", "subscriber_id", subscriberID, "outcome", d.Outcome)
	}
}

func (e *Engine) announce(ctx context.Context, subscriberID string, d Delivery) {
	if !d.Outcome.Announced() {
		return
	}
	if err := e.announcer.Announce(ctx, subscriberID, FormatAnnouncement(d.Word)); err != nil {
		e.logger.Error("Announcement failed, transition stays committed",
			"subscriber_id", subscriberID,
			"word_id", d.Word.ID,
			"outcome", d.Outcome,
			"error", err)
	}
}

// Pause suspends delivery. Retention state is left exactly as it is.
// Reports whether the subscriber was running before the call.
func (e *Engine) Pause(ctx context.Context, subscriberID string) (bool, error) {
	unlock := e.locks.Lock(subscriberID)
	defer unlock()

	var changed bool
	err := e.repo.Atomic(ctx, func(tx store.Repository) error {
		sub, err := tx.GetSubscriber(ctx, subscriberID)
		if err != nil {
			return persistErr("get subscriber", err)
		}
		if sub == nil {
			return ErrSubscriberNotFound
		}
		changed = !sub.IsPaused
		if !changed {
			return nil
		}
		sub.IsPaused = true
		if err := tx.UpsertSubscriber(ctx, sub); err != nil {
			return persistErr("save subscriber", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		e.logger.Info("Delivery paused", "subscriber_id", subscriberID)
	}
	return changed, nil
}

// Resume lifts a pause. When the active word still has announcements left,
// today's send minute has already passed and nothing went out today, one
// catch-up announcement is delivered immediately. An earlier resume stays
// silent and leaves today's delivery to the scheduler.
// Resuming a subscriber that is not paused does nothing.
func (e *Engine) Resume(ctx context.Context, subscriberID string, now time.Time) (Delivery, error) {
	unlock := e.locks.Lock(subscriberID)

	var d Delivery
	err := e.repo.Atomic(ctx, func(tx store.Repository) error {
		d = Delivery{}
		sub, err := tx.GetSubscriber(ctx, subscriberID)
		if err != nil {
			return persistErr("get subscriber", err)
		}
		if sub == nil {
			return ErrSubscriberNotFound
		}
		if !sub.IsPaused {
			d = Delivery{Outcome: OutcomeNotPaused, SendCount: sub.ActiveWordSendCount}
			return nil
		}

		sub.IsPaused = false
		d = Delivery{Outcome: OutcomeResumed, SendCount: sub.ActiveWordSendCount}

		if sub.WithinRetention() && sub.MissedToday(now) {
			w, err := activeWord(ctx, tx, sub)
			if err != nil {
				return err
			}
			if w != nil {
				sub.ActiveWordSendCount++
				sub.LastSentDate = sub.LocalDate(now)
				d = Delivery{Outcome: OutcomeCatchUp, Word: w, SendCount: sub.ActiveWordSendCount}
			}
		}

		if err := tx.UpsertSubscriber(ctx, sub); err != nil {
			return persistErr("save subscriber", err)
		}
		return nil
	})
	unlock()
	if err != nil {
		return Delivery{}, err
	}

	if d.Outcome == OutcomeResumed {
		e.logger.Info("Delivery resumed", "subscriber_id", subscriberID)
	} else {
		e.logDelivery(subscriberID, d)
	}
	e.announce(ctx, subscriberID, d)
	return d, nil
}

// RandomWord draws a word through the selector without touching the
// retention state. The draw is recorded in history.
func (e *Engine) RandomWord(ctx context.Context, subscriberID string) (*domain.Word, error) {
	unlock := e.locks.Lock(subscriberID)
	defer unlock()

	var w *domain.Word
	err := e.repo.Atomic(ctx, func(tx store.Repository) error {
		var err error
		w, err = e.selector.bind(tx).SelectNext(ctx, subscriberID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}
