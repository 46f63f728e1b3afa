package rotation

import (
	"context"
	"errors"

	"github.com/ashureev/wotd-bot/internal/domain"
	"github.com/ashureev/wotd-bot/internal/store"
)

// Register creates the subscriber with default settings on first contact and
// returns the stored record.
func (e *Engine) Register(ctx context.Context, subscriberID, chatType, title string) (*domain.Subscriber, error) {
	sub, err := e.repo.EnsureSubscriber(ctx, &domain.Subscriber{
		ID:            subscriberID,
		ChatType:      chatType,
		Title:         title,
		SendTime:      e.defaults.SendTime,
		UTCOffset:     e.defaults.UTCOffset,
		RetentionDays: e.defaults.RetentionDays,
	})
	if err != nil {
		return nil, persistErr("ensure subscriber", err)
	}
	return sub, nil
}

// Subscriber returns the stored subscriber.
func (e *Engine) Subscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error) {
	sub, err := e.repo.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, persistErr("get subscriber", err)
	}
	if sub == nil {
		return nil, ErrSubscriberNotFound
	}
	return sub, nil
}

// Subscribers returns every subscriber.
func (e *Engine) Subscribers(ctx context.Context) ([]*domain.Subscriber, error) {
	subs, err := e.repo.ListSubscribers(ctx)
	if err != nil {
		return nil, persistErr("list subscribers", err)
	}
	return subs, nil
}

// Settings is a partial settings change. Nil fields are left untouched.
type Settings struct {
	SendTime      *domain.Clock
	UTCOffset     *domain.Offset
	RetentionDays *int
}

func (s Settings) validate() error {
	if s.UTCOffset != nil && !s.UTCOffset.Valid() {
		return domain.ErrInvalidOffset
	}
	if s.SendTime != nil {
		if _, err := domain.ParseClock(s.SendTime.String()); err != nil {
			return err
		}
	}
	if s.RetentionDays != nil {
		if err := domain.ValidateRetention(*s.RetentionDays); err != nil {
			return err
		}
	}
	return nil
}

// UpdateSettings validates every field first and then applies them together
// in one transaction, so a change is either stored whole or not at all.
func (e *Engine) UpdateSettings(ctx context.Context, subscriberID string, s Settings) (*domain.Subscriber, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return e.update(ctx, subscriberID, func(sub *domain.Subscriber) {
		if s.SendTime != nil {
			sub.SendTime = *s.SendTime
		}
		if s.UTCOffset != nil {
			sub.UTCOffset = *s.UTCOffset
		}
		if s.RetentionDays != nil {
			sub.RetentionDays = *s.RetentionDays
		}
	})
}

// SetSchedule changes the local send time and UTC offset.
func (e *Engine) SetSchedule(ctx context.Context, subscriberID string, at domain.Clock, offset domain.Offset) (*domain.Subscriber, error) {
	return e.UpdateSettings(ctx, subscriberID, Settings{SendTime: &at, UTCOffset: &offset})
}

// SetRetention changes how many daily announcements each word receives.
// Lowering it below the current count makes the active word due for rotation.
func (e *Engine) SetRetention(ctx context.Context, subscriberID string, days int) (*domain.Subscriber, error) {
	return e.UpdateSettings(ctx, subscriberID, Settings{RetentionDays: &days})
}

func (e *Engine) update(ctx context.Context, subscriberID string, mutate func(*domain.Subscriber)) (*domain.Subscriber, error) {
	unlock := e.locks.Lock(subscriberID)
	defer unlock()

	var out *domain.Subscriber
	err := e.repo.Atomic(ctx, func(tx store.Repository) error {
		sub, err := tx.GetSubscriber(ctx, subscriberID)
		if err != nil {
			return persistErr("get subscriber", err)
		}
		if sub == nil {
			return ErrSubscriberNotFound
		}
		mutate(sub)
		if err := tx.UpsertSubscriber(ctx, sub); err != nil {
			return persistErr("save subscriber", err)
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Words returns the subscriber's pool.
func (e *Engine) Words(ctx context.Context, subscriberID string) ([]*domain.Word, error) {
	words, err := e.repo.ListWords(ctx, subscriberID)
	if err != nil {
		return nil, persistErr("list words", err)
	}
	return words, nil
}

// AddWord validates text and appends it to the subscriber's pool.
func (e *Engine) AddWord(ctx context.Context, subscriberID, text string) (*domain.Word, error) {
	text, err := domain.NormalizeWord(text, e.maxWordLength)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(subscriberID)
	defer unlock()

	sub, err := e.repo.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, persistErr("get subscriber", err)
	}
	if sub == nil {
		return nil, ErrSubscriberNotFound
	}

	w, err := e.repo.AddWord(ctx, subscriberID, text)
	if errors.Is(err, store.ErrDuplicateWord) {
		return nil, err
	}
	if err != nil {
		return nil, persistErr("add word", err)
	}
	e.logger.Info("Word added", "subscriber_id", subscriberID, "word_id", w.ID)
	return w, nil
}

// RemoveWord deletes a word by its text. Reports whether it existed.
func (e *Engine) RemoveWord(ctx context.Context, subscriberID, text string) (bool, error) {
	unlock := e.locks.Lock(subscriberID)
	defer unlock()

	w, err := e.repo.FindWord(ctx, subscriberID, text)
	if err != nil {
		return false, persistErr("find word", err)
	}
	if w == nil {
		return false, nil
	}
	return e.deleteWordLocked(ctx, subscriberID, w.ID)
}

// DeleteWord deletes a word by id. Reports whether it existed.
func (e *Engine) DeleteWord(ctx context.Context, subscriberID string, wordID int64) (bool, error) {
	unlock := e.locks.Lock(subscriberID)
	defer unlock()

	return e.deleteWordLocked(ctx, subscriberID, wordID)
}

func (e *Engine) deleteWordLocked(ctx context.Context, subscriberID string, wordID int64) (bool, error) {
	removed, err := e.repo.DeleteWord(ctx, subscriberID, wordID)
	if err != nil {
		return false, persistErr("delete word", err)
	}
	if removed {
		e.logger.Info("Word removed", "subscriber_id", subscriberID, "word_id", wordID)
	}
	return removed, nil
}
