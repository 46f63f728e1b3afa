package rotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/wotd-bot/internal/domain"
)

// Announcer delivers a message to a subscriber over some outbound channel.
type Announcer interface {
	Announce(ctx context.Context, subscriberID, text string) error
}

// AnnouncerFunc adapts a function to Announcer.
type AnnouncerFunc func(ctx context.Context, subscriberID, text string) error

// Announce calls f.
func (f AnnouncerFunc) Announce(ctx context.Context, subscriberID, text string) error {
	return f(ctx, subscriberID, text)
}

// MultiAnnouncer fans an announcement out to every sink. A failing sink does
// not stop the others; all errors are joined.
type MultiAnnouncer []Announcer

// Announce implements Announcer.
func (m MultiAnnouncer) Announce(ctx context.Context, subscriberID, text string) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Announce(ctx, subscriberID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatAnnouncement renders the daily message for w.
func FormatAnnouncement(w *domain.Word) string {
	return fmt.Sprintf("Word of the day: %s", w.Text)
}

type discardAnnouncer struct{}

func (discardAnnouncer) Announce(context.Context, string, string) error { return nil }
