// Package telegram is the chat transport: outbound announcements and the
// command surface.
package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the part of tgbotapi.BotAPI this package uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Announcer sends announcements as plain text chat messages. Subscriber ids
// are Telegram chat ids.
type Announcer struct {
	api BotAPI
}

// NewAnnouncer creates an announcer over api.
func NewAnnouncer(api BotAPI) *Announcer {
	return &Announcer{api: api}
}

// Announce implements rotation.Announcer. The bot API has no context support,
// so the send runs on its own goroutine and Announce returns when ctx ends;
// the abandoned request is bounded by the HTTP client timeout.
func (a *Announcer) Announce(ctx context.Context, subscriberID, text string) error {
	chatID, err := ParseChatID(subscriberID)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		_, err := a.api.Send(tgbotapi.NewMessage(chatID, text))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send to chat %d: %w", chatID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send to chat %d: %w", chatID, ctx.Err())
	}
}

// ParseChatID converts a subscriber id back to a chat id.
func ParseChatID(subscriberID string) (int64, error) {
	id, err := strconv.ParseInt(subscriberID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("subscriber %q is not a telegram chat: %w", subscriberID, err)
	}
	return id, nil
}

// SubscriberID is the subscriber id of a chat.
func SubscriberID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
