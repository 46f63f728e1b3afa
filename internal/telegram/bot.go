package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashureev/wotd-bot/internal/domain"
	"github.com/ashureev/wotd-bot/internal/rotation"
	"github.com/ashureev/wotd-bot/internal/store"
)

// DefaultPendingInputTTL is how long /add or /remove wait for the word.
const DefaultPendingInputTTL = 5 * time.Minute

// Engine is the rotation engine surface the command handlers use.
type Engine interface {
	Register(ctx context.Context, subscriberID, chatType, title string) (*domain.Subscriber, error)
	Subscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error)
	Words(ctx context.Context, subscriberID string) ([]*domain.Word, error)
	AddWord(ctx context.Context, subscriberID, text string) (*domain.Word, error)
	RemoveWord(ctx context.Context, subscriberID, text string) (bool, error)
	RandomWord(ctx context.Context, subscriberID string) (*domain.Word, error)
	SetSchedule(ctx context.Context, subscriberID string, at domain.Clock, offset domain.Offset) (*domain.Subscriber, error)
	SetRetention(ctx context.Context, subscriberID string, days int) (*domain.Subscriber, error)
	Pause(ctx context.Context, subscriberID string) (bool, error)
	Resume(ctx context.Context, subscriberID string, now time.Time) (rotation.Delivery, error)
}

// Commands is the menu registered with Telegram.
var Commands = []tgbotapi.BotCommand{
	{Command: "start", Description: "Register this chat"},
	{Command: "help", Description: "Show available commands"},
	{Command: "add", Description: "Add a word"},
	{Command: "remove", Description: "Remove a word"},
	{Command: "words", Description: "List your words"},
	{Command: "random", Description: "Get a random word now"},
	{Command: "time", Description: "Show or set the send time"},
	{Command: "days", Description: "Show or set how many days a word repeats"},
	{Command: "pause", Description: "Pause daily words"},
	{Command: "resume", Description: "Resume daily words"},
	{Command: "status", Description: "Show current settings"},
}

const helpText = "Commands:\n" +
	"/add <word> - add a word\n" +
	"/remove <word> - remove a word\n" +
	"/words - list your words\n" +
	"/random - get a random word (it is recorded in history)\n" +
	"/time [HH:MM±offset] - show or set the send time\n" +
	"/days [N] - show or set how many days each word is repeated\n" +
	"/pause - pause daily words\n" +
	"/resume - resume daily words\n" +
	"/status - show current settings"

const emptyListText = "Your list is empty. Add a word with /add <word>."

// Bot handles chat updates.
type Bot struct {
	api     BotAPI
	engine  Engine
	pending *pendingInputs
	now     func() time.Time
	logger  *slog.Logger
}

// BotOption configures a Bot.
type BotOption func(*Bot)

// WithPendingInputTTL sets how long a bare /add or /remove waits.
func WithPendingInputTTL(d time.Duration) BotOption {
	return func(b *Bot) {
		if d > 0 {
			b.pending = newPendingInputs(d)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BotOption {
	return func(b *Bot) { b.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BotOption {
	return func(b *Bot) { b.logger = l }
}

// NewBot creates a command bot.
func NewBot(api BotAPI, engine Engine, opts ...BotOption) *Bot {
	b := &Bot{
		api:     api,
		engine:  engine,
		pending: newPendingInputs(DefaultPendingInputTTL),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterCommands publishes the command menu.
func (b *Bot) RegisterCommands() error {
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(Commands...)); err != nil {
		return fmt.Errorf("set bot commands: %w", err)
	}
	return nil
}

// Run long-polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram polling started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Telegram polling stopped", "reason", ctx.Err())
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate processes one update. Errors are reported to the chat and
// logged, never returned.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	subscriberID := SubscriberID(chatID)

	if _, err := b.engine.Register(ctx, subscriberID, msg.Chat.Type, chatTitle(msg.Chat)); err != nil {
		b.logger.Error("Failed to register chat", "subscriber_id", subscriberID, "error", err)
		b.reply(chatID, "Something went wrong, please try again later.")
		return
	}

	if !msg.IsCommand() {
		b.handleText(ctx, chatID, msg.Text)
		return
	}

	b.pending.clear(chatID)
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.reply(chatID, "Hi! I am the Word of the Day bot.\n\n"+helpText+
			"\n\nEvery day at the chosen time I will send you a word from your list.")
	case "help":
		b.reply(chatID, helpText)
	case "add":
		if args == "" {
			b.pending.set(chatID, pendingAdd, b.now())
			b.reply(chatID, "Send the word you want to add.")
			return
		}
		b.addWord(ctx, chatID, args)
	case "remove":
		if args == "" {
			b.pending.set(chatID, pendingRemove, b.now())
			b.reply(chatID, "Send the word you want to remove.")
			return
		}
		b.removeWord(ctx, chatID, args)
	case "words":
		b.listWords(ctx, chatID)
	case "random":
		b.randomWord(ctx, chatID)
	case "time":
		b.schedule(ctx, chatID, args)
	case "days":
		b.retention(ctx, chatID, args)
	case "pause":
		b.pause(ctx, chatID)
	case "resume":
		b.resume(ctx, chatID)
	case "status":
		b.status(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleText(ctx context.Context, chatID int64, text string) {
	action, ok := b.pending.take(chatID, b.now())
	if !ok {
		return
	}
	switch action {
	case pendingAdd:
		b.addWord(ctx, chatID, text)
	case pendingRemove:
		b.removeWord(ctx, chatID, text)
	}
}

func (b *Bot) addWord(ctx context.Context, chatID int64, text string) {
	w, err := b.engine.AddWord(ctx, SubscriberID(chatID), text)
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("Word %q added.", w.Text))
	case errors.Is(err, store.ErrDuplicateWord):
		b.reply(chatID, fmt.Sprintf("Word %q is already in your list.", strings.TrimSpace(text)))
	case errors.Is(err, domain.ErrInvalidWord):
		b.reply(chatID, "Invalid word. Use letters, digits, spaces, '-' or '_', up to the length limit.")
	default:
		b.fail(chatID, "add word", err)
	}
}

func (b *Bot) removeWord(ctx context.Context, chatID int64, text string) {
	text = strings.TrimSpace(text)
	removed, err := b.engine.RemoveWord(ctx, SubscriberID(chatID), text)
	if err != nil {
		b.fail(chatID, "remove word", err)
		return
	}
	if !removed {
		b.reply(chatID, fmt.Sprintf("Word %q not found.", text))
		return
	}
	b.reply(chatID, fmt.Sprintf("Word %q removed.", text))
}

func (b *Bot) listWords(ctx context.Context, chatID int64) {
	words, err := b.engine.Words(ctx, SubscriberID(chatID))
	if err != nil {
		b.fail(chatID, "list words", err)
		return
	}
	if len(words) == 0 {
		b.reply(chatID, emptyListText)
		return
	}
	var sb strings.Builder
	sb.WriteString("Your words:")
	for i, w := range words {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, w.Text)
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) randomWord(ctx context.Context, chatID int64) {
	w, err := b.engine.RandomWord(ctx, SubscriberID(chatID))
	if errors.Is(err, rotation.ErrNoWordsAvailable) {
		b.reply(chatID, emptyListText)
		return
	}
	if err != nil {
		b.fail(chatID, "random word", err)
		return
	}
	b.reply(chatID, "Random word: "+w.Text)
}

func (b *Bot) schedule(ctx context.Context, chatID int64, args string) {
	subscriberID := SubscriberID(chatID)
	if args == "" {
		sub, err := b.engine.Subscriber(ctx, subscriberID)
		if err != nil {
			b.fail(chatID, "get schedule", err)
			return
		}
		b.reply(chatID, fmt.Sprintf("Send time: %s\nChange it with /time HH:MM±offset, e.g. /time 21:00+3", sub.ScheduleString()))
		return
	}

	at, offset, err := domain.ParseSchedule(args)
	if errors.Is(err, domain.ErrInvalidOffset) {
		b.reply(chatID, "Invalid UTC offset. Allowed values range from -12:00 to +14:00.")
		return
	}
	if err != nil {
		b.reply(chatID, "Invalid format. Example: /time 21:00+3 or /time 08:30-5")
		return
	}

	sub, err := b.engine.SetSchedule(ctx, subscriberID, at, offset)
	if err != nil {
		b.fail(chatID, "set schedule", err)
		return
	}
	b.reply(chatID, "Send time set to "+sub.ScheduleString())
}

func (b *Bot) retention(ctx context.Context, chatID int64, args string) {
	subscriberID := SubscriberID(chatID)
	if args == "" {
		sub, err := b.engine.Subscriber(ctx, subscriberID)
		if err != nil {
			b.fail(chatID, "get retention", err)
			return
		}
		b.reply(chatID, fmt.Sprintf("Each word is sent for %s.", days(sub.RetentionDays)))
		return
	}

	n, err := strconv.Atoi(args)
	if err != nil {
		b.reply(chatID, "Usage: /days N, where N is a whole number of days (1 or more).")
		return
	}
	sub, err := b.engine.SetRetention(ctx, subscriberID, n)
	if errors.Is(err, domain.ErrInvalidRetentionPeriod) {
		b.reply(chatID, "The number of days must be 1 or more.")
		return
	}
	if err != nil {
		b.fail(chatID, "set retention", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Each word will now be sent for %s.", days(sub.RetentionDays)))
}

func (b *Bot) pause(ctx context.Context, chatID int64) {
	changed, err := b.engine.Pause(ctx, SubscriberID(chatID))
	if err != nil {
		b.fail(chatID, "pause", err)
		return
	}
	if !changed {
		b.reply(chatID, "Daily words are already paused.")
		return
	}
	b.reply(chatID, "Daily words paused. Your current word and its progress are kept. Use /resume to continue.")
}

func (b *Bot) resume(ctx context.Context, chatID int64) {
	d, err := b.engine.Resume(ctx, SubscriberID(chatID), b.now())
	if err != nil {
		b.fail(chatID, "resume", err)
		return
	}
	if d.Outcome == rotation.OutcomeNotPaused {
		b.reply(chatID, "Daily words are not paused.")
		return
	}
	b.reply(chatID, "Daily words resumed.")
}

func (b *Bot) status(ctx context.Context, chatID int64) {
	subscriberID := SubscriberID(chatID)
	sub, err := b.engine.Subscriber(ctx, subscriberID)
	if err != nil {
		b.fail(chatID, "status", err)
		return
	}
	words, err := b.engine.Words(ctx, subscriberID)
	if err != nil {
		b.fail(chatID, "status", err)
		return
	}

	state := "active"
	if sub.IsPaused {
		state = "paused"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %s\n", state)
	fmt.Fprintf(&sb, "Send time: %s\n", sub.ScheduleString())
	fmt.Fprintf(&sb, "Each word is sent for %s\n", days(sub.RetentionDays))
	fmt.Fprintf(&sb, "Words in list: %d", len(words))
	if sub.HasActiveWord() {
		for _, w := range words {
			if w.ID == *sub.ActiveWordID {
				fmt.Fprintf(&sb, "\nCurrent word: %s (%d of %d)", w.Text, sub.ActiveWordSendCount, sub.RetentionDays)
				break
			}
		}
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) fail(chatID int64, op string, err error) {
	b.logger.Error("Command failed", "subscriber_id", SubscriberID(chatID), "op", op, "error", err)
	b.reply(chatID, "Something went wrong, please try again later.")
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("Failed to send reply", "subscriber_id", SubscriberID(chatID), "error", err)
	}
}

func chatTitle(c *tgbotapi.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	if c.UserName != "" {
		return c.UserName
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
