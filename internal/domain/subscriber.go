// Package domain contains core domain types for the word-of-the-day bot.
package domain

import (
	"fmt"
	"time"
)

// DateLayout is the layout of subscriber-local calendar dates.
const DateLayout = "2006-01-02"

// DefaultRetentionDays is how many daily announcements a word gets by default.
const DefaultRetentionDays = 1

// Subscriber is one chat receiving a word of the day, together with its
// schedule and retention state.
type Subscriber struct {
	ID                  string    `json:"id"`
	ChatType            string    `json:"chat_type"`
	Title               string    `json:"title"`
	SendTime            Clock     `json:"send_time"`
	UTCOffset           Offset    `json:"utc_offset"`
	RetentionDays       int       `json:"retention_days"`
	IsPaused            bool      `json:"is_paused"`
	ActiveWordID        *int64    `json:"active_word_id,omitempty"`
	ActiveWordSendCount int       `json:"active_word_send_count"`
	LastSentDate        string    `json:"last_sent_date,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// LocalTime converts an instant to the subscriber's wall clock. The result is
// expressed in UTC so that Hour/Minute/Date read the shifted values directly.
func (s *Subscriber) LocalTime(now time.Time) time.Time {
	return now.UTC().Add(time.Duration(s.UTCOffset) * time.Minute)
}

// LocalDate returns the subscriber-local calendar date of now.
func (s *Subscriber) LocalDate(now time.Time) string {
	return s.LocalTime(now).Format(DateLayout)
}

// IsDue reports whether now is the subscriber's delivery minute.
func (s *Subscriber) IsDue(now time.Time) bool {
	return s.SendTime.Matches(s.LocalTime(now))
}

// SentOn reports whether an announcement already happened on the local date of now.
func (s *Subscriber) SentOn(now time.Time) bool {
	return s.LastSentDate != "" && s.LastSentDate == s.LocalDate(now)
}

// MissedToday reports whether today's local send minute has passed without an
// announcement.
func (s *Subscriber) MissedToday(now time.Time) bool {
	return s.SendTime.Passed(s.LocalTime(now)) && !s.SentOn(now)
}

// HasActiveWord reports whether a word is currently being announced.
func (s *Subscriber) HasActiveWord() bool {
	return s.ActiveWordID != nil && s.ActiveWordSendCount > 0
}

// WithinRetention reports whether the active word still has announcements left.
func (s *Subscriber) WithinRetention() bool {
	return s.HasActiveWord() && s.ActiveWordSendCount < s.RetentionDays
}

// ClearActiveWord drops the active word and its counter.
func (s *Subscriber) ClearActiveWord() {
	s.ActiveWordID = nil
	s.ActiveWordSendCount = 0
}

// ScheduleString renders the schedule the way users type it.
func (s *Subscriber) ScheduleString() string {
	return fmt.Sprintf("%s (UTC%s)", s.SendTime, s.UTCOffset)
}

// ValidateRetention checks a retention period.
func ValidateRetention(days int) error {
	if days < 1 {
		return fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidRetentionPeriod, days)
	}
	return nil
}
