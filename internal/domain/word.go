package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxWordLength bounds word length in runes.
const DefaultMaxWordLength = 30

var wordPattern = regexp.MustCompile(`^[\p{L}\p{N}_\s-]+$`)

// Word is one entry of a subscriber's pool.
type Word struct {
	ID           int64     `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
}

// NormalizeWord trims text and validates it against maxLen (runes).
func NormalizeWord(text string, maxLen int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidWord)
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidWord, maxLen)
	}
	if !wordPattern.MatchString(text) {
		return "", fmt.Errorf("%w: unsupported characters", ErrInvalidWord)
	}
	return text, nil
}
