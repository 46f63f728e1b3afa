package telegram

import (
	"sync"
	"time"
)

type pendingAction string

const (
	pendingAdd    pendingAction = "add"
	pendingRemove pendingAction = "remove"
)

type pendingInput struct {
	action  pendingAction
	expires time.Time
}

// pendingInputs remembers which command is waiting for a chat's next plain
// text message. Entries expire after ttl and are swept on access.
type pendingInputs struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]pendingInput
}

func newPendingInputs(ttl time.Duration) *pendingInputs {
	return &pendingInputs{ttl: ttl, entries: make(map[int64]pendingInput)}
}

func (p *pendingInputs) set(chatID int64, action pendingAction, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweep(now)
	p.entries[chatID] = pendingInput{action: action, expires: now.Add(p.ttl)}
}

// take returns and clears the chat's pending action if it has not expired.
func (p *pendingInputs) take(chatID int64, now time.Time) (pendingAction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweep(now)
	in, ok := p.entries[chatID]
	if !ok {
		return "", false
	}
	delete(p.entries, chatID)
	return in.action, true
}

func (p *pendingInputs) clear(chatID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, chatID)
}

func (p *pendingInputs) sweep(now time.Time) {
	for id, in := range p.entries {
		if !now.Before(in.expires) {
			delete(p.entries, id)
		}
	}
}

func (p *pendingInputs) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
