package rotation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/wotd-bot/internal/domain"
	"github.com/ashureev/wotd-bot/internal/store"
)

var errStorageDown = errors.New("storage unavailable")

// fakeRepo is an in-memory Repository. Atomic snapshots state and restores it
// when fn fails. failOn makes the named operation fail.
type fakeRepo struct {
	mu      sync.Mutex
	subs    map[string]*domain.Subscriber
	words   map[string][]*domain.Word
	history map[string]map[int64]struct{}
	nextID  int64
	failOn  map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subs:    make(map[string]*domain.Subscriber),
		words:   make(map[string][]*domain.Word),
		history: make(map[string]map[int64]struct{}),
		failOn:  make(map[string]bool),
	}
}

func (f *fakeRepo) fail(op string) error {
	if f.failOn[op] {
		return errStorageDown
	}
	return nil
}

func (f *fakeRepo) setFail(op string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[op] = v
}

type fakeSnapshot struct {
	subs    map[string]domain.Subscriber
	words   map[string][]*domain.Word
	history map[string]map[int64]struct{}
	nextID  int64
}

func (f *fakeRepo) snapshot() fakeSnapshot {
	s := fakeSnapshot{
		subs:    make(map[string]domain.Subscriber),
		words:   make(map[string][]*domain.Word),
		history: make(map[string]map[int64]struct{}),
		nextID:  f.nextID,
	}
	for k, v := range f.subs {
		s.subs[k] = *v
	}
	for k, v := range f.words {
		s.words[k] = append([]*domain.Word(nil), v...)
	}
	for k, v := range f.history {
		h := make(map[int64]struct{}, len(v))
		for id := range v {
			h[id] = struct{}{}
		}
		s.history[k] = h
	}
	return s
}

func (f *fakeRepo) restore(s fakeSnapshot) {
	f.subs = make(map[string]*domain.Subscriber)
	for k, v := range s.subs {
		v := v
		f.subs[k] = &v
	}
	f.words = s.words
	f.history = s.history
	f.nextID = s.nextID
}

func (f *fakeRepo) Atomic(_ context.Context, fn func(tx store.Repository) error) error {
	f.mu.Lock()
	snap := f.snapshot()
	f.mu.Unlock()

	if err := fn(f); err != nil {
		f.mu.Lock()
		f.restore(snap)
		f.mu.Unlock()
		return err
	}
	return nil
}

func copySub(s *domain.Subscriber) *domain.Subscriber {
	c := *s
	if s.ActiveWordID != nil {
		id := *s.ActiveWordID
		c.ActiveWordID = &id
	}
	return &c
}

func (f *fakeRepo) ListSubscribers(_ context.Context) ([]*domain.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListSubscribers"); err != nil {
		return nil, err
	}
	out := make([]*domain.Subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, copySub(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) GetSubscriber(_ context.Context, id string) (*domain.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetSubscriber"); err != nil {
		return nil, err
	}
	s, ok := f.subs[id]
	if !ok {
		return nil, nil
	}
	return copySub(s), nil
}

func (f *fakeRepo) EnsureSubscriber(_ context.Context, sub *domain.Subscriber) (*domain.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("EnsureSubscriber"); err != nil {
		return nil, err
	}
	if _, ok := f.subs[sub.ID]; !ok {
		c := copySub(sub)
		c.CreatedAt = time.Now()
		f.subs[sub.ID] = c
	}
	return copySub(f.subs[sub.ID]), nil
}

func (f *fakeRepo) UpsertSubscriber(_ context.Context, sub *domain.Subscriber) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpsertSubscriber"); err != nil {
		return err
	}
	f.subs[sub.ID] = copySub(sub)
	return nil
}

func (f *fakeRepo) ListWords(_ context.Context, subscriberID string) ([]*domain.Word, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListWords"); err != nil {
		return nil, err
	}
	return append([]*domain.Word(nil), f.words[subscriberID]...), nil
}

func (f *fakeRepo) GetWord(_ context.Context, subscriberID string, wordID int64) (*domain.Word, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetWord"); err != nil {
		return nil, err
	}
	for _, w := range f.words[subscriberID] {
		if w.ID == wordID {
			return w, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindWord(_ context.Context, subscriberID, text string) (*domain.Word, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.words[subscriberID] {
		if w.Text == text {
			return w, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) WordExists(ctx context.Context, subscriberID string, wordID int64) (bool, error) {
	w, err := f.GetWord(ctx, subscriberID, wordID)
	return w != nil, err
}

func (f *fakeRepo) AddWord(_ context.Context, subscriberID, text string) (*domain.Word, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddWord"); err != nil {
		return nil, err
	}
	for _, w := range f.words[subscriberID] {
		if w.Text == text {
			return nil, store.ErrDuplicateWord
		}
	}
	f.nextID++
	w := &domain.Word{ID: f.nextID, SubscriberID: subscriberID, Text: text}
	f.words[subscriberID] = append(f.words[subscriberID], w)
	return w, nil
}

// dropWord removes a word without any cascade, simulating a store that left
// a dangling active reference behind.
func (f *fakeRepo) dropWord(subscriberID string, wordID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.words[subscriberID][:0]
	for _, w := range f.words[subscriberID] {
		if w.ID != wordID {
			kept = append(kept, w)
		}
	}
	f.words[subscriberID] = kept
}

func (f *fakeRepo) DeleteWord(_ context.Context, subscriberID string, wordID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteWord"); err != nil {
		return false, err
	}
	removed := false
	kept := make([]*domain.Word, 0, len(f.words[subscriberID]))
	for _, w := range f.words[subscriberID] {
		if w.ID == wordID {
			removed = true
			continue
		}
		kept = append(kept, w)
	}
	f.words[subscriberID] = kept
	delete(f.history[subscriberID], wordID)
	if s, ok := f.subs[subscriberID]; ok && s.ActiveWordID != nil && *s.ActiveWordID == wordID {
		s.ClearActiveWord()
	}
	return removed, nil
}

func (f *fakeRepo) GetHistory(_ context.Context, subscriberID string) (map[int64]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetHistory"); err != nil {
		return nil, err
	}
	out := make(map[int64]struct{})
	for id := range f.history[subscriberID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeRepo) AddHistory(_ context.Context, subscriberID string, wordID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddHistory"); err != nil {
		return err
	}
	if f.history[subscriberID] == nil {
		f.history[subscriberID] = make(map[int64]struct{})
	}
	f.history[subscriberID][wordID] = struct{}{}
	return nil
}

func (f *fakeRepo) ClearHistory(_ context.Context, subscriberID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ClearHistory"); err != nil {
		return err
	}
	delete(f.history, subscriberID)
	return nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return nil }
func (f *fakeRepo) Close() error                 { return nil }

// recorder captures announcements.
type recorder struct {
	mu   sync.Mutex
	sent []announcement
	err  error
}

type announcement struct {
	SubscriberID string
	Text         string
}

func (r *recorder) Announce(_ context.Context, subscriberID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, announcement{SubscriberID: subscriberID, Text: text})
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recorder) last() announcement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}
