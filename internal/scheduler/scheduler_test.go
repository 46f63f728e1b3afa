package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/wotd-bot/internal/domain"
	"github.com/ashureev/wotd-bot/internal/rotation"
	"github.com/ashureev/wotd-bot/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	mu        sync.Mutex
	subs      []*domain.Subscriber
	listErr   error
	delivered []string
	block     map[string]chan struct{}
	hang      map[string]chan struct{}
	fail      map[string]error
}

func (f *fakeEngine) Subscribers(context.Context) ([]*domain.Subscriber, error) {
	return f.subs, f.listErr
}

func (f *fakeEngine) Deliver(ctx context.Context, id string, _ time.Time) (rotation.Delivery, error) {
	if ch, ok := f.hang[id]; ok {
		<-ch
	}
	if ch, ok := f.block[id]; ok {
		select {
		case <-ch:
		case <-ctx.Done():
			return rotation.Delivery{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.delivered = append(f.delivered, id)
	f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return rotation.Delivery{}, err
	}
	return rotation.Delivery{Outcome: rotation.OutcomeRotate}, nil
}

func (f *fakeEngine) deliveredIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.delivered...)
}

func sub(id string, at domain.Clock, off domain.Offset) *domain.Subscriber {
	return &domain.Subscriber{ID: id, SendTime: at, UTCOffset: off, RetentionDays: 1}
}

func TestTickSelectsDueSubscribers(t *testing.T) {
	// 03:30 UTC.
	now := time.Date(2024, time.March, 1, 3, 30, 0, 0, time.UTC)

	paused := sub("paused", domain.Clock{Hour: 9}, 330)
	paused.IsPaused = true

	eng := &fakeEngine{subs: []*domain.Subscriber{
		sub("india", domain.Clock{Hour: 9}, 330),
		sub("nepal", domain.Clock{Hour: 9, Minute: 15}, 345),
		sub("utc", domain.Clock{Hour: 3, Minute: 30}, 0),
		sub("newfoundland", domain.Clock{Hour: 0}, -210),
		sub("marquesas", domain.Clock{Hour: 18}, -570),
		sub("late", domain.Clock{Hour: 9, Minute: 1}, 330),
		sub("moscow", domain.Clock{Hour: 9}, 180),
		paused,
	}}
	s := New(eng, WithLogger(quietLogger()))

	n := s.Tick(context.Background(), now)
	s.Wait()

	assert.Equal(t, 5, n)
	assert.ElementsMatch(t, []string{"india", "nepal", "utc", "newfoundland", "marquesas"}, eng.deliveredIDs())
}

func TestTickDoesNotBlockOnSlowSubscriber(t *testing.T) {
	now := time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC)
	release := make(chan struct{})
	eng := &fakeEngine{
		subs: []*domain.Subscriber{
			sub("slow", domain.Clock{Hour: 9}, 180),
			sub("fast", domain.Clock{Hour: 9}, 180),
			sub("broken", domain.Clock{Hour: 9}, 180),
		},
		block: map[string]chan struct{}{"slow": release},
		fail:  map[string]error{"broken": errors.New("storage unavailable")},
	}
	s := New(eng, WithLogger(quietLogger()))

	done := make(chan int)
	go func() { done <- s.Tick(context.Background(), now) }()

	select {
	case n := <-done:
		assert.Equal(t, 3, n)
	case <-time.After(2 * time.Second):
		t.Fatal("Tick blocked on a dispatched transition")
	}

	require.Eventually(t, func() bool {
		return len(eng.deliveredIDs()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"fast", "broken"}, eng.deliveredIDs())

	close(release)
	s.Wait()
	assert.Len(t, eng.deliveredIDs(), 3)
}

func TestTickTransitionTimeout(t *testing.T) {
	now := time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC)
	eng := &fakeEngine{
		subs:  []*domain.Subscriber{sub("stuck", domain.Clock{Hour: 9}, 180)},
		block: map[string]chan struct{}{"stuck": make(chan struct{})},
	}
	s := New(eng, WithLogger(quietLogger()), WithTimeout(20*time.Millisecond))

	assert.Equal(t, 1, s.Tick(context.Background(), now))

	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("transition outlived its timeout")
	}
	assert.Empty(t, eng.deliveredIDs())
}

func TestTickListFailure(t *testing.T) {
	eng := &fakeEngine{listErr: errors.New("db down")}
	s := New(eng, WithLogger(quietLogger()))
	assert.Zero(t, s.Tick(context.Background(), time.Now()))
}

func TestStartStop(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, WithLogger(quietLogger()))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestStopIsBoundedByContext(t *testing.T) {
	now := time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC)
	release := make(chan struct{})
	defer close(release)
	eng := &fakeEngine{
		subs: []*domain.Subscriber{sub("hung", domain.Clock{Hour: 9}, 180)},
		hang: map[string]chan struct{}{"hung": release},
	}
	s := New(eng, WithLogger(quietLogger()))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, s.Tick(s.ctx, now))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Error(t, s.ctx.Err(), "in-flight transitions are cancelled")
}

type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *recorder) Announce(_ context.Context, _ string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestTickWithSQLiteEngine(t *testing.T) {
	ctx := context.Background()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "wotd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	rec := &recorder{}
	eng := rotation.NewEngine(repo,
		rotation.WithAnnouncer(rec),
		rotation.WithRandom(func(int) int { return 0 }),
		rotation.WithLogger(quietLogger()),
		rotation.WithDefaults(rotation.Defaults{
			SendTime:      domain.Clock{Hour: 9},
			UTCOffset:     330,
			RetentionDays: 2,
		}),
	)
	_, err = eng.Register(ctx, "100", "private", "")
	require.NoError(t, err)
	for _, w := range []string{"alpha", "beta"} {
		_, err := eng.AddWord(ctx, "100", w)
		require.NoError(t, err)
	}

	s := New(eng, WithLogger(quietLogger()))
	for day := 1; day <= 3; day++ {
		due := time.Date(2024, time.March, day, 3, 30, 0, 0, time.UTC)
		assert.Equal(t, 1, s.Tick(ctx, due))
		// Re-entered within the same minute.
		assert.Equal(t, 1, s.Tick(ctx, due.Add(30*time.Second)))
		assert.Zero(t, s.Tick(ctx, due.Add(time.Minute)))
		s.Wait()
	}

	assert.Equal(t, []string{
		"Word of the day: alpha",
		"Word of the day: alpha",
		"Word of the day: beta",
	}, rec.all())
}
