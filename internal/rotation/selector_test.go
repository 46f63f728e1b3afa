package rotation

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWords(t *testing.T, repo *fakeRepo, subscriberID string, words ...string) {
	t.Helper()
	for _, w := range words {
		_, err := repo.AddWord(context.Background(), subscriberID, w)
		require.NoError(t, err)
	}
}

func TestSelectorNoRepeatsUntilExhausted(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	seedWords(t, repo, "s", "a", "b", "c", "d", "e")

	r := rand.New(rand.NewPCG(1, 2))
	sel := NewSelector(repo, r.IntN, slog.Default())

	for round := 0; round < 3; round++ {
		seen := map[int64]bool{}
		for i := 0; i < 5; i++ {
			before, err := repo.GetHistory(ctx, "s")
			require.NoError(t, err)

			w, err := sel.SelectNext(ctx, "s")
			require.NoError(t, err)

			if len(before) < 5 {
				_, used := before[w.ID]
				assert.False(t, used, "round %d pick %d repeated %q", round, i, w.Text)
			}
			assert.False(t, seen[w.ID], "round %d repeated %q", round, w.Text)
			seen[w.ID] = true
		}
		h, err := repo.GetHistory(ctx, "s")
		require.NoError(t, err)
		assert.Len(t, h, 5, "history holds the whole pool after a full round")
	}
}

func TestSelectorResetsHistoryOnExhaustion(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	seedWords(t, repo, "s", "a", "b")
	sel := NewSelector(repo, func(int) int { return 0 }, slog.Default())

	first, err := sel.SelectNext(ctx, "s")
	require.NoError(t, err)
	second, err := sel.SelectNext(ctx, "s")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	third, err := sel.SelectNext(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID, "after reset the whole pool is available again")

	h, err := repo.GetHistory(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, map[int64]struct{}{third.ID: {}}, h)
}

func TestSelectorEmptyPool(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	require.NoError(t, repo.AddHistory(ctx, "s", 99))
	sel := NewSelector(repo, func(int) int { return 0 }, slog.Default())

	for i := 0; i < 2; i++ {
		_, err := sel.SelectNext(ctx, "s")
		assert.ErrorIs(t, err, ErrNoWordsAvailable)
	}

	h, err := repo.GetHistory(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, map[int64]struct{}{99: {}}, h, "empty pool must not touch history")
}

func TestSelectorIgnoresHistoryOfRemovedWords(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	seedWords(t, repo, "s", "a", "b")
	require.NoError(t, repo.AddHistory(ctx, "s", 1))
	require.NoError(t, repo.AddHistory(ctx, "s", 500))
	sel := NewSelector(repo, func(int) int { return 0 }, slog.Default())

	w, err := sel.SelectNext(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "b", w.Text)
}

func TestSelectorPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	seedWords(t, repo, "s", "a")
	repo.setFail("GetHistory", true)
	sel := NewSelector(repo, func(int) int { return 0 }, slog.Default())

	_, err := sel.SelectNext(ctx, "s")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errStorageDown)
}

func TestSelectorRejectsBadRandomSource(t *testing.T) {
	repo := newFakeRepo()
	seedWords(t, repo, "s", "a")
	sel := NewSelector(repo, func(n int) int { return n }, slog.Default())

	_, err := sel.SelectNext(context.Background(), "s")
	assert.Error(t, err)
}
