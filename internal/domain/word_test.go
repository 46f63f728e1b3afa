package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWord(t *testing.T) {
	got, err := NormalizeWord("  serendipity ", 30)
	require.NoError(t, err)
	assert.Equal(t, "serendipity", got)

	got, err = NormalizeWord("слово дня", 30)
	require.NoError(t, err)
	assert.Equal(t, "слово дня", got)

	got, err = NormalizeWord("well-being", 30)
	require.NoError(t, err)
	assert.Equal(t, "well-being", got)

	_, err = NormalizeWord("   ", 30)
	assert.ErrorIs(t, err, ErrInvalidWord)

	_, err = NormalizeWord(strings.Repeat("я", 31), 30)
	assert.ErrorIs(t, err, ErrInvalidWord)

	_, err = NormalizeWord("drop;table", 30)
	assert.ErrorIs(t, err, ErrInvalidWord)
}
