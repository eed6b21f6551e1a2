package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, EstimateTokens("a"))
	require.Equal(t, 1, EstimateTokens("four"))
	require.Equal(t, 2, EstimateTokens("fives"))
	require.Equal(t, 1, EstimateTokens(""))
	require.Equal(t, 1, EstimateTokens("été"))
}

func TestSplitBlank(t *testing.T) {
	t.Parallel()

	require.Empty(t, New(DefaultConfig()).Split("  \n\t "))
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	t.Parallel()

	got := New(Config{MaxTokens: 50}).Split("Open  daily\n9am to 9pm")
	require.Equal(t, []string{"Open daily 9am to 9pm"}, got)
}

func TestSplitRespectsMaxTokens(t *testing.T) {
	t.Parallel()

	// 20 one-token words, 5 per chunk, no overlap.
	words := make([]string, 20)
	for i := range words {
		words[i] = "w"
	}
	got := New(Config{MaxTokens: 5, OverlapTokens: 0}).Split(strings.Join(words, " "))
	require.Len(t, got, 4)
	for _, c := range got {
		require.Len(t, strings.Fields(c), 5)
	}
}

func TestSplitOverlapCarriesTrailingWords(t *testing.T) {
	t.Parallel()

	got := New(Config{MaxTokens: 4, OverlapTokens: 1}).Split("a b c d e f g")
	require.Equal(t, []string{"a b c d", "d e f g"}, got)
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	t.Parallel()

	got := New(Config{MaxTokens: 6, OverlapTokens: 0}).Split("a b c d e. f g")
	require.Equal(t, []string{"a b c d e.", "f g"}, got)
}

func TestSplitOversizedWordIsOwnChunk(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 40) // 10 tokens
	got := New(Config{MaxTokens: 3, OverlapTokens: 2}).Split("a " + long + " b")
	require.Equal(t, []string{"a", long, "b"}, got)
}

func TestNewClampsOverlap(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxTokens: 8, OverlapTokens: 8})
	require.Equal(t, 2, c.cfg.OverlapTokens)
	c = New(Config{MaxTokens: 0, OverlapTokens: -1})
	require.Equal(t, DefaultConfig().MaxTokens, c.cfg.MaxTokens)
	require.Equal(t, 0, c.cfg.OverlapTokens)
}

func TestChunksDeterministic(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("store hours are nine to five. ", 80)
	c := New(Config{MaxTokens: 30, OverlapTokens: 5})

	first := c.Chunks("site", "https://example.com/hours", text)
	second := New(Config{MaxTokens: 30, OverlapTokens: 5}).Chunks("site", "https://example.com/hours", text)
	require.Greater(t, len(first), 1)
	require.Equal(t, first, second)

	for i, ch := range first {
		require.Equal(t, i, ch.Index)
		require.NotEmpty(t, ch.ID)
	}
	other := c.Chunks("site", "https://example.com/other", text)
	require.NotEqual(t, first[0].ID, other[0].ID)
}
