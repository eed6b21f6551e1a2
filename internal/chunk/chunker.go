// Package chunk splits normalized document text into token-bounded chunks and
// assigns each one its deterministic id.
package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/retail-content-ingestor/internal/id/uuid"
	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

// Config bounds chunk sizes in estimated tokens.
type Config struct {
	MaxTokens     int
	OverlapTokens int
}

// DefaultConfig returns the sizes used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     400,
		OverlapTokens: 40,
	}
}

// Chunker is a deterministic word-boundary splitter.
type Chunker struct {
	cfg Config
}

// New creates a Chunker. Invalid sizes fall back to the defaults; overlap is
// clamped below MaxTokens so every chunk advances.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	if cfg.OverlapTokens >= cfg.MaxTokens {
		cfg.OverlapTokens = cfg.MaxTokens / 4
	}
	return &Chunker{cfg: cfg}
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(word string) int {
	n := (utf8.RuneCountInString(word) + 3) / 4
	if n < 1 {
		return 1
	}
	return n
}

// Split returns the chunk texts for text. Whitespace is normalized first, so
// blank input yields no chunks. A single word longer than MaxTokens becomes a
// chunk of its own.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	tokens := make([]int, len(words))
	for i, w := range words {
		tokens[i] = EstimateTokens(w)
	}

	var out []string
	start := 0
	for start < len(words) {
		end, sum := start, 0
		for end < len(words) && (end == start || sum+tokens[end] <= c.cfg.MaxTokens) {
			sum += tokens[end]
			end++
		}
		if end < len(words) {
			end = sentenceBreak(words, start, end)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}

		next, overlap := end, 0
		for next > start+1 && overlap+tokens[next-1] <= c.cfg.OverlapTokens {
			overlap += tokens[next-1]
			next--
		}
		start = next
	}
	return out
}

// Chunks splits doc text and assigns ids derived from (source, url, index).
func (c *Chunker) Chunks(source, url, text string) []ingest.Chunk {
	parts := c.Split(text)
	chunks := make([]ingest.Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, ingest.Chunk{
			ID:    uuid.ChunkID(source, url, i),
			Index: i,
			Text:  part,
		})
	}
	return chunks
}

// sentenceBreak moves end back to just after the last sentence-ending word,
// provided that keeps at least two thirds of the window.
func sentenceBreak(words []string, start, end int) int {
	floor := start + (end-start)*2/3
	for b := end; b > floor && b > start+1; b-- {
		if endsSentence(words[b-1]) {
			return b
		}
	}
	return end
}

func endsSentence(word string) bool {
	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
