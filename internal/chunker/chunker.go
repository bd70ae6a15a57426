// Package chunker splits document text into semantically coherent chunks.
//
// Text is cut into sentences, each sentence is embedded together with its
// neighbours, and a chunk boundary is placed wherever the cosine distance
// between consecutive windows exceeds a percentile of all distances.
package chunker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	DefaultBufferSize           = 1
	DefaultBreakpointPercentile = 95.0
)

// BatchEmbedder produces one vector per input text, in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tunes breakpoint detection. Zero values select the defaults.
type Options struct {
	// BufferSize is how many sentences on each side join a sentence's
	// embedding window.
	BufferSize int
	// BreakpointPercentile in (0, 100]. Distances strictly above this
	// percentile start a new chunk.
	BreakpointPercentile float64
}

// Chunker is safe for concurrent use if its embedder is.
type Chunker struct {
	embedder   BatchEmbedder
	buffer     int
	percentile float64
}

// New creates a Chunker backed by embedder.
func New(embedder BatchEmbedder, opts Options) *Chunker {
	c := &Chunker{
		embedder:   embedder,
		buffer:     opts.BufferSize,
		percentile: opts.BreakpointPercentile,
	}
	if c.buffer <= 0 {
		c.buffer = DefaultBufferSize
	}
	if c.percentile <= 0 || c.percentile > 100 {
		c.percentile = DefaultBreakpointPercentile
	}
	return c
}

// Split returns the chunks of text in document order. Empty or
// whitespace-only text yields no chunks and no error.
func (c *Chunker) Split(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	sentences := SplitSentences(text)
	if len(sentences) <= 1 {
		return sentences, nil
	}

	windows := combineSentences(sentences, c.buffer)
	vecs, err := c.embedder.EmbedBatch(ctx, windows)
	if err != nil {
		return nil, fmt.Errorf("An error occurred during chunking: %w", err)
	}
	if len(vecs) != len(windows) {
		return nil, fmt.Errorf("An error occurred during chunking: got %d embeddings for %d sentences", len(vecs), len(windows))
	}

	distances := make([]float64, len(vecs)-1)
	for i := range distances {
		distances[i] = 1 - cosineSimilarity(vecs[i], vecs[i+1])
	}
	threshold := percentile(distances, c.percentile)

	var chunks []string
	start := 0
	for i, d := range distances {
		if d > threshold {
			chunks = append(chunks, strings.Join(sentences[start:i+1], " "))
			start = i + 1
		}
	}
	if start < len(sentences) {
		chunks = append(chunks, strings.Join(sentences[start:], " "))
	}
	return chunks, nil
}

// SplitSentences cuts text after '.', '?' or '!' when followed by
// whitespace. The whitespace run is dropped; empty pieces are skipped.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) || i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		end := i + 1
		j := end
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if s := string(runes[start:end]); strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		if s := string(runes[start:]); strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func isTerminal(r rune) bool { return r == '.' || r == '?' || r == '!' }

// combineSentences builds, for each sentence, the text of the sentence plus
// buffer neighbours on either side.
func combineSentences(sentences []string, buffer int) []string {
	out := make([]string, len(sentences))
	for i := range sentences {
		lo := max(0, i-buffer)
		hi := min(len(sentences), i+buffer+1)
		out[i] = strings.Join(sentences[lo:hi], " ")
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
