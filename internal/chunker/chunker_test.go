package chunker

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

// topicEmbedder maps text to [count("Cats"), count("Stocks")].
type topicEmbedder struct {
	calls int
	err   error
}

func (e *topicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{
			float32(strings.Count(t, "Cats")),
			float32(strings.Count(t, "Stocks")),
		}
	}
	return out, nil
}

func TestSplit_EmptyInput(t *testing.T) {
	emb := &topicEmbedder{}
	c := New(emb, Options{})
	for _, in := range []string{"", "   \n\t "} {
		chunks, err := c.Split(context.Background(), in)
		if err != nil {
			t.Fatalf("Split(%q): %v", in, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Split(%q) = %v, want none", in, chunks)
		}
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times, want 0", emb.calls)
	}
}

func TestSplit_SingleSentence(t *testing.T) {
	emb := &topicEmbedder{}
	c := New(emb, Options{})
	chunks, err := c.Split(context.Background(), "Just one sentence without a break")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !reflect.DeepEqual(chunks, []string{"Just one sentence without a break"}) {
		t.Errorf("chunks = %v", chunks)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called for a single sentence")
	}
}

func TestSplit_TopicShift(t *testing.T) {
	c := New(&topicEmbedder{}, Options{})
	chunks, err := c.Split(context.Background(), "Cats purr. Cats nap. Stocks fell. Stocks rose.")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	want := []string{"Cats purr. Cats nap.", "Stocks fell. Stocks rose."}
	if !reflect.DeepEqual(chunks, want) {
		t.Errorf("chunks = %q, want %q", chunks, want)
	}
}

func TestSplit_UniformTextStaysWhole(t *testing.T) {
	c := New(&topicEmbedder{}, Options{})
	chunks, err := c.Split(context.Background(), "Cats purr. Cats nap. Cats eat.")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "Cats purr. Cats nap. Cats eat." {
		t.Errorf("chunks = %q", chunks)
	}
}

func TestSplit_EmbedderError(t *testing.T) {
	c := New(&topicEmbedder{err: errors.New("model offline")}, Options{})
	_, err := c.Split(context.Background(), "One. Two.")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "An error occurred during chunking: model offline" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"basic", "A. B? C!", []string{"A.", "B?", "C!"}},
		{"whitespace runs", "A.\n\n  B.", []string{"A.", "B."}},
		{"no space after dot", "v1.2 is out. Yes", []string{"v1.2 is out.", "Yes"}},
		{"trailing space", "A. ", []string{"A."}},
		{"no terminal", "no punctuation here", []string{"no punctuation here"}},
		{"unicode", "Ça va. Très bien!", []string{"Ça va.", "Très bien!"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitSentences(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitSentences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCombineSentences(t *testing.T) {
	got := combineSentences([]string{"a", "b", "c", "d"}, 1)
	want := []string{"a b", "a b c", "b c d", "c d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("combineSentences = %q, want %q", got, want)
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		values []float64
		p      float64
		want   float64
	}{
		{[]float64{1}, 95, 1},
		{[]float64{1, 2, 3, 4, 5}, 50, 3},
		{[]float64{5, 1, 4, 2, 3}, 100, 5},
		{[]float64{0, 10}, 95, 9.5},
		{[]float64{1, 2, 3, 4}, 25, 1.75},
	}
	for _, tt := range tests {
		if got := percentile(tt.values, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("percentile(%v, %v) = %v, want %v", tt.values, tt.p, got, tt.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(&topicEmbedder{}, Options{BreakpointPercentile: 150})
	if c.buffer != DefaultBufferSize {
		t.Errorf("buffer = %d", c.buffer)
	}
	if c.percentile != DefaultBreakpointPercentile {
		t.Errorf("percentile = %v", c.percentile)
	}
}
