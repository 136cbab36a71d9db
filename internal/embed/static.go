package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticDimensions is the vector width of the hash-based embedder.
const StaticDimensions = 384

const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

var staticTokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticEmbedder produces deterministic hash-based vectors. It needs no
// model or network and is the fallback when no real provider is
// configured; nearby token overlap still yields usable similarity.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder creates a hash-based embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates one vector per text. Empty texts map to the zero
// vector.
func (e *StaticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			vectors[i] = make([]float32, StaticDimensions)
			continue
		}
		vectors[i] = normalizeVector(e.generateVector(trimmed))
	}
	return vectors, nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range staticTokenRegex.FindAllString(strings.ToLower(text), -1) {
		vector[hashToIndex(token, StaticDimensions)] += staticTokenWeight
	}

	normalized := normalizeForNgrams(text)
	for i := 0; i+staticNgramSize <= len(normalized); i++ {
		ngram := normalized[i : i+staticNgramSize]
		vector[hashToIndex(ngram, StaticDimensions)] += staticNgramWeight
	}

	return vector
}

func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// Dimensions returns the vector width.
func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

// Name returns the provider identifier.
func (e *StaticEmbedder) Name() string { return "static" }

// Close marks the embedder unusable.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

var _ Embedder = (*StaticEmbedder)(nil)
