package search

import (
	"time"

	"github.com/clearbrief/lexindex/internal/store"
)

// ScoredChunk is one ranked result. The intermediate scores are kept so
// callers can explain why a chunk ranked where it did.
type ScoredChunk struct {
	Chunk *store.Chunk `json:"chunk"`

	LexicalScore  float64 `json:"lexical_score"`
	SemanticScore float64 `json:"semantic_score"`
	BoostFactor   float64 `json:"boost_factor"`
	FinalScore    float64 `json:"final_score"`

	Highlights []string `json:"highlights,omitempty"`
}

// Response is a ranked result list plus aggregate query metadata.
type Response struct {
	Results []*ScoredChunk `json:"results"`

	AboveThreshold int  `json:"above_threshold"`
	BelowThreshold int  `json:"below_threshold"`
	Degraded       bool `json:"degraded,omitempty"` // lexical-only fallback

	Took time.Duration `json:"took"`
}

// Options are the ranking policy knobs. Fusion weights and boost factors
// are fixed constants; these only control the result-count policy.
type Options struct {
	ScoreThreshold  float64
	MinResults      int
	MaxResults      int
	StrictThreshold bool
	RerankDepth     int
}

// DefaultOptions returns the standard ranking policy.
func DefaultOptions() Options {
	return Options{
		ScoreThreshold: 0.3,
		MinResults:     3,
		MaxResults:     10,
		RerankDepth:    20,
	}
}
