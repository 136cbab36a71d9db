package search

import (
	"context"
)

// Reranker re-scores a short head of candidates against the query with a
// more expensive model than the first-stage retrievers. Implementations
// return one score per candidate, in candidate order, on an arbitrary
// scale; the ranker normalizes afterwards.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]float64, error)
	Name() string
}

// NoOpReranker scores every candidate zero. The ranker discards
// constant score vectors, so wiring it leaves the fused ordering and
// scores untouched.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(_ context.Context, _ string, candidates []string) ([]float64, error) {
	return make([]float64, len(candidates)), nil
}

func (NoOpReranker) Name() string { return "noop" }
