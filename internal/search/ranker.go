package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clearbrief/lexindex/internal/embed"
	"github.com/clearbrief/lexindex/internal/store"
)

// Fusion weights and boost factors. Fixed constants, not configuration;
// retuning them is a ranking-semantics change.
const (
	weightLexical  = 0.4
	weightSemantic = 0.6

	boostHeader     = 1.3
	boostDefinition = 1.2
	boostDates      = 1.1
	boostMoney      = 1.1
	boostSigned     = 1.3
	boostRecent     = 1.2

	weightRerank   = 0.7
	weightPrevious = 0.3

	recentWindow = 365 * 24 * time.Hour

	defaultTopK = 20
)

// Ranker fuses lexical and semantic retrieval into one ranked,
// thresholded result list. The pipeline order is fixed: retrieve,
// normalize and fuse, boost, rerank, normalize to top, threshold.
type Ranker struct {
	lexical  *store.BM25Index
	vector   store.VectorIndex
	embedder embed.Embedder
	reranker Reranker
	opts     Options
	logger   *slog.Logger

	now func() time.Time
}

// NewRanker builds a ranker over the two indexes. vector and embedder
// may be nil together, in which case ranking is lexical-only. reranker
// may be nil to skip the rerank stage.
func NewRanker(lexical *store.BM25Index, vector store.VectorIndex, embedder embed.Embedder, reranker Reranker, opts Options, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		reranker: reranker,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Search runs the full ranking pipeline. It never fails just because
// the corpus is sparse or the semantic side is down; those cases return
// fewer results or lexical-only results instead.
func (r *Ranker) Search(ctx context.Context, query *store.Query) (*Response, error) {
	start := time.Now()

	topK := query.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	// Both sides retrieve up to 2×topK so fusion has enough overlap to
	// work with.
	var (
		lexResults []*store.LexicalResult
		vecResults []*store.VectorResult
		degraded   bool
	)

	candidates := r.lexical.ResolveFilters(query)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q := *query
		q.TopK = topK
		lexResults = r.lexical.SearchWithFilters(&q)
		return nil
	})
	g.Go(func() error {
		var err error
		vecResults, err = r.semanticSearch(gctx, query.Text, topK*2, candidates)
		if err != nil {
			// Lexical-only fallback; the failure is logged, not returned.
			r.logger.Warn("semantic search degraded",
				slog.String("error", err.Error()))
			degraded = true
			vecResults = nil
		}
		return nil
	})
	_ = g.Wait()

	scored := r.fuse(lexResults, vecResults)
	r.applyBoosts(scored, query)
	r.rerank(ctx, query.Text, scored)
	normalizeToTop(scored)

	resp := r.applyThreshold(scored)
	resp.Degraded = degraded
	resp.Took = time.Since(start)

	queryTokens := store.TokenSet(query.Text)
	for _, sc := range resp.Results {
		sc.Highlights = extractHighlights(sc.Chunk.Text, queryTokens)
	}

	r.logger.Debug("search complete",
		slog.String("query", query.Text),
		slog.Int("results", len(resp.Results)),
		slog.Int("above_threshold", resp.AboveThreshold),
		slog.Bool("degraded", degraded),
		slog.Duration("took", resp.Took))

	return resp, nil
}

// semanticSearch embeds the query and retrieves nearest chunks, applying
// the same document filter the lexical side used. The index is
// over-fetched when a filter is set since filtering happens after
// retrieval.
func (r *Ranker) semanticSearch(ctx context.Context, text string, k int, filter store.DocIDSet) ([]*store.VectorResult, error) {
	if r.vector == nil || r.embedder == nil || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	fetch := k
	if filter != nil {
		fetch = k * 3
	}
	results, err := r.vector.Search(ctx, vectors[0], fetch)
	if err != nil {
		return nil, err
	}

	if filter == nil {
		if len(results) > k {
			results = results[:k]
		}
		return results, nil
	}

	filtered := make([]*store.VectorResult, 0, k)
	for _, vr := range results {
		if filter.Contains(store.DocIDFromChunkID(vr.ChunkID)) {
			filtered = append(filtered, vr)
			if len(filtered) == k {
				break
			}
		}
	}
	return filtered, nil
}

// fuse normalizes each side by its own maximum and unions the candidate
// sets. A chunk on only one side scores 0 on the other.
func (r *Ranker) fuse(lexResults []*store.LexicalResult, vecResults []*store.VectorResult) []*ScoredChunk {
	var lexMax, semMax float64
	for _, lr := range lexResults {
		if lr.Score > lexMax {
			lexMax = lr.Score
		}
	}
	for _, vr := range vecResults {
		if vr.Score > semMax {
			semMax = vr.Score
		}
	}

	byID := make(map[string]*ScoredChunk)
	order := make([]string, 0, len(lexResults)+len(vecResults))

	for _, lr := range lexResults {
		norm := 0.0
		if lexMax > 0 {
			norm = lr.Score / lexMax
		}
		byID[lr.Chunk.ID] = &ScoredChunk{
			Chunk:        lr.Chunk,
			LexicalScore: norm,
			BoostFactor:  1.0,
		}
		order = append(order, lr.Chunk.ID)
	}

	for _, vr := range vecResults {
		norm := 0.0
		if semMax > 0 {
			norm = vr.Score / semMax
		}
		if sc, ok := byID[vr.ChunkID]; ok {
			sc.SemanticScore = norm
			continue
		}
		chunk := r.lexical.ChunkByID(vr.ChunkID)
		if chunk == nil {
			// Vector hit without a corpus chunk means the artifacts
			// drifted; skip rather than fabricate a result.
			r.logger.Warn("vector hit for unknown chunk", slog.String("chunk_id", vr.ChunkID))
			continue
		}
		byID[vr.ChunkID] = &ScoredChunk{
			Chunk:         chunk,
			SemanticScore: norm,
			BoostFactor:   1.0,
		}
		order = append(order, vr.ChunkID)
	}

	scored := make([]*ScoredChunk, 0, len(order))
	for _, id := range order {
		sc := byID[id]
		sc.FinalScore = weightLexical*sc.LexicalScore + weightSemantic*sc.SemanticScore
		scored = append(scored, sc)
	}
	sortByFinal(scored)
	return scored
}

// applyBoosts multiplies each fused score by the compounding metadata
// boost factor and re-sorts.
func (r *Ranker) applyBoosts(scored []*ScoredChunk, query *store.Query) {
	queryLower := strings.ToLower(query.Text)
	wantsDates := strings.Contains(queryLower, "date") || strings.Contains(queryLower, "when")
	wantsMoney := strings.Contains(queryLower, "$") || strings.Contains(queryLower, "pay")
	now := r.now()

	for _, sc := range scored {
		boost := 1.0
		if query.BoostHeaders && sc.Chunk.IsHeader {
			boost *= boostHeader
		}
		if sc.Chunk.IsDefinition {
			boost *= boostDefinition
		}
		if wantsDates && sc.Chunk.ContainsDates {
			boost *= boostDates
		}
		if wantsMoney && sc.Chunk.ContainsMoney {
			boost *= boostMoney
		}

		doc := r.lexical.Document(sc.Chunk.DocID)
		if doc != nil {
			if query.BoostSignedDocs && (doc.Status == store.DocStatusSigned || doc.Status == store.DocStatusExecuted) {
				boost *= boostSigned
			}
			if query.BoostRecent && doc.EffectiveDate != nil {
				age := now.Sub(*doc.EffectiveDate)
				if age >= 0 && age <= recentWindow {
					boost *= boostRecent
				}
			}
		}

		sc.BoostFactor = boost
		sc.FinalScore *= boost
	}
	sortByFinal(scored)
}

// rerank re-scores the head of the list with the configured reranker.
// Lower-ranked candidates keep their boosted scores and follow the
// reranked head unchanged. A reranker failure leaves the list as is.
func (r *Ranker) rerank(ctx context.Context, queryText string, scored []*ScoredChunk) {
	if r.reranker == nil || len(scored) == 0 {
		return
	}

	depth := r.opts.RerankDepth
	if depth <= 0 {
		depth = 20
	}
	if depth > len(scored) {
		depth = len(scored)
	}
	head := scored[:depth]

	texts := make([]string, len(head))
	for i, sc := range head {
		texts[i] = sc.Chunk.Text
	}

	rerankScores, err := r.reranker.Rerank(ctx, queryText, texts)
	if err != nil || len(rerankScores) != len(head) {
		r.logger.Warn("reranker degraded",
			slog.String("reranker", r.reranker.Name()),
			slog.Any("error", err))
		return
	}

	// A constant score vector carries no ordering signal; blending it
	// would only rescale the head against the untouched tail.
	constant := true
	for _, s := range rerankScores[1:] {
		if s != rerankScores[0] {
			constant = false
			break
		}
	}
	if constant {
		return
	}

	for i, sc := range head {
		sc.FinalScore = weightRerank*rerankScores[i] + weightPrevious*sc.FinalScore
	}
	sortByFinal(head)
}

// normalizeToTop scales every final score so the best is exactly 1.0.
func normalizeToTop(scored []*ScoredChunk) {
	if len(scored) == 0 {
		return
	}
	top := scored[0].FinalScore
	for _, sc := range scored[1:] {
		if sc.FinalScore > top {
			top = sc.FinalScore
		}
	}
	if top <= 0 {
		return
	}
	for _, sc := range scored {
		sc.FinalScore /= top
	}
}

// applyThreshold partitions by score threshold and applies the
// minimum-result backfill policy.
func (r *Ranker) applyThreshold(scored []*ScoredChunk) *Response {
	var above, below []*ScoredChunk
	for _, sc := range scored {
		if sc.FinalScore >= r.opts.ScoreThreshold {
			above = append(above, sc)
		} else {
			below = append(below, sc)
		}
	}

	resp := &Response{
		AboveThreshold: len(above),
		BelowThreshold: len(below),
	}

	maxResults := r.opts.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	results := above
	if !r.opts.StrictThreshold && len(results) < r.opts.MinResults {
		// Backfill best-scoring below-threshold results until the
		// minimum is met.
		need := r.opts.MinResults - len(results)
		if need > len(below) {
			need = len(below)
		}
		results = append(results, below[:need]...)
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	resp.Results = results
	return resp
}

func sortByFinal(scored []*ScoredChunk) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})
}
