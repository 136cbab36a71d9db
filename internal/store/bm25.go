package store

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// BM25 parameters (Okapi). Standard values; tuning them is not part of
// the index contract.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25Index scores chunks against keyword queries using Okapi BM25 over
// the tokenized chunk corpus. Build replaces all state; incremental
// updates are the index manager's responsibility, which rebuilds from
// the full merged corpus.
type BM25Index struct {
	mu sync.RWMutex

	documents map[string]*Document
	chunks    []*Chunk   // corpus order
	corpus    [][]string // tokenized, same order as chunks
	chunkByID map[string]*Chunk

	docFreq   map[string]int
	docLen    []int
	avgDocLen float64
}

// NewBM25Index creates an empty lexical index.
func NewBM25Index() *BM25Index {
	return &BM25Index{
		documents: make(map[string]*Document),
		chunkByID: make(map[string]*Chunk),
		docFreq:   make(map[string]int),
	}
}

// Build tokenizes every chunk of every document, caches per-chunk term
// frequencies, and fits the BM25 model over the full tokenized corpus.
// Any prior index state is replaced entirely.
func (b *BM25Index) Build(documents []*Document) {
	tokenized := make([][]string, 0)
	for _, doc := range documents {
		for _, chunk := range doc.Chunks {
			tokenized = append(tokenized, Tokenize(chunk.Text))
		}
	}
	b.buildFromTokens(documents, tokenized)
}

// buildFromTokens fits the model from pre-tokenized chunk texts. The
// token lists must be in corpus order (documents in order, chunks in
// document order).
func (b *BM25Index) buildFromTokens(documents []*Document, tokenized [][]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.documents = make(map[string]*Document, len(documents))
	b.chunks = b.chunks[:0]
	b.corpus = tokenized
	b.chunkByID = make(map[string]*Chunk)
	b.docFreq = make(map[string]int)
	b.docLen = b.docLen[:0]

	for _, doc := range documents {
		b.documents[doc.ID] = doc
		for _, chunk := range doc.Chunks {
			b.chunks = append(b.chunks, chunk)
			b.chunkByID[chunk.ID] = chunk
		}
	}

	totalLen := 0
	for i, tokens := range b.corpus {
		b.docLen = append(b.docLen, len(tokens))
		totalLen += len(tokens)

		freqs := TermFrequencies(tokens)
		if i < len(b.chunks) {
			b.chunks[i].TermFreqs = freqs
		}
		for term := range freqs {
			b.docFreq[term]++
		}
	}

	if len(b.corpus) > 0 {
		b.avgDocLen = float64(totalLen) / float64(len(b.corpus))
	} else {
		b.avgDocLen = 0
	}
}

// idf computes the Okapi inverse document frequency for a term. The +1
// inside the log keeps scores non-negative for very common terms.
func (b *BM25Index) idf(term string) float64 {
	df := b.docFreq[term]
	if df == 0 {
		return 0
	}
	n := float64(len(b.corpus))
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}

// Search tokenizes the query, scores every chunk with BM25, discards
// non-positive scores, and returns the topK best. An empty query (or one
// that tokenizes to nothing) yields an empty result, not an error. A
// non-nil filter restricts results to chunks of the given documents.
func (b *BM25Index) Search(queryText string, topK int, filter DocIDSet) []*LexicalResult {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.chunks) == 0 {
		return []*LexicalResult{}
	}

	queryTokens := Tokenize(queryText)
	if len(queryTokens) == 0 {
		return []*LexicalResult{}
	}

	// Deduplicate query terms but keep multiplicity as a weight, so a
	// repeated query term counts once per repetition like classic Okapi.
	queryFreqs := TermFrequencies(queryTokens)

	results := make([]*LexicalResult, 0, topK)
	for i, chunk := range b.chunks {
		if !filter.Contains(chunk.DocID) {
			continue
		}

		score := 0.0
		dl := float64(b.docLen[i])
		for term, qf := range queryFreqs {
			tf := float64(chunk.TermFreqs[term])
			if tf == 0 {
				continue
			}
			idf := b.idf(term)
			denom := tf + bm25K1*(1-bm25B+bm25B*dl/b.avgDocLen)
			score += float64(qf) * idf * (tf * (bm25K1 + 1)) / denom
		}

		if score > 0 {
			results = append(results, &LexicalResult{Chunk: chunk, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// SearchWithFilters resolves the query's document-level filters to a
// candidate set, appends required terms to the query text, searches a
// 2×TopK pool to leave room for later fusion losses, and drops results
// whose chunk tokens intersect the excluded-term tokens.
func (b *BM25Index) SearchWithFilters(query *Query) []*LexicalResult {
	candidates := b.ResolveFilters(query)

	queryText := query.Text
	if len(query.RequiredTerms) > 0 {
		queryText += " " + strings.Join(query.RequiredTerms, " ")
	}

	results := b.Search(queryText, query.TopK*2, candidates)

	if len(query.ExcludedTerms) > 0 {
		excluded := make(map[string]struct{})
		for _, term := range query.ExcludedTerms {
			for _, t := range Tokenize(term) {
				excluded[t] = struct{}{}
			}
		}

		filtered := results[:0]
		for _, r := range results {
			if !tokensIntersect(r.Chunk.TermFreqs, excluded) {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	return results
}

func tokensIntersect(freqs map[string]int, set map[string]struct{}) bool {
	for t := range set {
		if freqs[t] > 0 {
			return true
		}
	}
	return false
}

// ResolveFilters applies the query's document-level filters and returns
// the matching document ids. A nil return means no filtering is needed
// (every document matched, or no filters were set).
func (b *BM25Index) ResolveFilters(query *Query) DocIDSet {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := make(DocIDSet)
	for id, doc := range b.documents {
		if len(query.DocTypes) > 0 && !containsDocType(query.DocTypes, doc.DocType) {
			continue
		}
		if len(query.Jurisdictions) > 0 && !containsJurisdiction(query.Jurisdictions, doc.Jurisdiction) {
			continue
		}
		if query.DateFrom != nil || query.DateTo != nil {
			if doc.EffectiveDate == nil {
				continue
			}
			if query.DateFrom != nil && doc.EffectiveDate.Before(*query.DateFrom) {
				continue
			}
			if query.DateTo != nil && doc.EffectiveDate.After(*query.DateTo) {
				continue
			}
		}
		if len(query.Parties) > 0 && !partiesOverlap(query.Parties, doc.Parties) {
			continue
		}
		matched[id] = struct{}{}
	}

	if len(matched) == len(b.documents) {
		return nil
	}
	return matched
}

func containsDocType(types []DocType, t DocType) bool {
	for _, dt := range types {
		if dt == t {
			return true
		}
	}
	return false
}

func containsJurisdiction(js []Jurisdiction, j Jurisdiction) bool {
	for _, cand := range js {
		if cand == j {
			return true
		}
	}
	return false
}

func partiesOverlap(queryParties, docParties []string) bool {
	for _, qp := range queryParties {
		for _, dp := range docParties {
			if strings.EqualFold(qp, dp) {
				return true
			}
		}
	}
	return false
}

// Document returns a document by id, or nil.
func (b *BM25Index) Document(docID string) *Document {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.documents[docID]
}

// ChunkByID returns a chunk by id, or nil.
func (b *BM25Index) ChunkByID(chunkID string) *Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.chunkByID[chunkID]
}

// ChunkContext returns the chunk together with up to n chunks before and
// after it within its owning document.
func (b *BM25Index) ChunkContext(chunk *Chunk, n int) []*Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()

	doc := b.documents[chunk.DocID]
	if doc == nil {
		return []*Chunk{chunk}
	}

	idx := -1
	for i, c := range doc.Chunks {
		if c.ID == chunk.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return []*Chunk{chunk}
	}

	start := idx - n
	if start < 0 {
		start = 0
	}
	end := idx + n + 1
	if end > len(doc.Chunks) {
		end = len(doc.Chunks)
	}
	return doc.Chunks[start:end]
}

// ChunkCount returns the number of indexed chunks.
func (b *BM25Index) ChunkCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks)
}

// LexicalStats summarizes the fitted model.
type LexicalStats struct {
	Documents int     `json:"documents"`
	Chunks    int     `json:"chunks"`
	Terms     int     `json:"terms"`
	AvgDocLen float64 `json:"avg_doc_len"`
}

// Stats returns index statistics.
func (b *BM25Index) Stats() LexicalStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return LexicalStats{
		Documents: len(b.documents),
		Chunks:    len(b.chunks),
		Terms:     len(b.docFreq),
		AvgDocLen: b.avgDocLen,
	}
}

// lexicalArtifact is the persisted form of the tokenized corpus. The BM25
// model itself has no stable binary format; it is re-derived from the
// token lists on load.
type lexicalArtifact struct {
	ChunkIDs []string   `json:"chunk_ids"`
	Corpus   [][]string `json:"corpus"`
}

// Save writes the tokenized corpus to path atomically.
func (b *BM25Index) Save(path string) error {
	b.mu.RLock()
	artifact := lexicalArtifact{
		ChunkIDs: make([]string, len(b.chunks)),
		Corpus:   b.corpus,
	}
	for i, c := range b.chunks {
		artifact.ChunkIDs[i] = c.ID
	}
	b.mu.RUnlock()

	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal lexical artifact: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write lexical artifact: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores the index from the persisted token lists plus the
// corpus documents. The persisted chunk ids must exactly match the
// corpus chunk order; a mismatch means the artifacts drifted apart and
// the load attempt must fail rather than produce a skewed index.
func (b *BM25Index) Load(path string, documents []*Document) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read lexical artifact: %w", err)
	}

	var artifact lexicalArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return fmt.Errorf("parse lexical artifact: %w", err)
	}
	if len(artifact.ChunkIDs) != len(artifact.Corpus) {
		return fmt.Errorf("lexical artifact corrupt: %d chunk ids, %d token lists",
			len(artifact.ChunkIDs), len(artifact.Corpus))
	}

	pos := 0
	for _, doc := range documents {
		for _, chunk := range doc.Chunks {
			if pos >= len(artifact.ChunkIDs) {
				return fmt.Errorf("lexical artifact has %d chunks, corpus has more", len(artifact.ChunkIDs))
			}
			if artifact.ChunkIDs[pos] != chunk.ID {
				return fmt.Errorf("lexical artifact chunk order mismatch at %d: %s != %s",
					pos, artifact.ChunkIDs[pos], chunk.ID)
			}
			pos++
		}
	}
	if pos != len(artifact.ChunkIDs) {
		return fmt.Errorf("lexical artifact has %d chunks, corpus has %d", len(artifact.ChunkIDs), pos)
	}

	b.buildFromTokens(documents, artifact.Corpus)
	return nil
}
