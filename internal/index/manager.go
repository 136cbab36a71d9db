// Package index owns the corpus lifecycle: building, persisting,
// incrementally updating, and pruning the searchable document set while
// keeping the lexical and semantic indexes in lockstep.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/clearbrief/lexindex/internal/config"
	"github.com/clearbrief/lexindex/internal/embed"
	lexerrors "github.com/clearbrief/lexindex/internal/errors"
	"github.com/clearbrief/lexindex/internal/search"
	"github.com/clearbrief/lexindex/internal/store"
)

// State is the manager lifecycle state.
type State string

const (
	StateEmpty    State = "empty"
	StateBuilding State = "building"
	StateReady    State = "ready"
)

const (
	corpusFile  = "corpus.db"
	lexicalFile = "lexical.json"
	vectorFile  = "vectors.hnsw"
	lockFile    = "index.lock"

	dimensionsStateKey = "embedding_dimensions"
)

// Report summarizes one add or sync operation.
type Report struct {
	Indexed      int `json:"indexed"`
	Deduplicated int `json:"deduplicated"`
	Replaced     int `json:"replaced"`
	Removed      int `json:"removed"`
	Failed       int `json:"failed"`
}

// snapshot is one immutable generation of the corpus and its indexes.
// Queries hold the snapshot they started with; rebuilds swap in a new
// one atomically.
type snapshot struct {
	documents []*store.Document
	lexical   *store.BM25Index
	vector    store.VectorIndex
	ranker    *search.Ranker
}

// Manager owns the corpus and both indexes. All mutation goes through
// it; queries only ever see a complete snapshot.
type Manager struct {
	cfg      *config.Config
	dataDir  string
	embedder embed.Embedder
	reranker search.Reranker
	logger   *slog.Logger

	corpus   *store.CorpusStore
	fileLock *flock.Flock

	// rebuildMu serializes add/remove/load; queries never take it.
	rebuildMu sync.Mutex

	stateMu sync.RWMutex
	state   State

	snap atomic.Pointer[snapshot]
}

// NewManager opens the corpus store under cfg.DataDir and returns a
// manager in the empty state. Call Load to restore a persisted index.
func NewManager(cfg *config.Config, embedder embed.Embedder, reranker search.Reranker, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if embedder == nil {
		return nil, lexerrors.New(lexerrors.ErrCodeConfigInvalid, "embedder is required", nil)
	}

	dataDir := cfg.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, lexerrors.Wrap(lexerrors.ErrCodeFilePermission, err).
			WithDetail("path", dataDir)
	}

	corpus, err := store.OpenCorpusStore(filepath.Join(dataDir, corpusFile))
	if err != nil {
		return nil, lexerrors.Wrap(lexerrors.ErrCodeFilePermission, err)
	}

	return &Manager{
		cfg:      cfg,
		dataDir:  dataDir,
		embedder: embedder,
		reranker: reranker,
		logger:   logger,
		corpus:   corpus,
		fileLock: flock.New(filepath.Join(dataDir, lockFile)),
		state:    StateEmpty,
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// AddDocuments merges structured documents from sourceFolder into the
// corpus, deduplicating by content hash, then rebuilds both indexes
// from the full merged corpus and persists. The prior snapshot stays
// queryable until the rebuild succeeds.
func (m *Manager) AddDocuments(ctx context.Context, docs []*store.Document, sourceFolder string, force bool) (*Report, error) {
	return m.addDocuments(ctx, docs, sourceFolder, force, false)
}

// SyncFolder reconciles the corpus with the current contents of folder:
// docs are merged as in AddDocuments, and previously indexed documents
// under folder whose files no longer appear in docs are removed, all in
// a single rebuild.
func (m *Manager) SyncFolder(ctx context.Context, docs []*store.Document, folder string) (*Report, error) {
	return m.addDocuments(ctx, docs, folder, false, true)
}

func (m *Manager) addDocuments(ctx context.Context, docs []*store.Document, sourceFolder string, force, prune bool) (*Report, error) {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	resolvedFolder, err := resolveFolder(sourceFolder)
	if err != nil {
		return nil, lexerrors.Wrap(lexerrors.ErrCodeInvalidPath, err).
			WithDetail("folder", sourceFolder)
	}

	prior := m.State()
	m.setState(StateBuilding)

	report := &Report{}
	merged, dirty, err := m.mergeDocuments(docs, resolvedFolder, force, prune, report)
	if err != nil {
		m.setState(prior)
		return nil, err
	}
	if !dirty {
		// Nothing the indexes would reflect changed; keep the live
		// snapshot and skip the rebuild.
		m.setState(prior)
		return report, nil
	}

	if err := m.rebuild(ctx, merged, report); err != nil {
		m.setState(prior)
		return report, err
	}

	m.setState(StateReady)
	m.logger.Info("documents added",
		slog.String("folder", resolvedFolder),
		slog.Int("indexed", report.Indexed),
		slog.Int("deduplicated", report.Deduplicated),
		slog.Int("replaced", report.Replaced),
		slog.Int("removed", report.Removed),
		slog.Int("failed", report.Failed))
	return report, nil
}

// mergeDocuments folds incoming documents into the current corpus.
// Identity is content hash: a known hash re-tags the existing record
// with the new source folder instead of re-indexing, and a new hash at
// an already-indexed path supersedes the old document. Records taken
// from the live snapshot are never mutated in place; a re-tag clones
// the record so the change only becomes visible through a successful
// swap. With prune set, snapshot documents under resolvedFolder whose
// files no longer appear in docs are dropped. The dirty result reports
// whether the merge changed anything a rebuild would need to reflect.
func (m *Manager) mergeDocuments(docs []*store.Document, resolvedFolder string, force, prune bool, report *Report) ([]*store.Document, bool, error) {
	byID := make(map[string]*store.Document)
	byPath := make(map[string]string) // resolved file path -> doc id
	var order []string
	dirty := false

	var present map[string]bool
	if prune {
		present = make(map[string]bool, len(docs))
		for _, doc := range docs {
			present[resolvePath(doc.FilePath)] = true
		}
	}

	if snap := m.snap.Load(); snap != nil {
		for _, doc := range snap.documents {
			path := resolvePath(doc.FilePath)
			if prune && isWithin(path, resolvedFolder) && !present[path] {
				report.Removed++
				dirty = true
				continue
			}
			byID[doc.ID] = doc
			byPath[path] = doc.ID
			order = append(order, doc.ID)
		}
	}

	for _, doc := range docs {
		if doc.FileHash == "" {
			report.Failed++
			m.logger.Warn("document without content hash skipped", slog.String("path", doc.FilePath))
			continue
		}
		doc.ID = store.DocumentID(doc.FileHash)
		doc.SourceFolder = resolvedFolder
		for _, chunk := range doc.Chunks {
			chunk.DocID = doc.ID
		}

		if existing, ok := byID[doc.ID]; ok && !force {
			// Same bytes already indexed, possibly from another folder.
			if existing.SourceFolder != resolvedFolder || existing.FilePath != doc.FilePath {
				retagged := *existing
				retagged.SourceFolder = resolvedFolder
				retagged.FilePath = doc.FilePath
				byID[doc.ID] = &retagged
				dirty = true
			}
			report.Deduplicated++
			continue
		}

		path := resolvePath(doc.FilePath)
		if oldID, ok := byPath[path]; ok && oldID != doc.ID {
			// Same file, new content: replace rather than duplicate.
			delete(byID, oldID)
			order = removeID(order, oldID)
			report.Replaced++
		} else if _, ok := byID[doc.ID]; !ok {
			report.Indexed++
		}

		if _, ok := byID[doc.ID]; !ok {
			order = append(order, doc.ID)
		}
		byID[doc.ID] = doc
		dirty = true
		byPath[path] = doc.ID
	}

	merged := make([]*store.Document, 0, len(order))
	for _, id := range order {
		if doc, ok := byID[id]; ok {
			merged = append(merged, doc)
		}
	}
	return merged, dirty, nil
}

// RemoveFolder drops every document whose resolved file path is a
// descendant of folder, then rebuilds from the kept set. Zero matches
// is a no-op: no rebuild, no persist.
func (m *Manager) RemoveFolder(ctx context.Context, folder string) (int, error) {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	resolved, err := resolveFolder(folder)
	if err != nil {
		return 0, lexerrors.Wrap(lexerrors.ErrCodeInvalidPath, err).WithDetail("folder", folder)
	}

	snap := m.snap.Load()
	if snap == nil {
		return 0, nil
	}

	var kept []*store.Document
	removed := 0
	for _, doc := range snap.documents {
		if isWithin(resolvePath(doc.FilePath), resolved) {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	if removed == 0 {
		return 0, nil
	}

	prior := m.State()
	m.setState(StateBuilding)

	report := &Report{}
	if err := m.rebuild(ctx, kept, report); err != nil {
		m.setState(prior)
		return 0, err
	}

	m.setState(StateReady)
	m.logger.Info("folder removed",
		slog.String("folder", resolved),
		slog.Int("documents_removed", removed))
	return removed, nil
}

// rebuild constructs fresh indexes from documents, persists all four
// artifacts under the file lock, and atomically swaps the snapshot.
// Documents whose chunks cannot be embedded are dropped from this build
// and counted; a partial batch never aborts the whole rebuild.
func (m *Manager) rebuild(ctx context.Context, documents []*store.Document, report *Report) error {
	kept, err := m.embedMissing(ctx, documents, report)
	if err != nil {
		return err
	}

	lexical := store.NewBM25Index()
	lexical.Build(kept)

	vector, err := store.NewHNSWIndex(m.embedder.Dimensions())
	if err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeInternal, err)
	}

	var chunkIDs []string
	var vectors [][]float32
	for _, doc := range kept {
		for _, chunk := range doc.Chunks {
			chunkIDs = append(chunkIDs, chunk.ID)
			vectors = append(vectors, chunk.Embedding)
		}
	}
	if err := vector.Add(ctx, chunkIDs, vectors); err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeIndexFailed, err)
	}

	if lexical.ChunkCount() != vector.Count() {
		return lexerrors.New(lexerrors.ErrCodeSizeMismatch,
			fmt.Sprintf("lexical index has %d chunks, vector index has %d", lexical.ChunkCount(), vector.Count()), nil)
	}

	if err := m.persist(kept, lexical, vector); err != nil {
		return err
	}

	m.swap(&snapshot{documents: kept, lexical: lexical, vector: vector})
	return nil
}

// embedMissing fills in chunk embeddings that are not already present,
// typically everything on a fresh add and nothing on a remove. A
// document with any failed chunk is dropped and counted rather than
// indexed half-embedded.
func (m *Manager) embedMissing(ctx context.Context, documents []*store.Document, report *Report) ([]*store.Document, error) {
	var texts []string
	var targets []*store.Chunk
	for _, doc := range documents {
		for _, chunk := range doc.Chunks {
			if chunk.Embedding == nil {
				texts = append(texts, chunk.Text)
				targets = append(targets, chunk)
			}
		}
	}
	if len(texts) == 0 {
		return documents, nil
	}

	result := embed.EmbedAll(ctx, m.embedder, texts, embed.BatchOptions{
		BatchSize: m.cfg.Embeddings.BatchSize,
		Workers:   m.cfg.Embeddings.Workers,
	})
	if result.Failed == len(texts) {
		// Nothing embedded at all is a provider outage, not a partial
		// batch; abort so the prior snapshot stays live.
		return nil, lexerrors.Wrap(lexerrors.ErrCodeEmbeddingFailed, result.Err)
	}
	if result.Failed > 0 {
		m.logger.Warn("partial embedding batch",
			slog.Int("failed", result.Failed),
			slog.Any("error", result.Err))
	}

	for i, chunk := range targets {
		chunk.Embedding = result.Vectors[i]
	}

	kept := documents[:0:0]
	for _, doc := range documents {
		complete := true
		for _, chunk := range doc.Chunks {
			if chunk.Embedding == nil {
				complete = false
				break
			}
		}
		if complete {
			kept = append(kept, doc)
		} else {
			report.Failed++
			m.logger.Warn("document dropped, embedding failed", slog.String("doc_id", doc.ID))
		}
	}
	return kept, nil
}

// persist writes the four artifacts: document and chunk records to
// SQLite, the tokenized corpus, and the vector graph. The file lock
// keeps a second process from interleaving its own persist.
func (m *Manager) persist(documents []*store.Document, lexical *store.BM25Index, vector store.VectorIndex) error {
	if err := m.fileLock.Lock(); err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeFilePermission, err).WithDetail("lock", m.fileLock.Path())
	}
	defer func() { _ = m.fileLock.Unlock() }()

	if err := m.corpus.SaveCorpus(documents); err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeFilePermission, err)
	}
	if err := lexical.Save(filepath.Join(m.dataDir, lexicalFile)); err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeFilePermission, err)
	}
	if err := vector.Save(filepath.Join(m.dataDir, vectorFile)); err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeFilePermission, err)
	}
	if err := m.corpus.SetState(dimensionsStateKey, strconv.Itoa(vector.Dimensions())); err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeFilePermission, err)
	}
	return nil
}

func (m *Manager) swap(next *snapshot) {
	next.ranker = search.NewRanker(next.lexical, next.vector, m.embedder, m.reranker, m.searchOptions(), m.logger)
	// In-flight queries keep using the snapshot pointer they loaded;
	// the old generation is garbage collected once they finish.
	m.snap.Store(next)
}

func (m *Manager) searchOptions() search.Options {
	return search.Options{
		ScoreThreshold:  m.cfg.Search.ScoreThreshold,
		MinResults:      m.cfg.Search.MinResults,
		MaxResults:      m.cfg.Search.MaxResults,
		StrictThreshold: m.cfg.Search.StrictThreshold,
		RerankDepth:     m.cfg.Search.RerankDepth,
	}
}

// Load restores the persisted corpus and both index artifacts. Any
// missing or unreadable artifact leaves the manager empty and returns
// the reason; a consistency violation between artifacts does the same.
func (m *Manager) Load(ctx context.Context) error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	documents, err := m.corpus.LoadCorpus()
	if err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeCorruptIndex, err)
	}
	if len(documents) == 0 {
		return lexerrors.New(lexerrors.ErrCodeArtifactMissing, "no indexed documents", nil).
			WithSuggestion("run 'lexindex index <folder>' first")
	}

	dims, err := store.ReadIndexDimensions(filepath.Join(m.dataDir, vectorFile))
	if err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeCorruptIndex, err)
	}
	if dims != 0 && dims != m.embedder.Dimensions() {
		return lexerrors.New(lexerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index built with %d-dimension vectors, embedder produces %d", dims, m.embedder.Dimensions()), nil).
			WithSuggestion("reindex with --force")
	}

	lexical := store.NewBM25Index()
	if err := lexical.Load(filepath.Join(m.dataDir, lexicalFile), documents); err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeCorruptIndex, err)
	}

	vector, err := store.NewHNSWIndex(m.embedder.Dimensions())
	if err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeCorruptIndex, err)
	}
	if err := vector.Load(filepath.Join(m.dataDir, vectorFile)); err != nil {
		return lexerrors.Wrap(lexerrors.ErrCodeCorruptIndex, err)
	}

	if lexical.ChunkCount() != vector.Count() {
		return lexerrors.New(lexerrors.ErrCodeSizeMismatch,
			fmt.Sprintf("corpus has %d chunks, vector index has %d", lexical.ChunkCount(), vector.Count()), nil).
			WithSuggestion("reindex with --force")
	}

	m.swap(&snapshot{documents: documents, lexical: lexical, vector: vector})
	m.setState(StateReady)
	m.logger.Info("index loaded",
		slog.Int("documents", len(documents)),
		slog.Int("chunks", lexical.ChunkCount()))
	return nil
}

// Search runs a query against the current snapshot. An empty manager
// returns an empty response, never an error.
func (m *Manager) Search(ctx context.Context, query *store.Query) (*search.Response, error) {
	snap := m.snap.Load()
	if snap == nil {
		return &search.Response{Results: []*search.ScoredChunk{}}, nil
	}
	if query.TopK <= 0 {
		query.TopK = m.cfg.Search.TopK
	}
	return snap.ranker.Search(ctx, query)
}

// GetChunkContext returns a chunk with up to n surrounding chunks from
// the same document, for presenting results with context.
func (m *Manager) GetChunkContext(chunkID string, n int) []*store.Chunk {
	snap := m.snap.Load()
	if snap == nil {
		return nil
	}
	chunk := snap.lexical.ChunkByID(chunkID)
	if chunk == nil {
		return nil
	}
	return snap.lexical.ChunkContext(chunk, n)
}

// Stats describes the current snapshot.
type Stats struct {
	State      State              `json:"state"`
	Documents  int                `json:"documents"`
	Chunks     int                `json:"chunks"`
	Terms      int                `json:"terms"`
	AvgDocLen  float64            `json:"avg_doc_len"`
	Vectors    int                `json:"vectors"`
	Dimensions int                `json:"dimensions"`
	Folders    map[string]int     `json:"folders,omitempty"`
	DocTypes   map[store.DocType]int `json:"doc_types,omitempty"`
}

// Stats returns corpus statistics for the status surface.
func (m *Manager) Stats() Stats {
	stats := Stats{State: m.State()}
	snap := m.snap.Load()
	if snap == nil {
		return stats
	}

	lex := snap.lexical.Stats()
	stats.Documents = lex.Documents
	stats.Chunks = lex.Chunks
	stats.Terms = lex.Terms
	stats.AvgDocLen = lex.AvgDocLen
	stats.Vectors = snap.vector.Count()
	stats.Dimensions = snap.vector.Dimensions()

	stats.Folders = make(map[string]int)
	stats.DocTypes = make(map[store.DocType]int)
	for _, doc := range snap.documents {
		stats.Folders[doc.SourceFolder]++
		stats.DocTypes[doc.DocType]++
	}
	return stats
}

// Close releases the corpus store. Snapshots held by in-flight queries
// stay usable.
func (m *Manager) Close() error {
	return m.corpus.Close()
}

// resolveFolder resolves a folder argument the same way document paths
// are resolved, so a symlinked folder still scopes its documents.
func resolveFolder(folder string) (string, error) {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

func resolvePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	// The file may not exist yet; resolve the deepest existing
	// ancestor so symlinked folders still scope their documents.
	dir, base := filepath.Split(abs)
	dir = filepath.Clean(dir)
	if dir != abs {
		return filepath.Join(resolvePath(dir), base)
	}
	return abs
}

// isWithin reports whether path is folder itself or a descendant of it.
func isWithin(path, folder string) bool {
	rel, err := filepath.Rel(folder, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
