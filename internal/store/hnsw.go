package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndex is the semantic half of the hybrid index. Implementations
// map chunk ids to embedding vectors and answer nearest-neighbor queries.
type VectorIndex interface {
	Add(ctx context.Context, chunkIDs []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, chunkIDs []string) error
	Contains(chunkID string) bool
	Count() int
	Dimensions() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// HNSWIndex implements VectorIndex on coder/hnsw, a pure Go HNSW graph.
// Chunk ids are mapped to monotonically increasing uint64 keys; the
// mapping is persisted so ids survive a save/load cycle.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]

	dimensions int
	idMap      map[string]uint64
	keyMap     map[uint64]string
	nextKey    uint64

	closed bool
}

// hnswMeta is the persisted companion of the graph file.
type hnswMeta struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

// NewHNSWIndex creates an empty index for vectors of the given dimension.
// Euclidean distance is used; similarity is reported as 1/(1+distance).
func NewHNSWIndex(dimensions int) (*HNSWIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid vector dimensions: %d", dimensions)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:      graph,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}, nil
}

// Add inserts vectors under their chunk ids. Re-adding an existing id
// orphans the old graph node rather than deleting it; deleting nodes
// from coder/hnsw graphs can corrupt small graphs.
func (s *HNSWIndex) Add(ctx context.Context, chunkIDs []string, vectors [][]float32) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(chunkIDs), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, v := range vectors {
		if len(v) != s.dimensions {
			return ErrDimensionMismatch{Expected: s.dimensions, Got: len(v)}
		}
	}

	for i, id := range chunkIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if existingKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}

	return nil
}

// Search returns up to k nearest chunks to the query vector. An empty
// index yields an empty result, not an error.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != s.dimensions {
		return nil, ErrDimensionMismatch{Expected: s.dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	// Over-fetch to compensate for lazily deleted nodes that still sit
	// in the graph but have no id mapping.
	fetch := k
	if orphans := s.graph.Len() - len(s.idMap); orphans > 0 {
		fetch = k + orphans
	}

	nodes := s.graph.Search(query, fetch)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue
		}
		distance := s.graph.Distance(query, node.Value)
		results = append(results, &VectorResult{
			ChunkID:  id,
			Distance: distance,
			Score:    1.0 / (1.0 + float64(distance)),
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete removes chunk ids from the index. The graph nodes stay behind
// as orphans until the next full rebuild.
func (s *HNSWIndex) Delete(ctx context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, id := range chunkIDs {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Contains reports whether a chunk id is indexed.
func (s *HNSWIndex) Contains(chunkID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, exists := s.idMap[chunkID]
	return exists
}

// Count returns the number of live vectors.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Dimensions returns the vector dimension the index was built for.
func (s *HNSWIndex) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimensions
}

// Save persists the graph and the id mapping. Both files are written to
// a temp path first and renamed into place.
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return s.saveMeta(path + ".meta")
}

func (s *HNSWIndex) saveMeta(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}

	meta := hnswMeta{
		IDMap:      s.idMap,
		NextKey:    s.nextKey,
		Dimensions: s.dimensions,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores a saved index. The metadata is read first so a
// dimension mismatch is detected before the graph import.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := s.loadMeta(path + ".meta"); err != nil {
		return fmt.Errorf("load vector metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (s *HNSWIndex) loadMeta(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer file.Close()

	var meta hnswMeta
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Dimensions != s.dimensions {
		return ErrDimensionMismatch{Expected: s.dimensions, Got: meta.Dimensions}
	}

	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases the graph. Further calls error.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// ReadIndexDimensions reads the dimension of a persisted vector index
// without loading the graph. Returns 0 if no metadata exists yet.
func ReadIndexDimensions(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open vector metadata: %w", err)
	}
	defer file.Close()

	var meta hnswMeta
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, fmt.Errorf("decode vector metadata: %w", err)
	}
	return meta.Dimensions, nil
}

var _ VectorIndex = (*HNSWIndex)(nil)
