// Package store provides the corpus data model, the BM25 lexical index,
// the HNSW-backed semantic index, and SQLite persistence for document and
// chunk records.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DocType classifies a document.
type DocType string

const (
	DocTypeContract   DocType = "contract"
	DocTypeNDA        DocType = "nda"
	DocTypePolicy     DocType = "policy"
	DocTypeAgreement  DocType = "agreement"
	DocTypeLicense    DocType = "license"
	DocTypeMemo       DocType = "memo"
	DocTypeBrief      DocType = "brief"
	DocTypeOpinion    DocType = "opinion"
	DocTypeRegulation DocType = "regulation"
	DocTypeStatute    DocType = "statute"
	DocTypeCaseLaw    DocType = "case_law"
	DocTypeOther      DocType = "other"
)

// Jurisdiction is the governing jurisdiction of a document.
type Jurisdiction string

const (
	JurisdictionFederal    Jurisdiction = "US"
	JurisdictionCalifornia Jurisdiction = "CA"
	JurisdictionNewYork    Jurisdiction = "NY"
	JurisdictionTexas      Jurisdiction = "TX"
	JurisdictionOther      Jurisdiction = "OTHER"
)

// DocStatus is the version/status tag of a document.
type DocStatus string

const (
	DocStatusDraft    DocStatus = "draft"
	DocStatusRedline  DocStatus = "redline"
	DocStatusSigned   DocStatus = "signed"
	DocStatusExecuted DocStatus = "executed"
	DocStatusArchived DocStatus = "archived"
)

// SectionNode is one node of a document's ordered section tree.
type SectionNode struct {
	ID       string `json:"id"`
	Number   string `json:"number,omitempty"` // e.g. "5.2"
	Title    string `json:"title"`
	Level    int    `json:"level"` // 0=root, 1=article, 2=section, 3=subsection
	ParentID string `json:"parent_id,omitempty"`
	PageStart int   `json:"page_start,omitempty"`
	PageEnd   int   `json:"page_end,omitempty"`
}

// Chunk is the immutable unit of retrievable text. Chunks are created
// once during ingestion and destroyed only when their owning document is
// removed.
type Chunk struct {
	// ID is {docID}#p{page}#c{seq}.
	ID    string `json:"chunk_id"`
	DocID string `json:"doc_id"`

	Text   string `json:"text"`
	Tokens int    `json:"tokens"`

	PageStart int `json:"page_start,omitempty"`
	PageEnd   int `json:"page_end,omitempty"`
	CharStart int `json:"char_start,omitempty"`
	CharEnd   int `json:"char_end,omitempty"`

	SectionID   string   `json:"section_id,omitempty"`
	SectionPath []string `json:"section_path,omitempty"` // ["Agreement", "§5", "§5.2"]

	IsHeader      bool `json:"is_header"`
	IsDefinition  bool `json:"is_definition"`
	ContainsDates bool `json:"contains_dates"`
	ContainsMoney bool `json:"contains_money"`

	// TermFreqs is derived by the lexical index during Build; it is a
	// cache, never authoritative, and is not persisted with the chunk.
	TermFreqs map[string]int `json:"-"`

	// Embedding is populated by the index manager once computed. The
	// semantic index artifact owns the persisted copy.
	Embedding []float32 `json:"-"`
}

// ChunkID derives a chunk id from its owning document, page, and sequence
// number within the document.
func ChunkID(docID string, page, seq int) string {
	return fmt.Sprintf("%s#p%d#c%d", docID, page, seq)
}

// DocIDFromChunkID extracts the owning document id from a chunk id.
func DocIDFromChunkID(chunkID string) string {
	if i := strings.IndexByte(chunkID, '#'); i >= 0 {
		return chunkID[:i]
	}
	return chunkID
}

// Document represents one ingested source file. A Document's identity is
// derived solely from file content, so identical bytes at different paths
// collapse to one Document.
type Document struct {
	// ID is the first 12 hex characters of the SHA-256 content hash.
	ID       string `json:"doc_id"`
	Title    string `json:"title"`
	FilePath string `json:"file_path"`
	FileHash string `json:"file_hash"`

	// SourceFolder is the root folder this document was indexed from.
	SourceFolder string `json:"source_folder,omitempty"`

	DocType                DocType      `json:"doctype"`
	DocTypeConfidence      float64      `json:"doctype_confidence"`
	Jurisdiction           Jurisdiction `json:"jurisdiction"`
	JurisdictionConfidence float64      `json:"jurisdiction_confidence"`

	Parties []string `json:"parties,omitempty"`

	CreationDate   *time.Time `json:"creation_date,omitempty"`
	EffectiveDate  *time.Time `json:"effective_date,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	IndexedAt      time.Time  `json:"indexed_at"`

	Status DocStatus `json:"version"`

	TotalPages   int           `json:"total_pages,omitempty"`
	SectionTree  []SectionNode `json:"section_tree,omitempty"`
	DefinedTerms map[string]string `json:"defined_terms,omitempty"`
	KeyClauses   []string      `json:"key_clauses,omitempty"`

	Chunks []*Chunk `json:"chunks"`
}

// HashContent computes the full SHA-256 content hash, hex encoded.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DocumentID derives a document id from a full content hash.
func DocumentID(fileHash string) string {
	if len(fileHash) < 12 {
		return fileHash
	}
	return fileHash[:12]
}

// Query is a normalized search request, populated by the external
// query-understanding collaborator.
type Query struct {
	// RawQuery is the original user query, kept for logging.
	RawQuery string `json:"raw_query,omitempty"`

	// Text is the processed free-text query used for scoring.
	Text string `json:"text_query"`

	RequiredTerms []string `json:"required_terms,omitempty"`
	ExcludedTerms []string `json:"excluded_terms,omitempty"`

	// Document-level filters.
	DocTypes      []DocType      `json:"doctypes,omitempty"`
	Jurisdictions []Jurisdiction `json:"jurisdictions,omitempty"`
	DateFrom      *time.Time     `json:"date_from,omitempty"`
	DateTo        *time.Time     `json:"date_to,omitempty"`
	Parties       []string       `json:"parties,omitempty"`

	// Ranking preferences.
	BoostRecent     bool `json:"boost_recent"`
	BoostHeaders    bool `json:"boost_headers"`
	BoostSignedDocs bool `json:"boost_signed_docs"`

	// TopK is the target result-count window.
	TopK int `json:"top_k"`
}

// LexicalResult is a single BM25 search hit.
type LexicalResult struct {
	Chunk *Chunk
	Score float64
}

// VectorResult is a single semantic search hit. Score is monotonically
// decreasing in distance; only relative ordering is meaningful.
type VectorResult struct {
	ChunkID  string
	Distance float32
	Score    float64
}

// DocIDSet is an optional document-id filter. A nil set means no filter.
type DocIDSet map[string]struct{}

// Contains reports membership; a nil set admits everything.
func (s DocIDSet) Contains(docID string) bool {
	if s == nil {
		return true
	}
	_, ok := s[docID]
	return ok
}

// ErrDimensionMismatch indicates embedding vector dimension mismatch,
// which across a reload means the persisted index is unusable.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex with --force)", e.Expected, e.Got)
}
