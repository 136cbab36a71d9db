package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// CorpusStore persists documents and chunks in SQLite. It is the source
// of truth the lexical and vector artifacts are validated against on
// load.
type CorpusStore struct {
	db *sql.DB
}

// OpenCorpusStore opens (or creates) the corpus database at path and
// ensures the schema exists.
func OpenCorpusStore(path string) (*CorpusStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open corpus database: %w", err)
	}

	// Single writer; the index manager serializes rebuilds anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure corpus database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		file_hash TEXT NOT NULL,
		source_folder TEXT NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(file_hash);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id, position);

	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create corpus schema: %w", err)
	}

	return &CorpusStore{db: db}, nil
}

// SaveCorpus replaces the stored corpus with the given documents in a
// single transaction. Document order is the corpus order and is
// preserved by chunk positions.
func (s *CorpusStore) SaveCorpus(documents []*Document) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM documents`); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}

	docStmt, err := tx.Prepare(`INSERT INTO documents (id, file_hash, source_folder, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare document insert: %w", err)
	}
	defer docStmt.Close()

	chunkStmt, err := tx.Prepare(`INSERT INTO chunks (id, doc_id, position, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer chunkStmt.Close()

	pos := 0
	for _, doc := range documents {
		// Chunks are stored in their own table; strip them from the
		// document row to avoid duplicating the text.
		docCopy := *doc
		docCopy.Chunks = nil
		data, err := json.Marshal(&docCopy)
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", doc.ID, err)
		}
		if _, err := docStmt.Exec(doc.ID, doc.FileHash, doc.SourceFolder, string(data)); err != nil {
			return fmt.Errorf("insert document %s: %w", doc.ID, err)
		}

		for _, chunk := range doc.Chunks {
			data, err := json.Marshal(chunk)
			if err != nil {
				return fmt.Errorf("marshal chunk %s: %w", chunk.ID, err)
			}
			if _, err := chunkStmt.Exec(chunk.ID, doc.ID, pos, string(data)); err != nil {
				return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
			}
			pos++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit corpus: %w", err)
	}
	return nil
}

// LoadCorpus reads all documents with their chunks back in corpus order.
func (s *CorpusStore) LoadCorpus() ([]*Document, error) {
	rows, err := s.db.Query(`SELECT data FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Document)
	var documents []*Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var doc Document
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
		byID[doc.ID] = &doc
		documents = append(documents, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	chunkRows, err := s.db.Query(`SELECT doc_id, data FROM chunks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer chunkRows.Close()

	// Corpus order is chunk position order, which also fixes the
	// document order for artifact validation.
	var ordered []*Document
	seen := make(map[string]bool)
	for chunkRows.Next() {
		var docID, data string
		if err := chunkRows.Scan(&docID, &data); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		doc, ok := byID[docID]
		if !ok {
			return nil, fmt.Errorf("chunk references unknown document %s", docID)
		}
		var chunk Chunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("parse chunk: %w", err)
		}
		doc.Chunks = append(doc.Chunks, &chunk)
		if !seen[docID] {
			seen[docID] = true
			ordered = append(ordered, doc)
		}
	}
	if err := chunkRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	// Documents without chunks still belong to the corpus.
	for _, doc := range documents {
		if !seen[doc.ID] {
			ordered = append(ordered, doc)
		}
	}

	return ordered, nil
}

// HasDocumentHash reports whether a document with the given content hash
// is already stored, returning its id when found.
func (s *CorpusStore) HasDocumentHash(hash string) (string, bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM documents WHERE file_hash = ?`, hash).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup document hash: %w", err)
	}
	return id, true, nil
}

// GetState reads a state value, returning "" when the key is absent.
func (s *CorpusStore) GetState(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read state %s: %w", key, err)
	}
	return value, nil
}

// SetState upserts a state value.
func (s *CorpusStore) SetState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("write state %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *CorpusStore) Close() error {
	return s.db.Close()
}
