package cmd

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/clearbrief/lexindex/internal/store"
)

// loadStructuredDocuments reads parsed-document JSON files from folder.
// Each file holds one store.Document with chunks populated. A file that
// fails to read or parse is skipped and counted, not fatal.
func loadStructuredDocuments(folder string) ([]*store.Document, int, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, 0, fmt.Errorf("source folder: %w", err)
	}
	if !info.IsDir() {
		return nil, 0, fmt.Errorf("source is not a directory: %s", folder)
	}

	var docs []*store.Document
	failed := 0

	err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != folder {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}

		doc, err := loadDocumentFile(path)
		if err != nil {
			failed++
			slog.Warn("skipping unreadable document", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, failed, fmt.Errorf("walk %s: %w", folder, err)
	}
	return docs, failed, nil
}

func loadDocumentFile(path string) (*store.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if len(doc.Chunks) == 0 {
		return nil, fmt.Errorf("document has no chunks")
	}

	// Identity is content, not location.
	if doc.FileHash == "" {
		doc.FileHash = store.HashContent(data)
	}
	doc.ID = store.DocumentID(doc.FileHash)
	doc.FilePath = path
	for i, chunk := range doc.Chunks {
		chunk.DocID = doc.ID
		if chunk.ID == "" {
			page := chunk.PageStart
			if page == 0 {
				page = 1
			}
			chunk.ID = store.ChunkID(doc.ID, page, i)
		}
	}
	return &doc, nil
}
