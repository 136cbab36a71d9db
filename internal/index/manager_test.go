package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbrief/lexindex/internal/config"
	"github.com/clearbrief/lexindex/internal/embed"
	lexerrors "github.com/clearbrief/lexindex/internal/errors"
	"github.com/clearbrief/lexindex/internal/store"
)

func testManager(t *testing.T, dataDir string) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = dataDir

	m, err := NewManager(cfg, embed.NewStaticEmbedder(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// structuredDoc builds an ingestion-shaped document: all fields
// populated except embeddings, identity derived from content.
func structuredDoc(path string, chunkTexts ...string) *store.Document {
	content := strings.Join(chunkTexts, "\n")
	hash := store.HashContent([]byte(content))
	id := store.DocumentID(hash)

	doc := &store.Document{
		ID:       id,
		Title:    filepath.Base(path),
		FilePath: path,
		FileHash: hash,
		DocType:  store.DocTypeContract,
	}
	for i, text := range chunkTexts {
		doc.Chunks = append(doc.Chunks, &store.Chunk{
			ID:    store.ChunkID(id, 1, i),
			DocID: id,
			Text:  text,
		})
	}
	return doc
}

func TestManagerAddAndSearch(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, t.TempDir())
	assert.Equal(t, StateEmpty, m.State())

	report, err := m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/corpus/contracts/a.json",
			"The indemnification clause survives termination.",
			"Payment is due under Section 5.2."),
		structuredDoc("/corpus/contracts/b.json",
			"Either party may terminate with sixty days notice."),
	}, "/corpus/contracts", false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	assert.Zero(t, report.Failed)
	assert.Equal(t, StateReady, m.State())

	resp, err := m.Search(ctx, &store.Query{Text: "indemnification"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Chunk.Text, "indemnification")

	stats := m.Stats()
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 3, stats.Vectors)
}

func TestManagerSearchEmpty(t *testing.T) {
	m := testManager(t, t.TempDir())
	resp, err := m.Search(context.Background(), &store.Query{Text: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestManagerDedupIdempotent(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, t.TempDir())

	doc := structuredDoc("/corpus/a.json", "identical content here")
	_, err := m.AddDocuments(ctx, []*store.Document{doc}, "/corpus", false)
	require.NoError(t, err)
	before := m.Stats().Chunks

	// Re-adding the same bytes must not duplicate chunks.
	report, err := m.AddDocuments(ctx, []*store.Document{structuredDoc("/corpus/a.json", "identical content here")}, "/corpus", false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deduplicated)
	assert.Zero(t, report.Indexed)
	assert.Equal(t, before, m.Stats().Chunks)
}

func TestManagerDedupAcrossFolders(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, t.TempDir())

	_, err := m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/corpus/folder_a/shared.json", "shared bytes"),
	}, "/corpus/folder_a", false)
	require.NoError(t, err)

	// Identical bytes at a different path collapse to one document,
	// re-tagged with the newest folder.
	report, err := m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/corpus/folder_b/copy.json", "shared bytes"),
	}, "/corpus/folder_b", false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deduplicated)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Folders["/corpus/folder_b"])
}

func TestManagerReplaceSupersededFile(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, t.TempDir())

	_, err := m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/corpus/a.json", "old draft text"),
	}, "/corpus", false)
	require.NoError(t, err)

	report, err := m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/corpus/a.json", "new signed text"),
	}, "/corpus", false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replaced)

	assert.Equal(t, 1, m.Stats().Documents)
	resp, err := m.Search(ctx, &store.Query{Text: "signed"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Chunk.Text, "new signed")
}

func TestManagerRemoveFolder(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, t.TempDir())

	_, err := m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/corpus/keep/a.json", "kept document"),
		structuredDoc("/corpus/drop/b.json", "dropped document"),
		structuredDoc("/corpus/drop/nested/c.json", "nested dropped document"),
	}, "/corpus", false)
	require.NoError(t, err)

	removed, err := m.RemoveFolder(ctx, "/corpus/drop")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Documents)

	resp, err := m.Search(ctx, &store.Query{Text: "document"})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotContains(t, r.Chunk.Text, "dropped")
	}

	// A sibling folder sharing the name prefix must not match.
	removed, err = m.RemoveFolder(ctx, "/corpus/kee")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestManagerRemoveFolderNoOp(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, t.TempDir())

	_, err := m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/corpus/a.json", "content"),
	}, "/corpus", false)
	require.NoError(t, err)

	removed, err := m.RemoveFolder(ctx, "/elsewhere")
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, StateReady, m.State())
	assert.Equal(t, 1, m.Stats().Documents)
}

// unavailableEmbedder fails every call, simulating a provider outage.
type unavailableEmbedder struct{}

func (unavailableEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, lexerrors.New(lexerrors.ErrCodeEmbeddingFailed, "provider unavailable", nil)
}

func (unavailableEmbedder) Dimensions() int { return embed.StaticDimensions }
func (unavailableEmbedder) Name() string    { return "unavailable" }
func (unavailableEmbedder) Close() error    { return nil }

func TestManagerFailedRebuildKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, t.TempDir())

	_, err := m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/corpus/folder_a/shared.json", "shared bytes"),
	}, "/corpus/folder_a", false)
	require.NoError(t, err)

	// An embedding outage aborts the rebuild mid-merge. The live
	// snapshot must come through untouched, folder tags included.
	m.embedder = unavailableEmbedder{}
	_, err = m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/corpus/folder_b/copy.json", "shared bytes"),
		structuredDoc("/corpus/folder_b/new.json", "brand new bytes"),
	}, "/corpus/folder_b", false)
	require.Error(t, err)
	assert.Equal(t, StateReady, m.State())

	stats := m.Stats()
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Folders["/corpus/folder_a"])
	assert.Zero(t, stats.Folders["/corpus/folder_b"])

	removed, err := m.RemoveFolder(ctx, "/corpus/folder_a")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestManagerRemoveFolderSymlink(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, t.TempDir())

	real := filepath.Join(t.TempDir(), "corpus")
	require.NoError(t, os.MkdirAll(real, 0o755))
	alias := filepath.Join(t.TempDir(), "alias")
	require.NoError(t, os.Symlink(real, alias))

	_, err := m.AddDocuments(ctx, []*store.Document{
		structuredDoc(filepath.Join(real, "a.json"), "linked document"),
	}, real, false)
	require.NoError(t, err)

	removed, err := m.RemoveFolder(ctx, alias)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, m.Stats().Documents)
}

func TestManagerSyncFolder(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, t.TempDir())

	_, err := m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/corpus/a.json", "first agreement text"),
		structuredDoc("/corpus/b.json", "second agreement text"),
	}, "/corpus", false)
	require.NoError(t, err)
	_, err = m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/other/c.json", "unrelated agreement text"),
	}, "/other", false)
	require.NoError(t, err)

	// b.json disappeared from the folder; a sync drops its document
	// but leaves other folders alone.
	report, err := m.SyncFolder(ctx, []*store.Document{
		structuredDoc("/corpus/a.json", "first agreement text"),
	}, "/corpus")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Deduplicated)
	assert.Zero(t, report.Indexed)
	assert.Equal(t, 2, m.Stats().Documents)

	resp, err := m.Search(ctx, &store.Query{Text: "second agreement"})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotContains(t, r.Chunk.Text, "second")
	}
}

func TestManagerSyncFolderUnchanged(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, t.TempDir())

	doc := structuredDoc("/corpus/a.json", "steady state")
	_, err := m.AddDocuments(ctx, []*store.Document{doc}, "/corpus", false)
	require.NoError(t, err)
	before := m.snap.Load()

	report, err := m.SyncFolder(ctx, []*store.Document{
		structuredDoc("/corpus/a.json", "steady state"),
	}, "/corpus")
	require.NoError(t, err)
	assert.Zero(t, report.Removed)
	assert.Equal(t, 1, report.Deduplicated)

	// Nothing changed, so no rebuild: the snapshot is the same one.
	assert.Same(t, before, m.snap.Load())
}

func TestManagerPersistLoad(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	m := testManager(t, dataDir)
	_, err := m.AddDocuments(ctx, []*store.Document{
		structuredDoc("/corpus/a.json",
			"The indemnification clause survives termination.",
			"Payment due under Section 5.2."),
	}, "/corpus", false)
	require.NoError(t, err)

	want, err := m.Search(ctx, &store.Query{Text: "indemnification termination"})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	reloaded := testManager(t, dataDir)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, StateReady, reloaded.State())

	got, err := reloaded.Search(ctx, &store.Query{Text: "indemnification termination"})
	require.NoError(t, err)
	require.Len(t, got.Results, len(want.Results))
	for i := range want.Results {
		assert.Equal(t, want.Results[i].Chunk.ID, got.Results[i].Chunk.ID)
		assert.InDelta(t, want.Results[i].FinalScore, got.Results[i].FinalScore, 1e-6)
	}
}

func TestManagerLoadMissingArtifacts(t *testing.T) {
	m := testManager(t, t.TempDir())
	err := m.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, lexerrors.ErrCodeArtifactMissing, lexerrors.GetCode(err))
	assert.Equal(t, StateEmpty, m.State())

	// An unloaded manager still answers queries with empty results.
	resp, searchErr := m.Search(context.Background(), &store.Query{Text: "x"})
	require.NoError(t, searchErr)
	assert.Empty(t, resp.Results)
}

func TestManagerChunkContext(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, t.TempDir())

	doc := structuredDoc("/corpus/a.json", "first", "second", "third")
	_, err := m.AddDocuments(ctx, []*store.Document{doc}, "/corpus", false)
	require.NoError(t, err)

	chunks := m.GetChunkContext(doc.Chunks[1].ID, 1)
	require.Len(t, chunks, 3)
	assert.Equal(t, "first", chunks[0].Text)
	assert.Equal(t, "third", chunks[2].Text)

	assert.Nil(t, m.GetChunkContext("missing#p1#c0", 1))
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		path, folder string
		want         bool
	}{
		{"/corpus/a/file.json", "/corpus/a", true},
		{"/corpus/a/nested/file.json", "/corpus/a", true},
		{"/corpus/ab/file.json", "/corpus/a", false},
		{"/corpus/a", "/corpus/a", true},
		{"/other/file.json", "/corpus/a", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isWithin(tt.path, tt.folder), "%s in %s", tt.path, tt.folder)
	}
}
