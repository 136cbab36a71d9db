package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDoc(id string, texts ...string) *Document {
	doc := &Document{
		ID:       id,
		Title:    "Doc " + id,
		FilePath: "/corpus/" + id + ".json",
		DocType:  DocTypeContract,
	}
	for i, text := range texts {
		doc.Chunks = append(doc.Chunks, &Chunk{
			ID:    ChunkID(id, 1, i),
			DocID: id,
			Text:  text,
		})
	}
	return doc
}

func TestBM25Search(t *testing.T) {
	idx := NewBM25Index()
	idx.Build([]*Document{
		makeDoc("aaaaaaaaaaaa",
			"The indemnification clause survives termination of this agreement.",
			"Payment of $1,000,000 is due under Section 5.2 within thirty days."),
		makeDoc("bbbbbbbbbbbb",
			"This lease may be terminated by either party with notice.",
			"Indemnification obligations are mutual and capped at the contract value."),
	})

	t.Run("relevant terms rank matching chunks", func(t *testing.T) {
		results := idx.Search("indemnification clause", 10, nil)
		require.NotEmpty(t, results)
		assert.Equal(t, "aaaaaaaaaaaa#p1#c0", results[0].Chunk.ID)
		for _, r := range results {
			assert.Greater(t, r.Score, 0.0)
		}
	})

	t.Run("currency query matches normalized token", func(t *testing.T) {
		results := idx.Search("pay $1,000,000", 10, nil)
		require.NotEmpty(t, results)
		assert.Equal(t, "aaaaaaaaaaaa#p1#c1", results[0].Chunk.ID)
	})

	t.Run("section reference stays a single term", func(t *testing.T) {
		results := idx.Search("§5.2", 10, nil)
		require.NotEmpty(t, results)
		assert.Equal(t, "aaaaaaaaaaaa#p1#c1", results[0].Chunk.ID)
	})

	t.Run("no matches yields empty slice", func(t *testing.T) {
		results := idx.Search("zzz unmatched nonsense", 10, nil)
		assert.Empty(t, results)
	})

	t.Run("empty query yields empty slice", func(t *testing.T) {
		assert.Empty(t, idx.Search("", 10, nil))
		assert.Empty(t, idx.Search("the of a", 10, nil))
	})

	t.Run("topK caps results", func(t *testing.T) {
		results := idx.Search("termination", 1, nil)
		assert.Len(t, results, 1)
	})

	t.Run("doc filter restricts candidates", func(t *testing.T) {
		filter := DocIDSet{"bbbbbbbbbbbb": {}}
		results := idx.Search("indemnification", 10, filter)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.Equal(t, "bbbbbbbbbbbb", r.Chunk.DocID)
		}
	})
}

func TestBM25SearchEmptyIndex(t *testing.T) {
	idx := NewBM25Index()
	assert.Empty(t, idx.Search("anything", 10, nil))
	assert.Equal(t, 0, idx.ChunkCount())
}

func TestBM25SearchWithFilters(t *testing.T) {
	date2023 := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	date2020 := time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)

	contract := makeDoc("aaaaaaaaaaaa",
		"Tenant shall pay rent monthly.",
		"Landlord provides indemnification for structural defects.")
	contract.DocType = DocTypeAgreement
	contract.Jurisdiction = JurisdictionNewYork
	contract.EffectiveDate = &date2023
	contract.Parties = []string{"Acme Corp", "Beta LLC"}

	nda := makeDoc("bbbbbbbbbbbb",
		"Confidential information shall not be disclosed.",
		"Indemnification applies to breach of confidentiality.")
	nda.DocType = DocTypeNDA
	nda.Jurisdiction = JurisdictionCalifornia
	nda.EffectiveDate = &date2020
	nda.Parties = []string{"Gamma Inc"}

	idx := NewBM25Index()
	idx.Build([]*Document{contract, nda})

	t.Run("doc type filter", func(t *testing.T) {
		q := &Query{Text: "indemnification", DocTypes: []DocType{DocTypeNDA}, TopK: 10}
		results := idx.SearchWithFilters(q)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.Equal(t, "bbbbbbbbbbbb", r.Chunk.DocID)
		}
	})

	t.Run("date range filter", func(t *testing.T) {
		from := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
		q := &Query{Text: "indemnification", DateFrom: &from, TopK: 10}
		results := idx.SearchWithFilters(q)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.Equal(t, "aaaaaaaaaaaa", r.Chunk.DocID)
		}
	})

	t.Run("party filter is case insensitive", func(t *testing.T) {
		q := &Query{Text: "indemnification", Parties: []string{"acme corp"}, TopK: 10}
		results := idx.SearchWithFilters(q)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.Equal(t, "aaaaaaaaaaaa", r.Chunk.DocID)
		}
	})

	t.Run("required terms join the query", func(t *testing.T) {
		q := &Query{Text: "payment", RequiredTerms: []string{"rent"}, TopK: 10}
		results := idx.SearchWithFilters(q)
		require.NotEmpty(t, results)
		assert.Equal(t, "aaaaaaaaaaaa#p1#c0", results[0].Chunk.ID)
	})

	t.Run("excluded terms drop matching chunks", func(t *testing.T) {
		q := &Query{Text: "indemnification", ExcludedTerms: []string{"confidentiality"}, TopK: 10}
		results := idx.SearchWithFilters(q)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.NotEqual(t, "bbbbbbbbbbbb#p1#c1", r.Chunk.ID)
		}
	})

	t.Run("no filters returns nil candidate set", func(t *testing.T) {
		assert.Nil(t, idx.ResolveFilters(&Query{Text: "x"}))
	})

	t.Run("unmatchable filter yields empty set not nil", func(t *testing.T) {
		set := idx.ResolveFilters(&Query{Text: "x", DocTypes: []DocType{DocTypeBrief}})
		require.NotNil(t, set)
		assert.Empty(t, set)
	})
}

func TestBM25ChunkContext(t *testing.T) {
	doc := makeDoc("aaaaaaaaaaaa", "one", "two", "three", "four", "five")
	idx := NewBM25Index()
	idx.Build([]*Document{doc})

	middle := doc.Chunks[2]
	ctx := idx.ChunkContext(middle, 1)
	require.Len(t, ctx, 3)
	assert.Equal(t, "two", ctx[0].Text)
	assert.Equal(t, "three", ctx[1].Text)
	assert.Equal(t, "four", ctx[2].Text)

	first := doc.Chunks[0]
	ctx = idx.ChunkContext(first, 2)
	require.Len(t, ctx, 3)
	assert.Equal(t, "one", ctx[0].Text)

	last := doc.Chunks[4]
	ctx = idx.ChunkContext(last, 2)
	require.Len(t, ctx, 3)
	assert.Equal(t, "five", ctx[2].Text)
}

func TestBM25SaveLoad(t *testing.T) {
	docs := []*Document{
		makeDoc("aaaaaaaaaaaa",
			"The indemnification clause survives termination.",
			"Payment due under Section 5.2."),
		makeDoc("bbbbbbbbbbbb", "Lease termination requires notice."),
	}

	idx := NewBM25Index()
	idx.Build(docs)
	before := idx.Search("indemnification termination", 10, nil)
	require.NotEmpty(t, before)

	path := filepath.Join(t.TempDir(), "lexical.json")
	require.NoError(t, idx.Save(path))

	// Fresh documents without cached term frequencies, as after a corpus load.
	fresh := []*Document{
		makeDoc("aaaaaaaaaaaa",
			"The indemnification clause survives termination.",
			"Payment due under Section 5.2."),
		makeDoc("bbbbbbbbbbbb", "Lease termination requires notice."),
	}
	loaded := NewBM25Index()
	require.NoError(t, loaded.Load(path, fresh))

	after := loaded.Search("indemnification termination", 10, nil)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Chunk.ID, after[i].Chunk.ID)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-9)
	}
	assert.Equal(t, idx.Stats(), loaded.Stats())
}

func TestBM25LoadMismatch(t *testing.T) {
	docs := []*Document{makeDoc("aaaaaaaaaaaa", "one chunk")}
	idx := NewBM25Index()
	idx.Build(docs)

	path := filepath.Join(t.TempDir(), "lexical.json")
	require.NoError(t, idx.Save(path))

	t.Run("extra corpus chunk", func(t *testing.T) {
		loaded := NewBM25Index()
		err := loaded.Load(path, []*Document{makeDoc("aaaaaaaaaaaa", "one chunk", "extra")})
		assert.Error(t, err)
	})

	t.Run("chunk id drift", func(t *testing.T) {
		loaded := NewBM25Index()
		err := loaded.Load(path, []*Document{makeDoc("cccccccccccc", "one chunk")})
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		loaded := NewBM25Index()
		err := loaded.Load(filepath.Join(t.TempDir(), "nope.json"), docs)
		assert.Error(t, err)
	})
}
