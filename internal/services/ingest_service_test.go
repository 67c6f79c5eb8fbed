package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrasnove/kbase/internal/config"
	"github.com/dkrasnove/kbase/internal/core/crawler"
	"github.com/dkrasnove/kbase/internal/models"
)

type harness struct {
	db       *fakeDB
	store    *fakeStore
	index    *fakeIndex
	embedder *fakeEmbedder
	factory  *fakeFactory
	ingestor *Ingestor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newFakeDB()
	db.settings = &models.Settings{
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		APIKey:         "sk-test",
	}
	store := newFakeStore()
	index := &fakeIndex{}
	embedder := &fakeEmbedder{}
	factory := &fakeFactory{embedder: embedder, completer: &fakeCompleter{reply: "ok"}}
	cfg := &config.Config{ChunkSize: 10, ChunkOverlap: 2}
	logger := slog.New(slog.DiscardHandler)
	cr := crawler.New(5*time.Second, 2, "test-crawler/1.0", logger)
	return &harness{
		db:       db,
		store:    store,
		index:    index,
		embedder: embedder,
		factory:  factory,
		ingestor: NewIngestor(db, store, index, factory, cr, cfg, logger),
	}
}

func (h *harness) seedDocument(t *testing.T, id, text string) {
	t.Helper()
	require.NoError(t, h.store.Upload(context.Background(), "docs/"+id, []byte(text), "text/plain"))
	require.NoError(t, h.db.CreateDocument(context.Background(), &models.Document{
		ID:          id,
		UserID:      "user-1",
		FileName:    id + ".txt",
		StorageKey:  "docs/" + id,
		ContentType: "text/plain",
		Status:      models.DocumentStatusUploading,
	}))
}

func wordsOfCount(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(words, " ")
}

func TestProcessDocumentHappyPath(t *testing.T) {
	h := newHarness(t)
	h.seedDocument(t, "doc-1", wordsOfCount(25)) // chunk size 10, overlap 2 -> 3 chunks

	require.NoError(t, h.ingestor.ProcessDocument(context.Background(), "doc-1"))

	assert.Equal(t, models.DocumentStatusReady, h.db.documentStatus("doc-1"))
	assert.Equal(t, []string{models.DocumentStatusProcessing, models.DocumentStatusReady}, h.db.docStatusHistory)

	// One upsert for the whole document.
	require.Len(t, h.index.upsertCalls, 1)
	require.Len(t, h.index.upsertCalls[0], 3)

	rows, err := h.db.ChunksBySource(context.Background(), models.SourceTypeDocument, "doc-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, i, row.ChunkIndex)
		assert.Equal(t, h.index.upsertCalls[0][i].ID, row.PointID)
		assert.Equal(t, h.index.upsertCalls[0][i].Content, row.Content)
	}
}

func TestProcessDocumentEmptyFileIsReady(t *testing.T) {
	h := newHarness(t)
	h.seedDocument(t, "doc-1", "   \n  ")

	require.NoError(t, h.ingestor.ProcessDocument(context.Background(), "doc-1"))

	assert.Equal(t, models.DocumentStatusReady, h.db.documentStatus("doc-1"))
	assert.Empty(t, h.index.upsertCalls)
	rows, _ := h.db.ChunksBySource(context.Background(), models.SourceTypeDocument, "doc-1")
	assert.Empty(t, rows)
}

func TestProcessDocumentEmbedFailure(t *testing.T) {
	h := newHarness(t)
	h.seedDocument(t, "doc-1", wordsOfCount(25))
	h.embedder.err = errors.New("quota exceeded")

	err := h.ingestor.ProcessDocument(context.Background(), "doc-1")
	require.Error(t, err)

	doc, _ := h.db.GetDocumentByID(context.Background(), "doc-1")
	require.NotNil(t, doc)
	assert.Equal(t, models.DocumentStatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "quota exceeded")

	// Nothing was committed.
	assert.Empty(t, h.index.upsertCalls)
	rows, _ := h.db.ChunksBySource(context.Background(), models.SourceTypeDocument, "doc-1")
	assert.Empty(t, rows)
}

func TestProcessDocumentNoProviderConfigured(t *testing.T) {
	h := newHarness(t)
	h.db.settings = nil
	h.seedDocument(t, "doc-1", wordsOfCount(25))

	err := h.ingestor.ProcessDocument(context.Background(), "doc-1")
	require.ErrorIs(t, err, ErrEmbeddingNotConfigured)
	assert.Equal(t, models.DocumentStatusFailed, h.db.documentStatus("doc-1"))
}

func TestProcessDocumentAbandonsWhenDeletedMidFlight(t *testing.T) {
	h := newHarness(t)
	h.seedDocument(t, "doc-1", wordsOfCount(25))
	h.embedder.onBatch = func() {
		h.db.mu.Lock()
		delete(h.db.documents, "doc-1")
		h.db.mu.Unlock()
	}

	require.NoError(t, h.ingestor.ProcessDocument(context.Background(), "doc-1"))

	// No index or ledger writes after the source disappeared.
	assert.Empty(t, h.index.upsertCalls)
	rows, _ := h.db.ChunksBySource(context.Background(), models.SourceTypeDocument, "doc-1")
	assert.Empty(t, rows)
}

func TestEmbedChunksBatching(t *testing.T) {
	h := newHarness(t)
	chunks := make([]string, 250)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("chunk %d", i)
	}

	points, rows, err := h.ingestor.embedChunks(context.Background(), h.embedder, chunks, models.SourceTypeDocument, "doc-1", 0)
	require.NoError(t, err)

	assert.Equal(t, []int{100, 100, 50}, h.embedder.batchSizes)
	require.Len(t, points, 250)
	require.Len(t, rows, 250)
	for i, row := range rows {
		assert.Equal(t, i, row.ChunkIndex)
		assert.Equal(t, points[i].ID, row.PointID)
	}
}

func TestRescanDocumentReplacesPoints(t *testing.T) {
	h := newHarness(t)
	h.seedDocument(t, "doc-1", wordsOfCount(25))
	require.NoError(t, h.ingestor.ProcessDocument(context.Background(), "doc-1"))

	firstRows, err := h.db.ChunksBySource(context.Background(), models.SourceTypeDocument, "doc-1")
	require.NoError(t, err)
	require.Len(t, firstRows, 3)
	firstIDs := map[string]bool{}
	for _, r := range firstRows {
		firstIDs[r.PointID] = true
	}

	require.NoError(t, h.ingestor.RescanDocument(context.Background(), "doc-1"))

	assert.Equal(t, models.DocumentStatusReady, h.db.documentStatus("doc-1"))

	secondRows, err := h.db.ChunksBySource(context.Background(), models.SourceTypeDocument, "doc-1")
	require.NoError(t, err)
	require.Len(t, secondRows, 3)
	for i, r := range secondRows {
		assert.Equal(t, i, r.ChunkIndex)
		assert.False(t, firstIDs[r.PointID], "rescan must mint fresh point ids")
	}

	// The old points were swept from the index.
	assert.Len(t, h.index.deletedIDs, 3)
	for _, id := range h.index.deletedIDs {
		assert.True(t, firstIDs[id])
	}
}

func TestDeleteDocumentCleansUpEverything(t *testing.T) {
	h := newHarness(t)
	h.seedDocument(t, "doc-1", wordsOfCount(25))
	require.NoError(t, h.ingestor.ProcessDocument(context.Background(), "doc-1"))

	require.NoError(t, h.ingestor.DeleteDocument(context.Background(), "doc-1"))

	doc, _ := h.db.GetDocumentByID(context.Background(), "doc-1")
	assert.Nil(t, doc)
	rows, _ := h.db.ChunksBySource(context.Background(), models.SourceTypeDocument, "doc-1")
	assert.Empty(t, rows)
	assert.Len(t, h.index.deletedIDs, 3)
	assert.Contains(t, h.store.deleted, "docs/doc-1")
}

func TestRunCrawlIngestsPages(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<urlset><url><loc>%s/a</loc></url><url><loc>%s/b</loc></url></urlset>`, srv.URL, srv.URL)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Alpha</title></head><body>%s</body></html>`, wordsOfCount(25))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Beta</title></head><body>short page</body></html>`)
	})

	h := newHarness(t)
	require.NoError(t, h.db.CreateCrawlJob(context.Background(), &models.CrawlJob{
		ID:        "job-1",
		UserID:    "user-1",
		URL:       srv.URL,
		CrawlType: models.CrawlTypeSitemap,
		Status:    models.CrawlStatusPending,
	}))

	require.NoError(t, h.ingestor.RunCrawl(context.Background(), "job-1"))

	job, err := h.db.GetCrawlJobByID(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.CrawlStatusCompleted, job.Status)
	assert.Equal(t, 2, job.PagesFound)
	assert.Equal(t, 2, job.PagesProcessed)

	// Chunk indices stay dense across pages within the job.
	rows, err := h.db.ChunksBySource(context.Background(), models.SourceTypeCrawlPage, "job-1")
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for i, row := range rows {
		assert.Equal(t, i, row.ChunkIndex)
	}
	assert.Equal(t, len(rows), h.index.totalUpserted())
}

func TestRunCrawlFailsWhenSitemapMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	h := newHarness(t)
	require.NoError(t, h.db.CreateCrawlJob(context.Background(), &models.CrawlJob{
		ID:        "job-1",
		UserID:    "user-1",
		URL:       srv.URL,
		CrawlType: models.CrawlTypeSitemap,
		Status:    models.CrawlStatusPending,
	}))

	require.Error(t, h.ingestor.RunCrawl(context.Background(), "job-1"))

	job, _ := h.db.GetCrawlJobByID(context.Background(), "job-1")
	require.NotNil(t, job)
	assert.Equal(t, models.CrawlStatusFailed, job.Status)
	assert.NotEmpty(t, job.ErrorMessage)
}

func TestRunCrawlFailsWhenLedgerWriteFails(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<urlset><url><loc>%s/a</loc></url></urlset>`, srv.URL)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Alpha</title></head><body>some words here</body></html>`)
	})

	h := newHarness(t)
	h.db.pagesFoundErr = errors.New("connection reset")
	require.NoError(t, h.db.CreateCrawlJob(context.Background(), &models.CrawlJob{
		ID:        "job-1",
		UserID:    "user-1",
		URL:       srv.URL,
		CrawlType: models.CrawlTypeSitemap,
		Status:    models.CrawlStatusPending,
	}))

	require.Error(t, h.ingestor.RunCrawl(context.Background(), "job-1"))

	// The job must not be left stuck in running.
	job, _ := h.db.GetCrawlJobByID(context.Background(), "job-1")
	require.NotNil(t, job)
	assert.Equal(t, models.CrawlStatusFailed, job.Status)

	h2 := newHarness(t)
	h2.db.pagesProcessedErr = errors.New("connection reset")
	require.NoError(t, h2.db.CreateCrawlJob(context.Background(), &models.CrawlJob{
		ID:        "job-2",
		UserID:    "user-1",
		URL:       srv.URL,
		CrawlType: models.CrawlTypeSitemap,
		Status:    models.CrawlStatusPending,
	}))

	require.Error(t, h2.ingestor.RunCrawl(context.Background(), "job-2"))

	job, _ = h2.db.GetCrawlJobByID(context.Background(), "job-2")
	require.NotNil(t, job)
	assert.Equal(t, models.CrawlStatusFailed, job.Status)
}

func TestRunCrawlFailsOnEmbedError(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<urlset><url><loc>%s/a</loc></url></urlset>`, srv.URL)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Alpha</title></head><body>some words here</body></html>`)
	})

	h := newHarness(t)
	h.embedder.err = errors.New("provider down")
	require.NoError(t, h.db.CreateCrawlJob(context.Background(), &models.CrawlJob{
		ID:        "job-1",
		UserID:    "user-1",
		URL:       srv.URL,
		CrawlType: models.CrawlTypeSitemap,
		Status:    models.CrawlStatusPending,
	}))

	require.Error(t, h.ingestor.RunCrawl(context.Background(), "job-1"))

	job, _ := h.db.GetCrawlJobByID(context.Background(), "job-1")
	require.NotNil(t, job)
	assert.Equal(t, models.CrawlStatusFailed, job.Status)
}
