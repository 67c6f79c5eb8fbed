package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dkrasnove/kbase/internal/config"
	"github.com/dkrasnove/kbase/internal/core"
	"github.com/dkrasnove/kbase/internal/core/crawler"
	"github.com/dkrasnove/kbase/internal/models"
	"github.com/dkrasnove/kbase/internal/services"
)

// stubDB implements the handful of DbClient methods the handlers and their
// background workers touch. The embedded interface panics on anything else,
// which doubles as a check that nothing unexpected is called.
type stubDB struct {
	core.DbClient

	mu        sync.Mutex
	settings  *models.Settings
	documents map[string]*models.Document
	crawlJobs map[string]*models.CrawlJob
}

func newStubDB(settings *models.Settings) *stubDB {
	return &stubDB{
		settings:  settings,
		documents: map[string]*models.Document{},
		crawlJobs: map[string]*models.CrawlJob{},
	}
}

func (s *stubDB) GetSettings(ctx context.Context) (*models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *stubDB) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *stubDB) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (s *stubDB) UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.documents[id]; ok {
		doc.Status = status
		doc.ErrorMessage = errMsg
	}
	return nil
}

func (s *stubDB) CreateCrawlJob(ctx context.Context, job *models.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.crawlJobs[job.ID] = &cp
	return nil
}

func (s *stubDB) GetCrawlJobByID(ctx context.Context, id string) (*models.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.crawlJobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (s *stubDB) UpdateCrawlJobStatus(ctx context.Context, id, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.crawlJobs[id]; ok {
		job.Status = status
		job.ErrorMessage = errMsg
	}
	return nil
}

func (s *stubDB) documentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.documents)
}

func (s *stubDB) crawlJobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.crawlJobs)
}

type stubStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newStubStore() *stubStore {
	return &stubStore{objects: map[string][]byte{}}
}

func (s *stubStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *stubStore) Download(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key], nil
}

func (s *stubStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *stubStore) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func configuredSettings() *models.Settings {
	return &models.Settings{
		Provider:       "openai",
		APIKey:         "sk-test",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
	}
}

func testIngestor(db core.DbClient, store core.ObjectStore) *services.Ingestor {
	logger := slog.New(slog.DiscardHandler)
	cfg := &config.Config{ChunkSize: 10, ChunkOverlap: 2}
	cr := crawler.New(time.Second, 1, "test-crawler/1.0", logger)
	return services.NewIngestor(db, store, nil, nil, cr, cfg, logger)
}
