package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkrasnove/kbase/internal/core"
	"github.com/dkrasnove/kbase/internal/models"
)

// fakeDB is an in-memory core.DbClient that enforces the same transition
// rules as the real client.
type fakeDB struct {
	mu        sync.Mutex
	users     map[string]*models.User
	documents map[string]*models.Document
	crawlJobs map[string]*models.CrawlJob
	chunks    []models.DocumentChunk
	settings  *models.Settings

	docStatusHistory  []string
	pagesFoundErr     error
	pagesProcessedErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:     map[string]*models.User{},
		documents: map[string]*models.Document{},
		crawlJobs: map[string]*models.CrawlJob{},
	}
}

func (f *fakeDB) CreateUser(ctx context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDB) CreateDocument(ctx context.Context, d *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	f.documents[d.ID] = &cp
	return nil
}

func (f *fakeDB) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDB) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.documents {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	if !models.CanTransitionDocument(d.Status, status) {
		return fmt.Errorf("illegal document transition %s -> %s", d.Status, status)
	}
	d.Status = status
	d.ErrorMessage = errMsg
	f.docStatusHistory = append(f.docStatusHistory, status)
	return nil
}

func (f *fakeDB) ResetDocumentForRescan(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok || d.Status != models.DocumentStatusReady {
		return fmt.Errorf("document %s is not ready for rescan", id)
	}
	d.Status = models.DocumentStatusProcessing
	d.ErrorMessage = ""
	return nil
}

func (f *fakeDB) DeleteDocument(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[id]; !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	delete(f.documents, id)
	return nil
}

func (f *fakeDB) CreateCrawlJob(ctx context.Context, j *models.CrawlJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *j
	f.crawlJobs[j.ID] = &cp
	return nil
}

func (f *fakeDB) GetCrawlJobByID(ctx context.Context, id string) (*models.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.crawlJobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeDB) ListCrawlJobsByUser(ctx context.Context, userID string) ([]models.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CrawlJob
	for _, j := range f.crawlJobs {
		if j.UserID == userID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateCrawlJobStatus(ctx context.Context, id, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.crawlJobs[id]
	if !ok {
		return fmt.Errorf("crawl job not found: %s", id)
	}
	if !models.CanTransitionCrawl(j.Status, status) {
		return fmt.Errorf("illegal crawl transition %s -> %s", j.Status, status)
	}
	j.Status = status
	j.ErrorMessage = errMsg
	return nil
}

func (f *fakeDB) SetCrawlPagesFound(ctx context.Context, id string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pagesFoundErr != nil {
		return f.pagesFoundErr
	}
	if j, ok := f.crawlJobs[id]; ok {
		j.PagesFound = n
	}
	return nil
}

func (f *fakeDB) SetCrawlPagesProcessed(ctx context.Context, id string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pagesProcessedErr != nil {
		return f.pagesProcessedErr
	}
	if j, ok := f.crawlJobs[id]; ok {
		j.PagesProcessed = n
	}
	return nil
}

func (f *fakeDB) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeDB) ChunksBySource(ctx context.Context, sourceType, sourceID string) ([]models.DocumentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DocumentChunk
	for _, ch := range f.chunks {
		if ch.SourceType == sourceType && ch.SourceID == sourceID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeDB) DeleteChunksBySource(ctx context.Context, sourceType, sourceID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []models.DocumentChunk
	var pointIDs []string
	for _, ch := range f.chunks {
		if ch.SourceType == sourceType && ch.SourceID == sourceID {
			pointIDs = append(pointIDs, ch.PointID)
		} else {
			kept = append(kept, ch)
		}
	}
	f.chunks = kept
	return pointIDs, nil
}

func (f *fakeDB) GetSettings(ctx context.Context) (*models.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settings == nil {
		return nil, nil
	}
	cp := *f.settings
	return &cp, nil
}

func (f *fakeDB) UpdateSettings(ctx context.Context, s *models.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.settings = &cp
	return nil
}

func (f *fakeDB) Close() error { return nil }

func (f *fakeDB) documentStatus(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.documents[id]; ok {
		return d.Status
	}
	return ""
}

// fakeStore is an in-memory core.ObjectStore.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Download(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return data, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

// fakeIndex records upserts and deletions and serves canned search results.
type fakeIndex struct {
	mu          sync.Mutex
	upsertCalls [][]core.Point
	deletedIDs  []string
	searchHits  []core.SearchResult
	searchErr   error
	upsertErr   error
}

func (f *fakeIndex) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeIndex) UpsertPoints(ctx context.Context, points []core.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if len(points) == 0 {
		return nil
	}
	f.upsertCalls = append(f.upsertCalls, points)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, topK int) ([]core.SearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchHits, nil
}

func (f *fakeIndex) DeletePoints(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedIDs = append(f.deletedIDs, ids...)
	return nil
}

func (f *fakeIndex) totalUpserted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.upsertCalls {
		n += len(call)
	}
	return n
}

// fakeEmbedder returns a fixed-size vector per text and records batch sizes.
// onBatch, when set, runs before each batch; tests use it to mutate state
// mid-flight.
type fakeEmbedder struct {
	mu         sync.Mutex
	batchSizes []int
	err        error
	onBatch    func()
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	onBatch := f.onBatch
	f.mu.Unlock()
	if onBatch != nil {
		onBatch()
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.batchSizes = append(f.batchSizes, len(texts))
	f.mu.Unlock()
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0, float32(len(texts[i]))}
	}
	return vecs, nil
}

// fakeCompleter echoes the prompts it was given.
type fakeCompleter struct {
	lastSystem string
	lastUser   string
	reply      string
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	f.lastSystem = systemPrompt
	f.lastUser = userMessage
	return f.reply, nil
}

// fakeFactory hands back the test's embedder and completer.
type fakeFactory struct {
	embedder  core.Embedder
	embErr    error
	completer *fakeCompleter
}

func (f *fakeFactory) Embedder(ctx context.Context, provider, apiKey, model string) (core.Embedder, error) {
	if f.embErr != nil {
		return nil, f.embErr
	}
	return f.embedder, nil
}

func (f *fakeFactory) Completer(ctx context.Context, provider, apiKey, model string) (core.Completer, error) {
	return f.completer, nil
}
