package core

import (
	"context"

	"github.com/dkrasnove/kbase/internal/models"
)

// DbClient defines all persistence operations the services need. It abstracts
// Postgres so higher layers never depend on a specific driver, and so the
// pipeline is testable with in-memory fakes.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	// UpdateDocumentStatus applies a status transition. Illegal transitions
	// (backwards, or out of failed) are rejected.
	UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error
	// ResetDocumentForRescan moves a ready document back to processing so it
	// can be re-ingested. This is the only sanctioned backwards move.
	ResetDocumentForRescan(ctx context.Context, id string) error
	DeleteDocument(ctx context.Context, id string) error

	CreateCrawlJob(ctx context.Context, job *models.CrawlJob) error
	GetCrawlJobByID(ctx context.Context, id string) (*models.CrawlJob, error)
	ListCrawlJobsByUser(ctx context.Context, userID string) ([]models.CrawlJob, error)
	UpdateCrawlJobStatus(ctx context.Context, id, status, errMsg string) error
	SetCrawlPagesFound(ctx context.Context, id string, n int) error
	SetCrawlPagesProcessed(ctx context.Context, id string, n int) error

	InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error
	ChunksBySource(ctx context.Context, sourceType, sourceID string) ([]models.DocumentChunk, error)
	// DeleteChunksBySource removes all ledger rows for a source and returns
	// the vector point ids they referenced, so the caller can clean up the
	// index afterwards.
	DeleteChunksBySource(ctx context.Context, sourceType, sourceID string) ([]string, error)

	GetSettings(ctx context.Context) (*models.Settings, error)
	UpdateSettings(ctx context.Context, s *models.Settings) error

	Close() error
}

// ObjectStore defines interactions with S3 or any S3-compatible blob store.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Point is one vector plus its chunk text, addressed by a random id.
type Point struct {
	ID      string
	Vector  []float32
	Content string
}

// SearchResult is one similarity hit from the vector index.
type SearchResult struct {
	PointID string
	Score   float32
	Content string
}

// VectorIndex maintains the single collection in the external vector
// database.
type VectorIndex interface {
	EnsureCollection(ctx context.Context) error
	// UpsertPoints writes all points in one logical call. An empty slice is a
	// no-op.
	UpsertPoints(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)
	// DeletePoints removes points by id. An empty slice is a no-op.
	DeletePoints(ctx context.Context, ids []string) error
}
