package models

import (
	"time"
)

// Document statuses. A document only moves forward through these; failed is
// terminal.
const (
	DocumentStatusUploading  = "uploading"
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusFailed     = "failed"
)

// Crawl job statuses, same forward-only rules as documents.
const (
	CrawlStatusPending   = "pending"
	CrawlStatusRunning   = "running"
	CrawlStatusCompleted = "completed"
	CrawlStatusFailed    = "failed"
)

// Source types recorded in the chunk ledger.
const (
	SourceTypeDocument  = "document"
	SourceTypeCrawlPage = "crawl_page"
)

// Crawl modes.
const (
	CrawlTypeSitemap = "sitemap"
	CrawlTypeFull    = "full"
)

// ProviderOllama is local and needs no API key.
const ProviderOllama = "ollama"

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Document represents one uploaded file undergoing ingestion.
type Document struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	FileName     string     `db:"file_name" json:"file_name"`
	StorageKey   string     `db:"storage_key" json:"storage_key"`
	ContentType  string     `db:"content_type" json:"content_type"`
	SizeBytes    int64      `db:"size_bytes" json:"size_bytes"`
	Status       string     `db:"status" json:"status"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// CrawlJob represents one sitemap or full-site crawl request.
type CrawlJob struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	URL            string     `db:"url" json:"url"`
	CrawlType      string     `db:"crawl_type" json:"crawl_type"`
	Status         string     `db:"status" json:"status"`
	PagesFound     int        `db:"pages_found" json:"pages_found"`
	PagesProcessed int        `db:"pages_processed" json:"pages_processed"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// DocumentChunk is one ledger row mapping a stored vector point back to its
// source. chunk_index is dense from 0 within (source_type, source_id).
type DocumentChunk struct {
	ID         string    `db:"id" json:"id"`
	SourceType string    `db:"source_type" json:"source_type"`
	SourceID   string    `db:"source_id" json:"source_id"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	Content    string    `db:"content" json:"content"`
	PointID    string    `db:"point_id" json:"point_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Settings holds the active provider configuration used for embedding and
// completion. A single row; credential resolution happens here, not in the
// pipeline.
type Settings struct {
	Provider       string    `db:"provider" json:"provider"`
	Model          string    `db:"model" json:"model"`
	EmbeddingModel string    `db:"embedding_model" json:"embedding_model"`
	APIKey         string    `db:"api_key" json:"-"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// HasEmbeddingCredential reports whether the settings are usable for
// generating embeddings. Ollama runs locally, so it is the one provider that
// needs no key.
func (s *Settings) HasEmbeddingCredential() bool {
	if s == nil || s.Provider == "" || s.EmbeddingModel == "" {
		return false
	}
	return s.APIKey != "" || s.Provider == ProviderOllama
}

// HasChatCredential reports whether the settings are usable for chat
// completions, with the same ollama exception.
func (s *Settings) HasChatCredential() bool {
	if s == nil || s.Provider == "" || s.Model == "" {
		return false
	}
	return s.APIKey != "" || s.Provider == ProviderOllama
}

var documentRank = map[string]int{
	DocumentStatusUploading:  0,
	DocumentStatusProcessing: 1,
	DocumentStatusReady:      2,
}

var crawlRank = map[string]int{
	CrawlStatusPending:   0,
	CrawlStatusRunning:   1,
	CrawlStatusCompleted: 2,
}

// CanTransitionDocument reports whether a document status change is legal:
// forward-only, failed terminal and reachable from anywhere.
func CanTransitionDocument(from, to string) bool {
	return canTransition(documentRank, from, to)
}

// CanTransitionCrawl reports whether a crawl job status change is legal.
func CanTransitionCrawl(from, to string) bool {
	return canTransition(crawlRank, from, to)
}

func canTransition(rank map[string]int, from, to string) bool {
	if from == DocumentStatusFailed { // "failed" is shared by both machines
		return false
	}
	if to == DocumentStatusFailed {
		return true
	}
	fr, ok := rank[from]
	if !ok {
		return false
	}
	tr, ok := rank[to]
	if !ok {
		return false
	}
	return tr > fr
}
