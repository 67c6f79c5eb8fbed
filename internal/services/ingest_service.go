package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dkrasnove/kbase/internal/config"
	"github.com/dkrasnove/kbase/internal/core"
	"github.com/dkrasnove/kbase/internal/core/crawler"
	"github.com/dkrasnove/kbase/internal/core/extract"
	"github.com/dkrasnove/kbase/internal/models"
)

// embedBatchSize bounds one embedding request; providers reject oversized
// batches.
const embedBatchSize = 100

var ErrEmbeddingNotConfigured = errors.New("no embedding provider configured in settings")

// Ingestor runs the ingestion pipeline for documents and crawl jobs:
// extract, chunk, embed, index, record in the ledger, advance status.
type Ingestor struct {
	db        core.DbClient
	store     core.ObjectStore
	index     core.VectorIndex
	providers core.ProviderFactory
	crawler   *crawler.Crawler
	cfg       *config.Config
	logger    *slog.Logger
}

func NewIngestor(db core.DbClient, store core.ObjectStore, index core.VectorIndex, providers core.ProviderFactory, cr *crawler.Crawler, cfg *config.Config, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		db:        db,
		store:     store,
		index:     index,
		providers: providers,
		crawler:   cr,
		cfg:       cfg,
		logger:    logger.With("component", "ingestor"),
	}
}

// StartDocumentIngestion kicks off processing in the background. The upload
// request returns immediately; a panic in the worker marks the document
// failed instead of crashing the process.
func (p *Ingestor) StartDocumentIngestion(docID string) {
	go func() {
		ctx := context.Background()
		defer p.recoverTo(ctx, func(msg string) {
			p.failDocument(ctx, docID, msg)
		})
		if err := p.ProcessDocument(ctx, docID); err != nil {
			p.logger.Error("document ingestion failed", "document_id", docID, "error", err)
		}
	}()
}

// StartCrawl runs a crawl job in the background, same guarantees as
// StartDocumentIngestion.
func (p *Ingestor) StartCrawl(jobID string) {
	go func() {
		ctx := context.Background()
		defer p.recoverTo(ctx, func(msg string) {
			p.failCrawl(ctx, jobID, msg)
		})
		if err := p.RunCrawl(ctx, jobID); err != nil {
			p.logger.Error("crawl failed", "job_id", jobID, "error", err)
		}
	}()
}

// StartRescan re-ingests a ready document in the background.
func (p *Ingestor) StartRescan(docID string) {
	go func() {
		ctx := context.Background()
		defer p.recoverTo(ctx, func(msg string) {
			p.failDocument(ctx, docID, msg)
		})
		if err := p.RescanDocument(ctx, docID); err != nil {
			p.logger.Error("document rescan failed", "document_id", docID, "error", err)
		}
	}()
}

func (p *Ingestor) recoverTo(ctx context.Context, fail func(msg string)) {
	if r := recover(); r != nil {
		p.logger.Error("ingestion worker panicked", "panic", r)
		fail(fmt.Sprintf("internal error: %v", r))
	}
}

// ProcessDocument runs the full pipeline for a freshly uploaded document.
func (p *Ingestor) ProcessDocument(ctx context.Context, docID string) error {
	doc, err := p.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("document not found: %s", docID)
	}

	if doc.Status == models.DocumentStatusUploading {
		if err := p.db.UpdateDocumentStatus(ctx, docID, models.DocumentStatusProcessing, ""); err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
	}

	if err := p.ingestDocument(ctx, doc); err != nil {
		p.failDocument(ctx, docID, err.Error())
		return err
	}
	return nil
}

// RescanDocument clears a ready document's chunks from the ledger and the
// vector index, then runs the pipeline again. The new run always gets fresh
// point ids.
func (p *Ingestor) RescanDocument(ctx context.Context, docID string) error {
	doc, err := p.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("document not found: %s", docID)
	}
	if err := p.db.ResetDocumentForRescan(ctx, docID); err != nil {
		return err
	}
	if err := p.clearSource(ctx, models.SourceTypeDocument, docID); err != nil {
		p.failDocument(ctx, docID, err.Error())
		return err
	}

	if err := p.ingestDocument(ctx, doc); err != nil {
		p.failDocument(ctx, docID, err.Error())
		return err
	}
	return nil
}

// DeleteDocument removes the ledger rows, the indexed vectors, the stored
// object, and finally the row itself. Vector and object cleanup are best
// effort; the ledger delete is the source of truth.
func (p *Ingestor) DeleteDocument(ctx context.Context, docID string) error {
	doc, err := p.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("document not found: %s", docID)
	}

	if err := p.clearSource(ctx, models.SourceTypeDocument, docID); err != nil {
		return err
	}
	if doc.StorageKey != "" {
		if err := p.store.Delete(ctx, doc.StorageKey); err != nil {
			p.logger.Warn("object delete failed", "document_id", docID, "key", doc.StorageKey, "error", err)
		}
	}
	return p.db.DeleteDocument(ctx, docID)
}

func (p *Ingestor) clearSource(ctx context.Context, sourceType, sourceID string) error {
	pointIDs, err := p.db.DeleteChunksBySource(ctx, sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("clear chunk ledger: %w", err)
	}
	if err := p.index.DeletePoints(ctx, pointIDs); err != nil {
		// Orphaned points are unreachable once the ledger rows are gone.
		p.logger.Warn("vector delete failed", "source_type", sourceType, "source_id", sourceID, "error", err)
	}
	return nil
}

func (p *Ingestor) ingestDocument(ctx context.Context, doc *models.Document) error {
	data, err := p.store.Download(ctx, doc.StorageKey)
	if err != nil {
		return fmt.Errorf("download %s: %w", doc.StorageKey, err)
	}

	text, err := extract.Text(ctx, data, doc.ContentType, doc.FileName)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	chunks := extract.ChunkText(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		p.logger.Info("document produced no chunks", "document_id", doc.ID)
		return p.db.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusReady, "")
	}

	embedder, err := p.embedderFromSettings(ctx)
	if err != nil {
		return err
	}

	points, rows, err := p.embedChunks(ctx, embedder, chunks, models.SourceTypeDocument, doc.ID, 0)
	if err != nil {
		return err
	}

	// The document may have been deleted while we were embedding; a late
	// commit would leave orphans the ledger can never clean up.
	current, err := p.db.GetDocumentByID(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("re-check document: %w", err)
	}
	if current == nil {
		p.logger.Info("document deleted mid-ingestion, abandoning", "document_id", doc.ID)
		return nil
	}

	if err := p.index.UpsertPoints(ctx, points); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	if err := p.db.InsertChunks(ctx, rows); err != nil {
		return fmt.Errorf("record chunks: %w", err)
	}
	return p.db.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusReady, "")
}

// RunCrawl fetches the site, then ingests page by page. A page that fails to
// fetch is skipped; an embedding or indexing failure fails the whole job.
func (p *Ingestor) RunCrawl(ctx context.Context, jobID string) error {
	job, err := p.db.GetCrawlJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load crawl job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("crawl job not found: %s", jobID)
	}

	if err := p.db.UpdateCrawlJobStatus(ctx, jobID, models.CrawlStatusRunning, ""); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	pages, err := p.crawler.Crawl(ctx, job.URL, job.CrawlType)
	if err != nil {
		p.failCrawl(ctx, jobID, err.Error())
		return err
	}
	if err := p.db.SetCrawlPagesFound(ctx, jobID, len(pages)); err != nil {
		p.failCrawl(ctx, jobID, err.Error())
		return fmt.Errorf("record pages found: %w", err)
	}

	embedder, err := p.embedderFromSettings(ctx)
	if err != nil {
		p.failCrawl(ctx, jobID, err.Error())
		return err
	}

	// chunk_index stays dense across the whole job, so the offset carries
	// over from page to page.
	offset := 0
	processed := 0
	for _, page := range pages {
		content := strings.TrimSpace(page.Title + "\n" + page.Text)
		chunks := extract.ChunkText(content, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
		if len(chunks) > 0 {
			points, rows, err := p.embedChunks(ctx, embedder, chunks, models.SourceTypeCrawlPage, jobID, offset)
			if err != nil {
				p.failCrawl(ctx, jobID, err.Error())
				return err
			}
			if err := p.index.UpsertPoints(ctx, points); err != nil {
				p.failCrawl(ctx, jobID, err.Error())
				return fmt.Errorf("index page %s: %w", page.URL, err)
			}
			if err := p.db.InsertChunks(ctx, rows); err != nil {
				p.failCrawl(ctx, jobID, err.Error())
				return fmt.Errorf("record page %s: %w", page.URL, err)
			}
			offset += len(chunks)
		}
		processed++
		if err := p.db.SetCrawlPagesProcessed(ctx, jobID, processed); err != nil {
			p.failCrawl(ctx, jobID, err.Error())
			return fmt.Errorf("record pages processed: %w", err)
		}
	}

	return p.db.UpdateCrawlJobStatus(ctx, jobID, models.CrawlStatusCompleted, "")
}

// embedChunks embeds in provider-sized batches and pairs each vector with a
// fresh point id and its ledger row.
func (p *Ingestor) embedChunks(ctx context.Context, embedder core.Embedder, chunks []string, sourceType, sourceID string, indexOffset int) ([]core.Point, []models.DocumentChunk, error) {
	points := make([]core.Point, 0, len(chunks))
	rows := make([]models.DocumentChunk, 0, len(chunks))

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		vectors, err := embedder.EmbedTexts(ctx, batch)
		if err != nil {
			return nil, nil, fmt.Errorf("embed batch: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}
		for i, vec := range vectors {
			pointID := uuid.NewString()
			points = append(points, core.Point{ID: pointID, Vector: vec, Content: batch[i]})
			rows = append(rows, models.DocumentChunk{
				ID:         uuid.NewString(),
				SourceType: sourceType,
				SourceID:   sourceID,
				ChunkIndex: indexOffset + start + i,
				Content:    batch[i],
				PointID:    pointID,
			})
		}
	}
	return points, rows, nil
}

func (p *Ingestor) embedderFromSettings(ctx context.Context) (core.Embedder, error) {
	settings, err := p.db.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if settings == nil || !settings.HasEmbeddingCredential() {
		return nil, ErrEmbeddingNotConfigured
	}
	return p.providers.Embedder(ctx, settings.Provider, settings.APIKey, settings.EmbeddingModel)
}

func (p *Ingestor) failDocument(ctx context.Context, docID, msg string) {
	if err := p.db.UpdateDocumentStatus(ctx, docID, models.DocumentStatusFailed, msg); err != nil {
		p.logger.Error("could not mark document failed", "document_id", docID, "error", err)
	}
}

func (p *Ingestor) failCrawl(ctx context.Context, jobID, msg string) {
	if err := p.db.UpdateCrawlJobStatus(ctx, jobID, models.CrawlStatusFailed, msg); err != nil {
		p.logger.Error("could not mark crawl failed", "job_id", jobID, "error", err)
	}
}
