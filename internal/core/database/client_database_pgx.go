package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dkrasnove/kbase/internal/config"
	"github.com/dkrasnove/kbase/internal/core"
	"github.com/dkrasnove/kbase/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`
	_, err := c.db.ExecContext(ctx, q, user.ID, user.Email, user.PasswordHash, nullableTime(user.CreatedAt))
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, email, password_hash, created_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, user_id, file_name, storage_key, content_type, size_bytes, status, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.FileName, doc.StorageKey, doc.ContentType, doc.SizeBytes, doc.Status, nullableTime(doc.CreatedAt))
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, user_id, file_name, storage_key, content_type, size_bytes, status, error_message, created_at, processed_at
		FROM documents
		WHERE id = $1
	`
	var d models.Document
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.UserID, &d.FileName, &d.StorageKey, &d.ContentType, &d.SizeBytes, &d.Status, &d.ErrorMessage, &d.CreatedAt, &d.ProcessedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	const q = `
		SELECT id, user_id, file_name, storage_key, content_type, size_bytes, status, error_message, created_at, processed_at
		FROM documents
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.FileName, &d.StorageKey, &d.ContentType, &d.SizeBytes, &d.Status, &d.ErrorMessage, &d.CreatedAt, &d.ProcessedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDocumentStatus applies a status transition under a row lock so the
// forward-only rule holds even when the API and a worker race.
func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("document not found: %s", id)
	}
	if err != nil {
		return err
	}
	if !models.CanTransitionDocument(current, status) {
		return fmt.Errorf("illegal document transition %s -> %s", current, status)
	}

	const q = `
		UPDATE documents
		SET status = $2,
		    error_message = $3,
		    processed_at = CASE WHEN $2 IN ('ready', 'failed') THEN now() ELSE processed_at END
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, q, id, status, errMsg); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetDocumentForRescan is the one legal backwards move: a ready document
// returns to processing so the pipeline can run again.
func (c *DatabaseClient) ResetDocumentForRescan(ctx context.Context, id string) error {
	const q = `
		UPDATE documents
		SET status = 'processing', error_message = '', processed_at = NULL
		WHERE id = $1 AND status = 'ready'
	`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s is not ready for rescan", id)
	}
	return nil
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

// Crawl jobs

func (c *DatabaseClient) CreateCrawlJob(ctx context.Context, job *models.CrawlJob) error {
	if job == nil {
		return errors.New("nil crawl job")
	}
	const q = `
		INSERT INTO crawl_jobs
			(id, user_id, url, crawl_type, status, started_at)
		VALUES
			($1, $2, $3, $4, $5, COALESCE($6, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		job.ID, job.UserID, job.URL, job.CrawlType, job.Status, nullableTime(job.StartedAt))
	return err
}

func (c *DatabaseClient) GetCrawlJobByID(ctx context.Context, id string) (*models.CrawlJob, error) {
	const q = `
		SELECT id, user_id, url, crawl_type, status, pages_found, pages_processed, error_message, started_at, completed_at
		FROM crawl_jobs
		WHERE id = $1
	`
	var j models.CrawlJob
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&j.ID, &j.UserID, &j.URL, &j.CrawlType, &j.Status, &j.PagesFound, &j.PagesProcessed, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *DatabaseClient) ListCrawlJobsByUser(ctx context.Context, userID string) ([]models.CrawlJob, error) {
	const q = `
		SELECT id, user_id, url, crawl_type, status, pages_found, pages_processed, error_message, started_at, completed_at
		FROM crawl_jobs
		WHERE user_id = $1
		ORDER BY started_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CrawlJob
	for rows.Next() {
		var j models.CrawlJob
		if err := rows.Scan(
			&j.ID, &j.UserID, &j.URL, &j.CrawlType, &j.Status, &j.PagesFound, &j.PagesProcessed, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateCrawlJobStatus(ctx context.Context, id, status, errMsg string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM crawl_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("crawl job not found: %s", id)
	}
	if err != nil {
		return err
	}
	if !models.CanTransitionCrawl(current, status) {
		return fmt.Errorf("illegal crawl transition %s -> %s", current, status)
	}

	const q = `
		UPDATE crawl_jobs
		SET status = $2,
		    error_message = $3,
		    completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE completed_at END
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, q, id, status, errMsg); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *DatabaseClient) SetCrawlPagesFound(ctx context.Context, id string, n int) error {
	_, err := c.db.ExecContext(ctx, `UPDATE crawl_jobs SET pages_found = $2 WHERE id = $1`, id, n)
	return err
}

func (c *DatabaseClient) SetCrawlPagesProcessed(ctx context.Context, id string, n int) error {
	_, err := c.db.ExecContext(ctx, `UPDATE crawl_jobs SET pages_processed = $2 WHERE id = $1`, id, n)
	return err
}

// Chunk ledger

// InsertChunks writes a batch of ledger rows in one transaction; either all
// land or none do.
func (c *DatabaseClient) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, source_type, source_id, chunk_index, content, point_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.SourceType, ch.SourceID, ch.ChunkIndex, ch.Content, ch.PointID, nullableTime(ch.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) ChunksBySource(ctx context.Context, sourceType, sourceID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, source_type, source_id, chunk_index, content, point_id, created_at
		FROM document_chunks
		WHERE source_type = $1 AND source_id = $2
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var ch models.DocumentChunk
		if err := rows.Scan(
			&ch.ID, &ch.SourceType, &ch.SourceID, &ch.ChunkIndex, &ch.Content, &ch.PointID, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// DeleteChunksBySource removes every ledger row for a source and returns the
// point ids that were referenced, so the caller can sweep the vector index.
func (c *DatabaseClient) DeleteChunksBySource(ctx context.Context, sourceType, sourceID string) ([]string, error) {
	const q = `
		DELETE FROM document_chunks
		WHERE source_type = $1 AND source_id = $2
		RETURNING point_id
	`
	rows, err := c.db.QueryContext(ctx, q, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pointIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pointIDs = append(pointIDs, id)
	}
	return pointIDs, rows.Err()
}

// Settings

func (c *DatabaseClient) GetSettings(ctx context.Context) (*models.Settings, error) {
	const q = `
		SELECT provider, model, embedding_model, api_key, updated_at
		FROM settings WHERE id = 1
	`
	var s models.Settings
	err := c.db.QueryRowContext(ctx, q).Scan(&s.Provider, &s.Model, &s.EmbeddingModel, &s.APIKey, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *DatabaseClient) UpdateSettings(ctx context.Context, s *models.Settings) error {
	if s == nil {
		return errors.New("nil settings")
	}
	const q = `
		UPDATE settings
		SET provider = $1, model = $2, embedding_model = $3, api_key = $4, updated_at = now()
		WHERE id = 1
	`
	_, err := c.db.ExecContext(ctx, q, s.Provider, s.Model, s.EmbeddingModel, s.APIKey)
	return err
}

// nullableTime lets inserts fall back to the database's now() when the model
// carries a zero time.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
