package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/dkrasnove/kbase/internal/config"
	"github.com/dkrasnove/kbase/internal/core"
	"github.com/dkrasnove/kbase/internal/core/crawler"
	"github.com/dkrasnove/kbase/internal/core/database"
	"github.com/dkrasnove/kbase/internal/core/objectstore"
	"github.com/dkrasnove/kbase/internal/core/provider"
	"github.com/dkrasnove/kbase/internal/core/vector"
	"github.com/dkrasnove/kbase/internal/services"
)

type App struct {
	DBClient core.DbClient
	Store    core.ObjectStore
	Index    core.VectorIndex
	Ingestor *services.Ingestor
	Chat     *services.ChatService
	Server   *Server
	Logger   *slog.Logger
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := database.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("database initialized")

	store, err := objectstore.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("object store initialized")

	index, err := vector.NewIndex(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection, cfg.VectorDim, logger)
	if err != nil {
		return nil, err
	}
	if err := index.EnsureCollection(appCtx); err != nil {
		return nil, err
	}
	logger.Info("vector index ready", "collection", cfg.QdrantCollection)

	providers := provider.NewFactory(logger)
	cr := crawler.New(cfg.CrawlTimeout, cfg.CrawlMaxConcurrent, cfg.CrawlUserAgent, logger)

	ingestor := services.NewIngestor(dbClient, store, index, providers, cr, cfg, logger)
	chat := services.NewChatService(dbClient, index, providers, logger)

	server := NewServer(cfg, dbClient, store, ingestor, chat, logger)

	return &App{
		DBClient: dbClient,
		Store:    store,
		Index:    index,
		Ingestor: ingestor,
		Chat:     chat,
		Server:   server,
		Logger:   logger,
	}, nil
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
