package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	rediscache "github.com/docsynth/backend/internal/cache/redis"
	"github.com/docsynth/backend/internal/extraction"
	"github.com/docsynth/backend/internal/index"
	"github.com/docsynth/backend/internal/index/snapshot"
	"github.com/docsynth/backend/internal/ingestion"
	"github.com/docsynth/backend/internal/llm"
	"github.com/docsynth/backend/internal/query"
	"github.com/docsynth/backend/internal/retrieval"
	"github.com/docsynth/backend/internal/storage/sqlite"
	"github.com/docsynth/backend/pkg/config"
	appLogger "github.com/docsynth/backend/pkg/logger"
	"github.com/docsynth/backend/pkg/retry"
)

// application holds the wired components shared by every command.
type application struct {
	cfg       *config.Config
	db        *sqlite.Client
	cache     *rediscache.Client
	processor *ingestion.Processor
	// engine is nil for commands that never call the model.
	engine *query.Engine

	closers []io.Closer
}

func newApplication(ctx context.Context, cfg *config.Config, withModel bool) (*application, error) {
	app := &application{cfg: cfg}

	policy := retry.DefaultPolicy()
	policy.Logger = appLogger.GetLogger()

	db, err := retry.DoWithResult(ctx, policy, "sqlite", func(ctx context.Context) (*sqlite.Client, error) {
		return sqlite.NewClient(cfg.SQLite.Path)
	})
	if err != nil {
		return nil, err
	}
	app.db = db
	app.closers = append(app.closers, db)

	if err := db.InitSchema(); err != nil {
		app.Close()
		return nil, err
	}

	store, err := snapshot.NewFileStore(cfg.Index.SnapshotPath())
	if err != nil {
		app.Close()
		return nil, err
	}
	idx, err := index.NewKeywordIndex(cfg.Index.CollectionName, store)
	if err != nil {
		app.Close()
		return nil, err
	}

	var cache ingestion.CacheInvalidator
	var queryCache query.Cache
	if cfg.Cache.Enabled {
		policy := retry.DefaultPolicy()
		policy.MaxAttempts = 3
		policy.Logger = appLogger.GetLogger()

		c, err := rediscache.NewClient(ctx, cfg.Redis, time.Duration(cfg.Cache.TTLSec)*time.Second, policy)
		if err != nil {
			appLogger.Warn("Query cache disabled", zap.Error(err))
		} else {
			app.cache = c
			app.closers = append(app.closers, c)
			cache, queryCache = c, c
		}
	}

	var ocr extraction.OCR = extraction.NoopOCR{}
	if cfg.OCR.Enabled {
		ocr = extraction.NewTesseractOCR(cfg.OCR.TesseractPath, cfg.OCR.PdftoppmPath, cfg.OCR.Language)
	}
	extractor := extraction.NewExtractor(ocr, cfg.Processing.MinPDFTextLength)

	app.processor = ingestion.NewProcessor(db, idx, extractor, cache, cfg.Processing, cfg.Upload)

	if withModel {
		provider, err := llm.NewProvider(ctx, cfg.LLM)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create llm provider: %w", err)
		}
		if c, ok := provider.(io.Closer); ok {
			app.closers = append(app.closers, c)
		}

		coordinator := retrieval.NewCoordinator(idx, db)
		app.engine = query.NewEngine(db, coordinator, llm.NewClient(provider, cfg.LLM), queryCache, cfg.Processing)
	}

	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
