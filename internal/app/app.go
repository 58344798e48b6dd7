// Package app wires configuration into the long-lived service graph shared
// by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/timmy/vidtalker/internal/config"
	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/logger"
	"github.com/timmy/vidtalker/internal/repository"
	"github.com/timmy/vidtalker/internal/service"
	"github.com/timmy/vidtalker/internal/storage"
	"gorm.io/gorm"
)

// App holds every component built from one Config. Components are safe
// for concurrent use once New returns.
type App struct {
	Config *config.Config
	Logger *logger.Logger

	DB     *gorm.DB
	Runs   *repository.RunRepository
	Qdrant *repository.QdrantRepository

	Embedder    *service.HTTPEmbedder
	Vectorizer  *service.Vectorizer
	Index       *service.IndexManager
	Chat        service.ChatModel
	Answers     *service.AnswerEngine
	Blog        *service.BlogGenerator
	Transcriber *service.TranscriptionClient
	Acquirer    *service.AudioAcquirer
	Archive     *storage.Archive
	Pipeline    *service.Pipeline
}

// New builds the service graph. Only the index and run store connect
// eagerly; a missing LLM key degrades answering and blog generation to
// model_invocation errors instead of failing startup.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a := &App{Config: cfg, Logger: log}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.Runs = repository.NewRunRepository(db)
	if n, err := a.Runs.MarkStale(ctx); err != nil {
		log.WithError(err).Warn("Failed to mark stale pipeline runs")
	} else if n > 0 {
		log.Warnf("Marked %d interrupted pipeline runs as failed", n)
	}

	a.Qdrant, err = repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Qdrant.Dimension,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize Qdrant repository: %w", err)
	}
	a.Index = service.NewIndexManager(a.Qdrant, service.IndexManagerConfig{
		ReadyTimeout:  cfg.Qdrant.ReadyTimeout,
		PollInterval:  cfg.Qdrant.PollInterval,
		BatchSize:     cfg.Qdrant.BatchSize,
		UpsertWorkers: cfg.Qdrant.UpsertWorkers,
		UpsertRetries: cfg.Qdrant.UpsertRetries,
	})

	a.Embedder, err = service.NewHTTPEmbedder(&service.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Vectorizer = service.NewVectorizer(a.Embedder, cfg.Embedding.BatchSize)

	chat, err := service.NewOpenAIChat(&service.ChatConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		log.WithError(err).Warn("Language model disabled")
		a.Chat = unavailableChat{err: err}
	} else {
		a.Chat = chat
	}
	a.Answers = service.NewAnswerEngine(a.Embedder, a.Index, a.Chat, cfg.RAG.TopK)

	tokens, err := service.NewTiktokenCounter()
	if err != nil {
		log.WithError(err).Warn("Falling back to approximate token counts")
		tokens = service.ApproxTokenCounter{}
	}
	a.Blog = service.NewBlogGenerator(a.Chat, tokens, service.BlogConfig{
		ChunkSize:      cfg.Blog.ChunkSize,
		ChunkOverlap:   cfg.Blog.ChunkOverlap,
		TokenMax:       cfg.Blog.TokenMax,
		SectionDelay:   cfg.Blog.SectionDelay,
		MapConcurrency: cfg.Blog.MapConcurrency,
	})

	a.Transcriber = service.NewTranscriptionClient(service.TranscriptionConfig{
		BaseURL:         cfg.Transcription.BaseURL,
		APIKey:          cfg.Transcription.APIKey,
		PollInterval:    cfg.Transcription.PollInterval,
		MaxWait:         cfg.Transcription.MaxWait,
		WithDiarization: cfg.Transcription.WithDiarization,
		OutputDir:       cfg.Transcription.OutputDir,
		Timeout:         cfg.Transcription.Timeout,
	})
	a.Acquirer = service.NewAudioAcquirer(service.AcquisitionConfig{
		YtDlpPath:  cfg.Acquisition.YtDlpPath,
		FFmpegPath: cfg.Acquisition.FFmpegPath,
		WorkDir:    cfg.Acquisition.WorkDir,
		SampleRate: cfg.Acquisition.SampleRate,
		Timeout:    cfg.Acquisition.Timeout,
	})

	var archiver service.Archiver
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(ctx, &cfg.Storage)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
		a.Archive = storage.NewArchive(store, cfg.Storage.Prefix)
		archiver = a.Archive
	}

	a.Pipeline = service.NewPipeline(a.Acquirer, a.Transcriber, a.Vectorizer, a.Index, a.Runs, archiver)
	return a, nil
}

// Close releases the index connection and the database pool.
func (a *App) Close() {
	if a.Qdrant != nil {
		if err := a.Qdrant.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close Qdrant connection")
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// unavailableChat stands in for a language model that could not be configured.
type unavailableChat struct {
	err error
}

func (u unavailableChat) Complete(context.Context, string, string) (string, error) {
	return "", domain.E(domain.KindModelInvocation, "chat.Complete", u.err)
}

func (u unavailableChat) Stream(context.Context, string, string, func(string) error) error {
	return domain.E(domain.KindModelInvocation, "chat.Stream", u.err)
}

var _ service.ChatModel = unavailableChat{}
