package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/logger"
	"github.com/timmy/vidtalker/internal/transcript"
)

// AudioSource produces a local audio file for a video URL.
type AudioSource interface {
	FetchAndPrepare(ctx context.Context, url, runID string) (string, error)
}

// Transcriber turns an audio file into a diarized transcript file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// IndexLoader is the write side of an IndexManager.
type IndexLoader interface {
	Name() string
	EnsureIndex(ctx context.Context) error
	ReplaceAll(ctx context.Context, vectors []domain.IndexedVector) (bool, error)
}

// RunStore persists pipeline runs.
type RunStore interface {
	Create(ctx context.Context, run *domain.PipelineRun) error
	Update(ctx context.Context, run *domain.PipelineRun) error
}

// Archiver copies run artifacts somewhere durable.
type Archiver interface {
	ArchiveRun(ctx context.Context, runID string, paths ...string) ([]string, error)
}

// Pipeline runs acquire → transcribe → vectorize → index for one URL.
type Pipeline struct {
	audio       AudioSource
	transcriber Transcriber
	vectorizer  *Vectorizer
	index       IndexLoader
	runs        RunStore
	archive     Archiver
}

// NewPipeline creates a Pipeline. runs and archive may be nil.
func NewPipeline(audio AudioSource, transcriber Transcriber, vectorizer *Vectorizer, index IndexLoader, runs RunStore, archive Archiver) *Pipeline {
	return &Pipeline{
		audio:       audio,
		transcriber: transcriber,
		vectorizer:  vectorizer,
		index:       index,
		runs:        runs,
		archive:     archive,
	}
}

// ProcessVideo runs every stage for url. The first failing stage aborts
// the run; the returned run records how far it got either way.
func (p *Pipeline) ProcessVideo(ctx context.Context, url string) (*domain.PipelineRun, error) {
	now := time.Now()
	run := &domain.PipelineRun{
		ID:        uuid.New().String(),
		URL:       url,
		Status:    domain.RunStatusRunning,
		IndexName: p.index.Name(),
		StartedAt: &now,
	}
	ctx = logger.SetRunID(ctx, run.ID)
	p.save(ctx, run, true)

	logger.CtxInfo(ctx, "Processing URL: %s", url)
	err := p.execute(ctx, run)

	completed := time.Now()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = domain.RunStatusFailed
		run.ErrorKind = string(domain.KindOf(err))
		run.ErrorMessage = err.Error()
		logger.With(logger.Fields{logger.FieldStage: run.Stage}).WithDuration(now).
			Error(ctx, "Pipeline failed: %v", err)
	} else {
		run.Status = domain.RunStatusCompleted
		logger.With(logger.Fields{logger.FieldCount: run.VectorCount}).WithDuration(now).
			Info(ctx, "Pipeline complete")
	}
	p.save(ctx, run, false)

	return run, err
}

func (p *Pipeline) execute(ctx context.Context, run *domain.PipelineRun) error {
	p.enter(ctx, run, domain.StageAcquire)
	audioPath, err := p.audio.FetchAndPrepare(ctx, run.URL, run.ID)
	if err != nil {
		return err
	}
	run.AudioPath = audioPath

	p.enter(ctx, run, domain.StageTranscribe)
	transcriptPath, err := p.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return err
	}
	run.TranscriptFile = transcriptPath

	p.enter(ctx, run, domain.StageVectorize)
	file, err := transcript.Load(transcriptPath)
	if err != nil {
		return err
	}
	run.EntryCount = len(file.Entries())
	if run.EntryCount == 0 {
		return domain.Errorf(domain.KindTranscription, "pipeline.ProcessVideo", "transcript %s has no entries", transcriptPath)
	}
	if _, err := p.vectorizer.VectorizeFile(ctx, file); err != nil {
		return err
	}
	embeddedPath := transcript.EmbeddedPath(transcriptPath)
	if err := transcript.Save(embeddedPath, file); err != nil {
		return domain.E(domain.KindEmbedding, "pipeline.ProcessVideo", err)
	}
	run.EmbeddedFile = embeddedPath

	p.enter(ctx, run, domain.StageIndex)
	vectors, err := transcript.ToVectors(file)
	if err != nil {
		return err
	}
	if err := p.index.EnsureIndex(ctx); err != nil {
		return err
	}
	loaded, err := p.index.ReplaceAll(ctx, vectors)
	if err != nil {
		return err
	}
	if loaded {
		run.VectorCount = len(vectors)
	} else {
		logger.CtxWarn(ctx, "No vectors to upsert")
	}

	if p.archive != nil {
		p.enter(ctx, run, domain.StageArchive)
		// archive failures do not fail a run whose index is already loaded
		if _, err := p.archive.ArchiveRun(ctx, run.ID, audioPath, transcriptPath, embeddedPath); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to archive run artifacts")
		}
	}
	return nil
}

func (p *Pipeline) enter(ctx context.Context, run *domain.PipelineRun, stage string) {
	run.Stage = stage
	logger.FromContext(ctx).WithField(logger.FieldStage, stage).Info("Stage started")
	p.save(ctx, run, false)
}

// save records progress; a broken run store must not break the pipeline.
func (p *Pipeline) save(ctx context.Context, run *domain.PipelineRun, create bool) {
	if p.runs == nil {
		return
	}
	var err error
	if create {
		err = p.runs.Create(context.WithoutCancel(ctx), run)
	} else {
		err = p.runs.Update(context.WithoutCancel(ctx), run)
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to record pipeline run")
	}
}
