package service

import (
	"context"
	"strings"
	"time"

	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/logger"
)

const defaultEmbedBatchSize = 32

// Vectorizer attaches embeddings to transcript entries.
type Vectorizer struct {
	embedder  Embedder
	batchSize int
}

// NewVectorizer creates a Vectorizer that sends at most batchSize texts per call.
func NewVectorizer(embedder Embedder, batchSize int) *Vectorizer {
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}
	return &Vectorizer{embedder: embedder, batchSize: batchSize}
}

// VectorizeFile embeds every non-blank entry of f in place and returns the
// number of entries embedded. Blank entries are left without an embedding.
func (v *Vectorizer) VectorizeFile(ctx context.Context, f *domain.TranscriptFile) (int, error) {
	start := time.Now()
	entries := f.DiarizedTranscript.Entries

	var (
		positions []int
		texts     []string
	)
	for i, e := range entries {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		positions = append(positions, i)
		texts = append(texts, e.Text)
	}

	for lo := 0; lo < len(texts); lo += v.batchSize {
		hi := min(lo+v.batchSize, len(texts))

		vectors, err := v.embedder.EmbedBatch(ctx, texts[lo:hi])
		if err != nil {
			return 0, err
		}
		for j, vec := range vectors {
			entries[positions[lo+j]].Embedding = vec
		}
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(texts),
		"model":           v.embedder.Model(),
	}).WithDuration(start).Info(ctx, "Transcript vectorized")

	return len(texts), nil
}
