package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/logger"
	"github.com/timmy/vidtalker/internal/prompts"
)

// fragments buffered ahead of a slow consumer
const streamBuffer = 16

// Searcher is the read side of an IndexManager.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int) (*domain.QueryResult, error)
}

// Citation is one retrieved context, numbered per query from 0.
type Citation struct {
	Ordinal   int     `json:"ordinal"`
	VectorID  string  `json:"vector_id"`
	SpeakerID string  `json:"speaker_id"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Timestamp string  `json:"timestamp"`
	Score     float32 `json:"score"`
}

// Answer is the result of AnswerQuestion. Contexts[i] and Citations[i]
// describe the context the model cites as [i].
type Answer struct {
	QuestionID string
	Contexts   []string
	Citations  []Citation
	Stream     *AnswerStream
}

// AnswerEngine answers questions from the indexed transcript.
type AnswerEngine struct {
	embedder    Embedder
	index       Searcher
	chat        ChatModel
	defaultTopK int
}

// NewAnswerEngine creates an AnswerEngine. topK is used when a caller passes 0.
func NewAnswerEngine(embedder Embedder, index Searcher, chat ChatModel, topK int) *AnswerEngine {
	if topK <= 0 {
		topK = 5
	}
	return &AnswerEngine{embedder: embedder, index: index, chat: chat, defaultTopK: topK}
}

// AnswerQuestion retrieves the topK most similar transcript segments and
// starts streaming a cited answer grounded in them.
//
// Retrieval failures are returned as errors. Once streaming has begun,
// model failures arrive as a final human-readable fragment instead.
// When nothing matches, the stream yields prompts.NoMatchAnswer and
// Contexts is empty.
//
// The caller must drain Stream.Fragments() or call Stream.Close().
func (e *AnswerEngine) AnswerQuestion(ctx context.Context, question string, topK int) (*Answer, error) {
	const op = "answer.AnswerQuestion"

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.Errorf(domain.KindMalformedInput, op, "question is empty")
	}
	if topK <= 0 {
		topK = e.defaultTopK
	}

	questionID := uuid.New().String()
	ctx = logger.WithField(ctx, logger.FieldQuestionID, questionID)
	start := time.Now()

	vector, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	result, err := e.index.Search(ctx, vector, topK)
	if err != nil {
		return nil, err
	}

	if result.Empty() {
		logger.CtxInfo(ctx, "No matching transcript segments")
		return &Answer{
			QuestionID: questionID,
			Contexts:   []string{},
			Citations:  []Citation{},
			Stream:     StaticStream(prompts.NoMatchAnswer),
		}, nil
	}

	citations := make([]Citation, len(result.Matches))
	llmBlocks := make([]string, len(result.Matches))
	contexts := make([]string, len(result.Matches))
	for i, m := range result.Matches {
		citations[i] = Citation{
			Ordinal:   i,
			VectorID:  m.ID,
			SpeakerID: m.Metadata.SpeakerID,
			Text:      m.Metadata.Text,
			StartTime: m.Metadata.StartTime,
			EndTime:   m.Metadata.EndTime,
			Timestamp: timestampRange(m.Metadata.StartTime, m.Metadata.EndTime),
			Score:     m.Score,
		}
		llmBlocks[i] = LLMContextBlock(citations[i])
		contexts[i] = DisplayContextBlock(citations[i])
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(citations),
		"top_k":           topK,
	}).WithDuration(start).Info(ctx, "Retrieved transcript context")

	userPrompt := prompts.RAGUserPrompt(strings.Join(llmBlocks, " "), question)
	stream := newAnswerStream(ctx, func(ctx context.Context, emit func(string) error) {
		err := e.chat.Stream(ctx, prompts.RAGSystemPrompt, userPrompt, emit)
		if err == nil || ctx.Err() != nil {
			return
		}
		logger.FromContext(ctx).WithError(err).Error("Answer stream failed")
		_ = emit(streamErrorFragment(err))
	})

	return &Answer{
		QuestionID: questionID,
		Contexts:   contexts,
		Citations:  citations,
		Stream:     stream,
	}, nil
}

func streamErrorFragment(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		err = de.Err
	}
	return fmt.Sprintf("An error occurred while generating a response: %v", err)
}

// LLMContextBlock renders a citation the way the model sees it.
func LLMContextBlock(c Citation) string {
	return fmt.Sprintf("Context [%d] (Timestamp: [%s]):\n%s", c.Ordinal, c.Timestamp, c.Text)
}

// DisplayContextBlock renders a citation for people.
func DisplayContextBlock(c Citation) string {
	return fmt.Sprintf("Speaker %s: \"%s\"\n(Timestamp: [%s])", c.SpeakerID, c.Text, c.Timestamp)
}

func timestampRange(start, end float64) string {
	return FormatTimestamp(start) + " - " + FormatTimestamp(end)
}

// FormatTimestamp renders seconds as HH:MM:SS using floor division.
// Negative and NaN inputs render as 00:00:00.
func FormatTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	s := int64(math.Floor(seconds))
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// AnswerStream is a single-pass, cancellable sequence of answer fragments.
// A producer goroutine pushes fragments; Close stops it without draining.
type AnswerStream struct {
	ch        chan string
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newAnswerStream(parent context.Context, produce func(ctx context.Context, emit func(string) error)) *AnswerStream {
	ctx, cancel := context.WithCancel(parent)
	s := &AnswerStream{
		ch:     make(chan string, streamBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.ch)
		produce(ctx, func(fragment string) error {
			select {
			case s.ch <- fragment:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	return s
}

// StaticStream returns a stream that yields the given fragments and ends.
func StaticStream(fragments ...string) *AnswerStream {
	return newAnswerStream(context.Background(), func(ctx context.Context, emit func(string) error) {
		for _, f := range fragments {
			if emit(f) != nil {
				return
			}
		}
	})
}

// Fragments returns the channel of fragments. It is closed when the answer
// is complete or the stream is closed.
func (s *AnswerStream) Fragments() <-chan string {
	return s.ch
}

// Close stops the producer and releases its upstream connection. It is
// safe to call more than once and after the stream has ended.
func (s *AnswerStream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Collect reads the remaining fragments and returns them concatenated.
func (s *AnswerStream) Collect() string {
	defer s.Close()
	var b strings.Builder
	for f := range s.ch {
		b.WriteString(f)
	}
	return b.String()
}
