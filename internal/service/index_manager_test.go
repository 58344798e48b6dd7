package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/transcript"
)

func testManagerConfig() IndexManagerConfig {
	return IndexManagerConfig{
		ReadyTimeout:  time.Second,
		PollInterval:  5 * time.Millisecond,
		BatchSize:     100,
		UpsertWorkers: 3,
		UpsertRetries: 1,
	}
}

func makeVectors(prefix string, n, dim int) []domain.IndexedVector {
	out := make([]domain.IndexedVector, n)
	for i := range out {
		values := make([]float32, dim)
		values[i%dim] = 1
		out[i] = domain.IndexedVector{
			ID:       fmt.Sprintf("%s_%d", prefix, i),
			Values:   values,
			Metadata: domain.VectorMetadata{Text: fmt.Sprintf("text %d", i), SpeakerID: "1"},
		}
	}
	return out
}

func TestEnsureIndexIsIdempotent(t *testing.T) {
	idx := newMemIndex(8)
	idx.readyAfter = 2
	m := NewIndexManager(idx, testManagerConfig())
	ctx := context.Background()

	require.NoError(t, m.EnsureIndex(ctx))
	require.NoError(t, m.EnsureIndex(ctx))

	assert.Equal(t, 1, idx.creates)
	assert.Equal(t, domain.IndexStateReady, m.State())
}

func TestEnsureIndexTimesOut(t *testing.T) {
	idx := newMemIndex(8)
	idx.name = "never-ready"
	idx.readyAfter = 1 << 30
	cfg := testManagerConfig()
	cfg.ReadyTimeout = 50 * time.Millisecond
	m := NewIndexManager(idx, cfg)

	err := m.EnsureIndex(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindIndexNotReady), "got %v", err)
	assert.Equal(t, domain.IndexStateAbsent, m.State())
}

func TestReplaceAllEmptyClearsAndReturnsFalse(t *testing.T) {
	idx := newMemIndex(8)
	m := NewIndexManager(idx, testManagerConfig())
	ctx := context.Background()

	loaded, err := m.ReplaceAll(ctx, makeVectors("old", 5, 8))
	require.NoError(t, err)
	require.True(t, loaded)

	loaded, err = m.ReplaceAll(ctx, nil)
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Equal(t, domain.IndexStateReady, m.State())

	n, _ := idx.Count(ctx)
	assert.Zero(t, n)
}

func TestReplaceAllClearsBeforeInserting(t *testing.T) {
	idx := newMemIndex(8)
	m := NewIndexManager(idx, testManagerConfig())
	ctx := context.Background()

	_, err := m.ReplaceAll(ctx, makeVectors("old", 40, 8))
	require.NoError(t, err)

	loaded, err := m.ReplaceAll(ctx, makeVectors("new", 250, 8))
	require.NoError(t, err)
	assert.True(t, loaded)

	ops := idx.opsSnapshot()
	deleteAt := -1
	for i, op := range ops {
		if op == "delete" {
			deleteAt = i
		}
	}
	require.NotEqual(t, -1, deleteAt, "second reload must clear the index")
	newUpserts := 0
	for i, op := range ops {
		if strings.HasPrefix(op, "upsert:new_") {
			newUpserts++
			assert.Greater(t, i, deleteAt, "upsert %s ran before clear", op)
		}
	}
	assert.Equal(t, 3, newUpserts)

	n, _ := idx.Count(ctx)
	assert.EqualValues(t, 250, n)
	for id := range idx.points {
		assert.True(t, strings.HasPrefix(id, "new_"), "stale vector %s survived", id)
	}
}

func TestReplaceAllRejectsWrongDimension(t *testing.T) {
	idx := newMemIndex(8)
	m := NewIndexManager(idx, testManagerConfig())

	_, err := m.ReplaceAll(context.Background(), makeVectors("v", 3, 4))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindIndexWrite))
}

func TestReplaceAllRetriesTransientBatchFailure(t *testing.T) {
	idx := newMemIndex(8)
	idx.failUpsert = func(first string, attempt int) error {
		if first == "v_100" && attempt == 1 {
			return errors.New("temporarily unavailable")
		}
		return nil
	}
	m := NewIndexManager(idx, testManagerConfig())

	loaded, err := m.ReplaceAll(context.Background(), makeVectors("v", 250, 8))
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, 2, idx.attempts["v_100"])
}

func TestReplaceAllReportsPartialFailure(t *testing.T) {
	idx := newMemIndex(8)
	idx.failUpsert = func(first string, _ int) error {
		if first == "v_100" {
			return errors.New("quota exceeded")
		}
		return nil
	}
	m := NewIndexManager(idx, testManagerConfig())

	loaded, err := m.ReplaceAll(context.Background(), makeVectors("v", 250, 8))
	require.Error(t, err)
	assert.False(t, loaded)
	assert.True(t, domain.IsKind(err, domain.KindIndexWrite))

	var iw *domain.IndexWriteError
	require.True(t, errors.As(err, &iw))
	assert.Equal(t, 3, iw.Total)
	assert.Equal(t, []int{0, 2}, iw.Succeeded)
	assert.Equal(t, []int{1}, iw.FailedBatches())
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestReplaceAllSerializesConcurrentReloads(t *testing.T) {
	idx := newMemIndex(8)
	idx.name = "concurrent-reload"
	idx.onUpsert = func([]domain.IndexedVector) { time.Sleep(2 * time.Millisecond) }
	cfg := testManagerConfig()
	cfg.BatchSize = 10
	// two managers on the same index name share the reload lock
	a := NewIndexManager(idx, cfg)
	b := NewIndexManager(idx, cfg)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := a.ReplaceAll(context.Background(), makeVectors("a", 50, 8))
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := b.ReplaceAll(context.Background(), makeVectors("b", 50, 8))
		assert.NoError(t, err)
	}()
	wg.Wait()

	var prefixes []byte
	for _, op := range idx.opsSnapshot() {
		if strings.HasPrefix(op, "upsert:") {
			p := op[len("upsert:")]
			if len(prefixes) == 0 || prefixes[len(prefixes)-1] != p {
				prefixes = append(prefixes, p)
			}
		}
	}
	assert.Len(t, prefixes, 2, "reloads interleaved: %s", prefixes)

	n, _ := idx.Count(context.Background())
	assert.EqualValues(t, 50, n)
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := newMemIndex(8)
	m := NewIndexManager(idx, testManagerConfig())
	require.NoError(t, m.EnsureIndex(context.Background()))

	result, err := m.Search(context.Background(), make([]float32, 8), 3)
	require.NoError(t, err)
	assert.True(t, result.Empty())
}

func TestSearchFailsFastWhenAbsent(t *testing.T) {
	m := NewIndexManager(newMemIndex(8), testManagerConfig())

	_, err := m.Search(context.Background(), make([]float32, 8), 3)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindIndexNotReady))
}

func TestSearchPicksUpExistingIndex(t *testing.T) {
	idx := newMemIndex(8)
	idx.exists = true
	m := NewIndexManager(idx, testManagerConfig())

	_, err := m.Search(context.Background(), make([]float32, 8), 3)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStateReady, m.State())
}

func TestSearchRejectsNonPositiveTopK(t *testing.T) {
	idx := newMemIndex(8)
	m := NewIndexManager(idx, testManagerConfig())
	ctx := context.Background()
	_, err := m.ReplaceAll(ctx, makeVectors("v", 3, 8))
	require.NoError(t, err)

	for _, topK := range []int{0, -1, -100} {
		t.Run(fmt.Sprint(topK), func(t *testing.T) {
			_, err := m.Search(ctx, make([]float32, 8), topK)
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindMalformedInput))
		})
	}
	assert.Zero(t, idx.searchCalls)
}

func TestBackendFailuresAreClassified(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex(8)
	m := NewIndexManager(idx, testManagerConfig())
	require.NoError(t, m.EnsureIndex(ctx))

	idx.searchErr = errors.New("rpc error: code = Unavailable desc = connection refused")
	_, err := m.Search(ctx, make([]float32, 8), 3)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindIndexNotReady))
	assert.Contains(t, err.Error(), "Unavailable")

	idx.stateErr = errors.New("rpc error: code = Unavailable desc = connection refused")
	_, err = m.Stats(ctx)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindIndexNotReady))
	assert.Contains(t, err.Error(), "test-index")
}

func TestSelfRetrieval(t *testing.T) {
	ctx := context.Background()
	embedder := newHashEmbedder(64)
	idx := newMemIndex(64)
	m := NewIndexManager(idx, testManagerConfig())

	file := &domain.TranscriptFile{DiarizedTranscript: domain.DiarizedTranscript{Entries: []domain.TranscriptEntry{
		{Index: 0, SpeakerID: "1", Text: "intro", StartTime: 0, EndTime: 4.5},
		{Index: 1, SpeakerID: "2", Text: "middle point", StartTime: 5, EndTime: 9.25},
		{Index: 2, SpeakerID: "1", Text: "conclusion", StartTime: 10, EndTime: 12},
	}}}
	n, err := NewVectorizer(embedder, 2).VectorizeFile(ctx, file)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	vectors, err := transcript.ToVectors(file)
	require.NoError(t, err)
	loaded, err := m.ReplaceAll(ctx, vectors)
	require.NoError(t, err)
	require.True(t, loaded)

	q, err := embedder.Embed(ctx, "middle point")
	require.NoError(t, err)
	result, err := m.Search(ctx, q, 1)
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)

	top := result.Matches[0]
	assert.Equal(t, "entry_1", top.ID)
	assert.Equal(t, "middle point", top.Metadata.Text)
	assert.Equal(t, 5.0, top.Metadata.StartTime)
	assert.Equal(t, 9.25, top.Metadata.EndTime)
}

func TestStats(t *testing.T) {
	idx := newMemIndex(8)
	m := NewIndexManager(idx, testManagerConfig())
	ctx := context.Background()

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStateAbsent, stats.State)

	_, err = m.ReplaceAll(ctx, makeVectors("v", 7, 8))
	require.NoError(t, err)
	stats, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStateReady, stats.State)
	assert.EqualValues(t, 7, stats.VectorCount)
	assert.Equal(t, 8, stats.Dimension)
}
