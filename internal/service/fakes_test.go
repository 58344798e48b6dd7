package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/repository"
)

// memIndex is an in-memory VectorIndex with cosine search.
type memIndex struct {
	mu sync.Mutex

	name      string
	dimension int
	exists    bool
	// number of CollectionState calls after creation before the index reports ready
	readyAfter int
	stateCalls int
	creates    int

	points map[string]domain.IndexedVector
	ops    []string

	// failUpsert decides whether an upsert of a batch starting with id fails
	failUpsert func(firstID string, attempt int) error
	attempts   map[string]int
	onUpsert   func(batch []domain.IndexedVector)

	searchErr   error
	stateErr    error
	searchCalls int
}

func newMemIndex(dimension int) *memIndex {
	return &memIndex{
		name:      "test-index",
		dimension: dimension,
		points:    map[string]domain.IndexedVector{},
		attempts:  map[string]int{},
	}
}

func (m *memIndex) Name() string   { return m.name }
func (m *memIndex) Dimension() int { return m.dimension }

func (m *memIndex) CollectionState(context.Context) (repository.CollectionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateErr != nil {
		return repository.CollectionState{}, m.stateErr
	}
	if !m.exists {
		return repository.CollectionState{}, nil
	}
	m.stateCalls++
	return repository.CollectionState{
		Exists:      true,
		Ready:       m.stateCalls > m.readyAfter,
		PointsCount: uint64(len(m.points)),
		VectorSize:  uint64(m.dimension),
	}, nil
}

func (m *memIndex) CreateCollection(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exists {
		return false, nil
	}
	m.exists = true
	m.creates++
	m.stateCalls = 0
	m.ops = append(m.ops, "create")
	return true, nil
}

func (m *memIndex) Count(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.points)), nil
}

func (m *memIndex) DeleteAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = map[string]domain.IndexedVector{}
	m.ops = append(m.ops, "delete")
	return nil
}

func (m *memIndex) UpsertBatch(_ context.Context, batch []domain.IndexedVector) error {
	if m.onUpsert != nil {
		m.onUpsert(batch)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	first := batch[0].ID
	m.attempts[first]++
	if m.failUpsert != nil {
		if err := m.failUpsert(first, m.attempts[first]); err != nil {
			return err
		}
	}
	for _, v := range batch {
		m.points[v.ID] = v
	}
	m.ops = append(m.ops, "upsert:"+first)
	return nil
}

func (m *memIndex) Search(_ context.Context, vector []float32, topK int) ([]domain.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	matches := make([]domain.Match, 0, len(m.points))
	for _, p := range m.points {
		matches = append(matches, domain.Match{ID: p.ID, Score: cosine(vector, p.Values), Metadata: p.Metadata})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *memIndex) opsSnapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// hashEmbedder is a deterministic bag-of-words embedder.
type hashEmbedder struct {
	mu    sync.Mutex
	dims  int
	calls int
	err   error
}

func newHashEmbedder(dims int) *hashEmbedder {
	return &hashEmbedder{dims: dims}
}

func (e *hashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(e.dims)]++
	}
	return v
}

func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *hashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, domain.E(domain.KindEmbedding, "fake.EmbedBatch", e.err)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *hashEmbedder) Dimensions() int { return e.dims }
func (e *hashEmbedder) Model() string   { return "hash" }

func (e *hashEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// scriptedChat answers Complete calls with reply and streams fragments,
// optionally failing with streamErr afterwards.
type scriptedChat struct {
	mu sync.Mutex

	reply     func(system, user string) (string, error)
	fragments []string
	streamErr error
	// endless makes Stream emit until the context is cancelled
	endless bool
	stopped chan struct{}

	system      string
	user        string
	streamCalls int
	prompts     []string
}

func (c *scriptedChat) Complete(_ context.Context, system, user string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, user)
	c.mu.Unlock()
	if c.reply == nil {
		return "", errors.New("no reply scripted")
	}
	return c.reply(system, user)
}

func (c *scriptedChat) Stream(ctx context.Context, system, user string, emit func(string) error) error {
	c.mu.Lock()
	c.system, c.user = system, user
	c.streamCalls++
	c.mu.Unlock()

	if c.endless {
		defer close(c.stopped)
		for i := 0; ; i++ {
			if err := emit(fmt.Sprintf("tok%d ", i)); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	for _, f := range c.fragments {
		if err := emit(f); err != nil {
			return err
		}
	}
	return c.streamErr
}

func (c *scriptedChat) promptsWith(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}
