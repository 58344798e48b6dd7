package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/logger"
	"github.com/timmy/vidtalker/internal/repository"
	"golang.org/x/sync/errgroup"
)

// VectorIndex is the remote similarity index backing an IndexManager.
// *repository.QdrantRepository implements it.
type VectorIndex interface {
	Name() string
	Dimension() int
	CollectionState(ctx context.Context) (repository.CollectionState, error)
	CreateCollection(ctx context.Context) (bool, error)
	Count(ctx context.Context) (uint64, error)
	DeleteAll(ctx context.Context) error
	UpsertBatch(ctx context.Context, vectors []domain.IndexedVector) error
	Search(ctx context.Context, vector []float32, topK int) ([]domain.Match, error)
}

// IndexManagerConfig holds readiness and batching settings.
type IndexManagerConfig struct {
	ReadyTimeout  time.Duration
	PollInterval  time.Duration
	BatchSize     int
	UpsertWorkers int
	UpsertRetries int
}

// reloadLocks serializes EnsureIndex/ReplaceAll per index name across all
// managers in the process.
var reloadLocks = &namedLocks{locks: map[string]*sync.Mutex{}}

type namedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (n *namedLocks) get(name string) *sync.Mutex {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.locks[name]
	if !ok {
		l = &sync.Mutex{}
		n.locks[name] = l
	}
	return l
}

// IndexManager owns the lifecycle of one named similarity index:
// provisioning, wholesale reload and search.
type IndexManager struct {
	index VectorIndex
	cfg   IndexManagerConfig

	mu    sync.RWMutex
	state domain.IndexState
}

// NewIndexManager creates an IndexManager. The initial state is Absent
// until EnsureIndex or Refresh observes the remote index.
func NewIndexManager(index VectorIndex, cfg IndexManagerConfig) *IndexManager {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.UpsertWorkers <= 0 {
		cfg.UpsertWorkers = 1
	}
	if cfg.UpsertRetries < 0 {
		cfg.UpsertRetries = 0
	}
	return &IndexManager{index: index, cfg: cfg, state: domain.IndexStateAbsent}
}

// log returns a logger from context tagged with the index name
func (m *IndexManager) log(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldComponent: "index_manager",
		logger.FieldIndex:     m.index.Name(),
	})
}

// Name returns the index name.
func (m *IndexManager) Name() string {
	return m.index.Name()
}

// State returns the last observed readiness state.
func (m *IndexManager) State() domain.IndexState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *IndexManager) setState(s domain.IndexState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// EnsureIndex creates the index if absent and blocks until it accepts
// traffic. Calling it on a ready index is a no-op.
func (m *IndexManager) EnsureIndex(ctx context.Context) error {
	lock := reloadLocks.get(m.index.Name())
	lock.Lock()
	defer lock.Unlock()

	return m.ensureLocked(ctx)
}

func (m *IndexManager) ensureLocked(ctx context.Context) error {
	const op = "index.EnsureIndex"

	if m.State() == domain.IndexStateReady {
		return nil
	}

	st, err := m.index.CollectionState(ctx)
	if err != nil {
		return domain.E(domain.KindIndexNotReady, op, err)
	}
	if st.Exists && st.Ready {
		m.setState(domain.IndexStateReady)
		return nil
	}

	m.setState(domain.IndexStateCreating)
	if !st.Exists {
		m.log(ctx).Infof("Index not found, creating it (dimension=%d, metric=cosine)", m.index.Dimension())
		if _, err := m.index.CreateCollection(ctx); err != nil {
			m.setState(domain.IndexStateAbsent)
			return domain.E(domain.KindIndexNotReady, op, err)
		}
	}

	err = m.waitUntil(ctx, op, func(ctx context.Context) (bool, error) {
		st, err := m.index.CollectionState(ctx)
		if err != nil {
			return false, err
		}
		return st.Exists && st.Ready, nil
	})
	if err != nil {
		m.setState(domain.IndexStateAbsent)
		return err
	}

	m.setState(domain.IndexStateReady)
	m.log(ctx).Info("Index ready")
	return nil
}

// ReplaceAll clears the index and loads vectors in fixed-size batches.
// It returns false, with the index cleared, when vectors is empty.
//
// Batches run in parallel only after the clear has been observed complete.
// Each batch is retried independently; if any batch still fails the
// returned *domain.IndexWriteError lists which batches made it in.
func (m *IndexManager) ReplaceAll(ctx context.Context, vectors []domain.IndexedVector) (bool, error) {
	const op = "index.ReplaceAll"

	lock := reloadLocks.get(m.index.Name())
	lock.Lock()
	defer lock.Unlock()

	if err := m.ensureLocked(ctx); err != nil {
		return false, err
	}

	for _, v := range vectors {
		if len(v.Values) != m.index.Dimension() {
			return false, domain.Errorf(domain.KindIndexWrite, op,
				"vector %s has dimension %d, index %s expects %d", v.ID, len(v.Values), m.index.Name(), m.index.Dimension())
		}
	}

	m.setState(domain.IndexStateClearing)
	// Clearing settles back to Ready however we leave.
	defer m.setState(domain.IndexStateReady)

	if err := m.clear(ctx, op); err != nil {
		return false, err
	}

	if len(vectors) == 0 {
		m.log(ctx).Info("No vectors to upsert")
		return false, nil
	}

	start := time.Now()
	if err := m.upsertBatches(ctx, vectors); err != nil {
		return false, err
	}

	expected := uint64(len(vectors))
	err := m.waitUntil(ctx, op, func(ctx context.Context) (bool, error) {
		n, err := m.index.Count(ctx)
		return n >= expected, err
	})
	if err != nil {
		return false, err
	}

	logger.With(logger.Fields{
		logger.FieldIndex: m.index.Name(),
		logger.FieldCount: len(vectors),
	}).WithDuration(start).Info(ctx, "Index reloaded")
	return true, nil
}

func (m *IndexManager) clear(ctx context.Context, op string) error {
	n, err := m.index.Count(ctx)
	if err != nil {
		return domain.E(domain.KindIndexWrite, op, err)
	}
	if n == 0 {
		return nil
	}

	m.log(ctx).Infof("Index contains %d vectors, clearing", n)
	if err := m.index.DeleteAll(ctx); err != nil {
		return domain.E(domain.KindIndexWrite, op, err)
	}
	return m.waitUntil(ctx, op, func(ctx context.Context) (bool, error) {
		n, err := m.index.Count(ctx)
		return n == 0, err
	})
}

func (m *IndexManager) upsertBatches(ctx context.Context, vectors []domain.IndexedVector) error {
	var batches [][]domain.IndexedVector
	for lo := 0; lo < len(vectors); lo += m.cfg.BatchSize {
		batches = append(batches, vectors[lo:min(lo+m.cfg.BatchSize, len(vectors))])
	}

	var (
		mu        sync.Mutex
		succeeded []int
		failed    = map[int]error{}
	)

	// Workers never return an error so one bad batch does not cancel the rest.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.UpsertWorkers)
	for i, batch := range batches {
		g.Go(func() error {
			err := m.upsertWithRetry(gctx, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[i] = err
				m.log(ctx).WithField(logger.FieldBatch, i).WithError(err).Error("Batch upsert failed")
				return nil
			}
			succeeded = append(succeeded, i)
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		return nil
	}
	sort.Ints(succeeded)
	return &domain.IndexWriteError{
		Index:     m.index.Name(),
		Total:     len(batches),
		Succeeded: succeeded,
		Failed:    failed,
	}
}

func (m *IndexManager) upsertWithRetry(ctx context.Context, batch []domain.IndexedVector) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(m.cfg.UpsertRetries)), ctx)
	return backoff.Retry(func() error {
		return m.index.UpsertBatch(ctx, batch)
	}, b)
}

// Search returns up to topK matches, best first. It fails fast with
// index_not_ready while the index is absent or being created; searches
// during a reload see whatever the index holds at that moment.
func (m *IndexManager) Search(ctx context.Context, vector []float32, topK int) (*domain.QueryResult, error) {
	const op = "index.Search"

	if topK < 1 {
		return nil, domain.Errorf(domain.KindMalformedInput, op, "top_k must be at least 1, got %d", topK)
	}
	if m.State() == domain.IndexStateAbsent {
		m.refresh(ctx)
	}
	switch s := m.State(); s {
	case domain.IndexStateAbsent, domain.IndexStateCreating:
		return nil, domain.Errorf(domain.KindIndexNotReady, op, "index %s is %s", m.index.Name(), s)
	}

	matches, err := m.index.Search(ctx, vector, topK)
	if err != nil {
		return nil, domain.E(domain.KindIndexNotReady, op, fmt.Errorf("search %s: %w", m.index.Name(), err))
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return &domain.QueryResult{Matches: matches}, nil
}

// refresh picks up an index created by another process.
func (m *IndexManager) refresh(ctx context.Context) {
	st, err := m.index.CollectionState(ctx)
	if err != nil {
		m.log(ctx).WithError(err).Warn("Failed to describe index")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == domain.IndexStateAbsent && st.Exists && st.Ready {
		m.state = domain.IndexStateReady
	}
}

// Stats reports the index state and vector count.
func (m *IndexManager) Stats(ctx context.Context) (*domain.IndexStats, error) {
	st, err := m.index.CollectionState(ctx)
	if err != nil {
		return nil, domain.E(domain.KindIndexNotReady, "index.Stats", fmt.Errorf("describe %s: %w", m.index.Name(), err))
	}
	state := m.State()
	if !st.Exists {
		state = domain.IndexStateAbsent
	}
	return &domain.IndexStats{
		Name:        m.index.Name(),
		State:       state,
		Dimension:   m.index.Dimension(),
		VectorCount: st.PointsCount,
	}, nil
}

// waitUntil polls cond every PollInterval until it holds or ReadyTimeout
// elapses, in which case it returns an index_not_ready error.
func (m *IndexManager) waitUntil(ctx context.Context, op string, cond func(context.Context) (bool, error)) error {
	pollCtx, cancel := context.WithTimeout(ctx, m.cfg.ReadyTimeout)
	defer cancel()

	errPending := errors.New("condition not met")
	err := backoff.Retry(func() error {
		ok, err := cond(pollCtx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errPending
		}
		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(m.cfg.PollInterval), pollCtx))

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case pollCtx.Err() != nil || errors.Is(err, errPending):
		return domain.Errorf(domain.KindIndexNotReady, op, "index %s not settled after %s", m.index.Name(), m.cfg.ReadyTimeout)
	default:
		return domain.E(domain.KindIndexNotReady, op, fmt.Errorf("poll failed: %w", err))
	}
}
