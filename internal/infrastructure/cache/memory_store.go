package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/ports"
)

// MemoryStats is a snapshot of the acceleration layer counters.
type MemoryStats struct {
	Entries       int   `json:"entries"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	PendingWrites int   `json:"pending_writes"`
}

// MemoryStore fronts a durable ports.ObjectStore with an in-process map.
// Reads hit memory first. Saves update memory synchronously and reach the
// durable store through an ordered background writer, so a later save of the
// same key always lands after an earlier one.
type MemoryStore struct {
	durable ports.ObjectStore
	nowFunc func() time.Time

	mu      sync.RWMutex
	entries map[string]any

	hits   atomic.Int64
	misses atomic.Int64

	wmu      sync.Mutex
	writes   []writeOp
	draining bool
	idle     chan struct{}
}

var _ ports.ObjectStore = (*MemoryStore)(nil)

type writeOp struct {
	ctx  context.Context
	key  string
	save func(ctx context.Context) error
}

func NewMemoryStore(durable ports.ObjectStore) *MemoryStore {
	return &MemoryStore{
		durable: durable,
		nowFunc: time.Now,
		entries: make(map[string]any),
	}
}

// Warm loads every durable record into memory. Entries already in memory are
// kept, since they are at least as new as what is on disk.
func (m *MemoryStore) Warm(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	logCtx := logging.WithComponent(ctx, "cache.memory")

	baskets, err := m.durable.AllBaskets(ctx)
	if err != nil {
		return errs.Wrap(err, "warm baskets")
	}
	images, err := m.durable.AllImages(ctx)
	if err != nil {
		return errs.Wrap(err, "warm images")
	}
	prefs, err := m.durable.AllPreferences(ctx)
	if err != nil {
		return errs.Wrap(err, "warm preferences")
	}

	m.mu.Lock()
	for _, b := range baskets {
		m.putIfAbsentLocked(offline.MemoryKey(offline.CollectionBaskets, b.ID), b)
	}
	for _, img := range images {
		m.putIfAbsentLocked(offline.MemoryKey(offline.CollectionImages, img.ID), img)
	}
	for _, p := range prefs {
		m.putIfAbsentLocked(offline.MemoryKey(offline.CollectionUserPreferences, p.Key), p)
	}
	total := len(m.entries)
	m.mu.Unlock()

	logging.Info(logCtx, "memory layer warmed",
		slog.Int("baskets", len(baskets)),
		slog.Int("images", len(images)),
		slog.Int("preferences", len(prefs)),
		slog.Int("entries", total),
	)
	return nil
}

func (m *MemoryStore) SaveBasket(ctx context.Context, basket offline.Basket) (offline.Basket, error) {
	basket.ID = strings.TrimSpace(basket.ID)
	if basket.ID == "" {
		return offline.Basket{}, offline.ErrIDRequired
	}
	basket.LastModified = m.nowFunc().UTC()
	key := offline.MemoryKey(offline.CollectionBaskets, basket.ID)
	m.put(key, basket)
	m.enqueue(ctx, key, func(ctx context.Context) error {
		_, err := m.durable.SaveBasket(ctx, basket)
		return err
	})
	return basket, nil
}

func (m *MemoryStore) GetBasket(ctx context.Context, id string) (offline.Basket, bool, error) {
	id = strings.TrimSpace(id)
	return lookup(ctx, m, offline.MemoryKey(offline.CollectionBaskets, id), func(ctx context.Context) (offline.Basket, bool, error) {
		return m.durable.GetBasket(ctx, id)
	})
}

func (m *MemoryStore) AllBaskets(ctx context.Context) ([]offline.Basket, error) {
	if err := m.Flush(ctx); err != nil {
		return nil, err
	}
	return m.durable.AllBaskets(ctx)
}

func (m *MemoryStore) DeleteBasket(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	return m.remove(ctx, offline.MemoryKey(offline.CollectionBaskets, id), func(ctx context.Context) error {
		return m.durable.DeleteBasket(ctx, id)
	})
}

func (m *MemoryStore) SaveImage(ctx context.Context, image offline.ImageBlob) (offline.ImageBlob, error) {
	image.ID = strings.TrimSpace(image.ID)
	if image.ID == "" {
		return offline.ImageBlob{}, offline.ErrIDRequired
	}
	image.LastModified = m.nowFunc().UTC()
	image.Size = int64(len(image.Data))
	key := offline.MemoryKey(offline.CollectionImages, image.ID)
	m.put(key, image)
	m.enqueue(ctx, key, func(ctx context.Context) error {
		_, err := m.durable.SaveImage(ctx, image)
		return err
	})
	return image, nil
}

func (m *MemoryStore) GetImage(ctx context.Context, id string) (offline.ImageBlob, bool, error) {
	id = strings.TrimSpace(id)
	return lookup(ctx, m, offline.MemoryKey(offline.CollectionImages, id), func(ctx context.Context) (offline.ImageBlob, bool, error) {
		return m.durable.GetImage(ctx, id)
	})
}

func (m *MemoryStore) AllImages(ctx context.Context) ([]offline.ImageBlob, error) {
	if err := m.Flush(ctx); err != nil {
		return nil, err
	}
	return m.durable.AllImages(ctx)
}

func (m *MemoryStore) DeleteImage(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	return m.remove(ctx, offline.MemoryKey(offline.CollectionImages, id), func(ctx context.Context) error {
		return m.durable.DeleteImage(ctx, id)
	})
}

func (m *MemoryStore) SavePreference(ctx context.Context, pref offline.Preference) (offline.Preference, error) {
	pref.Key = strings.TrimSpace(pref.Key)
	if pref.Key == "" {
		return offline.Preference{}, offline.ErrIDRequired
	}
	pref.LastModified = m.nowFunc().UTC()
	key := offline.MemoryKey(offline.CollectionUserPreferences, pref.Key)
	m.put(key, pref)
	m.enqueue(ctx, key, func(ctx context.Context) error {
		_, err := m.durable.SavePreference(ctx, pref)
		return err
	})
	return pref, nil
}

func (m *MemoryStore) GetPreference(ctx context.Context, key string) (offline.Preference, bool, error) {
	key = strings.TrimSpace(key)
	return lookup(ctx, m, offline.MemoryKey(offline.CollectionUserPreferences, key), func(ctx context.Context) (offline.Preference, bool, error) {
		return m.durable.GetPreference(ctx, key)
	})
}

func (m *MemoryStore) AllPreferences(ctx context.Context) ([]offline.Preference, error) {
	if err := m.Flush(ctx); err != nil {
		return nil, err
	}
	return m.durable.AllPreferences(ctx)
}

func (m *MemoryStore) DeletePreference(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	return m.remove(ctx, offline.MemoryKey(offline.CollectionUserPreferences, key), func(ctx context.Context) error {
		return m.durable.DeletePreference(ctx, key)
	})
}

// CleanupOldData flushes pending writes, sweeps the durable store and then
// evicts memory entries older than maxAge.
func (m *MemoryStore) CleanupOldData(ctx context.Context, maxAge time.Duration) (ports.CleanupReport, error) {
	if err := m.Flush(ctx); err != nil {
		return ports.CleanupReport{}, err
	}
	report, err := m.durable.CleanupOldData(ctx, maxAge)
	if err != nil {
		return ports.CleanupReport{}, err
	}
	if maxAge <= 0 {
		maxAge = offline.DefaultRetention
	}
	cutoff := m.nowFunc().Add(-maxAge)

	m.mu.Lock()
	for key, value := range m.entries {
		if lastModified(value).Before(cutoff) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
	return report, nil
}

// Flush blocks until every queued durable write has been attempted.
func (m *MemoryStore) Flush(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	for {
		m.wmu.Lock()
		if !m.draining {
			m.wmu.Unlock()
			return nil
		}
		if m.idle == nil {
			m.idle = make(chan struct{})
		}
		idle := m.idle
		m.wmu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return errs.Wrap(ctx.Err(), "flush memory store")
		}
	}
}

func (m *MemoryStore) Stats() MemoryStats {
	m.mu.RLock()
	entries := len(m.entries)
	m.mu.RUnlock()

	m.wmu.Lock()
	pending := len(m.writes)
	if m.draining {
		pending++
	}
	m.wmu.Unlock()

	return MemoryStats{
		Entries:       entries,
		Hits:          m.hits.Load(),
		Misses:        m.misses.Load(),
		PendingWrites: pending,
	}
}

func lookup[T any](ctx context.Context, m *MemoryStore, key string, load func(context.Context) (T, bool, error)) (T, bool, error) {
	var zero T
	if ctx == nil {
		return zero, false, errors.New("context is required")
	}

	m.mu.RLock()
	value, ok := m.entries[key]
	m.mu.RUnlock()
	if ok {
		if typed, ok := value.(T); ok {
			m.hits.Add(1)
			return typed, true, nil
		}
	}

	m.misses.Add(1)
	rec, found, err := load(ctx)
	if err != nil || !found {
		return zero, found, err
	}

	m.mu.Lock()
	m.putIfAbsentLocked(key, rec)
	m.mu.Unlock()
	return rec, true, nil
}

func (m *MemoryStore) put(key string, value any) {
	m.mu.Lock()
	m.entries[key] = value
	m.mu.Unlock()
}

func (m *MemoryStore) putIfAbsentLocked(key string, value any) {
	if _, ok := m.entries[key]; !ok {
		m.entries[key] = value
	}
}

func (m *MemoryStore) remove(ctx context.Context, key string, del func(context.Context) error) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()

	if err := m.Flush(ctx); err != nil {
		return err
	}
	return del(ctx)
}

func (m *MemoryStore) enqueue(ctx context.Context, key string, save func(context.Context) error) {
	if ctx == nil {
		ctx = context.Background()
	}
	op := writeOp{ctx: context.WithoutCancel(ctx), key: key, save: save}

	m.wmu.Lock()
	m.writes = append(m.writes, op)
	start := !m.draining
	m.draining = true
	m.wmu.Unlock()

	if start {
		go m.drain()
	}
}

func (m *MemoryStore) drain() {
	for {
		m.wmu.Lock()
		if len(m.writes) == 0 {
			m.draining = false
			if m.idle != nil {
				close(m.idle)
				m.idle = nil
			}
			m.wmu.Unlock()
			return
		}
		op := m.writes[0]
		m.writes = m.writes[1:]
		m.wmu.Unlock()

		if err := op.save(op.ctx); err != nil {
			logging.Warn(logging.WithComponent(op.ctx, "cache.memory"), "durable write failed",
				slog.String("key", op.key),
				slog.Any("err", errs.Loggable(err)),
			)
		}
	}
}

func lastModified(value any) time.Time {
	switch v := value.(type) {
	case offline.Basket:
		return v.LastModified
	case offline.ImageBlob:
		return v.LastModified
	case offline.Preference:
		return v.LastModified
	default:
		return time.Time{}
	}
}

// RunCleanup sweeps records older than maxAge every interval until ctx is
// done. A failed sweep is logged and retried on the next tick.
func (m *MemoryStore) RunCleanup(ctx context.Context, interval, maxAge time.Duration) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if interval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	logCtx := logging.WithComponent(ctx, "cache.cleanup")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := m.CleanupOldData(ctx, maxAge)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logging.Warn(logCtx, "scheduled cleanup failed", slog.Any("err", errs.Loggable(err)))
				continue
			}
			logging.Debug(logCtx, "scheduled cleanup done", slog.Int64("removed", report.Total()))
		}
	}
}
