package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"stashworker/internal/domain/offline"
	"stashworker/internal/infrastructure/persistence/sqlite/repository"
	"stashworker/internal/ports"
)

type countingStore struct {
	ports.ObjectStore
	basketReads atomic.Int64
	failSaves   bool
}

func (s *countingStore) GetBasket(ctx context.Context, id string) (offline.Basket, bool, error) {
	s.basketReads.Add(1)
	return s.ObjectStore.GetBasket(ctx, id)
}

func (s *countingStore) SaveBasket(ctx context.Context, b offline.Basket) (offline.Basket, error) {
	if s.failSaves {
		return offline.Basket{}, errors.New("disk full")
	}
	return s.ObjectStore.SaveBasket(ctx, b)
}

func setupDurable(t *testing.T) *repository.ObjectStore {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "stash.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	store := repository.NewObjectStore(db)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return store
}

func TestMemoryStoreWriteThrough(t *testing.T) {
	durable := &countingStore{ObjectStore: setupDurable(t)}
	mem := NewMemoryStore(durable)
	ctx := context.Background()

	if _, err := mem.SaveBasket(ctx, offline.Basket{ID: "b-1", Name: "School fees"}); err != nil {
		t.Fatalf("SaveBasket() error = %v", err)
	}

	got, found, err := mem.GetBasket(ctx, "b-1")
	if err != nil || !found || got.Name != "School fees" {
		t.Fatalf("GetBasket() = %+v, %v, %v", got, found, err)
	}
	if n := durable.basketReads.Load(); n != 0 {
		t.Fatalf("durable reads = %d, want 0 on memory hit", n)
	}

	if err := mem.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	onDisk, found, err := durable.ObjectStore.GetBasket(ctx, "b-1")
	if err != nil || !found || onDisk.Name != "School fees" {
		t.Fatalf("durable GetBasket() = %+v, %v, %v", onDisk, found, err)
	}

	stats := mem.Stats()
	if stats.Hits != 1 || stats.Misses != 0 || stats.Entries != 1 || stats.PendingWrites != 0 {
		t.Fatalf("Stats() = %+v", stats)
	}
}

func TestMemoryStoreMissPopulates(t *testing.T) {
	durable := &countingStore{ObjectStore: setupDurable(t)}
	ctx := context.Background()
	if _, err := durable.ObjectStore.SaveBasket(ctx, offline.Basket{ID: "b-2", Name: "Rent"}); err != nil {
		t.Fatalf("seed basket: %v", err)
	}

	mem := NewMemoryStore(durable)
	for i := 0; i < 3; i++ {
		got, found, err := mem.GetBasket(ctx, "b-2")
		if err != nil || !found || got.Name != "Rent" {
			t.Fatalf("GetBasket() = %+v, %v, %v", got, found, err)
		}
	}
	if n := durable.basketReads.Load(); n != 1 {
		t.Fatalf("durable reads = %d, want 1", n)
	}

	if _, found, err := mem.GetBasket(ctx, "missing"); err != nil || found {
		t.Fatalf("GetBasket(missing) found=%v err=%v", found, err)
	}
}

func TestMemoryStoreDurableFailureKeepsMemory(t *testing.T) {
	durable := &countingStore{ObjectStore: setupDurable(t), failSaves: true}
	mem := NewMemoryStore(durable)
	ctx := context.Background()

	if _, err := mem.SaveBasket(ctx, offline.Basket{ID: "b-3"}); err != nil {
		t.Fatalf("SaveBasket() error = %v", err)
	}
	if err := mem.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if _, found, _ := mem.GetBasket(ctx, "b-3"); !found {
		t.Fatalf("GetBasket() expected memory copy to survive durable failure")
	}
}

func TestMemoryStoreWarmAndDelete(t *testing.T) {
	durable := setupDurable(t)
	ctx := context.Background()
	if _, err := durable.SavePreference(ctx, offline.Preference{Key: "currency", Value: json.RawMessage(`"KES"`)}); err != nil {
		t.Fatalf("seed preference: %v", err)
	}
	if _, err := durable.SaveImage(ctx, offline.ImageBlob{ID: "avatar", Data: []byte{1, 2}}); err != nil {
		t.Fatalf("seed image: %v", err)
	}

	mem := NewMemoryStore(durable)
	if err := mem.Warm(ctx); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if stats := mem.Stats(); stats.Entries != 2 {
		t.Fatalf("Stats().Entries = %d after warm", stats.Entries)
	}

	if err := mem.DeletePreference(ctx, "currency"); err != nil {
		t.Fatalf("DeletePreference() error = %v", err)
	}
	if _, found, err := mem.GetPreference(ctx, "currency"); err != nil || found {
		t.Fatalf("GetPreference() after delete found=%v err=%v", found, err)
	}
	if _, found, _ := durable.GetPreference(ctx, "currency"); found {
		t.Fatalf("durable still has deleted preference")
	}
}

func TestMemoryStoreTrimsKeys(t *testing.T) {
	durable := setupDurable(t)
	mem := NewMemoryStore(durable)
	ctx := context.Background()

	saved, err := mem.SaveBasket(ctx, offline.Basket{ID: " b-1 "})
	if err != nil {
		t.Fatalf("SaveBasket() error = %v", err)
	}
	if saved.ID != "b-1" {
		t.Fatalf("SaveBasket() id = %q, want b-1", saved.ID)
	}
	if _, err := mem.SavePreference(ctx, offline.Preference{Key: "theme ", Value: json.RawMessage(`"dark"`)}); err != nil {
		t.Fatalf("SavePreference() error = %v", err)
	}
	if err := mem.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if _, found, err := mem.GetBasket(ctx, "b-1"); err != nil || !found {
		t.Fatalf("GetBasket(b-1) found=%v err=%v", found, err)
	}
	if err := mem.DeleteBasket(ctx, "b-1"); err != nil {
		t.Fatalf("DeleteBasket() error = %v", err)
	}
	if _, found, _ := mem.GetBasket(ctx, " b-1 "); found {
		t.Fatalf("padded basket still readable after delete")
	}
	if err := mem.DeletePreference(ctx, " theme"); err != nil {
		t.Fatalf("DeletePreference() error = %v", err)
	}
	if _, found, _ := mem.GetPreference(ctx, "theme"); found {
		t.Fatalf("preference still readable after padded delete")
	}
	if stats := mem.Stats(); stats.Entries != 0 {
		t.Fatalf("Stats().Entries = %d, want 0", stats.Entries)
	}
}

func TestMemoryStoreLastSaveWins(t *testing.T) {
	durable := setupDurable(t)
	mem := NewMemoryStore(durable)
	ctx := context.Background()

	for i := int64(1); i <= 20; i++ {
		if _, err := mem.SaveBasket(ctx, offline.Basket{ID: "b-4", CurrentAmount: i}); err != nil {
			t.Fatalf("SaveBasket() error = %v", err)
		}
	}
	if err := mem.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	got, _, err := durable.GetBasket(ctx, "b-4")
	if err != nil {
		t.Fatalf("GetBasket() error = %v", err)
	}
	if got.CurrentAmount != 20 {
		t.Fatalf("durable current_amount = %d, want 20", got.CurrentAmount)
	}
}

func TestMemoryStoreCleanupEvictsStale(t *testing.T) {
	durable := setupDurable(t)
	mem := NewMemoryStore(durable)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.nowFunc = func() time.Time { return start }
	ctx := context.Background()

	if _, err := mem.SaveBasket(ctx, offline.Basket{ID: "old"}); err != nil {
		t.Fatalf("SaveBasket() error = %v", err)
	}
	mem.nowFunc = func() time.Time { return start.Add(10 * 24 * time.Hour) }
	if _, err := mem.CleanupOldData(ctx, 7*24*time.Hour); err != nil {
		t.Fatalf("CleanupOldData() error = %v", err)
	}
	if stats := mem.Stats(); stats.Entries != 0 {
		t.Fatalf("Stats().Entries = %d after cleanup", stats.Entries)
	}
}

func TestMemoryStoreRunCleanup(t *testing.T) {
	durable := setupDurable(t)
	mem := NewMemoryStore(durable)
	ctx := context.Background()

	if err := mem.RunCleanup(ctx, 0, time.Hour); err == nil {
		t.Fatalf("RunCleanup() expected error for zero interval")
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.nowFunc = func() time.Time { return start }
	if _, err := mem.SaveBasket(ctx, offline.Basket{ID: "old"}); err != nil {
		t.Fatalf("SaveBasket() error = %v", err)
	}
	if err := mem.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	mem.nowFunc = func() time.Time { return start.Add(2 * time.Hour) }

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if err := mem.RunCleanup(runCtx, 20*time.Millisecond, time.Hour); err != nil {
		t.Fatalf("RunCleanup() error = %v", err)
	}
	if stats := mem.Stats(); stats.Entries != 0 {
		t.Fatalf("Stats().Entries = %d after scheduled cleanup", stats.Entries)
	}
}
