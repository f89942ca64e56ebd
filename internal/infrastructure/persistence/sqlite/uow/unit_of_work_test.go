package uow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"stashworker/internal/domain/offline"
	"stashworker/internal/infrastructure/cache"
	"stashworker/internal/infrastructure/persistence/sqlite/model"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "uow.sqlite")), &gorm.Config{})
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
	if err := db.AutoMigrate(&model.PendingAction{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	db := setupDB(t)
	u := NewUnitOfWork(db)
	kv := cache.NewSQLiteCache(db)
	ctx := context.Background()

	if err := u.WithTx(ctx, func(txCtx context.Context) error {
		return kv.Set(txCtx, offline.QueueStorageKey, "[]", 0)
	}); err != nil {
		t.Fatalf("WithTx(commit) error = %v", err)
	}

	boom := errors.New("boom")
	err := u.WithTx(ctx, func(txCtx context.Context) error {
		if err := kv.Set(txCtx, offline.QueueStorageKey, "[changed]", 0); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx(rollback) error = %v", err)
	}

	value, found, err := kv.Get(ctx, offline.QueueStorageKey)
	if err != nil || !found || value != "[]" {
		t.Fatalf("Get() = %q, %v, %v; want committed value", value, found, err)
	}
}

func TestWithTxNestedRollbackKeepsOuter(t *testing.T) {
	db := setupDB(t)
	u := NewUnitOfWork(db)
	kv := cache.NewSQLiteCache(db)
	ctx := context.Background()

	err := u.WithTx(ctx, func(outer context.Context) error {
		if err := kv.Set(outer, "outer", "kept", 0); err != nil {
			return err
		}
		inner := u.WithTx(outer, func(innerCtx context.Context) error {
			if err := kv.Set(innerCtx, "inner", "dropped", 0); err != nil {
				return err
			}
			return errors.New("inner failed")
		})
		if inner == nil {
			t.Errorf("inner WithTx() expected error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	if _, found, _ := kv.Get(ctx, "outer"); !found {
		t.Fatalf("outer write missing after commit")
	}
	if _, found, _ := kv.Get(ctx, "inner"); found {
		t.Fatalf("inner write survived its rollback")
	}
}

func TestWithTxCancelledContext(t *testing.T) {
	u := NewUnitOfWork(setupDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := u.WithTx(ctx, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("WithTx() expected error for cancelled context")
	}
}
