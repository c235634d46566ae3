package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/autokey/internal/config"
	"github.com/goodtune/autokey/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays 0
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     2,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestStore_GetSet(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	if _, err := store.Get(ctx, storage.KeyActionPrimary); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get on empty store: err = %v, want ErrNotFound", err)
	}

	if err := store.Set(ctx, storage.KeyActionPrimary, "Q"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, storage.KeyActionSecondary, ""); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, storage.KeyActionPrimary)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "Q" {
		t.Errorf("Get() = %q, want Q", got)
	}

	// Empty values are stored, not treated as absent
	got, err = store.Get(ctx, storage.KeyActionSecondary)
	if err != nil {
		t.Fatalf("Get of empty value failed: %v", err)
	}
	if got != "" {
		t.Errorf("Get() = %q, want empty", got)
	}

	if v := mr.HGet(settingsKey, storage.KeyActionPrimary); v != "Q" {
		t.Errorf("hash field = %q, want Q", v)
	}
}

func TestStore_AllAndClear(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	_ = store.Set(ctx, storage.KeyIntervalSeconds, "3")
	_ = store.Set(ctx, storage.KeyAutoStopMinutes, "15")

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 2 || all[storage.KeyIntervalSeconds] != "3" {
		t.Errorf("All() = %v", all)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if mr.Exists(settingsKey) {
		t.Error("settings hash still exists after Clear")
	}

	all, err = store.All(ctx)
	if err != nil {
		t.Fatalf("All after Clear failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("All() after Clear = %v, want empty", all)
	}
}

func TestStore_CadenceThroughRedis(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	_ = store.Set(ctx, storage.KeyActionPrimary, "a")
	_ = store.Set(ctx, storage.KeyIntervalSeconds, "0")

	cadence, err := storage.LoadCadence(ctx, store)
	if err != nil {
		t.Fatalf("LoadCadence failed: %v", err)
	}
	if cadence.Primary != "A" || cadence.Secondary != "E" {
		t.Errorf("tokens = %q/%q, want A/E", cadence.Primary, cadence.Secondary)
	}
	if cadence.Interval != 500*time.Millisecond {
		t.Errorf("Interval = %v, want 500ms", cadence.Interval)
	}
}

func TestStore_ServerDown(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	mr.Close()

	if _, err := store.Get(context.Background(), storage.KeyActionPrimary); err == nil || errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get with server down: err = %v, want connection error", err)
	}
}

func TestOpen_InvalidTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{Host: "localhost", DialTimeout: "never"})
	if err == nil {
		t.Fatal("Open succeeded with invalid dial_timeout")
	}
}
