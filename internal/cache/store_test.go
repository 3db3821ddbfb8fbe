package cache_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/config"
	"github.com/namegnome/serve/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.CacheDBPath = filepath.Join(base, "cache.db")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.LockDir = filepath.Join(base, "locks")
	return &cfg
}

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testConfig(t)
	store, err := cache.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	entity := domain.ProviderEntity{
		Provider:   "tvdb",
		Type:       domain.MediaTV,
		ExtID:      "12345",
		TitleNorm:  "danger mouse",
		TitleRaw:   "Danger Mouse",
		Year:       2015,
		Metadata:   map[string]any{"episode_count": float64(52)},
		FetchedAt:  time.Now().UTC(),
		TTLSeconds: 2592000,
	}
	if err := store.PutEntity(ctx, entity); err != nil {
		t.Fatalf("PutEntity failed: %v", err)
	}

	got, ok, err := store.GetEntity(ctx, "tvdb", domain.MediaTV, "12345")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if !ok {
		t.Fatal("expected entity to be found")
	}
	if got.TitleRaw != "Danger Mouse" || got.Year != 2015 {
		t.Fatalf("unexpected entity: %#v", got)
	}
}

func TestCacheBlobTTLIsSoft(t *testing.T) {
	cfg := testConfig(t)
	store, err := cache.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	if err := store.PutCacheBlob(ctx, "tvdb:token", []byte("payload"), -1*time.Second); err != nil {
		t.Fatalf("PutCacheBlob failed: %v", err)
	}

	blob, ok, err := store.GetCacheBlob(ctx, "tvdb:token")
	if err != nil {
		t.Fatalf("GetCacheBlob failed: %v", err)
	}
	if !ok {
		t.Fatal("expected stale blob to still be returned (P6)")
	}
	if !blob.Stale {
		t.Fatal("expected Stale=true for an expired blob")
	}
	if string(blob.Payload) != "payload" {
		t.Fatalf("unexpected payload: %q", blob.Payload)
	}
}

func TestAcquireLockExclusivity(t *testing.T) {
	cfg := testConfig(t)
	store, err := cache.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	acquired, _, err := store.AcquireLock(ctx, "root:/media/tv", "job-1", 5*time.Second)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("expected first acquire to succeed")
	}

	acquired, current, err := store.AcquireLock(ctx, "root:/media/tv", "job-2", 5*time.Second)
	if err != nil {
		t.Fatalf("AcquireLock (second) failed: %v", err)
	}
	if acquired {
		t.Fatal("expected second acquire on a live lock to fail (P7)")
	}
	if current.Owner != "job-1" {
		t.Fatalf("expected current owner job-1, got %q", current.Owner)
	}

	if err := store.ReleaseLock(ctx, "root:/media/tv", "job-1"); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	acquired, _, err = store.AcquireLock(ctx, "root:/media/tv", "job-2", 5*time.Second)
	if err != nil {
		t.Fatalf("AcquireLock (after release) failed: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestAcquireLockStealsOrphan(t *testing.T) {
	cfg := testConfig(t)
	store, err := cache.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	if _, _, err := store.AcquireLock(ctx, "root:/media/movies", "dead-job", 0); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	acquired, _, err := store.AcquireLock(ctx, "root:/media/movies", "new-job", time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireLock (steal) failed: %v", err)
	}
	if !acquired {
		t.Fatal("expected orphaned lock to be stolen once staleAfter elapses")
	}
}

func TestDecisionPersistsAcrossPlans(t *testing.T) {
	cfg := testConfig(t)
	store, err := cache.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	if err := store.PutDecision(ctx, domain.Decision{
		Scope:     "tv",
		TitleNorm: "danger mouse",
		Year:      domain.YearUnknown,
		Provider:  "tvdb",
		ExtID:     "12345",
	}); err != nil {
		t.Fatalf("PutDecision failed: %v", err)
	}

	got, ok, err := store.GetDecision(ctx, "tv", "danger mouse", domain.YearUnknown)
	if err != nil {
		t.Fatalf("GetDecision failed: %v", err)
	}
	if !ok {
		t.Fatal("expected decision to be found")
	}
	if got.ExtID != "12345" {
		t.Fatalf("unexpected ext_id: %q", got.ExtID)
	}
}
