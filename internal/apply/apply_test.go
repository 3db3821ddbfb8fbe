package apply_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/namegnome/serve/internal/apply"
	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/svcerr"
)

func newExecutor(t *testing.T) (*apply.Executor, *cache.Store) {
	t.Helper()
	store, err := cache.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return apply.New(store, nil), store
}

func writeFile(t *testing.T, path, content string) time.Time {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	return info.ModTime()
}

func TestRunCommitsRenameInTransactionalMode(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "Show.S01E01.mkv")
	dst := filepath.Join(root, "Show", "Season 01", "Show - S01E01.mkv")
	modTime := writeFile(t, src, "episode")

	files := []domain.MediaFile{{Path: src, ModTime: modTime}}
	review := domain.PlanReview{
		Items: []domain.PlanItem{{ID: "1", SrcPath: src, Dst: domain.Destination{Path: dst}}},
	}

	executor, _ := newExecutor(t)
	result, err := executor.Run(context.Background(), root, review, files, files, apply.Options{
		Mode: domain.ApplyTransactional, Collision: domain.CollisionSkip,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].Status != domain.ItemCommitted {
		t.Fatalf("Run() items = %+v, want one committed item", result.Items)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("destination %s not created: %v", dst, err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("source %s still exists after commit", src)
	}
}

func TestRunSkipsStaleItem(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "Show.S01E01.mkv")
	dst := filepath.Join(root, "Show - S01E01.mkv")
	writeFile(t, src, "episode")

	original := []domain.MediaFile{{Path: src, ModTime: time.Unix(1000, 0)}}
	current := []domain.MediaFile{{Path: src, ModTime: time.Unix(2000, 0)}}
	review := domain.PlanReview{
		Items: []domain.PlanItem{{ID: "1", SrcPath: src, Dst: domain.Destination{Path: dst}}},
	}

	executor, _ := newExecutor(t)
	result, err := executor.Run(context.Background(), root, review, original, current, apply.Options{
		Mode: domain.ApplyTransactional, Collision: domain.CollisionSkip,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].Status != domain.ItemStale {
		t.Fatalf("Run() items = %+v, want one stale item", result.Items)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("stale item's source should be untouched: %v", err)
	}
}

func TestRunCollisionSkipLeavesBothFilesInPlace(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a.mkv")
	dst := filepath.Join(root, "b.mkv")
	modTime := writeFile(t, src, "a")
	writeFile(t, dst, "existing")

	files := []domain.MediaFile{{Path: src, ModTime: modTime}}
	review := domain.PlanReview{
		Items: []domain.PlanItem{{ID: "1", SrcPath: src, Dst: domain.Destination{Path: dst}}},
	}

	executor, _ := newExecutor(t)
	result, err := executor.Run(context.Background(), root, review, files, files, apply.Options{
		Mode: domain.ApplyTransactional, Collision: domain.CollisionSkip,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Items[0].Status != domain.ItemSkipped {
		t.Fatalf("Run() item status = %v, want skipped", result.Items[0].Status)
	}
	srcContent, _ := os.ReadFile(src)
	dstContent, _ := os.ReadFile(dst)
	if string(srcContent) != "a" || string(dstContent) != "existing" {
		t.Errorf("collision=skip mutated a file it should have left alone")
	}
}

func TestRunTransactionalRollsBackOnFailure(t *testing.T) {
	root := t.TempDir()
	src1 := filepath.Join(root, "one.mkv")
	dst1 := filepath.Join(root, "One.mkv")
	src2 := filepath.Join(root, "missing.mkv") // never created: forces a hard failure
	dst2 := filepath.Join(root, "Two.mkv")
	modTime := writeFile(t, src1, "one")

	files := []domain.MediaFile{{Path: src1, ModTime: modTime}, {Path: src2, ModTime: modTime}}
	review := domain.PlanReview{
		Items: []domain.PlanItem{
			{ID: "1", SrcPath: src1, Dst: domain.Destination{Path: dst1}},
			{ID: "2", SrcPath: src2, Dst: domain.Destination{Path: dst2}},
		},
	}

	executor, _ := newExecutor(t)
	result, err := executor.Run(context.Background(), root, review, files, files, apply.Options{
		Mode: domain.ApplyTransactional, Collision: domain.CollisionSkip,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Items[0].Status != domain.ItemRolledBack {
		t.Errorf("Run() first item status = %v, want rolled_back", result.Items[0].Status)
	}
	if result.Items[1].Status != domain.ItemFailed {
		t.Errorf("Run() second item status = %v, want failed", result.Items[1].Status)
	}
	if _, err := os.Stat(src1); err != nil {
		t.Errorf("rolled-back source %s should exist again: %v", src1, err)
	}
	if _, err := os.Stat(dst1); !os.IsNotExist(err) {
		t.Errorf("rolled-back destination %s should not exist", dst1)
	}
}

func TestRunContinueOnErrorReturnsRollbackToken(t *testing.T) {
	root := t.TempDir()
	src1 := filepath.Join(root, "one.mkv")
	dst1 := filepath.Join(root, "One.mkv")
	src2 := filepath.Join(root, "missing.mkv")
	dst2 := filepath.Join(root, "Two.mkv")
	modTime := writeFile(t, src1, "one")

	files := []domain.MediaFile{{Path: src1, ModTime: modTime}, {Path: src2, ModTime: modTime}}
	review := domain.PlanReview{
		Items: []domain.PlanItem{
			{ID: "1", SrcPath: src1, Dst: domain.Destination{Path: dst1}},
			{ID: "2", SrcPath: src2, Dst: domain.Destination{Path: dst2}},
		},
	}

	executor, _ := newExecutor(t)
	result, err := executor.Run(context.Background(), root, review, files, files, apply.Options{
		Mode: domain.ApplyContinueOnError, Collision: domain.CollisionSkip,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Items[0].Status != domain.ItemCommitted {
		t.Errorf("Run() first item status = %v, want committed", result.Items[0].Status)
	}
	if result.Items[1].Status != domain.ItemFailed {
		t.Errorf("Run() second item status = %v, want failed", result.Items[1].Status)
	}
	if result.RollbackToken == "" {
		t.Fatal("Run() continue-on-error with a committed item, want non-empty RollbackToken")
	}

	rollback, err := executor.Rollback(context.Background(), result.RollbackToken)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if len(rollback.Items) != 1 || rollback.Items[0].Status != domain.ItemRolledBack {
		t.Fatalf("Rollback() items = %+v, want one rolled_back entry", rollback.Items)
	}
	if _, err := os.Stat(src1); err != nil {
		t.Errorf("rollback should have restored %s: %v", src1, err)
	}
}

func TestRunDryRunNeverMutatesFilesystem(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a.mkv")
	dst := filepath.Join(root, "b.mkv")
	modTime := writeFile(t, src, "a")

	files := []domain.MediaFile{{Path: src, ModTime: modTime}}
	review := domain.PlanReview{
		Items: []domain.PlanItem{{ID: "1", SrcPath: src, Dst: domain.Destination{Path: dst}}},
	}

	executor, _ := newExecutor(t)
	result, err := executor.Run(context.Background(), root, review, files, files, apply.Options{
		Mode: domain.ApplyDryRun, Collision: domain.CollisionSkip,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.DryRun {
		t.Error("Run() result.DryRun = false, want true")
	}
	if result.Items[0].Status != domain.ItemCommitted {
		t.Errorf("Run() dry-run item status = %v, want committed (simulated)", result.Items[0].Status)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("dry-run must not move the source file: %v", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("dry-run must not create the destination file")
	}
}

func TestRunReturnsLockedWhenRootAlreadyLocked(t *testing.T) {
	root := t.TempDir()
	executor, store := newExecutor(t)

	ok, _, err := store.AcquireLock(context.Background(), root, "other-owner", time.Hour)
	if err != nil || !ok {
		t.Fatalf("seed AcquireLock failed: ok=%v err=%v", ok, err)
	}

	review := domain.PlanReview{}
	_, err = executor.Run(context.Background(), root, review, nil, nil, apply.Options{
		Mode: domain.ApplyTransactional, Collision: domain.CollisionSkip, Owner: "this-owner",
	})
	if !errors.Is(err, svcerr.ErrLocked) {
		t.Errorf("Run() error = %v, want svcerr.ErrLocked", err)
	}
}
