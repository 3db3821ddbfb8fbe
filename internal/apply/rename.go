package apply

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/namegnome/serve/internal/domain"
)

// applyItem renames one PlanItem's source to its destination, honoring
// collision and dryRun. It returns the reported outcome and, for a
// committed rename, the rollback entry sufficient to reverse it.
func (e *Executor) applyItem(item domain.PlanItem, collision domain.CollisionStrategy, dryRun bool) (domain.ApplyItemResult, *domain.RollbackEntry, error) {
	src, dst := item.SrcPath, item.Dst.Path
	result := domain.ApplyItemResult{ItemID: item.ID, Src: src, Dst: dst}

	if _, err := os.Stat(src); err != nil {
		result.Status = domain.ItemFailed
		result.Error = fmt.Sprintf("source unavailable: %v", err)
		return result, nil, err
	}

	dstExists := false
	if _, err := os.Stat(dst); err == nil {
		dstExists = true
	} else if !errors.Is(err, os.ErrNotExist) {
		result.Status = domain.ItemFailed
		result.Error = err.Error()
		return result, nil, err
	}

	if dstExists {
		switch collision {
		case domain.CollisionSkip:
			result.Status = domain.ItemSkipped
			return result, nil, nil
		case domain.CollisionOverwrite, domain.CollisionBackup:
			// handled below, inline with the actual rename so dry-run can
			// report the same outcome without mutating anything.
		default:
			result.Status = domain.ItemFailed
			result.Error = fmt.Sprintf("destination exists and collision strategy %q is unset", collision)
			return result, nil, fmt.Errorf("apply: unset collision strategy")
		}
	}

	if dryRun {
		result.Status = domain.ItemCommitted
		return result, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		result.Status = domain.ItemFailed
		result.Error = err.Error()
		return result, nil, err
	}

	if dstExists && collision == domain.CollisionBackup {
		backupPath := dst + ".bak-" + time.Now().UTC().Format("20060102T150405Z")
		if err := os.Rename(dst, backupPath); err != nil {
			result.Status = domain.ItemFailed
			result.Error = fmt.Sprintf("backup existing destination: %v", err)
			return result, nil, err
		}
	} else if dstExists && collision == domain.CollisionOverwrite {
		if err := os.Remove(dst); err != nil {
			result.Status = domain.ItemFailed
			result.Error = fmt.Sprintf("remove existing destination: %v", err)
			return result, nil, err
		}
	}

	if err := os.Rename(src, dst); err != nil {
		if isCrossDevice(err) {
			result.Status = domain.ItemFailed
			result.Error = "cross-device rename not supported"
			return result, nil, fmt.Errorf("apply: cross-device rename %s -> %s: %w", src, dst, err)
		}
		result.Status = domain.ItemFailed
		result.Error = err.Error()
		return result, nil, err
	}

	result.Status = domain.ItemCommitted
	entry := &domain.RollbackEntry{Src: src, Dst: dst, Status: string(domain.ItemCommitted)}
	if info, err := os.Stat(dst); err == nil {
		entry.Inode, _ = fileInode(info)
		entry.MTime = info.ModTime()
	}
	return result, entry, nil
}

// isCrossDevice reports whether err is the EXDEV failure os.Rename returns
// when src and dst live on different filesystems. Per spec.md §4.7,
// cross-device moves are out of scope and must be reported as a hard
// per-item failure rather than silently falling back to copy+delete
// (contrast the teacher's movePathToReview, which does fall back).
func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}
