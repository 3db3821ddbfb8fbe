package apply

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/logging"
	"github.com/namegnome/serve/internal/svcerr"
)

func rollbackCacheKey(reportID string) string { return "rollback:" + reportID }

func (e *Executor) persistRollbackManifest(ctx context.Context, mode string, entries []domain.RollbackEntry) (string, error) {
	manifest := domain.RollbackManifest{
		ReportID:  "rbk_" + uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Mode:      mode,
		Entries:   entries,
	}
	payload, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("marshal rollback manifest: %w", err)
	}
	if err := e.store.PutCacheBlob(ctx, rollbackCacheKey(manifest.ReportID), payload, rollbackTTL); err != nil {
		return "", fmt.Errorf("persist rollback manifest: %w", err)
	}
	return manifest.ReportID, nil
}

// rollbackEntries undoes committed renames in reverse order without
// persisting or loading a manifest — used for the transactional mode's
// immediate self-rollback on first hard failure (spec.md §4.7).
func (e *Executor) rollbackEntries(ctx context.Context, entries []domain.RollbackEntry) {
	for i := len(entries) - 1; i >= 0; i-- {
		if err := e.undoEntry(entries[i]); err != nil {
			e.logger.Warn("transactional rollback step failed; filesystem may not match pre-apply state",
				logging.String(logging.FieldEventType, "rollback_step_failed"),
				logging.String("src", entries[i].Src), logging.String("dst", entries[i].Dst),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect the two paths manually"),
				logging.String(logging.FieldImpact, "this rename was not reverted"),
			)
		}
	}
}

// Rollback implements spec.md §4.7's undo path for a continue-on-error
// apply's rollback_token: entries undo in reverse commit order, verifying
// the recorded inode is still present at dst before restoring; a missing
// or changed inode reports rollback_skipped rather than clobbering
// whatever now occupies that path.
func (e *Executor) Rollback(ctx context.Context, reportID string) (domain.ApplyResult, error) {
	blob, ok, err := e.store.GetCacheBlob(ctx, rollbackCacheKey(reportID))
	if err != nil {
		return domain.ApplyResult{}, fmt.Errorf("apply: load rollback manifest %s: %w", reportID, err)
	}
	if !ok {
		return domain.ApplyResult{}, svcerr.Wrap(svcerr.ErrNotFound, "apply", "rollback", "unknown rollback token "+reportID, nil)
	}
	var manifest domain.RollbackManifest
	if err := json.Unmarshal(blob.Payload, &manifest); err != nil {
		return domain.ApplyResult{}, fmt.Errorf("apply: decode rollback manifest %s: %w", reportID, err)
	}

	result := domain.ApplyResult{RollbackToken: reportID}
	for i := len(manifest.Entries) - 1; i >= 0; i-- {
		entry := manifest.Entries[i]
		item := domain.ApplyItemResult{Src: entry.Dst, Dst: entry.Src}
		if err := e.undoEntry(entry); err != nil {
			if os.IsNotExist(err) || err == errInodeMismatch {
				item.Status = domain.ItemRollbackSkipped
				item.Error = err.Error()
			} else {
				item.Status = domain.ItemFailed
				item.Error = err.Error()
			}
		} else {
			item.Status = domain.ItemRolledBack
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

var errInodeMismatch = fmt.Errorf("recorded inode no longer present at destination")

func (e *Executor) undoEntry(entry domain.RollbackEntry) error {
	info, err := os.Stat(entry.Dst)
	if err != nil {
		return err
	}
	if ino, ok := fileInode(info); ok && entry.Inode != 0 && ino != entry.Inode {
		return errInodeMismatch
	}
	if err := os.MkdirAll(filepath.Dir(entry.Src), 0o755); err != nil {
		return err
	}
	return os.Rename(entry.Dst, entry.Src)
}
