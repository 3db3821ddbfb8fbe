// Package apply implements C7: the apply executor that turns an approved
// domain.PlanReview into renamed files on disk. Grounded on the teacher's
// internal/organizer package — same-device atomic rename, EXDEV detection,
// and review-style diversion for failed items, generalized from "move an
// encoded rip into the Jellyfin library" to "commit a PlanReview's renames
// with rollback."
package apply

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/logging"
	"github.com/namegnome/serve/internal/svcerr"
)

// lockFileName is the filesystem half of the two-layer per-root lock
// spec.md §4.7 requires; the cache-row half is internal/cache/locks.go.
const lockFileName = ".namegnome.lock"

// rollbackTTL bounds how long a committed Apply's rollback manifest stays
// undoable, mirroring the >=90 day retention policy spec.md §3 sets for
// Decision rows.
const rollbackTTL = 90 * 24 * time.Hour

// Options configures one Run invocation.
type Options struct {
	Mode      domain.ApplyMode
	Collision domain.CollisionStrategy
	Owner     string        // lock owner identity, e.g. the job_id
	StaleAfter time.Duration // orphaned-lock recovery window
}

// Executor is C7: per-root locking, pre-flight staleness verification,
// atomic rename, and rollback-manifest persistence.
type Executor struct {
	store  *cache.Store
	logger *slog.Logger
}

// New constructs an Executor. logger may be nil.
func New(store *cache.Store, logger *slog.Logger) *Executor {
	return &Executor{store: store, logger: logging.NewComponentLogger(orNop(logger), "apply")}
}

func orNop(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return logging.NewNop()
	}
	return logger
}

// Run applies review against root. originalFiles is the scan snapshot the
// plan was built from; currentFiles is a fresh re-scan taken immediately
// before Run is called. Per spec.md §4.7, Run re-verifies the plan hasn't
// gone stale before touching the filesystem, then renames each PlanItem in
// order, honoring opts.Mode and opts.Collision.
func (e *Executor) Run(ctx context.Context, root string, review domain.PlanReview, originalFiles, currentFiles []domain.MediaFile, opts Options) (domain.ApplyResult, error) {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.Owner == "" {
		opts.Owner = "apply-" + uuid.NewString()
	}

	release, err := e.acquireRootLock(ctx, root, opts.Owner, opts.StaleAfter)
	if err != nil {
		return domain.ApplyResult{}, err
	}
	defer release()

	staleSet := staleSourcePaths(review, originalFiles, currentFiles)

	dryRun := opts.Mode == domain.ApplyDryRun
	result := domain.ApplyResult{
		PlanID: review.PlanID,
		Mode:   opts.Mode,
		DryRun: dryRun,
	}

	var committed []domain.RollbackEntry
	aborted := false

	for _, item := range review.Items {
		if aborted {
			result.Items = append(result.Items, domain.ApplyItemResult{
				ItemID: item.ID, Src: item.SrcPath, Dst: item.Dst.Path,
				Status: domain.ItemSkipped, Error: "not attempted: transactional apply aborted",
			})
			continue
		}

		if staleSet[item.SrcPath] {
			result.Items = append(result.Items, domain.ApplyItemResult{
				ItemID: item.ID, Src: item.SrcPath, Dst: item.Dst.Path, Status: domain.ItemStale,
			})
			continue
		}

		outcome, entry, err := e.applyItem(item, opts.Collision, dryRun)
		result.Items = append(result.Items, outcome)
		if err != nil {
			e.logger.Warn("apply item failed",
				logging.String(logging.FieldEventType, "apply_item_failed"),
				logging.String("src", item.SrcPath), logging.String("dst", item.Dst.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check filesystem permissions and destination collisions"),
				logging.String(logging.FieldImpact, "this file was not renamed"),
			)
			if opts.Mode == domain.ApplyTransactional {
				aborted = true
				e.rollbackEntries(ctx, committed)
				for i := range result.Items {
					if result.Items[i].Status == domain.ItemCommitted {
						result.Items[i].Status = domain.ItemRolledBack
					}
				}
				committed = nil
			}
			continue
		}
		if entry != nil {
			committed = append(committed, *entry)
		}
	}

	if !dryRun && len(committed) > 0 && opts.Mode == domain.ApplyContinueOnError {
		token, err := e.persistRollbackManifest(ctx, string(opts.Mode), committed)
		if err != nil {
			e.logger.Warn("failed to persist rollback manifest; committed renames cannot be auto-reverted",
				logging.Error(err),
				logging.String(logging.FieldEventType, "rollback_manifest_persist_failed"),
				logging.String(logging.FieldErrorHint, "check cache database access"),
				logging.String(logging.FieldImpact, "apply rollback will not find a token for this run"),
			)
		} else {
			result.RollbackToken = token
		}
	}

	return result, nil
}

func (e *Executor) acquireRootLock(ctx context.Context, root, owner string, staleAfter time.Duration) (func(), error) {
	fileLock := flock.New(filepath.Join(root, lockFileName))
	locked, err := fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, svcerr.Wrap(svcerr.ErrLocked, "apply", "acquire file lock", err.Error(), err)
	}
	if !locked {
		return nil, svcerr.Wrap(svcerr.ErrLocked, "apply", "acquire file lock", "root is locked by another process", nil)
	}

	ok, holder, err := e.store.AcquireLock(ctx, root, owner, staleAfter)
	if err != nil {
		_ = fileLock.Unlock()
		return nil, fmt.Errorf("apply: acquire root lock row: %w", err)
	}
	if !ok {
		_ = fileLock.Unlock()
		return nil, svcerr.Wrap(svcerr.ErrLocked, "apply", "acquire root lock",
			fmt.Sprintf("root held by %s since %s", holder.Owner, holder.AcquiredAt.Format(time.RFC3339)), nil)
	}

	return func() {
		_ = e.store.ReleaseLock(ctx, root, owner)
		_ = fileLock.Unlock()
	}, nil
}

// staleSourcePaths implements spec.md §4.7's pre-flight check: a PlanItem
// whose source file no longer has the modification time it had when
// originalFiles (the scan the plan was built from) was captured is stale
// and must be skipped rather than renamed against outdated assumptions.
func staleSourcePaths(review domain.PlanReview, originalFiles, currentFiles []domain.MediaFile) map[string]bool {
	original := make(map[string]domain.MediaFile, len(originalFiles))
	for _, f := range originalFiles {
		original[f.Path] = f
	}
	current := make(map[string]domain.MediaFile, len(currentFiles))
	for _, f := range currentFiles {
		current[f.Path] = f
	}

	stale := make(map[string]bool)
	for _, item := range review.Items {
		orig, hadOrig := original[item.SrcPath]
		cur, hasCur := current[item.SrcPath]
		if !hasCur {
			stale[item.SrcPath] = true
			continue
		}
		if hadOrig && !orig.ModTime.Equal(cur.ModTime) {
			stale[item.SrcPath] = true
		}
	}
	return stale
}
