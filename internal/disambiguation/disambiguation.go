// Package disambiguation implements C6: the ledger that mints disambiguation
// tokens for entity resolutions C3/C5 cannot uniquely pin, and resolves them
// back into a persisted Decision so the pipeline can resume (spec.md §4.6).
// Token minting and the pending-state table live in internal/cache; this
// package is the resolve(token, choice_id) -> () contract itself.
package disambiguation

import (
	"context"
	"fmt"

	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/svcerr"
)

// Ledger resolves pending disambiguations against a cache.Store.
type Ledger struct {
	store *cache.Store
}

// New constructs a Ledger over store.
func New(store *cache.Store) *Ledger {
	return &Ledger{store: store}
}

// Resolve implements the token half of spec.md §4.6: choiceID must match the
// ID of one of the token's Candidates, and that candidate's (provider,
// ext_id) is written as a Decision under the token's original (scan_id,
// title_norm, year), marking the token resumable. Subsequent plans over the
// same scope/title/year do not raise disambiguation again (P8).
func (l *Ledger) Resolve(ctx context.Context, token, choiceID string) error {
	pending, ok, err := l.store.GetDisambiguation(ctx, token)
	if err != nil {
		return fmt.Errorf("disambiguation: lookup token %s: %w", token, err)
	}
	if !ok {
		return svcerr.Wrap(svcerr.ErrNotFound, "disambiguation", "resolve", "unknown token "+token, nil)
	}
	if pending.Resolved {
		return svcerr.Wrap(svcerr.ErrValidation, "disambiguation", "resolve", "token "+token+" already resolved", nil)
	}

	choice, ok := findCandidate(pending.Candidates, choiceID)
	if !ok {
		return svcerr.Wrap(svcerr.ErrValidation, "disambiguation", "resolve",
			fmt.Sprintf("choice_id %q is not among token %s's candidates", choiceID, token), nil)
	}

	if err := l.store.ResolveDisambiguation(ctx, token, pending.ScanID, pending.TitleNorm, pending.Year, choice.Provider, choice.ID); err != nil {
		return fmt.Errorf("disambiguation: resolve token %s: %w", token, err)
	}
	return nil
}

// Pin implements the programmatic-bypass half of spec.md §4.6: a caller that
// already knows the (provider, ext_id) it wants may pin it directly under
// (scope, title_norm, year) without ever minting or resolving a token.
func (l *Ledger) Pin(ctx context.Context, scope, titleNorm string, year int, provider, extID string) error {
	if provider == "" || extID == "" {
		return svcerr.Wrap(svcerr.ErrValidation, "disambiguation", "pin", "provider and ext_id are required", nil)
	}
	return l.store.PutDecision(ctx, domain.Decision{
		Scope:     scope,
		TitleNorm: titleNorm,
		Year:      year,
		Provider:  provider,
		ExtID:     extID,
	})
}

// Pending returns the pending disambiguation for token, for callers (the
// REST 409 body, a CLI prompt) that need to display its candidates.
func (l *Ledger) Pending(ctx context.Context, token string) (cache.PendingDisambiguation, error) {
	pending, ok, err := l.store.GetDisambiguation(ctx, token)
	if err != nil {
		return cache.PendingDisambiguation{}, fmt.Errorf("disambiguation: lookup token %s: %w", token, err)
	}
	if !ok {
		return cache.PendingDisambiguation{}, svcerr.Wrap(svcerr.ErrNotFound, "disambiguation", "pending", "unknown token "+token, nil)
	}
	return pending, nil
}

func findCandidate(candidates []domain.Candidate, choiceID string) (domain.Candidate, bool) {
	for _, c := range candidates {
		if c.ID == choiceID {
			return c, true
		}
	}
	return domain.Candidate{}, false
}
