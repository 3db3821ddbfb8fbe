package disambiguation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/disambiguation"
	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/svcerr"
)

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedPending(t *testing.T, store *cache.Store) string {
	t.Helper()
	ctx := context.Background()
	token := "dsk_test"
	err := store.PutDisambiguation(ctx, cache.PendingDisambiguation{
		Token:     token,
		ScanID:    "scope1",
		Field:     "entity",
		TitleNorm: "danger mouse",
		Year:      domain.YearUnknown,
		Candidates: []domain.Candidate{
			{Provider: "tvdb", ID: "1981", Title: "Danger Mouse", Year: 1981},
			{Provider: "tvdb", ID: "2015", Title: "Danger Mouse", Year: 2015},
		},
		Suggested: "1981",
	})
	if err != nil {
		t.Fatalf("PutDisambiguation failed: %v", err)
	}
	return token
}

func TestResolveWritesDecisionAndMarksTokenResolved(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	token := seedPending(t, store)

	ledger := disambiguation.New(store)
	if err := ledger.Resolve(ctx, token, "2015"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	decision, ok, err := store.GetDecision(ctx, "scope1", "danger mouse", domain.YearUnknown)
	if err != nil {
		t.Fatalf("GetDecision failed: %v", err)
	}
	if !ok {
		t.Fatal("GetDecision found no row after Resolve")
	}
	if decision.Provider != "tvdb" || decision.ExtID != "2015" {
		t.Errorf("decision = {%s, %s}, want {tvdb, 2015}", decision.Provider, decision.ExtID)
	}

	pending, err := ledger.Pending(ctx, token)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if !pending.Resolved {
		t.Error("Pending().Resolved = false, want true after Resolve")
	}
}

func TestResolveRejectsUnknownChoiceID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	token := seedPending(t, store)

	ledger := disambiguation.New(store)
	err := ledger.Resolve(ctx, token, "1999")
	if err == nil {
		t.Fatal("Resolve() with unknown choice_id, want error")
	}
	if !errors.Is(err, svcerr.ErrValidation) {
		t.Errorf("Resolve() error = %v, want svcerr.ErrValidation", err)
	}
}

func TestResolveRejectsUnknownToken(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	ledger := disambiguation.New(store)
	err := ledger.Resolve(ctx, "dsk_nope", "2015")
	if !errors.Is(err, svcerr.ErrNotFound) {
		t.Errorf("Resolve() error = %v, want svcerr.ErrNotFound", err)
	}
}

func TestResolveRejectsAlreadyResolvedToken(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	token := seedPending(t, store)

	ledger := disambiguation.New(store)
	if err := ledger.Resolve(ctx, token, "2015"); err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	err := ledger.Resolve(ctx, token, "1981")
	if !errors.Is(err, svcerr.ErrValidation) {
		t.Errorf("second Resolve() error = %v, want svcerr.ErrValidation", err)
	}
}

func TestPinBypassesTokenAndWritesDecisionDirectly(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	ledger := disambiguation.New(store)
	if err := ledger.Pin(ctx, "scope1", "danger mouse", domain.YearUnknown, "tvdb", "2015"); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}

	decision, ok, err := store.GetDecision(ctx, "scope1", "danger mouse", domain.YearUnknown)
	if err != nil {
		t.Fatalf("GetDecision failed: %v", err)
	}
	if !ok || decision.ExtID != "2015" {
		t.Errorf("decision = %+v, ok=%v, want ext_id=2015", decision, ok)
	}
}

func TestPinRejectsEmptyProviderOrExtID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	ledger := disambiguation.New(store)

	if err := ledger.Pin(ctx, "scope1", "danger mouse", domain.YearUnknown, "", "2015"); !errors.Is(err, svcerr.ErrValidation) {
		t.Errorf("Pin() with empty provider error = %v, want svcerr.ErrValidation", err)
	}
	if err := ledger.Pin(ctx, "scope1", "danger mouse", domain.YearUnknown, "tvdb", ""); !errors.Is(err, svcerr.ErrValidation) {
		t.Errorf("Pin() with empty ext_id error = %v, want svcerr.ErrValidation", err)
	}
}

func TestPendingReturnsNotFoundForUnknownToken(t *testing.T) {
	store := newStore(t)
	ledger := disambiguation.New(store)
	_, err := ledger.Pending(context.Background(), "dsk_nope")
	if !errors.Is(err, svcerr.ErrNotFound) {
		t.Errorf("Pending() error = %v, want svcerr.ErrNotFound", err)
	}
}
