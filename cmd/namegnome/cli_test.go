package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/namegnome/serve/internal/apply"
	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/httpapi"
	"github.com/namegnome/serve/internal/jobs"
	"github.com/namegnome/serve/internal/logging"
	"github.com/namegnome/serve/internal/mapper"
	"github.com/namegnome/serve/internal/provider"
)

// fakeSearcher is the same single-match Searcher stub internal/httpapi and
// internal/apiclient use in their own fixtures, kept independent here so
// this package's tests don't reach into another package's test sources.
type fakeSearcher struct {
	entity domain.ProviderEntity
}

func (f *fakeSearcher) Name() string { return "tmdb" }

func (f *fakeSearcher) Search(ctx context.Context, q provider.SearchQuery) ([]domain.ProviderEntity, error) {
	return []domain.ProviderEntity{f.entity}, nil
}

func (f *fakeSearcher) Fetch(ctx context.Context, ref provider.EntityRef) (domain.ProviderEntity, error) {
	return f.entity, nil
}

func (f *fakeSearcher) ListChildren(ctx context.Context, ref provider.EntityRef) ([]domain.Episode, []domain.Track, error) {
	return nil, nil, nil
}

type cliTestEnv struct {
	root    string
	apiAddr string
	cancel  context.CancelFunc
}

// setupCLITestEnv starts a real httpapi.Server on an OS-assigned port,
// grounded on the teacher's setupCLITestEnv (which instead stands up a
// daemon + unix-socket ipc.Server); this variant swaps that transport for
// the REST one cmd/namegnome dials over.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	store, err := cache.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gw := provider.NewGateway(store)
	gw.Register(domain.MediaMovie, 10, 10, &fakeSearcher{
		entity: domain.ProviderEntity{
			Provider: "tmdb", Type: domain.MediaMovie, ExtID: "ext-1",
			TitleRaw: "Example Movie", TitleNorm: "example movie", Year: 2020,
		},
	})

	mp := mapper.New(store, gw, nil)
	applier := apply.New(store, logging.NewNop())
	hub := logging.NewStreamHub(64)
	logger, err := logging.New(logging.Options{Level: "debug", Format: "json", StreamHub: hub})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	jobsCtrl := jobs.New(store, hub, logger)

	srv := httpapi.New("127.0.0.1:0", store, mp, applier, jobsCtrl, logger)
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})

	root := t.TempDir()
	moviePath := filepath.Join(root, "Example Movie (2020).mkv")
	if err := os.WriteFile(moviePath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write movie file: %v", err)
	}

	return &cliTestEnv{root: root, apiAddr: srv.Addr(), cancel: cancel}
}

// runCLI mirrors the teacher's runCLI helper: build a fresh root command,
// capture its streams, and report stdout/stderr/error back to the caller.
// --config points at a path that does not exist so config.Load falls back
// to defaults instead of touching a real user config file.
func runCLI(t *testing.T, args []string, env *cliTestEnv) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--api", env.apiAddr, "--config", filepath.Join(t.TempDir(), "missing-config.toml")}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCLIScan(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"scan", "--root", env.root, "--media-type", "movie", "--json"}, env)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var snap domain.ScanSnapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode scan output: %v\noutput: %s", err, out)
	}
	if len(snap.Files) != 1 {
		t.Fatalf("Files = %d, want 1", len(snap.Files))
	}
}

func TestCLIPlanGenerate(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"plan", "generate", "--root", env.root, "--media-type", "movie", "--json"}, env)
	if err != nil {
		t.Fatalf("plan generate: %v", err)
	}
	var review domain.PlanReview
	if err := json.Unmarshal([]byte(out), &review); err != nil {
		t.Fatalf("decode plan output: %v\noutput: %s", err, out)
	}
	if len(review.Items) != 1 {
		t.Fatalf("Items = %d, want 1", len(review.Items))
	}
}

func TestCLIPlanGenerateHumanReadable(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"plan", "generate", "--root", env.root, "--media-type", "movie", "--verbose"}, env)
	if err != nil {
		t.Fatalf("plan generate: %v", err)
	}
	if !strings.Contains(out, "items") {
		t.Fatalf("expected a plan summary line, got %q", out)
	}
}

func TestCLIApplyTransactional(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{
		"apply", "--root", env.root, "--media-type", "movie",
		"--mode", "transactional", "--json",
	}, env)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	var result domain.ApplyResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode apply output: %v\noutput: %s", err, out)
	}
	if len(result.Items) != 1 {
		t.Fatalf("Items = %d, want 1", len(result.Items))
	}
	if result.Items[0].Status != domain.ItemCommitted {
		t.Fatalf("Items[0].Status = %q, want %q", result.Items[0].Status, domain.ItemCommitted)
	}
}

// TestCLIApplyContinueOnErrorPersistsRollbackToken guards the hyphen/
// underscore apply-mode bug: the CLI accepts the documented hyphenated
// spelling, but internal/apply.Run only persists a rollback manifest when
// opts.Mode equals the exact domain.ApplyContinueOnError wire constant.
func TestCLIApplyContinueOnErrorPersistsRollbackToken(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{
		"apply", "--root", env.root, "--media-type", "movie",
		"--mode", "continue-on-error", "--json",
	}, env)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	var result domain.ApplyResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode apply output: %v\noutput: %s", err, out)
	}
	if result.RollbackToken == "" {
		t.Fatal("expected a rollback token for a continue-on-error apply")
	}
	if result.Mode != domain.ApplyContinueOnError {
		t.Fatalf("Mode = %q, want %q", result.Mode, domain.ApplyContinueOnError)
	}
}

func TestCLIApplyRejectsUnknownMode(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{
		"apply", "--root", env.root, "--media-type", "movie",
		"--mode", "bogus",
	}, env)
	if err == nil {
		t.Fatal("expected an error for an unrecognized --mode value")
	}
	if exitCodeForError(err) != exitValidation {
		t.Fatalf("exit code = %d, want %d", exitCodeForError(err), exitValidation)
	}
}

func TestCLIDisambiguateUnknownToken(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"disambiguate", "resolve", "dsk_missing", "--choice", "ext-1"}, env)
	if err == nil {
		t.Fatal("expected an error for an unknown disambiguation token")
	}
}

func TestCLIHealthCheckFailsAgainstUnreachableDaemon(t *testing.T) {
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{
		"--api", "http://127.0.0.1:1",
		"--config", filepath.Join(t.TempDir(), "missing-config.toml"),
		"scan", "--root", t.TempDir(), "--media-type", "movie",
	})
	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected a dial error against an unreachable daemon")
	}
}
