package apiclient_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/namegnome/serve/internal/apiclient"
	"github.com/namegnome/serve/internal/apply"
	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/httpapi"
	"github.com/namegnome/serve/internal/jobs"
	"github.com/namegnome/serve/internal/logging"
	"github.com/namegnome/serve/internal/mapper"
	"github.com/namegnome/serve/internal/provider"
)

// fakeSearcher mirrors internal/httpapi's own test fixture: a Searcher stub
// returning one canonical match so plan generation resolves without a
// disambiguation round trip.
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

// startTestServer wires a real httpapi.Server bound to an OS-assigned port
// and returns a Client dialed against it, so these tests exercise the actual
// HTTP/JSON wire format rather than calling handlers in-process.
func startTestServer(t *testing.T) (*apiclient.Client, string) {
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

	return apiclient.New("http://" + srv.Addr()), root
}

func TestClientHealthz(t *testing.T) {
	client, _ := startTestServer(t)
	if err := client.Healthz(context.Background()); err != nil {
		t.Fatalf("Healthz: %v", err)
	}
}

func TestClientScan(t *testing.T) {
	client, root := startTestServer(t)
	snap, err := client.Scan(context.Background(), apiclient.ScanRequest{Root: root, MediaType: domain.MediaMovie})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(snap.Files) != 1 {
		t.Fatalf("Files = %d, want 1", len(snap.Files))
	}
	if snap.ScanID == "" {
		t.Error("ScanID is empty")
	}
}

func TestClientScanValidationError(t *testing.T) {
	client, _ := startTestServer(t)
	_, err := client.Scan(context.Background(), apiclient.ScanRequest{Root: "", MediaType: domain.MediaMovie})
	if err == nil {
		t.Fatal("expected a validation error for an empty root")
	}
	apiErr, ok := err.(*apiclient.APIError)
	if !ok {
		t.Fatalf("error = %T, want *apiclient.APIError", err)
	}
	if apiErr.Status != 422 {
		t.Errorf("Status = %d, want 422", apiErr.Status)
	}
}

func TestClientPlanAndApply(t *testing.T) {
	client, root := startTestServer(t)
	ctx := context.Background()

	review, disambiguation, err := client.Plan(ctx, apiclient.PlanRequest{
		ScanRequest: apiclient.ScanRequest{Root: root, MediaType: domain.MediaMovie},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if disambiguation != nil {
		t.Fatalf("unexpected disambiguation: %+v", disambiguation)
	}
	if len(review.Items) != 1 {
		t.Fatalf("Items = %d, want 1", len(review.Items))
	}

	result, err := client.Apply(ctx, apiclient.ApplyRequest{
		Root:      root,
		Plan:      *review,
		Mode:      domain.ApplyTransactional,
		Collision: domain.CollisionSkip,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("Items = %d, want 1", len(result.Items))
	}
	if result.Items[0].Status != domain.ItemCommitted {
		t.Fatalf("Items[0].Status = %q, want %q", result.Items[0].Status, domain.ItemCommitted)
	}
}

func TestClientPlanAsyncAndJobStatus(t *testing.T) {
	client, root := startTestServer(t)
	ctx := context.Background()

	jobID, err := client.PlanAsync(ctx, apiclient.PlanRequest{
		ScanRequest: apiclient.ScanRequest{Root: root, MediaType: domain.MediaMovie},
	})
	if err != nil {
		t.Fatalf("PlanAsync: %v", err)
	}
	if jobID == "" {
		t.Fatal("jobID is empty")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := client.JobStatusByID(ctx, jobID)
		if err != nil {
			t.Fatalf("JobStatusByID: %v", err)
		}
		if status.Status == string(jobs.StatusSucceeded) {
			if len(status.Result) == 0 {
				t.Fatal("Result is empty on a succeeded job")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("async plan job did not reach succeeded status in time")
}

func TestClientDisambiguateUnknownToken(t *testing.T) {
	client, _ := startTestServer(t)
	err := client.Disambiguate(context.Background(), apiclient.DisambiguateRequest{Token: "dsk_missing", ChoiceID: "ext-1"})
	if err == nil {
		t.Fatal("expected an error for an unknown token")
	}
	apiErr, ok := err.(*apiclient.APIError)
	if !ok {
		t.Fatalf("error = %T, want *apiclient.APIError", err)
	}
	if apiErr.Status != 404 {
		t.Errorf("Status = %d, want 404", apiErr.Status)
	}
}

func TestClientHealthzDialError(t *testing.T) {
	client := apiclient.New("http://127.0.0.1:1")
	err := client.Healthz(context.Background())
	if err == nil {
		t.Fatal("expected a dial error against a closed port")
	}
	var dialErr *apiclient.DialError
	if !asDialError(err, &dialErr) {
		t.Fatalf("error = %T (%v), want *apiclient.DialError", err, err)
	}
}

func asDialError(err error, target **apiclient.DialError) bool {
	de, ok := err.(*apiclient.DialError)
	if !ok {
		return false
	}
	*target = de
	return true
}
