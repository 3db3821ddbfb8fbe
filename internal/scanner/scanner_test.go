package scanner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/scanner"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func TestScanParsesNonAnthologyEpisode(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "Danger Mouse (2015)", "Danger Mouse 2015-S01E01-Danger Mouse Begins Again.mp4")
	writeFile(t, path)

	snap, err := scanner.Scan(context.Background(), scanner.Options{Root: root, MediaType: domain.MediaTV})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(snap.Files) != 1 {
		t.Fatalf("Scan() found %d files, want 1", len(snap.Files))
	}
	f := snap.Files[0]
	if f.Season != 1 {
		t.Errorf("Season = %d, want 1", f.Season)
	}
	if len(f.Episodes) != 1 || f.Episodes[0] != 1 {
		t.Errorf("Episodes = %v, want [1]", f.Episodes)
	}
	if f.Year != 2015 {
		t.Errorf("Year = %d, want 2015 (from directory hint)", f.Year)
	}
	if len(f.Segments) != 0 {
		t.Errorf("Segments = %v, want none for a non-anthology scan", f.Segments)
	}
}

func TestScanAnthologyModeProducesMultipleSegments(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "Firebuds-S01E01-Car In A Tree Dalmatian Day.mp4")
	writeFile(t, path)

	snap, err := scanner.Scan(context.Background(), scanner.Options{Root: root, MediaType: domain.MediaTV, Anthology: true})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	f := snap.Files[0]
	if len(f.Segments) < 2 {
		t.Fatalf("Segments = %v, want >= 2 candidate segments for anthology mode", f.Segments)
	}
}

func TestScanParsesEpisodeRange(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "Show-S02E03-E04-Two Parter.mkv")
	writeFile(t, path)

	snap, err := scanner.Scan(context.Background(), scanner.Options{Root: root, MediaType: domain.MediaTV})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	f := snap.Files[0]
	if f.Season != 2 {
		t.Errorf("Season = %d, want 2", f.Season)
	}
	if len(f.Episodes) != 2 || f.Episodes[0] != 3 || f.Episodes[1] != 4 {
		t.Errorf("Episodes = %v, want [3 4]", f.Episodes)
	}
}

func TestScanIgnoresNonMatchingExtensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "readme.txt"))
	writeFile(t, filepath.Join(root, "Show-S01E01-Pilot.mp4"))

	snap, err := scanner.Scan(context.Background(), scanner.Options{Root: root, MediaType: domain.MediaTV})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(snap.Files) != 1 {
		t.Fatalf("Scan() found %d files, want 1 (non-media extension should be skipped)", len(snap.Files))
	}
}

func TestScanParsesMovieYearAndTitle(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "Arrival (2016).mkv")
	writeFile(t, path)

	snap, err := scanner.Scan(context.Background(), scanner.Options{Root: root, MediaType: domain.MediaMovie})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	f := snap.Files[0]
	if f.Year != 2016 {
		t.Errorf("Year = %d, want 2016", f.Year)
	}
	if f.TitleHint != "Arrival" {
		t.Errorf("TitleHint = %q, want %q", f.TitleHint, "Arrival")
	}
}

func TestScanParsesMusicTrack(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "Artist", "Album (2020)", "03 - Track Title.flac")
	writeFile(t, path)

	snap, err := scanner.Scan(context.Background(), scanner.Options{Root: root, MediaType: domain.MediaMusic})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	f := snap.Files[0]
	if len(f.Episodes) != 1 || f.Episodes[0] != 3 {
		t.Errorf("Episodes (track number) = %v, want [3]", f.Episodes)
	}
	if f.TitleHint != "Track Title" {
		t.Errorf("TitleHint = %q, want %q", f.TitleHint, "Track Title")
	}
}
