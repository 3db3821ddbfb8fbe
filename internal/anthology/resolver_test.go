package anthology

import (
	"context"
	"strings"
	"testing"

	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/llmassist"
)

func seasonEpisodes() []domain.Episode {
	return []domain.Episode{
		{Provider: "tvdb", SeriesID: "s1", Season: 7, Episode: 1, Title: "Pups Stop A Humdinger Horde"},
		{Provider: "tvdb", SeriesID: "s1", Season: 7, Episode: 2, Title: "Pups Save A Mighty Lighthouse"},
		{Provider: "tvdb", SeriesID: "s1", Season: 7, Episode: 3, Title: "Pups Rescue A Driverless Party Bus"},
	}
}

func TestResolveMatchesSegmentsToCanonicalEpisodesByTitle(t *testing.T) {
	file := domain.MediaFile{
		Path:      "Paw Patrol-S07E01-E02.mp4",
		TitleHint: "Paw Patrol",
		Season:    7,
		Episodes:  []int{1},
		Segments: []domain.Segment{
			{Start: 1, End: 1, RawTitle: "Pups Stop A Humdinger Horde"},
			{Start: 1, End: 1, RawTitle: "Pups Save A Mighty Lighthouse"},
		},
	}

	r := New(nil)
	items, err := r.Resolve(context.Background(), "/library", file, seasonEpisodes())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Resolve() returned %d items, want 2", len(items))
	}
	if items[0].Dst.Episode == nil || items[0].Dst.Episode.Episode != 1 {
		t.Errorf("items[0] matched episode = %+v, want episode 1", items[0].Dst.Episode)
	}
	if items[1].Dst.Episode == nil || items[1].Dst.Episode.Episode != 2 {
		t.Errorf("items[1] matched episode = %+v, want episode 2", items[1].Dst.Episode)
	}
	if !strings.HasPrefix(items[0].Dst.Path, "/library/") {
		t.Errorf("items[0].Dst.Path = %q, want it joined under the scope root", items[0].Dst.Path)
	}
	for i, item := range items {
		if item.Confidence < titleMatchThreshold {
			t.Errorf("items[%d].Confidence = %v, want a confident match", i, item.Confidence)
		}
		if !item.Anthology {
			t.Errorf("items[%d].Anthology = false, want true", i)
		}
	}
}

func TestResolveTruncatesOverlappingSegments(t *testing.T) {
	file := domain.MediaFile{
		Path:      "overlap.mp4",
		TitleHint: "Show",
		Season:    1,
		Episodes:  []int{1},
		Segments: []domain.Segment{
			{Start: 1, End: 2, RawTitle: "First Half"},
			{Start: 2, End: 2, RawTitle: "Second Half"},
		},
	}
	episodes := []domain.Episode{
		{Provider: "tvdb", SeriesID: "s1", Season: 1, Episode: 1, Title: "First Half"},
		{Provider: "tvdb", SeriesID: "s1", Season: 1, Episode: 2, Title: "Second Half"},
	}

	r := New(nil)
	items, err := r.Resolve(context.Background(), "/library", file, episodes)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(items) == 0 {
		t.Fatal("Resolve() returned no items")
	}
	if seg := items[0].SrcSegment; seg == nil || seg.End != 1 {
		t.Fatalf("items[0].SrcSegment = %+v, want first segment truncated to end at 1", seg)
	}
}

func TestResolveNoCanonicalMatchFlagsNeedsReview(t *testing.T) {
	file := domain.MediaFile{
		Path:      "mystery.mp4",
		TitleHint: "Show",
		Season:    1,
		Episodes:  []int{1},
		Segments: []domain.Segment{
			{Start: 1, End: 1, RawTitle: "Completely Unrelated Title"},
		},
	}
	episodes := []domain.Episode{
		{Provider: "tvdb", SeriesID: "s1", Season: 1, Episode: 1, Title: "Something Else Entirely"},
	}

	r := New(nil)
	items, err := r.Resolve(context.Background(), "/library", file, episodes)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Resolve() returned %d items, want 1", len(items))
	}
	if items[0].Dst.Episode != nil {
		t.Errorf("items[0].Dst.Episode = %+v, want nil (no confident match)", items[0].Dst.Episode)
	}
	if items[0].Confidence >= 0.9 {
		t.Errorf("items[0].Confidence = %v, want low confidence", items[0].Confidence)
	}
}

type stubAssist struct {
	assignments []llmassist.Assignment
}

func (s stubAssist) ResolveAnthology(ctx context.Context, candidateTitles, segmentLabels []string) ([]llmassist.Assignment, error) {
	return s.assignments, nil
}

func TestResolveAdoptsLLMAssistWhenConfidenceGainIsLarge(t *testing.T) {
	file := domain.MediaFile{
		Path:      "mystery.mp4",
		TitleHint: "Show",
		Season:    1,
		Episodes:  []int{1},
		Segments: []domain.Segment{
			{Start: 1, End: 1, RawTitle: "Completely Unrelated Title"},
		},
	}
	episodes := []domain.Episode{
		{Provider: "tvdb", SeriesID: "s1", Season: 1, Episode: 1, Title: "Something Else Entirely"},
	}

	assist := stubAssist{assignments: []llmassist.Assignment{
		{SegmentIndex: 0, EpisodeTitle: "Something Else Entirely", Confidence: 0.95},
	}}
	r := New(assist)
	items, err := r.Resolve(context.Background(), "/library", file, episodes)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if items[0].Dst.Episode == nil {
		t.Fatal("items[0].Dst.Episode = nil, want LLM-assigned episode")
	}
	if items[0].Origin != domain.OriginLLM {
		t.Errorf("items[0].Origin = %v, want %v", items[0].Origin, domain.OriginLLM)
	}
}

func TestWarningPenaltyFloorsAtMinimumConfidence(t *testing.T) {
	warnings := []domain.Warning{
		domain.WarnOverlapUnresolved,
		domain.WarnGapPresent,
		domain.WarnTitleLowMatch,
		domain.WarnPrefixMonikerStripped,
		domain.WarnLowTokenOverlap,
		domain.WarnLLMUnavailable,
		domain.WarnTieBreakerDeterministic,
		domain.WarnNeedsReview,
		domain.WarnStale,
	}
	if got := warningPenalty(warnings); got != 0.2 {
		t.Errorf("warningPenalty(9 classes) = %v, want 0.2 (floor)", got)
	}
}

func TestWarningPenaltyNoWarnings(t *testing.T) {
	if got := warningPenalty(nil); got != 1.0 {
		t.Errorf("warningPenalty(none) = %v, want 1.0", got)
	}
}
