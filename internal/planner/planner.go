// Package planner implements C5: assembling the PlanItems C3/C4 produce into
// the authoritative domain.PlanReview artifact — merge policy, confidence
// bucketing, stable ordering, grouping/rollup, summary, and the
// byte-reproducible JSON serialization spec.md §4.5 requires.
package planner

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/namegnome/serve/internal/domain"
)

// SchemaVersion is the PlanReview.SchemaVersion value spec.md §3 pins.
const SchemaVersion = "1.0"

// deltaAdoptThreshold is spec.md §4.5 step 1's merge-policy cutoff: the LLM
// alternative replaces the deterministic candidate only when it wins by at
// least this much confidence.
const deltaAdoptThreshold = 0.10

// Assemble implements spec.md §4.5: merges deterministic/LLM alternatives
// already attached to each PlanItem, buckets confidence, orders items and
// groups deterministically, and rolls up the summary. scanID and
// sourceFingerprint identify the ScanSnapshot items were produced from.
func Assemble(scanID, sourceFingerprint string, mediaType domain.MediaType, items []domain.PlanItem) domain.PlanReview {
	merged := make([]domain.PlanItem, len(items))
	copy(merged, items)
	for i := range merged {
		applyMergePolicy(&merged[i])
		merged[i].Bucket = domain.Bucket(merged[i].Confidence)
	}

	orderItems(merged, mediaType)
	groups := buildGroups(merged)
	summary := buildSummary(merged)

	return domain.PlanReview{
		PlanID:            "plan_" + uuid.NewString(),
		SchemaVersion:     SchemaVersion,
		GeneratedAt:       time.Now().UTC(),
		ScanID:            scanID,
		SourceFingerprint: sourceFingerprint,
		MediaType:         mediaType,
		Summary:           summary,
		Groups:            groups,
		Items:             merged,
	}
}

// applyMergePolicy implements spec.md §4.5 step 1. A PlanItem that already
// carries an llm-origin Alternative is the shape internal/anthology
// produces when it chose not to adopt the LLM suggestion outright; this
// function is also the single place that re-checks the Δ≥0.10 rule so
// planner, not just anthology, is an authoritative enforcer of the merge
// policy.
func applyMergePolicy(item *domain.PlanItem) {
	if len(item.Alternatives) == 0 {
		return
	}
	if item.Origin == domain.OriginLLM {
		// Already adopted upstream (internal/anthology applies the same
		// Δ≥0.10 rule before planner ever sees the item); nothing to merge.
		return
	}
	best := -1
	bestConfidence := item.Confidence
	for i, alt := range item.Alternatives {
		if alt.Origin != domain.OriginLLM {
			continue
		}
		if alt.Confidence-item.Confidence >= deltaAdoptThreshold && alt.Confidence > bestConfidence {
			best = i
			bestConfidence = alt.Confidence
		}
	}
	if best < 0 {
		if !hasWarning(item.Warnings, domain.WarnTieBreakerDeterministic) {
			item.Warnings = append(item.Warnings, domain.WarnTieBreakerDeterministic)
		}
		return
	}

	adopted := item.Alternatives[best]
	deterministic := *item
	deterministic.Alternatives = nil
	*item = adopted
	item.Alternatives = append([]domain.PlanItem{deterministic}, removeIndex(adopted.Alternatives, best)...)
}

func removeIndex(items []domain.PlanItem, idx int) []domain.PlanItem {
	if idx < 0 || idx >= len(items) {
		return items
	}
	out := make([]domain.PlanItem, 0, len(items)-1)
	out = append(out, items[:idx]...)
	out = append(out, items[idx+1:]...)
	return out
}

func hasWarning(warnings []domain.Warning, w domain.Warning) bool {
	for _, existing := range warnings {
		if existing == w {
			return true
		}
	}
	return false
}

// orderItems implements spec.md §4.5 step 3: natural case-insensitive
// src.path order, with a media-type-specific secondary key.
func orderItems(items []domain.PlanItem, mediaType domain.MediaType) {
	sort.SliceStable(items, func(i, j int) bool {
		if cmp := naturalCompare(items[i].SrcPath, items[j].SrcPath); cmp != 0 {
			return cmp < 0
		}
		return secondaryLess(items[i], items[j], mediaType)
	})
}

func secondaryLess(a, b domain.PlanItem, mediaType domain.MediaType) bool {
	switch mediaType {
	case domain.MediaTV:
		aSeason, aEp := episodeKey(a)
		bSeason, bEp := episodeKey(b)
		if aSeason != bSeason {
			return aSeason < bSeason
		}
		return aEp < bEp
	case domain.MediaMovie:
		aYear, aTitle := movieKey(a)
		bYear, bTitle := movieKey(b)
		if aYear != bYear {
			return aYear < bYear
		}
		return aTitle < bTitle
	case domain.MediaMusic:
		aDisc, aTrack := trackKey(a)
		bDisc, bTrack := trackKey(b)
		if aDisc != bDisc {
			return aDisc < bDisc
		}
		return aTrack < bTrack
	default:
		return false
	}
}

func episodeKey(item domain.PlanItem) (season, episode int) {
	if item.SrcSegment != nil {
		episode = item.SrcSegment.Start
	}
	if item.Dst.Episode != nil {
		season = item.Dst.Episode.Season
		episode = item.Dst.Episode.Episode
	}
	return season, episode
}

func movieKey(item domain.PlanItem) (year int, title string) {
	return item.Dst.Year, item.Dst.Path
}

func trackKey(item domain.PlanItem) (disc, track int) {
	if item.SrcSegment != nil {
		track = item.SrcSegment.Start
	}
	return 0, track
}

// buildGroups implements spec.md §4.5 step 4: cluster by SrcPath in the
// order items were already sorted into, with a min/max-confidence and
// union-of-warnings rollup per group.
func buildGroups(items []domain.PlanItem) []domain.PlanGroup {
	index := make(map[string]int)
	var groups []domain.PlanGroup
	for _, item := range items {
		gi, ok := index[item.SrcPath]
		if !ok {
			gi = len(groups)
			index[item.SrcPath] = gi
			groups = append(groups, domain.PlanGroup{
				SrcPath:       item.SrcPath,
				MinConfidence: item.Confidence,
				MaxConfidence: item.Confidence,
			})
		}
		g := &groups[gi]
		g.ItemIDs = append(g.ItemIDs, item.ID)
		if item.Confidence < g.MinConfidence {
			g.MinConfidence = item.Confidence
		}
		if item.Confidence > g.MaxConfidence {
			g.MaxConfidence = item.Confidence
		}
		for _, w := range item.Warnings {
			if !hasWarning(g.Warnings, w) {
				g.Warnings = append(g.Warnings, w)
			}
		}
	}
	return groups
}

// buildSummary implements spec.md §4.5 step 5.
func buildSummary(items []domain.PlanItem) domain.Summary {
	summary := domain.Summary{
		ByOrigin:      make(map[domain.Origin]int),
		ByBucket:      make(map[domain.ConfidenceBucket]int),
		WarningCounts: make(map[domain.Warning]int),
	}
	for _, item := range items {
		summary.TotalItems++
		summary.ByOrigin[item.Origin]++
		summary.ByBucket[item.Bucket]++
		for _, w := range item.Warnings {
			summary.WarningCounts[w]++
		}
		if item.Anthology {
			summary.AnthologyCandidates++
		}
		if item.Disambiguation != nil {
			summary.DisambiguationsNeeded++
		}
	}
	return summary
}

// MarshalPlanReview implements spec.md §4.5 step 6's byte-reproducibility
// invariant (P1): top-level keys alphabetically sorted (mirrored in
// sortedPlanReview's field declaration order, since encoding/json emits
// struct fields in declaration order but always sorts map keys), UTF-8,
// and GeneratedAt rendered via time.Time's default RFC3339Nano-with-Z
// encoding. Two reviews that are identical except for GeneratedAt and
// PlanID produce byte-identical output once those two fields are masked by
// the caller, as P1 requires.
func MarshalPlanReview(review domain.PlanReview) ([]byte, error) {
	return json.Marshal(sortedPlanReview{
		GeneratedAt:       review.GeneratedAt,
		Groups:            review.Groups,
		Items:             review.Items,
		MediaType:         review.MediaType,
		Notes:             review.Notes,
		PlanID:            review.PlanID,
		ScanID:            review.ScanID,
		SchemaVersion:     review.SchemaVersion,
		SourceFingerprint: review.SourceFingerprint,
		Summary:           review.Summary,
	})
}

// sortedPlanReview's field declaration order is alphabetical by JSON tag so
// that, without resorting to a reflection-based key-sorting encoder, the
// emitted object's top-level keys come out sorted the way spec.md §4.5
// step 6 requires. Nested types (PlanItem, PlanGroup, Summary) keep
// internal/domain's declaration order; only their map-typed fields
// (Summary.ByOrigin etc.) get encoding/json's automatic key sort.
type sortedPlanReview struct {
	GeneratedAt       time.Time          `json:"generated_at"`
	Groups            []domain.PlanGroup `json:"groups"`
	Items             []domain.PlanItem  `json:"items"`
	MediaType         domain.MediaType   `json:"media_type"`
	Notes             []string           `json:"notes,omitempty"`
	PlanID            string             `json:"plan_id"`
	ScanID            string             `json:"scan_id"`
	SchemaVersion     string             `json:"schema_version"`
	SourceFingerprint string             `json:"source_fingerprint"`
	Summary           domain.Summary     `json:"summary"`
}
