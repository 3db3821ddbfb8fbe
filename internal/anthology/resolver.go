// Package anthology implements C4: resolving the interval algebra spec.md
// §4.4 describes for anthology-style TV files — a single file tag whose
// filename actually covers several distinct episode titles. The deterministic
// pass (sort/overlap/gap/singleton/prefix-strip, then Jaccard title matching)
// is grounded on the teacher's cosine-similarity token-fingerprint pattern in
// internal/contentid/fingerprint.go, swapped for the overlap-coefficient-style
// formula spec.md pins; LLM assist on residual ambiguity calls into
// internal/llmassist (internal/mapper does not use LLM assist).
package anthology

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/llmassist"
	"github.com/namegnome/serve/internal/naming"
)

// Assist is the subset of *llmassist.Client the resolver depends on, so
// tests can substitute a stub without a live API key.
type Assist interface {
	ResolveAnthology(ctx context.Context, candidateTitles []string, segmentLabels []string) ([]llmassist.Assignment, error)
}

// Resolver implements mapper.AnthologyResolver.
type Resolver struct {
	assist Assist // nil disables LLM assist: deterministic result stands alone
}

// New constructs a Resolver. assist may be nil.
func New(assist Assist) *Resolver {
	return &Resolver{assist: assist}
}

// warningPenalty is spec.md §4.4's confidence table: 1.0 minus 0.1 per
// distinct warning class present, floored at 0.2.
func warningPenalty(warnings []domain.Warning) float64 {
	classes := make(map[domain.Warning]struct{}, len(warnings))
	for _, w := range warnings {
		classes[w] = struct{}{}
	}
	confidence := 1.0 - 0.1*float64(len(classes))
	if confidence < 0.2 {
		confidence = 0.2
	}
	return confidence
}

func dedupeWarnings(warnings []domain.Warning) []domain.Warning {
	seen := make(map[domain.Warning]struct{}, len(warnings))
	out := make([]domain.Warning, 0, len(warnings))
	for _, w := range warnings {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// Resolve implements mapper.AnthologyResolver: maps file's multiple title
// segments onto episodes's canonical (season, episode, title) records.
// scope is the library root, joined against the naming grammar's
// root-relative path to produce each PlanItem's absolute Dst.Path.
func (r *Resolver) Resolve(ctx context.Context, scope string, file domain.MediaFile, episodes []domain.Episode) ([]domain.PlanItem, error) {
	season := make([]domain.Episode, 0, len(episodes))
	for _, ep := range episodes {
		if ep.Season == file.Season {
			season = append(season, ep)
		}
	}
	sort.Slice(season, func(i, j int) bool { return season[i].Episode < season[j].Episode })

	anchor := 1
	if len(file.Episodes) > 0 {
		anchor = file.Episodes[0]
	}

	segs := normalizeSegments(file.Segments)
	segs = resolveOverlaps(segs)
	segs = stripMonikers(segs)
	segs = collapseSingletons(segs)
	segs = detectGaps(segs, anchor)

	matches := matchSegments(segs, season, anchor)

	if r.assist != nil && needsAssist(matches) {
		if err := r.applyAssist(ctx, scope, matches, season, file); err != nil {
			for i := range matches {
				if matches[i].episode == nil {
					matches[i].warnings = append(matches[i].warnings, domain.WarnLLMUnavailable)
				}
			}
		}
	}

	items := make([]domain.PlanItem, 0, len(matches))
	for _, m := range matches {
		items = append(items, buildPlanItem(scope, file, m))
	}
	return items, nil
}

// segmentMatch is one resolved (segment, canonical episode) pairing plus the
// deterministic and (if invoked) LLM-origin confidence and warnings.
type segmentMatch struct {
	segment    normalizedSegment
	episode    *domain.Episode
	origin     domain.Origin
	warnings   []domain.Warning
	confidence float64
	llmAlt     *domain.PlanItem
}

// matchSegments implements the Jaccard title-matching half of spec.md §4.4:
// for each segment, the best-scoring unused canonical episode numbered no
// lower than one before the expected position is accepted if its score
// clears titleMatchThreshold. Later episodes are not bounded.
func matchSegments(segs []normalizedSegment, season []domain.Episode, anchor int) []segmentMatch {
	out := make([]segmentMatch, len(segs))
	used := make(map[int]bool, len(season))

	for i, s := range segs {
		warnings := append([]domain.Warning(nil), s.Warnings...)
		expected := anchor + i

		var best *domain.Episode
		bestScore := 0.0
		bestIdx := -1
		for idx := range season {
			if used[idx] {
				continue
			}
			ep := season[idx]
			if ep.Episode < expected-1 {
				continue
			}
			score := jaccardScore(s.Tokens, tokenize(ep.Title))
			if score > bestScore {
				bestScore = score
				best = &season[idx]
				bestIdx = idx
			}
		}

		if best != nil && bestScore >= titleMatchThreshold {
			used[bestIdx] = true
		} else if best != nil {
			// Some candidate scored above zero but didn't clear the
			// threshold: a weak match, not a total miss.
			warnings = append(warnings, domain.WarnTitleLowMatch, domain.WarnLowTokenOverlap)
			best = nil
		} else {
			// Nothing overlapped at all: no candidate worth suggesting.
			warnings = append(warnings, domain.WarnTitleLowMatch, domain.WarnNeedsReview)
		}

		warnings = dedupeWarnings(warnings)
		out[i] = segmentMatch{
			segment:    s,
			episode:    best,
			origin:     domain.OriginDeterministic,
			warnings:   warnings,
			confidence: warningPenalty(warnings),
		}
	}
	return out
}

// needsAssist reports whether any match is unresolved or below the
// 0.9 confidence floor spec.md §4.4 sets for invoking LLM assist.
func needsAssist(matches []segmentMatch) bool {
	for _, m := range matches {
		if m.episode == nil || m.confidence < 0.9 {
			return true
		}
	}
	return false
}

// applyAssist calls Assist.ResolveAnthology over the still-unresolved
// segments and merges any returned assignment per spec.md §4.5's merge
// policy: adopt the LLM suggestion only when it beats the deterministic
// confidence by at least 0.10, otherwise keep the deterministic result and
// record the LLM suggestion as an alternative.
func (r *Resolver) applyAssist(ctx context.Context, scope string, matches []segmentMatch, season []domain.Episode, file domain.MediaFile) error {
	unresolvedIdx := make([]int, 0)
	labels := make([]string, 0)
	for i, m := range matches {
		if m.episode == nil || m.confidence < 0.9 {
			unresolvedIdx = append(unresolvedIdx, i)
			labels = append(labels, m.segment.RawTitle)
		}
	}
	if len(labels) == 0 {
		return nil
	}

	candidateTitles := make([]string, 0, len(season))
	byTitle := make(map[string]*domain.Episode, len(season))
	for i := range season {
		candidateTitles = append(candidateTitles, season[i].Title)
		byTitle[season[i].Title] = &season[i]
	}

	assignments, err := r.assist.ResolveAnthology(ctx, candidateTitles, labels)
	if err != nil {
		return err
	}

	for _, a := range assignments {
		if a.SegmentIndex < 0 || a.SegmentIndex >= len(unresolvedIdx) {
			continue
		}
		ep, ok := byTitle[a.EpisodeTitle]
		if !ok {
			continue
		}
		idx := unresolvedIdx[a.SegmentIndex]
		m := &matches[idx]

		if a.Confidence-m.confidence >= 0.10 {
			altEpisode := m.episode
			altConfidence := m.confidence
			altWarnings := m.warnings
			m.episode = ep
			m.origin = domain.OriginLLM
			m.confidence = a.Confidence
			m.warnings = nil
			if altEpisode != nil {
				alt := buildPlanItem(scope, file, segmentMatch{
					segment: m.segment, episode: altEpisode, origin: domain.OriginDeterministic,
					confidence: altConfidence, warnings: altWarnings,
				})
				m.llmAlt = &alt
			}
		} else {
			alt := buildPlanItem(scope, file, segmentMatch{
				segment: m.segment, episode: ep, origin: domain.OriginLLM, confidence: a.Confidence,
			})
			m.llmAlt = &alt
			m.warnings = append(m.warnings, domain.WarnTieBreakerDeterministic)
			m.warnings = dedupeWarnings(m.warnings)
			m.confidence = warningPenalty(m.warnings)
		}
	}
	return nil
}

func buildPlanItem(scope string, file domain.MediaFile, m segmentMatch) domain.PlanItem {
	item := domain.PlanItem{
		ID:         uuid.NewString(),
		Origin:     m.origin,
		Confidence: m.confidence,
		Bucket:     domain.Bucket(m.confidence),
		SrcPath:    file.Path,
		SrcSegment: &domain.Segment{Start: m.segment.Start, End: m.segment.End, TitleTokens: m.segment.Tokens, RawTitle: m.segment.RawTitle},
		Warnings:   m.warnings,
		Anthology:  true,
	}
	if m.episode != nil {
		item.Sources = []domain.SourceRef{{Provider: m.episode.Provider, ExtID: m.episode.SeriesID, Type: "series"}}
		item.Dst = domain.Destination{
			Path: filepath.Join(scope, naming.TVPath(file.Path, file.TitleHint, file.Year, file.Season,
				m.episode.Episode, m.episode.Episode, []string{m.episode.Title})),
			Episode: m.episode,
			Year:    file.Year,
		}
		item.Explain = fmt.Sprintf("matched segment %q to episode %d via title score", m.segment.RawTitle, m.episode.Episode)
	} else {
		item.Explain = fmt.Sprintf("no confident episode match for segment %q", m.segment.RawTitle)
	}
	if m.llmAlt != nil {
		item.Alternatives = append(item.Alternatives, *m.llmAlt)
	}
	return item
}
