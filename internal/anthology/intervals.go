package anthology

import (
	"sort"

	"github.com/namegnome/serve/internal/domain"
)

const (
	titleMatchThreshold  = 0.67
	singletonThreshold   = 0.8
	maxPrefixTokens      = 6
	minPrefixSharedCount = 2
)

// normalizedSegment is a working copy of domain.Segment carrying its
// tokenized, prefix-stripped title alongside the warnings raised against
// it while its interval is normalized.
type normalizedSegment struct {
	Start, End int
	Tokens     []string
	RawTitle   string
	Warnings   []domain.Warning
}

// normalizeSegments implements spec.md §4.4 step 1: sort by Start, clamp any
// inverted Start/End, and tokenize each title.
func normalizeSegments(segments []domain.Segment) []normalizedSegment {
	out := make([]normalizedSegment, len(segments))
	for i, s := range segments {
		start, end := s.Start, s.End
		if end < start {
			start, end = end, start
		}
		tokens := s.TitleTokens
		if len(tokens) == 0 {
			tokens = tokenize(s.RawTitle)
		}
		out[i] = normalizedSegment{Start: start, End: end, Tokens: tokens, RawTitle: s.RawTitle}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// resolveOverlaps implements spec.md §4.4 step 2: adjacent segments whose
// ranges overlap are truncated to meet at the boundary; when truncation
// would invert a segment the pair is merged into one unresolved span flagged
// overlap_unresolved.
func resolveOverlaps(segments []normalizedSegment) []normalizedSegment {
	if len(segments) < 2 {
		return segments
	}
	out := make([]normalizedSegment, 0, len(segments))
	cur := segments[0]
	for i := 1; i < len(segments); i++ {
		next := segments[i]
		samePlaceholder := cur.Start == cur.End && next.Start == next.End && cur.Start == next.Start
		if next.Start > cur.End || samePlaceholder {
			// Identical single-point ranges mean the filename carried one
			// episode tag for several embedded titles (the common anthology
			// shape); that is resolved by title matching below, not here.
			out = append(out, cur)
			cur = next
			continue
		}
		// Overlap: try truncating cur to end just before next begins.
		if next.Start-1 >= cur.Start {
			cur.End = next.Start - 1
			out = append(out, cur)
			cur = next
			continue
		}
		// Truncation would invert cur; merge the pair instead.
		merged := normalizedSegment{
			Start:    cur.Start,
			End:      next.End,
			Tokens:   append(append([]string{}, cur.Tokens...), next.Tokens...),
			RawTitle: cur.RawTitle + " & " + next.RawTitle,
			Warnings: append(cur.Warnings, domain.WarnOverlapUnresolved),
		}
		cur = merged
	}
	out = append(out, cur)
	return out
}

// collapseSingletons implements spec.md §4.4 step 4: adjacent segments whose
// stripped titles match each other at or above singletonThreshold are
// collapsed into one segment spanning both ranges — a false split produced
// by a filename grammar that repeated the same title across tags.
func collapseSingletons(segments []normalizedSegment) []normalizedSegment {
	if len(segments) < 2 {
		return segments
	}
	out := make([]normalizedSegment, 0, len(segments))
	cur := segments[0]
	for i := 1; i < len(segments); i++ {
		next := segments[i]
		if jaccardScore(cur.Tokens, next.Tokens) >= singletonThreshold {
			cur = normalizedSegment{
				Start:    cur.Start,
				End:      next.End,
				Tokens:   cur.Tokens,
				RawTitle: cur.RawTitle,
				Warnings: cur.Warnings,
			}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

// stripMonikers applies stripSharedPrefix (spec.md §4.4 step 5) across all
// segments' tokens at once and flags every segment a prefix was removed
// from.
func stripMonikers(segments []normalizedSegment) []normalizedSegment {
	lists := make([][]string, len(segments))
	for i, s := range segments {
		lists[i] = s.Tokens
	}
	stripped, found := stripSharedPrefix(lists, maxPrefixTokens, minPrefixSharedCount)
	if !found {
		return segments
	}
	out := make([]normalizedSegment, len(segments))
	for i, s := range segments {
		s.Tokens = stripped[i]
		if len(stripped[i]) < len(lists[i]) {
			s.Warnings = append(s.Warnings, domain.WarnPrefixMonikerStripped)
		}
		out[i] = s
	}
	return out
}

// detectGaps implements spec.md §4.4 step 3: flags any segment whose
// position implies a canonical episode number was skipped relative to the
// contiguous run starting at anchor.
func detectGaps(segments []normalizedSegment, anchor int) []normalizedSegment {
	out := make([]normalizedSegment, len(segments))
	for i, s := range segments {
		expected := anchor + i
		if s.Start > expected {
			s.Warnings = append(s.Warnings, domain.WarnGapPresent)
		}
		out[i] = s
	}
	return out
}
