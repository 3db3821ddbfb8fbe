// Package domain defines the entities shared across the scan/plan/apply
// pipeline: media files, provider entities, plan artifacts, and the
// rollback manifest. These are plain value types; persistence lives in
// internal/cache, and behavior that produces or consumes them lives in the
// per-component packages (mapper, anthology, planner, apply).
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"time"
)

// MediaType enumerates the three libraries NameGnome Serve renames.
type MediaType string

const (
	MediaTV    MediaType = "tv"
	MediaMovie MediaType = "movie"
	MediaMusic MediaType = "music"
)

// Origin records whether a PlanItem came from the deterministic mapper or
// the anthology resolver's LLM assist pass.
type Origin string

const (
	OriginDeterministic Origin = "deterministic"
	OriginLLM           Origin = "llm"
)

// ConfidenceBucket is derived from PlanItem.Confidence per the thresholds in
// the plan assembler (bucketing rules: high >= 0.90, medium >= 0.70).
type ConfidenceBucket string

const (
	BucketHigh   ConfidenceBucket = "high"
	BucketMedium ConfidenceBucket = "medium"
	BucketLow    ConfidenceBucket = "low"
)

// Bucket derives the confidence bucket for a given confidence score.
func Bucket(confidence float64) ConfidenceBucket {
	switch {
	case confidence >= 0.90:
		return BucketHigh
	case confidence >= 0.70:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Segment is a contiguous episode-like subunit within a filename: an
// integer interval plus the tokenized title words spanning it.
type Segment struct {
	Start       int      `json:"start"`
	End         int      `json:"end"`
	TitleTokens []string `json:"title_tokens,omitempty"`
	RawTitle    string   `json:"raw_title"`
}

// MediaFile is an immutable scan result: one file on disk plus everything
// the scanner's filename grammar parsed out of it.
type MediaFile struct {
	Path          string    `json:"path"`
	Size          int64     `json:"size"`
	ModTime       time.Time `json:"mod_time"`
	ContentHash   string    `json:"content_hash"`
	Type          MediaType `json:"type"`
	TitleHint     string    `json:"title_hint"`
	Year          int       `json:"year"` // 0 = absent
	Season        int       `json:"season"` // 0 = absent (movie/music)
	Episodes      []int     `json:"episodes,omitempty"`
	Segments      []Segment `json:"segments,omitempty"`
	DirectoryHint string    `json:"directory_hint,omitempty"`
}

// ScanSnapshot binds a set of MediaFiles to the filesystem state observed
// when they were scanned, via a deterministic fingerprint over paths and
// modification times.
type ScanSnapshot struct {
	ScanID      string      `json:"scan_id"`
	Files       []MediaFile `json:"files"`
	Fingerprint string      `json:"fingerprint"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Fingerprint is the canonical H(paths ∥ mtimes) this system uses to detect
// a stale PlanReview: the scanner computes it over the files it observed,
// and internal/apply recomputes it over the current filesystem state
// before renaming so a plan built against a snapshot that has since
// changed is rejected per-item rather than silently misapplied.
func Fingerprint(files []MediaFile) string {
	sorted := make([]MediaFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, f := range sorted {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(f.ModTime.UnixNano(), 10)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ProviderEntity is a normalized provider search/fetch result, uniquely
// keyed by (Provider, Type, ExtID).
type ProviderEntity struct {
	Provider   string         `json:"provider"`
	Type       MediaType      `json:"type"`
	ExtID      string         `json:"ext_id"`
	TitleNorm  string         `json:"title_norm"`
	TitleRaw   string         `json:"title_raw"`
	Year       int            `json:"year"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	FetchedAt  time.Time      `json:"fetched_at"`
	TTLSeconds int            `json:"ttl_seconds"`
}

// Episode is a canonical (series, season, episode) record from a provider.
type Episode struct {
	Provider string         `json:"provider"`
	SeriesID string         `json:"series_id"`
	Season   int            `json:"season"`
	Episode  int            `json:"episode"`
	Title    string         `json:"title"`
	AirDate  string         `json:"air_date,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Track is a canonical (album, disc, track) record from a provider.
type Track struct {
	Provider string         `json:"provider"`
	AlbumID  string         `json:"album_id"`
	Disc     int            `json:"disc"`
	Track    int            `json:"track"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Decision is a persisted disambiguation choice keyed by (scope, title_norm,
// year). Year == YearUnknown encodes "year unknown". Decisions never expire
// implicitly.
type Decision struct {
	Scope     string    `json:"scope"`
	TitleNorm string    `json:"title_norm"`
	Year      int       `json:"year"`
	Provider  string    `json:"provider"`
	ExtID     string    `json:"ext_id"`
	DecidedAt time.Time `json:"decided_at"`
}

// YearUnknown is the sentinel value for Decision.Year and search filters
// when no year was parsed from the source filename.
const YearUnknown = -1

// CacheEntry is an opaque provider response blob keyed by CacheKey, distinct
// from ProviderEntity rows (those are normalized; these are raw payloads).
type CacheEntry struct {
	CacheKey  string    `json:"cache_key"`
	Payload   []byte    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Lock is a per-root cooperative advisory lock row.
type Lock struct {
	Name       string    `json:"name"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Warning is a stable machine code attached to a PlanItem or group; see
// internal/anthology and internal/svcerr for the taxonomy of codes used.
type Warning string

const (
	WarnOverlapUnresolved      Warning = "overlap_unresolved"
	WarnGapPresent             Warning = "gap_present"
	WarnTitleLowMatch          Warning = "title_low_match"
	WarnPrefixMonikerStripped  Warning = "prefix_moniker_stripped"
	WarnLowTokenOverlap        Warning = "low_token_overlap"
	WarnLLMUnavailable         Warning = "llm_unavailable"
	WarnTieBreakerDeterministic Warning = "tie_breaker_deterministic_preferred"
	WarnNeedsReview            Warning = "needs_review"
	WarnStale                  Warning = "stale"
)

// SourceRef names a single provider source that contributed to a PlanItem.
type SourceRef struct {
	Provider string `json:"provider"`
	ExtID    string `json:"ext_id"`
	Type     string `json:"type"`
}

// Destination is the resolved target of a rename: a path plus whichever of
// Episode/Movie/Track metadata applies to the media type.
type Destination struct {
	Path    string   `json:"path"`
	Episode *Episode `json:"episode,omitempty"`
	Year    int      `json:"year,omitempty"`
}

// Disambiguation describes a pending choice a PlanItem is blocked on.
type Disambiguation struct {
	Token      string      `json:"token"`
	Field      string      `json:"field"`
	Candidates []Candidate `json:"candidates"`
	Suggested  string      `json:"suggested"`
}

// Candidate is one option offered to the caller when resolving a
// Disambiguation.
type Candidate struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
	Title    string `json:"title"`
	Year     int    `json:"year"`
}

// PlanItem is one proposed rename: a source file (optionally a segment
// range within it) mapped to a destination path plus provenance.
type PlanItem struct {
	ID             string          `json:"id"`
	Origin         Origin          `json:"origin"`
	Confidence     float64         `json:"confidence"`
	Bucket         ConfidenceBucket `json:"confidence_bucket"`
	SrcPath        string          `json:"src_path"`
	SrcSegment     *Segment        `json:"src_segment,omitempty"`
	Dst            Destination     `json:"dst"`
	Sources        []SourceRef     `json:"sources,omitempty"`
	Warnings       []Warning       `json:"warnings,omitempty"`
	Anthology      bool            `json:"anthology,omitempty"`
	Disambiguation *Disambiguation `json:"disambiguation,omitempty"`
	Alternatives   []PlanItem      `json:"alternatives,omitempty"`
	Explain        string          `json:"explain,omitempty"`
}

// PlanGroup clusters PlanItems sharing a source file path.
type PlanGroup struct {
	SrcPath       string    `json:"src_path"`
	ItemIDs       []string  `json:"item_ids"`
	MinConfidence float64   `json:"min_confidence"`
	MaxConfidence float64   `json:"max_confidence"`
	Warnings      []Warning `json:"warnings,omitempty"`
}

// Summary aggregates counts across a PlanReview for quick client display.
type Summary struct {
	TotalItems            int                      `json:"total_items"`
	ByOrigin              map[Origin]int           `json:"by_origin"`
	ByBucket              map[ConfidenceBucket]int `json:"by_confidence_bucket"`
	WarningCounts         map[Warning]int          `json:"warning_counts"`
	AnthologyCandidates   int                      `json:"anthology_candidates"`
	DisambiguationsNeeded int                      `json:"disambiguations_needed"`
}

// PlanReview is the authoritative plan artifact returned by /plan and
// consumed by /apply. Serializing a PlanReview twice (excluding
// GeneratedAt) must yield byte-identical bytes — see
// internal/planner.MarshalPlanReview.
type PlanReview struct {
	PlanID            string      `json:"plan_id"`
	SchemaVersion     string      `json:"schema_version"`
	GeneratedAt       time.Time   `json:"generated_at"`
	ScanID            string      `json:"scan_id"`
	SourceFingerprint string      `json:"source_fingerprint"`
	MediaType         MediaType   `json:"media_type"`
	Summary           Summary     `json:"summary"`
	Groups            []PlanGroup `json:"groups"`
	Items             []PlanItem  `json:"items"`
	Notes             []string    `json:"notes,omitempty"`
}

// RollbackEntry records one committed rename sufficient to reverse it.
type RollbackEntry struct {
	Src    string    `json:"src"`
	Dst    string    `json:"dst"`
	Status string    `json:"status"`
	Inode  uint64    `json:"inode"`
	MTime  time.Time `json:"mtime"`
}

// RollbackManifest is a persisted record of committed renames for an Apply
// run, keyed by ReportID so a later `apply rollback <token>` can undo them.
type RollbackManifest struct {
	ReportID  string          `json:"report_id"`
	CreatedAt time.Time       `json:"created_at"`
	Mode      string          `json:"mode"`
	Entries   []RollbackEntry `json:"entries"`
}

// ApplyMode selects how the apply executor (C7) handles a hard per-item
// failure.
type ApplyMode string

const (
	ApplyDryRun            ApplyMode = "dry_run"
	ApplyTransactional     ApplyMode = "transactional"
	ApplyContinueOnError   ApplyMode = "continue_on_error"
)

// CollisionStrategy selects how the apply executor handles a rename whose
// destination path already exists.
type CollisionStrategy string

const (
	CollisionSkip      CollisionStrategy = "skip"
	CollisionOverwrite CollisionStrategy = "overwrite"
	CollisionBackup    CollisionStrategy = "backup"
)

// ItemStatus is the per-item outcome of an Apply run.
type ItemStatus string

const (
	ItemCommitted    ItemStatus = "committed"
	ItemSkipped      ItemStatus = "skipped"
	ItemFailed       ItemStatus = "failed"
	ItemStale        ItemStatus = "stale"
	ItemRolledBack   ItemStatus = "rolled_back"
	ItemRollbackSkipped ItemStatus = "rollback_skipped"
)

// ApplyItemResult is the per-PlanItem outcome an Apply run reports.
type ApplyItemResult struct {
	ItemID string     `json:"item_id"`
	Src    string      `json:"src"`
	Dst    string      `json:"dst"`
	Status ItemStatus  `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// ApplyResult is the authoritative outcome of one Apply invocation: the
// REST layer returns it as 200 (all committed or dry-run) or 207 (mixed
// outcomes under continue-on-error or a rolled-back transactional run).
type ApplyResult struct {
	PlanID       string            `json:"plan_id"`
	Mode         ApplyMode         `json:"mode"`
	DryRun       bool              `json:"dry_run"`
	RollbackToken string           `json:"rollback_token,omitempty"`
	Items        []ApplyItemResult `json:"items"`
}
