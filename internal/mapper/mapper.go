// Package mapper implements C3: resolves each scanned MediaFile to a
// canonical provider entity and builds the deterministic PlanItem
// candidates spec.md §4.3 describes. Anthology-candidate TV files are
// forwarded to an AnthologyResolver (internal/anthology) rather than
// handled here.
package mapper

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/naming"
	"github.com/namegnome/serve/internal/provider"
)

// AnthologyResolver is the subset of internal/anthology's API the mapper
// depends on. Defined here (rather than imported from internal/anthology)
// so mapper has no import-cycle on the package that, in the dataflow
// sketch (spec.md §2), sits downstream of it.
type AnthologyResolver interface {
	Resolve(ctx context.Context, scope string, file domain.MediaFile, episodes []domain.Episode) ([]domain.PlanItem, error)
}

// Mapper is C3: the deterministic mapping pipeline from scanned files to
// PlanItem candidates.
type Mapper struct {
	store     *cache.Store
	gateway   *provider.Gateway
	anthology AnthologyResolver
}

// New constructs a Mapper. anthology may be nil; anthology-candidate TV
// files then fall back to the non-anthology per-episode match with a
// needs_review warning instead of being refined further.
func New(store *cache.Store, gateway *provider.Gateway, anthology AnthologyResolver) *Mapper {
	return &Mapper{store: store, gateway: gateway, anthology: anthology}
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// resolveEntity implements spec.md §4.3 step 1: Decision lookup, then
// search, pinning a unique result or raising disambiguation on ambiguity.
// On ambiguity the entity is nil and the second return value carries the
// raised Disambiguation, which Map attaches to the PlanItem it returns.
func (m *Mapper) resolveEntity(ctx context.Context, scope string, mediaType domain.MediaType, titleHint string, year int) (*domain.ProviderEntity, *domain.Disambiguation, error) {
	titleNorm := normalizeTitle(titleHint)

	if decision, ok, err := m.store.GetDecision(ctx, scope, titleNorm, year); err == nil && ok {
		entity, ok, err := m.store.GetEntity(ctx, decision.Provider, mediaType, decision.ExtID)
		if err == nil && ok {
			return &entity, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("resolve decision %s/%s: %w", decision.Provider, decision.ExtID, err)
		}
	}

	results, err := m.gateway.Search(ctx, mediaType, provider.SearchQuery{Title: titleHint, Year: year})
	if err != nil {
		return nil, nil, err
	}

	filtered := results
	if year != domain.YearUnknown && year > 0 {
		var yearMatched []domain.ProviderEntity
		for _, r := range results {
			if r.Year == year {
				yearMatched = append(yearMatched, r)
			}
		}
		if len(yearMatched) > 0 {
			filtered = yearMatched
		}
	}

	switch len(filtered) {
	case 0:
		return nil, nil, fmt.Errorf("mapper: no provider results for %q", titleHint)
	case 1:
		return &filtered[0], nil, nil
	default:
		token := "dsk_" + uuid.NewString()
		candidates := make([]domain.Candidate, 0, len(filtered))
		for _, r := range filtered {
			candidates = append(candidates, domain.Candidate{
				Provider: r.Provider, ID: r.ExtID, Title: r.TitleRaw, Year: r.Year,
			})
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Title < candidates[j].Title })

		if err := m.store.PutDisambiguation(ctx, cache.PendingDisambiguation{
			Token:      token,
			ScanID:     scope,
			Field:      "entity",
			TitleNorm:  titleNorm,
			Year:       year,
			Candidates: candidates,
			Suggested:  candidates[0].ID,
		}); err != nil {
			return nil, nil, fmt.Errorf("persist disambiguation: %w", err)
		}
		return nil, &domain.Disambiguation{
			Token:      token,
			Field:      "entity",
			Candidates: candidates,
			Suggested:  candidates[0].ID,
		}, nil
	}
}

// Map produces the PlanItem candidate(s) for a single scanned file. scope
// identifies the library root for Decision persistence (e.g. the
// configured `--root`).
func (m *Mapper) Map(ctx context.Context, scope string, file domain.MediaFile) ([]domain.PlanItem, error) {
	entity, disambiguation, err := m.resolveEntity(ctx, scope, file.Type, file.TitleHint, yearOrUnknown(file.Year))
	if err != nil {
		return nil, err
	}
	if disambiguation != nil {
		return []domain.PlanItem{{
			ID:             uuid.NewString(),
			Origin:         domain.OriginDeterministic,
			SrcPath:        file.Path,
			Disambiguation: disambiguation,
			Warnings:       []domain.Warning{domain.WarnNeedsReview},
		}}, nil
	}

	switch file.Type {
	case domain.MediaTV:
		return m.mapTV(ctx, scope, file, *entity)
	case domain.MediaMovie:
		return []domain.PlanItem{m.mapMovie(scope, file, *entity)}, nil
	case domain.MediaMusic:
		return m.mapMusic(ctx, scope, file, *entity)
	default:
		return nil, fmt.Errorf("mapper: unknown media type %q", file.Type)
	}
}

func yearOrUnknown(year int) int {
	if year <= 0 {
		return domain.YearUnknown
	}
	return year
}

func (m *Mapper) mapTV(ctx context.Context, scope string, file domain.MediaFile, series domain.ProviderEntity) ([]domain.PlanItem, error) {
	episodes, _, err := m.gateway.ListChildren(ctx, series.Provider, provider.EntityRef{Type: domain.MediaTV, ExtID: series.ExtID})
	if err != nil {
		return nil, err
	}

	isAnthologyCandidate := len(file.Segments) > 1
	if isAnthologyCandidate && m.anthology != nil {
		return m.anthology.Resolve(ctx, scope, file, episodes)
	}

	items := make([]domain.PlanItem, 0, len(file.Episodes))
	for _, epNum := range file.Episodes {
		ep := findEpisode(episodes, file.Season, epNum)
		item := domain.PlanItem{
			ID:      uuid.NewString(),
			Origin:  domain.OriginDeterministic,
			SrcPath: file.Path,
			Sources: []domain.SourceRef{{Provider: series.Provider, ExtID: series.ExtID, Type: "series"}},
		}
		if ep == nil {
			item.Confidence = 0
			item.Warnings = append(item.Warnings, domain.WarnNeedsReview)
		} else {
			item.Confidence = 1.0
			item.Dst = domain.Destination{
				Path:    filepath.Join(scope, naming.TVPath(file.Path, series.TitleRaw, series.Year, file.Season, epNum, epNum, []string{ep.Title})),
				Episode: ep,
				Year:    series.Year,
			}
		}
		item.Bucket = domain.Bucket(item.Confidence)
		if isAnthologyCandidate {
			item.Anthology = true
			if ep != nil {
				item.Warnings = append(item.Warnings, domain.WarnNeedsReview)
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func findEpisode(episodes []domain.Episode, season, episode int) *domain.Episode {
	for i := range episodes {
		if episodes[i].Season == season && episodes[i].Episode == episode {
			return &episodes[i]
		}
	}
	return nil
}

func (m *Mapper) mapMovie(scope string, file domain.MediaFile, entity domain.ProviderEntity) domain.PlanItem {
	confidence := 1.0
	var warnings []domain.Warning
	if file.Year == 0 {
		confidence = 0.9
	}
	if confidence < 0.9 {
		warnings = append(warnings, domain.WarnTitleLowMatch)
	}
	return domain.PlanItem{
		ID:         uuid.NewString(),
		Origin:     domain.OriginDeterministic,
		Confidence: confidence,
		Bucket:     domain.Bucket(confidence),
		SrcPath:    file.Path,
		Dst: domain.Destination{
			Path: filepath.Join(scope, naming.MoviePath(file.Path, entity.TitleRaw, entity.Year)),
			Year: entity.Year,
		},
		Sources:  []domain.SourceRef{{Provider: entity.Provider, ExtID: entity.ExtID, Type: "movie"}},
		Warnings: warnings,
	}
}

func (m *Mapper) mapMusic(ctx context.Context, scope string, file domain.MediaFile, album domain.ProviderEntity) ([]domain.PlanItem, error) {
	_, tracks, err := m.gateway.ListChildren(ctx, album.Provider, provider.EntityRef{Type: domain.MediaMusic, ExtID: album.ExtID})
	if err != nil {
		return nil, err
	}

	var track *domain.Track
	for i := range tracks {
		if len(file.Episodes) > 0 && tracks[i].Track == file.Episodes[0] {
			track = &tracks[i]
			break
		}
	}

	item := domain.PlanItem{
		ID:      uuid.NewString(),
		Origin:  domain.OriginDeterministic,
		SrcPath: file.Path,
		Sources: []domain.SourceRef{{Provider: album.Provider, ExtID: album.ExtID, Type: "album"}},
	}
	if track == nil {
		item.Confidence = 0
		item.Warnings = append(item.Warnings, domain.WarnNeedsReview)
	} else {
		item.Confidence = 1.0
		artist, _ := album.Metadata["artist"].(string)
		if strings.TrimSpace(artist) == "" {
			artist = "Unknown Artist"
		}
		item.Dst = domain.Destination{
			Path: filepath.Join(scope, naming.MusicPath(file.Path, artist, album.TitleRaw, album.Year, track.Track, track.Title)),
			Year: album.Year,
		}
	}
	item.Bucket = domain.Bucket(item.Confidence)
	return []domain.PlanItem{item}, nil
}
