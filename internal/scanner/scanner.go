// Package scanner walks a library root and produces the domain.MediaFile
// list C3 consumes. spec.md treats the filename-regex grammar itself as a
// black box ("produces structured MediaFile + segments"); this package is a
// concrete, reasonable implementation of that contract, not a claim that
// its parsing rules are the specification.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/namegnome/serve/internal/domain"
)

var videoExtensions = map[string]bool{".mkv": true, ".mp4": true, ".avi": true, ".m4v": true}
var audioExtensions = map[string]bool{".mp3": true, ".flac": true, ".m4a": true, ".ogg": true}

func extensionMatches(ext string, mediaType domain.MediaType) bool {
	switch mediaType {
	case domain.MediaTV, domain.MediaMovie:
		return videoExtensions[ext]
	case domain.MediaMusic:
		return audioExtensions[ext]
	default:
		return false
	}
}

// Options configures one Scan invocation.
type Options struct {
	Root      string
	MediaType domain.MediaType
	Anthology bool // when true, a single-episode TV file's title is treated as a multi-segment candidate
}

var (
	tvPattern = regexp.MustCompile(`(?i)^(.+?)[ ._-]+[Ss](\d{1,2})[Ee](\d{1,2}(?:[-–][Ee]?\d{1,2})*)[ ._-]+(.+)$`)
	epRunPattern = regexp.MustCompile(`(?i)\d{1,2}`)
	yearPattern  = regexp.MustCompile(`\((\d{4})\)`)
	trackPattern = regexp.MustCompile(`(?i)^(?:track)?\s*(\d{1,3})[ ._-]+(.+)$`)
)

// Scan walks opts.Root for media files matching opts.MediaType's extensions
// and returns a ScanSnapshot: one MediaFile per match plus the fingerprint
// internal/apply later re-derives to detect staleness.
func Scan(ctx context.Context, opts Options) (domain.ScanSnapshot, error) {
	var files []domain.MediaFile

	err := filepath.WalkDir(opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !extensionMatches(ext, opts.MediaType) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		mf := domain.MediaFile{
			Path:          path,
			Size:          info.Size(),
			ModTime:       info.ModTime(),
			Type:          opts.MediaType,
			DirectoryHint: filepath.Base(filepath.Dir(path)),
		}
		parseName(&mf, strings.TrimSuffix(filepath.Base(path), ext), opts)
		files = append(files, mf)
		return nil
	})
	if err != nil {
		return domain.ScanSnapshot{}, fmt.Errorf("scanner: walk %s: %w", opts.Root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return domain.ScanSnapshot{
		ScanID:      "scn_" + uuid.NewString(),
		Files:       files,
		Fingerprint: domain.Fingerprint(files),
	}, nil
}

func parseName(mf *domain.MediaFile, base string, opts Options) {
	if y := yearFromHint(mf.DirectoryHint); y > 0 {
		mf.Year = y
	}

	switch opts.MediaType {
	case domain.MediaTV:
		parseTV(mf, base, opts.Anthology)
	case domain.MediaMovie:
		parseMovie(mf, base)
	case domain.MediaMusic:
		parseMusic(mf, base)
	}

	if mf.TitleHint == "" {
		mf.TitleHint = mf.DirectoryHint
	}
}

func parseTV(mf *domain.MediaFile, base string, anthology bool) {
	m := tvPattern.FindStringSubmatch(base)
	if m == nil {
		mf.TitleHint = cleanTitle(base)
		return
	}
	mf.TitleHint = cleanTitle(m[1])
	season, _ := strconv.Atoi(m[2])
	mf.Season = season
	mf.Episodes = parseEpisodeRun(m[3])
	rawTitle := cleanTitle(m[4])

	if anthology && len(mf.Episodes) == 1 {
		mf.Segments = splitAnthologyTitle(rawTitle, mf.Episodes[0])
	}
}

// parseEpisodeRun expands "01-E02" / "01-02" into the contiguous list
// [1, 2]; a lone number ("07") yields a single-element list.
func parseEpisodeRun(run string) []int {
	nums := epRunPattern.FindAllString(run, -1)
	if len(nums) == 0 {
		return nil
	}
	first, _ := strconv.Atoi(nums[0])
	if len(nums) == 1 {
		return []int{first}
	}
	last, _ := strconv.Atoi(nums[len(nums)-1])
	if last < first {
		return []int{first}
	}
	out := make([]int, 0, last-first+1)
	for n := first; n <= last; n++ {
		out = append(out, n)
	}
	return out
}

// splitAnthologyTitle produces a provisional two-way split of a raw title
// string into candidate segments anchored at ep. internal/anthology's
// interval algebra (overlap resolution, gap detection, prefix stripping) is
// what actually decides the final boundaries; this only needs to hand it
// more than one candidate segment to resolve.
func splitAnthologyTitle(rawTitle string, ep int) []domain.Segment {
	words := strings.Fields(rawTitle)
	if len(words) < 2 {
		return nil
	}
	mid := len(words) / 2
	first := strings.Join(words[:mid], " ")
	second := strings.Join(words[mid:], " ")
	return []domain.Segment{
		{Start: ep, End: ep, RawTitle: first, TitleTokens: words[:mid]},
		{Start: ep, End: ep + 1, RawTitle: second, TitleTokens: words[mid:]},
	}
}

func parseMovie(mf *domain.MediaFile, base string) {
	title := base
	if m := yearPattern.FindStringSubmatch(base); m != nil {
		year, _ := strconv.Atoi(m[1])
		mf.Year = year
		title = strings.TrimSpace(base[:strings.Index(base, m[0])])
	}
	mf.TitleHint = cleanTitle(title)
}

func parseMusic(mf *domain.MediaFile, base string) {
	m := trackPattern.FindStringSubmatch(base)
	if m == nil {
		mf.TitleHint = cleanTitle(base)
		return
	}
	track, _ := strconv.Atoi(m[1])
	mf.Episodes = []int{track}
	mf.TitleHint = cleanTitle(m[2])
}

func yearFromHint(hint string) int {
	m := yearPattern.FindStringSubmatch(hint)
	if m == nil {
		return 0
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return year
}

var titleNoisePattern = regexp.MustCompile(`[._]`)

func cleanTitle(raw string) string {
	cleaned := titleNoisePattern.ReplaceAllString(raw, " ")
	return strings.TrimSpace(strings.Join(strings.Fields(cleaned), " "))
}
