// Package naming builds destination paths conforming to spec §6's naming
// grammar: TV, Movie, and Music renders. It is the single place that knows
// how to turn a resolved entity plus episode/track metadata into the
// `dst.path` every PlanItem carries — grounded on the teacher's
// identification/title.go normalization helpers, generalized from movie
// titles alone to all three media grammars this service targets.
package naming

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// reservedChars replaces filesystem-reserved characters with grammar-safe
// stand-ins rather than dropping them silently, so a title like "Who's on
// First?" degrades predictably instead of losing information.
var reservedChars = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", " -",
	"*", "",
	"?", "",
	"\"", "'",
	"<", "(",
	">", ")",
	"|", "-",
)

// SanitizeComponent NFC-normalizes s, strips reserved filesystem characters,
// and collapses whitespace, producing one path component safe for every
// target filesystem this service writes to.
func SanitizeComponent(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = reservedChars.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// YearLabel renders year for embedding in a path component; an absent or
// sentinel year renders as "Unknown" rather than "-1" or "0".
func YearLabel(year int) string {
	if year <= 0 {
		return "Unknown"
	}
	return strconv.Itoa(year)
}

// Extension returns srcPath's extension without the leading dot.
func Extension(srcPath string) string {
	return strings.TrimPrefix(filepath.Ext(srcPath), ".")
}

// TVPath builds `<Show> (<Year>)/Season <SS>/<Show> - S<SS>E<EE>[-E<EE>] -
// <Title>[ & <Title>].<ext>` per spec §6. epEnd == epStart for a
// single-episode file; titles is one title per covered episode, joined with
// " & " for anthology spans.
func TVPath(srcPath, show string, year, season, epStart, epEnd int, titles []string) string {
	showClean := SanitizeComponent(show)
	seriesDir := fmt.Sprintf("%s (%s)", showClean, YearLabel(year))
	seasonDir := fmt.Sprintf("Season %02d", season)

	code := fmt.Sprintf("S%02dE%02d", season, epStart)
	if epEnd > epStart {
		code += fmt.Sprintf("-E%02d", epEnd)
	}

	cleanTitles := make([]string, 0, len(titles))
	for _, t := range titles {
		if t = SanitizeComponent(t); t != "" {
			cleanTitles = append(cleanTitles, t)
		}
	}
	titlePart := strings.Join(cleanTitles, " & ")

	fname := fmt.Sprintf("%s - %s - %s.%s", showClean, code, titlePart, Extension(srcPath))
	return filepath.Join(seriesDir, seasonDir, fname)
}

// MoviePath builds `<Title> (<Year>)/<Title> (<Year>).<ext>` per spec §6.
func MoviePath(srcPath, title string, year int) string {
	clean := SanitizeComponent(title)
	labeled := fmt.Sprintf("%s (%s)", clean, YearLabel(year))
	fname := fmt.Sprintf("%s.%s", labeled, Extension(srcPath))
	return filepath.Join(labeled, fname)
}

// MusicPath builds `<Artist>/<Album> (<Year>)/Track<NN> - <Title>.<ext>` per
// spec §6; track numbers are zero-padded to two digits.
func MusicPath(srcPath, artist, album string, year, track int, title string) string {
	artistDir := SanitizeComponent(artist)
	albumDir := fmt.Sprintf("%s (%s)", SanitizeComponent(album), YearLabel(year))
	fname := fmt.Sprintf("Track%02d - %s.%s", track, SanitizeComponent(title), Extension(srcPath))
	return filepath.Join(artistDir, albumDir, fname)
}
