package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// VODLaneCatalog is one catch-up category lane: a named subset of the VOD
// catalog (e.g. "sports", "menaTV") produced by SplitVODIntoLanes.
type VODLaneCatalog struct {
	Name   string
	Movies []Movie
	Series []Series
}

// DefaultVODLanes returns the built-in catch-up lane order. Lanes not in
// this list (custom or future splitter output) sort after it
// alphabetically; see SplitVODIntoLanes.
func DefaultVODLanes() []string {
	return []string{
		"bcastUS",
		"sports",
		"news",
		"kids",
		"music",
		"euroUKMovies",
		"euroUKTV",
		"menaMovies",
		"menaTV",
		// Aggregate names kept for splitters that haven't adopted the
		// finer-grained lanes above.
		"euroUK",
		"mena",
		"movies",
		"tv",
		"intl",
	}
}

// SplitVODIntoLanes groups movies/series into catch-up category lanes.
// It expects ApplyVODTaxonomy to have already run, but degrades to title
// heuristics when Category/Region/Language/SourceTag are empty.
func SplitVODIntoLanes(movies []Movie, series []Series) []VODLaneCatalog {
	lanes := map[string]*VODLaneCatalog{}
	laneFor := func(name string) *VODLaneCatalog {
		l, ok := lanes[name]
		if !ok {
			l = &VODLaneCatalog{Name: name}
			lanes[name] = l
		}
		return l
	}

	for _, m := range movies {
		name := movieLane(m)
		l := laneFor(name)
		l.Movies = append(l.Movies, m)
	}
	for _, s := range series {
		name := seriesLane(s)
		l := laneFor(name)
		l.Series = append(l.Series, s)
	}

	out := make([]VODLaneCatalog, 0, len(lanes))
	for _, name := range DefaultVODLanes() {
		if l, ok := lanes[name]; ok {
			out = append(out, *l)
			delete(lanes, name)
		}
	}
	remaining := make([]string, 0, len(lanes))
	for name := range lanes {
		remaining = append(remaining, name)
	}
	sort.Strings(remaining)
	for _, name := range remaining {
		out = append(out, *lanes[name])
	}
	return out
}

func movieLane(m Movie) string {
	category, region, _, _ := resolveTaxonomyFields(m.Category, m.Region, m.Language, m.SourceTag, m.ProviderCategoryName, m.Title, "movie")
	switch category {
	case "sports":
		return "sports"
	case "news":
		return "news"
	case "kids":
		return "kids"
	case "music":
		return "music"
	}
	switch region {
	case "uk", "europe":
		return "euroUKMovies"
	case "mena":
		return "menaMovies"
	default:
		return "movies"
	}
}

func seriesLane(s Series) string {
	category, region, lang, source := resolveTaxonomyFields(s.Category, s.Region, s.Language, s.SourceTag, s.ProviderCategoryName, s.Title, "show")
	switch category {
	case "sports":
		return "sports"
	case "news":
		return "news"
	case "kids":
		return "kids"
	case "music":
		return "music"
	}
	switch region {
	case "uk", "europe":
		return "euroUKTV"
	case "mena":
		return "menaTV"
	case "us", "ca":
		if looksBroadcastUS(region, defaultLanguage(lang), source, s.ProviderCategoryName, s.Title) {
			return "bcastUS"
		}
		return "tv"
	default:
		return "tv"
	}
}

// looksBroadcastUS decides whether a US/CA-region series belongs in the
// bcastUS lane versus the generic tv lane: dubbed/subbed regional repacks
// (Persian, Arabic, Hindi, ...) stay out even when the catalog tagged
// them as US/CA region.
func looksBroadcastUS(region, language, sourceTag, providerCategoryName, title string) bool {
	if region != "us" && region != "ca" {
		return false
	}
	if language != "en" {
		return false
	}
	upCat := strings.ToUpper(strings.TrimSpace(providerCategoryName))
	upTag := strings.ToUpper(strings.TrimSpace(sourceTag))
	upTitle := strings.ToUpper(strings.TrimSpace(title))

	if hasAnyMarker(upCat, "PERSIAN", "ARAB", "HINDI", "TURK", "DUB", "SUB", "FRENCH", "GERMAN", "ITALIAN", "SPANISH") {
		return false
	}
	if upTag != "" && !hasAnyMarker(upTag, "EN", "US", "CA", "4K-NF", "4K-A+", "4K-D+", "AMZN", "HBO", "HULU", "NF", "A+", "D+") {
		return false
	}
	if hasAnyMarker(upCat, "CANADIAN", "CANADA", "US SERIES", "USA", "AMERICAN", "ENGLISH SERIES", "ENGLISH TV") {
		return true
	}
	if hasAnyMarker(upCat, "SERIES", "TV SHOW", "DRAMA", "COMEDY", "SITCOM", "REALITY", "SOAP", "CRIME", "THRILLER") &&
		hasAnyMarker(upTitle, "(US)", "(CA)") {
		return true
	}
	return hasAnyMarker(upTitle, "(US)", "(CA)") && hasAnyMarker(upTag, "EN", "US", "CA", "4K-EN")
}

func defaultLanguage(s string) string {
	if strings.TrimSpace(s) == "" {
		return "en"
	}
	return s
}

// resolveTaxonomyFields fills in whatever of (category, region, language,
// sourceTag) a record is still missing by re-running classifyEntry, so
// callers that skipped ApplyVODTaxonomy still get a usable lane.
func resolveTaxonomyFields(category, region, language, sourceTag, providerCategoryName, title, kind string) (string, string, string, string) {
	if category == "" || region == "" || language == "" {
		c, r, l, s := classifyEntry(title, kind, providerCategoryName)
		if category == "" {
			category = c
		}
		if region == "" {
			region = r
		}
		if language == "" {
			language = l
		}
		if sourceTag == "" {
			sourceTag = s
		}
	}
	if region == "" {
		region = "intl"
	}
	if category == "" {
		category = defaultCategoryForKind(kind)
	}
	return category, region, language, sourceTag
}

// SaveVODLanes writes one catalog JSON file per non-empty lane under
// outDir (named <lane>.json) and returns the written paths keyed by lane
// name. Each lane catalog carries only VOD data; live channels are
// dropped since lanes are a catch-up/on-demand concept.
func SaveVODLanes(outDir string, lanes []VODLaneCatalog) (map[string]string, error) {
	if strings.TrimSpace(outDir) == "" {
		return nil, fmt.Errorf("catalog: vod lanes output directory required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("catalog: mkdir %s: %w", outDir, err)
	}
	written := map[string]string{}
	for _, lane := range lanes {
		if len(lane.Movies) == 0 && len(lane.Series) == 0 {
			continue
		}
		p := filepath.Join(outDir, lane.Name+".json")
		c := New()
		c.ReplaceWithLive(lane.Movies, lane.Series, nil)
		if err := c.Save(p); err != nil {
			return nil, fmt.Errorf("catalog: save lane %s: %w", lane.Name, err)
		}
		written[lane.Name] = p
	}
	return written, nil
}
