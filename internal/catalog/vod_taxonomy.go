package catalog

import (
	"regexp"
	"sort"
	"strings"
)

var nonAlphaNumRe = regexp.MustCompile(`[^a-z0-9]+`)

// ApplyVODTaxonomy enriches movie/series entries with coarse category,
// region, language, and source-tag metadata and returns deterministically
// sorted copies. The classifier is heuristic and title/provider-category
// driven — it exists to give the catch-up lane splitter (vod_split.go)
// something stable to group by, not to be a precise content taxonomy.
func ApplyVODTaxonomy(movies []Movie, series []Series) ([]Movie, []Series) {
	outMovies := make([]Movie, len(movies))
	copy(outMovies, movies)
	for i := range outMovies {
		cat, region, lang, source := classifyEntry(outMovies[i].Title, "movie", outMovies[i].ProviderCategoryName)
		outMovies[i].Category = cat
		outMovies[i].Region = region
		outMovies[i].Language = lang
		outMovies[i].SourceTag = source
	}
	sort.SliceStable(outMovies, func(i, j int) bool {
		return movieTaxonomyLess(outMovies[i], outMovies[j])
	})

	outSeries := make([]Series, len(series))
	copy(outSeries, series)
	for i := range outSeries {
		cat, region, lang, source := classifyEntry(outSeries[i].Title, "show", outSeries[i].ProviderCategoryName)
		outSeries[i].Category = cat
		outSeries[i].Region = region
		outSeries[i].Language = lang
		outSeries[i].SourceTag = source
	}
	sort.SliceStable(outSeries, func(i, j int) bool {
		return seriesTaxonomyLess(outSeries[i], outSeries[j])
	})
	return outMovies, outSeries
}

func movieTaxonomyLess(a, b Movie) bool {
	ak := taxonomySortKey(a.Category, a.Region, a.Language, a.SourceTag, a.Title)
	bk := taxonomySortKey(b.Category, b.Region, b.Language, b.SourceTag, b.Title)
	if ak != bk {
		return ak < bk
	}
	if a.Year != b.Year {
		return a.Year < b.Year
	}
	return a.ID < b.ID
}

func seriesTaxonomyLess(a, b Series) bool {
	ak := taxonomySortKey(a.Category, a.Region, a.Language, a.SourceTag, a.Title)
	bk := taxonomySortKey(b.Category, b.Region, b.Language, b.SourceTag, b.Title)
	if ak != bk {
		return ak < bk
	}
	if a.Year != b.Year {
		return a.Year < b.Year
	}
	return a.ID < b.ID
}

// taxonomySortKey folds a record's classified fields into one comparable
// string so ApplyVODTaxonomy's output groups by (category, region,
// language, source, title) without a multi-field comparator at every
// call site.
func taxonomySortKey(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = normalizeTaxonomyKeyPart(p)
	}
	return strings.Join(normalized, "\x1f")
}

func normalizeTaxonomyKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlphaNumRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// classifyEntry derives (category, region, language, sourceTag) from a
// title, its kind ("movie" or "show"), and the provider's own category
// name, in that precedence: source-tag prefix first, then provider
// category, then broad keyword matching against the title text, each
// layer only filling in what the previous left unset.
func classifyEntry(title, kind, providerCategoryName string) (category, region, language, sourceTag string) {
	category = defaultCategoryForKind(kind)
	region = "intl"
	language = detectLanguage(title)
	sourceTag, displayTitle := splitSourceTag(title)
	hay := strings.ToUpper(strings.TrimSpace(displayTitle))
	sourceHay := strings.ToUpper(strings.TrimSpace(sourceTag))
	providerHay := strings.ToUpper(strings.TrimSpace(providerCategoryName))
	all := strings.TrimSpace(sourceHay + " " + hay)

	if r := regionFromSourceTag(sourceHay); r != "" {
		region = r
	}
	if c := categoryFromSourceTag(sourceHay); c != "" {
		category = c
	}
	if c, r := categoryRegionFromProviderTag(providerHay, kind); c != "" || r != "" {
		if c != "" {
			category = c
		}
		if r != "" {
			region = r
		}
	}

	switch {
	case hasAnyMarker(all, " TSN ", " ESPN ", " DAZN ", " SKY SPORTS", " BT SPORT", " NHL ", " NFL ", " NBA ", " MLB ", " UFC ", " WWE ", " BEIN SPORT", " FORMULA 1 ", " F1 "):
		category = "sports"
	case hasAnyMarker(all, " CNN ", " BBC NEWS", " FOX NEWS", " MSNBC ", " CNBC ", " BLOOMBERG", " ALJAZEERA", " AL JAZEERA", " FRANCE 24 ", " SKY NEWS"):
		category = "news"
	case hasAnyMarker(all, " MTV ", " MUCHMUSIC", " VEVO ", " APPLE MUSIC LIVE", " LIVE AT WEMBLEY", " UNPLUGGED"):
		category = "music"
	case hasAnyMarker(all, " NICKELODEON", " CARTOON NETWORK", " PBS KIDS", " DISNEY JUNIOR", " DISNEY CHANNEL", " DISNEY XD"):
		category = "kids"
	}

	switch {
	case hasAnyMarker(all, " UK", " GB", " BBC", " ITV", " CHANNEL 4", " SKY ", " BRIT", "(GB)"):
		region = "uk"
	case hasAnyMarker(all, " CANADA", "(CA)", " CTV", " CBC", " GLOBAL", " CITYTV", " ROGERS"):
		region = "ca"
	case hasAnyMarker(all, " US", "(US)", " NBC", " CBS", " ABC", " FOX"):
		region = "us"
	case hasAnyMarker(all, " OSN ", " SHAHID", " BEIN ", " AL JAZEERA", "(AE)", "(SA)", "(EG)", "(QA)"):
		region = "mena"
	case hasAnyMarker(all, "(DE)", "(FR)", "(ES)", "(IT)", "(NL)", "(SE)", "(NO)", "(DK)", "(FI)"):
		region = "europe"
	}

	return category, region, language, sourceTag
}

// categoryRegionFromProviderTag reads signal out of the provider's own
// category label before falling back to title keyword matching — a
// provider that already buckets "US TV Shows" beats us guessing from
// the title alone.
func categoryRegionFromProviderTag(providerCategory, kind string) (category, region string) {
	if providerCategory == "" {
		return "", ""
	}
	switch {
	case hasAnyMarker(providerCategory, "SPORT", "NBA", "NHL", "NFL", "MLB", "UFC", "WWE", "MOTORSPORT", "FORMULA", "SOCCER", "FOOTBALL"):
		category = "sports"
	case hasAnyMarker(providerCategory, "NEWS", "CURRENT AFFAIRS"):
		category = "news"
	case hasAnyMarker(providerCategory, "KIDS", "CHILD", "CARTOON", "ANIMATION", "DISNEY", "NICK"):
		category = "kids"
	case hasAnyMarker(providerCategory, "MUSIC", "CONCERT", "KARAOKE"):
		category = "music"
	case hasAnyMarker(providerCategory, "MOVIE", "FILM", "CINEMA"):
		category = "movies"
	case kind == "show" && hasAnyMarker(providerCategory, "SERIES", "TV SHOW", "SHOW"):
		category = "tv"
	}
	switch {
	case hasAnyMarker(providerCategory, "UK", "BRIT", "BRITISH"):
		region = "uk"
	case hasAnyMarker(providerCategory, "CANADA", "CANADIAN"):
		region = "ca"
	case hasAnyMarker(providerCategory, "USA", "UNITED STATES", "US "):
		region = "us"
	case hasAnyMarker(providerCategory, "ARAB", "MENA", "MIDDLE EAST", "GULF"):
		region = "mena"
	case hasAnyMarker(providerCategory, "EURO", "FRANCE", "GERMAN", "ITAL", "SPAIN", "NORDIC"):
		region = "europe"
	}
	return category, region
}

// regionFromSourceTag reads a leading "TAG - " prefix (see
// splitSourceTag) for an explicit region marker a provider-category
// guess can't see.
func regionFromSourceTag(tag string) string {
	switch {
	case tag == "":
		return ""
	case strings.HasPrefix(tag, "UK"), strings.HasPrefix(tag, "GB"):
		return "uk"
	case strings.HasPrefix(tag, "US"), strings.HasPrefix(tag, "EN-US"):
		return "us"
	case strings.HasPrefix(tag, "CA"), strings.HasPrefix(tag, "CAN"):
		return "ca"
	case strings.HasPrefix(tag, "AR"), strings.HasPrefix(tag, "IR"), strings.HasPrefix(tag, "MENA"), strings.HasPrefix(tag, "BEIN"), strings.HasPrefix(tag, "OSN"):
		return "mena"
	case strings.HasPrefix(tag, "DE"), strings.HasPrefix(tag, "FR"), strings.HasPrefix(tag, "ES"), strings.HasPrefix(tag, "IT"), strings.HasPrefix(tag, "NL"), strings.HasPrefix(tag, "SE"), strings.HasPrefix(tag, "NO"), strings.HasPrefix(tag, "DK"), strings.HasPrefix(tag, "FI"):
		return "europe"
	}
	return ""
}

func categoryFromSourceTag(tag string) string {
	switch {
	case tag == "":
		return ""
	case strings.Contains(tag, "KIDS"):
		return "kids"
	case strings.HasPrefix(tag, "MTV"), strings.Contains(tag, "MUSIC"):
		return "music"
	case strings.Contains(tag, "SPORT"), strings.Contains(tag, "WWE"), strings.Contains(tag, "UFC"), strings.Contains(tag, "F1"):
		return "sports"
	case strings.Contains(tag, "NEWS"):
		return "news"
	}
	return ""
}

func defaultCategoryForKind(kind string) string {
	switch kind {
	case "show":
		return "tv"
	default:
		return "movies"
	}
}

// splitSourceTag peels a leading "TAG - Title" prefix off a title when
// the prefix looks like a provider source tag (short, upper-case-ish)
// rather than part of the title itself.
func splitSourceTag(title string) (tag, rest string) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", ""
	}
	parts := strings.SplitN(t, " - ", 2)
	if len(parts) != 2 {
		return "", t
	}
	p := strings.TrimSpace(parts[0])
	if p == "" || len(p) > 24 {
		return "", t
	}
	if !isSourceTagLike(p) {
		return "", t
	}
	return p, strings.TrimSpace(parts[1])
}

// isSourceTagLike requires at least two upper-case letters and no
// characters outside the set a real tag ("4K-NF", "UK-BBC") would use,
// so ordinary titles with a dash in them ("Star Wars: Episode I - The
// Phantom Menace") aren't mistaken for a tagged title.
func isSourceTagLike(s string) bool {
	upperish := 0
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			upperish++
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '+' || r == '&':
		default:
			return false
		}
	}
	return upperish >= 2
}

func detectLanguage(title string) string {
	if hasArabicRunes(title) {
		return "ar"
	}
	if hasCyrillicRunes(title) {
		return "ru"
	}
	return "en"
}

func hasArabicRunes(s string) bool {
	for _, r := range s {
		if r >= 0x0600 && r <= 0x06FF {
			return true
		}
	}
	return false
}

func hasCyrillicRunes(s string) bool {
	for _, r := range s {
		if r >= 0x0400 && r <= 0x04FF {
			return true
		}
	}
	return false
}

// hasAnyMarker reports whether s contains any needle, matching whole
// words by padding s with spaces first so a needle like " US" doesn't
// match inside "MUSIC".
func hasAnyMarker(s string, needles ...string) bool {
	padded := " " + strings.ToUpper(s) + " "
	for _, n := range needles {
		if strings.Contains(padded, strings.ToUpper(n)) {
			return true
		}
	}
	return false
}
