// Package output assembles playlist pipeline results (C5's []model.Item)
// into the wire formats media clients and library managers expect: M3U,
// Xtream Codes JSON, STRM files, and HDHomeRun device emulation (C11).
package output

import "github.com/ivgateway/ivproxy/internal/model"

// URLSigner mints a proxy URL for one item, used by every emitter that
// needs to replace a provider URL with a signed one (spec.md §4.11).
type URLSigner func(it model.Item) (string, error)

// Style is the STRM naming convention (spec.md §4.11).
type Style string

const (
	StyleKodi    Style = "kodi"
	StylePlex    Style = "plex"
	StyleEmby    Style = "emby"
	StyleJellyfin Style = "jellyfin"
)

// Options controls output assembly across every emitter.
type Options struct {
	IncludeTypeInURL bool // path includes /live/, /movie/, /series/
	MaskRedirectURL  bool // rewrite URLs through the proxy even in redirect mode

	SkipLiveDirectSource   bool // default true
	SkipVideoDirectSource  bool // default true
	SkipSeriesDirectSource bool // default true

	STRMStyle              Style
	STRMFlat               bool
	STRMUnderscoreWhitespace bool
	STRMAddQualityToFilename bool
	STRMCleanup              bool
	STRMProps                string // written verbatim at the top of each .strm

	DeviceAuth bool // HDHomeRun lineup.json requires HTTP Basic
}

// DefaultOptions matches spec.md §4.11's stated defaults.
func DefaultOptions() Options {
	return Options{
		SkipLiveDirectSource:   true,
		SkipVideoDirectSource:  true,
		SkipSeriesDirectSource: true,
	}
}
