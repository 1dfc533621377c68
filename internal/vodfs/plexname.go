//go:build linux
// +build linux

package vodfs

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// directExts are source extensions the FUSE tree exposes as-is so a
// player sees a filename matching the bytes it actually receives.
var directExts = map[string]bool{
	".mp4": true, ".m4v": true, ".mkv": true,
	".webm": true, ".mov": true, ".avi": true, ".ts": true,
}

var nameSanitizer = strings.NewReplacer("\x00", "", "/", " - ")

// titledDirName formats the "Title (Year)" directory naming convention a
// media library scanner (Plex, Jellyfin, Emby) expects for both movies
// and shows; year <= 0 omits the parenthetical.
func titledDirName(title string, year int) string {
	title = safeFSName(title)
	if year > 0 {
		return fmt.Sprintf("%s (%d)", title, year)
	}
	return title
}

// MovieDirName returns the library movie folder name: "MovieName (Year)".
func MovieDirName(title string, year int) string { return titledDirName(title, year) }

// MovieFileName returns the library movie file name: "MovieName (Year).mp4".
func MovieFileName(title string, year int) string {
	return MovieDirName(title, year) + ".mp4"
}

// MovieFileNameForStream returns a movie file name using a source-informed extension when possible.
func MovieFileNameForStream(title string, year int, streamURL string) string {
	return MovieDirName(title, year) + VODFileExt(streamURL)
}

// ShowDirName returns the library TV show folder name: "Show Name (Year)".
func ShowDirName(title string, year int) string { return titledDirName(title, year) }

// SeasonDirName returns the library season folder name: "Season 01".
func SeasonDirName(seasonNum int) string {
	return fmt.Sprintf("Season %02d", seasonNum)
}

// EpisodeFileName returns the library episode file name: "Show Name (Year) - s01e01 - Episode Title.mp4".
func EpisodeFileName(showTitle string, showYear int, seasonNum, episodeNum int, episodeTitle string) string {
	return episodeFileName(showTitle, showYear, seasonNum, episodeNum, episodeTitle, ".mp4")
}

// EpisodeFileNameForStream returns an episode file name using a source-informed extension when possible.
func EpisodeFileNameForStream(showTitle string, showYear int, seasonNum, episodeNum int, episodeTitle, streamURL string) string {
	return episodeFileName(showTitle, showYear, seasonNum, episodeNum, episodeTitle, VODFileExt(streamURL))
}

func episodeFileName(showTitle string, showYear int, seasonNum, episodeNum int, episodeTitle, ext string) string {
	show := ShowDirName(showTitle, showYear)
	se := fmt.Sprintf("s%02de%02d", seasonNum, episodeNum)
	episodeTitle = safeFSName(episodeTitle)
	if episodeTitle != "" {
		return fmt.Sprintf("%s - %s - %s%s", show, se, episodeTitle, ext)
	}
	return fmt.Sprintf("%s - %s%s", show, se, ext)
}

// VODFileExt returns the best-effort media extension to expose in the VOD
// tree based on the source URL: known direct-file extensions (.mkv, .ts,
// ...) are preserved so a player doesn't see mismatched bytes vs filename,
// while HLS (.m3u8) and anything unrecognized default to .mp4 since the
// materializer's remux path always writes MP4.
func VODFileExt(streamURL string) string {
	if streamURL == "" {
		return ".mp4"
	}
	u, err := url.Parse(streamURL)
	if err != nil {
		return ".mp4"
	}
	ext := strings.ToLower(filepath.Ext(u.Path))
	if directExts[ext] {
		return ext
	}
	return ".mp4"
}

// SafeBase returns a filesystem-safe base name (no path separators or nulls).
func SafeBase(name string) string {
	return safeFSName(filepath.Base(name))
}

func safeFSName(name string) string {
	if name == "" {
		return ""
	}
	name = strings.TrimSpace(nameSanitizer.Replace(name))
	if name == "" {
		return "_"
	}
	return name
}
