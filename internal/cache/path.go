package cache

import (
	"path/filepath"
	"strings"
)

const (
	assetExt   = ".mp4"
	partialExt = ".partial"
)

var idReplacer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "_")

// Path returns the stable on-disk location for a materialized asset: the
// same assetID always maps to the same path, under cacheDir/vod.
func Path(cacheDir, assetID string) string {
	return filepath.Join(cacheDir, "vod", sanitizeID(assetID)+assetExt)
}

// PartialPath returns the in-progress download path for assetID; the
// materializer renames it to Path's result once the asset is complete.
func PartialPath(cacheDir, assetID string) string {
	return filepath.Join(cacheDir, "vod", sanitizeID(assetID)+partialExt)
}

func sanitizeID(id string) string {
	s := idReplacer.Replace(id)
	if s == "" {
		return "unknown"
	}
	return s
}
