package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ivgateway/ivproxy/internal/model"
)

// WriteSTRM writes one .strm file per item under dir, laid out according
// to opts.STRMStyle (spec.md §4.11). cleanup=true removes dir first —
// callers must never point dir at an existing media library, since this
// call is destructive.
func WriteSTRM(dir string, items []model.Item, opts Options, sign URLSigner) error {
	if opts.STRMCleanup {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("output: strm: cleanup %s: %w", dir, err)
		}
	}
	for _, it := range items {
		path, err := strmPath(dir, it, opts)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		streamURL, err := resolveURL(it, opts, sign)
		if err != nil {
			return fmt.Errorf("output: strm: item %q: %w", it.Caption(), err)
		}
		body := strmBody(streamURL, opts)
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			return err
		}
	}
	return nil
}

func strmBody(streamURL string, opts Options) string {
	var sb strings.Builder
	if opts.STRMProps != "" {
		sb.WriteString(opts.STRMProps)
		if !strings.HasSuffix(opts.STRMProps, "\n") {
			sb.WriteString("\n")
		}
	} else if opts.STRMStyle == StyleKodi {
		sb.WriteString("#KODIPROP:inputstream=inputstream.ffmpegdirect\n")
	}
	sb.WriteString(streamURL)
	sb.WriteString("\n")
	return sb.String()
}

func strmPath(dir string, it model.Item, opts Options) (string, error) {
	name := it.Caption()
	if opts.STRMUnderscoreWhitespace {
		name = strings.Join(strings.Fields(name), "_")
	}
	if opts.STRMAddQualityToFilename {
		if q := qualityTag(it.Name); q != "" {
			name = name + " " + q
		}
	}
	filename := sanitizeFilename(name) + ".strm"

	if opts.STRMFlat {
		folder := sanitizeFilename(it.Group)
		if folder == "" {
			folder = string(it.Type)
		}
		return filepath.Join(dir, folder, filename), nil
	}

	switch it.Type {
	case model.TypeLive:
		return filepath.Join(dir, "live", filename), nil
	case model.TypeSeries:
		return filepath.Join(dir, "series", sanitizeFilename(it.Caption()), filename), nil
	default:
		return filepath.Join(dir, "movies", filename), nil
	}
}

// qualityTag extracts a trailing bracketed/parenthesized quality marker
// such as "4K" or "1080p" from a raw provider name, a common convention
// across IPTV providers' channel naming.
func qualityTag(raw string) string {
	lower := strings.ToLower(raw)
	for _, tag := range []string{"4k", "2160p", "1080p", "720p", "fhd", "hd", "sd"} {
		if strings.Contains(lower, tag) {
			return strings.ToUpper(tag)
		}
	}
	return ""
}

func sanitizeFilename(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		default:
			return r
		}
	}, s)
	return strings.TrimSpace(s)
}
