package output

import (
	"fmt"
	"io"

	"github.com/ivgateway/ivproxy/internal/model"
)

// typeURLSegment returns the /live/, /movie/, or /series/ path segment
// include_type_in_url=true inserts ahead of the virtual ID (spec.md
// §4.11).
func typeURLSegment(t model.ItemType) string {
	switch t {
	case model.TypeVOD:
		return "movie"
	case model.TypeSeries:
		return "series"
	default:
		return "live"
	}
}

// WriteM3U emits an extended M3U playlist: #EXTM3U followed by one
// #EXTINF/url pair per item, mirroring internal/indexer/m3u.go's EXTINF
// shape in reverse (building instead of parsing).
func WriteM3U(w io.Writer, items []model.Item, opts Options, sign URLSigner) error {
	if _, err := io.WriteString(w, "#EXTM3U\n"); err != nil {
		return err
	}
	for _, it := range items {
		streamURL, err := resolveURL(it, opts, sign)
		if err != nil {
			return fmt.Errorf("output: m3u: item %q: %w", it.Caption(), err)
		}
		extinf := fmt.Sprintf(
			`#EXTINF:-1 tvg-id="%s" tvg-name="%s" tvg-logo="%s" group-title="%s",%s`,
			it.EPGChannelID, it.Name, it.Logo, it.Group, it.Caption(),
		)
		if _, err := fmt.Fprintf(w, "%s\n%s\n", extinf, streamURL); err != nil {
			return err
		}
	}
	return nil
}

// resolveURL applies include_type_in_url/mask_redirect_url and the
// per-item skip_*_direct_source flags uniformly across emitters.
func resolveURL(it model.Item, opts Options, sign URLSigner) (string, error) {
	skipDirect := map[model.ItemType]bool{
		model.TypeLive:   opts.SkipLiveDirectSource,
		model.TypeVOD:    opts.SkipVideoDirectSource,
		model.TypeSeries: opts.SkipSeriesDirectSource,
	}[it.Type]

	if !skipDirect && !opts.MaskRedirectURL {
		return it.URL, nil
	}
	signed, err := sign(it)
	if err != nil {
		return "", err
	}
	if opts.IncludeTypeInURL {
		return fmt.Sprintf("/%s/%s", typeURLSegment(it.Type), trimLeadingSlash(signed)), nil
	}
	return signed, nil
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}
