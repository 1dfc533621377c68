// Package hlsrewrite rewrites HLS manifests (.m3u8) so every segment and
// variant-playlist URL they reference resolves back through the proxy
// (C10). Parsing follows the line-oriented bufio.Scanner technique of
// internal/indexer/m3u.go, applied to HLS's tag set instead of plain
// M3U's #EXTINF/URL pairs.
package hlsrewrite

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"github.com/ivgateway/ivproxy/internal/rewrite"
)

const maxLineSize = 1 << 20

// URLSigner mints a proxy-signed URL for one resolved absolute URL,
// inheriting the requesting session's identity and target so the
// rewritten manifest's segment fetches carry the same admission
// context as the manifest request itself.
type URLSigner func(absoluteURL string) (string, error)

// Rewrite parses an HLS manifest read from manifestURL's response body
// (already split into lines by the caller) and returns the manifest
// with every URL line, and every URI="..." attribute on tag lines,
// replaced by a signed proxy URL. Non-URL lines, comments, and unknown
// tags are passed through byte-for-byte.
func Rewrite(body string, manifestURL string, sign URLSigner) (string, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return "", fmt.Errorf("hlsrewrite: invalid manifest URL: %w", err)
	}

	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(nil, maxLineSize)
	var out strings.Builder

	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimRight(line, "\r")

		switch {
		case trimmed == "":
			out.WriteString(line)
		case strings.HasPrefix(trimmed, "#EXT-X-STREAM-INF:"), strings.HasPrefix(trimmed, "#EXT-X-MEDIA:"), strings.HasPrefix(trimmed, "#EXT-X-I-FRAME-STREAM-INF:"):
			rewritten, rerr := rewriteURIAttr(trimmed, base, sign)
			if rerr != nil {
				return "", rerr
			}
			out.WriteString(rewritten)
		case strings.HasPrefix(trimmed, "#"):
			// #EXTM3U, #EXTINF, #EXT-X-KEY (left as-is; key URIs are out
			// of scope), and any other tag or comment: preserved as-is.
			out.WriteString(line)
		default:
			rewritten, rerr := rewriteURLLine(trimmed, base, sign)
			if rerr != nil {
				return "", rerr
			}
			out.WriteString(rewritten)
		}
		out.WriteString("\n")
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// rewriteURLLine resolves a bare URL line (segment or variant playlist)
// against base and signs it.
func rewriteURLLine(line string, base *url.URL, sign URLSigner) (string, error) {
	abs, err := resolve(line, base)
	if err != nil {
		return "", err
	}
	signed, err := sign(abs)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// rewriteURIAttr rewrites the URI="..." attribute of an #EXT-X-* tag
// line, leaving every other attribute untouched.
func rewriteURIAttr(line string, base *url.URL, sign URLSigner) (string, error) {
	const attr = `URI="`
	i := strings.Index(line, attr)
	if i < 0 {
		return line, nil
	}
	start := i + len(attr)
	end := strings.Index(line[start:], `"`)
	if end < 0 {
		return line, nil
	}
	raw := line[start : start+end]
	abs, err := resolve(raw, base)
	if err != nil {
		return "", err
	}
	signed, err := sign(abs)
	if err != nil {
		return "", err
	}
	return line[:start] + signed + line[start+end:], nil
}

func resolve(raw string, base *url.URL) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("hlsrewrite: invalid URL %q: %w", raw, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// SignerFor builds a URLSigner binding every rewritten URL to the
// session's identity and target via rewrite.Signer, matching the
// payload a normal resource/stream request would carry.
func SignerFor(signer *rewrite.Signer, kind rewrite.Kind, target string, cluster rewrite.Cluster, virtualID uint64, userFingerprint uint64, expiresAt int64) URLSigner {
	return func(absoluteURL string) (string, error) {
		token := signer.Mint(rewrite.Payload{
			Kind:            kind,
			Target:          target,
			Cluster:         cluster,
			VirtualID:       virtualID,
			UserFingerprint: userFingerprint,
			ExpiresAt:       expiresAt,
		})
		v := url.Values{}
		v.Set("t", token)
		v.Set("u", absoluteURL)
		return "/hls?" + v.Encode(), nil
	}
}
