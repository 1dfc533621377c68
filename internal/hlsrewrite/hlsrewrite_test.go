package hlsrewrite

import (
	"fmt"
	"strings"
	"testing"
)

func identitySigner(prefix string) URLSigner {
	return func(absoluteURL string) (string, error) {
		return fmt.Sprintf("%s%s", prefix, absoluteURL), nil
	}
}

func TestRewriteResolvesRelativeSegmentURLs(t *testing.T) {
	manifest := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXTINF:9.009,",
		"segment0.ts",
		"#EXTINF:9.009,",
		"segment1.ts",
		"#EXT-X-ENDLIST",
	}, "\n")

	out, err := Rewrite(manifest, "https://provider.example/live/stream/index.m3u8", identitySigner("signed:"))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !strings.Contains(out, "signed:https://provider.example/live/stream/segment0.ts") {
		t.Fatalf("segment0 not rewritten relative to manifest base:\n%s", out)
	}
	if !strings.Contains(out, "signed:https://provider.example/live/stream/segment1.ts") {
		t.Fatalf("segment1 not rewritten relative to manifest base:\n%s", out)
	}
	if !strings.Contains(out, "#EXTM3U") || !strings.Contains(out, "#EXT-X-ENDLIST") {
		t.Fatal("expected unmodified tag lines to be preserved")
	}
}

func TestRewriteVariantPlaylistURIAttributes(t *testing.T) {
	manifest := strings.Join([]string{
		"#EXTM3U",
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",NAME="English",URI="audio/en.m3u8"`,
		`#EXT-X-STREAM-INF:BANDWIDTH=1280000,AUDIO="aac"`,
		"video/index.m3u8",
	}, "\n")

	out, err := Rewrite(manifest, "https://provider.example/vod/show/master.m3u8", identitySigner("signed:"))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !strings.Contains(out, `URI="signed:https://provider.example/vod/show/audio/en.m3u8"`) {
		t.Fatalf("EXT-X-MEDIA URI not rewritten:\n%s", out)
	}
	if !strings.Contains(out, "signed:https://provider.example/vod/show/video/index.m3u8") {
		t.Fatalf("variant playlist URL not rewritten:\n%s", out)
	}
	if !strings.Contains(out, `GROUP-ID="aac"`) {
		t.Fatal("expected untouched attributes to survive rewriting")
	}
}

func TestRewritePreservesAbsoluteURLs(t *testing.T) {
	manifest := "#EXTM3U\nhttps://cdn.example/seg0.ts\n"
	out, err := Rewrite(manifest, "https://provider.example/live/index.m3u8", identitySigner("signed:"))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !strings.Contains(out, "signed:https://cdn.example/seg0.ts") {
		t.Fatalf("absolute segment URL not rewritten as-is:\n%s", out)
	}
}
