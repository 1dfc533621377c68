package materializer

import (
	"context"
	"fmt"
	"os/exec"
)

var ffmpegRemuxArgs = []string{"-c", "copy", "-bsf:a", "aac_adtstoasc", "-movflags", "+faststart"}

// materializeHLS remuxes an HLS (m3u8) stream into destPath as MP4 via
// ffmpeg, copying codecs rather than transcoding. Requires ffmpeg in PATH.
func materializeHLS(ctx context.Context, streamURL, destPath string) error {
	args := append([]string{"-y", "-i", streamURL}, ffmpegRemuxArgs...)
	args = append(args, destPath)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}
