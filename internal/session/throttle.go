package session

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// ParseThrottleRate parses a throttle unit string (spec.md §4.8: "KB/s,
// MB/s, KiB/s, MiB/s, kbps, mbps, Mibps; default kbps") and returns bits
// per second.
func ParseThrottleRate(s string) (bitsPerSec float64, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("session: empty throttle value")
	}
	numEnd := 0
	for numEnd < len(s) && (s[numEnd] == '.' || (s[numEnd] >= '0' && s[numEnd] <= '9')) {
		numEnd++
	}
	if numEnd == 0 {
		return 0, fmt.Errorf("session: throttle value %q has no numeric prefix", s)
	}
	n, perr := strconv.ParseFloat(s[:numEnd], 64)
	if perr != nil {
		return 0, fmt.Errorf("session: throttle value %q: %w", s, perr)
	}
	unit := strings.TrimSpace(s[numEnd:])
	if unit == "" {
		unit = "kbps"
	}

	switch strings.ToLower(unit) {
	case "kb/s":
		return n * 1000 * 8, nil
	case "mb/s":
		return n * 1000 * 1000 * 8, nil
	case "kib/s":
		return n * 1024 * 8, nil
	case "mib/s":
		return n * 1024 * 1024 * 8, nil
	case "kbps":
		return n * 1000, nil
	case "mbps":
		return n * 1000 * 1000, nil
	case "mibps":
		return n * 1024 * 1024, nil
	default:
		return 0, fmt.Errorf("session: unknown throttle unit %q", unit)
	}
}

// ThrottledWriter paces writes to w so average egress stays at or below
// the configured bits/s, via golang.org/x/time/rate — the teacher's
// go.mod already declared golang.org/x/time as a dependency without
// importing it; this is where it earns its place.
type ThrottledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
}

// NewThrottledWriter builds a writer bounded to bitsPerSec average
// throughput. The token bucket burst is sized to one ChunkSize write so
// a single buffered chunk can always flush without fragmenting.
func NewThrottledWriter(w io.Writer, bitsPerSec float64) *ThrottledWriter {
	bytesPerSec := bitsPerSec / 8
	return &ThrottledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), ChunkSize),
	}
}

func (t *ThrottledWriter) Write(p []byte) (int, error) {
	if err := t.limiter.WaitN(context.Background(), len(p)); err != nil {
		return 0, err
	}
	return t.w.Write(p)
}
