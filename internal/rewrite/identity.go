package rewrite

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// DeriveVirtualID computes a stable 63-bit virtual ID for (inputName,
// providerStreamID, domain). domain separates the three Xtream clusters
// (live/vod/series) so the same provider stream ID in two clusters never
// collides, mirroring the teacher's cache.Path sanitize-then-join stability
// contract: same inputs always produce the same output, forever.
//
// The top bit is cleared so the result fits in a non-negative int64 for
// callers that store it that way (e.g. SQLite INTEGER PRIMARY KEY).
func DeriveVirtualID(inputName, providerStreamID string, domain Cluster) uint64 {
	h := blake3.New()
	_, _ = h.Write([]byte(inputName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(providerStreamID))
	_, _ = h.Write([]byte{0, byte(domain)})
	sum := h.Sum(nil)
	v := binary.BigEndian.Uint64(sum[:8])
	return v &^ (1 << 63)
}
