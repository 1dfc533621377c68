package vodfs

import "hash/fnv"

// inoFromString derives a stable FUSE inode number from a path-like key
// (e.g. a movie ID or "series/season/episode" triple) so the same logical
// entry gets the same inode across remounts.
func inoFromString(key string) uint64 {
	sum := fnv.New64a()
	_, _ = sum.Write([]byte(key))
	return sum.Sum64()
}
