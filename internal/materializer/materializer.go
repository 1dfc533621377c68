// Package materializer converts a remote provider stream into a local file
// vodfs can serve through its progressive reader, caching the result on
// disk so repeat reads of the same asset don't re-download.
package materializer

import "context"

// Interface ensures an asset is available on disk and returns its path.
// streamURL is the provider's URL for this asset, used to fetch it when
// not already cached. Implementations return ErrNotReady (or another
// error) when the asset isn't ready yet.
type Interface interface {
	Materialize(ctx context.Context, assetID string, streamURL string) (localPath string, err error)
}

// ErrNotReady indicates the asset has not been materialized yet.
type ErrNotReady struct{ AssetID string }

func (e ErrNotReady) Error() string { return "not materialized: " + e.AssetID }
