package materializer

import "context"

// Stub never materializes anything; every read reports ErrNotReady. It's
// the default when a VOD mount has no cache_dir configured, so the tree
// is still browsable even though no file contents can be served.
type Stub struct{}

func (Stub) Materialize(ctx context.Context, assetID string, streamURL string) (string, error) {
	return "", ErrNotReady{AssetID: assetID}
}
