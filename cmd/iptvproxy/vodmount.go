package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/ivgateway/ivproxy/internal/admin"
	"github.com/ivgateway/ivproxy/internal/catalog"
	"github.com/ivgateway/ivproxy/internal/ingest"
	"github.com/ivgateway/ivproxy/internal/materializer"
	"github.com/ivgateway/ivproxy/internal/model"
	"github.com/ivgateway/ivproxy/internal/vodfs"
)

// buildVODScanner wires the admin API's library-scan endpoints
// (spec.md §6: POST /api/v1/library/scan, GET /api/v1/library/status) to a
// real vodfs.Scanner when config.yml's vod_mount block names a target and
// a mount point. Left unconfigured, it returns a nil LibraryScanner and
// admin.NewMux simply leaves those two routes unregistered.
//
// The Rescanner closure re-reads the named target's latest post-pipeline
// snapshot rather than re-running refreshOnce's fetch/resolve/pipeline
// chain a second time: refreshLoop already keeps every targetState current,
// so a library scan only needs to convert what's already there.
func (a *app) buildVODScanner() admin.LibraryScanner {
	mount := a.global.VODMount
	if mount.Target == "" || mount.MountPoint == "" {
		return nil
	}
	return &vodfs.Scanner{
		MountPoint: mount.MountPoint,
		AllowOther: mount.AllowOther,
		Mat:        a.buildMaterializer(),
		Rescan:     a.vodRescanner(mount.Target),
	}
}

// buildMaterializer picks the vodfs read-path materializer: a real
// on-disk *materializer.Cache (range-request direct-file download plus
// ffmpeg HLS remux) when cache_dir is set, falling back to the no-op
// Stub otherwise so an unconfigured deployment still mounts a browsable
// tree, just one that never serves file contents.
func (a *app) buildMaterializer() materializer.Interface {
	if a.global.CacheDir == "" {
		return materializer.Stub{}
	}
	return &materializer.Cache{CacheDir: filepath.Join(a.global.CacheDir, "vod-materialize")}
}

// vodRescanner closes over the named target, rather than the targetState
// itself, so it keeps working across a config reload that rebuilds
// a.targets with fresh *targetState values.
func (a *app) vodRescanner(targetName string) vodfs.Rescanner {
	return func(ctx context.Context) ([]model.Item, error) {
		ts, ok := a.targets[targetName]
		if !ok {
			return nil, fmt.Errorf("vod_mount: target %q is not configured", targetName)
		}
		return ts.load().items, nil
	}
}

// writeVODLanes is the optional per-target catch-up output a target opts
// into with mapping.yml's vod_lanes: true (config.TargetConfig.VODLanes).
// It converts the target's latest post-pipeline items back into catalog
// shapes, runs the taxonomy classifier and lane splitter, and writes one
// JSON catalog file per lane under cache_dir/vod-lanes/<target>/ — a
// separate on-disk artifact from the hot vodfs mount, meant for clients
// that want a pre-split category catalog (e.g. per-lane M3U generation)
// rather than a live FUSE tree.
func (a *app) writeVODLanes(targetName string, items []model.Item) error {
	if a.snapshotDir == "" {
		return nil
	}
	movies, series, _ := ingest.ToCatalog(items)
	movies, series = catalog.ApplyVODTaxonomy(movies, series)
	lanes := catalog.SplitVODIntoLanes(movies, series)
	outDir := filepath.Join(a.snapshotDir, "vod-lanes", targetName)
	written, err := catalog.SaveVODLanes(outDir, lanes)
	if err != nil {
		return err
	}
	log.Printf("refresh: target %s: wrote %d vod lanes to %s", targetName, len(written), outDir)
	return nil
}
