package main

import (
	"context"
	"log"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ivgateway/ivproxy/internal/catalog"
	"github.com/ivgateway/ivproxy/internal/config"
	"github.com/ivgateway/ivproxy/internal/httpclient"
	"github.com/ivgateway/ivproxy/internal/indexer"
	"github.com/ivgateway/ivproxy/internal/ingest"
	"github.com/ivgateway/ivproxy/internal/model"
	"github.com/ivgateway/ivproxy/internal/pipeline"
	"github.com/ivgateway/ivproxy/internal/rewrite"
)

// inputState is one configured upstream provider, plus the plain HTTP
// client used only for catalog indexing (stream proxying goes through
// internal/provider.Client instead; see providers.go).
type inputState struct {
	cfg    config.Input
	client *http.Client
}

func buildInputState(in config.Input) *inputState {
	client := httpclient.Default()
	if in.ConnectTimeout > 0 {
		c := *client
		c.Timeout = in.ConnectTimeout
		client = &c
	}
	return &inputState{cfg: in, client: client}
}

// refreshInterval matches the teacher's playlist refresh cadence:
// the pipeline runs periodically and on demand (spec.md §2's data
// flow), not on every request.
const refreshInterval = 15 * time.Minute

// refreshLoop re-ingests every input and re-runs every target's pipeline
// on a fixed interval until ctx is cancelled. The first run happens
// synchronously in main before the HTTP servers start accepting traffic.
func (a *app) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.refreshOnce(ctx); err != nil {
				log.Printf("refresh: %v", err)
			}
		}
	}
}

// refreshOnce pulls a fresh catalog from every input, flattens it into
// model.Items via internal/ingest, resolves virtual IDs through the
// identity registry, then runs every target's pipeline against the
// merged pool and republishes each target's snapshot.
func (a *app) refreshOnce(ctx context.Context) error {
	run := atomic.AddInt64(&a.runCounter, 1)

	var merged []model.Item
	for _, in := range a.inputs {
		items, err := fetchInput(ctx, in)
		if err != nil {
			log.Printf("refresh: input %s: %v", in.cfg.Name, err)
			continue
		}
		merged = append(merged, items...)
	}

	for i := range merged {
		cluster := clusterFor(merged[i].Type)
		id, err := a.registry.Resolve(merged[i].Input, merged[i].ID, cluster, run)
		if err != nil {
			log.Printf("refresh: resolve identity %s/%s: %v", merged[i].Input, merged[i].ID, err)
			continue
		}
		merged[i].VirtualID = id.VirtualID
		if id.Chno != 0 {
			merged[i].Chno = id.Chno
		}
	}

	if _, err := a.registry.PruneStale(run); err != nil {
		log.Printf("refresh: prune stale identities: %v", err)
	}

	for name, ts := range a.targets {
		out, err := pipeline.Run(merged, ts.target)
		if err != nil {
			log.Printf("refresh: target %s: %v", name, err)
			continue
		}
		assignChno(a.registry, out)
		ts.store(out, run)

		if a.snapshotDir == "" {
			continue
		}
		snap := pipeline.Snapshot{TargetName: name, Items: out, RunID: run}
		if err := snap.Save(a.snapshotPath(name)); err != nil {
			log.Printf("refresh: target %s: save snapshot: %v", name, err)
		}

		if ts.cfg.VODLanes {
			if err := a.writeVODLanes(name, out); err != nil {
				log.Printf("refresh: target %s: vod lanes: %v", name, err)
			}
		}
	}

	log.Printf("refresh: run=%d inputs=%d items=%d targets=%d", run, len(a.inputs), len(merged), len(a.targets))
	return nil
}

func clusterFor(t model.ItemType) rewrite.Cluster {
	switch t {
	case model.TypeVOD:
		return rewrite.ClusterVOD
	case model.TypeSeries:
		return rewrite.ClusterSeries
	default:
		return rewrite.ClusterLive
	}
}

// fetchInput indexes one provider's catalog (M3U or Xtream player_api)
// and flattens it into model.Items tagged with the input's name.
func fetchInput(ctx context.Context, in *inputState) ([]model.Item, error) {
	var movies []catalog.Movie
	var series []catalog.Series
	var live []catalog.LiveChannel
	var err error

	switch in.cfg.Kind {
	case "xtream":
		movies, series, live, err = indexer.IndexFromPlayerAPI(
			in.cfg.URL, in.cfg.Username, in.cfg.Password, "m3u8", false, in.cfg.Aliases, in.client)
	default:
		movies, series, live, err = indexer.ParseM3U(in.cfg.URL, in.client)
	}
	if err != nil {
		return nil, err
	}
	return ingest.FromCatalog(movies, series, live, in.cfg.Name), nil
}
