//go:build linux
// +build linux

package vodfs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ivgateway/ivproxy/internal/admin"
	"github.com/ivgateway/ivproxy/internal/catalog"
	"github.com/ivgateway/ivproxy/internal/ingest"
	"github.com/ivgateway/ivproxy/internal/materializer"
	"github.com/ivgateway/ivproxy/internal/model"
)

var _ admin.LibraryScanner = (*Scanner)(nil)

// Rescanner produces the current post-pipeline item set for a target.
// The composition root implements this by running the target's pipeline
// (C5) against the latest ingested items.
type Rescanner func(ctx context.Context) ([]model.Item, error)

// Scanner bridges a mounted VODFS tree to the admin API's library-scan
// endpoint (spec.md §6: "POST /api/v1/library/scan triggers an
// on-demand rescan; GET /api/v1/library/status reports the last run").
// A scan re-runs the target's pipeline, converts the result back into
// catalog shapes with internal/ingest, and remounts the FUSE tree with
// the refreshed Root so scans never touch live reads mid-update.
type Scanner struct {
	MountPoint string
	AllowOther bool
	Mat        materializer.Interface
	Rescan     Rescanner

	mu        sync.Mutex
	running   bool
	lastRunAt time.Time
	lastErr   string
	lastCount int
	unmount   func()
}

// Scan runs synchronously to completion; the admin HTTP layer (C6's
// admin.NewMux) is responsible for running it in a background goroutine
// so POST /api/v1/library/scan returns immediately.
func (s *Scanner) Scan(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("vodfs: scan already running")
	}
	s.running = true
	s.mu.Unlock()

	items, err := s.Rescan(ctx)
	movies, series, _ := ingest.ToCatalog(items)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRunAt = time.Now()
	if err != nil {
		s.lastErr = err.Error()
		return err
	}
	s.lastCount = len(movies) + seriesEpisodeCount(series)

	if s.unmount != nil {
		s.unmount()
		s.unmount = nil
	}
	unmount, mountErr := MountBackground(ctx, s.MountPoint, movies, series, s.Mat, s.AllowOther)
	if mountErr != nil {
		s.lastErr = mountErr.Error()
		return mountErr
	}
	s.unmount = unmount
	s.lastErr = ""
	return nil
}

// Status reports the outcome of the most recent scan.
func (s *Scanner) Status() admin.ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return admin.ScanStatus{
		Running:    s.running,
		LastRunAt:  s.lastRunAt,
		LastError:  s.lastErr,
		ItemsFound: s.lastCount,
	}
}

func seriesEpisodeCount(series []catalog.Series) int {
	n := 0
	for _, s := range series {
		for _, season := range s.Seasons {
			n += len(season.Episodes)
		}
	}
	return n
}
