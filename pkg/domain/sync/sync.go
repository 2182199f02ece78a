// Package sync implements the incremental activity sync: change
// detection against a content-addressable index, a bounded download and
// conversion pipeline, and a streaming merge into the per-user archive.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	shared "github.com/tracktiles/server/pkg"
	"github.com/tracktiles/server/pkg/infrastructure/metrics"
	"github.com/tracktiles/server/pkg/integrations/intervals"
)

// Catalog is the slice of the intervals.icu client the syncer needs.
type Catalog interface {
	ListActivities(ctx context.Context) ([]intervals.Activity, error)
	DownloadFIT(ctx context.Context, activityID string) ([]byte, error)
}

// Result summarizes a completed run.
type Result struct {
	// GeoJSONPath is the local uncompressed merged dataset, present only
	// when Changed is true. Callers feed it to tile generation.
	GeoJSONPath string
	Stats       Snapshot
	Changed     bool
}

// Syncer runs incremental syncs for a single user.
type Syncer struct {
	userID  string
	catalog Catalog
	store   shared.BlobStore
	bucket  string
	status  *StatusUpdater
	logger  *slog.Logger
	stats   Stats
}

func NewSyncer(userID string, catalog Catalog, store shared.BlobStore, bucket string, status *StatusUpdater, logger *slog.Logger) *Syncer {
	return &Syncer{
		userID:  userID,
		catalog: catalog,
		store:   store,
		bucket:  bucket,
		status:  status,
		logger:  logger.With("user_id", userID),
	}
}

// Run executes one full sync. Individual activity failures are absorbed
// into the result stats; only infrastructure failures (catalog listing,
// archive persistence) surface as errors.
func (s *Syncer) Run(ctx context.Context) (*Result, error) {
	defer s.status.Flush()

	s.status.StartAnalyzing()

	catalog, err := s.catalog.ListActivities(ctx)
	if err != nil {
		s.status.MarkFailed("listing activities")
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	s.logger.Info("Fetched activity catalog", "count", len(catalog))

	prior := s.loadIndex(ctx)
	next := NewIndex(s.userID)

	changed := Partition(prior, catalog, next)
	unchanged := len(catalog) - len(changed)
	s.stats.Skipped.Store(int64(unchanged))
	metrics.ActivitiesSkippedUnchanged.Add(float64(unchanged))
	s.status.CompleteAnalyzing(len(catalog), unchanged, len(changed))
	s.logger.Info("Partitioned catalog", "unchanged", unchanged, "changed", len(changed))

	// With nothing changed, next holds exactly the still-present entries,
	// so a larger prior means activities were deleted upstream.
	deletions := prior != nil && prior.Total() > next.Total()
	if len(changed) == 0 && !deletions {
		// Nothing new and nothing removed: the stored archive is already
		// exactly what this catalog describes.
		s.logger.Info("No changes detected, archive is current")
		s.status.MarkCompleted()
		return &Result{Stats: s.stats.Snapshot()}, nil
	}

	workDir, err := os.MkdirTemp("", "tracktiles-sync-*")
	if err != nil {
		s.status.MarkFailed("preparing workspace")
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	stagingDir, err := os.MkdirTemp(workDir, "staging-*")
	if err != nil {
		s.status.MarkFailed("preparing workspace")
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	s.status.StartDownloading(len(changed))
	s.processChanged(ctx, changed, stagingDir)
	s.status.CompleteDownloading(s.stats.Snapshot())

	s.status.StartGenerating()
	outPath, err := s.finalizeArchive(ctx, prior, next, stagingDir, workDir)
	if err != nil {
		s.status.MarkFailed("finalizing archive")
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}

	s.status.MarkCompleted()
	snapshot := s.stats.Snapshot()
	s.logger.Info("Sync complete",
		"downloaded", snapshot.Downloaded,
		"skipped", snapshot.Skipped,
		"empty", snapshot.Empty,
		"failed", snapshot.Failed)

	return &Result{GeoJSONPath: outPath, Stats: snapshot, Changed: true}, nil
}
