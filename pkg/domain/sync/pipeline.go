package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tracktiles/server/pkg/domain/converter"
	"github.com/tracktiles/server/pkg/infrastructure/metrics"
	"github.com/tracktiles/server/pkg/integrations/intervals"
)

// MaxConcurrentDownloads caps in-flight recording downloads per run.
const MaxConcurrentDownloads = 5

const (
	stagedGeometryExt = "geojson"
	stagedEmptyExt    = "stub"
)

// stagedFileName encodes activity identity, fingerprint and outcome into
// the staged artifact name so the finalizer needs no side channel.
func stagedFileName(activityID, fingerprint, ext string) string {
	return fmt.Sprintf("activity_%s_%s.%s", activityID, fingerprint, ext)
}

// parseStagedFileName is the inverse of stagedFileName. Fingerprints
// never contain underscores, so the split is on the last one; activity
// IDs may contain any of the rest.
func parseStagedFileName(name string) (activityID, fingerprint, ext string, ok bool) {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return "", "", "", false
	}
	stem, ext := name[:dot], name[dot+1:]
	stem, hasPrefix := strings.CutPrefix(stem, "activity_")
	if !hasPrefix {
		return "", "", "", false
	}
	i := strings.LastIndex(stem, "_")
	if i <= 0 || i == len(stem)-1 {
		return "", "", "", false
	}
	return stem[:i], stem[i+1:], ext, true
}

// processChanged downloads and converts every queued activity under the
// concurrency cap, staging results into stagingDir. Individual failures
// are counted, never propagated: a failed activity is simply absent from
// the new index and gets retried on the next run.
func (s *Syncer) processChanged(ctx context.Context, changed []intervals.Activity, stagingDir string) {
	g := &errgroup.Group{}
	g.SetLimit(MaxConcurrentDownloads)

	for i := range changed {
		activity := changed[i]
		g.Go(func() error {
			s.processActivity(ctx, &activity, stagingDir)
			s.status.DownloadProgress(int(s.stats.Processed()))
			return nil
		})
	}

	// Tasks never return errors; failures are tallied in stats.
	_ = g.Wait()
}

func (s *Syncer) processActivity(ctx context.Context, activity *intervals.Activity, stagingDir string) {
	logger := s.logger.With("activity_id", activity.ID)
	logger.Info("Processing activity", "name", activity.Name)

	fingerprint := activity.Fingerprint()

	data, err := s.catalog.DownloadFIT(ctx, activity.ID)
	switch {
	case errors.Is(err, intervals.ErrNoGPSData):
		s.stageEmpty(activity.ID, fingerprint, stagingDir, logger)
		return
	case err != nil:
		logger.Error("Failed to download activity", "error", err)
		s.stats.Failed.Add(1)
		metrics.ActivitiesFailed.Inc()
		return
	}

	feature, err := converter.FITToFeature(data, activity)
	if err != nil {
		logger.Error("Failed to convert activity", "error", err)
		s.stats.Failed.Add(1)
		metrics.ActivitiesFailed.Inc()
		return
	}
	if feature == nil {
		// Downloaded fine but carries no usable track
		s.stageEmpty(activity.ID, fingerprint, stagingDir, logger)
		return
	}

	line, err := json.Marshal(feature)
	if err != nil {
		logger.Error("Failed to encode feature", "error", err)
		s.stats.Failed.Add(1)
		metrics.ActivitiesFailed.Inc()
		return
	}

	path := filepath.Join(stagingDir, stagedFileName(activity.ID, fingerprint, stagedGeometryExt))
	if err := os.WriteFile(path, line, 0o644); err != nil {
		logger.Error("Failed to write staged geometry", "error", err)
		s.stats.Failed.Add(1)
		metrics.ActivitiesFailed.Inc()
		return
	}

	s.stats.Downloaded.Add(1)
	metrics.ActivitiesDownloaded.Inc()
	logger.Debug("Staged geometry", "path", path)
}

func (s *Syncer) stageEmpty(activityID, fingerprint, stagingDir string, logger *slog.Logger) {
	path := filepath.Join(stagingDir, stagedFileName(activityID, fingerprint, stagedEmptyExt))
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		logger.Error("Failed to write staged stub", "error", err)
		s.stats.Failed.Add(1)
		metrics.ActivitiesFailed.Inc()
		return
	}

	s.stats.Empty.Add(1)
	metrics.ActivitiesWithoutGPS.Inc()
	logger.Debug("Staged empty stub", "path", path)
}
