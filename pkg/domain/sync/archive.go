package sync

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tracktiles/server/pkg/infrastructure/compress"
	"github.com/tracktiles/server/pkg/infrastructure/metrics"
	shared "github.com/tracktiles/server/pkg"
)

// maxFeatureLineBytes bounds a single archived feature line. Long
// multi-day recordings stay well under this.
const maxFeatureLineBytes = 64 * 1024 * 1024

// lineIdentity is the minimal slice of a feature line the finalizer
// needs to decide whether the line survives the merge.
type lineIdentity struct {
	Properties struct {
		ID          string `json:"id"`
		Fingerprint string `json:"fingerprint"`
	} `json:"properties"`
}

func (s *Syncer) indexKey() string {
	return s.userID + "/activities.index"
}

func (s *Syncer) datasetKey() string {
	return s.userID + "/activities.geojson." + compress.Ext
}

// loadIndex fetches the prior change-detection index. A missing index, a
// missing dataset, or an unreadable index all degrade to a fresh start:
// the index is a cache of what the dataset contains, so it is only
// trusted when the dataset it describes is actually present.
func (s *Syncer) loadIndex(ctx context.Context) *ActivityIndex {
	data, err := s.store.Read(ctx, s.bucket, s.indexKey())
	if errors.Is(err, shared.ErrNotFound) {
		s.logger.Info("No prior index, starting fresh")
		return nil
	}
	if err != nil {
		s.logger.Warn("Failed to read prior index, starting fresh", "error", err)
		return nil
	}

	var index ActivityIndex
	if err := json.Unmarshal(data, &index); err != nil {
		s.logger.Warn("Prior index is unreadable, starting fresh", "error", err)
		return nil
	}

	// An index without its dataset would mark activities as synced that
	// the archive no longer holds.
	probe, err := s.store.NewReader(ctx, s.bucket, s.datasetKey())
	if err != nil {
		s.logger.Warn("Prior index present but dataset missing, starting fresh", "error", err)
		return nil
	}
	probe.Close()

	return &index
}

// finalizeArchive merges surviving lines of the prior dataset with the
// staged artifacts into a new single-pass archive, then persists the
// compressed dataset and the index. The local uncompressed copy is
// returned for downstream tile generation. Staged files are deleted as
// they are consumed; the staging directory itself is removed only after
// both remote writes succeed so an upload failure leaves the run
// resumable.
func (s *Syncer) finalizeArchive(ctx context.Context, prior, next *ActivityIndex, stagingDir, workDir string) (string, error) {
	outPath := filepath.Join(workDir, "activities.geojson")
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("creating merged dataset: %w", err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)

	if prior != nil {
		if err := s.copySurvivingLines(ctx, w, next); err != nil {
			return "", err
		}
	}

	if err := s.appendStaged(w, next, stagingDir); err != nil {
		return "", err
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flushing merged dataset: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing merged dataset: %w", err)
	}

	if err := s.persist(ctx, outPath, next); err != nil {
		return "", err
	}

	if err := os.RemoveAll(stagingDir); err != nil {
		s.logger.Warn("Failed to remove staging directory", "error", err)
	}

	return outPath, nil
}

// copySurvivingLines streams the prior compressed dataset line by line
// and keeps every feature whose id:fingerprint is still in the next
// index. Nothing is ever held in memory beyond a single line.
func (s *Syncer) copySurvivingLines(ctx context.Context, w io.Writer, next *ActivityIndex) error {
	rc, err := s.store.NewReader(ctx, s.bucket, s.datasetKey())
	if err != nil {
		return fmt.Errorf("opening prior dataset: %w", err)
	}
	defer rc.Close()

	zr, err := compress.NewReader(rc)
	if err != nil {
		return fmt.Errorf("decompressing prior dataset: %w", err)
	}
	defer zr.Close()

	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 64*1024), maxFeatureLineBytes)

	kept, dropped := 0, 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ident lineIdentity
		if err := json.Unmarshal(line, &ident); err != nil {
			s.logger.Warn("Skipping malformed archive line", "error", err)
			continue
		}

		if !next.Geometry.contains(CompositeKey(ident.Properties.ID, ident.Properties.Fingerprint)) {
			dropped++
			continue
		}

		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("writing surviving line: %w", err)
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("writing surviving line: %w", err)
		}
		kept++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading prior dataset: %w", err)
	}

	s.logger.Info("Merged prior dataset", "kept", kept, "dropped", dropped)
	return nil
}

// appendStaged folds every staged artifact into the merged dataset and
// the next index, deleting each file as it is consumed.
func (s *Syncer) appendStaged(w io.Writer, next *ActivityIndex, stagingDir string) error {
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return fmt.Errorf("listing staged artifacts: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		activityID, fingerprint, ext, ok := parseStagedFileName(entry.Name())
		if !ok {
			s.logger.Warn("Skipping unrecognized staged file", "name", entry.Name())
			continue
		}

		path := filepath.Join(stagingDir, entry.Name())
		switch ext {
		case stagedGeometryExt:
			line, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading staged geometry %s: %w", entry.Name(), err)
			}
			if _, err := w.Write(line); err != nil {
				return fmt.Errorf("appending staged geometry: %w", err)
			}
			if _, err := w.Write([]byte{'\n'}); err != nil {
				return fmt.Errorf("appending staged geometry: %w", err)
			}
			next.InsertGeometry(activityID, fingerprint)
		case stagedEmptyExt:
			next.InsertEmpty(activityID, fingerprint)
		default:
			s.logger.Warn("Skipping staged file with unknown extension", "name", entry.Name())
			continue
		}

		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove consumed staged file", "name", entry.Name(), "error", err)
		}
	}

	return nil
}

// persist uploads the compressed dataset first and the index second, so
// a crash between the two leaves a dataset that is a superset of what
// the (stale) index claims rather than the other way round.
func (s *Syncer) persist(ctx context.Context, datasetPath string, next *ActivityIndex) error {
	f, err := os.Open(datasetPath)
	if err != nil {
		return fmt.Errorf("reopening merged dataset: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("inspecting merged dataset: %w", err)
	}

	var buf bytes.Buffer
	zw, err := compress.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("compressing merged dataset: %w", err)
	}
	if _, err := io.Copy(zw, f); err != nil {
		return fmt.Errorf("compressing merged dataset: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing merged dataset: %w", err)
	}
	compressed := buf.Bytes()

	if err := s.store.Write(ctx, s.bucket, s.datasetKey(), compressed, "application/zstd"); err != nil {
		metrics.StorageUploads.WithLabelValues(metrics.ResultFailure).Inc()
		return fmt.Errorf("uploading dataset: %w", err)
	}
	metrics.StorageUploads.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.ArchiveSizeBytes.Set(float64(len(compressed)))
	if len(compressed) > 0 {
		metrics.ArchiveCompressionRatio.Set(float64(info.Size()) / float64(len(compressed)))
	}

	indexData, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := s.store.Write(ctx, s.bucket, s.indexKey(), indexData, "application/json"); err != nil {
		metrics.StorageUploads.WithLabelValues(metrics.ResultFailure).Inc()
		return fmt.Errorf("uploading index: %w", err)
	}
	metrics.StorageUploads.WithLabelValues(metrics.ResultSuccess).Inc()

	s.logger.Info("Persisted dataset and index",
		"dataset_bytes", len(compressed),
		"activities", next.Total())
	return nil
}
