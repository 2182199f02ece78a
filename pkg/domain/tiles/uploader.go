package tiles

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	shared "github.com/tracktiles/server/pkg"
	"github.com/tracktiles/server/pkg/infrastructure/metrics"
)

const pmtilesContentType = "application/vnd.pmtiles"

// Uploader publishes PMTiles files under content-addressed keys so
// clients and CDNs can cache them forever: a new sync that changes the
// map produces a new key, and an unchanged map reuses the old one.
type Uploader struct {
	Store  shared.BlobStore
	DB     shared.Database
	Bucket string
	Logger *slog.Logger
}

// Upload stores the tiles file for userID and points the user record at
// the new key. The previous object is deleted best-effort; an orphaned
// tiles file costs storage, not correctness.
func (u *Uploader) Upload(ctx context.Context, userID, tilesPath string) (string, error) {
	data, err := os.ReadFile(tilesPath)
	if err != nil {
		return "", fmt.Errorf("reading tiles file: %w", err)
	}

	sum := sha256.Sum256(data)
	key := fmt.Sprintf("tiles/%s/%s.pmtiles", userID, hex.EncodeToString(sum[:])[:16])

	user, err := u.DB.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("loading user: %w", err)
	}

	if user.TilesKey == key {
		u.Logger.Info("Tiles unchanged, keeping existing key", "key", key)
		return key, nil
	}

	if err := u.Store.Write(ctx, u.Bucket, key, data, pmtilesContentType); err != nil {
		metrics.StorageUploads.WithLabelValues(metrics.ResultFailure).Inc()
		return "", fmt.Errorf("uploading tiles: %w", err)
	}
	metrics.StorageUploads.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.TilesSizeBytes.Set(float64(len(data)))

	if err := u.DB.UpdateUser(ctx, userID, map[string]interface{}{
		"tilesKey":  key,
		"updatedAt": time.Now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("updating user tiles key: %w", err)
	}

	if user.TilesKey != "" {
		if err := u.Store.Delete(ctx, u.Bucket, user.TilesKey); err != nil {
			u.Logger.Warn("Failed to delete previous tiles object", "key", user.TilesKey, "error", err)
		}
	}

	u.Logger.Info("Published tiles", "key", key, "bytes", len(data))
	return key, nil
}
