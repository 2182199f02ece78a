// Package tiles turns the merged GeoJSON dataset into a PMTiles file and
// publishes it under a content-addressed key.
package tiles

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tracktiles/server/pkg/infrastructure/metrics"
)

// Generator shells out to tippecanoe, which is the only practical way to
// build PMTiles; there is no Go port of its feature simplification.
type Generator struct {
	// Path to the tippecanoe binary. Empty means look it up on PATH.
	Path   string
	Logger *slog.Logger
}

// Generate renders geojsonPath into a PMTiles file next to it and
// returns the output path. Input order is preserved so activities render
// oldest-first, matching the order the archive is written in.
func (g *Generator) Generate(ctx context.Context, geojsonPath string) (string, error) {
	bin := g.Path
	if bin == "" {
		bin = "tippecanoe"
	}

	outPath := strings.TrimSuffix(geojsonPath, filepath.Ext(geojsonPath)) + ".pmtiles"

	cmd := exec.CommandContext(ctx, bin,
		"--preserve-input-order",
		"-fl", "activities",
		"-o", outPath,
		geojsonPath,
	)

	g.Logger.Info("Running tippecanoe", "input", geojsonPath, "output", outPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		metrics.TippecanoeRuns.WithLabelValues(metrics.ResultFailure).Inc()
		return "", fmt.Errorf("tippecanoe failed: %w: %s", err, truncate(string(output), 2048))
	}
	metrics.TippecanoeRuns.WithLabelValues(metrics.ResultSuccess).Inc()

	return outPath, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
