// Package metrics defines the Prometheus instruments shared by the sync
// pipeline and tile generation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	ActivitiesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activities_downloaded_total",
		Help: "Activities downloaded and converted with track geometry.",
	})
	ActivitiesSkippedUnchanged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activities_skipped_unchanged_total",
		Help: "Activities carried forward from the previous index without reprocessing.",
	})
	ActivitiesWithoutGPS = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activities_without_gps_total",
		Help: "Activities confirmed to have no usable location data.",
	})
	ActivitiesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activities_failed_total",
		Help: "Activities that failed to download or convert.",
	})

	CatalogRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_api_requests_total",
		Help: "Requests to the remote activity catalog by result.",
	}, []string{"result"})

	StorageUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_uploads_total",
		Help: "Object storage uploads by result.",
	}, []string{"result"})

	TippecanoeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tippecanoe_runs_total",
		Help: "Tile generator subprocess invocations by result.",
	}, []string{"result"})

	ArchiveSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "archive_size_bytes",
		Help: "Size of the compressed activity dataset after the last sync.",
	})
	ArchiveCompressionRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "archive_compression_ratio",
		Help: "Compressed/uncompressed size ratio of the activity dataset.",
	})
	TilesSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tiles_file_size_bytes",
		Help: "Size of the generated PMTiles archive.",
	})
)
