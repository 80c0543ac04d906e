package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// taskDuration tracks task execution time per task type.
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "import_task_duration_seconds",
		Help:    "Time taken to execute queue tasks by type",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"task_type"})

	// taskErrors tracks failed task executions per task type.
	taskErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "import_task_errors_total",
		Help: "Total number of failed task executions by type",
	}, []string{"task_type"})

	// assetsImported counts assets whose images were stored and verified.
	assetsImported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "import_assets_imported_total",
		Help: "Total number of asset images downloaded, verified and stored",
	})

	// assetBytes tracks the distribution of stored image sizes.
	assetBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "import_asset_bytes",
		Help:    "Size of stored asset images in bytes",
		Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
	})

	// checksumMismatches counts verification failures caught by checksum.
	checksumMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "import_checksum_mismatches_total",
		Help: "Total number of checksum mismatches between downloads and stored objects",
	})

	// verificationsFailed counts re-verification jobs that found bad images.
	verificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "import_verifications_failed_total",
		Help: "Total number of asset image verifications that failed",
	})

	// imageRetries counts application-level retries of image work.
	imageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "import_image_retries_total",
		Help: "Total number of image failure retries by record kind",
	}, []string{"kind"})

	// catalogRequests counts outbound requests to the source catalog API.
	catalogRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "import_catalog_requests_total",
		Help: "Total number of catalog API requests by outcome",
	}, []string{"outcome"}) // outcome: ok, error, rate_limited
)

// ObserveTask records one task execution.
func ObserveTask(taskType string, duration time.Duration, err error) {
	taskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
	if err != nil {
		taskErrors.WithLabelValues(taskType).Inc()
	}
}

// RecordAssetImported records a successfully stored asset image.
func RecordAssetImported(sizeBytes int64) {
	assetsImported.Inc()
	assetBytes.Observe(float64(sizeBytes))
}

// RecordChecksumMismatch records a checksum mismatch.
func RecordChecksumMismatch() {
	checksumMismatches.Inc()
}

// RecordVerificationFailed records a failed image verification.
func RecordVerificationFailed() {
	verificationsFailed.Inc()
}

// RecordImageRetry records an application-level image retry.
func RecordImageRetry(kind string) {
	imageRetries.WithLabelValues(kind).Inc()
}

// RecordCatalogRequest records one catalog API request outcome.
func RecordCatalogRequest(outcome string) {
	catalogRequests.WithLabelValues(outcome).Inc()
}
