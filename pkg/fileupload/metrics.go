package fileupload

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation for upload handlers. Create
// one Metrics per process and share it across handlers via WithMetrics;
// instrumentation is off unless a Metrics is attached.
type Metrics struct {
	uploadsTotal   *prometheus.CounterVec
	rejectedTotal  *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	uploadDuration prometheus.Histogram
	activeUploads  prometheus.Gauge
}

// MetricsConfig configures metric registration.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "fileupload").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for upload duration.
	// Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// NewMetrics registers and returns the upload metrics.
//
// Metrics exposed:
//   - fileupload_uploads_total: Counter of completed uploads by status
//     (finished, size_limit, no_file, internal)
//   - fileupload_rejected_total: Counter of rejected requests by reason
//     (forbidden, method, media_type)
//   - fileupload_upload_bytes_total: Counter of request bytes streamed
//   - fileupload_upload_duration_seconds: Histogram of upload duration
//   - fileupload_active_uploads: Gauge of uploads currently streaming
func NewMetrics(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "fileupload"
	}
	if config.Buckets == nil {
		config.Buckets = prometheus.DefBuckets
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "uploads_total",
			Help:        "Total number of upload attempts by terminal status",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		rejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "rejected_total",
			Help:        "Total number of upload requests rejected before streaming",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "upload_bytes_total",
			Help:        "Total request bytes streamed through upload handlers",
			ConstLabels: config.ConstLabels,
		}),

		uploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "upload_duration_seconds",
			Help:        "Upload request duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		activeUploads: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "active_uploads",
			Help:        "Number of uploads currently streaming",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (m *Metrics) recordRejected(reason string) {
	if m != nil {
		m.rejectedTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) recordOutcome(status string, bytes int64, seconds float64) {
	if m != nil {
		m.uploadsTotal.WithLabelValues(status).Inc()
		if bytes > 0 {
			m.uploadBytes.Add(float64(bytes))
		}
		m.uploadDuration.Observe(seconds)
	}
}

func (m *Metrics) uploadStarted() {
	if m != nil {
		m.activeUploads.Inc()
	}
}

func (m *Metrics) uploadDone() {
	if m != nil {
		m.activeUploads.Dec()
	}
}
