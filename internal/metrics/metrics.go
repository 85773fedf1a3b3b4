// Package metrics provides Prometheus metrics for the sdbrowser client and dev server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Socket metrics
	socketDialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdbrowser_socket_dials_total",
			Help: "Total WebSocket dial attempts",
		},
		[]string{"result"},
	)

	socketState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sdbrowser_socket_state",
			Help: "Current socket state (0=connecting, 1=connected, 2=disconnected)",
		},
	)

	socketCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdbrowser_socket_commands_total",
			Help: "Outbound socket commands",
		},
		[]string{"result"},
	)

	// Stream reassembler metrics
	streamChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sdbrowser_stream_chunks_total",
			Help: "Total raw chunks received",
		},
	)

	streamChunkBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sdbrowser_stream_chunk_bytes_total",
			Help: "Total bytes of raw chunks received",
		},
	)

	streamDecodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdbrowser_stream_decodes_total",
			Help: "Successfully decoded listings by decode path",
		},
		[]string{"path"},
	)

	streamBufferBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sdbrowser_stream_buffer_bytes",
			Help: "Bytes currently held in the accumulation buffer",
		},
	)

	streamOverflowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sdbrowser_stream_overflows_total",
			Help: "Accumulation buffer overflows",
		},
	)

	treeEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sdbrowser_tree_entries",
			Help: "Number of entries in the last decoded listing",
		},
	)

	// File action metrics
	fileActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sdbrowser_file_action_duration_seconds",
			Help:    "File action request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	fileActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdbrowser_file_actions_total",
			Help: "Total file actions",
		},
		[]string{"action", "status"},
	)

	transferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdbrowser_transfer_bytes_total",
			Help: "Bytes moved by uploads and downloads",
		},
		[]string{"direction"},
	)

	// Snapshot archive metrics
	snapshotWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdbrowser_snapshot_writes_total",
			Help: "Listing snapshots written to the archive",
		},
		[]string{"backend", "status"},
	)

	// Dev server metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdbrowser_http_requests_total",
			Help: "Total number of HTTP requests served by the dev server",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sdbrowser_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	listingsServedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sdbrowser_listings_served_total",
			Help: "Listings streamed by the dev server",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordDial records a socket dial attempt.
func RecordDial(success bool) {
	socketDialsTotal.WithLabelValues(status(success)).Inc()
}

// SetSocketState sets the socket state gauge.
func SetSocketState(state int) {
	socketState.Set(float64(state))
}

// RecordCommand records an outbound command, sent or dropped.
func RecordCommand(sent bool) {
	result := "sent"
	if !sent {
		result = "dropped"
	}
	socketCommandsTotal.WithLabelValues(result).Inc()
}

// RecordChunk records a raw chunk arrival.
func RecordChunk(bytes int) {
	streamChunksTotal.Inc()
	streamChunkBytes.Add(float64(bytes))
}

// RecordDecode records a decoded listing. path is "strict" or "repaired".
func RecordDecode(path string) {
	streamDecodesTotal.WithLabelValues(path).Inc()
}

// SetBufferBytes sets the accumulation buffer size.
func SetBufferBytes(bytes int) {
	streamBufferBytes.Set(float64(bytes))
}

// RecordOverflow records an accumulation buffer overflow.
func RecordOverflow() {
	streamOverflowsTotal.Inc()
}

// SetTreeEntries sets the entry count of the last decoded listing.
func SetTreeEntries(count int) {
	treeEntries.Set(float64(count))
}

// RecordFileAction records a file action request.
func RecordFileAction(action string, duration time.Duration, success bool) {
	fileActionDuration.WithLabelValues(action).Observe(duration.Seconds())
	fileActionsTotal.WithLabelValues(action, status(success)).Inc()
}

// RecordUpload records bytes uploaded.
func RecordUpload(bytes int64) {
	transferBytes.WithLabelValues("upload").Add(float64(bytes))
}

// RecordDownload records bytes downloaded.
func RecordDownload(bytes int64) {
	transferBytes.WithLabelValues("download").Add(float64(bytes))
}

// RecordSnapshot records a snapshot archive write.
func RecordSnapshot(backend string, success bool) {
	snapshotWritesTotal.WithLabelValues(backend, status(success)).Inc()
}

// RecordListingServed records a listing streamed by the dev server.
func RecordListingServed() {
	listingsServedTotal.Inc()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
// Upload paths are arbitrary, so POSTs are recorded under a single label.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.URL.Path
		if r.Method == http.MethodPost {
			path = "upload"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
