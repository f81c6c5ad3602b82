package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	readingsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_ingested_total",
			Help: "Telemetry readings processed by ingestion outcome.",
		},
		[]string{"result"},
	)
	occupancyEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "occupancy_events_total",
			Help: "Occupancy events accepted.",
		},
	)
	alertsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_opened_total",
			Help: "Alerts opened by type.",
		},
		[]string{"alert_type"},
	)
	alertsAcknowledged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_acknowledged_total",
			Help: "Alerts acknowledged, explicitly or on telemetry resume.",
		},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Offline sweep duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	sweepOffline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweep_devices_offline",
			Help: "Devices found offline by the last sweep.",
		},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
	outboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_outbox_pending",
			Help: "Outbox rows waiting for publication.",
		},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency,
		readingsIngested, occupancyEvents,
		alertsOpened, alertsAcknowledged,
		sweepDuration, sweepOffline,
		influxWriteFailures, kafkaConsumerLag, asynqQueueDepth, outboxPending,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncReadingIngested(result string) {
	readingsIngested.WithLabelValues(result).Inc()
}

func IncOccupancyEvent() {
	occupancyEvents.Inc()
}

func IncAlertOpened(alertType string) {
	alertsOpened.WithLabelValues(alertType).Inc()
}

func IncAlertAcknowledged() {
	alertsAcknowledged.Inc()
}

func ObserveSweepDuration(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

func SetSweepOffline(n int) {
	sweepOffline.Set(float64(n))
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func SetOutboxPending(n int) {
	outboxPending.Set(float64(n))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
