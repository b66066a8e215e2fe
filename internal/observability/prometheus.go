package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"kolkostruva/internal/session"
)

// PrometheusRecorder records session operations, load statistics and HTTP
// traffic.
type PrometheusRecorder struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	RowsLoaded   prometheus.Gauge
	RowsSkipped  prometheus.Gauge
	RowsEnriched prometheus.Gauge
	Dates        prometheus.Gauge
	Dimensions   *prometheus.GaugeVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the metrics with reg. A nil reg uses the
// default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusRecorder{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kolko_operations_total",
			Help: "Session operations by outcome",
		}, []string{"operation", "status"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kolko_operation_duration_seconds",
			Help:    "Session operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		RowsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "kolko_dataset_rows",
			Help: "Data rows read from the fact document on the last load",
		}),
		RowsSkipped: f.NewGauge(prometheus.GaugeOpts{
			Name: "kolko_dataset_rows_skipped",
			Help: "Malformed rows dropped on the last load",
		}),
		RowsEnriched: f.NewGauge(prometheus.GaugeOpts{
			Name: "kolko_dataset_rows_enriched",
			Help: "Enriched price records held after the last load",
		}),
		Dates: f.NewGauge(prometheus.GaugeOpts{
			Name: "kolko_dataset_dates",
			Help: "Distinct dates available after the last load",
		}),
		Dimensions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kolko_dimension_entries",
			Help: "Entries per dimension table after the last load",
		}, []string{"dimension"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kolko_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kolko_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Observe implements session.MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.OperationsTotal.WithLabelValues(operation, status).Inc()
	r.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveLoad implements session.LoadObserver.
func (r *PrometheusRecorder) ObserveLoad(stats session.Stats) {
	r.RowsLoaded.Set(float64(stats.Rows))
	r.RowsSkipped.Set(float64(stats.Skipped))
	r.RowsEnriched.Set(float64(stats.Enriched))
	r.Dates.Set(float64(stats.Dates))
	r.Dimensions.WithLabelValues("category").Set(float64(stats.Dimensions.Categories))
	r.Dimensions.WithLabelValues("city").Set(float64(stats.Dimensions.Cities))
	r.Dimensions.WithLabelValues("trade_chain").Set(float64(stats.Dimensions.TradeChains))
	r.Dimensions.WithLabelValues("trade_object").Set(float64(stats.Dimensions.TradeObjects))
	r.Dimensions.WithLabelValues("product").Set(float64(stats.Dimensions.Products))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware counts requests under route, a fixed label chosen by the
// caller so ids in paths do not explode cardinality.
func (r *PrometheusRecorder) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)
		r.HTTPRequestsTotal.WithLabelValues(req.Method, route, strconv.Itoa(sw.status)).Inc()
		r.HTTPRequestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}

var (
	_ session.MetricsRecorder = (*PrometheusRecorder)(nil)
	_ session.LoadObserver    = (*PrometheusRecorder)(nil)
	_ session.Logger          = (*Logger)(nil)
)
