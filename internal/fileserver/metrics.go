package fileserver

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// serverMetrics owns a private registry so a server can be stopped and
// started again without re-registration panics on the default registry.
type serverMetrics struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	downloadsTotal prometheus.Counter
	uploadsTotal   prometheus.Counter
	uploadBytes    prometheus.Counter
	sweepEvictions prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filebroker",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by method and status code.",
		}, []string{"method", "code"}),
		downloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filebroker",
			Name:      "downloads_total",
			Help:      "Files served through download tokens.",
		}),
		uploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filebroker",
			Name:      "uploads_total",
			Help:      "Files received through upload tokens.",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filebroker",
			Name:      "upload_bytes_total",
			Help:      "Total bytes accepted from uploads.",
		}),
		sweepEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filebroker",
			Name:      "sweep_evictions_total",
			Help:      "Expired tokens removed by the periodic sweep.",
		}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.downloadsTotal,
		m.uploadsTotal,
		m.uploadBytes,
		m.sweepEvictions,
	)
	return m
}

func (m *serverMetrics) recordRequest(method string, status int) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *serverMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
