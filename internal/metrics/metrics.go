// Package metrics exposes the helpdesk's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so tests and multiple apps never collide on
// global registration.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	TicketsCreated *prometheus.CounterVec
	AIOutcomes     *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	WSClients      prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helpdesk_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		TicketsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_tickets_created_total",
			Help: "Tickets created by source.",
		}, []string{"source"}),
		AIOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_ai_outcomes_total",
			Help: "Ticket analyses by outcome (ai or fallback).",
		}, []string{"outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_notifications_total",
			Help: "Reporter notifications by channel and result.",
		}, []string{"channel", "result"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "helpdesk_processing_queue_depth",
			Help: "Tickets waiting for background AI processing.",
		}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "helpdesk_websocket_clients",
			Help: "Connected live-update clients.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency by route template, so ids in
// paths do not explode label cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) TicketCreated(source string) {
	if m != nil {
		m.TicketsCreated.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) AIOutcome(fallback bool) {
	if m == nil {
		return
	}
	outcome := "ai"
	if fallback {
		outcome = "fallback"
	}
	m.AIOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Notified(channel string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) SetWSClients(n int) {
	if m != nil {
		m.WSClients.Set(float64(n))
	}
}
