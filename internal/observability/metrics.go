package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webinar_http_requests_total",
			Help: "Total number of HTTP requests processed by the backend.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webinar_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webinar_ws_active_connections",
			Help: "Number of active viewer connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webinar_ws_events_total",
			Help: "Total number of websocket events relayed, by event name.",
		},
		[]string{"event"},
	)
	syncBroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webinar_sync_broadcasts_total",
			Help: "Total number of sync events pushed to live sessions.",
		},
	)
	automationFiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webinar_automation_fires_total",
			Help: "Total number of automation events fired, by kind.",
		},
		[]string{"kind"},
	)
	automationClaimConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webinar_automation_claim_conflicts_total",
			Help: "Total number of automation claims lost to a concurrent firing.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		syncBroadcastsTotal,
		automationFiresTotal,
		automationClaimConflicts,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// IncWSActive / DecWSActive track the viewer connection gauge.
func IncWSActive() { wsActiveConnections.Inc() }

// DecWSActive decrements the viewer connection gauge.
func DecWSActive() { wsActiveConnections.Dec() }

// IncWSEvent counts one relayed websocket event.
func IncWSEvent(event string) { wsEventsTotal.WithLabelValues(event).Inc() }

// IncSyncBroadcast counts one sync push to a live session.
func IncSyncBroadcast() { syncBroadcastsTotal.Inc() }

// IncAutomationFire counts one fired automation event.
func IncAutomationFire(kind string) { automationFiresTotal.WithLabelValues(kind).Inc() }

// IncClaimConflict counts a claim lost to a concurrent firing.
func IncClaimConflict() { automationClaimConflicts.Inc() }
