// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "submissions_total",
		Help:      "Check-in submissions by outcome (present or rejection reason).",
	}, []string{"outcome"})

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sessions_started_total",
		Help:      "Attendance sessions opened.",
	})

	SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sessions_ended_total",
		Help:      "Attendance sessions closed explicitly.",
	})

	AttemptsLogged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "audit_attempts_total",
		Help:      "Audit attempts consumed from the queue.",
	}, []string{"result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// GinMiddleware observes request latency labelled by the matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
