// Package metrics provides Prometheus instrumentation for the authgate service.
package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "authgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScreeningDecisionsTotal counts screening outcomes by rule set and reason.
	// reason is "none" for allowed requests.
	ScreeningDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authgate",
			Name:      "screening_decisions_total",
			Help:      "Total screening decisions by rule set, outcome, and deny reason.",
		},
		[]string{"rule_set", "outcome", "reason"},
	)

	// SignUpsTotal counts account creations by method (email, github, discord, google).
	SignUpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authgate",
			Name:      "sign_ups_total",
			Help:      "Total account creations by method.",
		},
		[]string{"method"},
	)

	// SignInsTotal counts sign-in attempts by method and result.
	SignInsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authgate",
			Name:      "sign_ins_total",
			Help:      "Total sign-in attempts by method and result.",
		},
		[]string{"method", "result"},
	)

	// EmailsSentTotal counts transactional email dispatches by template and result.
	EmailsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authgate",
			Name:      "emails_sent_total",
			Help:      "Total transactional email dispatches by template and result.",
		},
		[]string{"template", "result"},
	)

	// ActiveSessions tracks sessions currently considered live.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "authgate",
			Name:      "active_sessions",
			Help:      "Number of unexpired sessions.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "authgate", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "authgate", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScreeningDecisionsTotal,
		SignUpsTotal,
		SignInsTotal,
		EmailsSentTotal,
		ActiveSessions,
		DBOpenConnections,
		DBIdleConnections,
	)
}

// ScreeningDecision is one labeled row of the screening decision counter.
type ScreeningDecision struct {
	RuleSet string `json:"ruleSet"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason"`
	Count   uint64 `json:"count"`
}

// GatherScreeningDecisions reads the screening counters back out of the
// registry so the admin API can serve them as JSON without a scrape.
func GatherScreeningDecisions() ([]ScreeningDecision, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}

	var rows []ScreeningDecision
	for _, mf := range families {
		if mf.GetName() != "authgate_screening_decisions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			row := ScreeningDecision{Count: uint64(m.GetCounter().GetValue())}
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "rule_set":
					row.RuleSet = lp.GetValue()
				case "outcome":
					row.Outcome = lp.GetValue()
				case "reason":
					row.Reason = lp.GetValue()
				}
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := statusLabel(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape endpoint as a gin handler.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// StartDBCollector periodically copies database pool stats into gauges.
// Returns immediately; stops when ctx is cancelled.
func StartDBCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				DBOpenConnections.Set(float64(stats.OpenConnections))
				DBIdleConnections.Set(float64(stats.Idle))
			case <-ctx.Done():
				return
			}
		}
	}()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
