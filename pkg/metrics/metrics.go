package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignupAttempts records registration attempts by result
	// (success|invalid|duplicate|failure).
	SignupAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountd_signup_attempts_total",
			Help: "Total number of signup attempts",
		},
		[]string{"result"},
	)

	// VerificationAttempts counts email verification attempts by result
	// (success|invalid|failure).
	VerificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountd_verification_attempts_total",
			Help: "Total number of email verification attempts",
		},
		[]string{"result"},
	)

	// SigninAttempts counts session logins by result (success|failure).
	SigninAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountd_signin_attempts_total",
			Help: "Total number of signin attempts",
		},
		[]string{"result"},
	)

	// EmailsSent counts accepted outbound emails by kind
	// (verification|confirmation).
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountd_emails_sent_total",
			Help: "Total number of emails accepted for delivery",
		},
		[]string{"kind"},
	)

	// ActiveSessions tracks sessions that are neither expired nor cleared.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accountd_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accountd_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
