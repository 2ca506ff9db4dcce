package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lectio_logins_success_total",
		Help: "Total number of successful logins.",
	})
	LoginFailureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lectio_logins_failure_total",
		Help: "Total number of failed logins by error code.",
	}, []string{"code"})
	UserRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lectio_users_registered_total",
		Help: "Total number of identities registered.",
	})
	PasswordResetRequestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lectio_password_resets_requested_total",
		Help: "Total number of password reset emails requested.",
	})
	ProfileWriteFailureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lectio_profile_write_failures_total",
		Help: "Total number of failed profile document writes by operation.",
	}, []string{"operation"})
	StaleProfileDiscardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lectio_stale_profile_fetches_discarded_total",
		Help: "Profile fetches that resolved after the session had moved on.",
	})
	SignedInGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lectio_signed_in",
		Help: "1 while an identity is signed in, 0 otherwise.",
	})
)

// InitCustomMetrics registers the session metrics. It should be called once at startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}
	collectors := map[string]prometheus.Collector{
		"LoginSuccessTotal":           LoginSuccessTotal,
		"LoginFailureTotal":           LoginFailureTotal,
		"UserRegisteredTotal":         UserRegisteredTotal,
		"PasswordResetRequestedTotal": PasswordResetRequestedTotal,
		"ProfileWriteFailureTotal":    ProfileWriteFailureTotal,
		"StaleProfileDiscardedTotal":  StaleProfileDiscardedTotal,
		"SignedInGauge":               SignedInGauge,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
