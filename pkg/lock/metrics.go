package lock

import "github.com/prometheus/client_golang/prometheus"

var (
	// promptCounter tracks the PIN prompts shown, by kind.
	promptCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotdesk_lock_prompts_total",
		Help: "Total number of PIN prompts displayed",
	}, []string{"kind"})
	// failedAttemptCounter tracks wrong PINs entered.
	failedAttemptCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hotdesk_lock_failed_attempts_total",
		Help: "Total number of wrong PINs entered",
	})
	// logoutCounter tracks sessions ended after too many wrong PINs.
	logoutCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hotdesk_lock_logouts_total",
		Help: "Total number of hotdesk sessions ended after too many wrong PINs",
	})
	// halfwakeCounter tracks halfwake requests.
	halfwakeCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hotdesk_lock_halfwake_total",
		Help: "Total number of halfwake requests",
	})
	// lockedGauge is 1 while a PIN is set.
	lockedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hotdesk_lock_locked",
		Help: "Whether a PIN is set for the current hotdesk session",
	})
)

// RegisterMetrics registers the lock metrics on the provided registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(promptCounter, failedAttemptCounter, logoutCounter, halfwakeCounter, lockedGauge)
}
