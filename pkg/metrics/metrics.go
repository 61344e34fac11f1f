package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a handler execution
const (
	Succeeded = "succeeded"
	Retry     = "retry"
	Failed    = "failed"
)

// Recorder holds the metrics of the certificate sync operator
type Recorder struct {
	handlerTotal *prometheus.CounterVec
	expiry       *prometheus.GaugeVec
}

// New returns a Recorder. Collectors need to be registered using Register.
func New() *Recorder {
	return &Recorder{
		handlerTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certsync_handler_total",
				Help: "Number of certificate handler executions by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		expiry: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "certsync_certificate_expiry_timestamp_seconds",
				Help: "Expiration of the leaf certificate synced from a secret",
			},
			[]string{"namespace", "name"},
		),
	}
}

// Register registers all the collectors of the Recorder
func (r *Recorder) Register(registerer prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{r.handlerTotal, r.expiry} {
		if err := registerer.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveOutcome counts a handler execution
func (r *Recorder) ObserveOutcome(operation, outcome string) {
	r.handlerTotal.WithLabelValues(operation, outcome).Inc()
}

// SetExpiry records the expiration of the certificate synced from a secret
func (r *Recorder) SetExpiry(namespace, name string, notAfter time.Time) {
	r.expiry.WithLabelValues(namespace, name).Set(float64(notAfter.Unix()))
}

// ForgetExpiry removes the expiration series of a secret
func (r *Recorder) ForgetExpiry(namespace, name string) {
	r.expiry.DeleteLabelValues(namespace, name)
}
