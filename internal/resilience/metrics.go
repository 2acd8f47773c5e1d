package resilience

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Breaker collectors, labelled by the outbound dependency (e.g. "razorpay").
// They are live before registration so breakers can always record.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "academy",
		Name:      "breaker_state",
		Help:      "Current breaker state: 0=closed,1=open,2=half-open",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "academy",
		Name:      "breaker_transition_total",
		Help:      "Count of breaker state transitions",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "academy",
		Name:      "breaker_open_total",
		Help:      "Number of times a breaker opened",
	}, []string{"target"})
	OutboundAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "academy",
		Name:      "outbound_attempt_total",
		Help:      "Outbound HTTP attempts by target and outcome",
	}, []string{"target", "outcome"})
)

// MustRegisterMetrics registers the collectors once; repeat calls are no-ops.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{BreakerState, BreakerTransitions, BreakerOpenedTotal, OutboundAttempts} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
