package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentOrderTotal counts gateway order creation outcomes.
	PaymentOrderTotal *prometheus.CounterVec
	// PaymentConfirmationTotal counts checkout confirmation outcomes by result.
	PaymentConfirmationTotal *prometheus.CounterVec
	// PaymentReconcileTotal counts background reconciliation outcomes.
	PaymentReconcileTotal *prometheus.CounterVec
	// RegistrationTotal counts student registration outcomes.
	RegistrationTotal *prometheus.CounterVec
	// AdminActionTotal counts admin mutations on student records.
	AdminActionTotal *prometheus.CounterVec
	// GatewayLatency records payment gateway call latency in milliseconds.
	GatewayLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentOrderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_order_total",
			Help:      "Count of payment order creation outcomes.",
		}, []string{"result"})
		PaymentConfirmationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmation_total",
			Help:      "Count of payment confirmations by verification outcome.",
		}, []string{"result"})
		PaymentReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_total",
			Help:      "Count of payment reconciliation outcomes.",
		}, []string{"result"})
		RegistrationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_total",
			Help:      "Count of student registration outcomes.",
		}, []string{"result"})
		AdminActionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_action_total",
			Help:      "Count of admin actions on student records.",
		}, []string{"action", "result"})
		GatewayLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_ms",
			Help:      "Latency for payment gateway calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation", "result"})

		mustRegisterCounterVec(reg, &PaymentOrderTotal)
		mustRegisterCounterVec(reg, &PaymentConfirmationTotal)
		mustRegisterCounterVec(reg, &PaymentReconcileTotal)
		mustRegisterCounterVec(reg, &RegistrationTotal)
		mustRegisterCounterVec(reg, &AdminActionTotal)
		mustRegisterCollector(reg, GatewayLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				GatewayLatency = v
			}
		})
	})
}

// IncCounter increments a domain counter when metrics are registered. Nil vectors are ignored.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

func mustRegisterCounterVec(reg prometheus.Registerer, target **prometheus.CounterVec) {
	mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			*target = v
		}
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
