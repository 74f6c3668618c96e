package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// IntentCreateTotal counts payment intent creation outcomes.
	IntentCreateTotal *prometheus.CounterVec
	// ConfirmTotal counts confirmation outcomes per payment method.
	ConfirmTotal *prometheus.CounterVec
	// ConfirmLatency records confirmation latency in milliseconds per method.
	ConfirmLatency *prometheus.HistogramVec
	// PollResolutionTotal counts how pollers resolved, by final status.
	PollResolutionTotal *prometheus.CounterVec
	// TokenRefreshTotal counts gateway authentication refreshes by outcome.
	TokenRefreshTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		IntentCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_create_total",
			Help:      "Count of payment intent creation outcomes.",
		}, []string{"result"})
		ConfirmTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirm_total",
			Help:      "Count of confirmation outcomes per payment method.",
		}, []string{"method", "result"})
		ConfirmLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_confirm_duration_ms",
			Help:      "Latency for confirmation calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method"})
		PollResolutionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_poll_resolution_total",
			Help:      "Count of status poller resolutions by final status.",
		}, []string{"status"})
		TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_token_refresh_total",
			Help:      "Count of gateway token refreshes by outcome.",
		}, []string{"result"})

		mustRegisterCollector(reg, IntentCreateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				IntentCreateTotal = v
			}
		})
		mustRegisterCollector(reg, ConfirmTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ConfirmTotal = v
			}
		})
		mustRegisterCollector(reg, ConfirmLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ConfirmLatency = v
			}
		})
		mustRegisterCollector(reg, PollResolutionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PollResolutionTotal = v
			}
		})
		mustRegisterCollector(reg, TokenRefreshTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TokenRefreshTotal = v
			}
		})
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
