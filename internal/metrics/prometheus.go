package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PrometheusSink mirrors emitted metrics into a private registry. Counters
// and gauges are keyed by component, metric name and provider.
type PrometheusSink struct {
	registry *prometheus.Registry
	counters *prometheus.CounterVec
	gauges   *prometheus.GaugeVec
	id       MetricHandlerID
}

func NewPrometheusSink() *PrometheusSink {
	registry := prometheus.NewRegistry()
	labels := []string{"component", "metric", "provider"}

	s := &PrometheusSink{
		registry: registry,
		counters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "featureflow",
				Name:      "events_total",
				Help:      "Count of featureflow events by component and metric",
			},
			labels,
		),
		gauges: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "featureflow",
				Name:      "gauge",
				Help:      "Last observed value of featureflow gauges",
			},
			labels,
		),
	}

	registry.MustRegister(s.counters, s.gauges)
	registry.MustRegister(collectors.NewGoCollector())
	return s
}

// Attach subscribes the sink to the metric bus.
func (s *PrometheusSink) Attach() {
	if s.id == 0 {
		s.id = RegisterMetricHandler(s.handle)
	}
}

// Detach stops receiving metrics.
func (s *PrometheusSink) Detach() {
	UnregisterMetricHandler(s.id)
	s.id = 0
}

func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (s *PrometheusSink) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
		return fmt.Errorf("write prometheus textfile: %w", err)
	}
	return nil
}

func (s *PrometheusSink) handle(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}
	provider, _ := m.Fields["provider"].(string)

	switch m.Type {
	case TypeGauge:
		s.gauges.WithLabelValues(m.Component, m.Name, provider).Set(value)
	default:
		if value < 0 {
			return
		}
		s.counters.WithLabelValues(m.Component, m.Name, provider).Add(value)
	}
}
