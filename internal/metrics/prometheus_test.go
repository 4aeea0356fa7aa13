package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"featureflow/logger"
)

func TestPrometheusSinkCountsAndGauges(t *testing.T) {
	resetMetricHandlers()

	sink := NewPrometheusSink()
	sink.Attach()
	t.Cleanup(sink.Detach)

	Count(nil, "cache", "cache_hit", logger.Fields{"provider": "nager"})
	Count(nil, "cache", "cache_hit", logger.Fields{"provider": "nager"})
	EmitMetric(nil, "ratelimit", "limiter_wait_ms", 250.0, TypeGauge, nil)
	EmitMetric(nil, "cache", "ignored", "not a number", TypeCounter, nil)

	if got := testutil.ToFloat64(sink.counters.WithLabelValues("cache", "cache_hit", "nager")); got != 2 {
		t.Fatalf("unexpected counter value: %v", got)
	}
	if got := testutil.ToFloat64(sink.gauges.WithLabelValues("ratelimit", "limiter_wait_ms", "")); got != 250 {
		t.Fatalf("unexpected gauge value: %v", got)
	}
}

func TestPrometheusSinkWriteTextfile(t *testing.T) {
	resetMetricHandlers()

	sink := NewPrometheusSink()
	sink.Attach()
	t.Cleanup(sink.Detach)

	Count(nil, "provider", "provider_fallback", logger.Fields{"provider": "static"})

	path := filepath.Join(t.TempDir(), "featureflow.prom")
	if err := sink.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `featureflow_events_total{component="provider",metric="provider_fallback",provider="static"} 1`) {
		t.Fatalf("textfile missing counter:\n%s", data)
	}
}

func TestPrometheusSinkDetach(t *testing.T) {
	resetMetricHandlers()

	sink := NewPrometheusSink()
	sink.Attach()
	sink.Detach()

	Count(nil, "cache", "cache_miss", nil)

	if got := testutil.ToFloat64(sink.counters.WithLabelValues("cache", "cache_miss", "")); got != 0 {
		t.Fatalf("detached sink still counting: %v", got)
	}
}
