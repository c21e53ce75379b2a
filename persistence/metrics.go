package persistence

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

type storageMetrics struct {
	hits      *metrics.Counter
	faults    *metrics.Counter
	refreshes *metrics.Counter
	evictions *metrics.Counter
}

func newStorageMetrics(name string) storageMetrics {
	counter := func(metric string) *metrics.Counter {
		return metrics.GetOrCreateCounter(fmt.Sprintf(`persistence_storage_%s_total{storage=%q}`, metric, name))
	}
	return storageMetrics{
		hits:      counter("hits"),
		faults:    counter("faults"),
		refreshes: counter("refreshes"),
		evictions: counter("evictions"),
	}
}

// WritePrometheus writes every storage and connection counter in the
// Prometheus text format.
func WritePrometheus(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
