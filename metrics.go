package datastore

import "github.com/prometheus/client_golang/prometheus"

// RecencyMetrics are the Prometheus collectors for one SimpleRecencyAllocator
// instance. Register them with whatever prometheus.Registerer the host
// process already runs; this package never starts its own metrics server.
type RecencyMetrics struct {
	Hits   prometheus.Counter
	Misses prometheus.Counter
	Evicts prometheus.Counter
}

// NewRecencyMetrics builds and registers the three counters under
// "storageengine_recency_*", then wires them into allocator.
func NewRecencyMetrics(reg prometheus.Registerer, allocator *SimpleRecencyAllocator) (*RecencyMetrics, error) {
	m := &RecencyMetrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storageengine_recency_hits_total",
			Help: "Reads served directly from the recency allocator's memory tier.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storageengine_recency_misses_total",
			Help: "Reads that required promoting a ref from the device tier.",
		}),
		Evicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storageengine_recency_evicts_total",
			Help: "Refs evicted from a tier to make room for another ref.",
		}),
	}
	for _, c := range []prometheus.Collector{m.Hits, m.Misses, m.Evicts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	allocator.SetMetrics(m.Hits, m.Misses, m.Evicts)
	return m, nil
}

// NewResourceGauges registers capacity/available gauges for a resource under
// the given name prefix, refreshed on every Prometheus scrape via GaugeFunc.
func NewResourceGauges(reg prometheus.Registerer, namePrefix string, resource StorageResource) error {
	capacityGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: namePrefix + "_capacity_bytes",
		Help: "Best-effort capacity of this storage resource, in bytes.",
	}, func() float64 {
		v, err := resource.Capacity()
		if err != nil {
			return 0
		}
		return float64(v)
	})
	availableGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: namePrefix + "_available_bytes",
		Help: "Best-effort available space on this storage resource, in bytes.",
	}, func() float64 {
		v, err := resource.Available()
		if err != nil {
			return 0
		}
		return float64(v)
	})
	for _, c := range []prometheus.Collector{capacityGauge, availableGauge} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
