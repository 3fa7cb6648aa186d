package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TableCacheHits      prometheus.Counter
	TableCacheMisses    prometheus.Counter
	TableCacheEvictions prometheus.Counter
	TableCacheBytes     prometheus.Gauge
	StatsCacheHits      prometheus.Counter
	StatsCacheMisses    prometheus.Counter

	RegistrySaves              prometheus.Counter
	RegistryBackups            prometheus.Counter
	RegistryRestores           prometheus.Counter
	RegistryValidationFailures prometheus.Counter
}

// New registers metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers metrics on a caller-supplied registerer; tests pass a
// fresh prometheus.NewRegistry to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TableCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "outlab_table_cache_hits_total",
			Help: "Total number of table cache hits",
		}),
		TableCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "outlab_table_cache_misses_total",
			Help: "Total number of table cache misses",
		}),
		TableCacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "outlab_table_cache_evictions_total",
			Help: "Total number of table cache evictions under byte budget pressure",
		}),
		TableCacheBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "outlab_table_cache_bytes",
			Help: "Approximate bytes currently held by the table cache",
		}),
		StatsCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "outlab_stats_cache_hits_total",
			Help: "Total number of derived-statistics cache hits",
		}),
		StatsCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "outlab_stats_cache_misses_total",
			Help: "Total number of derived-statistics cache misses",
		}),
		RegistrySaves: factory.NewCounter(prometheus.CounterOpts{
			Name: "outlab_registry_saves_total",
			Help: "Total number of successful registry document saves",
		}),
		RegistryBackups: factory.NewCounter(prometheus.CounterOpts{
			Name: "outlab_registry_backups_total",
			Help: "Total number of registry backup snapshots created",
		}),
		RegistryRestores: factory.NewCounter(prometheus.CounterOpts{
			Name: "outlab_registry_restores_total",
			Help: "Total number of registry restores from backup",
		}),
		RegistryValidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "outlab_registry_validation_failures_total",
			Help: "Total number of registry saves rejected by validation",
		}),
	}
}

func (m *Metrics) IncTableCacheHit() {
	if m != nil {
		m.TableCacheHits.Inc()
	}
}

func (m *Metrics) IncTableCacheMiss() {
	if m != nil {
		m.TableCacheMisses.Inc()
	}
}

func (m *Metrics) IncTableCacheEviction() {
	if m != nil {
		m.TableCacheEvictions.Inc()
	}
}

func (m *Metrics) SetTableCacheBytes(bytes int64) {
	if m != nil {
		m.TableCacheBytes.Set(float64(bytes))
	}
}

func (m *Metrics) IncStatsCacheHit() {
	if m != nil {
		m.StatsCacheHits.Inc()
	}
}

func (m *Metrics) IncStatsCacheMiss() {
	if m != nil {
		m.StatsCacheMisses.Inc()
	}
}

func (m *Metrics) IncRegistrySave() {
	if m != nil {
		m.RegistrySaves.Inc()
	}
}

func (m *Metrics) IncRegistryBackup() {
	if m != nil {
		m.RegistryBackups.Inc()
	}
}

func (m *Metrics) IncRegistryRestore() {
	if m != nil {
		m.RegistryRestores.Inc()
	}
}

func (m *Metrics) IncRegistryValidationFailure() {
	if m != nil {
		m.RegistryValidationFailures.Inc()
	}
}
