// Package prom exports fdcache metrics to Prometheus.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/fdcache/fdcache"
)

// Adapter implements fdcache.Metrics on top of Prometheus collectors.
// Safe for concurrent use; all Prometheus metric types are
// goroutine-safe.
type Adapter struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	inserts prometheus.Counter
	erases  prometheus.Counter
	rejects *prometheus.CounterVec
	size    prometheus.Gauge
}

// New constructs and registers the adapter.
//   - reg:         registry (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Handle validations that succeeded",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Handle validations that failed (stale or malformed handles)",
			ConstLabels: constLabels,
		}),
		inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "inserts_total",
			Help:        "New entries stored",
			ConstLabels: constLabels,
		}),
		erases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "erases_total",
			Help:        "Entries erased and slots recycled",
			ConstLabels: constLabels,
		}),
		rejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "rejects_total",
				Help:        "Inserts refused, by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Resident entries",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.inserts, a.erases, a.rejects, a.size)
	return a
}

func (a *Adapter) Hit()    { a.hits.Inc() }
func (a *Adapter) Miss()   { a.misses.Inc() }
func (a *Adapter) Insert() { a.inserts.Inc() }
func (a *Adapter) Erase()  { a.erases.Inc() }

// Reject increments the refusal counter with a reason label.
func (a *Adapter) Reject(r fdcache.RejectReason) {
	a.rejects.WithLabelValues(reason(r)).Inc()
}

// Size updates the population gauge.
func (a *Adapter) Size(entries int) { a.size.Set(float64(entries)) }

// reason maps RejectReason to a stable label value.
func reason(r fdcache.RejectReason) string {
	switch r {
	case fdcache.RejectIndexFull:
		return "index_full"
	default:
		return "capacity"
	}
}

var _ fdcache.Metrics = (*Adapter)(nil)
