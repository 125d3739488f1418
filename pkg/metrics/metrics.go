// Package metrics holds the prometheus collectors shared by the validator packages
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const roafetchNamespace = "roafetch"

var (
	// BrokerRequests counts broker queries by outcome (ok, broker_error, malformed, io_error)
	BrokerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: roafetchNamespace,
		Subsystem: "broker",
		Name:      "requests_total",
		Help:      "Broker queries by outcome",
	}, []string{"outcome"})

	// BrokerSlices is the number of archive slices in the last broker response
	BrokerSlices = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: roafetchNamespace,
		Subsystem: "broker",
		Name:      "slices",
		Help:      "Archive slices returned by the last broker query",
	})

	// DumpImports counts imported ROA dumps by source (fetch, cache)
	DumpImports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: roafetchNamespace,
		Subsystem: "roadump",
		Name:      "imports_total",
		Help:      "ROA dumps imported into prefix tables",
	}, []string{"source"})

	// DumpRecords counts ROA records inserted into prefix tables
	DumpRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: roafetchNamespace,
		Subsystem: "roadump",
		Name:      "records_total",
		Help:      "ROA records inserted into prefix tables",
	})

	// Validations counts validation calls by mode and outcome (result, empty, error)
	Validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: roafetchNamespace,
		Subsystem: "session",
		Name:      "validations_total",
		Help:      "Validation calls by mode and outcome",
	}, []string{"mode", "outcome"})

	// WindowAdvances counts moves of the current archive slice
	WindowAdvances = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: roafetchNamespace,
		Subsystem: "window",
		Name:      "advances_total",
		Help:      "Archive window advances",
	})

	// ArchiveGaps counts detected holes in the archive
	ArchiveGaps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: roafetchNamespace,
		Subsystem: "window",
		Name:      "gaps_total",
		Help:      "Archive gaps detected",
	})

	// ModeSwitches counts transitions by target mode
	ModeSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: roafetchNamespace,
		Subsystem: "session",
		Name:      "mode_switches_total",
		Help:      "Mode transitions by target mode",
	}, []string{"to"})

	// LiveROAs is the size of the last live ROA snapshot
	LiveROAs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: roafetchNamespace,
		Subsystem: "rtr",
		Name:      "roas",
		Help:      "ROAs in the last live snapshot",
	})
)

// NewRegistry creates a registry holding the process, Go and roafetch collectors
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewProcessCollector(
		collectors.ProcessCollectorOpts{Namespace: roafetchNamespace},
	))
	registry.MustRegister(collectors.NewGoCollector())

	registry.MustRegister(BrokerRequests)
	registry.MustRegister(BrokerSlices)
	registry.MustRegister(DumpImports)
	registry.MustRegister(DumpRecords)
	registry.MustRegister(Validations)
	registry.MustRegister(WindowAdvances)
	registry.MustRegister(ArchiveGaps)
	registry.MustRegister(ModeSwitches)
	registry.MustRegister(LiveROAs)

	return registry
}
