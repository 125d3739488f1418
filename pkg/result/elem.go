// Package result aggregates per-collector validation outcomes of one query and
// renders them in the unified or discrete text format.
package result

import (
	"fmt"
	"sort"

	"roafetch/pkg/model"
)

// Key identifies one aggregated line: the ROAs of a single origin AS that
// decided the status of a collector
type Key struct {
	Project   string
	Collector string
	Status    model.Status
	ASN       uint32
}

// String renders project,collector,status,asn
func (k Key) String() string {
	return fmt.Sprintf("%s,%s,%s,%d", k.Project, k.Collector, k.Status, k.ASN)
}

// Elem holds the outcome of a single validation call across all collector slots
type Elem struct {
	statuses []model.Status
	entries  map[Key]string
}

// NewElem creates an Elem with every slot not validated
func NewElem(slots int) *Elem {
	return &Elem{
		statuses: make([]model.Status, slots),
		entries:  make(map[Key]string),
	}
}

// Add records the outcome for slot. A slot is only recorded once; later calls are
// ignored. For valid and invalid outcomes every reason ROA is kept under its origin AS.
func (e *Elem) Add(slot int, project, collector string, status model.Status, reasons []model.ROA) {
	if slot < 0 || slot >= len(e.statuses) {
		return
	}
	if e.statuses[slot] != model.StatusNotValidated || status == model.StatusNotValidated {
		return
	}
	e.statuses[slot] = status
	if status == model.StatusNotFound {
		return
	}

	for _, roa := range reasons {
		key := Key{Project: project, Collector: collector, Status: status, ASN: roa.ASN}
		if prefixes, ok := e.entries[key]; ok {
			e.entries[key] = prefixes + " " + roa.String()
		} else {
			e.entries[key] = roa.String()
		}
	}
}

// Status returns the recorded status of slot
func (e *Elem) Status(slot int) model.Status {
	if slot < 0 || slot >= len(e.statuses) {
		return model.StatusNotValidated
	}
	return e.statuses[slot]
}

// Slots returns the number of collector slots
func (e *Elem) Slots() int {
	return len(e.statuses)
}

// Len returns the number of aggregated entries
func (e *Elem) Len() int {
	return len(e.entries)
}

// Entries returns the aggregated keys in rendering order
func (e *Elem) Entries() []Key {
	keys := make([]Key, 0, len(e.entries))
	for k := range e.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Prefixes returns the space separated ROAs stored under key
func (e *Elem) Prefixes(key Key) string {
	return e.entries[key]
}
