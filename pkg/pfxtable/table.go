// Package pfxtable is an in-memory ROA index answering origin validation queries.
//
// Records are kept in two critbit routing tables, one per address family. Every
// node holds all ROAs registered for exactly that prefix.
package pfxtable

import (
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"

	"github.com/k-sone/critbitgo"

	"roafetch/pkg/model"
)

// Table is a prefix table safe for concurrent readers and writers
type Table struct {
	mu    sync.RWMutex
	v4    *critbitgo.Net
	v6    *critbitgo.Net
	count int
}

// New creates an empty prefix table
func New() *Table {
	return &Table{
		v4: critbitgo.NewNet(),
		v6: critbitgo.NewNet(),
	}
}

// Add inserts a ROA. Inserting an identical record twice is a no-op.
func (t *Table) Add(roa model.ROA) error {
	if err := checkROA(roa); err != nil {
		return err
	}
	roa.Prefix = roa.Prefix.Masked()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.add(roa)
}

func (t *Table) add(roa model.ROA) error {
	routes := t.family(roa.Prefix.Addr())
	key := toIPNet(roa.Prefix)

	var records []model.ROA
	if v, ok, err := routes.Get(key); err != nil {
		return fmt.Errorf("lookup %s: %w", roa.Prefix, err)
	} else if ok {
		records = v.([]model.ROA)
	}
	for _, existing := range records {
		if existing == roa {
			return nil
		}
	}

	if err := routes.Add(key, append(records, roa)); err != nil {
		return fmt.Errorf("insert %s: %w", roa.Prefix, err)
	}
	t.count++
	return nil
}

// Replace swaps the table contents for roas atomically with respect to readers
func (t *Table) Replace(roas []model.ROA) error {
	fresh := New()
	for _, roa := range roas {
		if err := fresh.Add(roa); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.v4, t.v6, t.count = fresh.v4, fresh.v6, fresh.count
	t.mu.Unlock()
	return nil
}

// Validate checks whether asn may originate addr/maskLen.
// It returns the validation state and every ROA covering the announced prefix.
func (t *Table) Validate(asn uint32, addr netip.Addr, maskLen uint8) (model.Status, []model.ROA, error) {
	addr = addr.Unmap()
	if !addr.IsValid() {
		return model.StatusNotValidated, nil, fmt.Errorf("%w: invalid address", model.ErrInvalidInput)
	}
	if int(maskLen) > addr.BitLen() {
		return model.StatusNotValidated, nil, fmt.Errorf("%w: mask length %d exceeds %d", model.ErrInvalidInput, maskLen, addr.BitLen())
	}
	query := netip.PrefixFrom(addr, int(maskLen)).Masked()

	t.mu.RLock()
	routes := t.family(addr)
	var reasons []model.ROA
	routes.WalkMatch(toIPNet(query), func(_ *net.IPNet, v interface{}) bool {
		reasons = append(reasons, v.([]model.ROA)...)
		return true
	})
	t.mu.RUnlock()

	if len(reasons) == 0 {
		return model.StatusNotFound, nil, nil
	}
	sortROAs(reasons)

	for _, roa := range reasons {
		if roa.Authorizes(asn, addr, maskLen) {
			return model.StatusValid, reasons, nil
		}
	}
	return model.StatusInvalid, reasons, nil
}

// ForEach calls fn for every record, IPv4 first. Returning false stops the walk.
func (t *Table) ForEach(fn func(model.ROA) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	more := true
	visit := func(_ *net.IPNet, v interface{}) bool {
		for _, roa := range v.([]model.ROA) {
			if more = fn(roa); !more {
				return false
			}
		}
		return true
	}
	t.v4.Walk(nil, visit)
	if more {
		t.v6.Walk(nil, visit)
	}
}

// Reset removes all records
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.v4.Clear()
	t.v6.Clear()
	t.count = 0
}

// Len returns the number of records
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

func (t *Table) family(addr netip.Addr) *critbitgo.Net {
	if addr.Is4() {
		return t.v4
	}
	return t.v6
}

func checkROA(roa model.ROA) error {
	if !roa.Prefix.IsValid() {
		return fmt.Errorf("%w: invalid ROA prefix", model.ErrInvalidInput)
	}
	if roa.Prefix.Addr().Is4In6() {
		return fmt.Errorf("%w: mapped address in ROA prefix %s", model.ErrInvalidInput, roa.Prefix)
	}
	width := roa.Prefix.Addr().BitLen()
	if int(roa.MaxLength) < roa.Prefix.Bits() || int(roa.MaxLength) > width {
		return fmt.Errorf("%w: max length %d out of range for %s", model.ErrInvalidInput, roa.MaxLength, roa.Prefix)
	}
	return nil
}

// toIPNet converts a prefix into a critbit key source. The IP slice has no spare
// capacity, critbitgo appends the mask length to it.
func toIPNet(p netip.Prefix) *net.IPNet {
	addr := p.Addr()
	if addr.Is4() {
		b := addr.As4()
		return &net.IPNet{IP: net.IP(b[:]), Mask: net.CIDRMask(p.Bits(), 32)}
	}
	b := addr.As16()
	return &net.IPNet{IP: net.IP(b[:]), Mask: net.CIDRMask(p.Bits(), 128)}
}

// sortROAs orders records from least to most specific, then by origin
func sortROAs(roas []model.ROA) {
	sort.Slice(roas, func(i, j int) bool {
		a, b := roas[i], roas[j]
		if a.Prefix.Bits() != b.Prefix.Bits() {
			return a.Prefix.Bits() < b.Prefix.Bits()
		}
		if c := a.Prefix.Addr().Compare(b.Prefix.Addr()); c != 0 {
			return c < 0
		}
		if a.ASN != b.ASN {
			return a.ASN < b.ASN
		}
		return a.MaxLength < b.MaxLength
	})
}
