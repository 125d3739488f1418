package model

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "valid", StatusValid.String())
	assert.Equal(t, "invalid", StatusInvalid.String())
	assert.Equal(t, "notfound", StatusNotFound.String())
	assert.Equal(t, "notvalidated", StatusNotValidated.String())
}

func TestROA(t *testing.T) {
	r := ROA{ASN: 12654, Prefix: netip.MustParsePrefix("93.175.146.0/24"), MaxLength: 25}
	assert.Equal(t, "93.175.146.0/24-25", r.String())

	tests := []struct {
		name       string
		asn        uint32
		addr       string
		maskLen    uint8
		covers     bool
		authorizes bool
	}{
		{"exact", 12654, "93.175.146.0", 24, true, true},
		{"within max length", 12654, "93.175.146.128", 25, true, true},
		{"beyond max length", 12654, "93.175.146.0", 26, true, false},
		{"wrong origin", 1, "93.175.146.0", 24, true, false},
		{"shorter than roa", 12654, "93.175.0.0", 16, false, false},
		{"outside", 12654, "93.175.147.0", 24, false, false},
		{"other family", 12654, "2001:db8::", 24, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := netip.MustParseAddr(tt.addr)
			assert.Equal(t, tt.covers, r.Covers(addr, tt.maskLen))
			assert.Equal(t, tt.authorizes, r.Authorizes(tt.asn, addr, tt.maskLen))
		})
	}
}

func TestInterval(t *testing.T) {
	closed := Interval{Start: 100, End: 200}
	assert.True(t, closed.Contains(100))
	assert.True(t, closed.Contains(200))
	assert.False(t, closed.Contains(99))
	assert.False(t, closed.Contains(201))

	open := Interval{Start: 100}
	assert.True(t, open.Contains(1<<31))
	assert.False(t, open.Contains(99))

	assert.Equal(t, "100-200,100-0", FormatIntervals([]Interval{closed, open}))
}

func TestCollector(t *testing.T) {
	assert.True(t, Collector{Project: "FU-Berlin", Name: "CC06(RTR)"}.IsRTR())
	assert.False(t, Collector{Project: "FU-Berlin", Name: "CC01"}.IsRTR())
}

func TestCorruptRecordError(t *testing.T) {
	cause := errors.New("bad prefix")
	err := error(&CorruptRecordError{Index: 7, Err: cause})
	assert.ErrorIs(t, err, ErrCorruptRecord)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "record 7")

	var cre *CorruptRecordError
	assert.True(t, errors.As(err, &cre))
	assert.Equal(t, 7, cre.Index)
}
