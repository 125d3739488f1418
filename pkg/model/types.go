package model

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Status is the outcome of validating one announcement against one prefix table
type Status int

const (
	StatusNotValidated Status = iota // No table has answered yet
	StatusValid                      // A covering ROA authorizes the origin
	StatusInvalid                    // Covering ROAs exist but none authorizes the origin
	StatusNotFound                   // No ROA covers the prefix
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusInvalid:
		return "invalid"
	case StatusNotFound:
		return "notfound"
	default:
		return "notvalidated"
	}
}

// Mode selects where ROA data comes from
type Mode int

const (
	ModeHistorical Mode = iota // Archive dumps located through the broker
	ModeHybrid                 // Historical, after a fresh broker query past the archive end
	ModeLive                   // RTR cache server feed
)

func (m Mode) String() string {
	switch m {
	case ModeHistorical:
		return "historical"
	case ModeHybrid:
		return "hybrid"
	case ModeLive:
		return "live"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ROA is a single Route Origin Authorization record
type ROA struct {
	ASN       uint32       // Authorized origin
	Prefix    netip.Prefix // Masked prefix, Bits() is the minimum length
	MaxLength uint8        // Longest announcement the ROA authorizes
}

// String renders the ROA prefix as addr/min-max
func (r ROA) String() string {
	return fmt.Sprintf("%s/%d-%d", r.Prefix.Addr(), r.Prefix.Bits(), r.MaxLength)
}

// Covers reports whether the ROA prefix contains addr/maskLen
func (r ROA) Covers(addr netip.Addr, maskLen uint8) bool {
	if r.Prefix.Addr().Is4() != addr.Is4() {
		return false
	}
	if int(maskLen) < r.Prefix.Bits() {
		return false
	}
	return r.Prefix.Contains(addr)
}

// Authorizes reports whether the ROA makes an announcement of addr/maskLen by asn valid
func (r ROA) Authorizes(asn uint32, addr netip.Addr, maskLen uint8) bool {
	return r.ASN != 0 && r.ASN == asn && maskLen <= r.MaxLength && r.Covers(addr, maskLen)
}

// Interval is a closed validation window; End == 0 leaves it open ended
type Interval struct {
	Start uint32
	End   uint32
}

// Contains reports whether ts falls inside the interval
func (i Interval) Contains(ts uint32) bool {
	return ts >= i.Start && (i.End == 0 || ts <= i.End)
}

func (i Interval) String() string {
	return strconv.FormatUint(uint64(i.Start), 10) + "-" + strconv.FormatUint(uint64(i.End), 10)
}

// FormatIntervals joins intervals in the broker query notation t0-t1,t2-t3
func FormatIntervals(intervals []Interval) string {
	parts := make([]string, len(intervals))
	for i, iv := range intervals {
		parts[i] = iv.String()
	}
	return strings.Join(parts, ",")
}

// Collector names one archive source within a project
type Collector struct {
	Project string
	Name    string
}

// IsRTR reports whether the collector is backed by an RTR cache server
func (c Collector) IsRTR() bool {
	return strings.Contains(c.Name, "RTR")
}

// Error types
type Error string

const (
	ErrIO                Error = "I/O failure"
	ErrBroker            Error = "broker reported an error"
	ErrMalformedResponse Error = "malformed broker response"
	ErrMalformedDump     Error = "malformed ROA dump"
	ErrOrderMismatch     Error = "broker URL order does not match collectors"
	ErrOutOfInterval     Error = "timestamp outside configured intervals"
	ErrNoData            Error = "no ROA dumps for the configured intervals"
	ErrNoDataBefore      Error = "no ROA dump at or before timestamp"
	ErrCorruptRecord     Error = "corrupt ROA record"
	ErrInvalidInput      Error = "invalid input"
	ErrSessionClosed     Error = "session is closed"
)

func (e Error) Error() string {
	return string(e)
}

// CorruptRecordError reports the 1-based index of the record that aborted an import
type CorruptRecordError struct {
	Index int
	Err   error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("%s at record %d: %v", ErrCorruptRecord, e.Index, e.Err)
}

func (e *CorruptRecordError) Unwrap() []error {
	return []error{ErrCorruptRecord, e.Err}
}
