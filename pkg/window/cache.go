// Package window tracks which archive slice applies to a validation timestamp.
//
// A Cache holds the broker map (slice timestamp to dump URLs) together with the
// current and next slice pointers. Next is 0 when the archive has no further slice.
package window

import (
	"fmt"

	"roafetch/pkg/model"
)

const (
	// ArchiveInterval is the spacing between consecutive archive slices in seconds
	ArchiveInterval uint32 = 180
	// LocateStep is the backward step used to snap a timestamp onto a slice
	LocateStep uint32 = 60
)

// Cache is the broker map plus time state. It is not safe for concurrent use.
type Cache struct {
	slices  map[uint32]string
	start   uint32
	maxEnd  uint32
	first   uint32
	last    uint32
	current uint32
	next    uint32
	used    int
	gapOpen bool // true when the next detected gap should be reported
}

// New creates an empty cache with the gap notice armed
func New() *Cache {
	return &Cache{
		slices:  make(map[uint32]string),
		gapOpen: true,
	}
}

// Clear drops every slice. Time pointers are kept.
func (c *Cache) Clear() {
	c.slices = make(map[uint32]string)
	c.first, c.last = 0, 0
}

// Load replaces the broker map and the interval bounds reported with it and
// resets the consumed slice counter
func (c *Cache) Load(slices map[uint32]string, start, maxEnd uint32) {
	c.Clear()
	for ts, urls := range slices {
		c.slices[ts] = urls
		if len(c.slices) == 1 || ts < c.first {
			c.first = ts
		}
		if ts > c.last {
			c.last = ts
		}
	}
	c.start = start
	c.maxEnd = maxEnd
	c.used = 0
}

// Locate snaps ts onto the newest slice at or before it, walking back minute by
// minute. The walk stops at the oldest slice of the map, not at Start, which only
// echoes the requested interval.
// On success Current is set and Next is recomputed.
func (c *Cache) Locate(ts uint32) (uint32, string, error) {
	if len(c.slices) == 0 {
		return 0, "", model.ErrNoData
	}

	cur := ts - ts%LocateStep
	for {
		if urls, ok := c.slices[cur]; ok {
			c.current = cur
			if len(c.slices) > 1 {
				c.next = c.Advance(cur)
			} else {
				c.next = 0
			}
			return cur, urls, nil
		}
		if cur <= c.first || cur < LocateStep {
			return 0, "", fmt.Errorf("%w: %d (oldest slice %d)", model.ErrNoDataBefore, ts, c.first)
		}
		cur -= LocateStep
	}
}

// Advance returns the first slice after current, or 0 when at most one unconsumed
// slice remains
func (c *Cache) Advance(current uint32) uint32 {
	if len(c.slices)-c.used <= 1 {
		return 0
	}
	for n := uint64(current) + uint64(ArchiveInterval); n <= uint64(c.last); n += uint64(ArchiveInterval) {
		if _, ok := c.slices[uint32(n)]; ok {
			return uint32(n)
		}
	}
	return 0
}

// Step moves the window onto Next and returns the URLs of the new current slice
func (c *Cache) Step() (string, error) {
	if c.next == 0 {
		return "", fmt.Errorf("%w: no slice after %d", model.ErrNoData, c.current)
	}
	c.used++
	c.current = c.next
	c.next = c.Advance(c.current)
	return c.slices[c.current], nil
}

// URLs returns the dump URLs of the slice at ts
func (c *Cache) URLs(ts uint32) (string, bool) {
	urls, ok := c.slices[ts]
	return urls, ok
}

// GapNotice reports whether a gap notice is due and disarms it
func (c *Cache) GapNotice() bool {
	due := c.gapOpen
	c.gapOpen = false
	return due
}

// ArmGap re-enables the gap notice after a successful validation
func (c *Cache) ArmGap() {
	c.gapOpen = true
}

// ResetUsed zeroes the consumed slice counter
func (c *Cache) ResetUsed() { c.used = 0 }

// Len returns the number of slices
func (c *Cache) Len() int { return len(c.slices) }

// Current returns the timestamp of the loaded slice (0 before the first load)
func (c *Cache) Current() uint32 { return c.current }

// Next returns the timestamp of the following slice (0 at the archive end)
func (c *Cache) Next() uint32 { return c.next }

// Start returns the interval start reported by the broker
func (c *Cache) Start() uint32 { return c.start }

// MaxEnd returns the archive upper bound reported by the broker (0 if open)
func (c *Cache) MaxEnd() uint32 { return c.maxEnd }

// Used returns how many times the window advanced since the last load
func (c *Cache) Used() int { return c.used }
