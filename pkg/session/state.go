package session

import (
	"context"
	"fmt"
	"net/netip"

	"roafetch/pkg/broker"
	"roafetch/pkg/config"
	"roafetch/pkg/metrics"
	"roafetch/pkg/model"
	"roafetch/pkg/pfxtable"
	"roafetch/pkg/rtr"
)

// fetchBroker replaces the broker map with the slices of intervals. A failed
// query leaves the current map in place so a later call can query again.
func (s *Session) fetchBroker(ctx context.Context, intervals string) error {
	resp, err := s.queryBroker(ctx, intervals)
	if err != nil {
		return err
	}
	s.install(resp)
	return nil
}

func (s *Session) queryBroker(ctx context.Context, intervals string) (*broker.Response, error) {
	projects, names := config.Split(s.cfg.Collectors)
	return s.broker.Fetch(ctx, projects, names, intervals)
}

// install adopts the collector order echoed by the broker and loads its slices
func (s *Session) install(resp *broker.Response) {
	if pairs := resp.CollectorPairs(); len(pairs) > 0 {
		if len(pairs) != len(s.cfg.Collectors) {
			s.logger.Warn().
				Int("configured", len(s.cfg.Collectors)).
				Int("echoed", len(pairs)).
				Msg("broker echoed a different collector list")
		}
		s.collectors = pairs
	}
	s.resetSlots()
	s.window.Load(resp.Slices, resp.Start, resp.MaxEnd)
}

// resetSlots creates one prefix table per collector, or a single merged table
func (s *Session) resetSlots() {
	n := len(s.collectors)
	if s.cfg.Unified {
		n = 1
	}
	s.tables = make([]*pfxtable.Table, n)
	for i := range s.tables {
		s.tables[i] = pfxtable.New()
	}
	s.active = make([]bool, n)
	s.loaded = false
}

// locate loads the newest slice at or before ts
func (s *Session) locate(ctx context.Context, ts uint32) error {
	current, urls, err := s.window.Locate(ts)
	if err != nil {
		return err
	}
	s.logger.Debug().
		Uint32("current", current).
		Uint32("next", s.window.Next()).
		Msg("located ROA slice")
	return s.importSlice(ctx, urls)
}

// reload retries the import of the current slice after a failed one
func (s *Session) reload(ctx context.Context, ts uint32) error {
	if urls, ok := s.window.URLs(s.window.Current()); ok {
		return s.importSlice(ctx, urls)
	}
	return s.locate(ctx, ts)
}

// importSlice loads the dumps of one slice into the slot tables. On failure the
// slice stays unloaded and is imported again by the next call.
func (s *Session) importSlice(ctx context.Context, urls string) error {
	_, names := config.Split(s.collectors)
	active, err := s.importer.ImportSlots(ctx, urls, names, s.tables, s.cfg.Unified)
	if err != nil {
		for i := range s.active {
			s.active[i] = false
		}
		s.loaded = false
		return err
	}
	s.loaded = true

	if s.cfg.Unified {
		// All dumps share table 0
		s.active[0] = false
		for _, a := range active {
			s.active[0] = s.active[0] || a
		}
	} else {
		copy(s.active, active)
	}
	return nil
}

// enterHybrid asks the broker for the slices from ts onwards
func (s *Session) enterHybrid(ctx context.Context, ts uint32) error {
	interval := model.Interval{Start: ts, End: s.window.MaxEnd()}
	s.logger.Info().Str("interval", interval.String()).Msg("entering hybrid mode")
	if s.mode != model.ModeHybrid {
		s.mode = model.ModeHybrid
		metrics.ModeSwitches.WithLabelValues(model.ModeHybrid.String()).Inc()
	}

	resp, err := s.queryBroker(ctx, interval.String())
	if err != nil {
		return err
	}
	if len(resp.Slices) == 0 {
		// Keep the exhausted map so the next call asks again
		return fmt.Errorf("%w: broker has no slices for %s", model.ErrNoData, interval)
	}
	s.install(resp)
	s.window.ResetUsed()
	return s.locate(ctx, ts)
}

// enterLive permanently switches to the live cache server and validates there
func (s *Session) enterLive(ctx context.Context, asn uint32, addr netip.Addr, maskLen uint8) (string, error) {
	// Only RTR collectors have a live feed
	collector := s.collectors[0]
	for _, c := range s.collectors {
		if c.IsRTR() {
			collector = c
			break
		}
	}

	live, err := s.openLive(ctx, collector)
	if err != nil {
		return "", fmt.Errorf("failed to enter live mode: %w", err)
	}
	s.live = live
	s.mode = model.ModeLive
	metrics.ModeSwitches.WithLabelValues(model.ModeLive.String()).Inc()
	s.logger.Info().Str("collector", collector.Name).Msg("entering live mode")

	for _, table := range s.tables {
		table.Reset()
	}
	s.window.Clear()
	return s.validateLive(asn, addr, maskLen)
}

func (s *Session) openLive(ctx context.Context, collector model.Collector) (*rtr.Session, error) {
	cfg := s.cfg.Live
	cfg.Collector = collector
	return rtr.Open(ctx, cfg, s.broker.Info, s.logger)
}
