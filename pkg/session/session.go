// Package session validates route origins for arbitrary timestamps. A Session
// walks forward through the historical ROA archive and, once the archive is
// exhausted, continues in hybrid mode or switches to a live cache server.
package session

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"roafetch/pkg/broker"
	"roafetch/pkg/config"
	"roafetch/pkg/metrics"
	"roafetch/pkg/model"
	"roafetch/pkg/pfxtable"
	"roafetch/pkg/result"
	"roafetch/pkg/roadump"
	"roafetch/pkg/rtr"
	"roafetch/pkg/window"
)

// Config holds everything a session needs
type Config struct {
	Collectors       []model.Collector     // Slot order
	Intervals        []model.Interval      // Required in historical mode
	Mode             model.Mode            // ModeHistorical or ModeLive
	Unified          bool                  // Validate against one merged table
	Broker           broker.Config         // Broker endpoints and limits
	Dumps            roadump.FetcherConfig // Dump download settings
	DumpCacheEntries int                   // Parsed dump cache size, negative disables
	Live             rtr.Config            // Live session settings; Collector is filled in
	Now              func() time.Time      // Clock, time.Now if nil
	Logger           zerolog.Logger
}

// ConfigFrom builds a session configuration from a configuration file
func ConfigFrom(c *config.Config, logger zerolog.Logger) (Config, error) {
	mode, err := config.ParseMode(c.Mode)
	if err != nil {
		return Config{}, err
	}
	collectors, err := config.ParseCollectors(c.Collectors)
	if err != nil {
		return Config{}, err
	}
	intervals, err := config.ParseIntervals(c.Intervals)
	if err != nil {
		return Config{}, err
	}

	brokerCfg := broker.DefaultConfig()
	if c.BrokerURL != "" {
		brokerCfg.BrokerURL, brokerCfg.InfoURL = broker.EndpointURLs(c.BrokerURL)
	}
	if c.Broker.Timeout > 0 {
		brokerCfg.Timeout = c.Broker.Timeout
	}
	if c.Broker.MaxBodySize > 0 {
		brokerCfg.MaxBodySize = c.Broker.MaxBodySize
	}
	if c.Broker.Retry.MaxAttempts > 0 {
		brokerCfg.Retry = c.Broker.Retry
	}
	brokerCfg.RateLimit = c.Broker.RateLimit
	brokerCfg.Burst = c.Broker.Burst

	return Config{
		Collectors: collectors,
		Intervals:  intervals,
		Mode:       mode,
		Unified:    c.Unified,
		Broker:     brokerCfg,
		Dumps: roadump.FetcherConfig{
			Timeout:     c.Dumps.Timeout,
			RateLimit:   c.Dumps.RateLimit,
			Burst:       c.Dumps.Burst,
			MaxBodySize: c.Dumps.MaxBodySize,
			Retry:       c.Dumps.Retry,
		},
		DumpCacheEntries: c.Dumps.CacheEntries,
		Live: rtr.Config{
			RouterID:        c.Live.RouterID,
			ASN:             c.Live.ASN,
			SyncTimeout:     c.Live.SyncTimeout,
			RefreshInterval: c.Live.RefreshInterval,
			SSHOptions:      c.SSHOptions,
		},
		Logger: logger,
	}, nil
}

// Session is a validation context. It is not safe for concurrent use.
type Session struct {
	id         string
	cfg        Config
	mode       model.Mode
	collectors []model.Collector
	now        func() time.Time

	broker   *broker.Client
	importer *roadump.Importer
	cache    *roadump.Cache
	window   *window.Cache
	tables   []*pfxtable.Table
	active   []bool
	loaded   bool // current slice imported into tables
	live     *rtr.Session

	logger zerolog.Logger
	closed bool
}

// New creates a session. Live mode connects to the cache server of the first
// collector; historical mode asks the broker for the dumps of all intervals.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if len(cfg.Collectors) == 0 {
		return nil, fmt.Errorf("%w: no collectors configured", model.ErrInvalidInput)
	}
	switch cfg.Mode {
	case model.ModeHistorical:
		if len(cfg.Intervals) == 0 {
			return nil, fmt.Errorf("%w: historical mode needs at least one interval", model.ErrInvalidInput)
		}
	case model.ModeLive:
	default:
		return nil, fmt.Errorf("%w: a session cannot start in %s mode", model.ErrInvalidInput, cfg.Mode)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	id := uuid.New().String()
	s := &Session{
		id:         id,
		cfg:        cfg,
		mode:       cfg.Mode,
		collectors: append([]model.Collector(nil), cfg.Collectors...),
		now:        cfg.Now,
		window:     window.New(),
		logger:     cfg.Logger.With().Str("session", id).Logger(),
	}
	s.broker = broker.NewClient(cfg.Broker, s.logger)

	if cfg.Mode == model.ModeLive {
		live, err := s.openLive(ctx, cfg.Collectors[0])
		if err != nil {
			return nil, err
		}
		s.live = live
		s.collectors = []model.Collector{cfg.Collectors[0]}
		s.logger.Info().Str("mode", s.mode.String()).Msg("session created")
		return s, nil
	}

	if cfg.DumpCacheEntries >= 0 {
		cache, err := roadump.NewCache(cfg.DumpCacheEntries)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	s.importer = roadump.NewImporter(roadump.NewFetcher(cfg.Dumps, s.logger), s.cache, s.logger)

	if err := s.fetchBroker(ctx, model.FormatIntervals(cfg.Intervals)); err != nil {
		s.Close()
		return nil, err
	}
	s.logger.Info().
		Str("mode", s.mode.String()).
		Int("collectors", len(s.collectors)).
		Int("slices", s.window.Len()).
		Msg("session created")
	return s, nil
}

// ID returns the session identifier used in log lines
func (s *Session) ID() string { return s.id }

// Mode returns the current mode
func (s *Session) Mode() model.Mode { return s.mode }

// Collectors returns the collectors in slot order
func (s *Session) Collectors() []model.Collector {
	return append([]model.Collector(nil), s.collectors...)
}

// Validate checks whether asn may originate prefix/maskLen at ts and renders the
// result. An empty result without error means no archive slice applies to ts yet.
func (s *Session) Validate(ctx context.Context, ts, asn uint32, prefix string, maskLen uint8) (string, error) {
	if s.closed {
		return "", model.ErrSessionClosed
	}
	addr, err := netip.ParseAddr(prefix)
	if err != nil {
		return "", fmt.Errorf("%w: invalid prefix address %q", model.ErrInvalidInput, prefix)
	}

	mode := s.mode
	out, err := s.validate(ctx, ts, asn, addr, maskLen)
	switch {
	case err != nil:
		metrics.Validations.WithLabelValues(mode.String(), "error").Inc()
	case out == "":
		metrics.Validations.WithLabelValues(mode.String(), "empty").Inc()
	default:
		metrics.Validations.WithLabelValues(mode.String(), "result").Inc()
	}
	return out, err
}

func (s *Session) validate(ctx context.Context, ts, asn uint32, addr netip.Addr, maskLen uint8) (string, error) {
	if s.mode == model.ModeLive && s.live != nil {
		return s.validateLive(asn, addr, maskLen)
	}

	if !s.inInterval(ts) {
		return "", fmt.Errorf("%w: %d", model.ErrOutOfInterval, ts)
	}

	w := s.window
	if ts < w.Current() {
		s.logger.Debug().Uint32("ts", ts).Uint32("current", w.Current()).Msg("timestamp precedes the loaded ROA slice")
		return "", nil
	}
	if w.Len() == 0 {
		return "", model.ErrNoData
	}

	if w.Current() == 0 && w.Next() == 0 {
		if err := s.locate(ctx, ts); err != nil {
			return "", err
		}
	} else if !s.loaded {
		if err := s.reload(ctx, ts); err != nil {
			return "", err
		}
	}

	switch {
	case w.MaxEnd() == 0 && ts >= w.Current()+window.ArchiveInterval && w.Next() == 0:
		// The archive ends before ts
		if w.Current() < s.nowUnix()-window.ArchiveInterval {
			if err := s.enterHybrid(ctx, ts); err != nil {
				return "", err
			}
		} else {
			return s.enterLive(ctx, asn, addr, maskLen)
		}

	case ts >= w.Current()+window.ArchiveInterval && w.Next() != 0 && ts < w.Next():
		if w.GapNotice() {
			metrics.ArchiveGaps.Inc()
			s.logger.Info().Uint32("ts", ts).Uint32("next", w.Next()).Msg("no ROA dumps for the interval")
		}
		return "", nil
	}

	if w.Next() != 0 && ts >= w.Next() {
		urls, err := w.Step()
		if err != nil {
			return "", err
		}
		metrics.WindowAdvances.Inc()
		s.logger.Debug().Uint32("current", w.Current()).Uint32("next", w.Next()).Msg("advanced ROA slice")
		if err := s.importSlice(ctx, urls); err != nil {
			return "", err
		}
	}

	elem := result.NewElem(len(s.tables))
	for i, table := range s.tables {
		if !s.active[i] {
			continue
		}
		status, reasons, err := table.Validate(asn, addr, maskLen)
		if err != nil {
			return "", err
		}
		c := s.collectors[i]
		elem.Add(i, c.Project, c.Name, status, reasons)
	}

	w.ArmGap()
	return result.Render(elem, s.collectors, s.cfg.Unified), nil
}

func (s *Session) validateLive(asn uint32, addr netip.Addr, maskLen uint8) (string, error) {
	status, reasons, err := s.live.Validate(asn, addr, maskLen)
	if err != nil {
		return "", err
	}
	c := s.live.Collector()
	elem := result.NewElem(1)
	elem.Add(0, c.Project, c.Name, status, reasons)
	return result.Render(elem, []model.Collector{c}, s.cfg.Unified), nil
}

func (s *Session) inInterval(ts uint32) bool {
	for _, iv := range s.cfg.Intervals {
		if iv.Contains(ts) {
			return true
		}
	}
	return false
}

func (s *Session) nowUnix() uint32 {
	return uint32(s.now().Unix())
}

// Close stops the live session and releases the dump cache. It is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if s.live != nil {
		if err := s.live.Close(); err != nil {
			firstErr = err
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, table := range s.tables {
		table.Reset()
	}
	s.logger.Info().Msg("session closed")
	return firstErr
}
