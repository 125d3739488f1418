// Package rtr maintains a live ROA snapshot fed by an RTR cache server.
package rtr

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roafetch/pkg/metrics"
	"roafetch/pkg/model"
	"roafetch/pkg/pfxtable"
)

// ErrNotRTR is returned for collectors that are not backed by a cache server
const ErrNotRTR = model.Error("collector is not an RTR cache server")

const (
	DefaultSyncTimeout     = 30 * time.Second
	DefaultRefreshInterval = time.Minute
	syncPoll               = 250 * time.Millisecond
)

// InfoFunc resolves the cache server address of a live collector
type InfoFunc func(ctx context.Context, project, collector string) (host, port string, err error)

// Config describes a live session
type Config struct {
	Collector       model.Collector
	RouterID        string        // Identity of the embedded speaker
	ASN             uint32        // Local AS of the embedded speaker
	SyncTimeout     time.Duration // Bound on the initial sync
	RefreshInterval time.Duration // Snapshot refresh period
	SSHOptions      string        // user,hostkey,privkey; empty for TCP
	Source          ROASource     // nil selects the gobgp RPKI client
}

// Session holds the live ROA snapshot of one cache server
type Session struct {
	cfg    Config
	source ROASource
	table  *pfxtable.Table
	addr   string
	logger zerolog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open connects to the cache server of cfg.Collector, waits for the initial sync
// and starts refreshing the snapshot in the background
func Open(ctx context.Context, cfg Config, info InfoFunc, logger zerolog.Logger) (*Session, error) {
	if !cfg.Collector.IsRTR() {
		return nil, fmt.Errorf("%w: %s", ErrNotRTR, cfg.Collector.Name)
	}
	if cfg.SSHOptions != "" {
		opts, err := ParseSSHOptions(cfg.SSHOptions)
		if err != nil {
			return nil, err
		}
		if err := opts.Check(); err != nil {
			return nil, err
		}
		return nil, ErrSSHUnsupported
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultSyncTimeout
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	logger = logger.With().
		Str("component", "rtr").
		Str("project", cfg.Collector.Project).
		Str("collector", cfg.Collector.Name).
		Logger()

	host, port, err := info(ctx, cfg.Collector.Project, cfg.Collector.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up cache server: %w", err)
	}

	source := cfg.Source
	if source == nil {
		source = NewGoBGPSource(cfg.RouterID, cfg.ASN, logger)
	}
	if err := source.Connect(ctx, host, port); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		source: source,
		table:  pfxtable.New(),
		addr:   net.JoinHostPort(host, port),
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := s.waitSync(ctx); err != nil {
		source.Close()
		return nil, err
	}
	if err := s.Refresh(ctx); err != nil {
		source.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(runCtx)

	logger.Info().Str("addr", s.addr).Int("roas", s.table.Len()).Msg("live session established")
	return s, nil
}

func (s *Session) waitSync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	ticker := time.NewTicker(syncPoll)
	defer ticker.Stop()
	for {
		synced, err := s.source.Synced(ctx)
		if err != nil {
			return err
		}
		if synced {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: cache server %s did not sync within %s", model.ErrIO, s.addr, s.cfg.SyncTimeout)
		case <-ticker.C:
		}
	}
}

// Refresh replaces the snapshot with the current record set of the cache
func (s *Session) Refresh(ctx context.Context) error {
	roas, err := s.source.ROAs(ctx)
	if err != nil {
		return err
	}
	if err := s.table.Replace(roas); err != nil {
		return fmt.Errorf("failed to install live ROAs: %w", err)
	}
	metrics.LiveROAs.Set(float64(s.table.Len()))
	s.logger.Debug().Int("roas", s.table.Len()).Msg("live snapshot refreshed")
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("live snapshot refresh failed")
			}
		}
	}
}

// Validate checks asn and addr/maskLen against the live snapshot
func (s *Session) Validate(asn uint32, addr netip.Addr, maskLen uint8) (model.Status, []model.ROA, error) {
	return s.table.Validate(asn, addr, maskLen)
}

// Table returns the live snapshot
func (s *Session) Table() *pfxtable.Table {
	return s.table
}

// Collector returns the live collector
func (s *Session) Collector() model.Collector {
	return s.cfg.Collector
}

// Addr returns the cache server address
func (s *Session) Addr() string {
	return s.addr
}

// Close stops the refresher and the cache server connection
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.closeErr = s.source.Close()
		s.logger.Info().Msg("live session closed")
	})
	return s.closeErr
}
