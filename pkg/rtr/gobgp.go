package rtr

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"

	api "github.com/osrg/gobgp/v3/api"
	bgplog "github.com/osrg/gobgp/v3/pkg/log"
	"github.com/osrg/gobgp/v3/pkg/server"
	"github.com/rs/zerolog"

	"roafetch/pkg/model"
)

var _ ROASource = (*GoBGPSource)(nil)

// rpkiLifetime is how long (seconds) gobgp keeps records of a lost cache server
const rpkiLifetime = 3600

// GoBGPSource runs an embedded BGP speaker whose RPKI client keeps the ROA set of
// one cache server. The speaker does not listen for BGP peers.
type GoBGPSource struct {
	routerID string
	asn      uint32
	logger   zerolog.Logger

	mu     sync.Mutex
	server *server.BgpServer
	addr   string
	port   uint32
}

// NewGoBGPSource creates a source for a speaker with the given identity
func NewGoBGPSource(routerID string, asn uint32, logger zerolog.Logger) *GoBGPSource {
	return &GoBGPSource{
		routerID: routerID,
		asn:      asn,
		logger:   logger,
	}
}

// Connect starts the speaker and registers the cache server
func (g *GoBGPSource) Connect(ctx context.Context, host, port string) error {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return fmt.Errorf("%w: invalid cache server port %q", model.ErrInvalidInput, port)
	}
	addr, err := resolve(ctx, host)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server != nil {
		return fmt.Errorf("RPKI client already connected to %s", g.addr)
	}

	s := server.NewBgpServer(server.LoggerOption(&bgpLogger{logger: g.logger}))
	go s.Serve()

	// Configure the BGP process without a listening socket
	if err := s.StartBgp(ctx, &api.StartBgpRequest{
		Global: &api.Global{
			Asn:        g.asn,
			RouterId:   g.routerID,
			ListenPort: -1,
		},
	}); err != nil {
		s.StopBgp(context.Background(), &api.StopBgpRequest{})
		return fmt.Errorf("failed to start BGP: %w", err)
	}

	if err := s.AddRpki(ctx, &api.AddRpkiRequest{
		Address:  addr,
		Port:     uint32(p),
		Lifetime: rpkiLifetime,
	}); err != nil {
		s.StopBgp(context.Background(), &api.StopBgpRequest{})
		return fmt.Errorf("%w: failed to add RPKI server %s: %v", model.ErrIO, net.JoinHostPort(addr, port), err)
	}

	g.server, g.addr, g.port = s, addr, uint32(p)
	g.logger.Info().Str("addr", net.JoinHostPort(addr, port)).Msg("RPKI client started")
	return nil
}

// Synced reports whether the cache server session is up and has either sent
// records or finished a (possibly empty) transfer with End of Data
func (g *GoBGPSource) Synced(ctx context.Context) (bool, error) {
	s := g.bgpServer()
	if s == nil {
		return false, model.ErrSessionClosed
	}

	synced := false
	err := s.ListRpki(ctx, &api.ListRpkiRequest{}, func(r *api.Rpki) {
		if r.GetConf().GetAddress() != g.addr {
			return
		}
		synced = rpkiSynced(r.GetState())
	})
	if err != nil {
		return false, fmt.Errorf("%w: failed to list RPKI servers: %v", model.ErrIO, err)
	}
	return synced, nil
}

// ROAs returns the IPv4 and IPv6 records currently held by the RPKI client
func (g *GoBGPSource) ROAs(ctx context.Context) ([]model.ROA, error) {
	s := g.bgpServer()
	if s == nil {
		return nil, model.ErrSessionClosed
	}

	var roas []model.ROA
	for _, afi := range []api.Family_Afi{api.Family_AFI_IP, api.Family_AFI_IP6} {
		err := s.ListRpkiTable(ctx, &api.ListRpkiTableRequest{
			Family: &api.Family{Afi: afi, Safi: api.Family_SAFI_UNICAST},
		}, func(r *api.Roa) {
			roa, err := convertROA(r)
			if err != nil {
				g.logger.Warn().Err(err).Msg("skipping ROA")
				return
			}
			roas = append(roas, roa)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list ROAs: %v", model.ErrIO, err)
		}
	}
	return roas, nil
}

// Close stops the speaker
func (g *GoBGPSource) Close() error {
	g.mu.Lock()
	s := g.server
	g.server = nil
	g.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.StopBgp(context.Background(), &api.StopBgpRequest{}); err != nil {
		return fmt.Errorf("failed to stop BGP: %w", err)
	}
	return nil
}

// rpkiSynced accepts an empty cache once its transfer ended with End of Data
func rpkiSynced(state *api.RPKIState) bool {
	if !state.GetUp() {
		return false
	}
	return state.GetRecordIpv4()+state.GetRecordIpv6() > 0 || state.GetEndOfData() > 0
}

func (g *GoBGPSource) bgpServer() *server.BgpServer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.server
}

func convertROA(r *api.Roa) (model.ROA, error) {
	addr, err := netip.ParseAddr(r.GetPrefix())
	if err != nil {
		return model.ROA{}, fmt.Errorf("invalid ROA prefix %q", r.GetPrefix())
	}
	addr = addr.Unmap()
	if int(r.GetPrefixlen()) > addr.BitLen() || r.GetMaxlen() < r.GetPrefixlen() || int(r.GetMaxlen()) > addr.BitLen() {
		return model.ROA{}, fmt.Errorf("invalid ROA lengths %s/%d-%d", addr, r.GetPrefixlen(), r.GetMaxlen())
	}
	return model.ROA{
		ASN:       r.GetAsn(),
		Prefix:    netip.PrefixFrom(addr, int(r.GetPrefixlen())).Masked(),
		MaxLength: uint8(r.GetMaxlen()),
	}, nil
}

// resolve picks the first address of host; gobgp identifies cache servers by IP
func resolve(ctx context.Context, host string) (string, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String(), nil
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return "", fmt.Errorf("%w: failed to resolve cache server %s: %v", model.ErrIO, host, err)
	}
	return addrs[0], nil
}

// bgpLogger forwards gobgp log output to zerolog
type bgpLogger struct {
	logger zerolog.Logger
}

func (l *bgpLogger) event(e *zerolog.Event, msg string, fields bgplog.Fields) {
	e.Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l *bgpLogger) Panic(msg string, fields bgplog.Fields) {
	l.event(l.logger.Error(), msg, fields)
	panic(msg)
}

func (l *bgpLogger) Fatal(msg string, fields bgplog.Fields) {
	l.event(l.logger.Error(), msg, fields)
}

func (l *bgpLogger) Error(msg string, fields bgplog.Fields) { l.event(l.logger.Error(), msg, fields) }
func (l *bgpLogger) Warn(msg string, fields bgplog.Fields)  { l.event(l.logger.Warn(), msg, fields) }
func (l *bgpLogger) Info(msg string, fields bgplog.Fields)  { l.event(l.logger.Debug(), msg, fields) }
func (l *bgpLogger) Debug(msg string, fields bgplog.Fields) { l.event(l.logger.Trace(), msg, fields) }

func (l *bgpLogger) SetLevel(level bgplog.LogLevel) {}

func (l *bgpLogger) GetLevel() bgplog.LogLevel {
	return bgplog.InfoLevel
}
