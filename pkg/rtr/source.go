package rtr

import (
	"context"
	"sync"

	"roafetch/pkg/model"
)

// ROASource is a connection to an RTR cache server that yields ROA snapshots
type ROASource interface {
	// Connect starts the session to host:port
	Connect(ctx context.Context, host, port string) error
	// Synced reports whether the cache has delivered its records
	Synced(ctx context.Context) (bool, error)
	// ROAs returns the current record set
	ROAs(ctx context.Context) ([]model.ROA, error)
	Close() error
}

// StaticSource serves a fixed record set, e.g. a local export of a cache
type StaticSource struct {
	mu      sync.RWMutex
	records []model.ROA
	addr    string
}

// NewStaticSource creates a source that is always in sync
func NewStaticSource(roas ...model.ROA) *StaticSource {
	return &StaticSource{records: roas}
}

// Set replaces the served records
func (s *StaticSource) Set(roas []model.ROA) {
	s.mu.Lock()
	s.records = append([]model.ROA(nil), roas...)
	s.mu.Unlock()
}

// Addr returns the address passed to Connect
func (s *StaticSource) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *StaticSource) Connect(_ context.Context, host, port string) error {
	s.mu.Lock()
	s.addr = host + ":" + port
	s.mu.Unlock()
	return nil
}

func (s *StaticSource) Synced(context.Context) (bool, error) {
	return true, nil
}

func (s *StaticSource) ROAs(context.Context) ([]model.ROA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ROA(nil), s.records...), nil
}

func (s *StaticSource) Close() error {
	return nil
}
