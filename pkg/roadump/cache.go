package roadump

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"

	"roafetch/pkg/model"
)

const (
	cacheKeyPrefix = "dump:"

	// DefaultCacheEntries bounds how many parsed dumps a cache keeps
	DefaultCacheEntries = 64
)

// ErrCacheClosed is returned by operations on a closed cache
const ErrCacheClosed = model.Error("dump cache is closed")

type cachedROA struct {
	ASN       uint32 `msgpack:"asn"`
	Prefix    string `msgpack:"prefix"`
	MaxLength uint8  `msgpack:"max_len"`
}

// CacheEntry is one parsed dump as stored in the cache
type CacheEntry struct {
	URL       string      `msgpack:"url"`
	ROAs      []cachedROA `msgpack:"roas"`
	FetchedAt time.Time   `msgpack:"fetched_at"`
}

// Cache keeps parsed dumps keyed by URL in an in-memory LevelDB so that a dump
// shared by several slices or collectors is downloaded and parsed once per session.
// Nothing is written to disk.
type Cache struct {
	db         *leveldb.DB
	mu         sync.RWMutex
	maxEntries int
	closed     bool
}

// NewCache opens an empty memory-backed cache holding at most maxEntries dumps
func NewCache(maxEntries int) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	db, err := leveldb.Open(storage.NewMemStorage(), &opt.Options{
		Compression: opt.SnappyCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open dump cache: %w", err)
	}
	return &Cache{db: db, maxEntries: maxEntries}, nil
}

func cacheKey(url string) []byte {
	return []byte(cacheKeyPrefix + url)
}

// Get returns the parsed dump for url, if cached
func (c *Cache) Get(url string) ([]model.ROA, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, false, ErrCacheClosed
	}

	data, err := c.db.Get(cacheKey(url), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read dump cache: %w", err)
	}

	var entry CacheEntry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached dump: %w", err)
	}

	roas := make([]model.ROA, len(entry.ROAs))
	for i, r := range entry.ROAs {
		prefix, err := netip.ParsePrefix(r.Prefix)
		if err != nil {
			return nil, false, fmt.Errorf("failed to decode cached prefix %q: %w", r.Prefix, err)
		}
		roas[i] = model.ROA{ASN: r.ASN, Prefix: prefix, MaxLength: r.MaxLength}
	}
	return roas, true, nil
}

// Put stores a parsed dump, evicting the oldest entry when the cache is full
func (c *Cache) Put(url string, roas []model.ROA) error {
	entry := CacheEntry{
		URL:       url,
		ROAs:      make([]cachedROA, len(roas)),
		FetchedAt: time.Now(),
	}
	for i, r := range roas {
		entry.ROAs[i] = cachedROA{ASN: r.ASN, Prefix: r.Prefix.String(), MaxLength: r.MaxLength}
	}
	data, err := msgpack.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to encode dump: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCacheClosed
	}

	if has, _ := c.db.Has(cacheKey(url), nil); !has && c.count() >= c.maxEntries {
		if err := c.evictOldest(); err != nil {
			return err
		}
	}
	if err := c.db.Put(cacheKey(url), data, nil); err != nil {
		return fmt.Errorf("failed to write dump cache: %w", err)
	}
	return nil
}

// Len returns the number of cached dumps
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0
	}
	return c.count()
}

// Close releases the cache
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *Cache) count() int {
	iter := c.db.NewIterator(util.BytesPrefix([]byte(cacheKeyPrefix)), nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n
}

func (c *Cache) evictOldest() error {
	iter := c.db.NewIterator(util.BytesPrefix([]byte(cacheKeyPrefix)), nil)
	var oldestKey []byte
	var oldest time.Time
	for iter.Next() {
		var entry struct {
			FetchedAt time.Time `msgpack:"fetched_at"`
		}
		if err := msgpack.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		if oldestKey == nil || entry.FetchedAt.Before(oldest) {
			oldestKey = append([]byte(nil), iter.Key()...)
			oldest = entry.FetchedAt
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to scan dump cache: %w", err)
	}

	if oldestKey == nil {
		return nil
	}
	if err := c.db.Delete(oldestKey, nil); err != nil {
		return fmt.Errorf("failed to evict cached dump: %w", err)
	}
	return nil
}
