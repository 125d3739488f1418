package roadump

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roafetch/pkg/model"
)

func testROAs() []model.ROA {
	return []model.ROA{
		{ASN: 12654, Prefix: netip.MustParsePrefix("93.175.146.0/24"), MaxLength: 24},
		{ASN: 196615, Prefix: netip.MustParsePrefix("2001:7fb:fd03::/48"), MaxLength: 48},
	}
}

func TestCachePutGet(t *testing.T) {
	c, err := NewCache(0)
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get("http://example.net/CC01.csv")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put("http://example.net/CC01.csv", testROAs()))
	roas, ok, err := c.Get("http://example.net/CC01.csv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testROAs(), roas)
	assert.Equal(t, 1, c.Len())

	// Overwriting the same URL does not grow the cache
	require.NoError(t, c.Put("http://example.net/CC01.csv", testROAs()[:1]))
	assert.Equal(t, 1, c.Len())
}

func TestCacheEviction(t *testing.T) {
	c, err := NewCache(2)
	require.NoError(t, err)
	defer c.Close()

	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, c.Put(u, testROAs()))
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, 2, c.Len())

	_, ok, err := c.Get("a")
	require.NoError(t, err)
	assert.False(t, ok, "oldest entry evicted")
	_, ok, _ = c.Get("c")
	assert.True(t, ok)
}

func TestCacheClose(t *testing.T) {
	c, err := NewCache(1)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, _, err = c.Get("a")
	assert.ErrorIs(t, err, ErrCacheClosed)
	assert.ErrorIs(t, c.Put("a", nil), ErrCacheClosed)
	assert.Equal(t, 0, c.Len())
}
