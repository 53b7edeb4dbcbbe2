package cache

import (
	"math/big"
	"testing"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

func testSnapshot() *types.PoolSnapshot {
	return &types.PoolSnapshot{
		DexID:      "uniswap_v2",
		ReserveA:   big.NewInt(100),
		ReserveB:   big.NewInt(200),
		FeeBps:     30,
		LastUpdate: time.Now(),
	}
}

func TestGetPutAndExpiry(t *testing.T) {
	c := New(&Config{TTL: time.Second, EvictionInterval: time.Hour})
	defer c.Stop()

	now := time.Now()
	c.nowFn = func() time.Time { return now }

	key := Key("uniswap_v2", "0xaa", "0xbb")
	if _, ok := c.Get(key); ok {
		t.Fatal("Expected miss on empty cache")
	}

	snap := testSnapshot()
	c.Put(key, snap)
	got, ok := c.Get(key)
	if !ok || got != snap {
		t.Fatal("Expected hit with the stored snapshot")
	}

	// expired entries read as misses even before the sweeper runs
	now = now.Add(2 * time.Second)
	if _, ok := c.Get(key); ok {
		t.Error("Expected miss after TTL expiry")
	}
}

func TestPutRestartsTTL(t *testing.T) {
	c := New(&Config{TTL: time.Second, EvictionInterval: time.Hour})
	defer c.Stop()

	now := time.Now()
	c.nowFn = func() time.Time { return now }

	key := Key("sushiswap", "0xaa", "0xbb")
	c.Put(key, testSnapshot())

	now = now.Add(900 * time.Millisecond)
	c.Put(key, testSnapshot())

	now = now.Add(900 * time.Millisecond)
	if _, ok := c.Get(key); !ok {
		t.Error("Re-put should have restarted the TTL")
	}
}

func TestBackgroundEviction(t *testing.T) {
	c := New(&Config{TTL: time.Second, EvictionInterval: time.Hour})
	defer c.Stop()

	now := time.Now()
	c.nowFn = func() time.Time { return now }

	c.Put(Key("uniswap_v2", "0xaa", "0xbb"), testSnapshot())
	c.Put(Key("uniswap_v2", "0xcc", "0xdd"), testSnapshot())

	now = now.Add(2 * time.Second)
	c.evictExpired()

	if got := c.Len(); got != 0 {
		t.Errorf("Expected sweep to remove expired entries, %d left", got)
	}
}

func TestPurge(t *testing.T) {
	c := New(nil)
	defer c.Stop()

	c.Put(Key("uniswap_v2", "0xaa", "0xbb"), testSnapshot())
	c.Purge()

	if got := c.Len(); got != 0 {
		t.Errorf("Expected empty cache after purge, %d left", got)
	}
}
