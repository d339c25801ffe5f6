package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		// Wait for expiration
		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Touch "a" so "b" becomes the oldest
		_, _ = smallCache.Get(ctx, "a")

		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}
		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to survive eviction")
		}
	})
}

func TestCardPositionRoundTrip(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	pos := &domain.CardPosition{
		Lat:       40.7128,
		Lon:       -74.0060,
		HasGeo:    true,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := cache.SetCardPosition(ctx, "card-001", pos, time.Minute); err != nil {
		t.Fatalf("SetCardPosition failed: %v", err)
	}

	got, err := cache.GetCardPosition(ctx, "card-001")
	if err != nil {
		t.Fatalf("GetCardPosition failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a cached position")
	}
	if got.Lat != pos.Lat || got.Lon != pos.Lon || !got.HasGeo {
		t.Errorf("position not round-tripped: %+v", got)
	}
	if !got.Timestamp.Equal(pos.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, pos.Timestamp)
	}

	miss, err := cache.GetCardPosition(ctx, "card-unknown")
	if err != nil {
		t.Fatalf("GetCardPosition miss failed: %v", err)
	}
	if miss != nil {
		t.Error("expected nil for an unseen card")
	}
}

func TestIncrementCounter(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SequentialIncrements", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := cache.IncrementCounter(ctx, "card-001:1m", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("count = %d, want %d", got, want)
			}
		}
	})

	t.Run("WindowReset", func(t *testing.T) {
		if _, err := cache.IncrementCounter(ctx, "card-002:fast", 10*time.Millisecond); err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		time.Sleep(20 * time.Millisecond)

		got, err := cache.IncrementCounter(ctx, "card-002:fast", 10*time.Millisecond)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != 1 {
			t.Errorf("count = %d, want 1 after window expiry", got)
		}
	})

	t.Run("IndependentKeys", func(t *testing.T) {
		a, _ := cache.IncrementCounter(ctx, "independent-a", time.Minute)
		b, _ := cache.IncrementCounter(ctx, "independent-b", time.Minute)
		if a != 1 || b != 1 {
			t.Errorf("counters not independent: a=%d b=%d", a, b)
		}
	})
}

func TestCacheFactory(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRUCache); !ok {
			t.Errorf("expected *LRUCache, got %T", c)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "memcached"})
		if err == nil {
			t.Fatal("expected error for unsupported cache type")
		}
	})
}

func BenchmarkLRUCacheSet(b *testing.B) {
	cache := NewLRUCache(10000)
	ctx := context.Background()
	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cache.Set(ctx, fmt.Sprintf("key-%d", i%5000), value, time.Minute)
	}
}
