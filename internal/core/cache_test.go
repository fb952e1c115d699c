package core

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCacheKey_Canonical(t *testing.T) {
	dictID := uuid.New()
	asOf := time.Date(2023, time.June, 1, 14, 30, 0, 0, time.UTC)

	a := CacheKey(dictID, asOf, []Filter{
		{Attr: "REGION", Op: FilterEquals, Value: "EU"},
		{Attr: "code", Op: FilterPrefix, Value: "A"},
	})
	b := CacheKey(dictID, asOf, []Filter{
		{Attr: "CODE", Op: FilterPrefix, Value: "A"},
		{Attr: "region", Op: FilterEquals, Value: "EU"},
	})
	if a != b {
		t.Errorf("equivalent filter sets produced different keys:\n%s\n%s", a, b)
	}

	// Time of day must not change the key.
	c := CacheKey(dictID, time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC), nil)
	d := CacheKey(dictID, time.Date(2023, time.June, 1, 23, 59, 0, 0, time.UTC), nil)
	if c != d {
		t.Error("keys should be day-granular")
	}

	// Different dates must differ.
	e := CacheKey(dictID, asOf.AddDate(0, 0, 1), nil)
	if c == e {
		t.Error("different as-of dates produced the same key")
	}
}

func TestReadCache_GetPutInvalidate(t *testing.T) {
	cache := NewReadCache(time.Minute, 10)
	dictID := uuid.New()
	key := CacheKey(dictID, time.Now(), nil)
	rows := []PositionRow{{PositionID: uuid.New()}}

	if _, ok := cache.Get(key); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	cache.Put(dictID, key, rows, cache.Generation(dictID))
	got, ok := cache.Get(key)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if len(got) != 1 || got[0].PositionID != rows[0].PositionID {
		t.Error("cached rows do not match stored rows")
	}

	cache.Invalidate(dictID)
	if _, ok := cache.Get(key); ok {
		t.Error("expected miss after Invalidate")
	}
}

func TestReadCache_InvalidateScopedToDictionary(t *testing.T) {
	cache := NewReadCache(time.Minute, 10)
	dictA, dictB := uuid.New(), uuid.New()
	keyA := CacheKey(dictA, time.Now(), nil)
	keyB := CacheKey(dictB, time.Now(), nil)

	cache.Put(dictA, keyA, nil, cache.Generation(dictA))
	cache.Put(dictB, keyB, nil, cache.Generation(dictB))

	cache.Invalidate(dictA)

	if _, ok := cache.Get(keyA); ok {
		t.Error("dictA entry should be gone")
	}
	if _, ok := cache.Get(keyB); !ok {
		t.Error("dictB entry should survive dictA invalidation")
	}
}

func TestReadCache_TTLExpiry(t *testing.T) {
	cache := NewReadCache(10*time.Millisecond, 10)
	dictID := uuid.New()
	key := CacheKey(dictID, time.Now(), nil)

	cache.Put(dictID, key, nil, cache.Generation(dictID))
	if _, ok := cache.Get(key); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get(key); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestReadCache_Sweep(t *testing.T) {
	cache := NewReadCache(10*time.Millisecond, 10)
	dictID := uuid.New()

	cache.Put(dictID, "k1", nil, cache.Generation(dictID))
	cache.Put(dictID, "k2", nil, cache.Generation(dictID))
	time.Sleep(20 * time.Millisecond)

	if removed := cache.Sweep(); removed != 2 {
		t.Errorf("Sweep removed %d entries, want 2", removed)
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d after sweep, want 0", cache.Len())
	}
}

func TestReadCache_StaleGenerationPutDropped(t *testing.T) {
	cache := NewReadCache(time.Minute, 10)
	dictID := uuid.New()
	key := CacheKey(dictID, time.Now(), nil)

	gen := cache.Generation(dictID)
	cache.Invalidate(dictID)

	cache.Put(dictID, key, []PositionRow{{PositionID: uuid.New()}}, gen)
	if _, ok := cache.Get(key); ok {
		t.Error("Put with a pre-invalidation generation must be dropped")
	}

	cache.Put(dictID, key, nil, cache.Generation(dictID))
	if _, ok := cache.Get(key); !ok {
		t.Error("Put with the current generation should install")
	}
}

func TestReadCache_DictIndexPrunedOnExpiryAndEviction(t *testing.T) {
	cache := NewReadCache(10*time.Millisecond, 2)
	dictID := uuid.New()

	cache.Put(dictID, "k1", nil, cache.Generation(dictID))
	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get("k1"); ok {
		t.Fatal("expected k1 expired")
	}
	if keys := cache.byDict[dictID]; len(keys) != 0 {
		t.Errorf("dictionary index still tracks %d keys after expiry", len(keys))
	}

	cache = NewReadCache(time.Minute, 2)
	cache.Put(dictID, "k1", nil, cache.Generation(dictID))
	cache.Put(dictID, "k2", nil, cache.Generation(dictID))
	cache.Put(dictID, "k3", nil, cache.Generation(dictID))
	if got := len(cache.byDict[dictID]); got != 2 {
		t.Errorf("dictionary index tracks %d keys after eviction, want 2", got)
	}
}

func TestReadCache_EvictsAtCap(t *testing.T) {
	cache := NewReadCache(time.Minute, 2)
	dictID := uuid.New()

	cache.Put(dictID, "k1", nil, cache.Generation(dictID))
	cache.Put(dictID, "k2", nil, cache.Generation(dictID))
	cache.Put(dictID, "k3", nil, cache.Generation(dictID))

	if cache.Len() != 2 {
		t.Errorf("Len = %d, want cap of 2", cache.Len())
	}
}
