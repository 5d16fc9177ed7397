package staterequest

import (
	"testing"
	"time"
)

func cfgFor(path string) TransportConfig {
	return TransportConfig{Method: "GET", URL: path}
}

func TestCacheSetAndGetRoundTrip(t *testing.T) {
	c := NewCache(CacheOptions{MaxSize: 10})
	cfg := cfgFor("/a")
	entry := CacheEntry{Data: "hello", Status: 200, Timestamp: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
	c.Set(cfg, entry)

	got, ok := c.Get(cfg)
	if !ok {
		t.Fatalf("expected a cache hit")
	}
	if got.Data != "hello" {
		t.Errorf("expected data 'hello', got %v", got.Data)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Sets != 1 {
		t.Errorf("expected 1 hit and 1 set, got %+v", stats)
	}
}

func TestCacheGetMissOnUnknownKey(t *testing.T) {
	c := NewCache(CacheOptions{})
	_, ok := c.Get(cfgFor("/missing"))
	if ok {
		t.Errorf("expected miss on unknown key")
	}
	if c.Stats().Misses != 1 {
		t.Errorf("expected 1 recorded miss")
	}
}

func TestCacheExpiredEntryCountsAsMissAndExpiration(t *testing.T) {
	c := NewCache(CacheOptions{})
	cfg := cfgFor("/a")
	c.Set(cfg, CacheEntry{Data: "x", Timestamp: time.Now().Add(-time.Hour), ExpiresAt: time.Now().Add(-time.Minute)})

	_, ok := c.Get(cfg)
	if ok {
		t.Fatalf("expected expired entry to be reported as a miss")
	}
	stats := c.Stats()
	if stats.Misses != 1 || stats.Expirations != 1 {
		t.Errorf("expected 1 miss and 1 expiration, got %+v", stats)
	}
	// The expired entry must also be gone from the index, since Get deleted it.
	if _, ok := c.entries[c.opts.KeyFunc(cfg)]; ok {
		t.Errorf("expected expired entry to be deleted from the index")
	}
}

func TestCacheEvictsLeastRecentlyUsedOnOverflow(t *testing.T) {
	c := NewCache(CacheOptions{MaxSize: 2})
	cfgA, cfgB, cfgC := cfgFor("/a"), cfgFor("/b"), cfgFor("/c")
	future := time.Now().Add(time.Minute)

	c.Set(cfgA, CacheEntry{Data: "a", Timestamp: time.Now(), ExpiresAt: future})
	c.Set(cfgB, CacheEntry{Data: "b", Timestamp: time.Now(), ExpiresAt: future})
	// Touch A so B becomes the least-recently-used entry.
	if _, ok := c.Get(cfgA); !ok {
		t.Fatalf("expected a to be present before eviction")
	}
	c.Set(cfgC, CacheEntry{Data: "c", Timestamp: time.Now(), ExpiresAt: future})

	if _, ok := c.Get(cfgB); ok {
		t.Errorf("expected b to have been evicted as least-recently-used")
	}
	if _, ok := c.Get(cfgA); !ok {
		t.Errorf("expected a to still be present")
	}
	if _, ok := c.Get(cfgC); !ok {
		t.Errorf("expected c to still be present")
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("expected exactly 1 eviction, got %d", c.Stats().Evictions)
	}
}

func TestCacheEligibleMethodAndStatus(t *testing.T) {
	c := NewCache(CacheOptions{})
	if c.EligibleMethod("POST") {
		t.Errorf("expected POST to be ineligible by default")
	}
	if !c.EligibleMethod("GET") {
		t.Errorf("expected GET to be eligible by default")
	}
	if !c.EligibleStatus(200) {
		t.Errorf("expected 200 to be eligible by default")
	}
	if c.EligibleStatus(500) {
		t.Errorf("expected 500 to be ineligible by default")
	}
}

func TestCacheStoreFromResponseHonorsEligibilityAndTTL(t *testing.T) {
	c := NewCache(CacheOptions{RespectCacheControl: true})
	cfg := cfgFor("/a")
	now := time.Now()

	// A POST is never stored regardless of status.
	c.StoreFromResponse(TransportConfig{Method: "POST", URL: "/a"}, responsePayload{Status: 200}, now)
	if _, ok := c.Get(TransportConfig{Method: "POST", URL: "/a"}); ok {
		t.Errorf("expected POST response to never be cached")
	}

	// A no-store response is not stored.
	c.StoreFromResponse(cfg, responsePayload{Status: 200, Headers: map[string]string{"cache-control": "no-store"}}, now)
	if _, ok := c.Get(cfg); ok {
		t.Errorf("expected no-store response to not be cached")
	}

	// A plain 200 is stored using the default TTL.
	c.StoreFromResponse(cfg, responsePayload{Status: 200, Body: "payload"}, now)
	entry, ok := c.Get(cfg)
	if !ok {
		t.Fatalf("expected the plain 200 response to be cached")
	}
	if entry.Data != "payload" {
		t.Errorf("expected cached body 'payload', got %v", entry.Data)
	}
}

func TestCacheUpdatingExistingKeyDoesNotEvict(t *testing.T) {
	c := NewCache(CacheOptions{MaxSize: 1})
	cfg := cfgFor("/a")
	future := time.Now().Add(time.Minute)
	c.Set(cfg, CacheEntry{Data: "v1", ExpiresAt: future})
	c.Set(cfg, CacheEntry{Data: "v2", ExpiresAt: future})

	got, ok := c.Get(cfg)
	if !ok {
		t.Fatalf("expected the entry to still be present")
	}
	if got.Data != "v2" {
		t.Errorf("expected updated value 'v2', got %v", got.Data)
	}
	if c.Stats().Evictions != 0 {
		t.Errorf("expected no eviction when overwriting an existing key")
	}
}

type fakeCachePersistence struct {
	stored CacheStateRecord
	loaded *CacheStateRecord
}

func (f *fakeCachePersistence) Load() (*CacheStateRecord, error) { return f.loaded, nil }
func (f *fakeCachePersistence) Store(state CacheStateRecord) error {
	f.stored = state
	return nil
}

func TestCacheLoadsPersistedStateAtConstruction(t *testing.T) {
	persisted := &fakeCachePersistence{
		loaded: &CacheStateRecord{
			Entries:     map[string]CacheEntry{"k1": {Data: "restored", ExpiresAt: time.Now().Add(time.Minute)}},
			AccessOrder: []string{"k1"},
			Counters:    CacheCounters{Hits: 5},
		},
	}
	c := NewCache(CacheOptions{Persistence: persisted})
	if c.Stats().Hits != 5 {
		t.Errorf("expected restored hit counter of 5, got %d", c.Stats().Hits)
	}
	if c.Stats().Size != 1 {
		t.Errorf("expected restored size of 1, got %d", c.Stats().Size)
	}
}
