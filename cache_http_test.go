package staterequest

import (
	"testing"
	"time"
)

func TestResolveCacheTTLNoCacheDirective(t *testing.T) {
	now := time.Now()
	_, cacheable := resolveCacheTTL(map[string]string{"cache-control": "no-store"}, true, now, time.Minute)
	if cacheable {
		t.Errorf("expected no-store to refuse caching")
	}
	_, cacheable = resolveCacheTTL(map[string]string{"cache-control": "no-cache"}, true, now, time.Minute)
	if cacheable {
		t.Errorf("expected no-cache to refuse caching")
	}
}

func TestResolveCacheTTLIgnoresDirectivesWhenRespectDisabled(t *testing.T) {
	now := time.Now()
	ttl, cacheable := resolveCacheTTL(map[string]string{"cache-control": "no-store"}, false, now, time.Minute)
	if !cacheable {
		t.Errorf("expected caching to proceed when respectCacheControl is false")
	}
	if ttl != time.Minute {
		t.Errorf("expected default ttl, got %v", ttl)
	}
}

func TestResolveCacheTTLMaxAge(t *testing.T) {
	now := time.Now()
	ttl, cacheable := resolveCacheTTL(map[string]string{"cache-control": "max-age=120"}, true, now, time.Minute)
	if !cacheable {
		t.Fatalf("expected cacheable=true")
	}
	if ttl != 120*time.Second {
		t.Errorf("expected 120s, got %v", ttl)
	}
}

func TestResolveCacheTTLExpiresHeader(t *testing.T) {
	now := time.Now()
	future := now.Add(90 * time.Second).UTC().Format(time.RFC1123)
	headers := map[string]string{"expires": future}
	ttl, cacheable := resolveCacheTTL(headers, true, now, time.Minute)
	if !cacheable {
		t.Fatalf("expected cacheable=true")
	}
	if ttl <= 0 || ttl > 91*time.Second {
		t.Errorf("expected ttl near 90s, got %v", ttl)
	}
}

func TestResolveCacheTTLExpiresInPastFallsThroughToDefault(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour).UTC().Format(time.RFC1123)
	headers := map[string]string{"expires": past}
	ttl, cacheable := resolveCacheTTL(headers, true, now, 45*time.Second)
	if !cacheable {
		t.Fatalf("expected fall-through to still be cacheable")
	}
	if ttl != 45*time.Second {
		t.Errorf("expected default ttl of 45s, got %v", ttl)
	}
}

func TestResolveCacheTTLDefaultWhenNoHeaders(t *testing.T) {
	now := time.Now()
	ttl, cacheable := resolveCacheTTL(nil, true, now, 0)
	if !cacheable {
		t.Fatalf("expected cacheable=true")
	}
	if ttl != defaultCacheTTL {
		t.Errorf("expected fallback to defaultCacheTTL, got %v", ttl)
	}
}

func TestIsCacheableMethodAndStatusDefaults(t *testing.T) {
	if isCacheableMethod("POST", nil) {
		t.Errorf("expected POST to be excluded by default")
	}
	if !isCacheableMethod("GET", nil) {
		t.Errorf("expected GET to be cacheable by default")
	}
	if !isCacheableStatus(200, nil) {
		t.Errorf("expected 200 to be cacheable by default")
	}
	if isCacheableStatus(500, nil) {
		t.Errorf("expected 500 to not be cacheable by default")
	}
}
