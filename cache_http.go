package staterequest

import (
	"strconv"
	"strings"
	"time"
)

// defaultCacheTTL is used when a response carries neither a usable
// Cache-Control max-age nor a usable Expires header.
const defaultCacheTTL = 300000 * time.Millisecond

// resolveCacheTTL implements a four-branch TTL resolution:
//  1. respectCacheControl and Cache-Control: no-cache|no-store -> do not cache (ttl<0).
//  2. Cache-Control: max-age=N -> N seconds.
//  3. Expires header -> parsedExpires - now, skipped (falls through) if <= 0.
//  4. otherwise the configured default.
//
// headers must already be lower-cased keys (see flattenHeaders).
func resolveCacheTTL(headers map[string]string, respectCacheControl bool, now time.Time, defaultTTL time.Duration) (ttl time.Duration, cacheable bool) {
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	cc := headers["cache-control"]
	if respectCacheControl && cc != "" {
		if hasCacheControlDirective(cc, "no-store") || hasCacheControlDirective(cc, "no-cache") {
			return 0, false
		}
		if maxAge, ok := cacheControlMaxAge(cc); ok {
			return time.Duration(maxAge) * time.Second, true
		}
	}
	if expires := headers["expires"]; expires != "" {
		if parsed, err := time.Parse(time.RFC1123, expires); err == nil {
			remaining := parsed.Sub(now)
			if remaining > 0 {
				return remaining, true
			}
			// Expires in the past: fall through to the configured default
			// rather than refusing to cache outright.
		}
	}
	return defaultTTL, true
}

func hasCacheControlDirective(cc, directive string) bool {
	for _, part := range strings.Split(cc, ",") {
		if strings.EqualFold(strings.TrimSpace(part), directive) {
			return true
		}
	}
	return false
}

func cacheControlMaxAge(cc string) (int64, bool) {
	for _, part := range strings.Split(cc, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToLower(part), "max-age") {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		val := strings.TrimSpace(part[eq+1:])
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

// defaultExcludeMethods are never read from or written to the cache.
var defaultExcludeMethods = map[string]bool{
	"POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// defaultCacheableStatusCodes are the only statuses the cache will store.
var defaultCacheableStatusCodes = map[int]bool{
	200: true, 203: true, 204: true, 206: true,
	300: true, 301: true, 404: true, 405: true, 410: true, 414: true, 501: true,
}

func isCacheableMethod(method string, exclude map[string]bool) bool {
	if exclude == nil {
		exclude = defaultExcludeMethods
	}
	return !exclude[strings.ToUpper(method)]
}

func isCacheableStatus(status int, allowed map[int]bool) bool {
	if allowed == nil {
		allowed = defaultCacheableStatusCodes
	}
	return allowed[status]
}
