package staterequest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// cacheKeyHeaders is the fixed subset of headers that participate in the
// cache fingerprint. Any header outside this set (e.g. a tracing id) must
// not fragment the cache, since it varies per call without changing the
// semantic request.
var cacheKeyHeaders = []string{"accept", "accept-encoding", "accept-language", "authorization"}

// CacheKeyFunc overrides the default fingerprint; a caller-supplied one
// takes full responsibility for collisions and stability.
type CacheKeyFunc func(cfg TransportConfig) string

// buildCacheKey derives "UPPER(method):url:json(params):headerSubset",
// hashed with SHA-256 and hex-encoded. hash/fnv backs the fallback that
// fires only if writing to the SHA-256 hasher returns an error, which
// crypto/sha256 never does.
func buildCacheKey(cfg TransportConfig) string {
	raw := strings.ToUpper(cfg.Method) + ":" +
		cfg.BaseURL + cfg.URL + ":" +
		canonicalParams(cfg.Params) + ":" +
		canonicalHeaders(cfg.Headers)

	h := sha256.New()
	if _, err := h.Write([]byte(raw)); err == nil {
		return hex.EncodeToString(h.Sum(nil))
	}
	f := fnv.New32a()
	_, _ = f.Write([]byte(raw))
	return fmt.Sprintf("%08x", f.Sum32())
}

func canonicalParams(params map[string]string) string {
	if len(params) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]string, len(params))
	for _, k := range keys {
		ordered[k] = params[k]
	}
	encoded, err := json.Marshal(ordered)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// canonicalHeaders returns the sorted cacheKeyHeaders subset, lower-cased,
// pipe-separated as "name:value".
func canonicalHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	lowered := make(map[string]string, len(cacheKeyHeaders))
	for k, v := range headers {
		lk := strings.ToLower(k)
		for _, allowed := range cacheKeyHeaders {
			if lk == allowed {
				lowered[lk] = v
			}
		}
	}
	keys := make([]string, 0, len(lowered))
	for k := range lowered {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+lowered[k])
	}
	return strings.Join(parts, "|")
}
