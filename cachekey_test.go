package staterequest

import "testing"

func TestBuildCacheKeyDeterministicAndOrderInsensitive(t *testing.T) {
	cfgA := TransportConfig{
		Method: "get",
		URL:    "/widgets",
		Params: map[string]string{"b": "2", "a": "1"},
		Headers: map[string]string{
			"Authorization": "Bearer xyz",
			"X-Trace-Id":    "abc", // not in cacheKeyHeaders, must not affect the key
		},
	}
	cfgB := TransportConfig{
		Method: "GET",
		URL:    "/widgets",
		Params: map[string]string{"a": "1", "b": "2"},
		Headers: map[string]string{
			"authorization": "Bearer xyz",
			"X-Trace-Id":    "different",
		},
	}
	if buildCacheKey(cfgA) != buildCacheKey(cfgB) {
		t.Errorf("expected equivalent requests to produce the same key")
	}
}

func TestBuildCacheKeyDiffersOnMethodURLParamsOrRelevantHeader(t *testing.T) {
	base := TransportConfig{Method: "GET", URL: "/widgets", Params: map[string]string{"a": "1"}}
	variants := []TransportConfig{
		{Method: "POST", URL: "/widgets", Params: map[string]string{"a": "1"}},
		{Method: "GET", URL: "/other", Params: map[string]string{"a": "1"}},
		{Method: "GET", URL: "/widgets", Params: map[string]string{"a": "2"}},
		{Method: "GET", URL: "/widgets", Params: map[string]string{"a": "1"}, Headers: map[string]string{"Authorization": "Bearer 1"}},
	}
	baseKey := buildCacheKey(base)
	for i, v := range variants {
		if buildCacheKey(v) == baseKey {
			t.Errorf("variant %d: expected a different key from the base request", i)
		}
	}
}

func TestCanonicalHeadersOnlyIncludesAllowedSubsetSortedAndLowercased(t *testing.T) {
	headers := map[string]string{
		"Accept":     "application/json",
		"X-Api-Key":  "secret",
		"Accept-Encoding": "gzip",
	}
	got := canonicalHeaders(headers)
	want := "accept:application/json|accept-encoding:gzip"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestCanonicalHeadersEmpty(t *testing.T) {
	if got := canonicalHeaders(nil); got != "" {
		t.Errorf("expected empty string for nil headers, got %q", got)
	}
}

func TestCanonicalParamsEmpty(t *testing.T) {
	if got := canonicalParams(nil); got != "{}" {
		t.Errorf("expected {} for nil params, got %q", got)
	}
}
