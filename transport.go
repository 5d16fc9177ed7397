package staterequest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport is the contract an attempt goes through to reach the network.
// Implementations translate a TransportConfig into an AttemptResult
// without interpreting the response body; acceptance is the response
// analyzer's job, not the transport's.
type Transport interface {
	Do(ctx context.Context, cfg TransportConfig) AttemptResult
}

// HTTPTransport is the default Transport, built on net/http. It is safe
// for concurrent use; callers typically share one instance across calls
// via the underlying http.Client's connection pooling.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds an HTTPTransport. A nil client falls back to a
// client with sane pooling defaults and no implicit timeout — per-request
// timeouts come from TransportConfig.Timeout via context, not the client.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Do(ctx context.Context, cfg TransportConfig) AttemptResult {
	start := time.Now()

	// cfg.Cancel is the caller's explicit per-request cancellation
	// sentinel; when supplied it takes
	// precedence over the ambient ctx passed by the attempt loop.
	if cfg.Cancel != nil {
		ctx = cfg.Cancel
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	req, err := t.buildRequest(ctx, cfg)
	if err != nil {
		return t.failure(start, classifyTransportFailure("", 0, false, err))
	}

	resp, err := t.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		// A cancelled context is a caller abort; an expired timeout falls
		// through and is classified from the client error (ETIMEDOUT).
		if ctx.Err() == context.Canceled {
			return t.failure(start, classifyTransportFailure("", 0, true, ctx.Err()))
		}
		return t.failure(start, classifyTransportFailure(transportCodeFor(err), 0, false, err))
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return t.failure(start, classifyTransportFailure("", resp.StatusCode, false, readErr))
	}

	var decoded any
	if len(body) > 0 {
		if jsonErr := json.Unmarshal(body, &decoded); jsonErr != nil {
			decoded = string(body)
		}
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	result := AttemptResult{
		OK:              ok,
		Timestamp:       start,
		ExecutionTimeMs: elapsed.Milliseconds(),
		StatusCode:      resp.StatusCode,
		Data:            responsePayload{Body: decoded, Headers: flattenHeaders(resp.Header), Status: resp.StatusCode, StatusText: resp.Status},
	}
	if !ok {
		result.IsRetryable = isRetryableStatus(resp.StatusCode)
		result.Error = classifyTransportFailure("", resp.StatusCode, false, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return result
}

// responsePayload is the shape AttemptResult.Data takes on a transport
// success; response analyzers and the cache both read through it.
type responsePayload struct {
	Body       any
	Headers    map[string]string
	Status     int
	StatusText string
}

func (t *HTTPTransport) failure(start time.Time, te *TransportError) AttemptResult {
	return AttemptResult{
		OK:              false,
		IsRetryable:     te.Retryable,
		Timestamp:       start,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		StatusCode:      te.StatusCode,
		Error:           te,
	}
}

func (t *HTTPTransport) buildRequest(ctx context.Context, cfg TransportConfig) (*http.Request, error) {
	full := cfg.URL
	if cfg.BaseURL != "" {
		full = strings.TrimRight(cfg.BaseURL, "/") + cfg.URL
	}
	u, err := url.Parse(full)
	if err != nil {
		return nil, err
	}
	if len(cfg.Params) > 0 {
		q := u.Query()
		for k, v := range cfg.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	if cfg.Data != nil && method != http.MethodGet && method != http.MethodHead {
		encoded, err := json.Marshal(cfg.Data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}

// transportCodeFor maps a net/http client error to one of the
// network-level transport codes. Go's net package does not expose the
// same enum as other runtimes, so this is a best-effort classification
// based on the error text, mirroring what os-level errno checks would do.
func transportCodeFor(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection reset"):
		return "ECONNRESET"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "ETIMEDOUT"
	case strings.Contains(msg, "connection refused"):
		return "ECONNREFUSED"
	case strings.Contains(msg, "no such host"):
		return "ENOTFOUND"
	case strings.Contains(msg, "lookup"):
		return "EAI_AGAIN"
	default:
		return ""
	}
}
