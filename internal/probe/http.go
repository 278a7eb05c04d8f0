package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"region-latency/internal/core"
)

// FailedRequestPrefix names the metric describing a failed request.
const FailedRequestPrefix = "Failed Network Request: "

// RequestError is returned when a request never produced a response.
// Elapsed is how long the attempt took before failing at At.
type RequestError struct {
	Method  string
	URL     string
	Elapsed time.Duration
	At      time.Time
	Err     error
}

// Metric describes the failed attempt. It is not recorded in any registry.
func (e *RequestError) Metric() core.Metric {
	return core.NewMetric(FailedRequestPrefix+e.URL, e.Elapsed, e.At, "")
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("failed network request: %s %s after %s: %v", e.Method, e.URL, e.Elapsed, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// HTTPInvoker performs one HTTP round trip per Invoke and drains the body.
// Status codes are reported, not treated as failures.
type HTTPInvoker struct {
	client *http.Client
	clock  clock.Clock
	method string
	url    string
	body   []byte
	header http.Header
}

type HTTPOption func(*HTTPInvoker)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPInvoker) {
		h.client = c
	}
}

func WithClock(c clock.Clock) HTTPOption {
	return func(h *HTTPInvoker) {
		h.clock = c
	}
}

func WithHeader(key, value string) HTTPOption {
	return func(h *HTTPInvoker) {
		h.header.Add(key, value)
	}
}

// WithJSONBody sends body with a JSON content type.
func WithJSONBody(body []byte) HTTPOption {
	return func(h *HTTPInvoker) {
		h.body = body
		h.header.Set("Content-Type", "application/json")
	}
}

func NewHTTPInvoker(method, url string, opts ...HTTPOption) *HTTPInvoker {
	h := &HTTPInvoker{
		client: &http.Client{Timeout: 30 * time.Second},
		clock:  clock.New(),
		method: method,
		url:    url,
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPInvoker) requestError(start time.Time, err error) *RequestError {
	now := h.clock.Now()
	return &RequestError{Method: h.method, URL: h.url, Elapsed: now.Sub(start), At: now, Err: err}
}

func (h *HTTPInvoker) Invoke(ctx context.Context) (core.Response, error) {
	start := h.clock.Now()

	var (
		mu   sync.Mutex
		ttfb time.Duration
	)
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			mu.Lock()
			ttfb = h.clock.Since(start)
			mu.Unlock()
		},
	}

	var body io.Reader
	if h.body != nil {
		body = bytes.NewReader(h.body)
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), h.method, h.url, body)
	if err != nil {
		return core.Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header = h.header.Clone()

	resp, err := h.client.Do(req)
	if err != nil {
		return core.Response{}, h.requestError(start, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return core.Response{}, h.requestError(start, err)
	}

	mu.Lock()
	defer mu.Unlock()
	return core.Response{Status: resp.StatusCode, Bytes: n, TTFB: ttfb}, nil
}
