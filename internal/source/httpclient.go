package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "catalog-ingest/1.0"
	maxErrorBody     = 4096
	redactedValue    = "REDACTED"
)

// Waiter blocks until a request to rawURL may be sent.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// HTTPClientConfig configures the shared adapter HTTP client.
type HTTPClientConfig struct {
	Timeout   time.Duration
	UserAgent string
	// Redact lists query parameters whose values never appear in error URLs.
	Redact []string
}

// HTTPClient issues JSON requests for the site adapters.
type HTTPClient struct {
	client    *http.Client
	limiter   Waiter
	userAgent string
	redact    map[string]struct{}
}

// NewHTTPClient builds an HTTPClient. A nil client gets a default one with the
// configured timeout; a nil limiter disables local rate limiting.
func NewHTTPClient(client *http.Client, limiter Waiter, cfg HTTPClientConfig) *HTTPClient {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	redact := make(map[string]struct{}, len(cfg.Redact))
	for _, key := range cfg.Redact {
		redact[key] = struct{}{}
	}
	return &HTTPClient{client: client, limiter: limiter, userAgent: ua, redact: redact}
}

// GetJSON issues a GET against endpoint with params encoded in sorted key
// order and decodes the JSON body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	target, err := BuildURL(endpoint, params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

// PostJSON sends body as JSON to endpoint and decodes the JSON response into out.
func (c *HTTPClient) PostJSON(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	ctx := req.Context()
	display := c.redactURL(req.URL)
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, req.URL.String()); err != nil {
			return err
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("request %s: %w", display, ctxErr)
		}
		var upstream *catalog.UpstreamError
		if errors.As(err, &upstream) {
			return upstream
		}
		metrics.ObserveUpstream(req.URL.Hostname(), 0)
		return &catalog.UpstreamError{URL: display, Body: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	metrics.ObserveUpstream(req.URL.Hostname(), resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &catalog.UpstreamError{Status: resp.StatusCode, URL: display, Body: string(body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &catalog.UpstreamError{
			Status: resp.StatusCode,
			URL:    display,
			Body:   "malformed response: " + err.Error(),
		}
	}
	return nil
}

func (c *HTTPClient) redactURL(u *url.URL) string {
	if len(c.redact) == 0 || u.RawQuery == "" {
		return u.String()
	}
	clone := *u
	q := clone.Query()
	for key := range q {
		if _, ok := c.redact[key]; ok {
			q.Set(key, redactedValue)
		}
	}
	clone.RawQuery = q.Encode()
	return clone.String()
}

// BuildURL appends params to endpoint. Empty values are dropped and keys are
// emitted in sorted order so identical queries always produce identical URLs.
func BuildURL(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				continue
			}
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
