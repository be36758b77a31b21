package endfield

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gachasync/config"
	"gachasync/logger"
	"gachasync/models"
)

var (
	// ErrAuthFailed is returned when a grant, u8 token or role lookup is refused.
	ErrAuthFailed = errors.New("endfield: authentication failed")
	// ErrBadResponse is returned for non-2xx statuses and undecodable bodies.
	ErrBadResponse = errors.New("endfield: bad response")
)

// Service hosts, combined with the provider domain.
const (
	serviceAccount = "as"
	serviceBinding = "binding-api-account-prod"
	serviceU8      = "u8"
	serviceWebview = "ef-webview"
)

// Client talks to the account and record services of both providers.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	lang       string
	endpoint   string
	delayMin   time.Duration
	delayMax   time.Duration
	sleep      func(context.Context, time.Duration) error
	log        *logger.Log
}

// NewClient builds a client from the reader configuration. A non-empty
// endpoint override replaces every service host, which is how tests point the
// client at a local server.
func NewClient(cfg config.ReaderConfig) *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	lang := cfg.Lang
	if lang == "" {
		lang = "zh-cn"
	}

	return &Client{
		httpClient: &http.Client{
			Transport: userAgentTransport{agent: cfg.UserAgent, base: transport},
			Timeout:   cfg.Timeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		lang:     lang,
		endpoint: strings.TrimRight(cfg.EndpointOverride, "/"),
		delayMin: cfg.PageDelayMin,
		delayMax: cfg.PageDelayMax,
		sleep:    sleepContext,
		log:      logger.GetLogger(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) pageDelay() time.Duration {
	if c.delayMax <= c.delayMin {
		return c.delayMin
	}
	return c.delayMin + time.Duration(rand.Int63n(int64(c.delayMax-c.delayMin)))
}

// serviceURL resolves a service path for a provider.
func (c *Client) serviceURL(provider models.Provider, service, path string) string {
	if c.endpoint != "" {
		return c.endpoint + "/" + service + path
	}
	return fmt.Sprintf("https://%s.%s.com%s", service, provider, path)
}

// getJSON waits on the limiter, performs a GET and decodes the body into out.
// It returns the body size for accounting.
func (c *Client) getJSON(ctx context.Context, rawURL string, query url.Values, out interface{}) (int, error) {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	return c.do(ctx, req, out)
}

// postJSON waits on the limiter and POSTs body as JSON.
func (c *Client) postJSON(ctx context.Context, rawURL string, body interface{}, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	return c.do(ctx, req, out)
}

func (c *Client) do(ctx context.Context, req *http.Request, out interface{}) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", req.URL.Path, err)
	}
	logger.LogPerformanceEntry(c.log.WithComponent("endfield_client"), "endfield_client", req.URL.Path, time.Since(start), logger.Fields{"status": resp.StatusCode})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return len(data), fmt.Errorf("%w: %s %s returned %d", ErrBadResponse, req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return len(data), fmt.Errorf("%w: decode %s: %v", ErrBadResponse, req.URL.Path, err)
	}
	return len(data), nil
}
