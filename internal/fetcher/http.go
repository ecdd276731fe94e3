package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultMaxRetries  = 3
	defaultUserAgent   = "pharmacy-intel/1.0"
	fallbackRate       = rate.Limit(20)
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RateLimiters map[string]*rate.Limiter // per-host overrides
}

// AdaptiveLimiter is a rate.Limiter whose rate follows server feedback:
// every success raises it 20% up to twice the initial rate, every 429
// halves it down to a quarter of the initial rate.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	current rate.Limit
	ceil    rate.Limit
	floor   rate.Limit
}

// NewAdaptiveLimiter returns an AdaptiveLimiter starting at the given rate.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initial, burst),
		current: initial,
		ceil:    initial * 2,
		floor:   initial / 4,
	}
}

// Wait blocks until the limiter admits one event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess nudges the rate up after a successful response.
func (a *AdaptiveLimiter) OnSuccess() {
	a.adjust(1.2)
}

// OnRateLimit halves the rate after a 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	newRate := a.adjust(0.5)
	zap.L().Warn("throttled by host, lowering request rate",
		zap.Float64("new_rate", float64(newRate)),
	)
}

func (a *AdaptiveLimiter) adjust(factor rate.Limit) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.current * factor
	if next > a.ceil {
		next = a.ceil
	}
	if next < a.floor {
		next = a.floor
	}
	a.current = next
	a.limiter.SetLimit(next)
	return next
}

// Limit reports the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// DefaultRateLimiters returns the fixed per-host limiters for the CMS and
// census download hosts. The API host gets a tighter budget than the bulk
// download hosts.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"download.cms.gov": rate.NewLimiter(5, 5),
		"data.cms.gov":     rate.NewLimiter(5, 5),
		"www2.census.gov":  rate.NewLimiter(5, 5),
		"api.census.gov":   rate.NewLimiter(2, 2),
	}
}

// DefaultAdaptiveLimiters returns adaptive limiters for the same hosts.
func DefaultAdaptiveLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"download.cms.gov": NewAdaptiveLimiter(5, 5),
		"data.cms.gov":     NewAdaptiveLimiter(5, 5),
		"www2.census.gov":  NewAdaptiveLimiter(5, 5),
		"api.census.gov":   NewAdaptiveLimiter(2, 2),
	}
}

// HTTPFetcher downloads over HTTP with per-host rate limiting and retry on
// transient statuses.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	fixed    map[string]*rate.Limiter
	adaptive map[string]*AdaptiveLimiter
}

// NewHTTPFetcher builds an HTTPFetcher, filling unset options with defaults.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	fixed := make(map[string]*rate.Limiter, len(opts.RateLimiters))
	for host, lim := range opts.RateLimiters {
		fixed[host] = lim
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		fixed:    fixed,
		adaptive: DefaultAdaptiveLimiters(),
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// throttle blocks until the URL's host limiter admits a request. The
// adaptive limiter wins when the host has one; it is returned so the caller
// can feed back the response outcome.
func (f *HTTPFetcher) throttle(ctx context.Context, rawURL string) (*AdaptiveLimiter, error) {
	host := hostOf(rawURL)
	if adaptive, ok := f.adaptive[host]; ok {
		if err := adaptive.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limit wait")
		}
		return adaptive, nil
	}

	lim, ok := f.fixed[host]
	if !ok {
		lim = rate.NewLimiter(fallbackRate, int(fallbackRate))
	}
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limit wait")
	}
	return nil, nil
}

func (f *HTTPFetcher) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: build %s request", method)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	return req, nil
}

// doWithRetry issues the request, retrying 5xx and 429 responses and
// transport errors with exponential backoff.
func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := range f.opts.MaxRetries {
		adaptive, err := f.throttle(ctx, req.URL.String())
		if err != nil {
			return nil, err
		}

		resp, err := f.client.Do(req.Clone(ctx))
		switch {
		case err != nil:
			lastErr = err
			zap.L().Warn("request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)

		case resp.StatusCode == http.StatusTooManyRequests:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("fetcher: 429 from %s", req.URL.String())
			if adaptive != nil {
				adaptive.OnRateLimit()
			}

		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("fetcher: %d from %s", resp.StatusCode, req.URL.String())
			zap.L().Warn("server error, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)

		default:
			if adaptive != nil {
				adaptive.OnSuccess()
			}
			return resp, nil
		}

		sleepBackoff(ctx, attempt)
	}
	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

// sleepBackoff waits 2^attempt seconds, capped at 30s, plus up to 50% jitter.
func sleepBackoff(ctx context.Context, attempt int) {
	d := time.Duration(float64(time.Second) * math.Pow(2, float64(attempt)))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL into a local file and returns bytes written.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: create %s", path)
	}
	defer out.Close() //nolint:errcheck

	n, err := io.Copy(out, body)
	if err != nil {
		return n, eris.Wrapf(err, "fetcher: write %s", path)
	}
	return n, nil
}

// HeadETag issues a HEAD request and returns the ETag header, which may be
// empty when the host does not emit one.
func (f *HTTPFetcher) HeadETag(ctx context.Context, rawURL string) (string, error) {
	req, err := f.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", err
	}
	if _, err := f.throttle(ctx, rawURL); err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "head request")
	}
	defer resp.Body.Close() //nolint:errcheck

	return resp.Header.Get("ETag"), nil
}

// DownloadIfChanged fetches the URL with an If-None-Match header. On 304 it
// returns (nil, etag, false, nil); otherwise the body, the new ETag, and
// changed=true.
func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL string, etag string) (io.ReadCloser, string, bool, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, "", false, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if _, err := f.throttle(ctx, rawURL); err != nil {
		return nil, "", false, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", false, eris.Wrap(err, "download if changed")
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		_ = resp.Body.Close()
		return nil, etag, false, nil
	case resp.StatusCode != http.StatusOK:
		_ = resp.Body.Close()
		return nil, "", false, eris.Errorf("download if changed: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, resp.Header.Get("ETag"), true, nil
}
