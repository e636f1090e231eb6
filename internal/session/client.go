package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/corpix/uarand"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// Config holds session client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// Limiter is awaited before every outgoing request. Nil disables rate
	// limiting.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// Request describes a single outgoing call. Body must be replayable, so it
// is carried as bytes rather than a reader.
type Request struct {
	Method string
	// URL may be absolute or relative to the session base URL.
	URL    string
	Header http.Header
	Body   []byte
	// FollowRedirects controls automatic redirect handling. Login flows
	// disable it because the redirect status itself is the success signal.
	FollowRedirects bool
}

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Session is an HTTP client that tracks cookies across requests, retries
// transient failures with jittered exponential backoff, and presents itself
// as a desktop browser. The cookie jar is per-instance: cookies issued
// mid-flow (e.g. on the login page) are replayed on every subsequent request
// without the caller threading them through.
type Session struct {
	client     *http.Client
	jar        http.CookieJar
	baseURL    string
	maxRetries int
	retryDelay time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func New(cfg Config) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 1 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		jar:        jar,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
	}, nil
}

// BaseURL returns the configured site base URL.
func (s *Session) BaseURL() string {
	return s.baseURL
}

// Do executes a request, retrying transient failures. Non-retryable
// failures propagate immediately.
func (s *Session) Do(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		resp, err := s.doOnce(ctx, req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		if attempt == s.maxRetries {
			break
		}

		backoff := s.backoff(attempt)
		s.logger.Warn("request failed, retrying",
			"url", req.URL,
			"attempt", attempt,
			"backoff", backoff,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", s.maxRetries, lastErr)
}

// Stream executes a request and returns the raw response, body unread, for
// large downloads. Streamed requests are not retried: the caller decides
// what a failed transfer means. The caller must close the body.
func (s *Session) Stream(ctx context.Context, req Request) (*http.Response, error) {
	httpReq, err := s.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return s.clientFor(req).Do(httpReq)
}

// Cookies returns the cookies the jar would send to the given URL.
func (s *Session) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(s.resolve(rawURL))
	if err != nil {
		return nil
	}
	return s.jar.Cookies(u)
}

// SetCookies seeds the jar with caller-supplied cookies for a URL.
func (s *Session) SetCookies(rawURL string, cookies []*http.Cookie) {
	u, err := url.Parse(s.resolve(rawURL))
	if err != nil {
		return
	}
	s.jar.SetCookies(u, cookies)
}

// CookieHeader composes the Cookie header value the session would send to
// the given URL, for callers that issue requests outside this session.
func (s *Session) CookieHeader(rawURL string) string {
	cookies := s.Cookies(rawURL)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func (s *Session) doOnce(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := s.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := s.clientFor(req).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (s *Session) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, s.resolve(req.URL), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", uarand.GetRandom())
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	for key, values := range req.Header {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	return httpReq, nil
}

// clientFor returns the shared client, or a shallow copy when the request
// needs different handling. An explicit Cookie header detaches the jar for
// that request: net/http appends jar cookies to the caller's header, which
// would send duplicate names when the override comes from this same
// session. Non-followed redirects stop at the first response; that copy
// keeps the jar, so Set-Cookie on the redirect is still captured.
func (s *Session) clientFor(req Request) *http.Client {
	c := s.client
	if req.Header.Get("Cookie") != "" {
		copied := *c
		copied.Jar = nil
		c = &copied
	}
	if !req.FollowRedirects {
		copied := *c
		copied.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
		c = &copied
	}
	return c
}

func (s *Session) resolve(rawURL string) string {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	if !strings.HasPrefix(rawURL, "/") {
		rawURL = "/" + rawURL
	}
	return s.baseURL + rawURL
}

func (s *Session) backoff(attempt int) time.Duration {
	backoff := s.retryDelay
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	return backoff + time.Duration(rand.Intn(100))*time.Millisecond
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
