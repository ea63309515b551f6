package wplace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"wplacebot/internal/models"
)

const (
	DefaultEndpoint     = "https://backend.wplace.live/me"
	DefaultFrontURL     = "https://wplace.live/"
	DefaultCookieDomain = ".wplace.live"
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"

	// CookieName is the session cookie the site issues after login.
	CookieName = "j"

	challengeMarker = "Just a moment"
	maxDetail       = 300
)

type Options struct {
	Endpoint  string
	Origin    string
	UserAgent string
	Timeout   time.Duration
}

// Browser performs the metrics request from inside a real page context.
type Browser interface {
	Get(ctx context.Context, token string) (status int, body []byte, err error)
}

type Client struct {
	HTTP    *http.Client
	opts    Options
	browser Browser
	log     *slog.Logger
	steps   []step
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeChallenge
	outcomeFailure
)

type outcome struct {
	kind   outcomeKind
	status int
	body   []byte
	err    error
}

// step is one entry of the fetch cascade. applies sees whether any earlier
// step ran into an anti-automation challenge.
type step struct {
	name    string
	applies func(mode models.Mode, challenged bool) bool
	run     func(ctx context.Context, token string) outcome
}

// NewClient builds a fetcher. A nil browser disables the automation fallback.
func NewClient(opts Options, browser Browser, logger *slog.Logger) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Origin == "" {
		opts.Origin = strings.TrimSuffix(DefaultFrontURL, "/")
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	c := &Client{
		HTTP: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		opts:    opts,
		browser: browser,
		log:     logger,
	}
	c.steps = []step{
		{
			name:    "bearer",
			applies: func(models.Mode, bool) bool { return true },
			run: func(ctx context.Context, token string) outcome {
				return c.get(ctx, "Authorization", "Bearer "+token)
			},
		},
		{
			name:    "cookie",
			applies: func(mode models.Mode, _ bool) bool { return mode == models.ModeCookie },
			run: func(ctx context.Context, token string) outcome {
				return c.get(ctx, "Cookie", CookieName+"="+token+";")
			},
		},
		{
			name:    "browser",
			applies: func(_ models.Mode, challenged bool) bool { return challenged && c.browser != nil },
			run:     c.viaBrowser,
		},
	}
	return c
}

// Fetch resolves one account's live metrics, walking the strategy cascade
// until a step yields a usable response.
func (c *Client) Fetch(ctx context.Context, rawToken string, mode models.Mode) (models.ResolvedMetrics, error) {
	token := CleanToken(rawToken)
	if token == "" {
		return models.ResolvedMetrics{}, &FetchError{Strategy: "input", Err: fmt.Errorf("empty token")}
	}
	var (
		last       outcome
		lastName   string
		challenged bool
	)
	for _, s := range c.steps {
		if !s.applies(mode, challenged) {
			continue
		}
		o := s.run(ctx, token)
		if o.kind == outcomeSuccess {
			m, err := Normalize(o.body, token)
			if err != nil {
				return models.ResolvedMetrics{}, &FetchError{Strategy: s.name, Status: o.status, Body: truncate(string(o.body)), Err: err}
			}
			return m, nil
		}
		if o.kind == outcomeChallenge {
			challenged = true
		}
		c.log.Debug("fetch step unsuccessful", "strategy", s.name, "status", o.status, "err", o.err)
		last, lastName = o, s.name
	}
	return models.ResolvedMetrics{}, &FetchError{Strategy: lastName, Status: last.status, Body: truncate(string(last.body)), Err: last.err}
}

func (c *Client) get(ctx context.Context, header, value string) outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.Endpoint, nil)
	if err != nil {
		return outcome{kind: outcomeFailure, err: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "ja,en-US;q=0.9,en;q=0.8")
	req.Header.Set("Referer", c.opts.Origin+"/")
	req.Header.Set("Origin", c.opts.Origin)
	req.Header.Set(header, value)
	res, err := c.HTTP.Do(req)
	if err != nil {
		return outcome{kind: outcomeFailure, err: err}
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return outcome{kind: outcomeFailure, status: res.StatusCode, err: err}
	}
	return outcome{kind: classify(res.StatusCode, b), status: res.StatusCode, body: b}
}

func (c *Client) viaBrowser(ctx context.Context, token string) outcome {
	start := time.Now()
	status, body, err := c.browser.Get(ctx, token)
	c.log.Info("browser fallback finished", "status", status, "duration_ms", time.Since(start).Milliseconds(), "err", err)
	if err != nil {
		return outcome{kind: outcomeFailure, status: status, body: body, err: err}
	}
	if status == http.StatusOK && isJSONObject(body) {
		return outcome{kind: outcomeSuccess, status: status, body: body}
	}
	return outcome{kind: outcomeFailure, status: status, body: body}
}

func classify(status int, body []byte) outcomeKind {
	if status == http.StatusOK && isJSONObject(body) {
		return outcomeSuccess
	}
	if status == http.StatusForbidden {
		return outcomeChallenge
	}
	if !gjson.ValidBytes(body) && bytes.Contains(body, []byte(challengeMarker)) {
		return outcomeChallenge
	}
	return outcomeFailure
}

func isJSONObject(b []byte) bool {
	return gjson.ValidBytes(b) && gjson.ParseBytes(b).IsObject()
}

// CleanToken strips the decorations users tend to paste along with a credential.
func CleanToken(raw string) string {
	t := strings.TrimSpace(raw)
	if len(t) > 7 && strings.EqualFold(t[:7], "bearer ") {
		t = strings.TrimSpace(t[7:])
	}
	t = strings.TrimPrefix(t, CookieName+"=")
	t = strings.TrimSuffix(t, ";")
	return strings.TrimSpace(t)
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxDetail {
		return s
	}
	r := []rune(s)
	return string(r[:maxDetail])
}
