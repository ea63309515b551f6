package wplace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"
)

// ChromeBrowser launches a throwaway headless Chrome per call. Each call costs
// a full browser process, so callers must not retry it automatically.
type ChromeBrowser struct {
	Endpoint     string
	FrontURL     string
	CookieDomain string
	UserAgent    string
	ExecPath     string
	Timeout      time.Duration
}

func NewChromeBrowser() *ChromeBrowser {
	return &ChromeBrowser{
		Endpoint:     DefaultEndpoint,
		FrontURL:     DefaultFrontURL,
		CookieDomain: DefaultCookieDomain,
		UserAgent:    DefaultUserAgent,
		Timeout:      30 * time.Second,
	}
}

const fetchScript = `(async () => {
  const res = await fetch(%q, {
    method: "GET",
    credentials: "include",
    referrer: %q,
    headers: { "Accept": "application/json, text/plain, */*" },
  });
  const body = await res.text();
  return JSON.stringify({ status: res.status, body: body });
})()`

func (b *ChromeBrowser) Get(ctx context.Context, token string) (int, []byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.UserAgent(b.UserAgent),
		chromedp.WindowSize(1280, 800),
		chromedp.Flag("lang", "ja-JP"),
	)
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.Timeout)
	defer cancelTimeout()

	var raw string
	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookie(CookieName, token).
				WithDomain(b.CookieDomain).
				WithPath("/").
				WithHTTPOnly(true).
				WithSecure(true).
				WithSameSite(network.CookieSameSiteLax).
				Do(ctx)
		}),
		// the challenge keys on a real navigation with JS, so land on the front door first
		chromedp.Navigate(b.FrontURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(fetchScript, b.Endpoint, b.FrontURL), &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("browser automation: %w", err)
	}
	res := gjson.Parse(raw)
	status := int(res.Get("status").Int())
	body := []byte(strings.TrimSpace(res.Get("body").String()))
	if status == 0 {
		return 0, body, fmt.Errorf("browser automation: unexpected script result")
	}
	return status, body, nil
}
