package sessionpool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/marketorder/gateway/internal/config"
	"github.com/marketorder/gateway/internal/model"
	"github.com/marketorder/gateway/internal/validate"
)

// Session is a per-Task composite of a headless browser (for oz/ym/mm,
// which require a JS-rendered DOM) and a cookie-jar HTTP client (for wb's
// direct JSON endpoint), acquired from a bounded slot Pool.
type Session struct {
	pool   *Pool
	slot   *slot
	cfg    config.Config
	logger *zap.Logger

	parentCtx     context.Context
	browserCtx    context.Context
	browserCancel context.CancelFunc
	httpClient    *http.Client
	jar           *cookiejar.Jar

	proxies []validate.Proxy
	cookies []model.OrderCookie

	reqCount int
	limiter  *rate.Limiter
}

// Acquire reserves a slot from pool and constructs a Session for it,
// launching the browser, clearing/installing cookies, and setting the
// first proxy, per the construction sequence in §4.2.
func Acquire(ctx context.Context, pool *Pool, cfg config.Config, proxies []validate.Proxy, cookies []model.OrderCookie, logger *zap.Logger) (*Session, error) {
	s, err := pool.acquire()
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		pool.release(s)
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	sess := &Session{
		pool:      pool,
		slot:      s,
		cfg:       cfg,
		logger:    logger,
		parentCtx: ctx,
		jar:       jar,
		proxies:   proxies,
		cookies:   cookies,
		limiter:   rate.NewLimiter(rate.Every(10*time.Millisecond), 4),
	}

	var initialProxy *validate.Proxy
	if len(proxies) > 0 {
		initialProxy = &proxies[0]
	}
	browserCtx, browserCancel, err := sess.launchBrowser(ctx, initialProxy)
	if err != nil {
		pool.release(s)
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	sess.browserCtx = browserCtx
	sess.browserCancel = browserCancel

	if err := sess.clearAndInstallCookies(sess.browserCtx); err != nil {
		sess.Close()
		return nil, err
	}

	sess.httpClient = &http.Client{
		Jar:     jar,
		Timeout: time.Duration(cfg.ReqSession.Timings.Timeout) * time.Millisecond,
		Transport: &http.Transport{
			ResponseHeaderTimeout: time.Duration(cfg.ReqSession.Timings.ReadTimeout) * time.Millisecond,
		},
	}
	if len(proxies) > 0 {
		sess.applyHTTPProxy(proxies[0])
	}
	for _, c := range cookies {
		sess.installHTTPCookie(c)
	}

	time.Sleep(time.Duration(cfg.ReqSession.LaunchSleep) * time.Millisecond)

	return sess, nil
}

// launchBrowser starts a fresh exec allocator + browser context, optionally
// bound to proxy, and wires up Fetch-domain auth handling when the proxy
// carries credentials (Chrome's --proxy-server flag has no field for
// username/password, so authenticated proxies must answer the browser's
// CDP Fetch.authRequired challenge instead).
func (s *Session) launchBrowser(ctx context.Context, proxy *validate.Proxy) (context.Context, context.CancelFunc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(s.slot.userData),
		chromedp.Flag("headless", s.cfg.Browser.HeadlessMod),
		chromedp.Flag("no-sandbox", !s.cfg.Browser.Sandbox),
		chromedp.Flag("incognito", s.cfg.Browser.Incognito),
	)
	if proxy != nil {
		opts = append(opts, chromedp.ProxyServer(proxy.Addr()))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, nil, err
	}

	if proxy != nil && proxy.Username != "" {
		s.enableProxyAuth(browserCtx, *proxy)
	}

	return browserCtx, cancel, nil
}

// enableProxyAuth answers the browser's proxy-authentication challenge with
// proxy's credentials and lets every other request through unmodified.
func (s *Session) enableProxyAuth(ctx context.Context, proxy validate.Proxy) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				if err := chromedp.Run(ctx, fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseProvideCredentials,
					Username: proxy.Username,
					Password: proxy.Password,
				})); err != nil {
					s.logger.Warn("proxy auth challenge response failed", zap.Error(err))
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(ctx, fetch.ContinueRequest(ev.RequestID))
			}()
		}
	})
	if err := chromedp.Run(ctx, fetch.Enable().WithHandleAuthRequests(true)); err != nil {
		s.logger.Warn("fetch domain enable failed", zap.Error(err))
	}
}

// clearAndInstallCookies wipes the browser's cookie jar and installs the
// order's cookies via the CDP Network domain, mirroring installHTTPCookie
// for the browser-routed marketplaces.
func (s *Session) clearAndInstallCookies(ctx context.Context) error {
	actions := []chromedp.Action{network.ClearBrowserCookies()}
	if len(s.cookies) > 0 {
		params := make([]*network.CookieParam, 0, len(s.cookies))
		for _, c := range s.cookies {
			p := &network.CookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Path:     c.Path,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			}
			if c.Domain != "" {
				p.Domain = c.Domain
			} else {
				p.URL = c.URL
			}
			params = append(params, p)
		}
		actions = append(actions, network.SetCookies(params))
	}
	return chromedp.Run(ctx, actions...)
}

// installProxy rotates the browser's egress proxy. Chrome reads
// --proxy-server only at launch, so rotation relaunches the allocator
// against a fresh browser context and retires the old one once the
// replacement is live and its cookies are reinstalled.
func (s *Session) installProxy(p validate.Proxy) {
	browserCtx, browserCancel, err := s.launchBrowser(s.parentCtx, &p)
	if err != nil {
		s.logger.Warn("proxy rotation relaunch failed, keeping current browser", zap.String("addr", p.Addr()), zap.Error(err))
		return
	}
	if err := s.clearAndInstallCookies(browserCtx); err != nil {
		s.logger.Warn("cookie reinstall after proxy rotation failed", zap.Error(err))
	}

	oldCancel := s.browserCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	oldCancel()
	s.logger.Debug("browser proxy rotated", zap.String("addr", p.Addr()))
}

func (s *Session) applyHTTPProxy(p validate.Proxy) {
	proxyURL := &url.URL{Scheme: "http", Host: p.Addr()}
	if p.Username != "" {
		proxyURL.User = url.UserPassword(p.Username, p.Password)
	}
	if t, ok := s.httpClient.Transport.(*http.Transport); ok {
		t.Proxy = http.ProxyURL(proxyURL)
	}
}

func (s *Session) installHTTPCookie(c model.OrderCookie) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return
	}
	s.jar.SetCookies(u, []*http.Cookie{{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
	}})
}

// Fetch retrieves raw product content for product, dispatching by symbol:
// wb goes through the HTTP client, everything else through a browser tab.
// Fetch failures return (nil, nil): per §4.2/§4.3 a failed fetch is
// recorded as a null product, never a Task-ending error. The one non-nil
// error is ctx ending while waiting on the pacing limiter.
func (s *Session) Fetch(ctx context.Context, product model.Product) ([]byte, error) {
	s.reqCount++
	s.rotateProxyIfDue()
	s.recycleTabsIfDue(ctx)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if product.Symbol == model.SymbolWildberries {
		return s.fetchHTTP(ctx, product)
	}
	return s.fetchBrowser(ctx, product)
}

func (s *Session) fetchHTTP(ctx context.Context, product model.Product) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, product.FetchURL, nil)
	if err != nil {
		return nil, nil
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}
	return body, nil
}

func (s *Session) fetchBrowser(parent context.Context, product model.Product) ([]byte, error) {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	defer cancel()
	timeout := time.Duration(s.cfg.Browser.Timings.PageGotoTimeout) * time.Millisecond
	ctx, cancelTimeout := context.WithTimeout(tabCtx, timeout)
	defer cancelTimeout()

	var html string
	tasks := chromedp.Tasks{chromedp.Navigate(product.FetchURL)}
	if param, ok := s.cfg.Browser.PageParam.Symbol[string(product.Symbol)]; ok && param.WaitForEl != "" {
		tasks = append(tasks, chromedp.WaitVisible(param.WaitForEl, chromedp.ByQuery))
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, nil
	}
	return []byte(html), nil
}

// WarmUp opens product's page once with no extraction and a longer wait, to
// let the browser receive anti-bot cookies before the main fetch loop
// (§4.3 step 4, triggered only for oz products).
func (s *Session) WarmUp(ctx context.Context, product model.Product) {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	defer cancel()
	longWait := time.Duration(s.cfg.Browser.Timings.PageGotoTimeout) * 2 * time.Millisecond
	ctx, cancelTimeout := context.WithTimeout(tabCtx, longWait)
	defer cancelTimeout()
	_ = chromedp.Run(ctx, chromedp.Navigate(product.FetchURL), chromedp.Sleep(time.Duration(s.cfg.Browser.Timings.ActionSleep)*time.Millisecond))
}

func (s *Session) rotateProxyIfDue() {
	interval := s.cfg.ReqSession.SetProxyInterval
	if interval <= 0 || len(s.proxies) <= 1 {
		return
	}
	if s.reqCount%interval != 0 {
		return
	}
	idx := (s.reqCount / interval) % len(s.proxies)
	p := s.proxies[idx]
	s.installProxy(p)
	s.applyHTTPProxy(p)
}

// recycleTabsIfDue closes every open browser tab (target) to reclaim memory
// without tearing down the browser/allocator itself — fetchBrowser and
// WarmUp open a fresh tab per call and close it via their own defer, so
// this is a safety net for tabs a prior call failed to close cleanly.
func (s *Session) recycleTabsIfDue(ctx context.Context) {
	interval := s.cfg.ReqSession.CloseTabsInterval
	if interval <= 0 || s.reqCount%interval != 0 {
		return
	}
	targets, err := chromedp.Targets(s.browserCtx)
	if err != nil {
		s.logger.Warn("list targets for tab recycle failed", zap.Error(err))
		return
	}
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if err := chromedp.Run(s.browserCtx, target.CloseTarget(t.TargetID)); err != nil {
			s.logger.Warn("close tab during recycle failed", zap.String("target", string(t.TargetID)), zap.Error(err))
		}
	}
}

// Close terminates the browser session and releases the slot back to the
// pool.
func (s *Session) Close() {
	if s.browserCancel != nil {
		s.browserCancel()
	}
	s.pool.release(s.slot)
}
