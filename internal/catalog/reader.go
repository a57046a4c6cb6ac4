package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"stockwatch/pkg/logx"
)

// ReaderConfig configures the rod-backed catalog reader.
type ReaderConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Timeout bounds one navigation + extraction pass.
	Timeout time.Duration

	// RetryMax is the number of re-attempts after a failed scrape.
	RetryDelay time.Duration
	RetryMax   int

	// BlockedResources lists request resource types to abort
	// (image, font, media, stylesheet).
	BlockedResources []string

	UserAgent string
}

func (c *ReaderConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 6 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"
	}
}

// RodReader reads collections by rendering their listing page in headless
// Chrome, scrolling to trigger lazy loading, and extracting product anchors.
//
// One browser process is shared across reads; pages are opened and closed per
// read. Reads must not run concurrently.
type RodReader struct {
	cfg ReaderConfig
	log logx.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

func NewRodReader(cfg ReaderConfig, log logx.Logger) *RodReader {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RodReader{cfg: cfg, log: log}
}

// Start launches Chrome (or connects to a remote instance).
func (r *RodReader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return nil
	}

	wsURL := r.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			NoSandbox(true).
			Set("disable-blink-features", "AutomationControlled").
			Set("disable-dev-shm-usage")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("reader: launch chrome: %w", err)
		}
		r.lnch = l
		wsURL = u
		r.log.Info("launched local chrome")
	} else {
		r.log.Info("connecting to remote chrome", logx.String("url", wsURL))
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("reader: connect chrome: %w", err)
	}
	r.browser = b
	return nil
}

func (r *RodReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
	return err
}

// Read observes one collection, retrying failed scrapes up to RetryMax times.
// Any exhausted failure is returned as a *ReadError; the caller skips the
// collection for this cycle and keeps its previous snapshot.
func (r *RodReader) Read(ctx context.Context, col Collection) (Observation, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.RetryMax; attempt++ {
		obs, err := r.scrape(ctx, col)
		if err == nil {
			r.log.Info("collection observed",
				logx.String("key", col.Key),
				logx.Int("total", obs.TotalItems),
				logx.Int("scraped", len(obs.Items)))
			return obs, nil
		}
		lastErr = err
		r.log.Warn("scrape failed",
			logx.String("key", col.Key),
			logx.Int("attempt", attempt+1),
			logx.Err(err))

		if attempt >= r.cfg.RetryMax {
			break
		}
		select {
		case <-time.After(r.cfg.RetryDelay):
		case <-ctx.Done():
			return Observation{}, &ReadError{Collection: col.Key, Err: ctx.Err()}
		}
	}
	return Observation{}, &ReadError{Collection: col.Key, Err: lastErr}
}

func (r *RodReader) scrape(ctx context.Context, col Collection) (obs Observation, err error) {
	r.mu.Lock()
	b := r.browser
	r.mu.Unlock()
	if b == nil {
		return Observation{}, errors.New("reader not started")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	// Rod reports failures through panics in its fluent API; convert them
	// to ordinary errors at this boundary.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("scrape panic: %v", rec)
		}
	}()

	page, err := stealth.Page(b)
	if err != nil {
		return Observation{}, fmt.Errorf("create page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.cfg.UserAgent}); err != nil {
		return Observation{}, fmt.Errorf("set user agent: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1200, Height: 720}); err != nil {
		return Observation{}, fmt.Errorf("set viewport: %w", err)
	}
	if len(r.cfg.BlockedResources) > 0 {
		blockResources(page, r.cfg.BlockedResources)
	}

	if err := page.Navigate(col.URL); err != nil {
		return Observation{}, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitDOMStable(300*time.Millisecond, 0); err != nil {
		return Observation{}, fmt.Errorf("wait dom: %w", err)
	}

	// Product anchors must be present before extraction makes sense.
	if _, err := page.Element("a[href*='/product']"); err != nil {
		return Observation{}, fmt.Errorf("product anchors not found: %w", err)
	}

	if err := autoScroll(page); err != nil {
		return Observation{}, fmt.Errorf("auto scroll: %w", err)
	}

	res, err := page.Eval(extractJS)
	if err != nil {
		return Observation{}, fmt.Errorf("extract: %w", err)
	}

	obs.ObservedAt = time.Now()
	obs.TotalItems = res.Value.Get("totalItems").Int()
	for _, p := range res.Value.Get("products").Arr() {
		it, ok := NewItem(p.Get("link").Str(), p.Get("title").Str(), p.Get("price").Str())
		if !ok {
			continue
		}
		obs.Items = append(obs.Items, it)
	}
	obs.Items = DedupByID(obs.Items)

	if len(obs.Items) == 0 {
		return Observation{}, errors.New("no products detected")
	}
	// Some listing pages omit the count element; the scraped anchors are the
	// next best estimate.
	if obs.TotalItems == 0 {
		obs.TotalItems = len(obs.Items)
	}
	return obs, nil
}

// autoScroll walks the page to the bottom in fixed steps so lazy-loaded
// entries are attached before extraction.
func autoScroll(page *rod.Page) error {
	_, err := page.Eval(`async () => {
		await new Promise((resolve) => {
			let total = 0;
			const step = 600;
			const timer = setInterval(() => {
				window.scrollBy(0, step);
				total += step;
				if (total >= document.body.scrollHeight) {
					clearInterval(timer);
					resolve();
				}
			}, 400);
		});
	}`)
	if err != nil {
		return err
	}
	time.Sleep(2 * time.Second)
	return nil
}

const extractJS = `() => {
	const countText = document.querySelector(".length strong")?.innerText || "";
	const totalItems = parseInt(countText.match(/\d+/)?.[0] || "0");

	const anchors = Array.from(document.querySelectorAll("a[href*='/product']"));
	const products = anchors.map((a) => ({
		link: a.href,
		title: a.innerText?.trim() || "",
		price: a.querySelector("[class*='price']")?.innerText?.trim() || "",
	}));

	return { totalItems, products };
}`

func blockResources(page *rod.Page, types []string) {
	blocked := make(map[string]bool, len(types))
	for _, t := range types {
		blocked[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[strings.ToLower(string(h.Request.Type()))] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}
