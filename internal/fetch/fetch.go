package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/slok/webq/internal/log"
	"github.com/slok/webq/internal/model"
)

// Fetcher knows how to render a page and extract its visible text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

const (
	// DefaultNavigationTimeout bounds the whole render of a single page.
	DefaultNavigationTimeout = 30 * time.Second
	// DefaultSettleWait gives client-side rendering a moment to populate
	// content after navigation. A latency/completeness tradeoff for dynamic
	// pages.
	DefaultSettleWait = 2 * time.Second
)

// extractTextJS strips non-content nodes and returns the rendered visible
// text of the page.
const extractTextJS = `(() => {
	document.querySelectorAll('script, style, noscript, [hidden]').forEach((el) => el.remove());
	return document.body ? document.body.innerText : '';
})()`

// BrowserFetcherConfig is the configuration for the browser fetcher.
type BrowserFetcherConfig struct {
	NavigationTimeout time.Duration
	SettleWait        time.Duration
	// BrowserOptions override the Chrome launch options. Used by tests, the
	// defaults run a sandboxed headless Chrome.
	BrowserOptions []chromedp.ExecAllocatorOption
	Logger         log.Logger
}

func (c *BrowserFetcherConfig) defaults() error {
	if c.NavigationTimeout == 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.SettleWait == 0 {
		c.SettleWait = DefaultSettleWait
	}
	if c.BrowserOptions == nil {
		c.BrowserOptions = chromedp.DefaultExecAllocatorOptions[:]
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "fetch.Browser"})
	return nil
}

// BrowserFetcher renders pages in a headless Chrome and extracts their
// visible text. Every call launches an isolated, ephemeral browser that is
// torn down on all exit paths, target sites are untrusted so contexts are
// never reused across calls.
type BrowserFetcher struct {
	cfg    BrowserFetcherConfig
	logger log.Logger
}

// NewBrowserFetcher creates a new browser fetcher.
func NewBrowserFetcher(cfg BrowserFetcherConfig) (*BrowserFetcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &BrowserFetcher{
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// Fetch renders the URL and returns the page's visible text. Navigation is
// bounded by the configured timeout, failures are not retried here (that's
// the queue's responsibility).
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.logger.Debugf("Rendering page %s", url)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.NavigationTimeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, f.cfg.BrowserOptions...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var text string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(f.cfg.SettleWait),
		chromedp.Evaluate(extractTextJS, &text),
	)
	if err != nil {
		return "", fmt.Errorf("could not render %s: %s: %w", url, err, model.ErrFetch)
	}

	f.logger.Debugf("Extracted %d characters from %s", len(text), url)
	return text, nil
}
