package fetch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPageTTL is how long a fetched page stays cached.
const DefaultPageTTL = 6 * time.Hour

// PageFetcherConfig holds configuration for the page fetcher.
type PageFetcherConfig struct {
	Options    *Options
	CacheTTL   time.Duration
	UseBrowser bool
	Browser    BrowserOptions
	Selectors  []string
}

// DefaultPageFetcherConfig returns sensible defaults.
func DefaultPageFetcherConfig() *PageFetcherConfig {
	return &PageFetcherConfig{
		Options:   DefaultOptions(),
		CacheTTL:  DefaultPageTTL,
		Browser:   DefaultBrowserOptions(),
		Selectors: SourceSelectors(),
	}
}

type cachedPage struct {
	result    *Result
	fetchedAt time.Time
}

// PageFetcher retrieves and extracts page text, falling back to a headless
// browser for thin pages when enabled. Results are cached per URL.
type PageFetcher struct {
	cfg    *PageFetcherConfig
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedPage

	now    func() time.Time
	render func(ctx context.Context, url string) (string, error)
}

// NewPageFetcher creates a new page fetcher.
func NewPageFetcher(cfg *PageFetcherConfig, logger *zap.Logger) *PageFetcher {
	if cfg == nil {
		cfg = DefaultPageFetcherConfig()
	}
	if cfg.Options == nil {
		cfg.Options = DefaultOptions()
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultPageTTL
	}
	if len(cfg.Selectors) == 0 {
		cfg.Selectors = SourceSelectors()
	}
	if cfg.Browser.Timeout == 0 {
		cfg.Browser = DefaultBrowserOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &PageFetcher{
		cfg:    cfg,
		logger: logger,
		cache:  make(map[string]cachedPage),
		now:    time.Now,
	}
	f.render = func(ctx context.Context, url string) (string, error) {
		return Render(ctx, url, cfg.Browser, logger)
	}
	return f
}

// Fetch returns the page at url with its main text extracted.
func (f *PageFetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	if cached, ok := f.lookup(url); ok {
		return cached, nil
	}

	result, err := Get(ctx, url, f.cfg.Options)
	if err != nil {
		return nil, err
	}

	if result.IsPlainText() {
		result.Text = NormalizeText(result.HTML)
		f.store(url, result)
		return result, nil
	}

	title, text, err := Extract(result.HTML, f.cfg.Selectors)
	if err != nil {
		return nil, &Error{URL: url, Op: "extract text", Err: err}
	}
	result.Title, result.Text = title, text

	if f.cfg.UseBrowser && IsThin(text) {
		html, err := f.render(ctx, url)
		if err != nil {
			f.logger.Warn("browser fallback failed", zap.String("url", url), zap.Error(err))
		} else if rTitle, rendered, err := Extract(html, f.cfg.Selectors); err == nil && len(rendered) > len(text) {
			result.HTML = html
			result.Text = rendered
			if rTitle != "" {
				result.Title = rTitle
			}
		}
	}

	f.store(url, result)
	return result, nil
}

func (f *PageFetcher) lookup(url string) (*Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[url]
	if !ok {
		return nil, false
	}
	if f.now().Sub(entry.fetchedAt) > f.cfg.CacheTTL {
		delete(f.cache, url)
		return nil, false
	}
	copied := *entry.result
	return &copied, true
}

func (f *PageFetcher) store(url string, result *Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *result
	f.cache[url] = cachedPage{result: &copied, fetchedAt: f.now()}
}

// Invalidate drops url from the cache.
func (f *PageFetcher) Invalidate(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, url)
}
