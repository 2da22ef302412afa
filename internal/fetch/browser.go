package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// MinTextChars is the extracted text length below which a page is treated
// as client-rendered.
const MinTextChars = 500

// IsThin reports whether text is too short to be the real page content.
func IsThin(text string) bool {
	return len(strings.TrimSpace(text)) < MinTextChars
}

// BrowserOptions configures headless rendering.
type BrowserOptions struct {
	Timeout time.Duration
	// Settle is how long scripts get to populate the page after load.
	Settle time.Duration
}

// DefaultBrowserOptions returns the stock rendering options.
func DefaultBrowserOptions() BrowserOptions {
	return BrowserOptions{Timeout: 30 * time.Second, Settle: 2 * time.Second}
}

// Render loads url in headless Chrome and returns the rendered document.
// Chrome or Chromium must be installed.
func Render(ctx context.Context, url string, opts BrowserOptions, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(DefaultUserAgent),
	)...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, opts.Timeout)
	defer cancelTimeout()

	var html string
	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(opts.Settle),
		chromedp.OuterHTML("html", &html),
	); err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}

	logger.Debug("rendered page",
		zap.String("url", url),
		zap.Int("bytes", len(html)),
		zap.Duration("elapsed", time.Since(start)))
	return html, nil
}
