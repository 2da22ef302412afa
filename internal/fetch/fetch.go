// Package fetch retrieves source pages for web grounding and reduces them to
// their readable text.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultTimeout      = 20 * time.Second
	DefaultUserAgent    = "Mozilla/5.0 (compatible; DeepProspecting/1.0)"
	DefaultMaxBodyBytes = 4 << 20
)

// Result is one downloaded page.
type Result struct {
	URL         string
	FinalURL    string
	Title       string
	HTML        string
	Text        string
	ContentType string
	StatusCode  int
	Truncated   bool
}

// Error reports a failed download. Retryable marks transport failures and
// throttling or server-side statuses.
type Error struct {
	URL       string
	Op        string
	Status    int
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a fetch error worth retrying.
func IsRetryable(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Retryable
}

// Options configures downloads. A nil Client gets one with Timeout.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Client       *http.Client
}

// DefaultOptions returns the stock download options.
func DefaultOptions() *Options {
	return &Options{
		Timeout:      DefaultTimeout,
		UserAgent:    DefaultUserAgent,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

func (o *Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{Timeout: o.Timeout}
}

// Get downloads rawURL. Only 2xx responses with an HTML or plain-text body
// succeed. Bodies over MaxBodyBytes are cut and marked Truncated.
func Get(ctx context.Context, rawURL string, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &Error{URL: rawURL, Op: "invalid URL", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Op: "build request", Err: err}
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8")

	resp, err := opts.client().Do(req)
	if err != nil {
		return nil, &Error{URL: rawURL, Op: "request", Err: err, Retryable: ctx.Err() == nil}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &Error{
			URL:       rawURL,
			Op:        "unexpected status",
			Status:    resp.StatusCode,
			Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if !readable(contentType) {
		return nil, &Error{URL: rawURL, Op: "unsupported content type " + contentType, Status: resp.StatusCode}
	}

	limit := opts.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &Error{URL: rawURL, Op: "read body", Err: err, Retryable: true}
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}

	return &Result{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		HTML:        string(body),
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
		Truncated:   truncated,
	}, nil
}

// readable accepts HTML, XHTML and plain text. A missing header is accepted.
func readable(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml", "text/plain":
		return true
	}
	return false
}

// IsPlainText reports whether r came back as text/plain.
func (r *Result) IsPlainText() bool {
	mediaType, _, _ := mime.ParseMediaType(r.ContentType)
	return mediaType == "text/plain"
}

// noise is removed before any text is read.
const noise = "nav, footer, header, aside, script, style, noscript, svg, form, iframe, " +
	".ad, .ads, .advertisement, .sidebar, .cookie-banner, .popup, [role=navigation], [aria-hidden=true]"

// Extract returns the page title and the text of the first element matching
// selectors, falling back to body.
func Extract(html string, selectors []string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	doc.Find(noise).Remove()

	content := doc.Find("body")
	for _, sel := range selectors {
		if s := doc.Find(sel); s.Length() > 0 {
			content = s.First()
			break
		}
	}
	return title, NormalizeText(content.Text()), nil
}

// SourceSelectors match the main content of company, newsroom and investor pages.
func SourceSelectors() []string {
	return []string{
		"main",
		"article",
		"[role=main]",
		".press-release",
		".news-article",
		".investor-content",
		".about-content",
		".content",
		"#content",
	}
}

// NormalizeText collapses runs of spaces inside lines, drops blank lines and
// repeated adjacent lines.
func NormalizeText(text string) string {
	var (
		out  []string
		prev string
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" || line == prev {
			continue
		}
		out = append(out, line)
		prev = line
	}
	return strings.Join(out, "\n")
}
