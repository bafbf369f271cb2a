package jleague

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/cockroachdb/errors"
)

// ChromeRenderer loads pages in headless Chrome. It is used when the site
// serves the ranking list through client-side rendering.
type ChromeRenderer struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	timeout  time.Duration
	settle   time.Duration
}

// NewChromeRenderer creates a new headless browser renderer
func NewChromeRenderer(userAgent string, timeout time.Duration) *ChromeRenderer {
	if userAgent == "" {
		userAgent = UserAgent
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromeRenderer{
		allocCtx: allocCtx,
		cancel:   cancel,
		timeout:  timeout,
		settle:   500 * time.Millisecond,
	}
}

// Close releases resources
func (r *ChromeRenderer) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Render navigates to url and returns the outer HTML once the body is visible.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	browserCtx, cancel := chromedp.NewContext(r.allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, r.timeout)
	defer cancel()

	// chromedp contexts do not inherit from ctx.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(`body`, chromedp.ByQuery),
		chromedp.Sleep(r.settle),
		chromedp.OuterHTML(`html`, &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", errors.Wrapf(err, "render %s", url)
	}
	if html == "" {
		return "", errors.Newf("render %s: empty document", url)
	}
	return html, nil
}
