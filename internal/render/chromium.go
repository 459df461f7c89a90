package render

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"epdash/internal/config"
	"epdash/internal/model"
)

// Default capture parameters for the dashboard artifact.
const (
	DefaultWidth      = 960
	DefaultHeight     = 540
	DefaultTimeoutSec = 30
)

// ChromiumRenderer drives a headless Chromium instance via chromedp. It
// navigates to the dashboard page with the display model passed in the URL
// fragment, waits for the DOM to signal that rendering is complete, and
// captures a PNG at the configured resolution.
//
// Rendering-complete condition: the page root exposes
//
//	<div data-ready="true" ...>
//
// once it has consumed the payload and finished layout.
type ChromiumRenderer struct {
	pageURL string
	width   int
	height  int
	timeout time.Duration
}

// NewChromiumRenderer builds a renderer from config.
func NewChromiumRenderer(cfg config.RenderConfig) *ChromiumRenderer {
	r := &ChromiumRenderer{
		pageURL: cfg.PageURL,
		width:   cfg.Width,
		height:  cfg.Height,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}
	if r.width <= 0 {
		r.width = DefaultWidth
	}
	if r.height <= 0 {
		r.height = DefaultHeight
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeoutSec * time.Second
	}
	return r
}

// Render captures the dashboard page for the given display model and returns
// the PNG bytes.
func (r *ChromiumRenderer) Render(parentCtx context.Context, dm model.DisplayModel) ([]byte, error) {
	if r.pageURL == "" {
		return nil, fmt.Errorf("render: page URL is required")
	}

	payload, err := json.Marshal(dm)
	if err != nil {
		return nil, fmt.Errorf("render: encode display model: %w", err)
	}
	// The payload travels in the fragment so it never hits the page
	// server's logs; the page decodes location.hash itself.
	target := r.pageURL + "#data=" + base64.RawURLEncoding.EncodeToString(payload)

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, r.timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(r.width), int64(r.height)),
		chromedp.Navigate(target),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		// Small extra delay to allow final paints.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("render: chromedp run failed: %w", err)
	}
	return png, nil
}
