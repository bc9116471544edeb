// Package rasterize renders HTML report documents to bitmaps with headless
// Chrome, for use as paginator surfaces.
package rasterize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/disintegration/imaging"

	"github.com/drummonds/freightdesk/paginator"
)

// A4WidthCSSPx is 210mm at the CSS reference density of 96px per inch.
const A4WidthCSSPx = 794

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Browser owns one headless Chrome process. Each rasterization opens its
// own tab, so a Browser can serve concurrent exports.
type Browser struct {
	execPath string

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewBrowser prepares a browser. Chrome is launched on first use; an empty
// execPath lets chromedp look for a Chrome or Chromium binary.
func NewBrowser(execPath string) *Browser {
	return &Browser{execPath: execPath}
}

func (b *Browser) start() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil && b.browserCtx.Err() == nil {
		return b.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		Logger.Debug("chromedp", "message", fmt.Sprintf(format, args...))
	}))
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	Logger.Info("Headless browser started", "execPath", b.execPath)
	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	return browserCtx, nil
}

// Close shuts the browser down. A closed Browser restarts on next use.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.browserCtx = nil
	return nil
}

// HTMLSurface is a complete HTML document whose Selector element is the
// report root, laid out at WidthPx CSS pixels.
type HTMLSurface struct {
	Browser  *Browser
	HTML     string
	Selector string        // defaults to "body"
	WidthPx  int           // defaults to A4WidthCSSPx
	Timeout  time.Duration // zero means no limit beyond ctx
}

// Rasterize implements paginator.Surface. scale becomes the device pixel
// ratio, so the bitmap is WidthPx*scale pixels wide.
func (s HTMLSurface) Rasterize(ctx context.Context, scale float64) (image.Image, error) {
	if s.Browser == nil {
		return nil, fmt.Errorf("%w: no browser attached to surface", paginator.ErrInvalidInput)
	}
	if strings.TrimSpace(s.HTML) == "" {
		return nil, fmt.Errorf("%w: empty html document", paginator.ErrInvalidInput)
	}
	selector := s.Selector
	if selector == "" {
		selector = "body"
	}
	width := s.WidthPx
	if width <= 0 {
		width = A4WidthCSSPx
	}

	browserCtx, err := s.Browser.start()
	if err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if s.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		tabCtx, timeoutCancel = context.WithTimeout(tabCtx, s.Timeout)
		defer timeoutCancel()
	}

	var nodes []*cdp.Node
	err = chromedp.Run(tabCtx,
		emulation.SetDeviceMetricsOverride(int64(width), 1123, scale, false),
		emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{R: 255, G: 255, B: 255, A: 1}),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, s.HTML).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading document: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: selector %q matched nothing", paginator.ErrInvalidInput, selector)
	}

	var settled bool
	var png []byte
	err = chromedp.Run(tabCtx,
		chromedp.Evaluate(settleScript, &settled, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
		chromedp.Screenshot(selector, &png, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("capturing %q: %w", selector, err)
	}

	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	Logger.Debug("Rasterized html surface", "selector", selector, "width", img.Bounds().Dx(), "height", img.Bounds().Dy(), "scale", scale)
	return img, nil
}

// settleScript resolves once web fonts and every image have finished loading.
const settleScript = `Promise.all([
	document.fonts ? document.fonts.ready : Promise.resolve(),
	...Array.from(document.images).filter(img => !img.complete).map(img =>
		new Promise(resolve => { img.onload = img.onerror = resolve; }))
]).then(() => true)`
