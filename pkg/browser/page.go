package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"

	"dev/bravebird/uiverify/pkg/verify"
)

// Page is a verify.Page over a rod page.
type Page struct {
	page *rod.Page
}

var _ verify.Page = (*Page)(nil)

// Navigate loads url and waits for the load event
func (p *Page) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return classify(ctx, fmt.Errorf("%w: %v", verify.ErrTargetUnreachable, err))
	}
	if err := page.WaitLoad(); err != nil {
		return classify(ctx, fmt.Errorf("%w: wait load: %v", verify.ErrTargetUnreachable, err))
	}
	return nil
}

// Elements returns all elements matching css without waiting
func (p *Page) Elements(ctx context.Context, css string) ([]verify.Element, error) {
	els, err := p.page.Context(ctx).Elements(css)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return wrapAll(els), nil
}

// ElementsByText searches the document body
func (p *Page) ElementsByText(ctx context.Context, m verify.TextMatch) ([]verify.Element, error) {
	roots, err := p.page.Context(ctx).Elements("body")
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(roots) == 0 {
		return nil, nil
	}
	return searchText(ctx, roots.First(), m)
}

// Snapshot captures a PNG of the full page
func (p *Page) Snapshot(ctx context.Context) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", classify(ctx, err))
	}
	return data, nil
}

// URL returns the current location, or "" if the page is gone
func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// classify maps rod and CDP failures onto the engine's sentinels. Errors that
// mean the node went away become ErrStaleElement so the poller retries.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}

	var notFound *rod.ObjectNotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", verify.ErrStaleElement, err)
	}

	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) {
		msg := cdpErr.Message
		switch {
		case strings.Contains(msg, "Could not find node"),
			strings.Contains(msg, "Cannot find context"),
			strings.Contains(msg, "Execution context was destroyed"),
			strings.Contains(msg, "Node is detached"):
			return fmt.Errorf("%w: %v", verify.ErrStaleElement, err)
		}
	}

	var evalErr *rod.EvalError
	if errors.As(err, &evalErr) && strings.Contains(err.Error(), "is not a valid selector") {
		return fmt.Errorf("%w: %v", verify.ErrInvalidQuery, err)
	}
	return err
}
