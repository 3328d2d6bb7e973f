// Package htmlpage is an in-process page backed by goquery. It renders markup
// from an App (or fetches it over HTTP) and keeps form state between renders,
// which makes it a browserless stand-in for the rod adapter.
package htmlpage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"dev/bravebird/uiverify/pkg/verify"
)

// App produces the markup for a URL given the current form values, keyed by
// control name (or id when the control has no name). It is re-rendered on
// every page-level lookup so time-dependent UIs can be observed changing.
type App interface {
	Render(u *url.URL, form url.Values) (string, error)
}

// AppFunc adapts a function to App
type AppFunc func(u *url.URL, form url.Values) (string, error)

func (f AppFunc) Render(u *url.URL, form url.Values) (string, error) { return f(u, form) }

// Document is a verify.Page over parsed HTML
type Document struct {
	app    App
	client *http.Client

	mu   sync.Mutex
	url  *url.URL
	form url.Values
	html string
	doc  *goquery.Document
	gen  uint64
}

var _ verify.Page = (*Document)(nil)

// New creates a document rendered by app. Nothing is loaded until Navigate.
func New(app App) *Document {
	return &Document{app: app, form: url.Values{}}
}

// Fetch creates a static document loaded over HTTP on Navigate
func Fetch(client *http.Client) *Document {
	if client == nil {
		client = http.DefaultClient
	}
	return &Document{client: client, form: url.Values{}}
}

// Parse creates a static document from markup
func Parse(html string) (*Document, error) {
	d := &Document{form: url.Values{}, url: &url.URL{Scheme: "about", Opaque: "blank"}}
	if err := d.load(html); err != nil {
		return nil, err
	}
	return d, nil
}

// Factory opens a fresh document per scenario so form state never leaks
// between scenarios.
func Factory(app App) verify.PageFactory {
	return func(ctx context.Context) (verify.Page, func(), error) {
		return New(app), func() {}, nil
	}
}

// Navigate loads rawURL, discarding form state
func (d *Document) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.url = u
	d.form = url.Values{}
	if d.app != nil {
		return d.renderLocked()
	}

	html, err := d.fetch(ctx, u)
	if err != nil {
		return err
	}
	return d.load(html)
}

func (d *Document) fetch(ctx context.Context, u *url.URL) (string, error) {
	client := d.client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", verify.ErrTargetUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: %s returned %d", verify.ErrTargetUnreachable, u, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(body), nil
}

// renderLocked asks the app for fresh markup and reparses when it changed.
func (d *Document) renderLocked() error {
	if d.app == nil {
		return nil
	}
	if d.url == nil {
		return fmt.Errorf("%w: nothing loaded", verify.ErrTargetUnreachable)
	}
	html, err := d.app.Render(d.url, cloneValues(d.form))
	if err != nil {
		return fmt.Errorf("%w: render %s: %v", verify.ErrTargetUnreachable, d.url, err)
	}
	if d.doc != nil && html == d.html {
		return nil
	}
	return d.load(html)
}

func (d *Document) load(html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}
	d.html = html
	d.doc = doc
	d.gen++
	return nil
}

// Elements implements verify.Scope over the whole document
func (d *Document) Elements(ctx context.Context, css string) ([]verify.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := compile(css)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.refreshLocked(); err != nil {
		return nil, err
	}
	return d.wrap(d.doc.FindMatcher(m)), nil
}

// ElementsByText implements verify.Scope over the whole document
func (d *Document) ElementsByText(ctx context.Context, m verify.TextMatch) ([]verify.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.refreshLocked(); err != nil {
		return nil, err
	}
	return d.wrap(deepestMatching(d.doc.Find("body"), m)), nil
}

func (d *Document) refreshLocked() error {
	if d.doc == nil && d.app == nil {
		return fmt.Errorf("%w: nothing loaded", verify.ErrTargetUnreachable)
	}
	return d.renderLocked()
}

// Snapshot returns the current markup
func (d *Document) Snapshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil, fmt.Errorf("%w: nothing loaded", verify.ErrTargetUnreachable)
	}
	html, err := d.doc.Html()
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}

// URL returns the current address
func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.url == nil {
		return ""
	}
	return d.url.String()
}

// Form returns a copy of the current form values
func (d *Document) Form() url.Values {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneValues(d.form)
}

func (d *Document) wrap(sel *goquery.Selection) []verify.Element {
	out := make([]verify.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{doc: d, sel: s, gen: d.gen})
	})
	return out
}

func compile(css string) (cascadia.Selector, error) {
	m, err := cascadia.Compile(css)
	if err != nil {
		return nil, fmt.Errorf("%w: selector %q: %v", verify.ErrInvalidQuery, css, err)
	}
	return m, nil
}

// deepestMatching returns descendants of root whose text matches and none of
// whose child elements also match.
func deepestMatching(root *goquery.Selection, m verify.TextMatch) *goquery.Selection {
	return root.Find("*").Not("script, style, template").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if !m.Matches(s.Text()) {
			return false
		}
		deeper := false
		s.Children().EachWithBreak(func(_ int, c *goquery.Selection) bool {
			deeper = m.Matches(c.Text())
			return !deeper
		})
		return !deeper
	})
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
