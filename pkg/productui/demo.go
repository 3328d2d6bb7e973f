package productui

import (
	"context"
	"fmt"
	"html"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"dev/bravebird/uiverify/pkg/htmlpage"
	"dev/bravebird/uiverify/pkg/verify"
)

// Product is one row of the demo inventory
type Product struct {
	Name     string
	Price    float64
	Quantity int
	Image    string // Empty renders the placeholder icon
}

// DemoApp renders a server-side imitation of the product-management UI for
// htmlpage documents. Filter inputs only take effect once they have been
// unchanged for Debounce, the way the real client debounces its requests.
type DemoApp struct {
	Products []Product
	Debounce time.Duration

	mu        sync.Mutex
	pending   url.Values
	applied   url.Values
	changedAt time.Time
}

var filterKeys = []string{"search", "minPrice", "maxPrice", "minQuantity", "maxQuantity", "pageSize"}

// NewDemoApp creates a demo over products
func NewDemoApp(products []Product, debounce time.Duration) *DemoApp {
	return &DemoApp{Products: products, Debounce: debounce}
}

// Factory opens every page on its own copy of the app so filter state is
// never shared between concurrently running scenarios.
func (a *DemoApp) Factory() verify.PageFactory {
	return func(ctx context.Context) (verify.Page, func(), error) {
		return htmlpage.New(NewDemoApp(a.Products, a.Debounce)), func() {}, nil
	}
}

// Render implements htmlpage.App
func (a *DemoApp) Render(u *url.URL, form url.Values) (string, error) {
	if u.Path != "" && u.Path != "/" {
		return "", fmt.Errorf("no route for %s", u.Path)
	}
	applied := a.settle(form)

	all := a.filter(applied)
	size := pageSize(applied.Get("pageSize"))
	pages := int(math.Max(1, math.Ceil(float64(len(all))/float64(size))))
	shown := all
	if len(shown) > size {
		shown = shown[:size]
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html lang="es"><head><title>Productos</title></head><body><main>`)
	a.writeStats(&b)
	fmt.Fprintf(&b, `<h3>Gestión de Productos <span class="count">(%d productos en esta página)</span></h3>`, len(shown))
	a.writeFilters(&b, form)
	writeTable(&b, shown)
	fmt.Fprintf(&b, `<nav><button type="button" disabled>Anterior</button><span>Página 1 de %d</span><button type="button"%s>Siguiente</button></nav>`,
		pages, disabledUnless(pages > 1))
	b.WriteString(`</main></body></html>`)
	return b.String(), nil
}

// settle returns the filter values the UI is currently showing results for
func (a *DemoApp) settle(form url.Values) url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := pick(form)
	if a.pending == nil || !sameValues(current, a.pending) {
		a.pending = current
		a.changedAt = time.Now()
		if a.applied == nil {
			// First render shows the unfiltered inventory immediately.
			a.applied = url.Values{}
		}
	}
	if time.Since(a.changedAt) >= a.Debounce {
		a.applied = a.pending
	}
	return a.applied
}

func (a *DemoApp) filter(v url.Values) []Product {
	search := strings.ToLower(strings.TrimSpace(v.Get("search")))
	minPrice, hasMinPrice := parseFloat(v.Get("minPrice"))
	maxPrice, hasMaxPrice := parseFloat(v.Get("maxPrice"))
	minQty, hasMinQty := parseFloat(v.Get("minQuantity"))
	maxQty, hasMaxQty := parseFloat(v.Get("maxQuantity"))

	var out []Product
	for _, p := range a.Products {
		switch {
		case search != "" && !strings.Contains(strings.ToLower(p.Name), search):
		case hasMinPrice && p.Price < minPrice:
		case hasMaxPrice && p.Price > maxPrice:
		case hasMinQty && float64(p.Quantity) < minQty:
		case hasMaxQty && float64(p.Quantity) > maxQty:
		default:
			out = append(out, p)
		}
	}
	return out
}

func (a *DemoApp) writeStats(b *strings.Builder) {
	var value float64
	stock := 0
	for _, p := range a.Products {
		value += p.Price * float64(p.Quantity)
		stock += p.Quantity
	}
	b.WriteString(`<section class="stats">`)
	fmt.Fprintf(b, `<div class="card"><p class="label">Total Productos</p><p class="value">%d</p></div>`, len(a.Products))
	fmt.Fprintf(b, `<div class="card"><p class="label">Valor Total</p><p class="value">$%.2f</p></div>`, value)
	fmt.Fprintf(b, `<div class="card"><p class="label">Stock Total</p><p class="value">%d unidades</p></div>`, stock)
	b.WriteString(`</section>`)
}

func (a *DemoApp) writeFilters(b *strings.Builder, form url.Values) {
	b.WriteString(`<section class="filters">`)
	fmt.Fprintf(b, `<label for="search">Buscar por nombre</label><input id="search" name="search" type="text" value="%s">`, attr(form, "search"))
	fmt.Fprintf(b, `<input name="minPrice" type="number" placeholder="Min" value="%s">`, attr(form, "minPrice"))
	fmt.Fprintf(b, `<input name="maxPrice" type="number" placeholder="Max" value="%s">`, attr(form, "maxPrice"))
	fmt.Fprintf(b, `<input name="minQuantity" type="number" placeholder="Cantidad mín." value="%s">`, attr(form, "minQuantity"))
	fmt.Fprintf(b, `<input name="maxQuantity" type="number" placeholder="Cantidad máx." value="%s">`, attr(form, "maxQuantity"))
	b.WriteString(`<label for="pageSize">Items por página</label><select id="pageSize" name="pageSize">`)
	selected := strconv.Itoa(pageSize(form.Get("pageSize")))
	for _, n := range []string{"10", "20", "50", "100"} {
		sel := ""
		if n == selected {
			sel = " selected"
		}
		fmt.Fprintf(b, `<option value="%s"%s>%s</option>`, n, sel, n)
	}
	b.WriteString(`</select></section>`)
}

func writeTable(b *strings.Builder, rows []Product) {
	b.WriteString(`<table><thead><tr><th>Imagen</th><th>Nombre</th><th>Precio</th><th>Cantidad</th></tr></thead><tbody>`)
	if len(rows) == 0 {
		b.WriteString(`<tr><td colspan="4">No se encontraron productos</td></tr>`)
	}
	for _, p := range rows {
		b.WriteString(`<tr><td>`)
		if p.Image == "" {
			b.WriteString(`<svg class="lucide lucide-image-icon" width="24" height="24"></svg>`)
		} else {
			fmt.Fprintf(b, `<img src="%s" alt="%s">`, html.EscapeString(p.Image), html.EscapeString(p.Name))
		}
		fmt.Fprintf(b, `</td><td><span>%s</span></td><td><span>$%.2f</span></td><td><span>%d</span></td></tr>`,
			html.EscapeString(p.Name), p.Price, p.Quantity)
	}
	b.WriteString(`</tbody></table>`)
}

func pick(form url.Values) url.Values {
	out := url.Values{}
	for _, k := range filterKeys {
		if v := form.Get(k); v != "" {
			out.Set(k, v)
		}
	}
	return out
}

func sameValues(a, b url.Values) bool {
	return a.Encode() == b.Encode()
}

func pageSize(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10
	}
	return n
}

func parseFloat(v string) (float64, bool) {
	if strings.TrimSpace(v) == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f, err == nil
}

func attr(form url.Values, key string) string {
	return html.EscapeString(form.Get(key))
}

func disabledUnless(ok bool) string {
	if ok {
		return ""
	}
	return " disabled"
}
