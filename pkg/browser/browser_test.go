package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/verify"
)

func TestDeepestMatches(t *testing.T) {
	// <div><p><span>Total Productos</span></p><p>Stock</p></div>
	nodes := []textNode{
		{Text: "Total Productos Stock", Parent: -1},
		{Text: "Total Productos", Parent: 0},
		{Text: "Total Productos", Parent: 1},
		{Text: "Stock", Parent: 0},
	}

	got := deepestMatches(nodes, verify.TextMatch{Value: "Total Productos", Mode: models.MatchExact})
	assert.Equal(t, []int{2}, got)

	got = deepestMatches(nodes, verify.TextMatch{Value: "o", Mode: models.MatchSubstring})
	assert.Equal(t, []int{2, 3}, got)

	got = deepestMatches(nodes, verify.TextMatch{Value: "Precio", Mode: models.MatchExact})
	assert.Empty(t, got)
}

const fixture = `<!doctype html>
<html><body>
<h1>Gestión de Productos</h1>
<label for="search">Buscar por nombre</label>
<input id="search" name="search" value="anillo">
<input placeholder="Min" name="minPrice">
<select name="pageSize"><option value="10" selected>10</option><option value="100">100</option></select>
<p id="hidden" style="display:none">oculto</p>
<button disabled>Anterior</button>
</body></html>`

func startBrowser(t *testing.T) (*Manager, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in short mode")
	}
	if _, ok := launcher.LookPath(); !ok {
		t.Skip("no Chrome or Chromium found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, fixture)
	}))
	t.Cleanup(srv.Close)

	m := NewManager(Config{Headless: true, NoSandbox: true})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Close() })
	return m, srv.URL
}

func TestPageAgainstChrome(t *testing.T) {
	m, url := startBrowser(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	page, release, err := m.NewPage(ctx)
	require.NoError(t, err)
	defer release()
	require.NoError(t, page.Navigate(ctx, url))

	loc := verify.NewLocator(page)
	driver := verify.NewDriver(page, loc)

	els, err := loc.Resolve(ctx, models.Text("Gestión de Productos", models.MatchExact))
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, "<h1>", els[0].String())

	els, err = loc.Resolve(ctx, models.Label("Buscar por nombre"))
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, `<input id="search">`, els[0].String())

	require.NoError(t, driver.Fill(ctx, models.Label("Buscar por nombre"), "Aretes"))
	v, _, err := els[0].Attribute(ctx, "value")
	require.NoError(t, err)
	assert.Equal(t, "Aretes", v)

	require.NoError(t, driver.Clear(ctx, models.Placeholder("Min", models.MatchExact)))
	require.NoError(t, driver.SelectOption(ctx, models.CSS("select"), "100"))
	sel, err := loc.Resolve(ctx, models.CSS("select"))
	require.NoError(t, err)
	v, _, err = sel[0].Attribute(ctx, "value")
	require.NoError(t, err)
	assert.Equal(t, "100", v)

	hidden, err := loc.Resolve(ctx, models.CSS("#hidden"))
	require.NoError(t, err)
	visible, err := hidden[0].Visible(ctx)
	require.NoError(t, err)
	assert.False(t, visible)

	_, err = page.Elements(ctx, "tr[")
	assert.ErrorIs(t, err, verify.ErrInvalidQuery)

	png, err := page.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestNavigateUnreachable(t *testing.T) {
	m, _ := startBrowser(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	page, release, err := m.NewPage(ctx)
	require.NoError(t, err)
	defer release()

	err = page.Navigate(ctx, "http://127.0.0.1:1/")
	assert.ErrorIs(t, err, verify.ErrTargetUnreachable)
}
