package productui

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/uiverify/pkg/htmlpage"
	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/verify"
)

const debounce = 30 * time.Millisecond

func fastOptions() Options {
	o := DefaultOptions()
	o.BaseURL = "http://productos.test/"
	o.LoadTimeout = 2 * time.Second
	o.FilterTimeout = 2 * time.Second
	o.Debounce = debounce
	o.Artifact = ""
	return o
}

func newRunner() *verify.Runner {
	return verify.NewRunner(verify.RunnerOptions{
		DefaultTimeout: 2 * time.Second,
		PollInterval:   10 * time.Millisecond,
	})
}

// run executes a catalog scenario against a fresh demo page and returns the
// page so tests can inspect what the UI ended up showing.
func run(t *testing.T, name string, products []Product, o Options) (models.ScenarioResult, *htmlpage.Document) {
	t.Helper()
	sc, err := Build(name, o)
	require.NoError(t, err)

	page := htmlpage.New(NewDemoApp(products, debounce))
	res := newRunner().Run(context.Background(), page, sc)
	return res, page
}

func requirePassed(t *testing.T, res models.ScenarioResult) {
	t.Helper()
	for _, f := range res.Failures() {
		t.Logf("step %d %q: %s", f.Index, f.Name, f.Message)
	}
	require.Equal(t, models.ScenarioCompleted, res.Status)
}

func expectRows(t *testing.T, page verify.Page, cond verify.Condition) {
	t.Helper()
	a := verify.NewAsserter(verify.NewLocator(page), verify.NewPoller(10*time.Millisecond))
	require.NoError(t, a.Expect(context.Background(), models.CSS("tbody tr"), cond, time.Second))
}

func TestSearchNarrowsToMatchingRow(t *testing.T) {
	products := []Product{
		{Name: "Aretes calavera", Price: 1.5, Quantity: 7},
		{Name: "Collar plata", Price: 3.2, Quantity: 2, Image: "collar.png"},
		{Name: "Pulsera", Price: 0.8, Quantity: 12, Image: "pulsera.png"},
	}

	res, page := run(t, "search-filter", products, fastOptions())
	requirePassed(t, res)

	expectRows(t, page, verify.All(verify.CountEquals(1), verify.EachContainsText("Aretes calavera")))
}

func TestPriceRangeLeavesMiddleRow(t *testing.T) {
	products := []Product{
		{Name: "Anillo", Price: 0.5, Quantity: 1},
		{Name: "Broche", Price: 1.5, Quantity: 1},
		{Name: "Cadena", Price: 2.5, Quantity: 1},
	}

	res, page := run(t, "price-filter", products, fastOptions())
	requirePassed(t, res)

	expectRows(t, page, verify.All(verify.CountEquals(1), verify.EachContainsText("$1.50")))
}

func TestQuantityRangeLeavesMiddleRow(t *testing.T) {
	products := []Product{
		{Name: "Anillo", Price: 1, Quantity: 3},
		{Name: "Broche", Price: 1, Quantity: 7},
		{Name: "Cadena", Price: 1, Quantity: 12},
	}

	res, page := run(t, "quantity-filter", products, fastOptions())
	requirePassed(t, res)

	expectRows(t, page, verify.All(
		verify.CountEquals(1),
		verify.EachNumberWithin("td:nth-child(4) span", verify.ParseFirstInt, 7, 7),
	))
}

func TestPageSizeShowsAllRows(t *testing.T) {
	products := make([]Product, 12)
	for i := range products {
		products[i] = Product{Name: fmt.Sprintf("Producto %02d", i+1), Price: 1, Quantity: i + 1}
	}

	sc, err := Build("page-size", fastOptions())
	require.NoError(t, err)
	page := htmlpage.New(NewDemoApp(products, debounce))
	require.NoError(t, page.Navigate(context.Background(), "http://productos.test/"))
	expectRows(t, page, verify.CountEquals(10))

	res := newRunner().Run(context.Background(), page, sc)
	requirePassed(t, res)

	expectRows(t, page, verify.CountEquals(12))
}

func demoInventory() []Product {
	return []Product{
		{Name: "Aretes calavera", Price: 1.5, Quantity: 7},
		{Name: "Collar plata", Price: 3.2, Quantity: 2, Image: "collar.png"},
		{Name: "Pulsera", Price: 0.8, Quantity: 12, Image: "pulsera.png"},
	}
}

func TestProductFeatures(t *testing.T) {
	o := fastOptions()
	o.Artifact = filepath.Join(t.TempDir(), "verification", "verification.png")

	res, page := run(t, "product-features", demoInventory(), o)
	requirePassed(t, res)

	sc, _ := Build("product-features", o)
	assert.Len(t, res.Outcomes, len(sc.Steps))
	assert.Equal(t, o.Artifact, res.ArtifactPath)
	assert.FileExists(t, o.Artifact)

	// Every filter was cleared before the page size changed.
	form := page.Form()
	for _, key := range []string{"search", "minPrice", "maxPrice", "minQuantity", "maxQuantity"} {
		assert.Empty(t, form.Get(key), key)
	}
	assert.Equal(t, "100", form.Get("pageSize"))
}

func TestUIAnalysis(t *testing.T) {
	res, _ := run(t, "ui-analysis", demoInventory(), fastOptions())
	requirePassed(t, res)
}

func TestHeadingWithPageCount(t *testing.T) {
	res, page := run(t, "initial-load", demoInventory(), fastOptions())
	requirePassed(t, res)
	assert.Equal(t, "(3 productos en esta página)", strings.TrimSpace(headingCount(t, page)))

	// The count span is part of the heading text, so only a substring query finds it.
	loc := verify.NewLocator(page)
	exact, err := loc.Resolve(context.Background(), models.Text("Gestión de Productos", models.MatchExact))
	require.NoError(t, err)
	assert.Empty(t, exact)
	found, err := loc.Resolve(context.Background(), heading)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, strings.HasPrefix(found[0].String(), "<h3>"), found[0].String())
}

func headingCount(t *testing.T, page *htmlpage.Document) string {
	t.Helper()
	els, err := page.Elements(context.Background(), "h3 span.count")
	require.NoError(t, err)
	require.Len(t, els, 1)
	text, err := els[0].Text(context.Background())
	require.NoError(t, err)
	return text
}

func TestUIAnalysisRejectsEuroTotal(t *testing.T) {
	demo := NewDemoApp(demoInventory(), debounce)
	app := htmlpage.AppFunc(func(u *url.URL, form url.Values) (string, error) {
		markup, err := demo.Render(u, form)
		return strings.Replace(markup, `<p class="value">$`, `<p class="value">€`, 1), err
	})
	o := fastOptions()
	o.FilterTimeout = 200 * time.Millisecond
	sc, err := Build("ui-analysis", o)
	require.NoError(t, err)

	res := newRunner().Run(context.Background(), htmlpage.New(app), sc)

	assert.False(t, res.Passed())
	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "stats and prices are in dollars", failures[0].Name)
	assert.Contains(t, failures[0].Observed, "€")
}

func TestSearchWithoutMatchesFails(t *testing.T) {
	o := fastOptions()
	o.SearchTerm = "Tiara"
	o.FilterTimeout = 200 * time.Millisecond

	res, _ := run(t, "search-filter", demoInventory(), o)

	assert.False(t, res.Passed())
	assert.Equal(t, models.ScenarioTimedOut, res.Status)
	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "css=tbody tr", failures[0].Query)
	assert.Contains(t, failures[0].Observed, "No se encontraron productos")
}

func TestMissingPlaceholderIcon(t *testing.T) {
	products := []Product{{Name: "Collar plata", Price: 3.2, Quantity: 2, Image: "collar.png"}}
	o := fastOptions()
	o.FilterTimeout = 100 * time.Millisecond

	res, _ := run(t, "image-placeholder", products, o)
	assert.Equal(t, models.ScenarioFailed, res.Status)
	assert.Equal(t, models.ErrorNotFound, res.Reason)
}

func TestCatalog(t *testing.T) {
	names := Names()
	assert.Equal(t, []string{
		"image-placeholder", "initial-load", "page-size", "price-filter",
		"product-features", "quantity-filter", "search-filter", "ui-analysis",
	}, names)

	_, err := Build("checkout", DefaultOptions())
	assert.ErrorIs(t, err, ErrUnknownScenario)

	all, err := BuildAll(nil, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, all, len(names))

	_, err = BuildAll([]string{"initial-load", "nope"}, DefaultOptions())
	assert.ErrorIs(t, err, ErrUnknownScenario)

	sc, err := Build("initial-load", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, sc.Steps, 3)
	assert.Equal(t, 60*time.Second, sc.Steps[1].Timeout)
	assert.Equal(t, filepath.Join("verification", "verification.png"), sc.Artifact)
}

func TestSuiteRunsCatalogInParallel(t *testing.T) {
	scenarios, err := BuildAll(nil, fastOptions())
	require.NoError(t, err)

	suite := &verify.Suite{
		Runner:   newRunner(),
		Pages:    NewDemoApp(demoInventory(), debounce).Factory(),
		Parallel: 4,
	}
	results := suite.RunAll(context.Background(), scenarios)

	require.Len(t, results, len(scenarios))
	for _, res := range results {
		for _, f := range res.Failures() {
			t.Logf("%s step %d: %s", res.Scenario, f.Index, f.Message)
		}
		assert.Equal(t, models.ScenarioCompleted, res.Status, res.Scenario)
	}
}
