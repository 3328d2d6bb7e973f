// Package productui holds the verification scenarios for the product
// management UI.
package productui

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/verify"
)

// ErrUnknownScenario is returned for names missing from the catalog
var ErrUnknownScenario = errors.New("unknown scenario")

// Options tune the scenarios to a deployment
type Options struct {
	BaseURL string

	SearchTerm  string
	PriceMin    float64
	PriceMax    float64
	QuantityMin int
	QuantityMax int
	PageSize    string

	LoadTimeout   time.Duration // Initial render, including backend warm-up
	FilterTimeout time.Duration // Table refresh after a filter change
	Debounce      time.Duration // Client-side delay before a filter is applied
	Stability     int           // Consecutive holding polls required after filtering

	// Artifact is the snapshot path; empty disables capture.
	Artifact string
	Mode     verify.FailureMode
}

// DefaultOptions mirrors the production deployment
func DefaultOptions() Options {
	return Options{
		BaseURL:       "http://localhost:8080/",
		SearchTerm:    "Aretes calavera",
		PriceMin:      1,
		PriceMax:      2,
		QuantityMin:   5,
		QuantityMax:   10,
		PageSize:      "100",
		LoadTimeout:   60 * time.Second,
		FilterTimeout: 10 * time.Second,
		Debounce:      time.Second,
		Stability:     2,
		Artifact:      filepath.Join("verification", "verification.png"),
	}
}

var (
	heading       = models.Text("Gestión de Productos", models.MatchSubstring)
	rows          = models.CSS("tbody tr")
	searchBox     = models.Label("Buscar por nombre")
	priceMin      = models.Placeholder("Min", models.MatchExact)
	priceMax      = models.Placeholder("Max", models.MatchExact)
	quantityMin   = models.CSS(`input[name="minQuantity"]`)
	quantityMax   = models.CSS(`input[name="maxQuantity"]`)
	pageSizeBox   = models.Label("Items por página")
	imageIcon     = models.CSS("svg.lucide-image-icon")
	priceCell     = "td:nth-child(3) span"
	quantityCell  = "td:nth-child(4) span"
	pageIndicator = models.Text(`Página \d+ de \d+`, models.MatchPattern)

	// Elements showing only a currency amount: the "Valor Total" card value
	// and every table price.
	amounts = models.Text(`^(MX)?[$€] ?[\d.,]+$`, models.MatchPattern)
)

type builder func(o Options) []verify.Step

var catalog = map[string]builder{
	"product-features":  productFeatures,
	"initial-load":      initialLoad,
	"search-filter":     withLoad(searchFilter),
	"price-filter":      withLoad(priceFilter),
	"quantity-filter":   withLoad(quantityFilter),
	"page-size":         withLoad(pageSizeChange),
	"image-placeholder": withLoad(imagePlaceholder),
	"ui-analysis":       withLoad(uiAnalysis),
}

// Names lists the catalog in a stable order
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build returns the named scenario configured by o
func Build(name string, o Options) (verify.Scenario, error) {
	b, ok := catalog[name]
	if !ok {
		return verify.Scenario{}, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	return verify.Scenario{
		Name:     name,
		Steps:    b(o),
		Mode:     o.Mode,
		Artifact: o.Artifact,
	}, nil
}

// BuildAll returns the named scenarios, or every scenario when names is empty
func BuildAll(names []string, o Options) ([]verify.Scenario, error) {
	if len(names) == 0 {
		names = Names()
	}
	out := make([]verify.Scenario, 0, len(names))
	for _, name := range names {
		sc, err := Build(name, o)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

func withLoad(b builder) builder {
	return func(o Options) []verify.Step {
		return append(initialLoad(o), b(o)...)
	}
}

func productFeatures(o Options) []verify.Step {
	steps := initialLoad(o)
	steps = append(steps, searchFilter(o)...)
	steps = append(steps, verify.Clear(searchBox))
	steps = append(steps, priceFilter(o)...)
	steps = append(steps, verify.Clear(priceMin), verify.Clear(priceMax))
	steps = append(steps, quantityFilter(o)...)
	steps = append(steps, verify.Clear(quantityMin), verify.Clear(quantityMax))
	steps = append(steps, pageSizeChange(o)...)
	return append(steps, imagePlaceholder(o)...)
}

func initialLoad(o Options) []verify.Step {
	return []verify.Step{
		verify.Navigate(o.BaseURL),
		verify.Expect(heading, verify.FirstVisible()).WithTimeout(o.LoadTimeout),
		verify.Expect(rows, verify.FirstVisible()).WithTimeout(o.LoadTimeout).
			Named("product table has rows"),
	}
}

func searchFilter(o Options) []verify.Step {
	return []verify.Step{
		verify.Fill(searchBox, o.SearchTerm).WithSettle(o.Debounce),
		o.filtered(verify.EachContainsText(o.SearchTerm)).
			Named(fmt.Sprintf("every row mentions %q", o.SearchTerm)),
	}
}

func priceFilter(o Options) []verify.Step {
	return []verify.Step{
		verify.Fill(priceMin, formatNumber(o.PriceMin)),
		verify.Fill(priceMax, formatNumber(o.PriceMax)).WithSettle(o.Debounce / 2),
		o.filtered(verify.EachNumberWithin(priceCell, verify.ParseDecimal, o.PriceMin, o.PriceMax)).
			Named(fmt.Sprintf("every price within [%g, %g]", o.PriceMin, o.PriceMax)),
	}
}

func quantityFilter(o Options) []verify.Step {
	lo, hi := float64(o.QuantityMin), float64(o.QuantityMax)
	return []verify.Step{
		verify.Fill(quantityMin, fmt.Sprint(o.QuantityMin)),
		verify.Fill(quantityMax, fmt.Sprint(o.QuantityMax)).WithSettle(o.Debounce / 2),
		o.filtered(verify.EachNumberWithin(quantityCell, verify.ParseFirstInt, lo, hi)).
			Named(fmt.Sprintf("every quantity within [%d, %d]", o.QuantityMin, o.QuantityMax)),
	}
}

func pageSizeChange(o Options) []verify.Step {
	return []verify.Step{
		verify.SelectOption(pageSizeBox, o.PageSize).WithSettle(o.Debounce),
		verify.Expect(pageSizeBox, verify.AttributeEquals("value", o.PageSize)).WithTimeout(o.FilterTimeout),
		verify.Expect(rows, verify.FirstVisible()).WithTimeout(o.FilterTimeout).WithStability(o.Stability).
			Named("product table still has rows"),
	}
}

func imagePlaceholder(o Options) []verify.Step {
	return []verify.Step{
		verify.Expect(imageIcon, verify.FirstVisible()).WithTimeout(o.FilterTimeout).
			Named("missing images show the placeholder icon"),
	}
}

func uiAnalysis(o Options) []verify.Step {
	steps := make([]verify.Step, 0, 10)
	for _, card := range []string{"Total Productos", "Valor Total", "Stock Total"} {
		steps = append(steps, verify.Expect(models.Text(card, models.MatchSubstring), verify.AnyVisible()).
			WithTimeout(o.FilterTimeout).Named(fmt.Sprintf("stats card %q shown", card)))
	}
	firstPrice := models.CSS("tbody tr:first-child " + priceCell)
	steps = append(steps,
		verify.Expect(firstPrice, verify.All(verify.EachContainsText("$"), verify.NoneContainsText("€"))).
			WithTimeout(o.FilterTimeout).Named("prices are in dollars"),
		verify.Expect(amounts, verify.All(verify.EachContainsText("$"), verify.NoneContainsText("€"))).
			WithTimeout(o.FilterTimeout).Named("stats and prices are in dollars"),
		verify.Expect(models.Text("Anterior", models.MatchExact), verify.CountAtLeast(1)).WithTimeout(o.FilterTimeout),
		verify.Expect(models.Text("Siguiente", models.MatchExact), verify.CountAtLeast(1)).WithTimeout(o.FilterTimeout),
		verify.Expect(pageIndicator, verify.AnyVisible()).WithTimeout(o.FilterTimeout).
			Named("page indicator shown"),
		verify.SelectOption(pageSizeBox, "50").WithSettle(o.Debounce),
		verify.Expect(pageSizeBox, verify.AttributeEquals("value", "50")).WithTimeout(o.FilterTimeout),
	)
	return steps
}

// filtered waits for the table to settle on rows satisfying cond
func (o Options) filtered(cond verify.Condition) verify.Step {
	return verify.Expect(rows, cond).WithTimeout(o.FilterTimeout).WithStability(o.Stability)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
