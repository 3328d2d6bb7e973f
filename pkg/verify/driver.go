package verify

import (
	"context"
	"fmt"
	"strings"

	"dev/bravebird/uiverify/pkg/models"
)

// Driver performs state-changing operations on single elements. It does not
// wait for the application to react; scenarios poll for downstream effects.
type Driver struct {
	page    Page
	locator *Locator

	// Strict fails with AmbiguousMatch when a query resolves to more than one
	// element. When false the first match is used.
	Strict bool
}

// NewDriver creates a strict driver
func NewDriver(page Page, loc *Locator) *Driver {
	return &Driver{page: page, locator: loc, Strict: true}
}

// Navigate loads url in the page
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.page.Navigate(ctx, url); err != nil {
		return &StepError{Kind: navigateKind(ctx, err), Err: fmt.Errorf("navigate %s: %w", url, err)}
	}
	return nil
}

// Fill replaces the value of the element matched by q
func (d *Driver) Fill(ctx context.Context, q models.Query, text string) error {
	return d.with(ctx, q, "fill", func(el Element) error { return el.Fill(ctx, text) })
}

// Clear empties the element matched by q. Clearing an empty field is a no-op.
func (d *Driver) Clear(ctx context.Context, q models.Query) error {
	return d.with(ctx, q, "clear", func(el Element) error { return el.Clear(ctx) })
}

// SelectOption selects value in the <select> matched by q
func (d *Driver) SelectOption(ctx context.Context, q models.Query, value string) error {
	return d.with(ctx, q, "select option", func(el Element) error { return el.SelectOption(ctx, value) })
}

// resolveOne resolves q to exactly one element
func (d *Driver) resolveOne(ctx context.Context, q models.Query) (Element, error) {
	els, err := d.locator.Resolve(ctx, q)
	if err != nil {
		return nil, &StepError{Kind: KindOf(err), Query: q, Err: err}
	}
	switch {
	case len(els) == 0:
		return nil, &StepError{Kind: models.ErrorNotFound, Query: q, Observed: "count=0", Err: ErrNotFound}
	case len(els) > 1 && d.Strict:
		names := make([]string, 0, len(els))
		for _, el := range els {
			names = append(names, el.String())
		}
		return nil, &StepError{
			Kind:     models.ErrorAmbiguousMatch,
			Query:    q,
			Observed: fmt.Sprintf("count=%d: %s", len(els), clip(strings.Join(names, ", "))),
			Err:      ErrAmbiguousMatch,
		}
	}
	return els[0], nil
}

func (d *Driver) with(ctx context.Context, q models.Query, verb string, fn func(Element) error) error {
	el, err := d.resolveOne(ctx, q)
	if err != nil {
		return err
	}
	if err := fn(el); err != nil {
		kind := KindOf(err)
		if kind == models.ErrorTimeout && ctx.Err() == nil {
			kind = models.ErrorAction
		}
		return &StepError{Kind: kind, Query: q, Observed: el.String(), Err: fmt.Errorf("%s: %w", verb, err)}
	}
	return nil
}

func navigateKind(ctx context.Context, err error) models.ErrorKind {
	if ctx.Err() != nil {
		return contextKind(ctx)
	}
	if kind := KindOf(err); kind != models.ErrorAction {
		return kind
	}
	return models.ErrorTargetUnreachable
}
