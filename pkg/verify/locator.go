package verify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"dev/bravebird/uiverify/pkg/models"
)

// Locator resolves declarative queries against a scope. It holds the page
// root so label "for" references can be followed outside the scope.
type Locator struct {
	root  Page
	scope Scope
}

// NewLocator creates a locator over the whole page
func NewLocator(page Page) *Locator {
	return &Locator{root: page, scope: page}
}

// Within returns a locator restricted to descendants of el
func (l *Locator) Within(el Element) *Locator {
	return &Locator{root: l.root, scope: el}
}

// Resolve returns the elements currently matching q. Zero matches is not an
// error; errors are reserved for an unusable page or an invalid query.
func (l *Locator) Resolve(ctx context.Context, q models.Query) ([]Element, error) {
	var (
		els []Element
		err error
	)

	switch q.Kind {
	case models.QueryCSS:
		els, err = l.scope.Elements(ctx, q.Value)
	case models.QueryText:
		if err = validatePattern(q); err == nil {
			els, err = l.scope.ElementsByText(ctx, TextMatch{Value: q.Value, Mode: q.MatchMode()})
		}
	case models.QueryPlaceholder:
		els, err = l.byAttribute(ctx, "placeholder", q)
	case models.QueryAttribute:
		if q.Attr == "" {
			return nil, fmt.Errorf("%w: %s has no attribute name", ErrInvalidQuery, q)
		}
		els, err = l.byAttribute(ctx, q.Attr, q)
	case models.QueryLabel:
		els, err = l.byLabel(ctx, q)
	default:
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrInvalidQuery, q.Kind)
	}

	if err != nil {
		return nil, err
	}
	if els == nil {
		els = []Element{}
	}
	return els, nil
}

func (l *Locator) byAttribute(ctx context.Context, attr string, q models.Query) ([]Element, error) {
	switch q.MatchMode() {
	case models.MatchSubstring:
		return l.scope.Elements(ctx, attributeSelector(attr, "*=", q.Value))
	case models.MatchPattern:
		re, err := regexp.Compile(q.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern in %s: %v", ErrInvalidQuery, q, err)
		}
		candidates, err := l.scope.Elements(ctx, "["+attr+"]")
		if err != nil {
			return nil, err
		}
		var out []Element
		for _, el := range candidates {
			v, ok, err := el.Attribute(ctx, attr)
			if err != nil {
				return nil, err
			}
			if ok && re.MatchString(v) {
				out = append(out, el)
			}
		}
		return out, nil
	default:
		return l.scope.Elements(ctx, attributeSelector(attr, "=", q.Value))
	}
}

// byLabel follows <label for=...>, then controls nested in the label, and
// falls back to aria-label when no <label> matched.
func (l *Locator) byLabel(ctx context.Context, q models.Query) ([]Element, error) {
	if err := validatePattern(q); err != nil {
		return nil, err
	}
	match := TextMatch{Value: q.Value, Mode: q.MatchMode()}

	labels, err := l.scope.Elements(ctx, "label")
	if err != nil {
		return nil, err
	}

	var out []Element
	for _, label := range labels {
		text, err := label.Text(ctx)
		if err != nil {
			return nil, err
		}
		if !match.Matches(text) {
			continue
		}
		if id, ok, err := label.Attribute(ctx, "for"); err != nil {
			return nil, err
		} else if ok && id != "" {
			targets, err := l.root.Elements(ctx, attributeSelector("id", "=", id))
			if err != nil {
				return nil, err
			}
			out = append(out, targets...)
			continue
		}
		nested, err := label.Elements(ctx, "input, select, textarea")
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	if len(out) > 0 {
		return out, nil
	}

	aria := q
	aria.Kind = models.QueryAttribute
	return l.byAttribute(ctx, "aria-label", aria)
}

func validatePattern(q models.Query) error {
	if q.MatchMode() != models.MatchPattern {
		return nil
	}
	if _, err := regexp.Compile(q.Value); err != nil {
		return fmt.Errorf("%w: pattern in %s: %v", ErrInvalidQuery, q, err)
	}
	return nil
}

// attributeSelector builds [attr op "value"] with the value quoted for CSS.
func attributeSelector(attr, op, value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return fmt.Sprintf(`[%s%s"%s"]`, attr, op, escaped)
}
