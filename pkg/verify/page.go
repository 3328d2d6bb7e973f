package verify

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"dev/bravebird/uiverify/pkg/models"
)

// Scope is anything elements can be looked up under: the page or an element.
// Lookups return an empty slice when nothing matches.
type Scope interface {
	// Elements returns the elements matching a CSS selector.
	Elements(ctx context.Context, css string) ([]Element, error)

	// ElementsByText returns the deepest elements whose text satisfies m.
	ElementsByText(ctx context.Context, m TextMatch) ([]Element, error)
}

// Element is a handle to a DOM node. It is only valid until the page mutates;
// afterwards methods may return ErrStaleElement.
type Element interface {
	Scope

	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
	Visible(ctx context.Context) (bool, error)

	// Fill replaces the current value of an editable element.
	Fill(ctx context.Context, text string) error
	// Clear empties an editable element.
	Clear(ctx context.Context) error
	// SelectOption selects the <option> whose value (or label) is value.
	SelectOption(ctx context.Context, value string) error

	// String describes the element for diagnostics, e.g. <input name="minQuantity">.
	String() string
}

// Page is the live document under verification. Implementations are supplied
// by the browser automation layer (see pkg/browser and pkg/htmlpage).
type Page interface {
	Scope

	Navigate(ctx context.Context, url string) error
	// Snapshot captures a visual (or markup) artifact of the current state.
	Snapshot(ctx context.Context) ([]byte, error)
	URL() string
}

// PageFactory opens an isolated page for one scenario. release frees it.
type PageFactory func(ctx context.Context) (page Page, release func(), err error)

// TextMatch compares element text against a value.
type TextMatch struct {
	Value string
	Mode  models.MatchMode
}

// Matches reports whether s satisfies the match. Both sides are NFC-normalized
// and whitespace is collapsed; comparison is case-sensitive.
func (m TextMatch) Matches(s string) bool {
	s = NormalizeText(s)
	switch m.Mode {
	case models.MatchSubstring:
		return strings.Contains(s, NormalizeText(m.Value))
	case models.MatchPattern:
		re, err := regexp.Compile(m.Value)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	default:
		return s == NormalizeText(m.Value)
	}
}

// NormalizeText collapses runs of whitespace and applies Unicode NFC.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
