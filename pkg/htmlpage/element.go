package htmlpage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dev/bravebird/uiverify/pkg/verify"
)

var (
	errNotEditable   = errors.New("element is not an editable control")
	errNotSelect     = errors.New("element is not a <select>")
	errHidden        = errors.New("element is not visible")
	errDisabled      = errors.New("element is disabled")
	errNoStateKey    = errors.New("control has neither name nor id")
	errOptionMissing = errors.New("no such option")
)

// Element is a verify.Element over one parsed node. It goes stale when the
// document is re-rendered with different markup.
type Element struct {
	doc *Document
	sel *goquery.Selection
	gen uint64
}

var _ verify.Element = (*Element)(nil)

func (e *Element) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	if e.gen != e.doc.gen {
		e.doc.mu.Unlock()
		return verify.ErrStaleElement
	}
	return nil
}

func (e *Element) unlock() { e.doc.mu.Unlock() }

// Elements returns descendants matching css
func (e *Element) Elements(ctx context.Context, css string) ([]verify.Element, error) {
	m, err := compile(css)
	if err != nil {
		return nil, err
	}
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.unlock()
	return e.doc.wrap(e.sel.FindMatcher(m)), nil
}

// ElementsByText returns the deepest descendants whose text matches
func (e *Element) ElementsByText(ctx context.Context, m verify.TextMatch) ([]verify.Element, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.unlock()
	return e.doc.wrap(deepestMatching(e.sel, m)), nil
}

// Text returns the element's text content
func (e *Element) Text(ctx context.Context) (string, error) {
	if err := e.lock(ctx); err != nil {
		return "", err
	}
	defer e.unlock()
	return e.sel.Text(), nil
}

// Attribute returns an attribute value and whether it is present. For form
// controls "value" reports the live value, as a browser property would.
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := e.lock(ctx); err != nil {
		return "", false, err
	}
	defer e.unlock()
	if name == "value" {
		switch goquery.NodeName(e.sel) {
		case "input", "textarea":
			return e.currentLocked(), true, nil
		case "select":
			return selectedOption(e.sel), true, nil
		}
	}
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

// Visible reports whether neither the element nor an ancestor is hidden
func (e *Element) Visible(ctx context.Context) (bool, error) {
	if err := e.lock(ctx); err != nil {
		return false, err
	}
	defer e.unlock()
	return visible(e.sel), nil
}

// Fill sets the control's value
func (e *Element) Fill(ctx context.Context, text string) error {
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()
	if err := e.editable("input", "textarea"); err != nil {
		return err
	}
	if t, _ := e.sel.Attr("type"); isNonText(t) {
		return fmt.Errorf("%w: input type %q", errNotEditable, t)
	}
	return e.setLocked(text)
}

// Clear empties the control. An already empty control is left untouched.
func (e *Element) Clear(ctx context.Context) error {
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()
	if err := e.editable("input", "textarea"); err != nil {
		return err
	}
	if e.currentLocked() == "" {
		return nil
	}
	return e.setLocked("")
}

// SelectOption picks the option whose value, or failing that whose label, is value
func (e *Element) SelectOption(ctx context.Context, value string) error {
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()
	if err := e.editable("select"); err != nil {
		if errors.Is(err, errNotEditable) {
			return errNotSelect
		}
		return err
	}

	var chosen string
	found := false
	e.sel.Find("option").EachWithBreak(func(_ int, o *goquery.Selection) bool {
		v, ok := o.Attr("value")
		if !ok {
			v = o.Text()
		}
		if v == value || verify.NormalizeText(o.Text()) == verify.NormalizeText(value) {
			chosen, found = v, true
		}
		return !found
	})
	if !found {
		return fmt.Errorf("%w: %q", errOptionMissing, value)
	}
	return e.setLocked(chosen)
}

func (e *Element) editable(tags ...string) error {
	tag := goquery.NodeName(e.sel)
	if !slices.Contains(tags, tag) {
		return fmt.Errorf("%w: <%s>", errNotEditable, tag)
	}
	if _, disabled := e.sel.Attr("disabled"); disabled {
		return errDisabled
	}
	if _, ro := e.sel.Attr("readonly"); ro && tag != "select" {
		return fmt.Errorf("%w: readonly", errNotEditable)
	}
	if !visible(e.sel) {
		return errHidden
	}
	return nil
}

// currentLocked returns the control's value as the app sees it
func (e *Element) currentLocked() string {
	if key := stateKey(e.sel); key != "" {
		if vs, ok := e.doc.form[key]; ok && len(vs) > 0 {
			return vs[0]
		}
	}
	if goquery.NodeName(e.sel) == "textarea" {
		return e.sel.Text()
	}
	v, _ := e.sel.Attr("value")
	return v
}

// setLocked stores value and re-renders. Static documents are edited in place.
func (e *Element) setLocked(value string) error {
	d := e.doc
	if d.app == nil {
		if goquery.NodeName(e.sel) == "textarea" {
			e.sel.SetText(value)
		} else if goquery.NodeName(e.sel) == "select" {
			e.sel.Find("option").RemoveAttr("selected")
			e.sel.Find("option").FilterFunction(func(_ int, o *goquery.Selection) bool {
				v, _ := o.Attr("value")
				return v == value
			}).SetAttr("selected", "selected")
		} else {
			e.sel.SetAttr("value", value)
		}
		if key := stateKey(e.sel); key != "" {
			d.form.Set(key, value)
		}
		return nil
	}

	key := stateKey(e.sel)
	if key == "" {
		return errNoStateKey
	}
	d.form.Set(key, value)
	return d.renderLocked()
}

// String describes the element, e.g. <input name="minQuantity">
func (e *Element) String() string {
	tag := goquery.NodeName(e.sel)
	for _, attr := range []string{"id", "name", "placeholder", "aria-label", "class"} {
		if v, ok := e.sel.Attr(attr); ok && v != "" {
			return fmt.Sprintf("<%s %s=%q>", tag, attr, v)
		}
	}
	if text := verify.NormalizeText(e.sel.Text()); text != "" {
		if r := []rune(text); len(r) > 30 {
			text = string(r[:30]) + "…"
		}
		return fmt.Sprintf("<%s>%s", tag, text)
	}
	return "<" + tag + ">"
}

// selectedOption returns the chosen option's value, defaulting to the first
func selectedOption(s *goquery.Selection) string {
	opt := s.Find("option[selected]").First()
	if opt.Length() == 0 {
		opt = s.Find("option").First()
	}
	if v, ok := opt.Attr("value"); ok {
		return v
	}
	return opt.Text()
}

func stateKey(s *goquery.Selection) string {
	if name, ok := s.Attr("name"); ok && name != "" {
		return name
	}
	if id, ok := s.Attr("id"); ok && id != "" {
		return id
	}
	return ""
}

func isNonText(inputType string) bool {
	switch strings.ToLower(inputType) {
	case "checkbox", "radio", "submit", "button", "reset", "file", "image", "hidden":
		return true
	}
	return false
}

// visible walks up from s looking for anything that hides it
func visible(s *goquery.Selection) bool {
	if s.Closest("head").Length() > 0 {
		return false
	}
	if goquery.NodeName(s) == "input" {
		if t, _ := s.Attr("type"); strings.EqualFold(t, "hidden") {
			return false
		}
	}
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if _, hidden := cur.Attr("hidden"); hidden {
			return false
		}
		if style, ok := cur.Attr("style"); ok && hiddenStyle(style) {
			return false
		}
	}
	return true
}

func hiddenStyle(style string) bool {
	compact := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(compact, "display:none") || strings.Contains(compact, "visibility:hidden")
}
