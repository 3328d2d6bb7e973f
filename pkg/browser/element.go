package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"

	"dev/bravebird/uiverify/pkg/verify"
)

var (
	errNotEditable   = errors.New("element is not a text input")
	errOptionMissing = errors.New("no option with that value or label")
)

// textNodesJS lists every element under this (excluding this itself) with its
// text and the index of its parent in the same list, -1 for the root.
const textNodesJS = `function () {
	const skip = new Set(["SCRIPT", "STYLE", "TEMPLATE", "NOSCRIPT"]);
	const nodes = [];
	const index = new Map();
	const walk = (el, parent) => {
		for (const child of el.children) {
			if (skip.has(child.tagName)) continue;
			index.set(child, nodes.length);
			nodes.push({ text: child.innerText ?? child.textContent ?? "", parent });
			walk(child, index.get(child));
		}
	};
	walk(this, -1);
	return nodes;
}`

// pickNodesJS returns the elements at the given indexes of the textNodesJS walk
const pickNodesJS = `function (wanted) {
	const skip = new Set(["SCRIPT", "STYLE", "TEMPLATE", "NOSCRIPT"]);
	const nodes = [];
	const walk = (el) => {
		for (const child of el.children) {
			if (skip.has(child.tagName)) continue;
			nodes.push(child);
			walk(child);
		}
	};
	walk(this);
	return wanted.map((i) => nodes[i]).filter(Boolean);
}`

// setValueJS assigns through the native setter so framework-controlled inputs
// observe the change, then fires input and change.
const setValueJS = `function (value) {
	const proto = this instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	Object.getOwnPropertyDescriptor(proto, "value").set.call(this, value);
	this.dispatchEvent(new Event("input", { bubbles: true }));
	this.dispatchEvent(new Event("change", { bubbles: true }));
}`

const editableJS = `function () {
	if (this.disabled || this.readOnly) return false;
	if (this.tagName === "TEXTAREA") return true;
	if (this.tagName !== "INPUT") return false;
	return !["checkbox", "radio", "button", "submit", "reset", "file", "image", "hidden", "range", "color"].includes(this.type);
}`

type textNode struct {
	Text   string `json:"text"`
	Parent int    `json:"parent"`
}

// Element is a verify.Element over a rod element
type Element struct {
	el *rod.Element
}

var _ verify.Element = (*Element)(nil)

func wrapAll(els rod.Elements) []verify.Element {
	out := make([]verify.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{el: el})
	}
	return out
}

// Elements returns the descendants matching css
func (e *Element) Elements(ctx context.Context, css string) ([]verify.Element, error) {
	els, err := e.el.Context(ctx).Elements(css)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return wrapAll(els), nil
}

// ElementsByText searches the element's descendants
func (e *Element) ElementsByText(ctx context.Context, m verify.TextMatch) ([]verify.Element, error) {
	return searchText(ctx, e.el, m)
}

// searchText walks root in one round trip, keeps the deepest elements whose
// text matches, then fetches just those handles in a second one.
func searchText(ctx context.Context, root *rod.Element, m verify.TextMatch) ([]verify.Element, error) {
	el := root.Context(ctx)
	res, err := el.Eval(textNodesJS)
	if err != nil {
		return nil, classify(ctx, err)
	}
	var nodes []textNode
	if err := res.Value.Unmarshal(&nodes); err != nil {
		return nil, fmt.Errorf("failed to decode text nodes: %w", err)
	}

	wanted := deepestMatches(nodes, m)
	if len(wanted) == 0 {
		return nil, nil
	}

	els, err := el.ElementsByJS(rod.Eval(pickNodesJS, wanted))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(els) != len(wanted) {
		// The DOM changed between the two calls.
		return nil, verify.ErrStaleElement
	}
	return wrapAll(els), nil
}

// deepestMatches returns the indexes of matching nodes that have no matching
// descendant. Parents always precede their children in nodes.
func deepestMatches(nodes []textNode, m verify.TextMatch) []int {
	matched := make([]bool, len(nodes))
	shadowed := make([]bool, len(nodes))
	for i, n := range nodes {
		if !m.Matches(n.Text) {
			continue
		}
		matched[i] = true
		for p := n.Parent; p >= 0 && !shadowed[p]; p = nodes[p].Parent {
			shadowed[p] = true
		}
	}

	var out []int
	for i := range nodes {
		if matched[i] && !shadowed[i] {
			out = append(out, i)
		}
	}
	return out
}

// Text returns the rendered text
func (e *Element) Text(ctx context.Context) (string, error) {
	s, err := e.el.Context(ctx).Text()
	if err != nil {
		return "", classify(ctx, err)
	}
	return s, nil
}

// Attribute returns an attribute. "value" reads the live property, which is
// what the user sees in a form control.
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	el := e.el.Context(ctx)
	if name == "value" {
		v, err := el.Property("value")
		if err != nil {
			return "", false, classify(ctx, err)
		}
		if v.Nil() {
			return "", false, nil
		}
		return v.Str(), true, nil
	}

	v, err := el.Attribute(name)
	if err != nil {
		return "", false, classify(ctx, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// Visible reports whether the element has a visible box
func (e *Element) Visible(ctx context.Context) (bool, error) {
	v, err := e.el.Context(ctx).Visible()
	if err != nil {
		return false, classify(ctx, err)
	}
	return v, nil
}

// Fill selects the current text and types over it
func (e *Element) Fill(ctx context.Context, text string) error {
	if text == "" {
		return e.Clear(ctx)
	}
	if err := e.editable(ctx); err != nil {
		return err
	}
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return classify(ctx, err)
	}
	if err := el.Input(text); err != nil {
		return classify(ctx, err)
	}
	return nil
}

// Clear empties the control. An already empty control is left untouched.
func (e *Element) Clear(ctx context.Context) error {
	if err := e.editable(ctx); err != nil {
		return err
	}
	current, _, err := e.Attribute(ctx, "value")
	if err != nil {
		return err
	}
	if current == "" {
		return nil
	}
	if _, err := e.el.Context(ctx).Eval(setValueJS, ""); err != nil {
		return classify(ctx, err)
	}
	return nil
}

// SelectOption picks an <option> by value, falling back to its label
func (e *Element) SelectOption(ctx context.Context, value string) error {
	el := e.el.Context(ctx)
	byValue := fmt.Sprintf(`option[value=%q]`, value)
	err := el.Select([]string{byValue}, true, rod.SelectorTypeCSSSector)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return classify(ctx, err)
	}
	if err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
		return fmt.Errorf("%w: %q", errOptionMissing, value)
	}
	return nil
}

func (e *Element) editable(ctx context.Context) error {
	res, err := e.el.Context(ctx).Eval(editableJS)
	if err != nil {
		return classify(ctx, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: %s", errNotEditable, e)
	}
	return nil
}

// String describes the element by tag and its most identifying attribute
func (e *Element) String() string {
	desc, err := e.el.Describe(0, false)
	if err != nil || desc == nil {
		return "<element>"
	}
	tag := strings.ToLower(desc.LocalName)
	attrs := map[string]string{}
	for i := 0; i+1 < len(desc.Attributes); i += 2 {
		attrs[desc.Attributes[i]] = desc.Attributes[i+1]
	}
	for _, key := range []string{"id", "name", "placeholder", "aria-label", "class"} {
		if v := attrs[key]; v != "" {
			return fmt.Sprintf("<%s %s=%q>", tag, key, v)
		}
	}
	return "<" + tag + ">"
}
