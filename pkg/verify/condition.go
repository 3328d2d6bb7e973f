package verify

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"dev/bravebird/uiverify/pkg/models"
)

// Observation is what a condition saw in one snapshot of resolved elements.
type Observation struct {
	Holds bool
	Count int
	State string // Last value read, for failure messages
}

// String renders the observation for reports
func (o Observation) String() string {
	if o.State == "" {
		return fmt.Sprintf("count=%d", o.Count)
	}
	return fmt.Sprintf("count=%d, %s", o.Count, o.State)
}

// Condition is a read-only predicate over a snapshot of resolved elements.
type Condition struct {
	Name  string
	Check func(ctx context.Context, els []Element) (Observation, error)
}

// CountAtLeast holds when at least n elements resolved
func CountAtLeast(n int) Condition {
	return Condition{
		Name: fmt.Sprintf("count >= %d", n),
		Check: func(_ context.Context, els []Element) (Observation, error) {
			return Observation{Holds: len(els) >= n, Count: len(els)}, nil
		},
	}
}

// CountEquals holds when exactly n elements resolved
func CountEquals(n int) Condition {
	return Condition{
		Name: fmt.Sprintf("count == %d", n),
		Check: func(_ context.Context, els []Element) (Observation, error) {
			return Observation{Holds: len(els) == n, Count: len(els)}, nil
		},
	}
}

// FirstVisible holds when the first resolved element is visible
func FirstVisible() Condition {
	return Condition{
		Name: "first element visible",
		Check: func(ctx context.Context, els []Element) (Observation, error) {
			obs := Observation{Count: len(els)}
			if len(els) == 0 {
				return obs, nil
			}
			visible, err := els[0].Visible(ctx)
			if err != nil {
				return obs, err
			}
			obs.Holds = visible
			if !visible {
				obs.State = fmt.Sprintf("%s hidden", els[0])
			}
			return obs, nil
		},
	}
}

// AnyVisible holds when at least one resolved element is visible
func AnyVisible() Condition {
	return Condition{
		Name: "any element visible",
		Check: func(ctx context.Context, els []Element) (Observation, error) {
			obs := Observation{Count: len(els)}
			for _, el := range els {
				visible, err := el.Visible(ctx)
				if err != nil {
					return obs, err
				}
				if visible {
					obs.Holds = true
					return obs, nil
				}
			}
			if len(els) > 0 {
				obs.State = "all hidden"
			}
			return obs, nil
		},
	}
}

// EachContainsText holds when there is at least one element and every
// element's text contains substr.
func EachContainsText(substr string) Condition {
	want := TextMatch{Value: substr, Mode: models.MatchSubstring}
	return Condition{
		Name: fmt.Sprintf("every element text contains %q", substr),
		Check: func(ctx context.Context, els []Element) (Observation, error) {
			obs := Observation{Count: len(els)}
			for _, el := range els {
				text, err := el.Text(ctx)
				if err != nil {
					return obs, err
				}
				if !want.Matches(text) {
					obs.State = fmt.Sprintf("last text %q", clip(NormalizeText(text)))
					return obs, nil
				}
			}
			obs.Holds = len(els) > 0
			return obs, nil
		},
	}
}

// NoneContainsText holds when no element's text contains substr.
func NoneContainsText(substr string) Condition {
	want := TextMatch{Value: substr, Mode: models.MatchSubstring}
	return Condition{
		Name: fmt.Sprintf("no element text contains %q", substr),
		Check: func(ctx context.Context, els []Element) (Observation, error) {
			obs := Observation{Count: len(els), Holds: true}
			for _, el := range els {
				text, err := el.Text(ctx)
				if err != nil {
					return obs, err
				}
				if want.Matches(text) {
					obs.Holds = false
					obs.State = fmt.Sprintf("last text %q", clip(NormalizeText(text)))
					return obs, nil
				}
			}
			return obs, nil
		},
	}
}

// AttributeEquals holds when the first element has attr set to value
func AttributeEquals(attr, value string) Condition {
	return Condition{
		Name: fmt.Sprintf("first element %s == %q", attr, value),
		Check: func(ctx context.Context, els []Element) (Observation, error) {
			obs := Observation{Count: len(els)}
			if len(els) == 0 {
				return obs, nil
			}
			got, ok, err := els[0].Attribute(ctx, attr)
			if err != nil {
				return obs, err
			}
			obs.Holds = ok && got == value
			obs.State = fmt.Sprintf("%s=%q", attr, got)
			return obs, nil
		},
	}
}

// NumberParser extracts a number from cell text
type NumberParser func(text string) (float64, error)

var (
	nonDecimal = regexp.MustCompile(`[^\d.]`)
	firstInt   = regexp.MustCompile(`\d+`)
)

// ParseDecimal strips everything but digits and dots, so "MX$1.50" -> 1.5
func ParseDecimal(text string) (float64, error) {
	return strconv.ParseFloat(nonDecimal.ReplaceAllString(text, ""), 64)
}

// ParseFirstInt returns the first run of digits, so "7 unidades" -> 7
func ParseFirstInt(text string) (float64, error) {
	m := firstInt.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("no integer in %q", text)
	}
	n, err := strconv.Atoi(m)
	return float64(n), err
}

// EachNumberWithin holds when there is at least one element and, for every
// element, the number parsed from its cellCSS descendant lies in [lo, hi].
func EachNumberWithin(cellCSS string, parse NumberParser, lo, hi float64) Condition {
	return Condition{
		Name: fmt.Sprintf("every %s within [%g, %g]", cellCSS, lo, hi),
		Check: func(ctx context.Context, els []Element) (Observation, error) {
			obs := Observation{Count: len(els)}
			for _, el := range els {
				cells, err := el.Elements(ctx, cellCSS)
				if err != nil {
					return obs, err
				}
				if len(cells) == 0 {
					obs.State = fmt.Sprintf("%s has no %s", el, cellCSS)
					return obs, nil
				}
				text, err := cells[0].Text(ctx)
				if err != nil {
					return obs, err
				}
				n, err := parse(text)
				if err != nil {
					obs.State = fmt.Sprintf("unparseable %q", clip(text))
					return obs, nil
				}
				obs.State = fmt.Sprintf("last value %g", n)
				if n < lo || n > hi {
					return obs, nil
				}
			}
			obs.Holds = len(els) > 0
			return obs, nil
		},
	}
}

// All holds when every condition holds on the same snapshot. Evaluation stops
// at the first condition that does not hold.
func All(conds ...Condition) Condition {
	names := make([]string, len(conds))
	for i, c := range conds {
		names[i] = c.Name
	}
	return Condition{
		Name: strings.Join(names, " and "),
		Check: func(ctx context.Context, els []Element) (Observation, error) {
			obs := Observation{Count: len(els), Holds: true}
			for _, c := range conds {
				o, err := c.Check(ctx, els)
				if err != nil {
					return o, err
				}
				if !o.Holds {
					if o.State == "" {
						o.State = "unmet: " + c.Name
					}
					return o, nil
				}
				if o.State != "" {
					obs.State = o.State
				}
			}
			return obs, nil
		},
	}
}

func clip(s string) string {
	const limit = 80
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
