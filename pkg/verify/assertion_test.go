package verify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/verify"
)

func newAsserter(t *testing.T, markup string) *verify.Asserter {
	t.Helper()
	return verify.NewAsserter(verify.NewLocator(mustParse(t, markup)), verify.NewPoller(10*time.Millisecond))
}

func TestExpectPasses(t *testing.T) {
	a := newAsserter(t, loadedTable)
	err := a.Expect(context.Background(), models.CSS("tbody tr"), verify.EachContainsText("uno"), time.Second)
	assert.NoError(t, err)
}

func TestExpectReportsNotFound(t *testing.T) {
	a := newAsserter(t, emptyTable)

	err := a.Expect(context.Background(), models.CSS("tbody tr"), verify.FirstVisible(), 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, models.ErrorNotFound, verify.KindOf(err))
	assert.ErrorIs(t, err, verify.ErrNotFound)
	assert.NotErrorIs(t, err, verify.ErrTimeout)

	msg := err.Error()
	assert.Contains(t, msg, "css=tbody tr")
	assert.Contains(t, msg, "first element visible")
	assert.Contains(t, msg, "count=0")
}

func TestExpectReportsLastObservation(t *testing.T) {
	a := newAsserter(t, loadedTable)

	err := a.Expect(context.Background(), models.CSS("tbody tr"), verify.EachContainsText("Aretes calavera"), 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, models.ErrorTimeout, verify.KindOf(err))
	assert.Contains(t, err.Error(), `every element text contains "Aretes calavera"`)
	assert.Contains(t, err.Error(), `count=1, last text "uno"`)
}

func TestConditions(t *testing.T) {
	const markup = `<html><body><table><tbody>
<tr><td>1</td><td>Aretes</td><td><span>$0.50</span></td><td><span>3 pzas</span></td></tr>
<tr><td>2</td><td>Aretes calavera</td><td><span>$1.50</span></td><td><span>7 pzas</span></td></tr>
<tr hidden><td>3</td><td>Collar</td><td><span>$2.50</span></td><td><span>12 pzas</span></td></tr>
</tbody></table><select name="size"><option value="10">10</option><option value="50" selected>50</option></select></body></html>`
	loc := verify.NewLocator(mustParse(t, markup))
	ctx := context.Background()
	rows := models.CSS("tbody tr")

	tests := []struct {
		name  string
		query models.Query
		cond  verify.Condition
		holds bool
	}{
		{"count at least", rows, verify.CountAtLeast(3), true},
		{"count equals", rows, verify.CountEquals(2), false},
		{"first visible", rows, verify.FirstVisible(), true},
		{"each contains", rows, verify.EachContainsText("Aretes"), false},
		{"none contains", rows, verify.NoneContainsText("€"), true},
		{"prices in range", rows, verify.EachNumberWithin("td:nth-child(3) span", verify.ParseDecimal, 0, 3), true},
		{"prices out of range", rows, verify.EachNumberWithin("td:nth-child(3) span", verify.ParseDecimal, 1, 2), false},
		{"quantities", rows, verify.EachNumberWithin("td:nth-child(4) span", verify.ParseFirstInt, 3, 12), true},
		{"hidden row", models.CSS("tr[hidden]"), verify.AnyVisible(), false},
		{"select value", models.CSS("select"), verify.AttributeEquals("value", "50"), true},
		{"all", rows, verify.All(verify.CountAtLeast(1), verify.EachContainsText("pzas")), true},
		{"all short-circuits", rows, verify.All(verify.CountEquals(0), verify.EachContainsText("pzas")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			els, err := loc.Resolve(ctx, tt.query)
			require.NoError(t, err)
			obs, err := tt.cond.Check(ctx, els)
			require.NoError(t, err)
			assert.Equal(t, tt.holds, obs.Holds, obs.String())
		})
	}
}

func TestConditionsOnEmptySetDoNotHold(t *testing.T) {
	ctx := context.Background()
	for _, cond := range []verify.Condition{
		verify.FirstVisible(),
		verify.AnyVisible(),
		verify.EachContainsText("x"),
		verify.EachNumberWithin("span", verify.ParseDecimal, 0, 1),
		verify.AttributeEquals("value", "x"),
	} {
		obs, err := cond.Check(ctx, nil)
		require.NoError(t, err)
		assert.False(t, obs.Holds, cond.Name)
	}
}

func TestNumberParsers(t *testing.T) {
	n, err := verify.ParseDecimal("MX$1.50")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, n, 1e-9)

	n, err = verify.ParseFirstInt("7 unidades de 12")
	require.NoError(t, err)
	assert.Equal(t, 7.0, n)

	_, err = verify.ParseFirstInt("agotado")
	assert.Error(t, err)

	_, err = verify.ParseDecimal("sin precio")
	assert.Error(t, err)
}
