package verify_test

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dev/bravebird/uiverify/pkg/htmlpage"
	"dev/bravebird/uiverify/pkg/models"
)

const appURL = "http://app.test/"

func mustParse(t *testing.T, markup string) *htmlpage.Document {
	t.Helper()
	doc, err := htmlpage.Parse(markup)
	require.NoError(t, err)
	return doc
}

func open(t *testing.T, app htmlpage.App) *htmlpage.Document {
	t.Helper()
	doc := htmlpage.New(app)
	require.NoError(t, doc.Navigate(context.Background(), appURL))
	return doc
}

// delayedApp renders before until delay has passed since its first render
func delayedApp(delay time.Duration, before, after string) htmlpage.App {
	var (
		once  sync.Once
		start time.Time
	)
	return htmlpage.AppFunc(func(*url.URL, url.Values) (string, error) {
		once.Do(func() { start = time.Now() })
		if time.Since(start) >= delay {
			return after, nil
		}
		return before, nil
	})
}

// formApp echoes the "q" field and offers a few controls to act on
func formApp() htmlpage.App {
	return htmlpage.AppFunc(func(_ *url.URL, form url.Values) (string, error) {
		q := html.EscapeString(form.Get("q"))
		size := form.Get("size")
		return fmt.Sprintf(`<html><body>
<input name="q" placeholder="Buscar" value="%s">
<input name="a" placeholder="Min">
<input name="b" placeholder="Min">
<select name="size"><option value="10">10</option><option value="100"%s>100</option></select>
<p id="echo">echo:%s</p>
<div id="plain">x</div>
</body></html>`, q, selectedIf(size == "100"), q), nil
	})
}

func selectedIf(ok bool) string {
	if ok {
		return " selected"
	}
	return ""
}

// flakyApp serves markup until down is set, then fails every render
func flakyApp(markup string, down *atomic.Bool) htmlpage.App {
	return htmlpage.AppFunc(func(*url.URL, url.Values) (string, error) {
		if down.Load() {
			return "", fmt.Errorf("connection reset")
		}
		return markup, nil
	})
}

type countingObserver struct {
	attempts atomic.Int32
	holds    atomic.Int32
}

func (c *countingObserver) PollAttempt(holds bool) {
	c.attempts.Add(1)
	if holds {
		c.holds.Add(1)
	}
}

type recordingHooks struct {
	mu       sync.Mutex
	steps    []models.StepOutcome
	finished []models.ScenarioResult
}

func (h *recordingHooks) StepFinished(_ string, o models.StepOutcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.steps = append(h.steps, o)
}

func (h *recordingHooks) ScenarioFinished(r models.ScenarioResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, r)
}
