package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/uiverify/pkg/htmlpage"
	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/verify"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder(nil)

	r.StepFinished("s", models.StepOutcome{Kind: models.StepAction, Status: models.StepSuccess, Duration: 20 * time.Millisecond})
	r.StepFinished("s", models.StepOutcome{Kind: models.StepAssertion, Status: models.StepTimeout, Duration: time.Second})
	r.ScenarioFinished(models.ScenarioResult{Status: models.ScenarioTimedOut})
	r.PollAttempt(false)
	r.PollAttempt(false)
	r.PollAttempt(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.steps.WithLabelValues("action", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.steps.WithLabelValues("assertion", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.scenarios.WithLabelValues("timed_out")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.pollAttempts.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pollAttempts.WithLabelValues("true")))
}

func TestRecorderWiredIntoRunner(t *testing.T) {
	r := NewRecorder(nil)
	doc, err := htmlpage.Parse(`<html><body><table><tbody><tr><td>uno</td></tr></tbody></table></body></html>`)
	require.NoError(t, err)

	runner := verify.NewRunner(verify.RunnerOptions{
		PollInterval: 10 * time.Millisecond,
		Observer:     r,
		Hooks:        r,
	})
	res := runner.Run(context.Background(), doc, verify.Scenario{
		Name: "rows",
		Steps: []verify.Step{
			verify.Expect(models.CSS("tbody tr"), verify.CountEquals(1)),
			verify.Expect(models.CSS("tbody tr"), verify.CountEquals(1)).WithStability(2),
		},
	})
	require.True(t, res.Passed())

	assert.Equal(t, 2.0, testutil.ToFloat64(r.steps.WithLabelValues("assertion", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.scenarios.WithLabelValues("completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.pollAttempts.WithLabelValues("true")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder(nil)
	r.ScenarioFinished(models.ScenarioResult{Status: models.ScenarioCompleted})

	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `uiverify_scenarios_total{status="completed"} 1`), body)
}
