package verify_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/verify"
)

func sampleResults() []models.ScenarioResult {
	return []models.ScenarioResult{
		{
			Scenario: "initial-load",
			Status:   models.ScenarioCompleted,
			Outcomes: []models.StepOutcome{
				{Index: 0, Name: "navigate to http://localhost:8080/", Kind: models.StepAction, Status: models.StepSuccess},
				{Index: 1, Name: "product table has rows", Kind: models.StepAssertion, Status: models.StepSuccess},
			},
			ArtifactPath: "verification/verification-initial-load.png",
		},
		{
			Scenario: "price-filter",
			Status:   models.ScenarioFailed,
			Reason:   models.ErrorNotFound,
			Outcomes: []models.StepOutcome{
				{Index: 0, Name: "navigate to http://localhost:8080/", Kind: models.StepAction, Status: models.StepSuccess},
				{
					Index:     1,
					Name:      `fill placeholder="Min" with "1"`,
					Kind:      models.StepAction,
					Status:    models.StepFailure,
					ErrorKind: models.ErrorNotFound,
					Query:     `placeholder="Min"`,
					Observed:  "count=0",
					Message:   `NotFound: query placeholder="Min", observed count=0`,
				},
			},
			Truncated: true,
			Skipped:   2,
		},
	}
}

func TestReportText(t *testing.T) {
	var buf bytes.Buffer
	report := verify.Report{Results: sampleResults()}
	require.NoError(t, report.WriteText(&buf))
	assert.False(t, report.Passed())

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "report", buf.Bytes())
}

func TestReportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, verify.Report{Results: sampleResults()}.WriteJSON(&buf))

	var decoded struct {
		Status  models.RunStatus        `json:"status"`
		Results []models.ScenarioResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, models.RunFailed, decoded.Status)
	require.Len(t, decoded.Results, 2)
	assert.Equal(t, models.ErrorNotFound, decoded.Results[1].Outcomes[1].ErrorKind)
	assert.Equal(t, 2, decoded.Results[1].Skipped)
}
