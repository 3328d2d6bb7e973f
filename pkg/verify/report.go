package verify

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"dev/bravebird/uiverify/pkg/models"
)

// Report renders scenario results for humans or machines
type Report struct {
	Results []models.ScenarioResult

	// Timings adds durations to the text output
	Timings bool
}

// Passed reports whether every scenario completed
func (r Report) Passed() bool {
	return models.RunStatusFor(r.Results) == models.RunPassed
}

// WriteText writes one line per step, marking each pass or failure
func (r Report) WriteText(w io.Writer) error {
	passed := 0
	for _, res := range r.Results {
		if res.Passed() {
			passed++
		}
		if _, err := fmt.Fprintf(w, "%s %s: %s%s\n", mark(res.Passed()), res.Scenario, statusLine(res), r.took(res.Duration)); err != nil {
			return err
		}
		for _, o := range res.Outcomes {
			line := fmt.Sprintf("  %s %d. %s%s", mark(o.Succeeded()), o.Index+1, o.Name, r.took(o.Duration))
			if !o.Succeeded() {
				line += "\n      " + o.Message
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if res.Skipped > 0 {
			if _, err := fmt.Fprintf(w, "  - %d step(s) skipped\n", res.Skipped); err != nil {
				return err
			}
		}
		switch {
		case res.ArtifactPath != "":
			_, err := fmt.Fprintf(w, "  artifact: %s\n", res.ArtifactPath)
			if err != nil {
				return err
			}
		case res.ArtifactError != "":
			_, err := fmt.Fprintf(w, "  artifact not saved: %s\n", res.ArtifactError)
			if err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "\n%d scenario(s): %d passed, %d failed\n", len(r.Results), passed, len(r.Results)-passed)
	return err
}

// WriteJSON writes the results as indented JSON
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Status  models.RunStatus        `json:"status"`
		Results []models.ScenarioResult `json:"results"`
	}{
		Status:  models.RunStatusFor(r.Results),
		Results: r.Results,
	})
}

func (r Report) took(d time.Duration) string {
	if !r.Timings {
		return ""
	}
	return fmt.Sprintf(" (%s)", d.Round(time.Millisecond))
}

func statusLine(res models.ScenarioResult) string {
	if res.Reason == models.ErrorNone {
		return string(res.Status)
	}
	return fmt.Sprintf("%s (%s)", res.Status, res.Reason)
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}
