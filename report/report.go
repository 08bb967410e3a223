// Package report renders suite results as a terminal report, a JSON
// artifact, and a machine-readable trailer for fix-loop automation.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/mykhaliev/agent-scenario-runner/evaluator"
	"github.com/mykhaliev/agent-scenario-runner/logger"
	"github.com/mykhaliev/agent-scenario-runner/model"
)

const ruleWidth = 64

var statusIcons = map[model.ScenarioStatus]string{
	model.StatusPassed: "PASS ",
	model.StatusFailed: "FAIL ",
	model.StatusError:  "ERROR",
}

// Print writes the human-readable report for a finished suite.
func Print(w io.Writer, suite *model.SuiteResult) {
	var b strings.Builder

	b.WriteString("\nMULTI-TURN TEST RESULTS\n")
	b.WriteString(strings.Repeat("=", ruleWidth) + "\n\n")
	fmt.Fprintf(&b, "Agent ID:    %s\n", suite.AgentID)
	fmt.Fprintf(&b, "Scenarios:   %s\n", suite.ScenarioFile)
	fmt.Fprintf(&b, "Run ID:      %s\n", suite.RunID)
	fmt.Fprintf(&b, "Timestamp:   %s\n", suite.Timestamp)
	fmt.Fprintf(&b, "Duration:    %.0fms\n\n", suite.TotalElapsedMs)

	b.WriteString("SCENARIO RESULTS\n")
	b.WriteString(strings.Repeat("-", ruleWidth) + "\n")
	for _, s := range suite.Scenarios {
		icon := statusIcons[s.Status]
		if icon == "" {
			icon = "?    "
		}
		fmt.Fprintf(&b, "%s %-40s %d/%d turns passed\n", icon, s.Name, s.PassCount, s.TotalTurns)

		if s.Status == model.StatusFailed {
			for _, t := range s.Turns {
				if t.Evaluation.Passed {
					continue
				}
				for _, c := range t.Evaluation.Checks {
					if !c.Passed {
						fmt.Fprintf(&b, "   '- Turn %d: %s - %s\n", t.TurnNumber, c.Name, c.Detail)
					}
				}
			}
		}
		if s.Status == model.StatusError {
			fmt.Fprintf(&b, "   '- Error: %s\n", s.Error)
		}
	}
	b.WriteString("\n")

	b.WriteString("SUMMARY\n")
	b.WriteString(strings.Repeat("-", ruleWidth) + "\n")
	sum := suite.Summary
	fmt.Fprintf(&b, "Scenarios:        %d total | %d passed | %d failed | %d errors\n",
		sum.TotalScenarios, sum.PassedScenarios, sum.FailedScenarios, sum.ErrorScenarios)
	fmt.Fprintf(&b, "Turns:            %d total | %d passed | %d failed\n",
		sum.TotalTurns, sum.PassedTurns, sum.FailedTurns)
	if sum.TotalTurns > 0 {
		fmt.Fprintf(&b, "Turn Pass Rate:   %.1f%%\n", float64(sum.PassedTurns)/float64(sum.TotalTurns)*100)
	}
	b.WriteString("\n")

	writeFailedTurnDetail(&b, suite)
	writeFixInstructions(&b, suite)

	b.WriteString(strings.Repeat("=", ruleWidth) + "\n\n")
	fmt.Fprint(w, b.String())
}

func writeFailedTurnDetail(b *strings.Builder, suite *model.SuiteResult) {
	type failedTurn struct {
		scenario string
		turn     model.TurnRecord
	}
	var failed []failedTurn
	for _, s := range suite.Scenarios {
		for _, t := range s.Turns {
			if !t.Evaluation.Passed {
				failed = append(failed, failedTurn{s.Name, t})
			}
		}
	}
	if len(failed) == 0 {
		return
	}

	b.WriteString("FAILED TURNS - DETAIL\n")
	b.WriteString(strings.Repeat("-", ruleWidth) + "\n")
	for _, f := range failed {
		fmt.Fprintf(b, "\nFAIL  %s -> Turn %d\n", f.scenario, f.turn.TurnNumber)
		fmt.Fprintf(b, "   Input:    %q\n", truncate(f.turn.UserMessage, 70))
		if f.turn.AgentText != "" {
			fmt.Fprintf(b, "   Response: %q\n", truncate(f.turn.AgentText, 70))
		}
		for _, c := range f.turn.Evaluation.Checks {
			if c.Passed {
				continue
			}
			fmt.Fprintf(b, "   Check:    %s\n", c.Name)
			fmt.Fprintf(b, "   Expected: %v\n", c.Expected)
			fmt.Fprintf(b, "   Actual:   %v\n", c.Actual)
			fmt.Fprintf(b, "   Detail:   %s\n", c.Detail)
			if category := evaluator.InferFailureCategory(c.Name); category != "" {
				fmt.Fprintf(b, "   Category: %s\n", category)
			}
		}
	}
	b.WriteString("\n")
}

// writeFixInstructions emits one fix suggestion per failure category so an
// automated fix loop can act on the report.
func writeFixInstructions(b *strings.Builder, suite *model.SuiteResult) {
	if suite.AllPassed() {
		return
	}

	seen := map[string]bool{}
	var categories []string
	for _, s := range suite.Scenarios {
		for _, t := range s.Turns {
			for _, c := range t.Evaluation.Checks {
				if c.Passed {
					continue
				}
				category := evaluator.InferFailureCategory(c.Name)
				if category != "" && !seen[category] {
					seen[category] = true
					categories = append(categories, category)
				}
			}
		}
	}
	if len(categories) == 0 {
		return
	}

	b.WriteString(strings.Repeat("=", ruleWidth) + "\n")
	b.WriteString("FIX INSTRUCTIONS\n")
	b.WriteString(strings.Repeat("=", ruleWidth) + "\n\n")
	for _, category := range categories {
		fmt.Fprintf(b, "  %s:\n", category)
		fmt.Fprintf(b, "    -> %s\n\n", evaluator.SuggestFix(category))
	}
}

// PrintMachineTrailer emits the machine-readable block parsed by fix-loop
// tooling. Only printed when something failed.
func PrintMachineTrailer(w io.Writer, suite *model.SuiteResult, resultsFile string) {
	if suite.AllPassed() {
		return
	}
	sum := suite.Summary
	fmt.Fprintln(w, "---BEGIN_MACHINE_READABLE---")
	fmt.Fprintln(w, "FIX_NEEDED: true")
	fmt.Fprintf(w, "SCENARIOS_TOTAL: %d\n", sum.TotalScenarios)
	fmt.Fprintf(w, "SCENARIOS_PASSED: %d\n", sum.PassedScenarios)
	fmt.Fprintf(w, "SCENARIOS_FAILED: %d\n", sum.FailedScenarios)
	fmt.Fprintf(w, "SCENARIOS_ERROR: %d\n", sum.ErrorScenarios)
	fmt.Fprintf(w, "TURNS_TOTAL: %d\n", sum.TotalTurns)
	fmt.Fprintf(w, "TURNS_PASSED: %d\n", sum.PassedTurns)
	fmt.Fprintf(w, "TURNS_FAILED: %d\n", sum.FailedTurns)
	if resultsFile != "" {
		fmt.Fprintf(w, "RESULTS_FILE: %s\n", resultsFile)
	}
	fmt.Fprintln(w, "---END_MACHINE_READABLE---")
}

// ToJSON serializes the suite result with stable indentation.
func ToJSON(suite *model.SuiteResult) ([]byte, error) {
	return sonic.ConfigDefault.MarshalIndent(suite, "", "  ")
}

// WriteJSON writes the suite result artifact to a file.
func WriteJSON(suite *model.SuiteResult, path string) error {
	data, err := ToJSON(suite)
	if err != nil {
		return fmt.Errorf("failed to serialize results: %w", err)
	}
	if err := os.WriteFile(path, data, logger.FilePermission); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}
	logger.Logger.Info("Results written", "path", path)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
