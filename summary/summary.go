// Package summary generates an optional LLM-written executive summary of a
// finished suite run. The evaluator itself never calls a model; this is
// strictly post-processing.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mykhaliev/agent-scenario-runner/evaluator"
	"github.com/mykhaliev/agent-scenario-runner/logger"
	"github.com/mykhaliev/agent-scenario-runner/model"
)

const (
	generationTimeout = 90 * time.Second
	temperature       = 0.2
	maxFailureDetails = 30
)

// Result carries the generated analysis or the reason it is missing. A
// summary failure never fails the run.
type Result struct {
	Success  bool   `json:"success"`
	Analysis string `json:"analysis,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Generate asks the judge LLM for an analysis of the suite result.
func Generate(ctx context.Context, judge llms.Model, suite *model.SuiteResult) Result {
	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	prompt := buildPrompt(suite)
	logger.Logger.Info("Generating AI summary", "prompt_chars", len(prompt))

	analysis, err := llms.GenerateFromSinglePrompt(ctx, judge, prompt,
		llms.WithTemperature(temperature))
	if err != nil {
		logger.Logger.Warn("AI summary generation failed", "error", err)
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Analysis: analysis}
}

// buildPrompt condenses the suite into a compact failure-focused digest so
// large runs stay inside the judge's context window.
func buildPrompt(suite *model.SuiteResult) string {
	var b strings.Builder
	b.WriteString("You are analyzing results of a multi-turn conversational agent test run.\n")
	b.WriteString("Write a concise executive summary in markdown: overall health, dominant failure patterns, and the top 3 recommended fixes.\n\n")

	sum := suite.Summary
	fmt.Fprintf(&b, "Run summary: %d scenarios (%d passed, %d failed, %d errors), %d turns (%d passed, %d failed).\n\n",
		sum.TotalScenarios, sum.PassedScenarios, sum.FailedScenarios, sum.ErrorScenarios,
		sum.TotalTurns, sum.PassedTurns, sum.FailedTurns)

	details := 0
	for _, s := range suite.Scenarios {
		if s.Status == model.StatusError {
			fmt.Fprintf(&b, "Scenario %q errored: %s\n", s.Name, s.Error)
			continue
		}
		if s.Status != model.StatusFailed {
			continue
		}
		for _, t := range s.Turns {
			for _, c := range t.Evaluation.Checks {
				if c.Passed || details >= maxFailureDetails {
					continue
				}
				details++
				category := evaluator.InferFailureCategory(c.Name)
				fmt.Fprintf(&b, "Failure: scenario=%q turn=%d check=%s category=%s detail=%s\n",
					s.Name, t.TurnNumber, c.Name, category, c.Detail)
			}
		}
	}
	if details == 0 && suite.AllPassed() {
		b.WriteString("No failures. Summarize the coverage and suggest gaps worth testing next.\n")
	}
	return b.String()
}
