// Package runner executes scenario documents against a live agent and
// aggregates the results into a suite report.
package runner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/life4/genesis/slices"

	"github.com/mykhaliev/agent-scenario-runner/client"
	"github.com/mykhaliev/agent-scenario-runner/evaluator"
	"github.com/mykhaliev/agent-scenario-runner/logger"
	"github.com/mykhaliev/agent-scenario-runner/model"
	"github.com/mykhaliev/agent-scenario-runner/templates"
)

// Options carries the run-level knobs resolved from CLI flags and the
// scenario document's settings block.
type Options struct {
	AgentID         string
	ScenarioFile    string
	Filter          string
	GlobalVariables []model.Variable
	TurnRetry       int
	Parallel        int
}

// FilterScenarios keeps scenarios whose name contains the pattern,
// case-insensitive. An empty pattern keeps everything.
func FilterScenarios(scenarios []model.Scenario, pattern string) []model.Scenario {
	if pattern == "" {
		return scenarios
	}
	return slices.Filter(scenarios, func(s model.Scenario) bool {
		return containsFold(s.Name, pattern)
	})
}

// CreateTemplateContext builds the rendering context for scenario templates
// from the process environment plus document-level variables. Document
// variables win on collision.
func CreateTemplateContext(docVars map[string]string) map[string]string {
	ctx := model.GetAllEnv()
	for k, v := range docVars {
		ctx[k] = v
	}
	return ctx
}

// ExecuteScenario drives one scenario through a fresh session: start, send
// each turn, evaluate, end. A session-start failure or a panic marks the
// scenario as an error; turn and check failures mark it failed. Nothing
// escapes the scenario boundary, so one bad scenario never takes down its
// siblings on the worker pool.
func ExecuteScenario(ctx context.Context, c *client.Client, sc model.Scenario, opts Options, templateCtx map[string]string) (result model.ScenarioResult) {
	defer func() {
		if r := recover(); r != nil {
			result.Status = model.StatusError
			result.Error = fmt.Sprintf("panic: %v", r)
			logger.Logger.Error("Scenario panicked", "scenario", sc.Name, "panic", r)
		}
	}()

	result = model.ScenarioResult{
		Name:        sc.Name,
		Description: sc.Description,
		Pattern:     sc.Pattern,
		Priority:    sc.Priority,
		Status:      model.StatusError,
		Turns:       []model.TurnRecord{},
		TotalTurns:  len(sc.Turns),
	}

	variables := model.MergeVariables(sc.SessionVariables, opts.GlobalVariables)
	logger.Logger.Info("Running scenario", "name", sc.Name, "turns", len(sc.Turns), "variables", len(variables))

	start := time.Now()
	sess, err := c.StartSession(ctx, opts.AgentID, renderVariables(variables, templateCtx))
	if err != nil {
		result.Error = err.Error()
		logger.Logger.Error("Failed to start session", "scenario", sc.Name, "error", err)
		return result
	}
	defer func() {
		if endErr := sess.End(context.WithoutCancel(ctx), "UserRequest"); endErr != nil {
			logger.Logger.Warn("Failed to end session", "sessionId", sess.SessionID, "error", endErr)
		}
	}()

	if greeting := sess.InitialGreeting(); greeting != "" {
		logger.Logger.Debug("Agent greeting", "scenario", sc.Name, "text", greeting)
	}

	var prior []*client.TurnResult
	for i, spec := range sc.Turns {
		userMessage := model.RenderTemplate(spec.User, templateCtx)

		// The last attempt's turn is evaluated whether it succeeded or not;
		// a turn that stayed broken through its retries just fails its checks.
		turn := sendWithRetry(ctx, sess, userMessage, renderVariables(spec.Variables, templateCtx), opts.TurnRetry)
		if turn.Error != "" {
			logger.Logger.Error("Turn failed", "scenario", sc.Name, "turn", i+1, "error", turn.Error)
		}

		evaluation := evaluator.EvaluateTurn(turn, spec.Expect, prior)
		result.Turns = append(result.Turns, model.TurnRecord{
			TurnNumber:      i + 1,
			UserMessage:     userMessage,
			AgentText:       turn.Text(),
			MessageTypes:    turn.MessageTypes(),
			ElapsedMs:       turn.ElapsedMs,
			HasResponse:     turn.HasResponse(),
			HasEscalation:   turn.HasEscalation(),
			HasActionResult: turn.HasActionResult(),
			ActionResults:   turn.ActionResults(),
			Error:           turn.Error,
			Evaluation:      evaluation,
		})

		if evaluation.Passed {
			result.PassCount++
			logger.Logger.Debug("Turn passed", "scenario", sc.Name, "turn", i+1,
				"checks", fmt.Sprintf("%d/%d", evaluation.PassCount, evaluation.TotalChecks))
		} else {
			result.FailCount++
			for _, check := range evaluation.Checks {
				if !check.Passed {
					logger.Logger.Debug("Check failed", "scenario", sc.Name, "turn", i+1,
						"check", check.Name, "detail", check.Detail)
				}
			}
		}

		prior = append(prior, turn)
	}

	result.ElapsedMs = model.RoundMs(time.Since(start))
	if result.FailCount == 0 {
		result.Status = model.StatusPassed
	} else {
		result.Status = model.StatusFailed
	}
	return result
}

// sendWithRetry retries a turn when the send errors or the returned turn
// carries an error, with linear backoff. The final attempt's turn comes back
// either way so it can be evaluated like any other.
func sendWithRetry(ctx context.Context, sess *client.Session, text string, variables []map[string]interface{}, retries int) *client.TurnResult {
	var turn *client.TurnResult
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		turn, err = sess.Send(ctx, text, variables)
		if err == nil && turn != nil && turn.Error == "" {
			return turn
		}
		if attempt < retries {
			logger.Logger.Warn("Retrying turn", "attempt", attempt+1, "max", retries, "error", err)
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}
	if turn == nil {
		turn = &client.TurnResult{UserMessage: text}
		if err != nil {
			turn.Error = err.Error()
		}
	}
	return turn
}

// RunScenarios executes every scenario in the document and aggregates a
// suite result. With Parallel > 0 and more than one scenario, scenarios run
// on a bounded worker pool; result order follows document order either way.
func RunScenarios(ctx context.Context, c *client.Client, doc *model.ScenarioDocument, opts Options) *model.SuiteResult {
	templates.RegisterHelpers()
	templateCtx := CreateTemplateContext(doc.Variables)

	scenarios := FilterScenarios(doc.Scenarios, opts.Filter)
	results := make([]model.ScenarioResult, len(scenarios))

	start := time.Now()
	if opts.Parallel > 0 && len(scenarios) > 1 {
		workers := opts.Parallel
		if workers > len(scenarios) {
			workers = len(scenarios)
		}
		logger.Logger.Info("Running scenarios in parallel", "count", len(scenarios), "workers", workers)

		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for idx := range jobs {
					results[idx] = ExecuteScenario(ctx, c, scenarios[idx], opts, templateCtx)
				}
			}()
		}
		for idx := range scenarios {
			jobs <- idx
		}
		close(jobs)
		wg.Wait()
	} else {
		logger.Logger.Info("Running scenarios sequentially", "count", len(scenarios))
		for idx, sc := range scenarios {
			results[idx] = ExecuteScenario(ctx, c, sc, opts, templateCtx)
		}
	}

	suite := &model.SuiteResult{
		RunID:           uuid.NewString(),
		AgentID:         opts.AgentID,
		ScenarioFile:    opts.ScenarioFile,
		Timestamp:       time.Now().Format(time.RFC3339),
		TotalElapsedMs:  model.RoundMs(time.Since(start)),
		GlobalVariables: opts.GlobalVariables,
		Scenarios:       results,
	}
	for _, r := range results {
		suite.Summary.TotalScenarios++
		switch r.Status {
		case model.StatusPassed:
			suite.Summary.PassedScenarios++
		case model.StatusFailed:
			suite.Summary.FailedScenarios++
		default:
			suite.Summary.ErrorScenarios++
		}
		suite.Summary.TotalTurns += r.TotalTurns
		suite.Summary.PassedTurns += r.PassCount
		suite.Summary.FailedTurns += r.FailCount
	}
	return suite
}

// ExitCode maps a suite result to the process exit code contract: 0 all
// passed, 1 check failures, 2 scenario errors.
func ExitCode(suite *model.SuiteResult) int {
	switch {
	case suite.Summary.ErrorScenarios > 0:
		return 2
	case suite.Summary.FailedScenarios > 0:
		return 1
	default:
		return 0
	}
}

// renderVariables applies the template context to variable values and
// converts them to the wire shape the session API expects.
func renderVariables(variables []model.Variable, templateCtx map[string]string) []map[string]interface{} {
	if len(variables) == 0 {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(variables))
	for _, v := range variables {
		varType := v.Type
		if varType == "" {
			varType = "Text"
		}
		out = append(out, map[string]interface{}{
			"name":  v.Name,
			"type":  varType,
			"value": model.RenderTemplate(v.Value, templateCtx),
		})
	}
	return out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// ValidateScenarioDocument checks a parsed document is runnable before any
// network traffic happens. Unknown check names only warn: they pass at run
// time, so a typo should surface early without blocking the document.
func ValidateScenarioDocument(doc *model.ScenarioDocument) error {
	if len(doc.Scenarios) == 0 {
		return fmt.Errorf("no scenarios found in document")
	}
	known := map[string]bool{}
	for _, name := range evaluator.KnownChecks() {
		known[name] = true
	}
	for i, sc := range doc.Scenarios {
		if sc.Name == "" {
			return fmt.Errorf("scenario %d has no name", i+1)
		}
		if len(sc.Turns) == 0 {
			return fmt.Errorf("scenario %q has no turns", sc.Name)
		}
		for j, turn := range sc.Turns {
			if turn.User == "" {
				return fmt.Errorf("scenario %q turn %d has no user message", sc.Name, j+1)
			}
			for _, check := range turn.Expect.Keys {
				if !known[check] {
					logger.Logger.Warn("Unknown check in scenario",
						"scenario", sc.Name, "turn", j+1, "check", check)
				}
			}
		}
	}
	return nil
}

// ValidateScenarioFile checks the path exists and is a regular file.
func ValidateScenarioFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("scenario file not found: %s", path)
	}
	if info.IsDir() {
		return fmt.Errorf("scenario path is a directory: %s", path)
	}
	return nil
}
