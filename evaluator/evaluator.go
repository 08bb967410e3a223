// Package evaluator scores agent turns against declarative expectations.
// Checks are heuristics over the agent's visible reply; they never inspect
// agent internals.
package evaluator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/yalp/jsonpath"

	"github.com/mykhaliev/agent-scenario-runner/client"
	"github.com/mykhaliev/agent-scenario-runner/model"
)

// CheckFunc evaluates one expectation against a turn. prior holds every turn
// that completed before this one, for cross-turn context checks.
type CheckFunc func(expected interface{}, turn *client.TurnResult, prior []*client.TurnResult) (passed bool, actual interface{}, detail string)

var registry = map[string]CheckFunc{
	"response_not_empty":           checkResponseNotEmpty,
	"response_contains":            checkResponseContains,
	"response_contains_any":        checkResponseContainsAny,
	"response_not_contains":        checkResponseNotContains,
	"topic_contains":               checkTopicContains,
	"escalation_triggered":         checkEscalationTriggered,
	"guardrail_triggered":          checkGuardrailTriggered,
	"action_invoked":               checkActionInvoked,
	"has_action_result":            checkHasActionResult,
	"turn_elapsed_max":             checkTurnElapsedMax,
	"response_acknowledges_change": checkAcknowledgesChange,
	"response_offers_help":         checkOffersHelp,
	"response_offers_alternative":  checkOffersAlternative,
	"response_acknowledges_error":  checkAcknowledgesError,
	"resumes_normal":               checkResumesNormal,
	"no_re_ask_for":                checkNoReAskFor,
	"response_references":          checkResponseReferences,
	"response_references_both":     checkResponseReferencesBoth,
	"context_retained":             checkContextRetained,
	"context_uses":                 checkContextUses,
	"action_uses_variable":         checkActionUsesVariable,
	"action_uses_prior_output":     checkActionUsesPriorOutput,
	"conversation_resolved":        checkConversationResolved,
	"response_declines_gracefully": checkDeclinesGracefully,
	"response_matches_regex":       checkMatchesRegex,
	"response_length_min":          checkLengthMin,
	"response_length_max":          checkLengthMax,
	"action_result_contains":       checkActionResultContains,
	"action_result_path":           checkActionResultPath,
}

// KnownChecks returns the registered check names, for validation tooling.
func KnownChecks() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// EvaluateTurn runs every expectation against the turn, in the order the
// scenario author wrote them. A check that panics fails that check only.
func EvaluateTurn(turn *client.TurnResult, expectations model.ExpectationMap, prior []*client.TurnResult) model.TurnEvaluation {
	eval := model.TurnEvaluation{}
	for _, name := range expectations.Keys {
		result := runCheck(name, expectations.Values[name], turn, prior)
		eval.Checks = append(eval.Checks, result)
		if result.Passed {
			eval.PassCount++
		} else {
			eval.FailCount++
		}
	}
	eval.TotalChecks = len(eval.Checks)
	eval.Passed = eval.FailCount == 0
	return eval
}

func runCheck(name string, expected interface{}, turn *client.TurnResult, prior []*client.TurnResult) (result model.CheckResult) {
	result = model.CheckResult{Name: name, Expected: expected}
	defer func() {
		if r := recover(); r != nil {
			result.Passed = false
			result.Detail = fmt.Sprintf("Check error: %v", r)
		}
	}()

	fn, ok := registry[name]
	if !ok {
		// Unknown checks pass so older scenario files keep running against
		// newer runners and vice versa.
		result.Passed = true
		result.Detail = fmt.Sprintf("Unknown check '%s' - skipped", name)
		return result
	}

	passed, actual, detail := fn(expected, turn, prior)
	result.Passed = passed
	result.Actual = actual
	result.Detail = detail
	return result
}

func lowerText(turn *client.TurnResult) string {
	return strings.ToLower(turn.Text())
}

func asBool(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func asStrings(v interface{}) []string {
	switch vals := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return vals
	}
	return []string{fmt.Sprint(v)}
}

func checkResponseNotEmpty(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	has := turn.HasResponse()
	detail := "Response has no content"
	if has {
		detail = "Response has content"
	}
	return has == asBool(expected), has, detail
}

func checkResponseContains(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	if _, isBool := expected.(bool); isBool {
		return false, nil, "response_contains expects a string, got bool. Use response_not_empty for boolean checks."
	}
	val := strings.ToLower(fmt.Sprint(expected))
	found := strings.Contains(lowerText(turn), val)
	if found {
		return true, true, fmt.Sprintf("'%v' found in response", expected)
	}
	return false, false, fmt.Sprintf("'%v' not found in response", expected)
}

func checkResponseContainsAny(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	text := lowerText(turn)
	candidates := asStrings(expected)
	found := []string{}
	for _, v := range candidates {
		if strings.Contains(text, strings.ToLower(v)) {
			found = append(found, v)
		}
	}
	if len(found) > 0 {
		return true, found, fmt.Sprintf("Found: %v", found)
	}
	return false, found, fmt.Sprintf("None of %v found", candidates)
}

func checkResponseNotContains(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	val := strings.ToLower(fmt.Sprint(expected))
	found := strings.Contains(lowerText(turn), val)
	if found {
		return false, false, fmt.Sprintf("'%v' found (bad)", expected)
	}
	return true, true, fmt.Sprintf("'%v' absent (good)", expected)
}

func checkTopicContains(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	// The API does not return the routed topic name, so infer it from the
	// reply. Word-boundary matching avoids substring false positives like
	// "cancel" inside "cancellation".
	val := strings.ToLower(fmt.Sprint(expected))
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(val) + `\b`)
	if err != nil {
		return false, nil, fmt.Sprintf("Invalid topic keyword '%v': %v", expected, err)
	}
	found := re.MatchString(lowerText(turn))
	verb := "not found"
	if found {
		verb = "inferred"
	}
	return found, found, fmt.Sprintf("Topic keyword '%v' %s in response (heuristic, word-boundary match)", expected, verb)
}

func checkEscalationTriggered(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	hasEsc := turn.HasEscalation() || matchesAny(turn.Text(), escalationPatterns)
	verb := "not detected"
	if hasEsc {
		verb = "detected"
	}
	detail := fmt.Sprintf("Escalation %s (types: %v)", verb, turn.MessageTypes())
	return hasEsc == asBool(expected), hasEsc, detail
}

func checkGuardrailTriggered(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	declined := matchesAny(turn.Text(), guardrailPatterns)
	verb := "not triggered"
	if declined {
		verb = "triggered"
	}
	return declined == asBool(expected), declined, "Guardrail " + verb
}

func checkActionInvoked(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	hasAction := turn.HasActionResult()
	if _, isBool := expected.(bool); isBool {
		verb := "absent"
		if hasAction {
			verb = "present"
		}
		detail := fmt.Sprintf("Action result %s (expected: %v)", verb, expected)
		return hasAction == asBool(expected), hasAction, detail
	}

	// String form: the action must have run AND its name must appear
	// somewhere in the raw response payload.
	actionName := fmt.Sprint(expected)
	raw, err := sonic.MarshalString(turn.RawResponse)
	if err != nil {
		raw = ""
	}
	nameFound := strings.Contains(strings.ToLower(raw), strings.ToLower(actionName))
	switch {
	case !hasAction:
		return false, false, fmt.Sprintf("No action result (expected action '%s')", actionName)
	case !nameFound:
		return false, false, fmt.Sprintf("Action invoked but '%s' not found in response", actionName)
	default:
		return true, true, fmt.Sprintf("Action '%s' invoked successfully", actionName)
	}
}

func checkHasActionResult(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	has := turn.HasActionResult()
	return has == asBool(expected), has, ""
}

func checkTurnElapsedMax(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	maxMs, ok := asFloat(expected)
	if !ok {
		return false, turn.ElapsedMs, fmt.Sprintf("turn_elapsed_max expects a number, got %T", expected)
	}
	if turn.ElapsedMs <= maxMs {
		return true, turn.ElapsedMs, fmt.Sprintf("Turn took %.0fms (max: %.0fms)", turn.ElapsedMs, maxMs)
	}
	return false, turn.ElapsedMs, fmt.Sprintf("Turn took %.0fms, EXCEEDED max %.0fms", turn.ElapsedMs, maxMs)
}

func checkAcknowledgesChange(_ interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	ack := matchesAny(turn.Text(), acknowledgePatterns)
	if ack {
		return true, true, "Response acknowledges intent change"
	}
	return false, false, "No acknowledgment detected"
}

func checkOffersHelp(_ interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	offers := matchesAny(turn.Text(), offersHelpPatterns)
	if offers {
		return true, true, "Help offered"
	}
	return false, false, "No help offered"
}

func checkOffersAlternative(_ interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	alt := matchesAny(turn.Text(), alternativePatterns)
	if alt {
		return true, true, "Alternative offered"
	}
	return false, false, "No alternative detected"
}

func checkAcknowledgesError(_ interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	ack := matchesAny(turn.Text(), errorAckPatterns)
	if ack {
		return true, true, "Error acknowledged"
	}
	return false, false, "No error acknowledgment"
}

func checkResumesNormal(_ interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	normal := turn.HasResponse() && !matchesAny(turn.Text(), guardrailPatterns)
	if normal {
		return true, true, "Normal conversation resumed"
	}
	return false, false, "Did not resume normally"
}

func checkNoReAskFor(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	keyword := strings.ToLower(fmt.Sprint(expected))
	reAsked := matchesAny(turn.Text(), reAskPatterns(keyword))
	if reAsked {
		return false, false, fmt.Sprintf("Agent RE-ASKED for '%v' (bad)", expected)
	}
	return true, true, fmt.Sprintf("Agent did NOT re-ask for '%v' (good)", expected)
}

func checkResponseReferences(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	val := strings.ToLower(fmt.Sprint(expected))
	found := strings.Contains(lowerText(turn), val)
	verb := "not found"
	if found {
		verb = "found"
	}
	return found, found, fmt.Sprintf("Reference to '%v' %s", expected, verb)
}

func checkResponseReferencesBoth(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	text := lowerText(turn)
	missing := []string{}
	for _, v := range asStrings(expected) {
		if !strings.Contains(text, strings.ToLower(v)) {
			missing = append(missing, v)
		}
	}
	if len(missing) == 0 {
		return true, true, "All references found"
	}
	return false, false, fmt.Sprintf("Missing: %v", missing)
}

func checkContextRetained(_ interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	noConfusion := turn.HasResponse() && !matchesAny(turn.Text(), confusionPatterns)
	if noConfusion {
		return true, true, "Context appears retained"
	}
	return false, false, "Context may be lost"
}

func checkContextUses(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	val := strings.ToLower(fmt.Sprint(expected))
	found := strings.Contains(lowerText(turn), val)
	verb := "not used"
	if found {
		verb = "used"
	}
	return found, found, fmt.Sprintf("Context '%v' %s in response", expected, verb)
}

func checkActionUsesVariable(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	keyword := extractVariableKeyword(fmt.Sprint(expected))
	if keyword == "" {
		// Soft pass when no keyword can be derived from the variable name.
		return true, "cannot_verify", fmt.Sprintf("Variable %v usage cannot be verified from response alone", expected)
	}
	reAsked := matchesAny(turn.Text(), reAskPatterns(keyword))
	if reAsked {
		return false, false, fmt.Sprintf("Agent re-asked for '%s', variable %v may not be used", keyword, expected)
	}
	return true, true, fmt.Sprintf("Variable %v appears used (agent did not re-ask for '%s')", expected, keyword)
}

func checkActionUsesPriorOutput(_ interface{}, turn *client.TurnResult, prior []*client.TurnResult) (bool, interface{}, string) {
	if len(prior) == 0 {
		return true, true, "First turn, no prior output to check"
	}
	reAsked := matchesAny(turn.Text(), priorOutputReAskPatterns)
	if reAsked {
		return false, false, "Agent may have re-asked for prior action data"
	}
	return true, true, "Agent used prior action output (no re-ask)"
}

func checkConversationResolved(_ interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	resolved := matchesAny(turn.Text(), resolvedPatterns)
	if resolved {
		return true, true, "Conversation appears resolved"
	}
	return false, false, "Resolution not detected"
}

func checkDeclinesGracefully(_ interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	declined := matchesAny(turn.Text(), declinePatterns) || matchesAny(turn.Text(), guardrailPatterns)
	if declined {
		return true, true, "Gracefully declined"
	}
	return false, false, "Did not decline"
}

func checkMatchesRegex(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	expr := fmt.Sprint(expected)
	re, err := regexp.Compile(expr)
	if err != nil {
		return false, nil, fmt.Sprintf("Invalid regex '%s': %v", expr, err)
	}
	matched := re.MatchString(turn.Text())
	if matched {
		return true, true, fmt.Sprintf("Regex '%s' matched", expr)
	}
	return false, false, fmt.Sprintf("Regex '%s' did not match", expr)
}

func checkLengthMin(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	minLen, ok := asFloat(expected)
	if !ok {
		return false, nil, fmt.Sprintf("response_length_min expects a number, got %T", expected)
	}
	actual := len(strings.TrimSpace(turn.Text()))
	if float64(actual) >= minLen {
		return true, actual, fmt.Sprintf("Response length %d >= %.0f (min)", actual, minLen)
	}
	return false, actual, fmt.Sprintf("Response length %d < %.0f (min)", actual, minLen)
}

func checkLengthMax(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	maxLen, ok := asFloat(expected)
	if !ok {
		return false, nil, fmt.Sprintf("response_length_max expects a number, got %T", expected)
	}
	actual := len(strings.TrimSpace(turn.Text()))
	if float64(actual) <= maxLen {
		return true, actual, fmt.Sprintf("Response length %d <= %.0f (max)", actual, maxLen)
	}
	return false, actual, fmt.Sprintf("Response length %d > %.0f (max)", actual, maxLen)
}

func checkActionResultContains(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	results := turn.ActionResults()
	if len(results) == 0 {
		return false, false, fmt.Sprintf("No action results to search for '%v'", expected)
	}
	raw, err := sonic.MarshalString(results)
	if err != nil {
		return false, false, fmt.Sprintf("Action results not serializable: %v", err)
	}
	val := strings.ToLower(fmt.Sprint(expected))
	if strings.Contains(strings.ToLower(raw), val) {
		return true, true, fmt.Sprintf("'%v' found in action results", expected)
	}
	return false, false, fmt.Sprintf("'%v' not found in action results", expected)
}

// checkActionResultPath resolves a JSONPath expression against each action
// result payload and passes if any resolves to a non-nil value.
func checkActionResultPath(expected interface{}, turn *client.TurnResult, _ []*client.TurnResult) (bool, interface{}, string) {
	path := fmt.Sprint(expected)
	results := turn.ActionResults()
	if len(results) == 0 {
		return false, nil, fmt.Sprintf("No action results to resolve '%s' against", path)
	}
	for _, result := range results {
		value, err := jsonpath.Read(result, path)
		if err != nil || value == nil {
			continue
		}
		return true, value, fmt.Sprintf("Path '%s' resolved to %v", path, value)
	}
	return false, nil, fmt.Sprintf("Path '%s' did not resolve in any action result", path)
}

// extractVariableKeyword derives a re-ask keyword from a variable name.
// "$Context.AccountId" yields "account", "Verified_Check" yields "verified".
func extractVariableKeyword(name string) string {
	name = strings.ReplaceAll(name, "$Context.", "")
	name = strings.ReplaceAll(name, "$", "")
	parts := splitIdentifier(name)
	for _, p := range parts {
		lower := strings.ToLower(p)
		switch lower {
		case "id", "key", "name", "type", "value", "":
			continue
		}
		return lower
	}
	return ""
}

// splitIdentifier splits on underscores and lower-to-upper camelCase
// boundaries.
func splitIdentifier(name string) []string {
	parts := []string{}
	var current []rune
	var prev rune
	for _, r := range name {
		switch {
		case r == '_':
			parts = append(parts, string(current))
			current = current[:0]
		case r >= 'A' && r <= 'Z' && prev >= 'a' && prev <= 'z':
			parts = append(parts, string(current))
			current = []rune{r}
		default:
			current = append(current, r)
		}
		prev = r
	}
	parts = append(parts, string(current))
	return parts
}
