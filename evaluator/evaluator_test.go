package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykhaliev/agent-scenario-runner/client"
	"github.com/mykhaliev/agent-scenario-runner/model"
)

func informTurn(text string) *client.TurnResult {
	return &client.TurnResult{
		Messages: []client.AgentMessage{{Type: "Inform", Text: text, IsContentSafe: true}},
	}
}

func expect(pairs ...interface{}) model.ExpectationMap {
	m := model.ExpectationMap{Values: map[string]interface{}{}}
	for i := 0; i+1 < len(pairs); i += 2 {
		key := pairs[i].(string)
		m.Keys = append(m.Keys, key)
		m.Values[key] = pairs[i+1]
	}
	return m
}

func TestEvaluateTurnCounts(t *testing.T) {
	turn := informTurn("Your order 12345 has shipped and is on its way.")
	eval := EvaluateTurn(turn, expect(
		"response_not_empty", true,
		"response_contains", "shipped",
		"response_not_contains", "refund",
	), nil)

	assert.Equal(t, 3, eval.TotalChecks)
	assert.Equal(t, 3, eval.PassCount)
	assert.Zero(t, eval.FailCount)
	assert.True(t, eval.Passed)
}

func TestEvaluateTurnOrderPreserved(t *testing.T) {
	turn := informTurn("hello there")
	eval := EvaluateTurn(turn, expect(
		"response_length_max", 5,
		"response_not_empty", true,
		"topic_contains", "hello",
	), nil)

	require.Len(t, eval.Checks, 3)
	assert.Equal(t, "response_length_max", eval.Checks[0].Name)
	assert.Equal(t, "response_not_empty", eval.Checks[1].Name)
	assert.Equal(t, "topic_contains", eval.Checks[2].Name)
	assert.False(t, eval.Passed)
	assert.Equal(t, 2, eval.PassCount)
	assert.Equal(t, 1, eval.FailCount)
}

func TestResponseContains(t *testing.T) {
	turn := informTurn("I can help you track your Order today.")

	eval := EvaluateTurn(turn, expect("response_contains", "order"), nil)
	assert.True(t, eval.Passed, "matching is case-insensitive")

	eval = EvaluateTurn(turn, expect("response_contains", "refund"), nil)
	assert.False(t, eval.Passed)
}

func TestResponseContainsRejectsBool(t *testing.T) {
	turn := informTurn("anything")
	eval := EvaluateTurn(turn, expect("response_contains", true), nil)
	require.False(t, eval.Passed)
	assert.Contains(t, eval.Checks[0].Detail, "expects a string, got bool")
}

func TestResponseContainsAny(t *testing.T) {
	turn := informTurn("Let me check the shipping status for you.")

	eval := EvaluateTurn(turn, expect("response_contains_any", []interface{}{"refund", "shipping"}), nil)
	require.True(t, eval.Passed)
	assert.Equal(t, []string{"shipping"}, eval.Checks[0].Actual)

	eval = EvaluateTurn(turn, expect("response_contains_any", []interface{}{"refund", "return"}), nil)
	assert.False(t, eval.Passed)
}

func TestResponseNotContains(t *testing.T) {
	turn := informTurn("Here is the public status of your case.")

	eval := EvaluateTurn(turn, expect("response_not_contains", "password"), nil)
	assert.True(t, eval.Passed)

	eval = EvaluateTurn(turn, expect("response_not_contains", "status"), nil)
	assert.False(t, eval.Passed)
}

func TestTopicContainsWordBoundary(t *testing.T) {
	// "cancellation" must not satisfy a word-boundary match for "cancel".
	turn := informTurn("I see you want to discuss the cancellation policy.")
	eval := EvaluateTurn(turn, expect("topic_contains", "cancel"), nil)
	assert.False(t, eval.Passed)

	turn = informTurn("I can cancel that order for you.")
	eval = EvaluateTurn(turn, expect("topic_contains", "cancel"), nil)
	assert.True(t, eval.Passed)
}

func TestEscalationTriggered(t *testing.T) {
	byType := &client.TurnResult{Messages: []client.AgentMessage{
		{Type: "Escalation", Text: "Transferring."},
	}}
	eval := EvaluateTurn(byType, expect("escalation_triggered", true), nil)
	assert.True(t, eval.Passed)

	byText := informTurn("Let me connect you with a specialist who can help.")
	eval = EvaluateTurn(byText, expect("escalation_triggered", true), nil)
	assert.True(t, eval.Passed, "escalation language counts even without an Escalation message")

	plain := informTurn("Your order has shipped.")
	eval = EvaluateTurn(plain, expect("escalation_triggered", false), nil)
	assert.True(t, eval.Passed)
}

func TestGuardrailTriggered(t *testing.T) {
	declined := informTurn("I'm sorry, but I cannot share that confidential information.")
	eval := EvaluateTurn(declined, expect("guardrail_triggered", true), nil)
	assert.True(t, eval.Passed)

	normal := informTurn("Sure, your order total is $42.")
	eval = EvaluateTurn(normal, expect("guardrail_triggered", true), nil)
	assert.False(t, eval.Passed)
}

func TestActionInvoked(t *testing.T) {
	withResult := &client.TurnResult{
		Messages: []client.AgentMessage{{
			Type:   "Inform",
			Text:   "Found it.",
			Result: []interface{}{map[string]interface{}{"status": "Shipped"}},
		}},
		RawResponse: map[string]interface{}{
			"messages": []interface{}{map[string]interface{}{"actionName": "Get_Order_Status"}},
		},
	}

	eval := EvaluateTurn(withResult, expect("action_invoked", true), nil)
	assert.True(t, eval.Passed)

	eval = EvaluateTurn(withResult, expect("action_invoked", "Get_Order_Status"), nil)
	assert.True(t, eval.Passed)

	eval = EvaluateTurn(withResult, expect("action_invoked", "Create_Case"), nil)
	require.False(t, eval.Passed)
	assert.Contains(t, eval.Checks[0].Detail, "not found in response")

	noResult := informTurn("I could not look that up.")
	eval = EvaluateTurn(noResult, expect("action_invoked", "Get_Order_Status"), nil)
	require.False(t, eval.Passed)
	assert.Contains(t, eval.Checks[0].Detail, "No action result")
}

func TestTurnElapsedMax(t *testing.T) {
	turn := informTurn("fast")
	turn.ElapsedMs = 1500

	eval := EvaluateTurn(turn, expect("turn_elapsed_max", 2000), nil)
	assert.True(t, eval.Passed)

	eval = EvaluateTurn(turn, expect("turn_elapsed_max", 1000), nil)
	require.False(t, eval.Passed)
	assert.Contains(t, eval.Checks[0].Detail, "EXCEEDED")
}

func TestNoReAskFor(t *testing.T) {
	reAsking := informTurn("Could you please provide your email address again?")
	eval := EvaluateTurn(reAsking, expect("no_re_ask_for", "email"), nil)
	assert.False(t, eval.Passed)

	using := informTurn("I've sent the confirmation to the email on file.")
	eval = EvaluateTurn(using, expect("no_re_ask_for", "email"), nil)
	assert.True(t, eval.Passed)
}

func TestResponseReferencesBoth(t *testing.T) {
	turn := informTurn("Comparing order 12345 with case 00987 now.")

	eval := EvaluateTurn(turn, expect("response_references_both", []interface{}{"12345", "00987"}), nil)
	assert.True(t, eval.Passed)

	eval = EvaluateTurn(turn, expect("response_references_both", []interface{}{"12345", "55555"}), nil)
	require.False(t, eval.Passed)
	assert.Contains(t, eval.Checks[0].Detail, "55555")
}

func TestContextRetained(t *testing.T) {
	confused := informTurn("Could you remind me again which order you meant?")
	eval := EvaluateTurn(confused, expect("context_retained", true), nil)
	assert.False(t, eval.Passed)

	retained := informTurn("As we discussed, your order arrives Tuesday.")
	eval = EvaluateTurn(retained, expect("context_retained", true), nil)
	assert.True(t, eval.Passed)
}

func TestActionUsesPriorOutput(t *testing.T) {
	firstTurn := informTurn("Which account should I use?")
	eval := EvaluateTurn(firstTurn, expect("action_uses_prior_output", true), nil)
	assert.True(t, eval.Passed, "first turn always passes")

	prior := []*client.TurnResult{informTurn("Found account Acme Corp.")}
	reAsking := informTurn("Which account did you mean?")
	eval = EvaluateTurn(reAsking, expect("action_uses_prior_output", true), prior)
	assert.False(t, eval.Passed)
}

func TestResponseMatchesRegex(t *testing.T) {
	turn := informTurn("Your case number is 00123456.")

	eval := EvaluateTurn(turn, expect("response_matches_regex", `\d{8}`), nil)
	assert.True(t, eval.Passed)

	eval = EvaluateTurn(turn, expect("response_matches_regex", `[invalid`), nil)
	require.False(t, eval.Passed)
	assert.Contains(t, eval.Checks[0].Detail, "Invalid regex")
}

func TestResponseLengthBounds(t *testing.T) {
	turn := informTurn("  twelve chars  ")

	eval := EvaluateTurn(turn, expect("response_length_min", 5), nil)
	assert.True(t, eval.Passed)

	eval = EvaluateTurn(turn, expect("response_length_min", 50), nil)
	assert.False(t, eval.Passed)

	eval = EvaluateTurn(turn, expect("response_length_max", 50), nil)
	assert.True(t, eval.Passed)

	eval = EvaluateTurn(turn, expect("response_length_max", 5), nil)
	assert.False(t, eval.Passed)
}

func TestActionResultContains(t *testing.T) {
	turn := &client.TurnResult{
		Messages: []client.AgentMessage{{
			Type:   "Inform",
			Text:   "done",
			Result: []interface{}{map[string]interface{}{"status": "Shipped", "trackingId": "TRK-99"}},
		}},
	}

	eval := EvaluateTurn(turn, expect("action_result_contains", "shipped"), nil)
	assert.True(t, eval.Passed)

	eval = EvaluateTurn(turn, expect("action_result_contains", "cancelled"), nil)
	assert.False(t, eval.Passed)

	empty := informTurn("no actions ran")
	eval = EvaluateTurn(empty, expect("action_result_contains", "shipped"), nil)
	require.False(t, eval.Passed)
	assert.Contains(t, eval.Checks[0].Detail, "No action results")
}

func TestActionResultPath(t *testing.T) {
	turn := &client.TurnResult{
		Messages: []client.AgentMessage{{
			Type: "Inform",
			Result: []interface{}{map[string]interface{}{
				"order": map[string]interface{}{"status": "Shipped"},
			}},
		}},
	}

	eval := EvaluateTurn(turn, expect("action_result_path", "$.order.status"), nil)
	require.True(t, eval.Passed)
	assert.Equal(t, "Shipped", eval.Checks[0].Actual)

	eval = EvaluateTurn(turn, expect("action_result_path", "$.order.missing"), nil)
	assert.False(t, eval.Passed)
}

func TestUnknownCheckPasses(t *testing.T) {
	turn := informTurn("anything")
	eval := EvaluateTurn(turn, expect("response_sentiment_positive", true), nil)
	require.True(t, eval.Passed)
	assert.Contains(t, eval.Checks[0].Detail, "Unknown check")
}

func TestExtractVariableKeyword(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"$Context.AccountId", "account"},
		{"$Context.EndUserLanguage", "end"},
		{"CaseId", "case"},
		{"Verified_Check", "verified"},
		{"Id", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, extractVariableKeyword(tt.input), tt.input)
	}
}

func TestInferFailureCategory(t *testing.T) {
	assert.Equal(t, CategoryTopicRouting, InferFailureCategory("topic_contains"))
	assert.Equal(t, CategoryContext, InferFailureCategory("no_re_ask_for"))
	assert.Equal(t, CategoryActionChain, InferFailureCategory("action_result_path"))
	assert.Empty(t, InferFailureCategory("response_contains_any"))
}

func TestSuggestFix(t *testing.T) {
	assert.Contains(t, SuggestFix(CategoryActionNotInvoked), "action description")
	assert.Equal(t, "Review agent configuration for this failure type", SuggestFix("SOMETHING_NEW"))
}

func TestResponseNotEmptyIgnoresEscalation(t *testing.T) {
	escalationOnly := &client.TurnResult{Messages: []client.AgentMessage{
		{Type: "Escalation", Text: "Transferring you to an agent now."},
	}}

	eval := EvaluateTurn(escalationOnly, expect("response_not_empty", true), nil)
	assert.False(t, eval.Passed, "escalation boilerplate alone is not a response")

	eval = EvaluateTurn(escalationOnly, expect("response_not_empty", false), nil)
	assert.True(t, eval.Passed)
}
