package evaluator

// Failure categories group failed checks by the kind of agent configuration
// problem that usually causes them. Reports surface one fix suggestion per
// category so a fix loop can act on them.
const (
	CategoryTopicRouting      = "TOPIC_RE_MATCHING_FAILURE"
	CategoryContext           = "CONTEXT_PRESERVATION_FAILURE"
	CategoryEscalation        = "MULTI_TURN_ESCALATION_FAILURE"
	CategoryGuardrailMissing  = "GUARDRAIL_NOT_TRIGGERED"
	CategoryActionNotInvoked  = "ACTION_NOT_INVOKED"
	CategoryActionChain       = "ACTION_CHAIN_FAILURE"
	CategoryResponseQuality   = "RESPONSE_QUALITY_ISSUE"
	CategoryGuardrailRecovery = "GUARDRAIL_RECOVERY_FAILURE"
)

var failureCategories = map[string]string{
	"topic_contains":               CategoryTopicRouting,
	"response_contains":            CategoryContext,
	"context_retained":             CategoryContext,
	"context_uses":                 CategoryContext,
	"no_re_ask_for":                CategoryContext,
	"response_references":          CategoryContext,
	"response_references_both":     CategoryContext,
	"response_matches_regex":       CategoryContext,
	"escalation_triggered":         CategoryEscalation,
	"guardrail_triggered":          CategoryGuardrailMissing,
	"response_declines_gracefully": CategoryGuardrailMissing,
	"action_invoked":               CategoryActionNotInvoked,
	"action_uses_prior_output":     CategoryActionChain,
	"action_result_contains":       CategoryActionChain,
	"action_result_path":           CategoryActionChain,
	"resumes_normal":               CategoryGuardrailRecovery,
	"response_not_empty":           CategoryResponseQuality,
	"turn_elapsed_max":             CategoryResponseQuality,
	"response_length_min":          CategoryResponseQuality,
	"response_length_max":          CategoryResponseQuality,
}

var fixSuggestions = map[string]string{
	CategoryTopicRouting:      "Add transition phrases to target topic classificationDescription",
	CategoryContext:           "Add 'use context from prior messages' to topic instructions",
	CategoryEscalation:        "Add frustration detection keywords to escalation triggers",
	CategoryGuardrailMissing:  "Add explicit guardrail statements to system instructions",
	CategoryActionNotInvoked:  "Improve action description and trigger conditions",
	CategoryActionChain:       "Verify action output variable mappings between actions",
	CategoryResponseQuality:   "Review agent instructions for completeness",
	CategoryGuardrailRecovery: "Ensure guardrail response doesn't terminate session state",
}

// InferFailureCategory maps a failed check name to its failure category.
// Returns "" for checks with no category.
func InferFailureCategory(checkName string) string {
	return failureCategories[checkName]
}

// SuggestFix returns the remediation hint for a failure category.
func SuggestFix(category string) string {
	if fix, ok := fixSuggestions[category]; ok {
		return fix
	}
	return "Review agent configuration for this failure type"
}
