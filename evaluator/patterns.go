package evaluator

import "regexp"

func compileAll(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// guardrailPatterns detect the agent declining a request.
var guardrailPatterns = compileAll([]string{
	`(?i)i\s*(?:can(?:'t|not)|am\s+(?:not\s+)?(?:able|allowed))\s+(?:to\s+)?(?:help|assist|provide|share|do\s+that)`,
	`(?i)(?:sorry|apologies?)[\s,]+(?:but\s+)?i\s+(?:can(?:'t|not))`,
	`(?i)(?:not\s+)?(?:able|allowed|permitted)\s+to\s+(?:provide|share|disclose|give)`,
	`(?i)(?:against|violates?)\s+(?:my|our|the)\s+(?:policy|policies|guidelines|rules)`,
	`(?i)(?:sensitive|confidential|private)\s+(?:information|data)`,
	`(?i)i\s+(?:must|need\s+to)\s+(?:decline|refuse|respectfully)`,
})

// escalationPatterns detect the agent handing off to a human.
var escalationPatterns = compileAll([]string{
	`(?i)(?:connect|transfer|escalat)\w*\s+(?:you\s+)?(?:to|with)\s+(?:a\s+)?(?:human|agent|specialist|representative|someone|person|team)`,
	`(?i)(?:let\s+me\s+)?(?:get|find)\s+(?:you\s+)?(?:a\s+)?(?:human|real\s+person|specialist|agent)`,
	`(?i)(?:hand|pass)\w*\s+(?:you\s+)?(?:off|over)\s+to`,
})

var acknowledgePatterns = compileAll([]string{
	`(?i)(?:instead|sure|of\s+course|no\s+problem|let\s+me|I'?ll)`,
	`(?i)(?:change|switch|update|rather|reschedule)`,
})

var offersHelpPatterns = compileAll([]string{
	`(?i)(?:help|assist|can\s+I|would\s+you\s+like|let\s+me|try|here)`,
})

var alternativePatterns = compileAll([]string{
	`(?i)(?:alternatively|another\s+option|you\s+(?:could|can)\s+also|try|instead|otherwise|how\s+about)`,
})

var errorAckPatterns = compileAll([]string{
	`(?i)(?:sorry|apologize|error|issue|problem|unfortunately|went\s+wrong)`,
})

var confusionPatterns = compileAll([]string{
	`(?i)I\s+don'?t\s+have\s+(?:that|this)\s+information`,
	`(?i)(?:could|can)\s+you\s+(?:please\s+)?(?:remind|tell)\s+me\s+again`,
	`(?i)I'?m\s+not\s+(?:sure|aware)\s+(?:what|which)`,
})

var resolvedPatterns = compileAll([]string{
	`(?i)(?:anything\s+else|is\s+there\s+anything|glad\s+I\s+could|happy\s+to\s+help)`,
	`(?i)(?:done|complete|resolved|taken\s+care\s+of|all\s+set)`,
})

var declinePatterns = compileAll([]string{
	`(?i)(?:I'?m\s+)?(?:not\s+(?:able|equipped)|(?:can(?:'t|not))\s+(?:help|assist|provide))`,
	`(?i)(?:outside|beyond)\s+(?:my|the)\s+(?:scope|area|capabilities)`,
	`(?i)(?:focus|specialize)\s+(?:on|in)\s+(?:other|different)`,
})

var priorOutputReAskPatterns = compileAll([]string{
	`(?i)which\s+(?:account|record|order|contact|case)`,
	`(?i)(?:could|can)\s+you\s+(?:provide|specify|tell\s+me)`,
})

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// reAskPatterns builds the two re-ask shapes around a keyword.
func reAskPatterns(keyword string) []*regexp.Regexp {
	quoted := regexp.QuoteMeta(keyword)
	return compileAll([]string{
		`(?i)(?:what|which|could\s+you\s+(?:please\s+)?(?:provide|give|tell)).*` + quoted,
		`(?i)(?:can\s+you|please)\s+(?:provide|share|give|tell).*` + quoted,
	})
}
