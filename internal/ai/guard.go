package ai

import "regexp"

// GuardCategory is one class of sensitive data the prompt guard scans for.
type GuardCategory string

const (
	CategorySSN        GuardCategory = "Ssn"
	CategoryCreditCard GuardCategory = "CreditCard"
	CategoryPhoneNumber GuardCategory = "PhoneNumber"
	CategoryEmail      GuardCategory = "Email"
	CategoryCaSin      GuardCategory = "CaSin" // Canadian Social Insurance Number
)

// GuardAction is what a matched category triggers.
type GuardAction string

const (
	ActionMask   GuardAction = "mask"
	ActionReject GuardAction = "reject"
)

// GuardRule pairs a category with the action to take when it matches.
type GuardRule struct {
	Category GuardCategory
	Action   GuardAction
}

var categoryPatterns = map[GuardCategory]*regexp.Regexp{
	CategorySSN:         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	CategoryCreditCard:  regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
	CategoryPhoneNumber: regexp.MustCompile(`\b\+?1?[-. ]?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`),
	CategoryEmail:       regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`),
	CategoryCaSin:       regexp.MustCompile(`\b\d{3}[ -]\d{3}[ -]\d{3}\b`),
}

// Violation records one guard match for the telemetry record.
type Violation struct {
	Category GuardCategory
	Action   GuardAction
}

// Apply scans text against rules, masking or flagging matches. Returns the
// (possibly redacted) text, the violations found, and whether any Reject rule
// matched (the caller should deny the request with 403 in that case).
func Apply(rules []GuardRule, text string) (result string, violations []Violation, rejected bool) {
	result = text
	for _, rule := range rules {
		pattern, ok := categoryPatterns[rule.Category]
		if !ok {
			continue
		}
		if !pattern.MatchString(result) {
			continue
		}
		violations = append(violations, Violation{Category: rule.Category, Action: rule.Action})
		switch rule.Action {
		case ActionReject:
			rejected = true
		case ActionMask:
			result = pattern.ReplaceAllString(result, "["+string(rule.Category)+"-REDACTED]")
		}
	}
	return result, violations, rejected
}

// EnrichmentSpec prepends/appends fixed messages to a chat request body, e.g. a
// system prompt injected by policy.
type EnrichmentSpec struct {
	PrependMessages []Message
	AppendMessages  []Message
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
