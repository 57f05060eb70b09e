// Package resilience is the error-handling substrate: classification,
// circuit breaking, graceful degradation, retry with backoff, and error
// aggregation. Every handler failure flows through here before surfacing
// in an execution result.
package resilience

import (
	"regexp"
	"time"
)

// Category buckets an error for retry and reporting decisions.
type Category string

const (
	CategoryValidation       Category = "validation"
	CategoryAuthentication   Category = "authentication"
	CategoryAuthorization    Category = "authorization"
	CategoryNetwork          Category = "network"
	CategoryTimeout          Category = "timeout"
	CategoryRateLimit        Category = "rate-limit"
	CategoryNotFound         Category = "resource-not-found"
	CategoryConflict         Category = "conflict"
	CategoryInternal         Category = "internal"
	CategoryExternalService  Category = "external-service"
	CategoryConfiguration    Category = "configuration"
	CategoryUserInput        Category = "user-input"
	CategoryUnknown          Category = "unknown"
)

// Severity is used for reporting and recommendation thresholds only.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classification is the classifier's verdict for one error message.
type Classification struct {
	Category    Category
	Severity    Severity
	Retryable   bool
	Suggestions []string
}

type rule struct {
	re *regexp.Regexp
	c  Classification
}

// Classifier maps error messages to classifications via an ordered regex
// table. Custom patterns prepend and win over the built-ins.
type Classifier struct {
	rules []rule
}

func NewClassifier() *Classifier {
	c := &Classifier{}
	for _, r := range builtinRules() {
		c.rules = append(c.rules, r)
	}
	return c
}

// AddPattern prepends a custom rule, which takes precedence over every
// existing rule.
func (c *Classifier) AddPattern(pattern string, cls Classification) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	c.rules = append([]rule{{re: re, c: cls}}, c.rules...)
	return nil
}

// Classify returns the first matching rule, or an unknown non-retryable
// classification when nothing matches.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown, Severity: SeverityLow}
	}
	msg := err.Error()
	for _, r := range c.rules {
		if r.re.MatchString(msg) {
			return r.c
		}
	}
	return Classification{Category: CategoryUnknown, Severity: SeverityMedium, Retryable: false}
}

func builtinRules() []rule {
	mk := func(pattern string, cat Category, sev Severity, retryable bool, suggestions ...string) rule {
		return rule{
			re: regexp.MustCompile(pattern),
			c:  Classification{Category: cat, Severity: sev, Retryable: retryable, Suggestions: suggestions},
		}
	}
	return []rule{
		mk(`(?i)guardrail`, CategoryValidation, SeverityHigh, false, "review guardrail policy"),
		mk(`(?i)(validation|invalid (input|field|type)|required field|schema)`, CategoryValidation, SeverityMedium, false, "check input against the skill schema"),
		mk(`(?i)(unauthenticated|authentication|invalid (credentials|token)|api key)`, CategoryAuthentication, SeverityHigh, false, "verify credentials"),
		mk(`(?i)(unauthorized|authorization|permission denied|forbidden)`, CategoryAuthorization, SeverityHigh, false, "verify the agent's permissions"),
		mk(`(?i)(rate.?limit|too many requests|429)`, CategoryRateLimit, SeverityMedium, true, "back off and retry later"),
		mk(`(?i)(timed? ?out|deadline exceeded)`, CategoryTimeout, SeverityMedium, true, "raise the timeout or split the task"),
		mk(`(?i)(connection (refused|reset)|network|dns|no such host|broken pipe|econn)`, CategoryNetwork, SeverityMedium, true, "inspect connectivity"),
		mk(`(?i)(not found|no such|404|missing resource)`, CategoryNotFound, SeverityLow, false),
		mk(`(?i)(conflict|already exists|duplicate|409)`, CategoryConflict, SeverityLow, false),
		mk(`(?i)(bad gateway|service unavailable|upstream|502|503|external service)`, CategoryExternalService, SeverityHigh, true, "check the dependency's status page"),
		mk(`(?i)(misconfigur|configuration|config (missing|invalid))`, CategoryConfiguration, SeverityHigh, false, "review engine configuration"),
		mk(`(?i)(user input|malformed request|bad request|400)`, CategoryUserInput, SeverityLow, false),
		mk(`(?i)(panic|internal error|nil pointer|index out of range)`, CategoryInternal, SeverityCritical, false, "file a bug"),
		mk(`(?i)cancel`, CategoryInternal, SeverityLow, false),
	}
}

// Error is an enhanced error carrying the classifier's verdict.
type Error struct {
	Message     string         `json:"message"`
	Code        string         `json:"code,omitempty"`
	Category    Category       `json:"category"`
	Severity    Severity       `json:"severity"`
	Recoverable bool           `json:"recoverable"`
	Retryable   bool           `json:"retryable"`
	Context     map[string]any `json:"context,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Cause       error          `json:"-"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Cause }

// Enhance wraps err with its classification. Already-enhanced errors pass
// through unchanged.
func (c *Classifier) Enhance(err error, context map[string]any) *Error {
	if err == nil {
		return nil
	}
	if enhanced, ok := err.(*Error); ok {
		return enhanced
	}
	cls := c.Classify(err)
	return &Error{
		Message:     err.Error(),
		Category:    cls.Category,
		Severity:    cls.Severity,
		Recoverable: cls.Retryable,
		Retryable:   cls.Retryable,
		Context:     context,
		Suggestions: cls.Suggestions,
		Cause:       err,
		Timestamp:   time.Now(),
	}
}
