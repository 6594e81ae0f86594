package validation

import (
	"context"
	"regexp"
	"strings"
)

// SecurityRisk is the classifier's coarse risk bucket for an artifact.
type SecurityRisk string

const (
	SecurityRiskNone SecurityRisk = "none"
	SecurityRiskLow  SecurityRisk = "low"
	SecurityRiskHigh SecurityRisk = "high"
)

// SecurityClassifier flags artifacts that warrant the security veto before
// they ever reach a critic panel, or that a security-focused critic can
// consult to ground its verdict (§4.18).
type SecurityClassifier interface {
	Classify(ctx context.Context, artifact string) (risk SecurityRisk, reason string)
}

// patternClassifier is the deterministic default implementation: a fixed
// set of regular expressions over common unsafe constructs. It makes no
// model call, so it is always available even when no agent dispatcher is
// configured.
type patternClassifier struct{}

// NewPatternClassifier returns the default pattern-based SecurityClassifier.
func NewPatternClassifier() SecurityClassifier { return patternClassifier{} }

var highRiskPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)\bos\.exec|exec\.Command|shell_exec|subprocess\.(call|run|Popen)\b`), "unchecked shell invocation"},
	{regexp.MustCompile(`(?i)\beval\s*\(|exec\s*\(`), "dynamic code evaluation"},
	{regexp.MustCompile(`(?i)\bDROP\s+TABLE|DELETE\s+FROM\s+\w+\s*;?\s*$`), "unguarded destructive SQL"},
	{regexp.MustCompile(`(?i)\bdisable.{0,20}(tls|ssl|cert|verification)\b`), "disables transport security"},
	{regexp.MustCompile(`(?i)\bhardcoded (password|secret|api[_ ]?key)\b`), "hardcoded credential"},
}

var lowRiskPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)\bos\.Remove|shutil\.rmtree\b`), "file deletion"},
	{regexp.MustCompile(`(?i)\bhttp\.Get|http\.Post|net/http\b`), "outbound network call"},
}

func (patternClassifier) Classify(ctx context.Context, artifact string) (SecurityRisk, string) {
	for _, p := range highRiskPatterns {
		if p.re.MatchString(artifact) {
			return SecurityRiskHigh, p.reason
		}
	}
	for _, p := range lowRiskPatterns {
		if p.re.MatchString(artifact) {
			return SecurityRiskLow, p.reason
		}
	}
	if strings.TrimSpace(artifact) == "" {
		return SecurityRiskNone, ""
	}
	return SecurityRiskNone, ""
}
