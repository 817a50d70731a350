package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Match  string
}

// Redactor replaces detected secrets with [REDACTED:<rule-id>] markers.
// The marker keeps enough context for embeddings without the value.
type Redactor struct {
	allow  []*regexp.Regexp
	logger *zap.Logger
}

// NewRedactor compiles the allowlist. A nil allowlist is allowed.
func NewRedactor(allowlist *Allowlist, logger *zap.Logger) (*Redactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Redactor{logger: logger}
	if allowlist != nil {
		for _, pattern := range allowlist.Regexes {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
			}
			r.allow = append(r.allow, re)
		}
	}
	return r, nil
}

// Detect scans content with the default Gitleaks rules.
func (r *Redactor) Detect(content string) ([]Finding, error) {
	// Detectors accumulate findings across calls, so each scan gets its own.
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("create detector: %w", err)
	}
	if len(r.allow) > 0 {
		list := &gitleaksConfig.Allowlist{Description: "conductor allowlist"}
		for _, re := range r.allow {
			list.Regexes = append(list.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		detector.Config.Allowlists = append(detector.Config.Allowlists, list)
	}

	found := detector.DetectString(content)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		out = append(out, Finding{RuleID: f.RuleID, Line: f.StartLine, Match: f.Secret})
	}
	return out, nil
}

// Redact returns content with every finding replaced, and the findings.
// Longer matches are replaced first so overlapping secrets are fully masked.
func (r *Redactor) Redact(content string) (string, []Finding, error) {
	findings, err := r.Detect(content)
	if err != nil {
		return content, nil, err
	}
	if len(findings) == 0 {
		return content, nil, nil
	}

	ordered := make([]Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Match) > len(ordered[j].Match)
	})
	for _, f := range ordered {
		content = strings.ReplaceAll(content, f.Match, "[REDACTED:"+f.RuleID+"]")
	}
	return content, findings, nil
}

// Scrub is Redact for callers that only want the text. On detector failure
// the input is returned unchanged and the error is logged.
func (r *Redactor) Scrub(content string) string {
	out, findings, err := r.Redact(content)
	if err != nil {
		r.logger.Warn("secret detection failed", zap.Error(err))
		return content
	}
	if len(findings) > 0 {
		rules := make([]string, 0, len(findings))
		for _, f := range findings {
			rules = append(rules, f.RuleID)
		}
		r.logger.Info("redacted secrets", zap.Int("count", len(findings)), zap.Strings("rules", rules))
	}
	return out
}
