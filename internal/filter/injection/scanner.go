package injection

import (
	"context"

	"github.com/af-corp/prompt-gateway/internal/config"
	"github.com/af-corp/prompt-gateway/internal/filter"
)

// Scanner rejects prompts matching known injection or jailbreak phrasing.
type Scanner struct {
	rules []Rule
	cfg   func() config.InjectionFilterConfig
}

// NewScanner creates a prompt injection scanner with the default rules.
func NewScanner(cfg func() config.InjectionFilterConfig) *Scanner {
	return NewScannerWithRules(DefaultRules(), cfg)
}

// NewScannerWithRules creates a scanner evaluating rules in the given order.
func NewScannerWithRules(rules []Rule, cfg func() config.InjectionFilterConfig) *Scanner {
	return &Scanner{rules: rules, cfg: cfg}
}

func (s *Scanner) Name() string  { return "injection" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// Match returns the first rule matching text. Later rules are not evaluated.
func (s *Scanner) Match(text string) (Rule, bool) {
	for _, r := range s.rules {
		if r.Regex.MatchString(text) {
			return r, true
		}
	}
	return Rule{}, false
}

// Scan implements filter.Filter.
func (s *Scanner) Scan(_ context.Context, prompt string) filter.Result {
	rule, ok := s.Match(prompt)
	if !ok {
		return filter.Result{Action: filter.ActionPass, FilterName: "injection"}
	}
	return filter.Result{
		Action:     filter.ActionBlock,
		FilterName: "injection",
		Pattern:    rule.Name,
		Message:    "prompt injection detected (" + rule.Category + ")",
	}
}
